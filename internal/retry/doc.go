// Package retry implements the Retry Registry component.
//
// The registry gates reprocessing of a logical message key after
// retry-worthy broker errors: each error advances an exponential backoff
// clock for that key, a success clears the key entirely. Non-retryable
// error codes never touch registry state.
package retry
