// Package bus provides the gateway's message-bus endpoints.
//
// Ingest is a WebSocket server that strategy processes connect to and
// push trade instruction envelopes through. Frames from all producers
// funnel into one ordered channel; when the gateway falls behind, reads
// block and backpressure reaches the producers instead of dropping
// instructions.
//
// Publisher is a WebSocket fan-out server for acknowledgements.
// Subscribers that cannot keep up have frames dropped rather than
// stalling the gateway.
package bus
