// Package store implements the durable state store.
//
// Two responsibilities share one Postgres database:
//
//   - the idempotency mapping (correlation_id, symbol) -> broker_order_id,
//     the sole source of truth for "have we already handled this order";
//     it survives restarts and is never deleted by the gateway
//   - append-only, timestamped snapshots of live broker state (positions,
//     open orders, PnL) for crash recovery and audit, queried by most
//     recent snapshot
//
// In-memory implementations back component tests.
package store
