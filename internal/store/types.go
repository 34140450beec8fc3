package store

import (
	"context"
	"time"
)

// Key is the composite idempotency key. A reused correlation id against a
// different symbol is a distinct logical order.
type Key struct {
	CorrelationID string
	Symbol        string
}

// Status tags a mapping row.
type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusUpdated   Status = "UPDATED"
)

// Mappings is the durable correlation-id -> broker-order-id mapping.
type Mappings interface {
	// Load returns the full mapping (startup scan).
	Load(ctx context.Context) (map[Key]int64, error)

	// Upsert inserts or updates a single mapping atomically.
	Upsert(ctx context.Context, key Key, brokerOrderID int64, status Status) error
}

// PositionRow is one account position at snapshot time.
type PositionRow struct {
	Account  string
	Symbol   string
	Position float64
	AvgCost  float64
}

// OrderRow is one broker-reported open order at snapshot time.
type OrderRow struct {
	OrderID      int64
	Status       string
	Filled       float64
	Remaining    float64
	AvgFillPrice float64
}

// PnLRow is one symbol's portfolio line at snapshot time.
type PnLRow struct {
	Symbol        string
	Position      float64
	MarketPrice   float64
	MarketValue   float64
	AvgCost       float64
	UnrealizedPnL float64
	RealizedPnL   float64
}

// Snapshot is one point-in-time capture of live broker state.
type Snapshot struct {
	TakenAt   time.Time
	Positions []PositionRow
	Orders    []OrderRow
	PnL       []PnLRow
}

// Snapshots is the append-only snapshot store.
type Snapshots interface {
	// Write appends one snapshot's rows, all under snap.TakenAt.
	Write(ctx context.Context, snap Snapshot) error

	// LoadLatest returns the most recent snapshot, or nil when none exists.
	LoadLatest(ctx context.Context) (*Snapshot, error)
}

// Source provides the live state the snapshot runner captures.
type Source interface {
	Snapshot() Snapshot
}
