package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSnapshots stores append-only state snapshots in Postgres.
type PostgresSnapshots struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresSnapshots creates a snapshot store backed by db.
func NewPostgresSnapshots(db *pgxpool.Pool, logger *slog.Logger) *PostgresSnapshots {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSnapshots{db: db, logger: logger}
}

// Init creates the snapshot tables if they do not exist.
func (s *PostgresSnapshots) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshot_positions (
			snapshot_ts TIMESTAMPTZ      NOT NULL,
			account     TEXT             NOT NULL,
			symbol      TEXT             NOT NULL,
			position    DOUBLE PRECISION NOT NULL,
			avg_cost    DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshot_orders (
			snapshot_ts    TIMESTAMPTZ      NOT NULL,
			order_id       BIGINT           NOT NULL,
			status         TEXT             NOT NULL,
			filled         DOUBLE PRECISION NOT NULL,
			remaining      DOUBLE PRECISION NOT NULL,
			avg_fill_price DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshot_pnl (
			snapshot_ts    TIMESTAMPTZ      NOT NULL,
			symbol         TEXT             NOT NULL,
			position       DOUBLE PRECISION NOT NULL,
			market_price   DOUBLE PRECISION NOT NULL,
			market_value   DOUBLE PRECISION NOT NULL,
			avg_cost       DOUBLE PRECISION NOT NULL,
			unrealized_pnl DOUBLE PRECISION NOT NULL,
			realized_pnl   DOUBLE PRECISION NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create snapshot tables: %w", err)
		}
	}
	return nil
}

// Write appends one snapshot's rows in a single batch.
func (s *PostgresSnapshots) Write(ctx context.Context, snap Snapshot) error {
	batch := &pgx.Batch{}
	for _, p := range snap.Positions {
		batch.Queue(`
			INSERT INTO snapshot_positions (snapshot_ts, account, symbol, position, avg_cost)
			VALUES ($1, $2, $3, $4, $5)
		`, snap.TakenAt, p.Account, p.Symbol, p.Position, p.AvgCost)
	}
	for _, o := range snap.Orders {
		batch.Queue(`
			INSERT INTO snapshot_orders (snapshot_ts, order_id, status, filled, remaining, avg_fill_price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, snap.TakenAt, o.OrderID, o.Status, o.Filled, o.Remaining, o.AvgFillPrice)
	}
	for _, p := range snap.PnL {
		batch.Queue(`
			INSERT INTO snapshot_pnl (snapshot_ts, symbol, position, market_price, market_value, avg_cost, unrealized_pnl, realized_pnl)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, snap.TakenAt, p.Symbol, p.Position, p.MarketPrice, p.MarketValue, p.AvgCost, p.UnrealizedPnL, p.RealizedPnL)
	}

	if batch.Len() == 0 {
		return nil
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("write snapshot row: %w", err)
		}
	}
	return nil
}

// LoadLatest returns the most recent snapshot, or nil when none exists.
func (s *PostgresSnapshots) LoadLatest(ctx context.Context) (*Snapshot, error) {
	var ts *time.Time
	if err := s.db.QueryRow(ctx,
		`SELECT max(snapshot_ts) FROM snapshot_positions`).Scan(&ts); err != nil {
		return nil, fmt.Errorf("query latest snapshot ts: %w", err)
	}
	if ts == nil {
		return nil, nil
	}

	snap := &Snapshot{TakenAt: *ts}

	rows, err := s.db.Query(ctx, `
		SELECT account, symbol, position, avg_cost
		FROM snapshot_positions WHERE snapshot_ts = $1
	`, *ts)
	if err != nil {
		return nil, fmt.Errorf("load snapshot positions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p PositionRow
		if err := rows.Scan(&p.Account, &p.Symbol, &p.Position, &p.AvgCost); err != nil {
			return nil, fmt.Errorf("scan snapshot position: %w", err)
		}
		snap.Positions = append(snap.Positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orderRows, err := s.db.Query(ctx, `
		SELECT order_id, status, filled, remaining, avg_fill_price
		FROM snapshot_orders WHERE snapshot_ts = $1
	`, *ts)
	if err != nil {
		return nil, fmt.Errorf("load snapshot orders: %w", err)
	}
	defer orderRows.Close()
	for orderRows.Next() {
		var o OrderRow
		if err := orderRows.Scan(&o.OrderID, &o.Status, &o.Filled, &o.Remaining, &o.AvgFillPrice); err != nil {
			return nil, fmt.Errorf("scan snapshot order: %w", err)
		}
		snap.Orders = append(snap.Orders, o)
	}
	if err := orderRows.Err(); err != nil {
		return nil, err
	}

	pnlRows, err := s.db.Query(ctx, `
		SELECT symbol, position, market_price, market_value, avg_cost, unrealized_pnl, realized_pnl
		FROM snapshot_pnl WHERE snapshot_ts = $1
	`, *ts)
	if err != nil {
		return nil, fmt.Errorf("load snapshot pnl: %w", err)
	}
	defer pnlRows.Close()
	for pnlRows.Next() {
		var p PnLRow
		if err := pnlRows.Scan(&p.Symbol, &p.Position, &p.MarketPrice, &p.MarketValue, &p.AvgCost, &p.UnrealizedPnL, &p.RealizedPnL); err != nil {
			return nil, fmt.Errorf("scan snapshot pnl: %w", err)
		}
		snap.PnL = append(snap.PnL, p)
	}
	if err := pnlRows.Err(); err != nil {
		return nil, err
	}

	return snap, nil
}
