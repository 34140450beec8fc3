package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RunnerConfig controls the periodic snapshot loop.
type RunnerConfig struct {
	// Interval between snapshots.
	Interval time.Duration

	// WriteTimeout bounds each snapshot write.
	WriteTimeout time.Duration
}

// DefaultRunnerConfig returns sensible snapshot runner defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Interval:     30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Runner periodically captures a Snapshot from a Source and persists it.
type Runner struct {
	cfg    RunnerConfig
	source Source
	sink   Snapshots
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a snapshot runner. logger may be nil.
func NewRunner(cfg RunnerConfig, source Source, sink Snapshots, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRunnerConfig().Interval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultRunnerConfig().WriteTimeout
	}
	return &Runner{
		cfg:    cfg,
		source: source,
		sink:   sink,
		logger: logger,
	}
}

// Start launches the snapshot loop.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go r.loop(loopCtx)

	r.logger.Info("snapshot runner started", "interval", r.cfg.Interval)
	return nil
}

// Stop halts the loop and writes one final snapshot.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.capture(ctx)
	r.logger.Info("snapshot runner stopped")
	return nil
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.capture(ctx)
		}
	}
}

func (r *Runner) capture(ctx context.Context) {
	snap := r.source.Snapshot()
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.WriteTimeout)
	defer cancel()

	if err := r.sink.Write(writeCtx, snap); err != nil {
		r.logger.Error("snapshot write failed", "error", err)
		return
	}

	r.logger.Debug("snapshot written",
		"positions", len(snap.Positions),
		"orders", len(snap.Orders),
		"pnl", len(snap.PnL))
}
