package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/zveasy/trading-app/internal/broker"
	"github.com/zveasy/trading-app/internal/bus"
	"github.com/zveasy/trading-app/internal/config"
	"github.com/zveasy/trading-app/internal/database"
	"github.com/zveasy/trading-app/internal/gateway"
	"github.com/zveasy/trading-app/internal/metrics"
	"github.com/zveasy/trading-app/internal/retry"
	"github.com/zveasy/trading-app/internal/session"
	"github.com/zveasy/trading-app/internal/store"
	"github.com/zveasy/trading-app/internal/throttle"
	"github.com/zveasy/trading-app/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/gateway.local.yaml", "path to config file")
	envPath := flag.String("env", "", "optional .env file with secrets")
	flag.Parse()

	if *envPath != "" {
		_ = godotenv.Load(*envPath)
	} else {
		_ = godotenv.Load()
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting gateway",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"broker_url", cfg.Broker.URL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Durable state
	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	mappings := store.NewPostgresMappings(pool, logger)
	if err := mappings.Init(ctx); err != nil {
		logger.Error("failed to init mapping store", "error", err)
		os.Exit(1)
	}
	snapshots := store.NewPostgresSnapshots(pool, logger)
	if err := snapshots.Init(ctx); err != nil {
		logger.Error("failed to init snapshot store", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// Broker session
	sess := session.NewManager(session.Config{
		ClientID:           cfg.Broker.ClientID,
		HandshakeTimeout:   cfg.Broker.HandshakeTimeout,
		AllocTimeout:       cfg.Broker.AllocTimeout,
		IDBlockSize:        cfg.Broker.IDBlockSize,
		ReconnectBaseDelay: cfg.Broker.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Broker.ReconnectMaxDelay,
	}, func() broker.Client {
		clientCfg := broker.DefaultClientConfig()
		clientCfg.URL = cfg.Broker.URL
		clientCfg.PingTimeout = cfg.Broker.PingTimeout
		clientCfg.WriteTimeout = cfg.Broker.WriteTimeout
		return broker.NewClient(clientCfg, logger)
	}, logger)

	logger.Info("connecting to broker", "url", cfg.Broker.URL, "client_id", cfg.Broker.ClientID)
	if err := sess.Connect(ctx); err != nil {
		logger.Error("broker handshake failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		sess.Close(closeCtx)
	}()

	// Bus endpoints
	ingest := bus.NewIngest(bus.IngestConfig{
		Addr:       cfg.Bus.IngestAddr,
		BufferSize: cfg.Bus.BufferSize,
	}, logger)
	if err := ingest.Start(ctx); err != nil {
		logger.Error("failed to start ingest server", "error", err)
		os.Exit(1)
	}

	publisher := bus.NewPublisher(bus.PublisherConfig{
		Addr:       cfg.Bus.PublishAddr,
		BufferSize: cfg.Bus.BufferSize,
	}, logger)
	if err := publisher.Start(ctx); err != nil {
		logger.Error("failed to start ack publisher", "error", err)
		os.Exit(1)
	}

	// Gateway loop
	m := metrics.New()
	validator, err := gateway.NewValidator(cfg.Limits)
	if err != nil {
		logger.Error("bad validation limits", "error", err)
		os.Exit(1)
	}
	registry := retry.NewRegistry(retry.Config{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BaseDelay:      cfg.Retry.BaseDelay,
		CapDelay:       cfg.Retry.CapDelay,
		RetryableCodes: retryableCodes(cfg.Retry.RetryableCodes),
	})
	thr := throttle.New(throttle.Config{
		MaxOrdersPerSec: cfg.Throttle.MaxOrdersPerSec,
		MaxNotional:     cfg.Throttle.MaxNotional,
	})

	gw := gateway.New(
		gateway.Config{OutcomeWait: cfg.Broker.OutcomeWait},
		ingest.Messages(),
		sess,
		mappings,
		registry,
		thr,
		validator,
		publisher,
		m,
		logger,
	)
	if err := gw.Start(ctx); err != nil {
		logger.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}

	// Periodic snapshots of live broker state
	var runner *store.Runner
	if cfg.Snapshots.Enabled {
		runner = store.NewRunner(store.RunnerConfig{
			Interval:     cfg.Snapshots.Interval,
			WriteTimeout: cfg.Snapshots.WriteTimeout,
		}, sess, snapshots, logger)
		if err := runner.Start(ctx); err != nil {
			logger.Error("failed to start snapshot runner", "error", err)
			os.Exit(1)
		}
	}

	// Metrics and health endpoint
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, m.Handler())
	mux.Handle("/health", healthHandler(pool, sess, publisher))
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}
	go func() {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Session gauges
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SessionState.Set(float64(sess.State()))
				m.PendingOrders.Set(float64(sess.PendingCount()))
			}
		}
	}()

	logger.Info("gateway running",
		"instance_id", cfg.Instance.ID,
		"ingest_addr", ingest.Addr(),
		"publish_addr", publisher.Addr(),
	)

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting instructions, drain the loop, then tear the rest
	// down. The snapshot runner writes a final snapshot on Stop.
	ingest.Stop(shutdownCtx)
	gw.Stop(shutdownCtx)
	if runner != nil {
		runner.Stop(shutdownCtx)
	}
	publisher.Stop(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)

	logger.Info("gateway stopped")
}

func retryableCodes(codes []int) map[int]struct{} {
	if len(codes) == 0 {
		return nil
	}
	out := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		out[c] = struct{}{}
	}
	return out
}

// healthHandler reports component health as JSON.
func healthHandler(pool *pgxpool.Pool, sess *session.Manager, publisher *bus.Publisher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		state := sess.State()
		health.Components["broker_session"] = map[string]any{
			"state":   state.String(),
			"pending": sess.PendingCount(),
		}
		if state != session.StateConnected {
			health.Status = "degraded"
		}

		health.Components["ack_subscribers"] = publisher.Subscribers()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
}
