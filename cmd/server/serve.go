package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	httpapi "github.com/execution-hub/serial-reservation/internal/api/http"
	"github.com/execution-hub/serial-reservation/internal/application/authority"
	appSession "github.com/execution-hub/serial-reservation/internal/application/session"
	"github.com/execution-hub/serial-reservation/internal/application/stock"
	"github.com/execution-hub/serial-reservation/internal/clock"
	"github.com/execution-hub/serial-reservation/internal/config"
	"github.com/execution-hub/serial-reservation/internal/domain/token"
	"github.com/execution-hub/serial-reservation/internal/infrastructure/memory"
	"github.com/execution-hub/serial-reservation/internal/infrastructure/postgres"
	"github.com/execution-hub/serial-reservation/internal/infrastructure/raftstore"
	"github.com/execution-hub/serial-reservation/internal/infrastructure/sse"
	"github.com/execution-hub/serial-reservation/internal/infrastructure/telemetry"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reservation server",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	bind := func(key, flag string) { mustBindFlag(key, f.Lookup(flag)) }

	f.String("addr", "0.0.0.0:8080", "Listen address")
	bind(config.ServerAddrKey, "addr")
	f.String("store", config.StoreMemory, "Token store backend (memory, postgres, raft)")
	bind(config.StoreKey, "store")
	f.String("database-url", "", "Postgres DSN for the postgres store")
	bind(config.DatabaseURLKey, "database-url")
	f.Duration("idle-timeout", authority.DefaultIdleTimeout, "Release reservations idle this long (0 disables)")
	bind(config.IdleTimeoutKey, "idle-timeout")
	f.Duration("sweep-interval", authority.DefaultSweepInterval, "How often idle reservations are swept")
	bind(config.SweepIntervalKey, "sweep-interval")
	f.Int("queue-size", sse.DefaultQueueSize, "Outbound events buffered per session")
	bind(config.QueueSizeKey, "queue-size")
	f.String("low-stock-rule", stock.DefaultRule, "Expression that flags a category as low on stock")
	bind(config.LowStockRuleKey, "low-stock-rule")
	f.String("raft-node-id", "node-1", "Raft node id")
	bind(config.RaftNodeIDKey, "raft-node-id")
	f.String("raft-addr", "127.0.0.1:7000", "Raft bind address")
	bind(config.RaftAddrKey, "raft-addr")
	f.String("raft-data-dir", "data/raft", "Raft data directory")
	bind(config.RaftDataDirKey, "raft-data-dir")
	f.Bool("raft-bootstrap", false, "Bootstrap a new single-node raft cluster")
	bind(config.RaftBootstrapKey, "raft-bootstrap")
	f.StringSlice("raft-peer", nil, "Voter to add once leader, as id=addr (repeatable)")
	bind(config.RaftPeersKey, "raft-peer")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		bundle, err := telemetry.Setup(ctx, telemetry.Config{ServiceName: "serial-reservation", RuntimeMetrics: true}, logger)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = bundle.Shutdown(sctx)
		}()
		metricsHandler = bundle.Handler()
	}

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// infrastructure
	hub := sse.NewHub(logger, sse.WithQueueSize(cfg.QueueSize))

	// services
	auth := authority.New(store, hub, logger,
		authority.WithIdleTimeout(cfg.IdleTimeout),
		authority.WithSweepInterval(cfg.SweepInterval),
		authority.WithCommitTimeout(cfg.CommitTimeout),
	)
	auth.Start(context.Background())
	defer auth.Stop()

	tracker := appSession.NewTracker(auth, clock.Real{}, logger)
	hub.SetEvictHandler(func(id uuid.UUID) {
		released, err := tracker.Terminate(context.Background(), id)
		if err != nil {
			logger.Warn().Err(err).Str("session_id", id.String()).Msg("release after eviction failed")
			return
		}
		logger.Warn().Str("session_id", id.String()).Strs("released", released).Msg("slow session evicted")
	})

	monitor, err := stock.NewMonitor(auth, hub, cfg.LowStockRule, clock.Real{}, logger)
	if err != nil {
		return err
	}
	go monitor.Run(ctx, cfg.LowStockInterval)

	if err := auth.Load(ctx, cfg.DefaultCategory); err != nil {
		logger.Warn().Err(err).Str("category", cfg.DefaultCategory).Msg("preload failed, will retry on first use")
	}

	// API server
	api := httpapi.NewServer(httpapi.Deps{
		Authority: auth,
		Tracker:   tracker,
		Hub:       hub,
		Store:     store,
		Monitor:   monitor,
		Metrics:   metricsHandler,
		Logger:    logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("store", cfg.Store).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	// graceful shutdown: streams end first so Shutdown does not wait on them
	logger.Info().Msg("shutting down")
	hub.Stop()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func buildStore(ctx context.Context, cfg *config.Config) (token.AdminStore, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db error: %w", err)
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migration error: %w", err)
		}
		return postgres.NewTokenStore(pool), pool.Close, nil

	case config.StoreRaft:
		node, err := raftstore.NewNode(raftstore.Config{
			NodeID:    cfg.Raft.NodeID,
			RaftAddr:  cfg.Raft.Addr,
			DataDir:   cfg.Raft.DataDir,
			Bootstrap: cfg.Raft.Bootstrap,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("raft error: %w", err)
		}
		wctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		leader, err := node.WaitForLeader(wctx, 200*time.Millisecond)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("no raft leader yet")
		} else {
			logger.Info().Str("leader", leader).Str("state", node.State()).Msg("raft ready")
		}
		if node.IsLeader() {
			for _, p := range cfg.Raft.Peers {
				id, addr, _ := strings.Cut(p, "=")
				if err := node.AddVoter(ctx, strings.TrimSpace(id), strings.TrimSpace(addr)); err != nil {
					logger.Warn().Err(err).Str("peer", p).Msg("add raft voter failed")
				}
			}
		}
		closeFn := func() {
			if err := node.Shutdown(); err != nil {
				logger.Warn().Err(err).Msg("raft shutdown")
			}
		}
		return raftstore.NewStore(node), closeFn, nil

	default:
		logger.Warn().Msg("using in-memory token store; data is lost on restart")
		return memory.NewTokenStore(), func() {}, nil
	}
}
