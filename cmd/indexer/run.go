package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lcoreIndexer/internal/chain"
	"lcoreIndexer/internal/config"
	"lcoreIndexer/internal/contracts"
	"lcoreIndexer/internal/ingest"
	"lcoreIndexer/internal/metrics"
	"lcoreIndexer/internal/storage"
)

func runIndexer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := waitStore(ctx, cfg.Store, cfg.DatabaseURL, cfg.AutoMigrate, cfg.BackoffInitial, cfg.BackoffMax, logger)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer store.Close()

	chainClient := chain.NewClient(cfg.WSURL)
	defer chainClient.Close()
	logChainID(ctx, chainClient, logger)

	sources := make([]ingest.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		decoder, err := contracts.NewDecoder(src.Name, src.Kind)
		if err != nil {
			return fmt.Errorf("source %s: %w", src.Name, err)
		}
		sources = append(sources, ingest.Source{
			Name:       src.Name,
			Address:    src.Address,
			StartBlock: src.StartBlock,
			Decoder:    decoder,
		})
		logger.Info("source configured",
			zap.String("source", src.Name),
			zap.String("kind", string(src.Kind)),
			zap.String("address", src.Address.Hex()),
			zap.Uint64("start_block", src.StartBlock),
		)
	}

	logSource := chain.NewLogSource(chainClient, chain.SourceConfig{
		PageSize:     cfg.PageSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		RateLimit:    cfg.RateLimit,
		IdleFlush:    cfg.IdleFlush,
	}, logger.Named("chain"))

	var sink ingest.DecodeErrorSink
	if cfg.DecodeErrors != "" {
		sink = storage.NewDecodeErrorLog(cfg.DecodeErrors)
	}

	supervisor, err := ingest.NewSupervisor(
		ingest.Config{
			BackoffInitial: cfg.BackoffInitial,
			BackoffMax:     cfg.BackoffMax,
		},
		sources,
		logSource,
		ingest.NewWriter(store),
		ingest.NewCursorStore(store),
		sink,
		metrics.NewIngest(),
		logger.Named("ingest"),
	)
	if err != nil {
		return err
	}

	var server *http.Server
	if cfg.HealthAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/healthz", supervisor.Health())
		mux.Handle("/metrics", promhttp.Handler())

		server = &http.Server{Addr: cfg.HealthAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("indexer start",
		zap.Int("sources", len(sources)),
		zap.String("store", cfg.Store),
		zap.Uint64("page_size", cfg.PageSize),
		zap.Duration("backoff_initial", cfg.BackoffInitial),
		zap.Duration("backoff_max", cfg.BackoffMax),
		zap.String("health_addr", cfg.HealthAddr),
	)

	runErr := supervisor.Run(ctx)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("health server shutdown", zap.Error(err))
		}
	}

	logger.Info("indexer stopped")
	return runErr
}

// logChainID reports the chain of the node when it answers. An unreachable
// node is left to the source loops, which retry with backoff.
func logChainID(ctx context.Context, client *chain.Client, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	chainID, err := client.GetChainID(ctx)
	if err != nil {
		logger.Warn("chain id unavailable, node may be down", zap.Error(err))
		return
	}
	logger.Info("connected to chain", zap.String("chain_id", chainID.String()))
}
