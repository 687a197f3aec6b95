package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lcoreIndexer/internal/chain"
	"lcoreIndexer/internal/config"
)

func runDump(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDump(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	address, err := config.ParseAddress(cfg.Address)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient := chain.NewClient(cfg.WSURL)
	defer chainClient.Close()

	head, err := chainClient.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get latest block: %w", err)
	}
	if cfg.FromBlock > head {
		logger.Info("nothing to dump", zap.Uint64("from", cfg.FromBlock), zap.Uint64("head", head))
		return nil
	}

	out, err := newJSONLWriter(cfg.Out)
	if err != nil {
		return err
	}
	defer out.Close()

	logSource := chain.NewLogSource(chainClient, chain.SourceConfig{
		PageSize:     cfg.PageSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		RateLimit:    cfg.RateLimit,
	}, logger)

	stream, err := logSource.Open(ctx, chain.Subscription{Source: cfg.Source, Address: address, FromBlock: cfg.FromBlock})
	if err != nil {
		return err
	}
	defer stream.Close()

	var written int
	for {
		item, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if item.CaughtUp {
			logger.Info("dump complete",
				zap.String("address", address.Hex()),
				zap.Uint64("from", cfg.FromBlock),
				zap.Uint64("to", item.Block),
				zap.Int("logs", written),
				zap.String("out", cfg.Out),
			)
			return nil
		}
		if err := out.Write(item.Log); err != nil {
			return err
		}
		written++
	}
}
