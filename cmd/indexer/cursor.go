package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lcoreIndexer/internal/config"
	"lcoreIndexer/internal/ingest"
)

func openCursorStore(cmd *cobra.Command) (*ingest.CursorStore, func(), *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadStore(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := openStore(cmd.Context(), cfg.Store, cfg.DatabaseURL, false, logger)
	if err != nil {
		logger.Sync()
		return nil, nil, nil, err
	}

	closeFn := func() {
		store.Close()
		logger.Sync()
	}
	return ingest.NewCursorStore(store), closeFn, logger, nil
}

func runCursorList(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)

	cursors, closeFn, _, err := openCursorStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	list, err := cursors.List(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "no cursors")
		return nil
	}
	for _, cursor := range list {
		fmt.Fprintf(out, "%s\t%d\t%s\n", cursor.Source, cursor.Block, cursor.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func runCursorSet(cmd *cobra.Command, args []string) error {
	source := args[0]
	block, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid block %q: %w", args[1], err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)

	cursors, closeFn, logger, err := openCursorStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	previous, ok, err := cursors.Load(ctx, source)
	if err != nil {
		return err
	}
	if err := cursors.Store(ctx, source, block); err != nil {
		return err
	}

	fields := []zap.Field{zap.String("source", source), zap.Uint64("block", block)}
	if ok {
		fields = append(fields, zap.Uint64("previous", previous))
	}
	logger.Info("cursor set", fields...)
	return nil
}
