package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lcoreIndexer/internal/config"
	"lcoreIndexer/internal/contracts"
	"lcoreIndexer/internal/model"
	"lcoreIndexer/internal/storage"
)

type decodedEvent struct {
	Kind  model.EventKind `json:"kind"`
	Event model.Event     `json:"event"`
}

type decodeStats struct {
	total, decoded, skipped, failed int
}

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	decoder, err := contracts.NewDecoder(cfg.Source, cfg.Kind)
	if err != nil {
		return err
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	out, err := newJSONLWriter(cfg.Out)
	if err != nil {
		return err
	}
	defer out.Close()

	var sink *storage.DecodeErrorLog
	if cfg.Errors != "" {
		sink = storage.NewDecodeErrorLog(cfg.Errors)
	}

	logger.Info("decode start",
		zap.String("kind", string(cfg.Kind)),
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
	)

	stats, err := decodeLogs(inputFile, decoder, out, sink, logger)
	if err != nil {
		return err
	}

	logger.Info("decode complete",
		zap.Int("total", stats.total),
		zap.Int("decoded", stats.decoded),
		zap.Int("skipped", stats.skipped),
		zap.Int("failed", stats.failed),
	)
	return nil
}

func decodeLogs(in io.Reader, decoder *contracts.Decoder, out *jsonlWriter, sink *storage.DecodeErrorLog, logger *zap.Logger) (decodeStats, error) {
	var stats decodeStats

	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.total++

		var record model.RawLog
		if err := json.Unmarshal(line, &record); err != nil {
			stats.failed++
			logger.Warn("skipping malformed line", zap.Int("line", stats.total), zap.Error(err))
			continue
		}

		event, err := decoder.Decode(record)
		if err != nil {
			stats.failed++
			if sink != nil {
				var decodeErr *model.DecodeError
				if !errors.As(err, &decodeErr) {
					decodeErr = model.NewDecodeError(string(decoder.Kind()), record, err)
				}
				if err := sink.PutDecodeErrors([]*model.DecodeError{decodeErr}); err != nil {
					return stats, err
				}
			}
			continue
		}
		if event.Kind() == model.KindUnknown {
			stats.skipped++
			continue
		}

		if err := out.Write(decodedEvent{Kind: event.Kind(), Event: event}); err != nil {
			return stats, err
		}
		stats.decoded++
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scan input: %w", err)
	}
	return stats, nil
}
