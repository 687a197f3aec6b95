package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "L{CORE} contract event indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest contract events into the database",
		RunE:  runIndexer,
	}

	runCmd.Flags().String("ws-url", "", "websocket JSON-RPC endpoint")
	runCmd.Flags().String("database-url", "", "Postgres URL")
	runCmd.Flags().String("store", "postgres", "event store (postgres, memory)")
	runCmd.Flags().Uint64("start-block", 0, "default first block for sources without a cursor")
	runCmd.Flags().String("verifier-registry-address", "", "VerifierRegistry contract address")
	runCmd.Flags().String("device-registry-address", "", "DeviceRegistry contract address")
	runCmd.Flags().String("iot-pipeline-address", "", "IoTDataPipeline contract address")
	runCmd.Flags().Uint64("page-size", 2000, "blocks per eth_getLogs request during catch-up")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts per RPC request")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial RPC retry backoff")
	runCmd.Flags().Int("rate-limit", 10, "catch-up requests per second, 0 for unlimited")
	runCmd.Flags().Duration("backoff-initial", time.Second, "first reconnect delay")
	runCmd.Flags().Duration("backoff-max", time.Minute, "maximum reconnect delay")
	runCmd.Flags().Duration("idle-flush", 2*time.Second, "flush a live block after this long without new logs")
	runCmd.Flags().String("health-addr", ":8090", "listen address for /healthz and /metrics, empty to disable")
	runCmd.Flags().String("decode-errors", "./data/decode_errors.jsonl", "decode errors JSONL, empty to disable")
	runCmd.Flags().Bool("auto-migrate", true, "apply database migrations on start")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE:  runMigrate,
	}

	migrateCmd.Flags().String("database-url", "", "Postgres URL")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(migrateCmd)

	cursorCmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or set source cursors",
	}
	cursorCmd.PersistentFlags().String("database-url", "", "Postgres URL")
	cursorCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	cursorCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List source cursors",
		Args:  cobra.NoArgs,
		RunE:  runCursorList,
	})
	cursorCmd.AddCommand(&cobra.Command{
		Use:   "set <source> <block>",
		Short: "Set the last processed block of a source",
		Args:  cobra.ExactArgs(2),
		RunE:  runCursorSet,
	})

	root.AddCommand(cursorCmd)

	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Write the raw logs of one contract up to the chain head as JSONL",
		RunE:  runDump,
	}

	dumpCmd.Flags().String("ws-url", "", "websocket JSON-RPC endpoint")
	dumpCmd.Flags().String("source", "", "source name recorded in logs")
	dumpCmd.Flags().String("address", "", "contract address")
	dumpCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	dumpCmd.Flags().String("out", "./data/logs.jsonl", "output JSONL path")
	dumpCmd.Flags().Uint64("page-size", 2000, "blocks per eth_getLogs request")
	dumpCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	dumpCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	dumpCmd.Flags().Int("rate-limit", 10, "requests per second, 0 for unlimited")
	dumpCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(dumpCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw logs JSONL into typed events",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("kind", "", "contract kind (verifier_registry, device_registry, iot_pipeline)")
	decodeCmd.Flags().String("source", "", "source name, defaults to the kind")
	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/events.jsonl", "output typed events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
