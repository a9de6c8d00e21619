package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"swapsequencer/internal/builder"
	"swapsequencer/internal/config"
	"swapsequencer/internal/feed"
	"swapsequencer/internal/operator"
	"swapsequencer/internal/space"
	"swapsequencer/internal/storage"
	"swapsequencer/internal/storage/postgres"
	"swapsequencer/internal/verifier"
)

func main() {
	root := &cobra.Command{
		Use:          "sequencer",
		Short:        "Off-chain swap module sequencer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sequencer against a live event feed",
		RunE:  runSequencer,
	}

	runCmd.Flags().String("module", "", "module inscription id")
	runCmd.Flags().String("feed-url", "", "module event feed base URL")
	runCmd.Flags().String("chain-net", "mainnet", "bitcoin network (mainnet, testnet)")
	runCmd.Flags().String("gas-price", "0", "gas charged per function, 0 disables")
	runCmd.Flags().Bool("fee-on", true, "mint protocol fee LP on pool growth")
	runCmd.Flags().String("decimals", "", "tick decimals overrides (comma-separated tick=n)")
	runCmd.Flags().Uint64("snapshot-depth", 12, "confirmations before events are final")
	runCmd.Flags().Int64("snapshot-every", 1000, "persist a snapshot every N final events")
	runCmd.Flags().Int("batch-size", 500, "events per feed page")
	runCmd.Flags().Duration("poll-interval", 5*time.Second, "feed poll interval")
	runCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	runCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN, empty writes JSONL instead")
	runCmd.Flags().String("out", "./data/changes.jsonl", "JSONL output path when no DSN is set")
	runCmd.Flags().String("verifier-url", "", "external verifier endpoint, empty disables")
	runCmd.Flags().String("inscribe-url", "", "commit inscription endpoint, empty disables commits")
	runCmd.Flags().Int("commit-max-funcs", 50, "functions per commit")
	runCmd.Flags().Duration("commit-max-age", 5*time.Minute, "max age of an open commit")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay an event file and report the final state",
		RunE:  runReplay,
	}

	replayCmd.Flags().String("module", "", "module inscription id")
	replayCmd.Flags().String("events-file", "", "JSONL event file")
	replayCmd.Flags().String("gas-price", "0", "gas charged per function, 0 disables")
	replayCmd.Flags().Bool("fee-on", true, "mint protocol fee LP on pool growth")
	replayCmd.Flags().String("decimals", "", "tick decimals overrides (comma-separated tick=n)")
	replayCmd.Flags().Uint64("snapshot-depth", 12, "confirmations before events are final")
	replayCmd.Flags().Int("batch-size", 500, "events per feed page")
	replayCmd.Flags().String("out", "./data/changes.jsonl", "JSONL output path")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(replayCmd)

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Replay an event file and dump the snapshot-depth state",
		RunE:  runSnapshot,
	}

	snapshotCmd.Flags().String("module", "", "module inscription id")
	snapshotCmd.Flags().String("events-file", "", "JSONL event file")
	snapshotCmd.Flags().String("gas-price", "0", "gas charged per function, 0 disables")
	snapshotCmd.Flags().Bool("fee-on", true, "mint protocol fee LP on pool growth")
	snapshotCmd.Flags().String("decimals", "", "tick decimals overrides (comma-separated tick=n)")
	snapshotCmd.Flags().Uint64("snapshot-depth", 12, "confirmations before events are final")
	snapshotCmd.Flags().Int("batch-size", 500, "events per feed page")
	snapshotCmd.Flags().String("out", "./data/snapshot.json", "snapshot output path")
	snapshotCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(snapshotCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func chainParams(net string) (*chaincfg.Params, error) {
	switch net {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown chain net %q", net)
	}
}

func builderConfig(cfg config.Config) builder.Config {
	return builder.Config{
		Module:            cfg.Module,
		Decimals:          cfg.Decimals,
		FeeOn:             cfg.FeeOn,
		SnapshotDepth:     cfg.SnapshotDepth,
		BatchSize:         cfg.BatchSize,
		PollInterval:      cfg.PollInterval,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		SnapshotEvery:     cfg.SnapshotEvery,
	}
}

func runSequencer(cmd *cobra.Command, _ []string) error {
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

	if cfg.Module == "" {
		return fmt.Errorf("module id is required")
	}
	if cfg.FeedURL == "" {
		return fmt.Errorf("feed url is required")
	}
	params, err := chainParams(cfg.ChainNet)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sink builder.Sink
	var snap *space.SnapshotObj
	var store *postgres.Store
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN, cfg.Module)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		sink = store

		data, ok, err := store.LoadLatestSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		if ok {
			snap = space.LoadSnapshot(data)
			logger.Info("restored snapshot", zap.Int64("cursor", data.Cursor))
		}
		if cursor, ok, err := store.LoadCursor(ctx); err != nil {
			return fmt.Errorf("load cursor: %w", err)
		} else if ok {
			logger.Info("last persisted confirmed cursor", zap.Int64("cursor", cursor))
		}
	} else {
		sink = storage.NewJsonlSink(cfg.Out)
	}

	source := feed.NewHTTPSource(cfg.FeedURL, 0)
	bld, err := builder.New(builderConfig(cfg), source, sink, snap, logger)
	if err != nil {
		return err
	}

	var check operator.Verifier
	if cfg.VerifierURL != "" {
		check = verifier.NewClient(cfg.VerifierURL, 0)
	}
	var sender operator.Sender
	if cfg.InscribeURL != "" {
		sender = newInscribeSender(cfg.InscribeURL)
		if store != nil {
			sender = newRecordingSender(sender, store, logger)
		}
	}

	op, err := operator.New(operator.Config{
		Module:      cfg.Module,
		GasPrice:    cfg.GasPrice,
		ChainParams: params,
		MaxFuncs:    cfg.CommitMaxFuncs,
		MaxAge:      cfg.CommitMaxAge,
	}, bld.Mempool().Snapshot(), bld.Env(), sender, check, logger)
	if err != nil {
		return err
	}

	bld.SetRebuildHook(func(snap *space.SnapshotObj, reorg bool) error {
		if reorg {
			logger.Warn("rebasing pending layer after reorg")
		}
		return op.Reset(snap, bld.Env())
	})

	logger.Info("sequencer start",
		zap.String("module", cfg.Module),
		zap.String("feed", cfg.FeedURL),
		zap.Uint64("snapshot_depth", cfg.SnapshotDepth),
		zap.Bool("fee_on", cfg.FeeOn),
		zap.Bool("commits_enabled", sender != nil),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bld.Run(ctx)
	})
	if sender != nil {
		g.Go(func() error {
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-op.CommitReady():
				case <-ticker.C:
				}
				if _, err := op.TryCommit(ctx); err != nil {
					logger.Warn("commit attempt failed", zap.Error(err))
				}
			}
		})
	}
	return g.Wait()
}

func runReplay(cmd *cobra.Command, _ []string) error {
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

	if cfg.Module == "" {
		return fmt.Errorf("module id is required")
	}
	if cfg.EventsFile == "" {
		return fmt.Errorf("events file is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source := feed.NewFileSource(cfg.EventsFile)
	sink := storage.NewJsonlSink(cfg.Out)

	bcfg := builderConfig(cfg)
	bcfg.CheckpointEnabled = false
	bld, err := builder.New(bcfg, source, sink, nil, logger)
	if err != nil {
		return err
	}

	if err := bld.Tick(ctx); err != nil {
		return err
	}

	hash, err := bld.StateHash()
	if err != nil {
		return err
	}
	snapCursor, confCursor, memCursor := bld.Cursors()
	logger.Info("replay complete",
		zap.Int64("snapshot_cursor", snapCursor),
		zap.Int64("confirmed_cursor", confCursor),
		zap.Int64("mempool_cursor", memCursor),
		zap.String("state_hash", hash),
	)
	return nil
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
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

	if cfg.Module == "" {
		return fmt.Errorf("module id is required")
	}
	if cfg.EventsFile == "" {
		return fmt.Errorf("events file is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bcfg := builderConfig(cfg)
	bcfg.CheckpointEnabled = false
	bld, err := builder.New(bcfg, feed.NewFileSource(cfg.EventsFile), nil, nil, logger)
	if err != nil {
		return err
	}
	if err := bld.Tick(ctx); err != nil {
		return err
	}

	data := bld.SnapshotData()
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Out), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(cfg.Out, raw, 0o644); err != nil {
		return err
	}

	logger.Info("snapshot written",
		zap.String("path", cfg.Out),
		zap.Int64("cursor", data.Cursor),
	)
	return nil
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
