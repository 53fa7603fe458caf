package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/recall/internal/config"
	"github.com/jackzampolin/recall/internal/frames"
	"github.com/jackzampolin/recall/internal/providers"
	"github.com/jackzampolin/recall/internal/worker"
)

var (
	cfgFile          string
	flagBatchSize    int
	flagPollInterval float64
	flagLang         string
	flagVerbose      bool
	flagRecoverAfter time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "ocr-worker",
	Short: "OCR worker for the recall frame pipeline",
	Long: `Polls the frames table for newly captured screenshots, runs Tesseract
OCR over each image, and records the extracted text. Frames advance from
pending to ocr_done (or error) and are then picked up by vision-worker.

Multiple instances may run concurrently against the same database; claims
use row locks so no frame is processed twice.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.recall/config.yaml)",
	)
	rootCmd.Flags().IntVar(&flagBatchSize, "batch-size", 10, "frames to process per batch")
	rootCmd.Flags().Float64Var(&flagPollInterval, "poll-interval", 5.0, "seconds to wait between polling cycles")
	rootCmd.Flags().StringVar(&flagLang, "lang", "eng", "tesseract language code (e.g. eng, eng+spa)")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.Flags().DurationVar(&flagRecoverAfter, "recover-stranded-after", 0,
		"reset ocr_processing frames older than this at startup (0 disables)")
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager, err := config.NewManager(cfgFile)
	if err != nil {
		return err
	}
	cfg := manager.Get()

	levelVar := new(slog.LevelVar)
	levelVar.Set(logLevel(cfg.LogLevel, flagVerbose))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))

	manager.OnReload(func(c *config.Config) {
		levelVar.Set(logLevel(c.LogLevel, flagVerbose))
	})
	manager.Watch()

	if cmd.Flags().Changed("batch-size") {
		cfg.OCR.BatchSize = flagBatchSize
	}
	if cmd.Flags().Changed("poll-interval") {
		cfg.OCR.PollInterval = flagPollInterval
	}
	if cmd.Flags().Changed("lang") {
		cfg.OCR.Lang = flagLang
	}

	recoverAfter := flagRecoverAfter
	if recoverAfter == 0 && cfg.OCR.RecoverStrandedAfter != "" {
		recoverAfter, err = time.ParseDuration(cfg.OCR.RecoverStrandedAfter)
		if err != nil {
			return fmt.Errorf("invalid ocr.recover_stranded_after: %w", err)
		}
	}

	if cfg.DatabaseURL == "" {
		return errors.New("database url not configured (set RECALL_DATABASE_URL)")
	}
	store, err := frames.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := providers.NewTesseractEngine(providers.TesseractConfig{
		Binary:  cfg.OCR.TesseractBinary,
		Lang:    cfg.OCR.Lang,
		Options: cfg.OCR.TesseractOptions,
	})

	w := worker.NewOCRWorker(store, engine, worker.OCRConfig{
		BatchSize:            cfg.OCR.BatchSize,
		PollInterval:         secs(cfg.OCR.PollInterval),
		MaxRetries:           cfg.OCR.MaxRetries,
		RetryDelay:           secs(cfg.OCR.RetryDelay),
		MinTextLength:        cfg.OCR.MinTextLength,
		Language:             cfg.OCR.Lang,
		RecoverStrandedAfter: recoverAfter,
		Logger:               logger,
	})
	return w.Start(ctx)
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func logLevel(level string, verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
