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
	cfgFile            string
	flagBatchSize      int
	flagPollInterval   float64
	flagModel          string
	flagModelEndpoint  string
	flagMaxTokens      int
	flagRateLimitDelay float64
	flagPrompt         string
	flagVerbose        bool
	flagRecoverAfter   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "vision-worker",
	Short: "Vision summarization worker for the recall frame pipeline",
	Long: `Polls the frames table for frames that finished OCR, sends each
screenshot (with its extracted text as context) to a vision model, and
stores the returned activity summary. Frames advance from ocr_done to
vision_done (or error).

The vision model credential is read from OPENAI_API_KEY. Multiple
instances may run concurrently against the same database; claims use row
locks so no frame is summarized twice.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.recall/config.yaml)",
	)
	rootCmd.Flags().IntVar(&flagBatchSize, "batch-size", 10, "frames to process per batch")
	rootCmd.Flags().Float64Var(&flagPollInterval, "poll-interval", 5.0, "seconds to wait between polling cycles")
	rootCmd.Flags().StringVar(&flagModel, "model", "gpt-4o", "vision model identifier")
	rootCmd.Flags().StringVar(&flagModelEndpoint, "model-endpoint", "",
		"override the vision API base URL (for OpenAI-compatible servers)")
	rootCmd.Flags().IntVar(&flagMaxTokens, "max-tokens", 150, "max tokens per summary")
	rootCmd.Flags().Float64Var(&flagRateLimitDelay, "rate-limit-delay", 0.5,
		"seconds to sleep between vision API calls within a batch")
	rootCmd.Flags().StringVar(&flagPrompt, "vision-prompt", "",
		"custom prompt template; {ocr_text} is replaced with the frame's extracted text")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.Flags().DurationVar(&flagRecoverAfter, "recover-stranded-after", 0,
		"reset vision_processing frames older than this at startup (0 disables)")
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
		cfg.Vision.BatchSize = flagBatchSize
	}
	if cmd.Flags().Changed("poll-interval") {
		cfg.Vision.PollInterval = flagPollInterval
	}
	if cmd.Flags().Changed("model") {
		cfg.Vision.Model = flagModel
	}
	if cmd.Flags().Changed("model-endpoint") {
		cfg.Vision.ModelEndpoint = flagModelEndpoint
	}
	if cmd.Flags().Changed("max-tokens") {
		cfg.Vision.MaxTokens = flagMaxTokens
	}
	if cmd.Flags().Changed("rate-limit-delay") {
		cfg.Vision.RateLimitDelay = flagRateLimitDelay
	}
	if cmd.Flags().Changed("vision-prompt") {
		cfg.Vision.Prompt = flagPrompt
	}

	recoverAfter := flagRecoverAfter
	if recoverAfter == 0 && cfg.Vision.RecoverStrandedAfter != "" {
		recoverAfter, err = time.ParseDuration(cfg.Vision.RecoverStrandedAfter)
		if err != nil {
			return fmt.Errorf("invalid vision.recover_stranded_after: %w", err)
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

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = cfg.OpenAIAPIKey
	}

	factory := func() (providers.VisionClient, error) {
		return providers.NewOpenAIVisionClient(providers.OpenAIVisionConfig{
			APIKey:    apiKey,
			Model:     cfg.Vision.Model,
			BaseURL:   cfg.Vision.ModelEndpoint,
			MaxTokens: cfg.Vision.MaxTokens,
		})
	}

	w := worker.NewVisionWorker(store, factory, worker.VisionConfig{
		BatchSize:            cfg.Vision.BatchSize,
		PollInterval:         secs(cfg.Vision.PollInterval),
		MaxRetries:           cfg.Vision.MaxRetries,
		RetryDelay:           secs(cfg.Vision.RetryDelay),
		PromptTemplate:       cfg.Vision.Prompt,
		RateLimitDelay:       secs(cfg.Vision.RateLimitDelay),
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
