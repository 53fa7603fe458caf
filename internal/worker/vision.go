package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/recall/internal/frames"
	"github.com/jackzampolin/recall/internal/imageio"
	"github.com/jackzampolin/recall/internal/providers"
)

// DefaultVisionPrompt is the prompt template sent with each frame. The
// {ocr_text} placeholder is replaced with the frame's extracted text.
const DefaultVisionPrompt = `You are analyzing a screenshot from a user's computer.
The OCR extracted text is: {ocr_text}

Describe concisely (1-2 sentences) what application/window is visible and what the user is likely doing. Focus on the activity, not UI elements.`

// ocrContextLimit caps how much OCR text is substituted into the prompt.
const ocrContextLimit = 1000

// noTextPlaceholder substitutes for frames where OCR found nothing.
const noTextPlaceholder = "(no text detected)"

// ImageEncoder resolves an image_ref to a base64 data URI.
type ImageEncoder func(imageRef string) (string, error)

// VisionClientFactory constructs the vision client once at worker startup.
// A failing factory (missing credentials, unknown model) is a fatal startup
// error.
type VisionClientFactory func() (providers.VisionClient, error)

// VisionConfig configures a vision worker.
type VisionConfig struct {
	BatchSize      int           // Frames claimed per cycle (default 10)
	PollInterval   time.Duration // Idle delay when no work was found (default 5s)
	MaxRetries     uint          // Attempts for transient database errors (default 3)
	RetryDelay     time.Duration // Base backoff delay (default 1s)
	PromptTemplate string        // Defaults to DefaultVisionPrompt

	// RateLimitDelay is slept between consecutive model calls within a
	// batch. The first call of a batch is never delayed; the poll interval
	// paces batches.
	RateLimitDelay time.Duration

	// RecoverStrandedAfter, when > 0, resets vision_processing rows older
	// than this back to ocr_done once at startup.
	RecoverStrandedAfter time.Duration

	Encoder ImageEncoder // Defaults to imageio.DataURI
	Logger  *slog.Logger
}

// VisionWorker advances frames from ocr_done to vision_done (or error).
type VisionWorker struct {
	store   FrameStore
	factory VisionClientFactory
	client  providers.VisionClient
	encoder ImageEncoder
	cfg     VisionConfig
	logger  *slog.Logger
	running atomic.Bool
}

// NewVisionWorker creates a vision worker. The client factory is not
// invoked until Start.
func NewVisionWorker(store FrameStore, factory VisionClientFactory, cfg VisionConfig) *VisionWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.PromptTemplate == "" {
		cfg.PromptTemplate = DefaultVisionPrompt
	}
	if cfg.RateLimitDelay < 0 {
		cfg.RateLimitDelay = 0
	}
	encoder := cfg.Encoder
	if encoder == nil {
		encoder = imageio.DataURI
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &VisionWorker{
		store:   store,
		factory: factory,
		encoder: encoder,
		cfg:     cfg,
		logger:  logger.With("worker", "vision"),
	}
}

// Start constructs the vision client, then runs the polling loop until
// Stop is called or the context is cancelled. The client is built once and
// reused for the worker's lifetime.
func (w *VisionWorker) Start(ctx context.Context) error {
	client, err := w.factory()
	if err != nil {
		return fmt.Errorf("create vision client: %w", err)
	}
	w.client = client
	w.logger.Info("vision client ready", "provider", client.Name())

	if w.cfg.RecoverStrandedAfter > 0 {
		if _, err := w.store.ResetStranded(ctx, frames.StageVision, w.cfg.RecoverStrandedAfter); err != nil {
			return fmt.Errorf("recover stranded frames: %w", err)
		}
	}

	w.running.Store(true)
	w.logger.Info("vision worker started",
		"batch_size", w.cfg.BatchSize,
		"poll_interval", w.cfg.PollInterval)

	for w.running.Load() && ctx.Err() == nil {
		processed, err := cycleWithRetry(ctx, w.logger, w.cfg.MaxRetries, w.cfg.RetryDelay, func() (int, error) {
			return w.RunCycle(ctx)
		})
		switch {
		case err != nil:
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("processing cycle failed", "error", err)
			_ = sleepCtx(ctx, w.cfg.PollInterval)
		case processed == 0:
			_ = sleepCtx(ctx, w.cfg.PollInterval)
		default:
			w.logger.Info("processed frames", "count", processed)
		}
	}

	w.logger.Info("vision worker stopped")
	return nil
}

// Stop signals the loop to exit after the in-flight batch completes.
func (w *VisionWorker) Stop() {
	w.running.Store(false)
}

// RunCycle performs one poll cycle: claim a batch of ocr_done frames, run
// each through the vision model with the rate-limit delay between calls,
// and commit all outcomes in one transaction.
func (w *VisionWorker) RunCycle(ctx context.Context) (int, error) {
	batch, err := w.store.Claim(ctx, frames.StageVision, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	// Once claimed, the batch is processed and committed even if shutdown
	// is requested mid-batch; an aborted commit would strand every claimed
	// frame in vision_processing. Only the pacing sleep stays cancellable.
	workCtx := context.WithoutCancel(ctx)

	w.logger.Info("processing frames", "count", len(batch))

	updates := make([]frames.VisionUpdate, 0, len(batch))
	for i, frame := range batch {
		updates = append(updates, w.processFrame(workCtx, frame))

		if i < len(batch)-1 {
			_ = sleepCtx(ctx, w.cfg.RateLimitDelay)
		}
	}

	if err := w.store.CommitVisionResults(workCtx, updates); err != nil {
		return 0, err
	}

	for _, u := range updates {
		if u.Failed() {
			w.logger.Warn("frame marked as error", "frame_id", u.FrameID, "error", u.Err)
		} else {
			w.logger.Info("frame processed", "frame_id", u.FrameID, "summary_len", len(u.Summary))
		}
	}
	return len(batch), nil
}

// processFrame encodes and summarizes a single frame. Failures become the
// frame's error outcome rather than an error return.
func (w *VisionWorker) processFrame(ctx context.Context, frame frames.Frame) frames.VisionUpdate {
	dataURI, err := w.encoder(frame.ImageRef)
	if err != nil {
		if errors.Is(err, imageio.ErrNotFound) {
			return frames.VisionUpdate{
				FrameID: frame.ID,
				Err:     fmt.Sprintf("could not load image: %s", imageio.Resolve(frame.ImageRef)),
			}
		}
		return frames.VisionUpdate{FrameID: frame.ID, Err: err.Error()}
	}

	prompt := w.buildPrompt(frame.OCRText)
	summary, err := w.client.Summarize(ctx, prompt, dataURI)
	if err != nil {
		return frames.VisionUpdate{FrameID: frame.ID, Err: err.Error()}
	}

	return frames.VisionUpdate{FrameID: frame.ID, Summary: summary}
}

// buildPrompt renders the prompt template, substituting the frame's OCR
// text truncated to ocrContextLimit characters. Truncation counts runes so
// multi-byte text is never cut into invalid UTF-8.
func (w *VisionWorker) buildPrompt(ocrText *string) string {
	context := noTextPlaceholder
	if ocrText != nil && *ocrText != "" {
		context = *ocrText
		if runes := []rune(context); len(runes) > ocrContextLimit {
			context = string(runes[:ocrContextLimit])
		}
	}
	return strings.ReplaceAll(w.cfg.PromptTemplate, "{ocr_text}", context)
}
