package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/recall/internal/frames"
	"github.com/jackzampolin/recall/internal/imageio"
	"github.com/jackzampolin/recall/internal/providers"
)

// ImageLoader resolves an image_ref to raw bytes.
type ImageLoader func(imageRef string) ([]byte, error)

// OCRConfig configures an OCR worker.
type OCRConfig struct {
	BatchSize     int           // Frames claimed per cycle (default 10)
	PollInterval  time.Duration // Idle delay when no work was found (default 5s)
	MaxRetries    uint          // Attempts for transient database errors (default 3)
	RetryDelay    time.Duration // Base backoff delay (default 1s)
	MinTextLength int           // has_text threshold on trimmed text (default 1)
	Language      string        // Recorded on ocr_text rows

	// RecoverStrandedAfter, when > 0, resets ocr_processing rows older
	// than this back to pending once at startup.
	RecoverStrandedAfter time.Duration

	Loader ImageLoader // Defaults to imageio.Load
	Logger *slog.Logger
}

// OCRWorker advances frames from pending to ocr_done (or error). One
// claim/process/commit cycle is in flight at a time; per-frame failures
// never abort their batch.
type OCRWorker struct {
	store   FrameStore
	engine  providers.OCREngine
	loader  ImageLoader
	cfg     OCRConfig
	logger  *slog.Logger
	running atomic.Bool
}

// NewOCRWorker creates an OCR worker. The engine's availability is not
// checked until Start.
func NewOCRWorker(store FrameStore, engine providers.OCREngine, cfg OCRConfig) *OCRWorker {
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
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = 1
	}
	loader := cfg.Loader
	if loader == nil {
		loader = imageio.Load
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OCRWorker{
		store:  store,
		engine: engine,
		loader: loader,
		cfg:    cfg,
		logger: logger.With("worker", "ocr"),
	}
}

// Start verifies the OCR engine is reachable, then runs the polling loop
// until Stop is called or the context is cancelled. An in-flight batch is
// always committed before the loop exits. The capability check failing is a
// fatal startup error.
func (w *OCRWorker) Start(ctx context.Context) error {
	version, err := w.engine.Version(ctx)
	if err != nil {
		return fmt.Errorf("ocr engine unavailable: %w", err)
	}
	w.logger.Info("ocr engine available", "version", version)

	if w.cfg.RecoverStrandedAfter > 0 {
		if _, err := w.store.ResetStranded(ctx, frames.StageOCR, w.cfg.RecoverStrandedAfter); err != nil {
			return fmt.Errorf("recover stranded frames: %w", err)
		}
	}

	w.running.Store(true)
	w.logger.Info("ocr worker started",
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

	w.logger.Info("ocr worker stopped")
	return nil
}

// Stop signals the loop to exit after the in-flight batch completes.
func (w *OCRWorker) Stop() {
	w.running.Store(false)
}

// RunCycle performs one poll cycle: claim a batch of pending frames,
// process them sequentially in claim order, and commit all outcomes in one
// transaction. Returns the number of frames handled.
func (w *OCRWorker) RunCycle(ctx context.Context) (int, error) {
	batch, err := w.store.Claim(ctx, frames.StageOCR, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	// Once claimed, the batch is processed and committed even if shutdown
	// is requested mid-batch; an aborted commit would strand every claimed
	// frame in ocr_processing.
	workCtx := context.WithoutCancel(ctx)

	w.logger.Info("processing frames", "count", len(batch))

	updates := make([]frames.OCRUpdate, 0, len(batch))
	for _, frame := range batch {
		updates = append(updates, w.processFrame(workCtx, frame))
	}

	if err := w.store.CommitOCRResults(workCtx, updates, w.cfg.MinTextLength); err != nil {
		return 0, err
	}

	for _, u := range updates {
		if u.Failed() {
			w.logger.Warn("frame marked as error", "frame_id", u.FrameID, "error", u.Err)
		} else {
			w.logger.Info("frame processed", "frame_id", u.FrameID, "text_len", len(u.Text))
		}
	}
	return len(batch), nil
}

// processFrame loads and OCRs a single frame. Failures become the frame's
// error outcome rather than an error return.
func (w *OCRWorker) processFrame(ctx context.Context, frame frames.Frame) frames.OCRUpdate {
	image, err := w.loader(frame.ImageRef)
	if err != nil {
		if errors.Is(err, imageio.ErrNotFound) {
			return frames.OCRUpdate{
				FrameID: frame.ID,
				Err:     fmt.Sprintf("could not load image: %s", imageio.Resolve(frame.ImageRef)),
			}
		}
		return frames.OCRUpdate{FrameID: frame.ID, Err: err.Error()}
	}

	result, err := w.engine.ExtractText(ctx, image)
	if err != nil {
		return frames.OCRUpdate{FrameID: frame.ID, Err: err.Error()}
	}

	return frames.OCRUpdate{
		FrameID:    frame.ID,
		Text:       result.Text,
		Confidence: result.Confidence,
		Language:   w.cfg.Language,
	}
}
