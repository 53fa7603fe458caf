// Package worker implements the two long-running pipeline loops: the OCR
// worker (pending -> ocr_done) and the vision worker (ocr_done ->
// vision_done). Each loop is a single-threaded claim / process / commit
// cycle; scaling out means running more processes against the same
// database.
package worker

import (
	"context"
	"time"

	"github.com/jackzampolin/recall/internal/frames"
)

// FrameStore is the database surface the workers need. Implemented by
// *frames.Store in production and by an in-memory fake in tests.
type FrameStore interface {
	Claim(ctx context.Context, stage frames.Stage, limit int) ([]frames.Frame, error)
	CommitOCRResults(ctx context.Context, updates []frames.OCRUpdate, minTextLength int) error
	CommitVisionResults(ctx context.Context, updates []frames.VisionUpdate) error
	ResetStranded(ctx context.Context, stage frames.Stage, olderThan time.Duration) (int64, error)
}

// sleepCtx pauses for d, returning early when the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
