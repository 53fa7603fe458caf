package frames

import (
	"time"

	"github.com/google/uuid"
)

// Frame is one captured screenshot row from the frames table. Rows are
// created by the capture process; the pipeline only mutates ocr_text,
// has_text, vision_summary and vision_status.
type Frame struct {
	ID            uuid.UUID
	CapturedAt    time.Time
	ImageRef      string
	WindowTitle   *string
	AppName       *string
	OCRText       *string
	HasText       *bool
	VisionSummary *string
	Status        Status
}

// OCRUpdate is the per-frame outcome of one OCR pass, applied by
// Store.CommitOCRResults. Exactly one of (Text, Err) is meaningful:
// a non-empty Err marks the frame as failed.
type OCRUpdate struct {
	FrameID    uuid.UUID
	Text       string
	Confidence *float64
	Language   string
	Err        string
}

// Failed reports whether this update marks the frame as errored.
func (u OCRUpdate) Failed() bool { return u.Err != "" }

// VisionUpdate is the per-frame outcome of one vision pass, applied by
// Store.CommitVisionResults.
type VisionUpdate struct {
	FrameID uuid.UUID
	Summary string
	Err     string
}

// Failed reports whether this update marks the frame as errored.
func (u VisionUpdate) Failed() bool { return u.Err != "" }
