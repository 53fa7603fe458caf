package frames

import "fmt"

// Status is the per-frame pipeline state, persisted as the vision_status
// integer column. Values are part of the database contract with the capture
// process and must not be renumbered.
type Status int

const (
	StatusError            Status = -1
	StatusPending          Status = 0
	StatusOCRProcessing    Status = 1
	StatusOCRDone          Status = 2
	StatusVisionProcessing Status = 3
	StatusVisionDone       Status = 4
)

// String returns the status name for logs.
func (s Status) String() string {
	switch s {
	case StatusError:
		return "error"
	case StatusPending:
		return "pending"
	case StatusOCRProcessing:
		return "ocr_processing"
	case StatusOCRDone:
		return "ocr_done"
	case StatusVisionProcessing:
		return "vision_processing"
	case StatusVisionDone:
		return "vision_done"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Valid reports whether s is one of the defined status values.
func (s Status) Valid() bool {
	return s >= StatusError && s <= StatusVisionDone
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusVisionDone
}

// CanTransition reports whether s -> to is an allowed transition.
// The full set is: pending -> ocr_processing -> {ocr_done, error} and
// ocr_done -> vision_processing -> {vision_done, error}.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusOCRProcessing
	case StatusOCRProcessing:
		return to == StatusOCRDone || to == StatusError
	case StatusOCRDone:
		return to == StatusVisionProcessing
	case StatusVisionProcessing:
		return to == StatusVisionDone || to == StatusError
	default:
		return false
	}
}

// Stage identifies one of the two processing stages for claim and recovery
// operations. Each stage claims frames out of its input status into its
// processing status.
type Stage struct {
	Name       string
	Input      Status
	Processing Status
	Success    Status
}

var (
	// StageOCR advances pending -> ocr_processing -> ocr_done.
	StageOCR = Stage{
		Name:       "ocr",
		Input:      StatusPending,
		Processing: StatusOCRProcessing,
		Success:    StatusOCRDone,
	}

	// StageVision advances ocr_done -> vision_processing -> vision_done.
	StageVision = Stage{
		Name:       "vision",
		Input:      StatusOCRDone,
		Processing: StatusVisionProcessing,
		Success:    StatusVisionDone,
	}
)
