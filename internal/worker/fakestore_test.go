package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/recall/internal/frames"
)

// fakeStore is an in-memory FrameStore that enforces the status machine the
// same way the database does: claims only see rows in the stage input
// status, commits only touch rows the caller holds in the processing
// status. Illegal transitions fail the test through returned errors.
type fakeStore struct {
	mu     sync.Mutex
	frames map[uuid.UUID]*frames.Frame
	ocrLog map[uuid.UUID]frames.OCRUpdate

	// claimErrs / commitErrs are popped one per call to inject failures.
	claimErrs  []error
	commitErrs []error

	// claimed records every claim batch for overlap assertions.
	claimed [][]uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		frames: make(map[uuid.UUID]*frames.Frame),
		ocrLog: make(map[uuid.UUID]frames.OCRUpdate),
	}
}

func (s *fakeStore) add(f frames.Frame) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CapturedAt.IsZero() {
		f.CapturedAt = time.Now().UTC()
	}
	stored := f
	s.frames[f.ID] = &stored
	return f.ID
}

func (s *fakeStore) get(id uuid.UUID) frames.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.frames[id]
}

func (s *fakeStore) countInStatus(status frames.Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		if f.Status == status {
			n++
		}
	}
	return n
}

func (s *fakeStore) Claim(ctx context.Context, stage frames.Stage, limit int) ([]frames.Frame, error) {
	// Like pgx, a cancelled context fails the transaction outright.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.claimErrs) > 0 {
		err := s.claimErrs[0]
		s.claimErrs = s.claimErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	var eligible []*frames.Frame
	for _, f := range s.frames {
		if f.Status == stage.Input {
			eligible = append(eligible, f)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].CapturedAt.Equal(eligible[j].CapturedAt) {
			return eligible[i].CapturedAt.Before(eligible[j].CapturedAt)
		}
		return eligible[i].ID.String() < eligible[j].ID.String()
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	batch := make([]frames.Frame, 0, len(eligible))
	ids := make([]uuid.UUID, 0, len(eligible))
	for _, f := range eligible {
		if !f.Status.CanTransition(stage.Processing) {
			return nil, fmt.Errorf("illegal claim transition %s -> %s", f.Status, stage.Processing)
		}
		f.Status = stage.Processing
		batch = append(batch, *f)
		ids = append(ids, f.ID)
	}
	s.claimed = append(s.claimed, ids)
	return batch, nil
}

func (s *fakeStore) CommitOCRResults(ctx context.Context, updates []frames.OCRUpdate, minTextLength int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.commitErrs) > 0 {
		err := s.commitErrs[0]
		s.commitErrs = s.commitErrs[1:]
		if err != nil {
			return err
		}
	}

	for _, u := range updates {
		f, ok := s.frames[u.FrameID]
		if !ok {
			return fmt.Errorf("unknown frame %s", u.FrameID)
		}
		if f.Status != frames.StatusOCRProcessing {
			return fmt.Errorf("frame %s not in ocr_processing (got %s)", u.FrameID, f.Status)
		}
		if u.Failed() {
			f.Status = frames.StatusError
			continue
		}
		hasText := len(strings.TrimSpace(u.Text)) >= minTextLength
		f.HasText = &hasText
		if hasText {
			text := u.Text
			f.OCRText = &text
			if _, dup := s.ocrLog[u.FrameID]; !dup {
				s.ocrLog[u.FrameID] = u
			}
		}
		f.Status = frames.StatusOCRDone
	}
	return nil
}

func (s *fakeStore) CommitVisionResults(ctx context.Context, updates []frames.VisionUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.commitErrs) > 0 {
		err := s.commitErrs[0]
		s.commitErrs = s.commitErrs[1:]
		if err != nil {
			return err
		}
	}

	for _, u := range updates {
		f, ok := s.frames[u.FrameID]
		if !ok {
			return fmt.Errorf("unknown frame %s", u.FrameID)
		}
		if f.Status != frames.StatusVisionProcessing {
			return fmt.Errorf("frame %s not in vision_processing (got %s)", u.FrameID, f.Status)
		}
		if u.Failed() {
			f.Status = frames.StatusError
			continue
		}
		summary := u.Summary
		f.VisionSummary = &summary
		f.Status = frames.StatusVisionDone
	}
	return nil
}

func (s *fakeStore) ResetStranded(ctx context.Context, stage frames.Stage, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, f := range s.frames {
		if f.Status == stage.Processing {
			f.Status = stage.Input
			n++
		}
	}
	return n, nil
}
