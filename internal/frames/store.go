package frames

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaDDL string

// Store wraps a pgx connection pool with the frame pipeline's queries.
// It is the only shared state between worker processes; all coordination
// goes through row locks taken by Claim.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect opens a connection pool against the given Postgres URL and
// verifies it with a ping.
func Connect(ctx context.Context, url string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool, logger: logger.With("component", "store")}, nil
}

// NewStore wraps an existing pool. Used by tests that manage their own pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger.With("component", "store")}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// InitSchema applies the embedded DDL. Idempotent; used by integration
// tests and first-time operator setup.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Info("schema applied")
	return nil
}

// Claim atomically reserves up to limit frames in the stage's input status,
// moving them to the stage's processing status. The select-lock-update is a
// single statement, so concurrent claimers can never return the same row:
// SKIP LOCKED hides rows another transaction is claiming, and committed
// claims no longer match the input status.
//
// Returned frames are ordered by captured_at (id as tie-break) and are
// exclusively owned by the caller until committed.
func (s *Store) Claim(ctx context.Context, stage Stage, limit int) ([]Frame, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE frames
		SET vision_status = $1, claimed_at = now()
		WHERE id IN (
			SELECT id FROM frames
			WHERE vision_status = $2
			ORDER BY captured_at ASC, id ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, captured_at, image_ref, ocr_text, vision_status
	`, stage.Processing, stage.Input, limit)
	if err != nil {
		return nil, fmt.Errorf("claim frames: %w", err)
	}

	claimed, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Frame, error) {
		var f Frame
		err := row.Scan(&f.ID, &f.CapturedAt, &f.ImageRef, &f.OCRText, &f.Status)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan claimed frames: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	// UPDATE ... RETURNING does not guarantee output order.
	sortByCaptureOrder(claimed)
	return claimed, nil
}

// CommitOCRResults applies a batch of OCR outcomes in one transaction.
// Successful frames get ocr_text/has_text and advance to ocr_done (text is
// stored NULL when below minTextLength; the frame still succeeds); failed
// frames move to error. Frames with text also get an ocr_text history row,
// inserted with ON CONFLICT DO NOTHING so replays are idempotent.
func (s *Store) CommitOCRResults(ctx context.Context, updates []OCRUpdate, minTextLength int) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ocr commit: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		if u.Failed() {
			if _, err := tx.Exec(ctx, `
				UPDATE frames
				SET vision_status = $1, claimed_at = NULL
				WHERE id = $2 AND vision_status = $3
			`, StatusError, u.FrameID, StatusOCRProcessing); err != nil {
				return fmt.Errorf("mark frame %s error: %w", u.FrameID, err)
			}
			continue
		}

		hasText := len(strings.TrimSpace(u.Text)) >= minTextLength
		var text *string
		if hasText {
			text = &u.Text
		}

		if _, err := tx.Exec(ctx, `
			UPDATE frames
			SET ocr_text = $1, has_text = $2, vision_status = $3, claimed_at = NULL
			WHERE id = $4 AND vision_status = $5
		`, text, hasText, StatusOCRDone, u.FrameID, StatusOCRProcessing); err != nil {
			return fmt.Errorf("update frame %s: %w", u.FrameID, err)
		}

		if hasText {
			if _, err := tx.Exec(ctx, `
				INSERT INTO ocr_text (frame_id, text, confidence, language)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT DO NOTHING
			`, u.FrameID, u.Text, u.Confidence, u.Language); err != nil {
				return fmt.Errorf("insert ocr record %s: %w", u.FrameID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ocr results: %w", err)
	}
	return nil
}

// CommitVisionResults applies a batch of vision outcomes in one transaction.
func (s *Store) CommitVisionResults(ctx context.Context, updates []VisionUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin vision commit: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		if u.Failed() {
			if _, err := tx.Exec(ctx, `
				UPDATE frames
				SET vision_status = $1, claimed_at = NULL
				WHERE id = $2 AND vision_status = $3
			`, StatusError, u.FrameID, StatusVisionProcessing); err != nil {
				return fmt.Errorf("mark frame %s error: %w", u.FrameID, err)
			}
			continue
		}

		if _, err := tx.Exec(ctx, `
			UPDATE frames
			SET vision_summary = $1, vision_status = $2, claimed_at = NULL
			WHERE id = $3 AND vision_status = $4
		`, u.Summary, StatusVisionDone, u.FrameID, StatusVisionProcessing); err != nil {
			return fmt.Errorf("update frame %s: %w", u.FrameID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit vision results: %w", err)
	}
	return nil
}

// ResetStranded returns frames stuck in the stage's processing status back
// to its input status when their claim is older than the cutoff. Safe to run
// while workers are live: a row actively held by a claim transaction is
// locked, and a freshly claimed row fails the age filter.
func (s *Store) ResetStranded(ctx context.Context, stage Stage, olderThan time.Duration) (int64, error) {
	// Bound as seconds: Postgres cannot parse all of Go's duration forms
	// (e.g. "100µs") as an interval literal.
	tag, err := s.pool.Exec(ctx, `
		UPDATE frames
		SET vision_status = $1, claimed_at = NULL
		WHERE vision_status = $2
		  AND claimed_at IS NOT NULL
		  AND claimed_at < now() - make_interval(secs => $3)
	`, stage.Input, stage.Processing, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("reset stranded %s frames: %w", stage.Name, err)
	}

	if n := tag.RowsAffected(); n > 0 {
		s.logger.Warn("reset stranded frames", "stage", stage.Name, "count", n)
		return n, nil
	}
	return 0, nil
}

// GetFrame fetches a single frame row. Used by tests and operator tooling.
func (s *Store) GetFrame(ctx context.Context, id uuid.UUID) (*Frame, error) {
	var f Frame
	err := s.pool.QueryRow(ctx, `
		SELECT id, captured_at, image_ref, window_title, app_name,
		       ocr_text, has_text, vision_summary, vision_status
		FROM frames WHERE id = $1
	`, id).Scan(&f.ID, &f.CapturedAt, &f.ImageRef, &f.WindowTitle, &f.AppName,
		&f.OCRText, &f.HasText, &f.VisionSummary, &f.Status)
	if err != nil {
		return nil, fmt.Errorf("get frame: %w", err)
	}
	return &f, nil
}

func sortByCaptureOrder(fs []Frame) {
	sort.Slice(fs, func(i, j int) bool {
		if !fs[i].CapturedAt.Equal(fs[j].CapturedAt) {
			return fs[i].CapturedAt.Before(fs[j].CapturedAt)
		}
		return fs[i].ID.String() < fs[j].ID.String()
	})
}

// IsTransient reports whether a database error is worth retrying with
// backoff: connection failures, serialization/deadlock aborts, lock and
// statement timeouts. Constraint violations and the like are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57014":
			return true
		}
		// Class 08: connection exceptions.
		return strings.HasPrefix(pgErr.Code, "08")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
