package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/recall/internal/frames"
)

// cycleWithRetry runs one processing cycle, retrying transient database
// errors with exponential backoff (baseDelay, doubling per attempt, up to
// attempts total tries). Non-transient errors abort immediately and bubble
// up to the loop, which logs them and keeps polling.
func cycleWithRetry(ctx context.Context, logger *slog.Logger, attempts uint, baseDelay time.Duration, cycle func() (int, error)) (int, error) {
	var processed int
	err := retry.Do(
		func() error {
			var err error
			processed, err = cycle()
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(baseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(frames.IsTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("database error, retrying cycle",
				"attempt", n+1,
				"max_attempts", attempts,
				"error", err)
		}),
	)
	return processed, err
}
