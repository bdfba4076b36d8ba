package download

import (
	"context"
	"time"
)

// PollSchedule controls how often the bridge checks a result slot.
// Each attempt waits before it checks.
type PollSchedule struct {
	FastInterval time.Duration
	FastAttempts int
	SlowInterval time.Duration
	MaxAttempts  int
}

// DefaultPollSchedule checks every 500ms for six attempts, then every second,
// for twenty attempts in total (17s worst case).
var DefaultPollSchedule = PollSchedule{
	FastInterval: 500 * time.Millisecond,
	FastAttempts: 6,
	SlowInterval: time.Second,
	MaxAttempts:  20,
}

// Interval returns the wait before the zero-based attempt.
func (s PollSchedule) Interval(attempt int) time.Duration {
	if attempt < s.FastAttempts {
		return s.FastInterval
	}
	return s.SlowInterval
}

// Budget returns the total wait when every attempt comes back empty.
func (s PollSchedule) Budget() time.Duration {
	var total time.Duration
	for i := range s.MaxAttempts {
		total += s.Interval(i)
	}
	return total
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// poll checks the slot for requestID until it is written or the schedule is
// exhausted. It returns the number of attempts made.
func (b *Bridge) poll(ctx context.Context, page Page, requestID string) (*BlobResult, int, error) {
	for attempt := range b.schedule.MaxAttempts {
		if err := b.sleep(ctx, b.schedule.Interval(attempt)); err != nil {
			return nil, attempt, err
		}
		res, err := page.BlobResult(ctx, requestID)
		if err != nil {
			b.logger.Debug("blob result check failed",
				"request_id", requestID,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}
		if res != nil {
			return res, attempt + 1, nil
		}
	}
	return nil, b.schedule.MaxAttempts, ErrBlobTimeout
}
