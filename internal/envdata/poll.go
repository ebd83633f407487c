package envdata

import (
	"context"
	"errors"
	"time"
)

// ErrPollExhausted is returned when no data appeared within the attempt cap.
var ErrPollExhausted = errors.New("envdata: recorded data not available yet")

// RowCounter reports how many satellite rows a session holds.
type RowCounter interface {
	CountSessionData(ctx context.Context, sessionID string) (int, error)
}

// Backoff configures PollRecorded.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff doubles from 2s up to 30s, for at most 8 attempts.
var DefaultBackoff = Backoff{Initial: 2 * time.Second, Max: 30 * time.Second, MaxAttempts: 8}

// PollRecorded waits until the session has at least one stored row, doubling
// the delay between checks. It returns the row count once data is present.
func PollRecorded(ctx context.Context, rc RowCounter, sessionID string, b Backoff) (int, error) {
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = 1
	}
	delay := b.Initial
	var lastErr error
	for attempt := 1; ; attempt++ {
		n, err := rc.CountSessionData(ctx, sessionID)
		if err == nil && n > 0 {
			return n, nil
		}
		lastErr = err
		if attempt >= b.MaxAttempts {
			break
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, ctx.Err()
		case <-t.C:
		}
		delay *= 2
		if b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
	}
	if lastErr != nil {
		return 0, errors.Join(ErrPollExhausted, lastErr)
	}
	return 0, ErrPollExhausted
}
