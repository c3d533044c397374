package retryutil

import (
	"context"
	"time"
)

// Sleep waits for d or until ctx is canceled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// Linear yields a linearly growing backoff schedule: Initial, then
// Initial+Step, Initial+2*Step, ... Next never returns a smaller delay
// than the previous call until Reset.
type Linear struct {
	Initial time.Duration
	Step    time.Duration

	current time.Duration
}

func (l *Linear) Next() time.Duration {
	if l.current <= 0 {
		l.current = l.Initial
	}
	d := l.current
	l.current += l.Step
	return d
}

func (l *Linear) Reset() {
	l.current = 0
}
