// Package wait holds the blocking pauses used between UI actions.
package wait

import (
	"context"
	"time"
)

// Sleep blocks for d or until ctx is done, whichever comes first.
// A non-positive d only checks ctx.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
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

// Until calls done up to attempts times, sleeping interval between calls,
// and reports whether done ever returned true. An error from done stops
// the loop. attempts <= 0 means no limit.
func Until(ctx context.Context, attempts int, interval time.Duration, done func(attempt int) (bool, error)) (bool, error) {
	for attempt := 1; attempts <= 0 || attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		ok, err := done(attempt)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if attempts > 0 && attempt == attempts {
			break
		}
		if err := Sleep(ctx, interval); err != nil {
			return false, err
		}
	}
	return false, nil
}
