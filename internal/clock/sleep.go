// Package clock holds time helpers shared by the supervisor and the
// status loop.
package clock

import (
	"context"
	"time"
)

// SleepWithContext waits for d or until ctx is done, whichever is first.
func SleepWithContext(ctx context.Context, d time.Duration) error {
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
