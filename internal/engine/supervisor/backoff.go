package supervisor

import (
	"math"
	"time"
)

// Backoff is the restart delay policy: Initial * 2^attempt, capped at Max.
type Backoff struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// DefaultBackoff waits 2s, 4s, 8s, ... up to 60s.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 2 * time.Second,
		Max:     60 * time.Second,
	}
}

// Delay returns the wait before restart number attempt (0-indexed).
func (b Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.Initial) * math.Pow(2, float64(attempt))
	if b.Max > 0 && delay > float64(b.Max) {
		return b.Max
	}
	return time.Duration(delay)
}

// CrashLoop bounds how many crashes are tolerated within a sliding window.
type CrashLoop struct {
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
}

// DefaultCrashLoop gives up after 3 crashes within 5 minutes.
func DefaultCrashLoop() CrashLoop {
	return CrashLoop{
		Threshold: 3,
		Window:    5 * time.Minute,
	}
}

// crashWindow remembers crash times inside the window.
type crashWindow struct {
	policy  CrashLoop
	crashes []time.Time
}

// record adds a crash at now and reports how many crashes fall inside the
// window, including this one.
func (w *crashWindow) record(now time.Time) int {
	cutoff := now.Add(-w.policy.Window)
	kept := w.crashes[:0]
	for _, t := range w.crashes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.crashes = append(kept, now)
	return len(w.crashes)
}

// tripped reports whether count crashes constitute a crash loop.
func (w *crashWindow) tripped(count int) bool {
	return w.policy.Threshold > 0 && count >= w.policy.Threshold
}
