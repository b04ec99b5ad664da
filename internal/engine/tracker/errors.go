package tracker

import (
	"errors"
	"fmt"
)

var (
	ErrCorruptMarker  = errors.New("unreadable last-block marker")
	ErrPollInProgress = errors.New("poll already in progress")
)

// TrackerError reports a failed read for one network in one poll cycle.
type TrackerError struct {
	Network string
	Err     error
}

func (e *TrackerError) Error() string {
	return fmt.Sprintf("tracker: network %s: %v", e.Network, e.Err)
}

func (e *TrackerError) Unwrap() error {
	return e.Err
}
