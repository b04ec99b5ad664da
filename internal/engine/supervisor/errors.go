package supervisor

import (
	"errors"
	"fmt"
)

var (
	ErrSpawnFailure   = errors.New("engine spawn failed")
	ErrAlreadyRunning = errors.New("engine already running")
	ErrNotRunning     = errors.New("engine not running")
	ErrStopTimeout    = errors.New("engine did not stop in time")
	ErrCrashLoop      = errors.New("engine crash loop")
	ErrUnexpectedExit = errors.New("engine exited unexpectedly")
)

// SupervisorError wraps one of the sentinels above with the process
// context it happened in.
type SupervisorError struct {
	Kind   error
	PID    int
	Detail string
	Err    error
}

func (e *SupervisorError) Error() string {
	msg := e.Kind.Error()
	if e.PID > 0 {
		msg = fmt.Sprintf("%s (pid %d)", msg, e.PID)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SupervisorError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
