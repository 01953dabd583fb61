package routine

import "errors"

var (
	// ErrBadInterval is returned when an interval specification is invalid:
	// no positive duration component and no clock time, or both at once.
	ErrBadInterval = errors.New("routine: interval requires a positive duration or a clock time (not both)")
	// ErrBadIterations is returned when an iteration limit is negative.
	ErrBadIterations = errors.New("routine: iterations must be positive")
	// ErrAlreadyRunning is returned by Start on a live routine.
	ErrAlreadyRunning = errors.New("routine: already running")
	// ErrNotRunning is returned by Restart on a routine that is not live.
	ErrNotRunning = errors.New("routine: not running")
	// ErrHookAttached is returned when reattaching a hook after the routine
	// has started. Reattaching before the first Start overwrites instead.
	ErrHookAttached = errors.New("routine: hook already attached")
)

// TaskError wraps an error returned by the unit of work when no error hook is
// attached. It terminates the run loop and surfaces on the Handle.
type TaskError struct {
	Err error
}

func (e *TaskError) Error() string { return "routine: task failed: " + e.Err.Error() }

func (e *TaskError) Unwrap() error { return e.Err }

// HookError wraps an error returned by a before, after or error hook. Hook
// failures always terminate the run loop and are never routed back through
// the error hook.
type HookError struct {
	Hook string // "before", "after" or "error"
	Err  error
}

func (e *HookError) Error() string { return "routine: " + e.Hook + " hook failed: " + e.Err.Error() }

func (e *HookError) Unwrap() error { return e.Err }
