package routine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"toybot/internal/eventbus"
	logx "toybot/pkg/logx"
)

// State is the lifecycle phase of a Routine.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateStopRequested
	StateCancelled
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop_requested"
	case StateCancelled:
		return "cancelled"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Func is the unit of work invoked once per iteration.
type Func func(ctx context.Context) error

// Hook runs before the first iteration (BeforeRoutine) or after the last one
// (AfterRoutine). A non-nil error terminates the routine.
type Hook func(ctx context.Context) error

// ErrorHook receives errors returned by the unit of work. Returning nil
// recovers the iteration and the loop continues; a non-nil return terminates
// the loop with a HookError.
type ErrorHook func(ctx context.Context, err error) error

// Routine executes a unit of work periodically. See the package documentation
// for lifecycle semantics. All methods are safe for concurrent use.
type Routine struct {
	fn   Func
	name string
	log  logx.Logger
	bus  eventbus.Bus

	mu              sync.Mutex
	iv              interval
	waitFirst       bool
	limit           int64
	before          Hook
	after           Hook
	onErr           ErrorHook
	state           State
	everStarted     bool
	completed       int64
	startedAt       time.Time
	handle          *Handle
	stopCh          chan struct{}
	cancelCh        chan struct{}
	cancelRequested bool
}

// New builds a Routine from a unit of work and options. The interval must
// name either a positive duration (Every/Seconds/Minutes/Hours, summed) or a
// daily clock time (At), never both and never neither.
func New(fn Func, opts ...Option) (*Routine, error) {
	if fn == nil {
		return nil, errors.New("routine: fn is required")
	}
	var s settings
	for _, o := range opts {
		if o != nil {
			o(&s)
		}
	}
	iv, err := s.spec.compile()
	if err != nil {
		return nil, err
	}
	if s.limit < 0 {
		return nil, ErrBadIterations
	}
	name := strings.TrimSpace(s.name)
	if name == "" {
		name = fmt.Sprintf("routine:%d", time.Now().UnixNano())
	}
	return &Routine{
		fn:        fn,
		name:      name,
		log:       s.log.With(logx.String("routine", name)),
		bus:       s.bus,
		iv:        iv,
		waitFirst: s.waitFirst,
		limit:     s.limit,
	}, nil
}

// Name returns the routine's name.
func (r *Routine) Name() string { return r.name }

// State returns the current lifecycle state.
func (r *Routine) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// CompletedIterations returns the number of finished iterations of the
// current (or last) run, counting iterations whose error was recovered by the
// error hook.
func (r *Routine) CompletedIterations() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// RemainingIterations returns how many iterations are left before the limit,
// or -1 when unbounded.
func (r *Routine) RemainingIterations() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit <= 0 {
		return -1
	}
	return r.limit - r.completed
}

// StartTime returns when the live run began, or the zero time when the
// routine is not running.
func (r *Routine) StartTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt
}

// BeforeRoutine attaches a hook invoked once, before the first iteration.
// A failing before hook aborts the run without entering the loop; its error
// lands on the Handle and is never routed through the error hook.
func (r *Routine) BeforeRoutine(h Hook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.everStarted && r.before != nil {
		return ErrHookAttached
	}
	r.before = h
	return nil
}

// AfterRoutine attaches a hook invoked once, after the final iteration of a
// run that completes normally (iteration limit reached or graceful stop).
// Cancelled runs skip it.
func (r *Routine) AfterRoutine(h Hook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.everStarted && r.after != nil {
		return ErrHookAttached
	}
	r.after = h
	return nil
}

// OnError attaches the error hook. With a hook attached, iteration errors are
// handed to it and the loop continues; without one, the first iteration error
// terminates the loop.
func (r *Routine) OnError(h ErrorHook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.everStarted && r.onErr != nil {
		return ErrHookAttached
	}
	r.onErr = h
	return nil
}

// ChangeInterval replaces the timing specification. Validation matches New.
// The change applies to the next computed wait; a wait already in progress is
// unaffected. Non-interval options are ignored.
func (r *Routine) ChangeInterval(opts ...Option) error {
	var s settings
	for _, o := range opts {
		if o != nil {
			o(&s)
		}
	}
	iv, err := s.spec.compile()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.iv = iv
	r.mu.Unlock()
	r.log.Debug("interval changed", logx.String("interval", iv.String()))
	return nil
}

// Start transitions NotStarted (or a finished state) to Running, launches the
// run loop on its own goroutine and returns a Handle for it. Starting a live
// routine returns ErrAlreadyRunning.
func (r *Routine) Start(ctx context.Context) (*Handle, error) {
	r.mu.Lock()
	if r.state == StateRunning || r.state == StateStopRequested {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	h := newHandle()
	r.state = StateRunning
	r.everStarted = true
	r.completed = 0
	r.startedAt = time.Now()
	r.handle = h
	r.stopCh = make(chan struct{})
	r.cancelCh = make(chan struct{})
	r.cancelRequested = false
	stopCh, cancelCh := r.stopCh, r.cancelCh
	iv := r.iv
	r.mu.Unlock()

	r.log.Debug("routine started", logx.String("interval", iv.String()))
	r.publish(EventStarted, EventData{State: StateRunning.String()})
	go r.run(ctx, h, stopCh, cancelCh)
	return h, nil
}

// Stop requests a graceful exit: the current wait ends, one final iteration
// runs, then the loop completes. Idempotent; a no-op unless Running.
func (r *Routine) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		return
	}
	r.state = StateStopRequested
	close(r.stopCh)
	r.log.Debug("stop requested")
}

// Cancel requests an immediate exit: the next wait observes it and the loop
// exits without running the unit of work or the after hook. A unit of work
// already executing still runs to completion. Idempotent; a no-op unless live.
func (r *Routine) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
}

func (r *Routine) cancelLocked() {
	if r.state != StateRunning && r.state != StateStopRequested {
		return
	}
	if r.cancelRequested {
		return
	}
	r.cancelRequested = true
	close(r.cancelCh)
	r.log.Debug("cancel requested")
}

// Restart cancels the live run, waits for it to exit, then starts a fresh one
// with the iteration counter and start time reset. Restarting a routine that
// is not live returns ErrNotRunning.
func (r *Routine) Restart(ctx context.Context) (*Handle, error) {
	r.mu.Lock()
	if r.state != StateRunning && r.state != StateStopRequested {
		r.mu.Unlock()
		return nil, ErrNotRunning
	}
	h := r.handle
	r.cancelLocked()
	r.mu.Unlock()

	select {
	case <-h.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.Start(ctx)
}

func (r *Routine) run(ctx context.Context, h *Handle, stopCh, cancelCh <-chan struct{}) {
	var runErr error
	final := StateCompleted

	defer func() {
		r.mu.Lock()
		if r.handle == h {
			r.handle = nil
			r.state = final
			r.startedAt = time.Time{}
		}
		n := r.completed
		r.mu.Unlock()

		ev := EventData{State: final.String(), Iteration: n}
		if runErr != nil {
			ev.Error = runErr.Error()
			r.log.Warn("routine finished with error", logx.String("state", final.String()), logx.Err(runErr), logx.Int64("iterations", n))
		} else {
			r.log.Debug("routine finished", logx.String("state", final.String()), logx.Int64("iterations", n))
		}
		r.publish(EventFinished, ev)
		h.finish(runErr)
	}()

	r.mu.Lock()
	before := r.before
	r.mu.Unlock()
	if before != nil {
		if err := before(ctx); err != nil {
			runErr = &HookError{Hook: "before", Err: err}
			return
		}
	}

	first := true
	for {
		r.mu.Lock()
		iv := r.iv
		waitFirst := r.waitFirst
		limit := r.limit
		r.mu.Unlock()

		wait := iv.wait(time.Now())
		if first && !waitFirst {
			wait = 0
		}
		first = false

		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				stopTimer(t)
				final = StateCancelled
				runErr = ctx.Err()
				return
			case <-cancelCh:
				stopTimer(t)
				final = StateCancelled
				return
			case <-stopCh:
				// Graceful: fall through into one final iteration.
				stopTimer(t)
			case <-t.C:
			}
		}

		// Cancellation wins over an elapsed wait.
		select {
		case <-ctx.Done():
			final = StateCancelled
			runErr = ctx.Err()
			return
		case <-cancelCh:
			final = StateCancelled
			return
		default:
		}

		lastRun := false
		select {
		case <-stopCh:
			lastRun = true
		default:
		}

		itStart := time.Now()
		err := r.fn(ctx)
		dur := time.Since(itStart)

		if err != nil {
			r.mu.Lock()
			hook := r.onErr
			r.mu.Unlock()
			if hook == nil {
				runErr = &TaskError{Err: err}
				r.publish(EventFailed, EventData{Error: err.Error(), Duration: dur})
				return
			}
			if herr := hook(ctx, err); herr != nil {
				runErr = &HookError{Hook: "error", Err: herr}
				return
			}
			r.log.Debug("iteration error recovered", logx.Err(err), logx.Duration("dur", dur))
			r.publish(EventFailed, EventData{Error: err.Error(), Duration: dur})
		}

		r.mu.Lock()
		r.completed++
		n := r.completed
		r.mu.Unlock()
		r.publish(EventIteration, EventData{Iteration: n, Duration: dur})

		if limit > 0 && n >= limit {
			runErr = r.runAfterHook(ctx)
			return
		}
		if lastRun {
			runErr = r.runAfterHook(ctx)
			return
		}
	}
}

func (r *Routine) runAfterHook(ctx context.Context) error {
	r.mu.Lock()
	after := r.after
	r.mu.Unlock()
	if after == nil {
		return nil
	}
	if err := after(ctx); err != nil {
		return &HookError{Hook: "after", Err: err}
	}
	return nil
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
