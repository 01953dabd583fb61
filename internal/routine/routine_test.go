package routine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitHandle(t *testing.T, h *Handle) error {
	t.Helper()
	select {
	case <-h.Done():
		return h.Err()
	case <-time.After(5 * time.Second):
		t.Fatal("routine did not finish in time")
		return nil
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	fn := func(ctx context.Context) error { return nil }

	tests := []struct {
		name string
		fn   Func
		opts []Option
		want error
	}{
		{name: "no interval", fn: fn, want: ErrBadInterval},
		{name: "duration and clock", fn: fn, opts: []Option{Seconds(5), At(Clock{Hour: 12})}, want: ErrBadInterval},
		{name: "negative component", fn: fn, opts: []Option{Seconds(-1)}, want: ErrBadInterval},
		{name: "clock out of range", fn: fn, opts: []Option{At(Clock{Hour: 25})}, want: ErrBadInterval},
		{name: "negative iterations", fn: fn, opts: []Option{Every(time.Second), Iterations(-1)}, want: ErrBadIterations},
		{name: "duration ok", fn: fn, opts: []Option{Seconds(30), Minutes(1)}},
		{name: "clock ok", fn: fn, opts: []Option{At(Clock{Hour: 23, Minute: 59, Second: 59})}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.fn, tt.opts...)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("New() error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewRequiresFunc(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, Seconds(1)); err == nil {
		t.Fatal("expected error for nil fn")
	}
}

func TestImmediateCancelRunsNothing(t *testing.T) {
	t.Parallel()
	var runs atomic.Int64
	r, err := New(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, Every(200*time.Millisecond), WaitFirst(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Cancel()

	if err := waitHandle(t, h); err != nil {
		t.Fatalf("handle error: %v", err)
	}
	if got := runs.Load(); got != 0 {
		t.Fatalf("runs = %d, want 0", got)
	}
	if got := r.State(); got != StateCancelled {
		t.Fatalf("state = %v, want %v", got, StateCancelled)
	}
	if !r.StartTime().IsZero() {
		t.Fatal("start time not cleared after exit")
	}
}

func TestFirstIterationImmediateByDefault(t *testing.T) {
	t.Parallel()
	ran := make(chan struct{}, 1)
	r, err := New(func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}, Hours(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("first iteration did not run immediately")
	}
	r.Cancel()
	_ = waitHandle(t, h)
}

func TestWaitFirstDelaysFirstIteration(t *testing.T) {
	t.Parallel()
	started := time.Now()
	firstAt := make(chan time.Duration, 1)
	r, err := New(func(ctx context.Context) error {
		select {
		case firstAt <- time.Since(started):
		default:
		}
		return nil
	}, Every(100*time.Millisecond), WaitFirst(true), Iterations(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := waitHandle(t, h); err != nil {
		t.Fatalf("handle error: %v", err)
	}
	select {
	case d := <-firstAt:
		if d < 80*time.Millisecond {
			t.Fatalf("first iteration after %v, want >= interval", d)
		}
	default:
		t.Fatal("iteration never ran")
	}
}

func TestIterationLimit(t *testing.T) {
	t.Parallel()
	var runs, afters atomic.Int64
	r, err := New(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, Every(10*time.Millisecond), Iterations(3))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.AfterRoutine(func(ctx context.Context) error {
		afters.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AfterRoutine: %v", err)
	}

	h, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := waitHandle(t, h); err != nil {
		t.Fatalf("handle error: %v", err)
	}

	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
	if got := afters.Load(); got != 1 {
		t.Fatalf("after hook ran %d times, want 1", got)
	}
	if got := r.CompletedIterations(); got != 3 {
		t.Fatalf("CompletedIterations = %d, want 3", got)
	}
	if got := r.RemainingIterations(); got != 0 {
		t.Fatalf("RemainingIterations = %d, want 0", got)
	}
	if got := r.State(); got != StateCompleted {
		t.Fatalf("state = %v, want %v", got, StateCompleted)
	}
}

func TestRemainingIterationsUnbounded(t *testing.T) {
	t.Parallel()
	r, err := New(func(ctx context.Context) error { return nil }, Seconds(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := r.RemainingIterations(); got != -1 {
		t.Fatalf("RemainingIterations = %d, want -1", got)
	}
}

func TestChangeIntervalAffectsNextWait(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	calls := make(chan struct{}, 4)
	var n atomic.Int64
	r, err := New(func(ctx context.Context) error {
		if n.Add(1) == 1 {
			<-gate
		}
		calls <- struct{}{}
		return nil
	}, Hours(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Reconfigure while the first iteration is still executing; the change
	// must apply to the wait before the second iteration.
	if err := r.ChangeInterval(Every(20 * time.Millisecond)); err != nil {
		t.Fatalf("ChangeInterval: %v", err)
	}
	close(gate)

	<-calls
	select {
	case <-calls:
	case <-time.After(3 * time.Second):
		t.Fatal("second iteration still pending; interval change was not picked up")
	}
	r.Cancel()
	_ = waitHandle(t, h)
}

func TestChangeIntervalValidation(t *testing.T) {
	t.Parallel()
	r, err := New(func(ctx context.Context) error { return nil }, Seconds(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.ChangeInterval(); !errors.Is(err, ErrBadInterval) {
		t.Fatalf("ChangeInterval() error = %v, want %v", err, ErrBadInterval)
	}
}

func TestErrorHookRecoversIterations(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	var hookCalls atomic.Int64
	r, err := New(func(ctx context.Context) error {
		return boom
	}, Every(5*time.Millisecond), Iterations(3))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.OnError(func(ctx context.Context, err error) error {
		if !errors.Is(err, boom) {
			t.Errorf("hook error = %v, want %v", err, boom)
		}
		hookCalls.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("OnError: %v", err)
	}

	h, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := waitHandle(t, h); err != nil {
		t.Fatalf("handle error: %v", err)
	}
	if got := hookCalls.Load(); got != 3 {
		t.Fatalf("error hook ran %d times, want 3", got)
	}
	if got := r.CompletedIterations(); got != 3 {
		t.Fatalf("CompletedIterations = %d, want 3", got)
	}
}

func TestErrorWithoutHookTerminates(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	var n atomic.Int64
	r, err := New(func(ctx context.Context) error {
		if n.Add(1) == 2 {
			return boom
		}
		return nil
	}, Every(5*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	err = waitHandle(t, h)
	if !errors.Is(err, boom) {
		t.Fatalf("handle error = %v, want wrapped %v", err, boom)
	}
	var te *TaskError
	if !errors.As(err, &te) {
		t.Fatalf("handle error = %T, want *TaskError", err)
	}
	if got := r.CompletedIterations(); got != 1 {
		t.Fatalf("CompletedIterations = %d, want 1", got)
	}
	if got := r.State(); got != StateCompleted {
		t.Fatalf("state = %v, want %v", got, StateCompleted)
	}
}

func TestStopRunsOneFinalIteration(t *testing.T) {
	t.Parallel()
	var runs, afters atomic.Int64
	r, err := New(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, Every(500*time.Millisecond), WaitFirst(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = r.AfterRoutine(func(ctx context.Context) error {
		afters.Add(1)
		return nil
	})

	h, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Stop()
	if err := waitHandle(t, h); err != nil {
		t.Fatalf("handle error: %v", err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want exactly one final iteration", got)
	}
	if got := afters.Load(); got != 1 {
		t.Fatalf("after hook ran %d times, want 1", got)
	}
	if got := r.State(); got != StateCompleted {
		t.Fatalf("state = %v, want %v", got, StateCompleted)
	}
}

func TestCancelSkipsIterationAndAfterHook(t *testing.T) {
	t.Parallel()
	var runs, afters atomic.Int64
	r, err := New(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, Every(500*time.Millisecond), WaitFirst(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = r.AfterRoutine(func(ctx context.Context) error {
		afters.Add(1)
		return nil
	})

	h, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Cancel()
	if err := waitHandle(t, h); err != nil {
		t.Fatalf("handle error: %v", err)
	}
	if got := runs.Load(); got != 0 {
		t.Fatalf("runs = %d, want 0", got)
	}
	if got := afters.Load(); got != 0 {
		t.Fatalf("after hook ran %d times, want 0", got)
	}
}

func TestStartWhileRunning(t *testing.T) {
	t.Parallel()
	r, err := New(func(ctx context.Context) error { return nil }, Hours(1), WaitFirst(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start error = %v, want %v", err, ErrAlreadyRunning)
	}
	r.Cancel()
	_ = waitHandle(t, h)
}

func TestRestartResetsCounters(t *testing.T) {
	t.Parallel()
	var runs atomic.Int64
	r, err := New(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, Every(10*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := r.Restart(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Restart before Start error = %v, want %v", err, ErrNotRunning)
	}

	if _, err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for r.CompletedIterations() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("routine never reached 2 iterations")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h2, err := r.Restart(context.Background())
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if got := r.State(); got != StateRunning {
		t.Fatalf("state after restart = %v, want %v", got, StateRunning)
	}
	if got := r.CompletedIterations(); got > 1 {
		t.Fatalf("CompletedIterations = %d right after restart, want reset", got)
	}
	r.Cancel()
	_ = waitHandle(t, h2)
}

func TestHookReattachRules(t *testing.T) {
	t.Parallel()
	r, err := New(func(ctx context.Context) error { return nil }, Hours(1), WaitFirst(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hook := func(ctx context.Context) error { return nil }

	// Reattach before start overwrites.
	if err := r.BeforeRoutine(hook); err != nil {
		t.Fatalf("BeforeRoutine: %v", err)
	}
	if err := r.BeforeRoutine(hook); err != nil {
		t.Fatalf("BeforeRoutine reattach before start: %v", err)
	}

	h, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.BeforeRoutine(hook); !errors.Is(err, ErrHookAttached) {
		t.Fatalf("BeforeRoutine after start error = %v, want %v", err, ErrHookAttached)
	}
	if err := r.AfterRoutine(hook); err != nil {
		t.Fatalf("AfterRoutine first attach after start: %v", err)
	}
	if err := r.AfterRoutine(hook); !errors.Is(err, ErrHookAttached) {
		t.Fatalf("AfterRoutine reattach error = %v, want %v", err, ErrHookAttached)
	}
	r.Cancel()
	_ = waitHandle(t, h)
}

func TestBeforeHookFailureAbortsStartup(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	var runs, errHook atomic.Int64
	r, err := New(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, Every(5*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = r.BeforeRoutine(func(ctx context.Context) error { return boom })
	_ = r.OnError(func(ctx context.Context, err error) error {
		errHook.Add(1)
		return nil
	})

	h, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	err = waitHandle(t, h)
	var he *HookError
	if !errors.As(err, &he) || he.Hook != "before" {
		t.Fatalf("handle error = %v, want before HookError", err)
	}
	if got := runs.Load(); got != 0 {
		t.Fatalf("runs = %d, want 0", got)
	}
	if got := errHook.Load(); got != 0 {
		t.Fatalf("error hook ran %d times, want 0 (before-hook failures bypass it)", got)
	}
}

func TestErrorHookFailureTerminates(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	hookBoom := errors.New("hook boom")
	r, err := New(func(ctx context.Context) error { return boom }, Every(5*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = r.OnError(func(ctx context.Context, err error) error { return hookBoom })

	h, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	err = waitHandle(t, h)
	var he *HookError
	if !errors.As(err, &he) || he.Hook != "error" {
		t.Fatalf("handle error = %v, want error HookError", err)
	}
	if !errors.Is(err, hookBoom) {
		t.Fatalf("handle error = %v, want wrapped %v", err, hookBoom)
	}
}

func TestContextCancelStopsRoutine(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	r, err := New(func(ctx context.Context) error { return nil }, Hours(1), WaitFirst(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := r.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	err = waitHandle(t, h)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("handle error = %v, want context.Canceled", err)
	}
	if got := r.State(); got != StateCancelled {
		t.Fatalf("state = %v, want %v", got, StateCancelled)
	}
}

func TestThreeIterationTrace(t *testing.T) {
	t.Parallel()
	const interval = 50 * time.Millisecond
	start := time.Now()
	var runs atomic.Int64
	r, err := New(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, Every(interval), Iterations(3))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := waitHandle(t, h); err != nil {
		t.Fatalf("handle error: %v", err)
	}
	elapsed := time.Since(start)
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
	// First run is immediate; the remaining two each wait one interval.
	if elapsed < 2*interval-10*time.Millisecond {
		t.Fatalf("finished in %v, want >= ~%v", elapsed, 2*interval)
	}
}

func TestClockModeFiresAtWallClockTime(t *testing.T) {
	t.Parallel()
	target := time.Now().Add(2 * time.Second)
	ran := make(chan time.Time, 1)
	r, err := New(func(ctx context.Context) error {
		select {
		case ran <- time.Now():
		default:
		}
		return nil
	}, At(Clock{Hour: target.Hour(), Minute: target.Minute(), Second: target.Second()}), WaitFirst(true), Iterations(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case at := <-ran:
		if at.Before(target.Add(-1100 * time.Millisecond)) {
			t.Fatalf("fired at %v, target %v", at, target)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("clock-mode iteration never fired")
	}
	_ = waitHandle(t, h)
}
