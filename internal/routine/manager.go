package routine

import (
	"context"
	"errors"
	"sync"

	"toybot/internal/eventbus"
	logx "toybot/pkg/logx"
)

// Manager tracks a set of live routines and fans lifecycle operations out to
// them. It holds non-owning references: StopAll and CancelAll delegate to each
// routine's own Stop/Cancel and never block on completion. Registration
// survives a stop; entries leave the set only through Unregister or Clear.
type Manager struct {
	log logx.Logger
	bus eventbus.Bus

	mu         sync.Mutex
	registered map[*Routine]struct{}
}

type ManagerOption func(*Manager)

// WithManagerLogger sets the logger inherited by routines built through New.
func WithManagerLogger(log logx.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithManagerBus sets the event bus inherited by routines built through New.
func WithManagerBus(bus eventbus.Bus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{registered: map[*Routine]struct{}{}}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	return m
}

// New constructs a routine and registers it in one call. The manager's logger
// and bus apply unless the options override them. The returned routine is
// independently usable exactly as if built with routine.New.
func (m *Manager) New(fn Func, opts ...Option) (*Routine, error) {
	merged := make([]Option, 0, len(opts)+2)
	merged = append(merged, WithLogger(m.log), WithBus(m.bus))
	merged = append(merged, opts...)
	r, err := New(fn, merged...)
	if err != nil {
		return nil, err
	}
	m.Register(r)
	return r, nil
}

// Register adds a routine to the tracked set. Idempotent.
func (m *Manager) Register(r *Routine) {
	if r == nil {
		return
	}
	m.mu.Lock()
	m.registered[r] = struct{}{}
	n := len(m.registered)
	m.mu.Unlock()
	m.log.Debug("routine registered", logx.String("routine", r.Name()), logx.Int("tracked", n))
}

// Unregister removes a routine from the tracked set. A no-op if absent.
func (m *Manager) Unregister(r *Routine) {
	if r == nil {
		return
	}
	m.mu.Lock()
	delete(m.registered, r)
	m.mu.Unlock()
}

// Routines returns a snapshot of the tracked set.
func (m *Manager) Routines() []*Routine {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Routine, 0, len(m.registered))
	for r := range m.registered {
		out = append(out, r)
	}
	return out
}

// StartAll starts every tracked routine that is not already live. Failures
// are logged and do not block other routines.
func (m *Manager) StartAll(ctx context.Context) {
	for _, r := range m.Routines() {
		if _, err := r.Start(ctx); err != nil {
			m.log.Warn("routine start failed", logx.String("routine", r.Name()), logx.Err(err))
		}
	}
}

// StopAll requests a graceful stop of every tracked routine. Fire-and-forget:
// it does not wait for loops to exit, and one routine cannot block another.
func (m *Manager) StopAll() {
	for _, r := range m.Routines() {
		r.Stop()
	}
}

// CancelAll requests immediate cancellation of every tracked routine.
func (m *Manager) CancelAll() {
	for _, r := range m.Routines() {
		r.Cancel()
	}
}

// RestartAll restarts every live tracked routine. Routines that are not
// running are skipped.
func (m *Manager) RestartAll(ctx context.Context) {
	for _, r := range m.Routines() {
		if _, err := r.Restart(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
			m.log.Warn("routine restart failed", logx.String("routine", r.Name()), logx.Err(err))
		}
	}
}

// Clear cancels every tracked routine and empties the set.
func (m *Manager) Clear() {
	m.mu.Lock()
	rs := make([]*Routine, 0, len(m.registered))
	for r := range m.registered {
		rs = append(rs, r)
	}
	m.registered = map[*Routine]struct{}{}
	m.mu.Unlock()
	for _, r := range rs {
		r.Cancel()
	}
}
