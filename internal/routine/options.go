package routine

import (
	"time"

	"toybot/internal/eventbus"
	logx "toybot/pkg/logx"
)

type settings struct {
	name      string
	log       logx.Logger
	bus       eventbus.Bus
	spec      intervalSpec
	waitFirst bool
	limit     int64
}

type Option func(*settings)

// Every adds a raw duration to the interval. It may be combined with
// Seconds/Minutes/Hours; the components are summed.
func Every(d time.Duration) Option {
	return func(s *settings) { s.spec.every += d }
}

// Seconds adds n seconds to the interval.
func Seconds(n int) Option {
	return func(s *settings) { s.spec.seconds += n }
}

// Minutes adds n minutes to the interval.
func Minutes(n int) Option {
	return func(s *settings) { s.spec.minutes += n }
}

// Hours adds n hours to the interval.
func Hours(n int) Option {
	return func(s *settings) { s.spec.hours += n }
}

// At switches the routine to clock mode: one iteration per day at the given
// wall-clock time. Mutually exclusive with the duration components.
func At(c Clock) Option {
	return func(s *settings) { cc := c; s.spec.clock = &cc }
}

// InLocation sets the location used to resolve clock-mode times.
// Defaults to time.Local.
func InLocation(loc *time.Location) Option {
	return func(s *settings) { s.spec.loc = loc }
}

// WaitFirst controls whether the first iteration waits one full interval
// before running. Default is false: the first iteration runs immediately.
func WaitFirst(v bool) Option {
	return func(s *settings) { s.waitFirst = v }
}

// Iterations caps the number of completed iterations. Zero (the default)
// means unbounded.
func Iterations(n int) Option {
	return func(s *settings) { s.limit = int64(n) }
}

// WithName sets a human-friendly routine name used in logs, events and run
// history. Empty names get a generated id.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithLogger sets the logger. Zero value logs nothing.
func WithLogger(log logx.Logger) Option {
	return func(s *settings) { s.log = log }
}

// WithBus sets an event bus for lifecycle events. Nil disables publishing.
func WithBus(bus eventbus.Bus) Option {
	return func(s *settings) { s.bus = bus }
}
