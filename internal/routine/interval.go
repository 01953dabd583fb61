package routine

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Clock is a wall-clock time of day for clock-mode routines.
type Clock struct {
	Hour   int // 0-23
	Minute int // 0-59
	Second int // 0-59
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// clockParser builds the daily schedule used by clock-mode routines. Callers
// never supply cron expressions; the expression is composed internally from a
// Clock.
var clockParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// intervalSpec accumulates raw interval options before validation.
type intervalSpec struct {
	every   time.Duration
	seconds int
	minutes int
	hours   int
	clock   *Clock
	loc     *time.Location
}

func (s intervalSpec) empty() bool {
	return s.every == 0 && s.seconds == 0 && s.minutes == 0 && s.hours == 0 && s.clock == nil
}

// interval is a validated timing specification.
type interval struct {
	every time.Duration
	clock *Clock
	sched cron.Schedule
	loc   *time.Location
}

func (s intervalSpec) compile() (interval, error) {
	if s.every < 0 || s.seconds < 0 || s.minutes < 0 || s.hours < 0 {
		return interval{}, fmt.Errorf("negative duration component: %w", ErrBadInterval)
	}
	total := s.every +
		time.Duration(s.seconds)*time.Second +
		time.Duration(s.minutes)*time.Minute +
		time.Duration(s.hours)*time.Hour

	if (total > 0) == (s.clock != nil) {
		return interval{}, ErrBadInterval
	}

	loc := s.loc
	if loc == nil {
		loc = time.Local
	}

	if s.clock == nil {
		return interval{every: total, loc: loc}, nil
	}

	c := *s.clock
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 || c.Second < 0 || c.Second > 59 {
		return interval{}, fmt.Errorf("clock %s out of range: %w", c, ErrBadInterval)
	}
	spec := fmt.Sprintf("%d %d %d * * *", c.Second, c.Minute, c.Hour)
	sched, err := clockParser.Parse(spec)
	if err != nil {
		return interval{}, fmt.Errorf("clock %s: %v: %w", c, err, ErrBadInterval)
	}
	return interval{clock: &c, sched: sched, loc: loc}, nil
}

// wait returns the delay until the next iteration boundary.
func (iv interval) wait(now time.Time) time.Duration {
	if iv.clock == nil {
		return iv.every
	}
	next := iv.sched.Next(now.In(iv.loc))
	d := next.Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

func (iv interval) String() string {
	if iv.clock != nil {
		return "at " + iv.clock.String()
	}
	return "every " + iv.every.String()
}
