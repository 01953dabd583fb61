package routine

import (
	"time"

	"toybot/internal/eventbus"
)

// Event types published to the bus when one is attached.
const (
	EventStarted   = "routine.started"
	EventIteration = "routine.iteration"
	EventFailed    = "routine.failed"
	EventFinished  = "routine.finished"
)

// EventData is the payload attached to routine lifecycle events.
type EventData struct {
	Name      string        `json:"name"`
	Iteration int64         `json:"iteration"`
	State     string        `json:"state"`
	Duration  time.Duration `json:"duration,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func (r *Routine) publish(typ string, data EventData) {
	if r.bus == nil {
		return
	}
	data.Name = r.name
	r.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
