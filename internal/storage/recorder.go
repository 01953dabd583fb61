package storage

import (
	"context"
	"strings"
	"time"

	"toybot/internal/eventbus"
	"toybot/internal/routine"
	logx "toybot/pkg/logx"
)

// Recorder drains routine lifecycle events off the bus into a Store.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, log: log}
}

// Run subscribes and records until ctx is cancelled. It is a no-op when the
// store is disabled.
func (r *Recorder) Run(ctx context.Context) {
	if r.store == nil || r.bus == nil {
		return
	}
	ch, unsub := r.bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			rec, ok := runRecordFrom(ev)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := r.store.AppendRun(wctx, rec); err != nil {
				r.log.Warn("run history append failed", logx.Err(err), logx.String("routine", rec.Routine))
			}
			cancel()
		}
	}
}

func runRecordFrom(ev eventbus.Event) (RunRecord, bool) {
	if !strings.HasPrefix(ev.Type, "routine.") {
		return RunRecord{}, false
	}
	data, ok := ev.Data.(routine.EventData)
	if !ok {
		return RunRecord{}, false
	}
	return RunRecord{
		At:        ev.Time,
		Routine:   data.Name,
		Event:     strings.TrimPrefix(ev.Type, "routine."),
		Iteration: data.Iteration,
		State:     data.State,
		TookMS:    data.Duration.Milliseconds(),
		Error:     data.Error,
	}, true
}
