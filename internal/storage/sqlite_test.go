package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"toybot/internal/eventbus"
	"toybot/internal/routine"
	logx "toybot/pkg/logx"
)

func openTestStore(t *testing.T, max int) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:     "sqlite",
		Path:       filepath.Join(t.TempDir(), "history.db"),
		HistoryMax: max,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: got (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestAppendAndRecentRuns(t *testing.T) {
	t.Parallel()
	st := openTestStore(t, 0)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		err := st.AppendRun(ctx, RunRecord{
			Routine:   "announce:hello",
			Event:     "iteration",
			Iteration: i,
			State:     "running",
			TookMS:    5,
		})
		if err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}
	if err := st.AppendRun(ctx, RunRecord{Routine: "other", Event: "finished", State: "completed"}); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}

	got, err := st.RecentRuns(ctx, "announce:hello", 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	// Newest first.
	if got[0].Iteration != 3 || got[2].Iteration != 1 {
		t.Fatalf("unexpected ordering: %+v", got)
	}
	if got[0].At.IsZero() {
		t.Fatal("timestamp not round-tripped")
	}

	all, err := st.RecentRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentRuns all: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d records, want 4", len(all))
	}
}

func TestPruneKeepsNewestRows(t *testing.T) {
	t.Parallel()
	st := openTestStore(t, 10)
	ctx := context.Background()

	// pruneEvery is 100, so write enough to trigger at least one prune.
	for i := int64(0); i < 205; i++ {
		if err := st.AppendRun(ctx, RunRecord{Routine: "r", Event: "iteration", Iteration: i}); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}

	got, err := st.RecentRuns(ctx, "r", 1000)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(got) > 15 {
		t.Fatalf("prune did not trim: %d rows remain", len(got))
	}
	if got[0].Iteration != 204 {
		t.Fatalf("newest row lost: %+v", got[0])
	}
}

func TestRecorderPersistsBusEvents(t *testing.T) {
	t.Parallel()
	st := openTestStore(t, 0)
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewRecorder(st, bus, logx.Nop()).Run(ctx)
	}()

	bus.Publish(eventbus.Event{
		Type: routine.EventIteration,
		Data: routine.EventData{Name: "tick", Iteration: 1, State: "running", Duration: 7 * time.Millisecond},
	})
	bus.Publish(eventbus.Event{Type: "unrelated", Data: "ignored"})

	deadline := time.After(5 * time.Second)
	for {
		recs, err := st.RecentRuns(context.Background(), "tick", 10)
		if err != nil {
			t.Fatalf("RecentRuns: %v", err)
		}
		if len(recs) == 1 {
			if recs[0].Event != "iteration" || recs[0].TookMS != 7 {
				t.Fatalf("unexpected record: %+v", recs[0])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("recorder did not persist the event")
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
