package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	busv "github.com/nugget/agentbot/internal/bus"
	"github.com/nugget/agentbot/internal/lifecycle"
	"github.com/nugget/agentbot/internal/planner"
	"github.com/nugget/agentbot/internal/session"
)

func newTestStore(t *testing.T, ids ...string) *session.Store {
	t.Helper()
	store, err := session.Open(filepath.Join(t.TempDir(), "sessions.json"))
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	for _, id := range ids {
		if err := store.Upsert(session.Record{SessionID: id, UserID: "u-" + id}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	return store
}

func noopWorker() *lifecycle.Worker {
	return lifecycle.New(func(ctx context.Context) { <-ctx.Done() })
}

func TestBootstrapStartsOneBundlePerSession(t *testing.T) {
	store := newTestStore(t, "s-1", "s-2")
	rt := New(store, busv.NewMemory(), planner.New(), 30, nil)

	var started []string
	rt.Bootstrap(
		func(cfg session.AgentConfig, rec session.Record) (*lifecycle.Worker, error) {
			started = append(started, "monitor:"+cfg.SessionID)
			return noopWorker(), nil
		},
		func(cfg session.AgentConfig, rec session.Record) (*lifecycle.Worker, error) {
			started = append(started, "booker:"+cfg.SessionID)
			return noopWorker(), nil
		},
	)

	if len(rt.SessionIDs()) != 2 {
		t.Fatalf("SessionIDs() = %v, want 2 entries", rt.SessionIDs())
	}
	if len(started) != 4 {
		t.Fatalf("factories invoked %d times, want 4 (2 sessions x 2 factories)", len(started))
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt.Start(ctx)
	if !rt.Started() {
		t.Fatal("Started() = false after Start")
	}
	cancel()
	rt.Stop()
}

func TestBootstrapSkipsSessionWhoseFactoryFails(t *testing.T) {
	store := newTestStore(t, "s-1", "s-2")
	rt := New(store, busv.NewMemory(), planner.New(), 30, nil)

	rt.Bootstrap(
		func(cfg session.AgentConfig, rec session.Record) (*lifecycle.Worker, error) {
			if cfg.SessionID == "s-1" {
				return nil, errors.New("factory boom")
			}
			return noopWorker(), nil
		},
		func(cfg session.AgentConfig, rec session.Record) (*lifecycle.Worker, error) {
			return noopWorker(), nil
		},
	)

	ids := rt.SessionIDs()
	if len(ids) != 1 || ids[0] != "s-2" {
		t.Fatalf("SessionIDs() = %v, want only [s-2]", ids)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	store := newTestStore(t, "s-1")
	rt := New(store, busv.NewMemory(), planner.New(), 30, nil)

	var starts int
	rt.Bootstrap(
		func(cfg session.AgentConfig, rec session.Record) (*lifecycle.Worker, error) {
			starts++
			return noopWorker(), nil
		},
		func(cfg session.AgentConfig, rec session.Record) (*lifecycle.Worker, error) {
			return noopWorker(), nil
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Start(ctx)
	rt.Start(ctx)
	rt.Start(ctx)

	if starts != 1 {
		t.Fatalf("monitor factory invoked %d times, want 1 (Bootstrap only runs once here)", starts)
	}
	rt.Stop()
}

func TestStopClosesBus(t *testing.T) {
	store := newTestStore(t, "s-1")
	bus := busv.NewMemory()
	rt := New(store, bus, planner.New(), 30, nil)

	rt.Bootstrap(
		func(cfg session.AgentConfig, rec session.Record) (*lifecycle.Worker, error) { return noopWorker(), nil },
		func(cfg session.AgentConfig, rec session.Record) (*lifecycle.Worker, error) { return noopWorker(), nil },
	)

	ctx, cancel := context.WithCancel(context.Background())
	rt.Start(ctx)
	cancel()
	rt.Stop()

	if err := bus.Publish(context.Background(), busv.Envelope{Type: busv.EventHeartbeat, SessionID: "s-1"}); err != busv.ErrClosed {
		t.Fatalf("Publish after Stop = %v, want ErrClosed", err)
	}
}

func TestRunForeverStopsOnContextCancel(t *testing.T) {
	store := newTestStore(t, "s-1")
	rt := New(store, busv.NewMemory(), planner.New(), 30, nil)

	rt.Bootstrap(
		func(cfg session.AgentConfig, rec session.Record) (*lifecycle.Worker, error) { return noopWorker(), nil },
		func(cfg session.AgentConfig, rec session.Record) (*lifecycle.Worker, error) { return noopWorker(), nil },
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.RunForever(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunForever returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunForever did not return after context cancellation")
	}
}
