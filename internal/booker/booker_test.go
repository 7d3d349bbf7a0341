package booker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/agentbot/internal/audit"
	busv "github.com/nugget/agentbot/internal/bus"
	"github.com/nugget/agentbot/internal/lock"
	"github.com/nugget/agentbot/internal/planner"
	"github.com/nugget/agentbot/internal/session"
)

type fakeBookingProvider struct {
	result busv.BookingResult
	err    error
}

func (f *fakeBookingProvider) Book(ctx context.Context, req busv.BookingRequest, cfg session.AgentConfig) (busv.BookingResult, error) {
	if f.err != nil {
		return busv.BookingResult{}, f.err
	}
	return f.result, nil
}

func newTestAudit(t *testing.T) (*audit.Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := audit.Open(path)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger, path
}

// TestScenarioS1HappyPath mirrors S1.
func TestScenarioS1HappyPath(t *testing.T) {
	b := busv.NewMemory()
	resultSub, err := b.Subscribe(busv.EventBookingResult, "s-1", 10)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cfg := session.AgentConfig{SessionID: "s-1", UserID: "u-1"}
	pl := planner.New()
	// Stand in for the paired monitor, which moves the session to
	// Monitoring before it publishes any availability.
	pl.OnMonitoring("s-1")
	locks := lock.NewMemory()
	al, auditPath := newTestAudit(t)

	provider := &fakeBookingProvider{result: busv.BookingResult{Success: true, ConfirmationNumber: "CONF-1"}}
	agent := New(cfg, provider, b, locks, pl, al, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	worker := agent.Worker()
	worker.Start(ctx)
	defer func() { cancel(); worker.Stop() }()

	// Give the subscription a moment to register before publishing, so
	// the delivery isn't racing Subscribe itself.
	time.Sleep(20 * time.Millisecond)

	slot := busv.AppointmentAvailability{SessionID: "s-1", SlotID: "slot-1", SlotTime: time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)}
	if err := b.Publish(ctx, busv.Envelope{Type: busv.EventAppointmentAvailable, SessionID: "s-1", Payload: slot}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-resultSub.C:
		result, ok := env.Payload.(busv.BookingResult)
		if !ok || !result.Success || result.Slot.SlotID != "slot-1" {
			t.Fatalf("unexpected BookingResult %+v", env.Payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for BookingResult")
	}

	if pl.State("s-1") != planner.Booked {
		t.Fatalf("planner state = %s, want Booked", pl.State("s-1"))
	}

	// Audit writes are handed to a background goroutine; give it a
	// moment to land before reading the file back.
	time.Sleep(50 * time.Millisecond)
	entries, err := audit.ReadEntries(auditPath)
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Event != "booking_result" {
		t.Fatalf("audit entries = %+v, want one booking_result line", entries)
	}
}

// TestScenarioS2LockLoss mirrors S2: a booker that cannot acquire the
// lock never calls the provider and never publishes a result.
func TestScenarioS2LockLoss(t *testing.T) {
	b := busv.NewMemory()
	cfg := session.AgentConfig{SessionID: "s-1"}
	pl := planner.New()
	locks := lock.NewMemory()
	al, _ := newTestAudit(t)

	// Hold the lock before the booker ever gets a chance to acquire it.
	ctx := context.Background()
	lease, err := locks.TryAcquire(ctx, "book:s-1", time.Minute)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	defer lease.Release(ctx)

	provider := &fakeBookingProvider{result: busv.BookingResult{Success: true}}
	agent := New(cfg, provider, b, locks, pl, al, time.Minute, nil)

	resultSub, err := b.Subscribe(busv.EventBookingResult, "s-1", 10)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	worker := agent.Worker()
	worker.Start(workerCtx)
	defer func() { cancel(); worker.Stop() }()

	time.Sleep(20 * time.Millisecond)
	slot := busv.AppointmentAvailability{SessionID: "s-1", SlotID: "slot-1"}
	if err := b.Publish(workerCtx, busv.Envelope{Type: busv.EventAppointmentAvailable, SessionID: "s-1", Payload: slot}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-resultSub.C:
		t.Fatalf("expected no BookingResult when lock is held elsewhere, got %+v", env)
	case <-time.After(300 * time.Millisecond):
	}
}

// TestScenarioS3ProviderException mirrors S3.
func TestScenarioS3ProviderException(t *testing.T) {
	b := busv.NewMemory()
	resultSub, err := b.Subscribe(busv.EventBookingResult, "s-1", 10)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cfg := session.AgentConfig{SessionID: "s-1"}
	pl := planner.New()
	// Stand in for the paired monitor, as in S1.
	pl.OnMonitoring("s-1")
	locks := lock.NewMemory()
	al, _ := newTestAudit(t)

	provider := &fakeBookingProvider{err: errors.New("remote-500")}
	agent := New(cfg, provider, b, locks, pl, al, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	worker := agent.Worker()
	worker.Start(ctx)
	defer func() { cancel(); worker.Stop() }()

	time.Sleep(20 * time.Millisecond)
	slot := busv.AppointmentAvailability{SessionID: "s-1", SlotID: "slot-1"}
	if err := b.Publish(ctx, busv.Envelope{Type: busv.EventAppointmentAvailable, SessionID: "s-1", Payload: slot}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-resultSub.C:
		result, ok := env.Payload.(busv.BookingResult)
		if !ok || result.Success {
			t.Fatalf("expected failed BookingResult, got %+v", env.Payload)
		}
		if result.Message == "" || result.Message != "remote-500" {
			t.Fatalf("result.Message = %q, want %q", result.Message, "remote-500")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for BookingResult")
	}

	if pl.State("s-1") != planner.Failed {
		t.Fatalf("planner state = %s, want Failed", pl.State("s-1"))
	}
}
