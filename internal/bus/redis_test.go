package bus

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisBus(t *testing.T) *RedisBus {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	b, err := NewRedis("redis://"+mr.Addr(), nil)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// TestRedisBusRoundTripsTypedPayload mirrors TestScenarioS1HappyPath in
// internal/booker but exercises the wire path: publishing an Envelope
// through RedisBus and reading it back must hand the subscriber a
// concrete busv.BookingResult, not a map[string]interface{}, or every
// consumer's type assertion on Payload silently fails.
func TestRedisBusRoundTripsTypedPayload(t *testing.T) {
	b := newTestRedisBus(t)

	sub, err := b.Subscribe(EventBookingResult, "s-1", 10)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	want := BookingResult{SessionID: "s-1", Success: true, ConfirmationNumber: "CONF-1", Slot: AppointmentAvailability{SlotID: "slot-1"}}
	if err := b.Publish(context.Background(), Envelope{Type: EventBookingResult, SessionID: "s-1", Payload: want}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-sub.C:
		got, ok := env.Payload.(BookingResult)
		if !ok {
			t.Fatalf("Payload = %#v (%T), want BookingResult", env.Payload, env.Payload)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

// TestRedisBusRoundTripsAppointmentAvailability covers the other
// concrete payload type a booker's type assertion depends on.
func TestRedisBusRoundTripsAppointmentAvailability(t *testing.T) {
	b := newTestRedisBus(t)

	sub, err := b.Subscribe(EventAppointmentAvailable, "s-1", 10)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	want := AppointmentAvailability{SessionID: "s-1", SlotID: "slot-1", SlotTime: time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)}
	if err := b.Publish(context.Background(), Envelope{Type: EventAppointmentAvailable, SessionID: "s-1", Payload: want}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-sub.C:
		got, ok := env.Payload.(AppointmentAvailability)
		if !ok {
			t.Fatalf("Payload = %#v (%T), want AppointmentAvailability", env.Payload, env.Payload)
		}
		if !got.SlotTime.Equal(want.SlotTime) || got.SlotID != want.SlotID {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

// TestRedisBusSessionFilterExcludesOtherSessions covers invariant 2
// against the distributed implementation specifically.
func TestRedisBusSessionFilterExcludesOtherSessions(t *testing.T) {
	b := newTestRedisBus(t)

	sub, err := b.Subscribe(EventHeartbeat, "s-1", 10)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := b.Publish(context.Background(), Envelope{Type: EventHeartbeat, SessionID: "s-2", Payload: Heartbeat{Status: HeartbeatOK}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Publish(context.Background(), Envelope{Type: EventHeartbeat, SessionID: "s-1", Payload: Heartbeat{Status: HeartbeatError}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-sub.C:
		got, ok := env.Payload.(Heartbeat)
		if !ok || got.Status != HeartbeatError {
			t.Fatalf("unexpected envelope %+v, want the s-1 heartbeat only", env)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

// TestRedisBusUnsubscribeReleasesCancel guards against leaking one
// CancelFunc per past subscription on a long-lived RedisBus.
func TestRedisBusUnsubscribeReleasesCancel(t *testing.T) {
	b := newTestRedisBus(t)

	sub, err := b.Subscribe(EventHeartbeat, "s-1", 10)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	b.mu.Lock()
	before := len(b.cancels)
	b.mu.Unlock()
	if before != 1 {
		t.Fatalf("cancels after Subscribe = %d, want 1", before)
	}

	sub.Close()

	b.mu.Lock()
	after := len(b.cancels)
	b.mu.Unlock()
	if after != 0 {
		t.Fatalf("cancels after unsubscribe = %d, want 0 (leaked a CancelFunc)", after)
	}
}

// TestRedisBusClosedSentinel mirrors S5 against the distributed bus.
func TestRedisBusClosedSentinel(t *testing.T) {
	b := newTestRedisBus(t)

	sub, err := b.Subscribe(EventHeartbeat, "", 10)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case env, ok := <-sub.C:
		if !ok || !env.IsClosed() {
			t.Fatalf("expected closed sentinel, got %+v (ok=%v)", env, ok)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for closed sentinel")
	}

	if err := b.Publish(context.Background(), Envelope{Type: EventHeartbeat, Payload: Heartbeat{}}); err != ErrClosed {
		t.Fatalf("Publish after Close = %v, want ErrClosed", err)
	}
}
