// Package provider defines the external collaborators a monitor and
// booker agent delegate to: the site-specific code that actually
// drives a browser, solves a CAPTCHA, or submits a booking form.
// Those concerns are explicitly out of scope for this runtime — it
// only defines and consumes the interfaces.
package provider

import (
	"context"
	"fmt"

	"github.com/nugget/agentbot/internal/bus"
	"github.com/nugget/agentbot/internal/session"
)

// AvailabilityProvider watches the external site on behalf of one
// session. EnsureLogin is called once, before the poll loop begins,
// and may perform slow interactive flows (CAPTCHA solving, OTP
// retrieval via the email package). Check is called on every poll and
// must return promptly.
type AvailabilityProvider interface {
	// EnsureLogin establishes the provider's session with the external
	// site. It is allowed to block for an extended period and must
	// return a permanent error if login cannot ultimately succeed.
	EnsureLogin(ctx context.Context, cfg session.AgentConfig) error

	// Check polls for currently available slots. Every returned
	// AppointmentAvailability.SessionID must equal cfg.SessionID.
	Check(ctx context.Context, cfg session.AgentConfig) ([]bus.AppointmentAvailability, error)
}

// BookingProvider attempts to reserve a specific slot on the external
// site. Book should be idempotent where the remote allows it; on an
// ambiguous outcome (e.g. a timeout after submission) it must return
// success=false with a message noting the slot may already be booked,
// never raise and lose that information.
type BookingProvider interface {
	Book(ctx context.Context, req bus.BookingRequest, cfg session.AgentConfig) (bus.BookingResult, error)
}

// Unconfigured satisfies both AvailabilityProvider and BookingProvider
// by always failing. It exists so the runtime has something to wire up
// out of the box; any real deployment replaces it with a site-specific
// provider that drives the actual browser/CAPTCHA/form-filling stack.
type Unconfigured struct{}

func (Unconfigured) EnsureLogin(ctx context.Context, cfg session.AgentConfig) error {
	return fmt.Errorf("no provider configured for session %s", cfg.SessionID)
}

func (Unconfigured) Check(ctx context.Context, cfg session.AgentConfig) ([]bus.AppointmentAvailability, error) {
	return nil, fmt.Errorf("no provider configured for session %s", cfg.SessionID)
}

func (Unconfigured) Book(ctx context.Context, req bus.BookingRequest, cfg session.AgentConfig) (bus.BookingResult, error) {
	return bus.BookingResult{}, fmt.Errorf("no provider configured for session %s", cfg.SessionID)
}
