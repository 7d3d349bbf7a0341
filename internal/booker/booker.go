// Package booker implements the per-session agent that races to
// reserve a slot once its paired monitor reports one available.
package booker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/agentbot/internal/audit"
	busv "github.com/nugget/agentbot/internal/bus"
	"github.com/nugget/agentbot/internal/lifecycle"
	"github.com/nugget/agentbot/internal/lock"
	"github.com/nugget/agentbot/internal/planner"
	"github.com/nugget/agentbot/internal/provider"
	"github.com/nugget/agentbot/internal/session"
)

// Agent subscribes to AppointmentAvailable envelopes for one session
// and attempts to book each one under an exclusive lease, so that two
// booker instances racing the same session never both call the
// booking provider for the same slot.
type Agent struct {
	cfg      session.AgentConfig
	provider provider.BookingProvider
	bus      busv.Bus
	locks    lock.Manager
	planner  *planner.Planner
	audit    *audit.Logger
	lockTTL  time.Duration
	logger   *slog.Logger
}

// New constructs a booking Agent. logger may be nil, in which case
// slog.Default() is used.
func New(cfg session.AgentConfig, p provider.BookingProvider, b busv.Bus, locks lock.Manager, pl *planner.Planner, auditLog *audit.Logger, lockTTL time.Duration, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		cfg: cfg, provider: p, bus: b, locks: locks, planner: pl, audit: auditLog, lockTTL: lockTTL,
		logger: logger.With("session_id", cfg.SessionID, "agent", "booker"),
	}
}

// Worker returns a lifecycle.Worker running this agent's loop.
func (a *Agent) Worker() *lifecycle.Worker {
	return lifecycle.New(a.Run)
}

// lockKey is the key this agent's lease is scoped to, per §4.8: "book:{session_id}".
func (a *Agent) lockKey() string {
	return "book:" + a.cfg.SessionID
}

// Run subscribes to AppointmentAvailable filtered to this session and
// attempts to book each arriving slot, until ctx is cancelled or the
// bus delivers its close sentinel.
func (a *Agent) Run(ctx context.Context) {
	sub, err := a.bus.Subscribe(busv.EventAppointmentAvailable, a.cfg.SessionID, 10)
	if err != nil {
		a.logger.Error("subscribe failed, booker exiting", "error", err)
		return
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C:
			if !ok {
				return
			}
			if env.IsClosed() {
				return
			}
			if lifecycle.ShouldStop(ctx) {
				return
			}
			slot, ok := env.Payload.(busv.AppointmentAvailability)
			if !ok {
				continue
			}
			a.handle(ctx, slot)
		}
	}
}

func (a *Agent) handle(ctx context.Context, slot busv.AppointmentAvailability) {
	if _, err := a.planner.OnBookingAttempt(a.cfg.SessionID); err != nil {
		a.logger.Debug("planner rejected on_booking_attempt", "error", err)
	}

	lease, err := a.locks.TryAcquire(ctx, a.lockKey(), a.lockTTL)
	if err == lock.ErrNotAcquired {
		// Not an error: another worker owns the attempt. Skip silently
		// per §7's error taxonomy, aside from an info-level log.
		a.logger.Info("lock not acquired, skipping availability envelope", "slot_id", slot.SlotID)
		return
	}
	if err != nil {
		a.logger.Error("lock acquire failed", "error", err)
		return
	}

	result := a.invokeProvider(ctx, slot)

	// The lock must not be held across the publish or audit write
	// (§4.8), so release before either.
	if relErr := lease.Release(ctx); relErr != nil && relErr != lock.ErrNotHeld {
		a.logger.Warn("lock release failed", "error", relErr)
	}

	a.publishResult(ctx, result)
	a.recordAudit(result)

	if _, err := a.planner.OnBookingResult(a.cfg.SessionID, result.Success); err != nil {
		a.logger.Debug("planner rejected on_booking_result", "error", err)
	}
}

func (a *Agent) invokeProvider(ctx context.Context, slot busv.AppointmentAvailability) busv.BookingResult {
	req := busv.BookingRequest{SessionID: a.cfg.SessionID, Slot: slot}

	result, err := func() (result busv.BookingResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return a.provider.Book(ctx, req, a.cfg)
	}()

	if err != nil {
		return busv.BookingResult{
			SessionID: a.cfg.SessionID,
			Success:   false,
			Message:   err.Error(),
			Slot:      slot,
		}
	}
	if result.SessionID == "" {
		result.SessionID = a.cfg.SessionID
	}
	if result.Slot.SlotID == "" {
		result.Slot = slot
	}
	return result
}

func (a *Agent) publishResult(ctx context.Context, result busv.BookingResult) {
	env := busv.Envelope{
		Type:      busv.EventBookingResult,
		SessionID: a.cfg.SessionID,
		Payload:   result,
	}
	if err := a.bus.Publish(ctx, env); err != nil {
		a.logger.Warn("publish BookingResult failed", "error", err)
	}
}

func (a *Agent) recordAudit(result busv.BookingResult) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log("booking_result", a.cfg.SessionID, result); err != nil {
		a.logger.Warn("audit write failed", "error", err)
	}
}
