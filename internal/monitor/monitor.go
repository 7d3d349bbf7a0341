// Package monitor implements the per-session watcher that polls an
// availability provider and publishes what it finds onto the bus.
package monitor

import (
	"context"
	"log/slog"
	"time"

	busv "github.com/nugget/agentbot/internal/bus"
	"github.com/nugget/agentbot/internal/lifecycle"
	"github.com/nugget/agentbot/internal/planner"
	"github.com/nugget/agentbot/internal/provider"
	"github.com/nugget/agentbot/internal/session"
)

// Agent polls an AvailabilityProvider for one session and publishes
// AppointmentAvailable envelopes and Heartbeats. Build one per
// session and drive it with lifecycle.Worker.
type Agent struct {
	cfg      session.AgentConfig
	provider provider.AvailabilityProvider
	bus      busv.Bus
	planner  *planner.Planner
	logger   *slog.Logger
}

// New constructs a monitor Agent. logger may be nil, in which case
// slog.Default() is used.
func New(cfg session.AgentConfig, p provider.AvailabilityProvider, b busv.Bus, pl *planner.Planner, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{cfg: cfg, provider: p, bus: b, planner: pl, logger: logger.With("session_id", cfg.SessionID, "agent", "monitor")}
}

// Worker returns a lifecycle.Worker running this agent's loop.
func (a *Agent) Worker() *lifecycle.Worker {
	return lifecycle.New(a.Run)
}

// Run executes the monitor loop described in §4.7: ensure_login once,
// then poll/publish/sleep until ctx is cancelled. It never returns an
// error — all provider failures are logged and folded into the next
// heartbeat.
func (a *Agent) Run(ctx context.Context) {
	if err := a.provider.EnsureLogin(ctx, a.cfg); err != nil {
		a.logger.Error("ensure_login failed, monitor exiting", "error", err)
		return
	}

	if _, err := a.planner.OnMonitoring(a.cfg.SessionID); err != nil {
		a.logger.Warn("planner rejected on_monitoring", "error", err)
	}

	interval := time.Duration(a.cfg.PollIntervalSeconds) * time.Second

	for {
		if lifecycle.ShouldStop(ctx) {
			return
		}

		status := busv.HeartbeatOK
		if err := a.poll(ctx); err != nil {
			a.logger.Error("check failed", "error", err)
			status = busv.HeartbeatError
		}

		a.publishHeartbeat(ctx, status)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (a *Agent) poll(ctx context.Context) error {
	slots, err := a.provider.Check(ctx, a.cfg)
	if err != nil {
		return err
	}

	for _, slot := range slots {
		slot.SessionID = a.cfg.SessionID

		env := busv.Envelope{
			Type:      busv.EventAppointmentAvailable,
			SessionID: a.cfg.SessionID,
			Payload:   slot,
		}
		if err := a.bus.Publish(ctx, env); err != nil {
			a.logger.Warn("publish AppointmentAvailable failed", "error", err)
			continue
		}
		if _, err := a.planner.OnAvailability(a.cfg.SessionID); err != nil {
			a.logger.Debug("planner rejected on_availability", "error", err)
		}
	}
	return nil
}

func (a *Agent) publishHeartbeat(ctx context.Context, status string) {
	env := busv.Envelope{
		Type:      busv.EventHeartbeat,
		SessionID: a.cfg.SessionID,
		Payload: busv.Heartbeat{
			Agent:     "monitor:" + a.cfg.SessionID,
			Status:    status,
			Timestamp: time.Now().UTC(),
		},
	}
	if err := a.bus.Publish(ctx, env); err != nil {
		a.logger.Debug("publish heartbeat failed", "error", err)
	}
}
