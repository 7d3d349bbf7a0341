// Package runtime wires together one monitor and one booker per
// session and drives them for the lifetime of the process.
package runtime

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	busv "github.com/nugget/agentbot/internal/bus"
	"github.com/nugget/agentbot/internal/lifecycle"
	"github.com/nugget/agentbot/internal/planner"
	"github.com/nugget/agentbot/internal/session"
)

// MonitorFactory builds a started-capable monitor worker for one
// session, given its derived AgentConfig and persisted Record.
// Factories are the dependency-injection seam between the runtime and
// whatever AvailabilityProvider a deployment wires up.
type MonitorFactory func(cfg session.AgentConfig, rec session.Record) (*lifecycle.Worker, error)

// BookingFactory is MonitorFactory's counterpart for booker agents.
type BookingFactory func(cfg session.AgentConfig, rec session.Record) (*lifecycle.Worker, error)

// bundle is the pair of workers owned by one session.
type bundle struct {
	sessionID string
	monitor   *lifecycle.Worker
	booker    *lifecycle.Worker
}

// Runtime bootstraps and supervises every session's monitor+booker
// pair. A crash or factory failure for one session is isolated; it
// never prevents other sessions from running.
type Runtime struct {
	store               *session.Store
	bus                 busv.Bus
	planner             *planner.Planner
	logger              *slog.Logger
	defaultPollInterval int

	mu        sync.Mutex
	bundles   []*bundle
	started   bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// New constructs a Runtime. logger may be nil, in which case
// slog.Default() is used.
func New(store *session.Store, bus busv.Bus, pl *planner.Planner, defaultPollInterval int, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{store: store, bus: bus, planner: pl, defaultPollInterval: defaultPollInterval, logger: logger}
}

// Bootstrap reads every persisted SessionRecord and constructs one
// monitor+booker bundle per session via the supplied factories. A
// factory failure for a single session is logged and that session is
// skipped; bootstrap itself only fails if the store cannot be read at
// all (which Open would already have surfaced before Bootstrap is
// ever called).
func (r *Runtime) Bootstrap(monitorFactory MonitorFactory, bookingFactory BookingFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.store.List() {
		cfg := session.DeriveAgentConfig(rec, r.defaultPollInterval)

		monitorWorker, err := monitorFactory(cfg, rec)
		if err != nil {
			r.logger.Error("monitor factory failed, skipping session", "session_id", rec.SessionID, "error", err)
			continue
		}
		bookerWorker, err := bookingFactory(cfg, rec)
		if err != nil {
			r.logger.Error("booking factory failed, skipping session", "session_id", rec.SessionID, "error", err)
			continue
		}

		r.bundles = append(r.bundles, &bundle{sessionID: rec.SessionID, monitor: monitorWorker, booker: bookerWorker})
	}
}

// Start starts every bootstrapped bundle. Idempotent: a second call
// is a no-op.
func (r *Runtime) Start(parent context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(parent)

	for _, b := range r.bundles {
		b.monitor.Start(r.ctx)
		b.booker.Start(r.ctx)
		r.logger.Info("session started", "session_id", b.sessionID)
	}
}

// Stop cancels every worker in parallel, waits for all of them to
// finish, and closes the bus. Individual worker stop failures cannot
// occur (Stop never returns an error) but are isolated regardless:
// one session's teardown cannot block another's.
func (r *Runtime) Stop() {
	r.mu.Lock()
	bundles := r.bundles
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var wg sync.WaitGroup
	for _, b := range bundles {
		wg.Add(1)
		go func(b *bundle) {
			defer wg.Done()
			b.monitor.Stop()
			b.booker.Stop()
		}(b)
	}
	wg.Wait()

	if err := r.bus.Close(); err != nil {
		r.logger.Warn("bus close failed", "error", err)
	}
}

// RunForever starts the runtime and blocks until it receives
// SIGINT/SIGTERM or ctx is cancelled, then performs a clean Stop.
func (r *Runtime) RunForever(ctx context.Context) error {
	r.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		r.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
		r.logger.Info("context cancelled, shutting down")
	}

	r.Stop()
	return nil
}

// SessionIDs returns the session ids of every bootstrapped bundle, for
// the admin surface's health check.
func (r *Runtime) SessionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.bundles))
	for _, b := range r.bundles {
		ids = append(ids, b.sessionID)
	}
	return ids
}

// Started reports whether Start has been called.
func (r *Runtime) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}
