// Package orchestrator runs the monitoring loop: one cycle fans out the
// enabled capabilities concurrently, joins them under the cycle timeout,
// and sleeps until the next cycle. Capability failures are isolated into
// the health snapshot and the audit trail; only orchestrator-level
// failures drive the retry backoff.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelhq/kestrel/internal/model"
	"github.com/kestrelhq/kestrel/internal/telemetry"
)

var (
	// ErrUnknownCapability means TriggerNow named a capability that does
	// not exist.
	ErrUnknownCapability = errors.New("orchestrator: unknown capability")
	// ErrCapabilityDisabled means the named capability lacks the
	// configuration it needs to run.
	ErrCapabilityDisabled = errors.New("orchestrator: capability disabled")
	// ErrQueueFull means the trigger queue is saturated.
	ErrQueueFull = errors.New("orchestrator: trigger queue full")
)

// HealthStatus is the per-capability condition reported by Health.
type HealthStatus string

const (
	StatusHealthy        HealthStatus = "healthy"
	StatusDegraded       HealthStatus = "degraded"
	StatusTimeout        HealthStatus = "timeout"
	StatusNotInitialized HealthStatus = "not_initialized"
)

// CapabilityHealth is one capability's entry in the health snapshot.
type CapabilityHealth struct {
	Status    HealthStatus `json:"status"`
	LastError string       `json:"last_error,omitempty"`
	LastRun   *time.Time   `json:"last_run,omitempty"`
	Duration  string       `json:"duration,omitempty"`
}

// Health is the overall loop snapshot served by the health endpoint.
type Health struct {
	Running      bool                        `json:"running"`
	LastCycleAt  *time.Time                  `json:"last_cycle_at,omitempty"`
	CycleCount   uint64                      `json:"cycle_count"`
	Capabilities map[string]CapabilityHealth `json:"capabilities"`
}

// ActionStore records audit rows for cycles and capability passes.
type ActionStore interface {
	RecordAction(ctx context.Context, a model.AgentAction) (model.AgentAction, error)
}

// Config carries the loop timings.
type Config struct {
	PollInterval         time.Duration
	CycleTimeout         time.Duration
	MaxConsecutiveErrors int
	ShortBackoff         time.Duration
	LongBackoff          time.Duration
	ShutdownGrace        time.Duration
}

// Orchestrator owns the scheduling loop. Cycles never overlap: the next
// cycle starts only after the previous fan-out completed or timed out.
type Orchestrator struct {
	caps    []Capability
	store   ActionStore
	cfg     Config
	metrics *telemetry.Metrics
	logger  *slog.Logger
	started atomic.Bool

	triggerCh chan string
	doneCh    chan struct{}

	mu          sync.RWMutex
	health      map[string]CapabilityHealth
	lastCycleAt *time.Time
	cycleCount  uint64
}

// New builds an orchestrator over the given capabilities. Metrics may be
// nil when telemetry is disabled.
func New(caps []Capability, store ActionStore, cfg Config, metrics *telemetry.Metrics, logger *slog.Logger) *Orchestrator {
	health := make(map[string]CapabilityHealth, len(caps))
	for _, c := range caps {
		health[c.Name()] = CapabilityHealth{Status: StatusNotInitialized}
	}
	return &Orchestrator{
		caps:      caps,
		store:     store,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		triggerCh: make(chan string, 16),
		doneCh:    make(chan struct{}),
		health:    health,
	}
}

// Start launches the loop. It is safe to call once; subsequent calls are
// no-ops.
func (o *Orchestrator) Start(ctx context.Context) {
	if !o.started.CompareAndSwap(false, true) {
		return
	}
	go o.loop(ctx)
}

// Done is closed when the loop has fully exited.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.doneCh
}

// TriggerNow enqueues an immediate out-of-cycle pass for one capability,
// or for all enabled capabilities when name is empty. Returns an error if
// the named capability does not exist or is disabled.
func (o *Orchestrator) TriggerNow(name string) error {
	if name != "" {
		c, ok := o.capability(name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownCapability, name)
		}
		if !c.Enabled() {
			return fmt.Errorf("%w: %q", ErrCapabilityDisabled, name)
		}
	}
	select {
	case o.triggerCh <- name:
		return nil
	default:
		return ErrQueueFull
	}
}

// Health returns a copy of the current loop snapshot.
func (o *Orchestrator) Health() Health {
	o.mu.RLock()
	defer o.mu.RUnlock()

	caps := make(map[string]CapabilityHealth, len(o.health))
	for k, v := range o.health {
		caps[k] = v
	}
	return Health{
		Running:      o.started.Load(),
		LastCycleAt:  o.lastCycleAt,
		CycleCount:   o.cycleCount,
		Capabilities: caps,
	}
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.doneCh)

	retry := &retryState{
		max:   o.cfg.MaxConsecutiveErrors,
		poll:  o.cfg.PollInterval,
		short: o.cfg.ShortBackoff,
		long:  o.cfg.LongBackoff,
	}

	for {
		err := o.runCycle(ctx, "")
		if err != nil {
			o.logger.Error("orchestrator: cycle failed", "error", err)
		}
		sleep := retry.Next(err == nil)

		// Triggered passes run out of cycle: they do not reset the
		// interval and never cascade into a full scheduled cycle.
		timer := time.NewTimer(sleep)
	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				o.logger.Info("orchestrator: loop stopping")
				return
			case name := <-o.triggerCh:
				o.logger.Info("orchestrator: out-of-cycle trigger", "capability", name)
				if err := o.runCycle(ctx, name); err != nil {
					o.logger.Error("orchestrator: triggered pass failed", "error", err)
				}
			case <-timer.C:
				break wait
			}
		}
	}
}

// runCycle fans out the enabled capabilities (or just the named one) and
// joins them under the cycle timeout. Returned errors are
// orchestrator-level only: a capability's own failure lands in the health
// snapshot and the audit trail instead.
func (o *Orchestrator) runCycle(parent context.Context, only string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("orchestrator: cycle panic: %v", r)
		}
	}()

	// The cycle is detached from parent cancellation so shutdown can
	// grant it a grace period instead of killing it mid-write.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), o.cfg.CycleTimeout)
	defer cancel()
	go func() {
		select {
		case <-parent.Done():
			t := time.NewTimer(o.cfg.ShutdownGrace)
			defer t.Stop()
			select {
			case <-t.C:
				cancel()
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}
	}()

	cycleID := uuid.New()
	start := time.Now()
	o.logger.Info("orchestrator: cycle starting", "cycle_id", cycleID)

	g, gctx := errgroup.WithContext(ctx)
	ran := 0
	for _, c := range o.caps {
		if only != "" && c.Name() != only {
			continue
		}
		if !c.Enabled() {
			continue
		}
		ran++
		g.Go(func() error {
			o.runCapability(gctx, c, cycleID)
			return nil
		})
	}
	g.Wait()

	elapsed := time.Since(start)
	timedOut := ctx.Err() != nil && parent.Err() == nil
	o.metrics.RecordCycle(context.WithoutCancel(parent), elapsed.Seconds(), timedOut)

	now := time.Now().UTC()
	o.mu.Lock()
	o.lastCycleAt = &now
	o.cycleCount++
	o.mu.Unlock()

	status := model.ActionCompleted
	desc := fmt.Sprintf("monitoring cycle over %d capabilities", ran)
	if timedOut {
		desc = fmt.Sprintf("monitoring cycle timed out after %s", o.cfg.CycleTimeout)
		o.logger.Warn("orchestrator: cycle timed out", "cycle_id", cycleID, "elapsed", elapsed)
	}
	action := model.NewAgentAction(model.ActionMonitoring, status, desc, map[string]any{
		"cycle_id":     cycleID.String(),
		"capabilities": ran,
		"elapsed_ms":   elapsed.Milliseconds(),
		"timed_out":    timedOut,
	})
	if _, aerr := o.store.RecordAction(context.WithoutCancel(parent), action); aerr != nil {
		return fmt.Errorf("orchestrator: record cycle action: %w", aerr)
	}

	o.logger.Info("orchestrator: cycle finished",
		"cycle_id", cycleID, "capabilities", ran, "elapsed", elapsed)
	return nil
}

// runCapability executes one capability with panic isolation and updates
// its health entry.
func (o *Orchestrator) runCapability(ctx context.Context, c Capability, cycleID uuid.UUID) {
	start := time.Now()

	var outcome Outcome
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		outcome, err = c.Run(ctx)
	}()
	elapsed := time.Since(start)
	now := time.Now().UTC()

	entry := CapabilityHealth{
		Status:   StatusHealthy,
		LastRun:  &now,
		Duration: elapsed.Round(time.Millisecond).String(),
	}
	if err != nil {
		entry.Status = StatusDegraded
		entry.LastError = err.Error()
		if ctx.Err() != nil {
			entry.Status = StatusTimeout
		}
		o.logger.Error("orchestrator: capability failed",
			"capability", c.Name(), "cycle_id", cycleID, "error", err)
	}

	o.mu.Lock()
	o.health[c.Name()] = entry
	o.mu.Unlock()

	status := model.ActionCompleted
	data := map[string]any{
		"cycle_id":   cycleID.String(),
		"capability": c.Name(),
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		status = model.ActionFailed
		data["error"] = err.Error()
	} else {
		for k, v := range outcome.Summary {
			data[k] = v
		}
		if n, ok := outcome.Summary["issues_found"].(int); ok {
			o.metrics.RecordIssues(ctx, c.Name(), n)
		}
	}
	action := model.NewAgentAction(model.ActionMonitoring, status,
		c.Name()+" capability pass", data)
	if _, aerr := o.store.RecordAction(context.WithoutCancel(ctx), action); aerr != nil {
		o.logger.Warn("orchestrator: record capability action",
			"capability", c.Name(), "error", aerr)
	}
}

func (o *Orchestrator) capability(name string) (Capability, bool) {
	for _, c := range o.caps {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}
