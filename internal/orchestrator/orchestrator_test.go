package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/kestrel/internal/model"
)

type recordingStore struct {
	mu      sync.Mutex
	actions []model.AgentAction
	err     error
}

func (s *recordingStore) RecordAction(_ context.Context, a model.AgentAction) (model.AgentAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.AgentAction{}, s.err
	}
	s.actions = append(s.actions, a)
	return a, nil
}

func (s *recordingStore) byDescription(substr string) []model.AgentAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AgentAction
	for _, a := range s.actions {
		if a.Description == substr {
			out = append(out, a)
		}
	}
	return out
}

type stubCapability struct {
	name    string
	enabled bool
	runErr  error
	panics  bool
	block   time.Duration
	runs    int
	mu      sync.Mutex
}

func (c *stubCapability) Name() string  { return c.name }
func (c *stubCapability) Enabled() bool { return c.enabled }

func (c *stubCapability) Run(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	c.runs++
	c.mu.Unlock()
	if c.panics {
		panic("boom")
	}
	if c.block > 0 {
		select {
		case <-time.After(c.block):
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
	if c.runErr != nil {
		return Outcome{}, c.runErr
	}
	return Outcome{Summary: map[string]any{"issues_found": 2}}, nil
}

func (c *stubCapability) runCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func testConfig() Config {
	return Config{
		PollInterval:         time.Minute,
		CycleTimeout:         time.Second,
		MaxConsecutiveErrors: 3,
		ShortBackoff:         time.Second,
		LongBackoff:          5 * time.Second,
		ShutdownGrace:        100 * time.Millisecond,
	}
}

func newTestOrchestrator(store ActionStore, caps ...Capability) *Orchestrator {
	return New(caps, store, testConfig(), nil, slog.New(slog.DiscardHandler))
}

func TestTriggerNowUnknownCapability(t *testing.T) {
	o := newTestOrchestrator(&recordingStore{}, &stubCapability{name: "pipeline", enabled: true})
	err := o.TriggerNow("nope")
	assert.ErrorIs(t, err, ErrUnknownCapability)
}

func TestTriggerNowDisabledCapability(t *testing.T) {
	o := newTestOrchestrator(&recordingStore{}, &stubCapability{name: "pipeline", enabled: false})
	err := o.TriggerNow("pipeline")
	assert.ErrorIs(t, err, ErrCapabilityDisabled)
}

func TestTriggerNowQueueFull(t *testing.T) {
	o := newTestOrchestrator(&recordingStore{}, &stubCapability{name: "pipeline", enabled: true})
	for i := 0; i < cap(o.triggerCh); i++ {
		require.NoError(t, o.TriggerNow("pipeline"))
	}
	assert.ErrorIs(t, o.TriggerNow("pipeline"), ErrQueueFull)
}

func TestHealthStartsNotInitialized(t *testing.T) {
	o := newTestOrchestrator(&recordingStore{}, &stubCapability{name: "pipeline", enabled: true})
	h := o.Health()
	assert.False(t, h.Running)
	assert.Equal(t, uint64(0), h.CycleCount)
	require.Contains(t, h.Capabilities, "pipeline")
	assert.Equal(t, StatusNotInitialized, h.Capabilities["pipeline"].Status)
}

func TestRunCycleFansOutEnabledCapabilities(t *testing.T) {
	store := &recordingStore{}
	enabled := &stubCapability{name: "pipeline", enabled: true}
	disabled := &stubCapability{name: "deployment", enabled: false}
	o := newTestOrchestrator(store, enabled, disabled)

	err := o.runCycle(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, enabled.runCount())
	assert.Equal(t, 0, disabled.runCount())

	h := o.Health()
	assert.Equal(t, uint64(1), h.CycleCount)
	require.NotNil(t, h.LastCycleAt)
	assert.Equal(t, StatusHealthy, h.Capabilities["pipeline"].Status)
	assert.Equal(t, StatusNotInitialized, h.Capabilities["deployment"].Status)

	// One audit row per capability pass plus one for the cycle itself.
	passes := store.byDescription("pipeline capability pass")
	require.Len(t, passes, 1)
	assert.Equal(t, model.ActionCompleted, passes[0].Status)
	assert.Equal(t, 2, passes[0].Data["issues_found"])
	require.NotEmpty(t, passes[0].Data["cycle_id"])
}

func TestRunCycleNamedCapabilityOnly(t *testing.T) {
	store := &recordingStore{}
	pipeline := &stubCapability{name: "pipeline", enabled: true}
	deployment := &stubCapability{name: "deployment", enabled: true}
	o := newTestOrchestrator(store, pipeline, deployment)

	require.NoError(t, o.runCycle(context.Background(), "deployment"))
	assert.Equal(t, 0, pipeline.runCount())
	assert.Equal(t, 1, deployment.runCount())
}

func TestTriggeredPassDoesNotRunFullCycle(t *testing.T) {
	store := &recordingStore{}
	pipeline := &stubCapability{name: "pipeline", enabled: true}
	deployment := &stubCapability{name: "deployment", enabled: true}
	cfg := testConfig()
	cfg.PollInterval = time.Hour
	o := New([]Capability{pipeline, deployment}, store, cfg, nil, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	require.Eventually(t, func() bool { return deployment.runCount() == 1 },
		2*time.Second, 10*time.Millisecond, "initial scheduled cycle")

	require.NoError(t, o.TriggerNow("pipeline"))
	require.Eventually(t, func() bool { return pipeline.runCount() == 2 },
		2*time.Second, 10*time.Millisecond, "triggered pass")

	// The trigger runs only the named capability; the sibling stays at its
	// scheduled count.
	assert.Equal(t, 1, deployment.runCount())

	cancel()
	<-o.Done()
}

func TestRunCycleIsolatesCapabilityFailure(t *testing.T) {
	store := &recordingStore{}
	failing := &stubCapability{name: "pipeline", enabled: true, runErr: errors.New("feed unreachable")}
	healthy := &stubCapability{name: "deployment", enabled: true}
	o := newTestOrchestrator(store, failing, healthy)

	err := o.runCycle(context.Background(), "")
	require.NoError(t, err, "a capability failure is not an orchestrator failure")

	assert.Equal(t, 1, healthy.runCount())
	h := o.Health()
	assert.Equal(t, StatusDegraded, h.Capabilities["pipeline"].Status)
	assert.Contains(t, h.Capabilities["pipeline"].LastError, "feed unreachable")
	assert.Equal(t, StatusHealthy, h.Capabilities["deployment"].Status)

	passes := store.byDescription("pipeline capability pass")
	require.Len(t, passes, 1)
	assert.Equal(t, model.ActionFailed, passes[0].Status)
	assert.Contains(t, passes[0].Data["error"], "feed unreachable")
}

func TestRunCycleIsolatesCapabilityPanic(t *testing.T) {
	store := &recordingStore{}
	panicking := &stubCapability{name: "pipeline", enabled: true, panics: true}
	o := newTestOrchestrator(store, panicking)

	err := o.runCycle(context.Background(), "")
	require.NoError(t, err)

	h := o.Health()
	assert.Equal(t, StatusDegraded, h.Capabilities["pipeline"].Status)
	assert.Contains(t, h.Capabilities["pipeline"].LastError, "panic")
}

func TestRunCycleTimeout(t *testing.T) {
	store := &recordingStore{}
	slow := &stubCapability{name: "pipeline", enabled: true, block: 5 * time.Second}
	o := newTestOrchestrator(store, slow)

	err := o.runCycle(context.Background(), "")
	require.NoError(t, err)

	h := o.Health()
	assert.Equal(t, StatusTimeout, h.Capabilities["pipeline"].Status)

	cycles := store.byDescription("monitoring cycle timed out after 1s")
	require.Len(t, cycles, 1)
	assert.Equal(t, true, cycles[0].Data["timed_out"])
}

func TestRunCycleRecordFailureIsOrchestratorError(t *testing.T) {
	store := &recordingStore{err: errors.New("database down")}
	o := newTestOrchestrator(store, &stubCapability{name: "pipeline", enabled: true})

	err := o.runCycle(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record cycle action")
}
