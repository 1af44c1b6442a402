package platform

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/telempipe/config"
	pipeerrors "github.com/c360/telempipe/errors"
	"github.com/c360/telempipe/event"
	"github.com/c360/telempipe/metric"
	"github.com/c360/telempipe/mode"
	"github.com/c360/telempipe/stream"
)

// fakeDiscovery returns a fixed resource set per provider. With err set it
// fails every call, or only the first failFirst calls when that is positive.
type fakeDiscovery struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	resources map[string][]map[string]any
	err       error
}

func (f *fakeDiscovery) Discover(_ context.Context, provider string) (DiscoveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil && (f.failFirst == 0 || f.calls <= f.failFirst) {
		return DiscoveryResult{}, f.err
	}
	return DiscoveryResult{Provider: provider, Resources: f.resources[provider]}, nil
}

func (f *fakeDiscovery) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// testSink captures delivered records.
type testSink struct {
	mu      sync.Mutex
	records []stream.Record
}

func (s *testSink) deliver(_ context.Context, batch []stream.Record, _ stream.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, batch...)
	return nil
}

func (s *testSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *testSink) sources() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for _, r := range s.records {
		out[r.Source]++
	}
	return out
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Platform.ShutdownGrace = config.Duration(2 * time.Second)
	cfg.Sink.MetricsURL = "https://metrics.invalid/v1"
	cfg.Sink.EventsURL = "https://events.invalid/v1"
	cfg.Sink.APIKey = "test-key"
	cfg.Streaming.BatchSize = 1000
	cfg.Streaming.FlushInterval = config.Duration(20 * time.Millisecond)
	cfg.Pool.Workers = 2
	cfg.Pool.TaskTimeout = config.Duration(time.Second)
	cfg.Simulation = config.Simulation{
		Scenarios:    []string{"kafka-cluster"},
		EntityCount:  2,
		TickInterval: config.Duration(10 * time.Millisecond),
	}
	cfg.Infrastructure = config.Infrastructure{
		Providers:    []string{"aws"},
		PollInterval: config.Duration(10 * time.Millisecond),
	}
	return cfg
}

func testCollaborators() Collaborators {
	return Collaborators{
		Discovery: &fakeDiscovery{resources: map[string][]map[string]any{
			"aws": {
				{"id": "i-1", "type": "broker"},
				{"id": "i-2", "type": "broker"},
			},
		}},
		Transform: func(resource map[string]any) (map[string]any, error) {
			return map[string]any{
				"name":   "broker.bytesIn",
				"value":  42.0,
				"entity": resource["id"],
			}, nil
		},
		Generate: func(_ context.Context, scenario string, entity int) (map[string]any, error) {
			return map[string]any{
				"eventType": "SyntheticSample",
				"scenario":  scenario,
				"entity":    entity,
			}, nil
		},
		Enrich: func(record map[string]any) map[string]any {
			record["enriched"] = true
			return record
		},
	}
}

func newTestOrchestrator(t *testing.T, cfg config.Config) (*Orchestrator, *testSink) {
	t.Helper()
	sink := &testSink{}
	o := New(cfg, testCollaborators(), WithSink(sink.deliver))
	require.NoError(t, o.Initialize())
	t.Cleanup(func() { _ = o.Shutdown() })
	return o, sink
}

func TestInitializeValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Platform.Mode = "chaos"
	o := New(cfg, testCollaborators(), WithSink((&testSink{}).deliver))
	err := o.Initialize()
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeerrors.ErrInvalidMode)
}

func TestInitializeTwiceFails(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig())
	require.ErrorIs(t, o.Initialize(), pipeerrors.ErrAlreadyStarted)
}

func TestStartPipelineRequiresInitialize(t *testing.T) {
	o := New(testConfig(), testCollaborators(), WithSink((&testSink{}).deliver))
	err := o.StartPipeline(context.Background())
	require.ErrorIs(t, err, pipeerrors.ErrNotStarted)
}

func TestSimulationFlow(t *testing.T) {
	o, sink := newTestOrchestrator(t, testConfig())

	require.NoError(t, o.StartPipeline(context.Background()))

	// Generated records pass through enrichment on the way to the buffers.
	assert.Eventually(t, func() bool { return sink.count() >= 2 }, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	first := sink.records[0]
	sink.mu.Unlock()
	assert.Equal(t, "kafka-cluster", first.Source)
	assert.Equal(t, true, first.Payload["enriched"])
	assert.Equal(t, "SyntheticSample", first.Payload["eventType"])

	st := o.Status()
	assert.True(t, st.Running)
	assert.Equal(t, mode.ModeSimulation, st.Mode)
	assert.Greater(t, st.Processed, uint64(0))
	assert.True(t, st.Health.IsHealthy())

	require.NoError(t, o.StopPipeline())
	assert.False(t, o.Status().Running)
}

func TestSwitchModeRewiresEdges(t *testing.T) {
	o, sink := newTestOrchestrator(t, testConfig())

	require.NoError(t, o.StartPipeline(context.Background()))

	res, err := o.SwitchMode(context.Background(), mode.ModeInfrastructure,
		mode.Options{Providers: []string{"aws"}})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, mode.ModeSimulation, res.From)

	// Discovered resources flow through transform into the sink tagged with
	// their provider.
	assert.Eventually(t, func() bool {
		return sink.sources()["aws"] >= 2
	}, 2*time.Second, 10*time.Millisecond)

	st := o.Status()
	assert.Equal(t, mode.ModeInfrastructure, st.Mode)
	assert.True(t, st.Modes.Handlers[mode.ModeInfrastructure].Active)
	assert.False(t, st.Modes.Handlers[mode.ModeSimulation].Active)
}

func TestHybridRunsBothPaths(t *testing.T) {
	o, sink := newTestOrchestrator(t, testConfig())

	require.NoError(t, o.StartPipeline(context.Background()))

	_, err := o.SwitchMode(context.Background(), mode.ModeHybrid, mode.Options{
		Weights:   mode.Weights{Infrastructure: 70, Simulation: 30},
		Providers: []string{"aws"},
		Scenarios: []string{"kafka-cluster"},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		srcs := sink.sources()
		return srcs["aws"] > 0 && srcs["kafka-cluster"] > 0
	}, 2*time.Second, 10*time.Millisecond)

	st := o.Status()
	assert.True(t, st.Modes.Handlers[mode.ModeHybrid].Active)
}

func TestHybridWeightValidationRejected(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig())

	require.NoError(t, o.StartPipeline(context.Background()))

	_, err := o.SwitchMode(context.Background(), mode.ModeHybrid, mode.Options{
		Weights: mode.Weights{Infrastructure: 50, Simulation: 40},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeerrors.ErrInvalidModeConfig)
	assert.Equal(t, mode.ModeSimulation, o.Status().Mode)
}

func TestSwitchModeRequiresRunning(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig())

	_, err := o.SwitchMode(context.Background(), mode.ModeSimulation, mode.Options{
		Scenarios: []string{"kafka-cluster"},
	})
	require.ErrorIs(t, err, pipeerrors.ErrNotStarted)
}

func TestDiscoveryFailureDoesNotCrashPipeline(t *testing.T) {
	cfg := testConfig()
	cfg.Platform.Mode = string(mode.ModeInfrastructure)

	sink := &testSink{}
	collab := testCollaborators()
	collab.Discovery = &fakeDiscovery{err: fmt.Errorf("provider api unreachable")}
	o := New(cfg, collab, WithSink(sink.deliver))
	require.NoError(t, o.Initialize())
	t.Cleanup(func() { _ = o.Shutdown() })

	require.NoError(t, o.StartPipeline(context.Background()))
	time.Sleep(50 * time.Millisecond)

	st := o.Status()
	assert.True(t, st.Running)
	assert.Zero(t, sink.count())
}

func TestShutdownIdempotent(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig())

	require.NoError(t, o.StartPipeline(context.Background()))
	require.NoError(t, o.Shutdown())
	assert.False(t, o.Status().Running)
	require.NoError(t, o.Shutdown())

	// The pipeline cannot be restarted after shutdown.
	err := o.StartPipeline(context.Background())
	require.ErrorIs(t, err, pipeerrors.ErrAlreadyStopped)
}

func TestRestartResetsCounters(t *testing.T) {
	o, sink := newTestOrchestrator(t, testConfig())

	require.NoError(t, o.StartPipeline(context.Background()))
	assert.Eventually(t, func() bool { return sink.count() > 0 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, o.StopPipeline())

	processedBefore := o.Status().Processed
	assert.Greater(t, processedBefore, uint64(0))

	require.NoError(t, o.StartPipeline(context.Background()))
	// Counters restart from zero; they can only have accumulated since the
	// second start.
	assert.LessOrEqual(t, o.Status().Processed, processedBefore)
	require.NoError(t, o.StopPipeline())
}

func TestHealthFollowsLifecycle(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig())

	// Initialized but not started.
	assert.True(t, o.Status().Health.IsUnhealthy())

	require.NoError(t, o.StartPipeline(context.Background()))
	assert.True(t, o.Status().Health.IsHealthy())

	require.NoError(t, o.StopPipeline())
	assert.True(t, o.Status().Health.IsUnhealthy())
}

func TestBreakerOpenDegradesHealth(t *testing.T) {
	cfg := testConfig()
	cfg.Streaming.BreakerThreshold = 1

	failingSink := func(context.Context, []stream.Record, stream.Kind) error {
		return fmt.Errorf("ingest endpoint down")
	}
	o := New(cfg, testCollaborators(),
		WithSink(failingSink),
		WithBus(event.NewBus(nil, nil)))
	require.NoError(t, o.Initialize())
	t.Cleanup(func() { _ = o.Shutdown() })

	require.NoError(t, o.StartPipeline(context.Background()))

	// Every delivery fails, so the first flush opens the breaker and its
	// failure event downgrades the stream health entry.
	assert.Eventually(t, func() bool {
		return o.Status().Health.IsDegraded()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "open", o.Status().Stream.Breaker.State)
}

func TestDiscoveryRetriedWithinPoll(t *testing.T) {
	cfg := testConfig()
	cfg.Platform.Mode = string(mode.ModeInfrastructure)
	// One poll only; recovery has to come from the in-poll retry.
	cfg.Infrastructure.PollInterval = config.Duration(time.Minute)

	sink := &testSink{}
	collab := testCollaborators()
	disco := &fakeDiscovery{
		failFirst: 1,
		err:       fmt.Errorf("provider api flap"),
		resources: map[string][]map[string]any{
			"aws": {{"id": "i-1", "type": "broker"}},
		},
	}
	collab.Discovery = disco
	o := New(cfg, collab, WithSink(sink.deliver))
	require.NoError(t, o.Initialize())
	t.Cleanup(func() { _ = o.Shutdown() })

	require.NoError(t, o.StartPipeline(context.Background()))

	assert.Eventually(t, func() bool { return sink.count() >= 1 }, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, disco.callCount(), 2)
}

func TestPoolMetricsContinuousAcrossRestart(t *testing.T) {
	reg := metric.NewRegistry()
	sink := &testSink{}
	o := New(testConfig(), testCollaborators(), WithSink(sink.deliver), WithMetrics(reg))
	require.NoError(t, o.Initialize())
	t.Cleanup(func() { _ = o.Shutdown() })

	require.NoError(t, o.StartPipeline(context.Background()))
	assert.Eventually(t, func() bool { return sink.count() > 0 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, o.StopPipeline())

	first := counterValue(reg, "simulation_pool_processed_total")
	assert.Greater(t, first, 0.0)

	// A restart rebuilds the pool, which adopts the registered collectors
	// instead of losing them to a duplicate registration.
	require.NoError(t, o.StartPipeline(context.Background()))
	assert.Eventually(t, func() bool {
		return counterValue(reg, "simulation_pool_processed_total") > first
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, o.StopPipeline())
}

func counterValue(reg *metric.Registry, name string) float64 {
	families, err := reg.PrometheusRegistry().Gather()
	if err != nil {
		return -1
	}
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) == 1 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}
