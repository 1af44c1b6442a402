package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/c360/telempipe/errors"
)

// captureSink records every delivery and fails the first failN calls.
type captureSink struct {
	mu      sync.Mutex
	batches [][]Record
	kinds   []Kind
	calls   int
	failN   int
}

func (c *captureSink) sink(_ context.Context, batch []Record, kind Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if c.calls <= c.failN {
		return fmt.Errorf("sink unavailable")
	}
	copied := make([]Record, len(batch))
	copy(copied, batch)
	c.batches = append(c.batches, copied)
	c.kinds = append(c.kinds, kind)
	return nil
}

func (c *captureSink) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func metricPayload(i int) map[string]any {
	return map[string]any{"name": "test.metric", "value": i}
}

func newOrchestrator(t *testing.T, cfg Config, sink Sink) *Orchestrator {
	t.Helper()
	o, err := New(cfg, sink)
	require.NoError(t, err)
	return o
}

func TestNewRequiresSink(t *testing.T) {
	_, err := New(DefaultConfig(), nil)
	require.Error(t, err)
	assert.True(t, pipeerrors.IsInvalid(err))
}

func TestStreamBatchingPreservesOrder(t *testing.T) {
	cs := &captureSink{}
	o := newOrchestrator(t, Config{
		BatchSize:     3,
		FlushInterval: time.Hour, // size-triggered and final flushes only
	}, cs.sink)

	require.NoError(t, o.Start(context.Background()))
	for i := 0; i < 10; i++ {
		require.NoError(t, o.Stream(metricPayload(i), StreamOptions{Source: "test"}))
	}
	require.NoError(t, o.Stop(time.Second))

	// 10 records at batch size 3: three full batches plus the trailing
	// partial delivered by the final flush.
	require.Len(t, cs.batches, 4)
	assert.Len(t, cs.batches[0], 3)
	assert.Len(t, cs.batches[3], 1)

	var order []int
	for _, batch := range cs.batches {
		for _, rec := range batch {
			order = append(order, rec.Payload["value"].(int))
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)

	for _, kind := range cs.kinds {
		assert.Equal(t, KindMetric, kind)
	}
}

func TestStreamSplitsEventsAndMetrics(t *testing.T) {
	cs := &captureSink{}
	o := newOrchestrator(t, Config{BatchSize: 100, FlushInterval: time.Hour}, cs.sink)

	data := []map[string]any{
		{"eventType": "HostDown", "host": "h-1"},
		{"name": "cpu.usage", "value": 0.5},
		{"name": "mem.usage", "value": 0.7},
	}
	require.NoError(t, o.Stream(data, StreamOptions{Source: "mixed"}))

	st := o.Status()
	assert.Equal(t, 1, st.EventsBuffered)
	assert.Equal(t, 2, st.MetricsBuffered)
}

func TestFailedBatchRedeliveredInOrder(t *testing.T) {
	cs := &captureSink{failN: 1}
	o := newOrchestrator(t, Config{
		BatchSize:        5,
		FlushInterval:    time.Hour,
		BreakerThreshold: 10,
	}, cs.sink)

	for i := 0; i < 5; i++ {
		require.NoError(t, o.Stream(metricPayload(i), StreamOptions{Source: "test"}))
	}

	// The size-triggered flush hit the failing sink; the batch must be back
	// on the buffer in its original order.
	st := o.Status()
	assert.Equal(t, 5, st.MetricsBuffered)
	assert.EqualValues(t, 1, st.DeliveryErrors)

	require.NoError(t, o.Flush(context.Background(), KindMetric))
	require.Len(t, cs.batches, 1)
	for i, rec := range cs.batches[0] {
		assert.Equal(t, i, rec.Payload["value"])
	}
	assert.Equal(t, 0, o.Status().MetricsBuffered)
}

func TestOpenBreakerSkipsSinkEntirely(t *testing.T) {
	cs := &captureSink{failN: 1000}
	o := newOrchestrator(t, Config{
		BatchSize:        3,
		FlushInterval:    time.Hour,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Hour,
	}, cs.sink)

	for i := 0; i < 3; i++ {
		require.NoError(t, o.Stream(metricPayload(i), StreamOptions{Source: "test"}))
	}
	require.NoError(t, o.Stream(metricPayload(3), StreamOptions{Source: "test"}))
	require.Equal(t, 2, cs.callCount())
	require.Equal(t, BreakerOpen, o.Breaker().State())

	// Further flushes are skipped without a sink call.
	err := o.Flush(context.Background(), KindMetric)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeerrors.ErrCircuitOpen)
	assert.Equal(t, 2, cs.callCount())

	st := o.Status()
	assert.Equal(t, 4, st.MetricsBuffered)
	assert.GreaterOrEqual(t, st.FlushesSkipped, uint64(1))
}

func TestHalfOpenProbeSuccessClosesBreaker(t *testing.T) {
	cs := &captureSink{failN: 1}
	o := newOrchestrator(t, Config{
		BatchSize:        10,
		FlushInterval:    time.Hour,
		BreakerThreshold: 1,
		BreakerCooldown:  time.Minute,
	}, cs.sink)

	now := time.Now()
	o.breaker.now = func() time.Time { return now }

	require.NoError(t, o.Stream(metricPayload(0), StreamOptions{Source: "test"}))
	err := o.Flush(context.Background(), KindMetric)
	require.Error(t, err)
	require.Equal(t, BreakerOpen, o.Breaker().State())

	// Before the cooldown the flush is gated.
	err = o.Flush(context.Background(), KindMetric)
	require.ErrorIs(t, err, pipeerrors.ErrCircuitOpen)

	// After the cooldown the probe goes through, succeeds, and the breaker
	// closes with its failure count reset.
	now = now.Add(2 * time.Minute)
	require.NoError(t, o.Flush(context.Background(), KindMetric))
	assert.Equal(t, BreakerClosed, o.Breaker().State())
	assert.Equal(t, 0, o.Breaker().Status().ConsecutiveFailures)
	assert.EqualValues(t, 1, o.Status().MetricsDelivered)
}

func TestPerSourceBookkeeping(t *testing.T) {
	cs := &captureSink{}
	o := newOrchestrator(t, Config{BatchSize: 100, FlushInterval: time.Hour}, cs.sink)

	require.NoError(t, o.Stream(metricPayload(1), StreamOptions{Source: "aws"}))
	require.NoError(t, o.Stream(metricPayload(2), StreamOptions{Source: "aws"}))
	require.NoError(t, o.Stream(metricPayload(3), StreamOptions{Source: "gcp"}))
	require.NoError(t, o.FlushAll(context.Background()))

	st := o.Status()
	require.Contains(t, st.Sources, "aws")
	require.Contains(t, st.Sources, "gcp")
	assert.EqualValues(t, 2, st.Sources["aws"].Buffered)
	assert.EqualValues(t, 2, st.Sources["aws"].Delivered)
	assert.EqualValues(t, 1, st.Sources["gcp"].Delivered)
	assert.False(t, st.Sources["aws"].FirstSeen.IsZero())
	assert.False(t, st.Sources["aws"].LastSeen.IsZero())
}

func TestPeriodicFlushTimer(t *testing.T) {
	cs := &captureSink{}
	o := newOrchestrator(t, Config{
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
	}, cs.sink)

	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.Stream(metricPayload(1), StreamOptions{Source: "test"}))

	assert.Eventually(t, func() bool {
		return o.Status().MetricsDelivered == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, o.Stop(time.Second))
}

func TestStreamRejectsUnsupportedData(t *testing.T) {
	cs := &captureSink{}
	o := newOrchestrator(t, Config{BatchSize: 10, FlushInterval: time.Hour}, cs.sink)

	err := o.Stream(42, StreamOptions{Source: "test"})
	require.Error(t, err)
	assert.True(t, pipeerrors.IsInvalid(err))
}

func TestLifecycleGuards(t *testing.T) {
	cs := &captureSink{}
	o := newOrchestrator(t, Config{BatchSize: 10, FlushInterval: time.Hour}, cs.sink)

	require.Error(t, o.Stop(time.Second), "stop before start")
	require.NoError(t, o.Start(context.Background()))
	require.ErrorIs(t, o.Start(context.Background()), pipeerrors.ErrAlreadyStarted)
	require.NoError(t, o.Stop(time.Second))
}

func TestHealthReflectsLifecycleAndFailures(t *testing.T) {
	cs := &captureSink{failN: 1}
	o := newOrchestrator(t, Config{BatchSize: 2, FlushInterval: time.Hour}, cs.sink)

	require.False(t, o.Health().Healthy)

	require.NoError(t, o.Start(context.Background()))
	h := o.Health()
	assert.True(t, h.Healthy)
	assert.Empty(t, h.LastError)

	// Two records trigger a size flush whose delivery fails once.
	require.NoError(t, o.Stream(metricPayload(0), StreamOptions{Source: "test"}))
	require.NoError(t, o.Stream(metricPayload(1), StreamOptions{Source: "test"}))

	h = o.Health()
	assert.True(t, h.Healthy, "failed deliveries stay buffered, the component is still up")
	assert.Equal(t, 1, h.ErrorCount)
	assert.NotEmpty(t, h.LastError)
	assert.Greater(t, h.Uptime, time.Duration(0))

	require.NoError(t, o.Stop(time.Second))
	assert.False(t, o.Health().Healthy)
}
