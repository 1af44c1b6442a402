package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/c360/telempipe/metric"
)

func TestPoolPrometheusMetrics(t *testing.T) {
	reg := metric.NewRegistry()
	p := NewPool[int](Config{
		Workers:       2,
		QueueSize:     10,
		TaskTimeout:   time.Second,
		RetryAttempts: 1,
		RetryDelay:    5 * time.Millisecond,
	}, WithMetrics[int](reg, "test_pool"))

	if p.metrics == nil {
		t.Fatal("expected metrics to be registered")
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ok, err := p.Submit(func(context.Context) (int, error) { return 1, nil })
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := ok.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}

	bad, err := p.Submit(func(context.Context) (int, error) {
		return 0, errors.New("always fails")
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := bad.Wait(context.Background()); err == nil {
		t.Fatal("expected terminal failure")
	}

	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got := testutil.ToFloat64(p.metrics.processed); got != 1 {
		t.Errorf("processed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.metrics.failed); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.metrics.retried); got != 1 {
		t.Errorf("retried = %v, want 1", got)
	}
}

func TestPoolMetricsAdoptedAcrossRebuilds(t *testing.T) {
	reg := metric.NewRegistry()
	p1 := NewPool[int](Config{Workers: 1}, WithMetrics[int](reg, "dup_pool"))
	if p1.metrics == nil {
		t.Fatal("first registration should succeed")
	}

	// A pool rebuilt under the same prefix adopts the registered collectors,
	// so counters stay continuous across activations.
	p2 := NewPool[int](Config{Workers: 1}, WithMetrics[int](reg, "dup_pool"))
	if p2.metrics == nil {
		t.Fatal("rebuilt pool should adopt the existing collectors")
	}

	p1.metrics.processed.Inc()
	p2.metrics.processed.Inc()
	if got := testutil.ToFloat64(p1.metrics.processed); got != 2 {
		t.Errorf("processed = %v, want 2 (shared counter)", got)
	}
}
