package metricsobs

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vhostmd/vhostmd-go/daemon/domain"
)

func TestObserveUpdatesGauges(t *testing.T) {
	o := NewObserver(domain.NewEventBus(1), nil)

	o.observe(domain.TickCompleted{
		Duration:    50 * time.Millisecond,
		VMCount:     3,
		MetricCount: 12,
		Errors:      []string{"boom"},
	})

	if got := testutil.ToFloat64(vmCount); got != 3 {
		t.Errorf("vmCount = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metricCount); got != 12 {
		t.Errorf("metricCount = %v, want 12", got)
	}
	if got := testutil.ToFloat64(tickErrors); got != 1 {
		t.Errorf("tickErrors = %v, want 1 (cumulative across package tests)", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	bus := domain.NewEventBus(1)
	o := NewObserver(bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()

	domain.Publish(bus, domain.TickTopic, domain.TickCompleted{VMCount: 1})
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
