// Package metricsobs exposes the daemon's own operational health as
// Prometheus metrics, separate from the virtualization metrics the
// publication loop assembles for its transports.
package metricsobs

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vhostmd/vhostmd-go/daemon/domain"
	"github.com/vhostmd/vhostmd-go/daemon/transport/virtio"
)

var (
	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vhostmd_tick_duration_seconds",
		Help:    "Wall-clock duration of one publication loop tick",
		Buckets: prometheus.DefBuckets,
	})
	tickErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vhostmd_tick_errors_total",
		Help: "Count of evaluation or transport errors across every tick",
	})
	vmCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vhostmd_vm_count",
		Help: "Number of running VMs seen in the most recent tick",
	})
	metricCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vhostmd_metric_count",
		Help: "Number of metric evaluations (host definitions plus vm definitions per VM) in the most recent tick",
	})
	virtioChannels = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vhostmd_virtio_channels",
		Help: "Number of allocated virtio channel slots",
	})
	virtioConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vhostmd_virtio_connections",
		Help: "Number of connected virtio guest sockets",
	})
)

// registry is a custom registry, so the daemon's own metrics are never
// mixed with the default registry's go_* / process_* churn from whatever
// else links against this binary.
var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		tickDuration,
		tickErrors,
		vmCount,
		metricCount,
		virtioChannels,
		virtioConnections,
	)
}

// Registry returns the registry the admin server should serve /metrics from.
func Registry() *prometheus.Registry {
	return registry
}

// Observer updates the registry from Context.Bus's TickCompleted events and,
// when a virtio server is active, samples its channel/connection counts on
// every tick.
type Observer struct {
	bus    *domain.EventBus
	virtio *virtio.Server
}

// NewObserver builds an Observer. virtioSrv may be nil when the virtio
// transport is not enabled.
func NewObserver(bus *domain.EventBus, virtioSrv *virtio.Server) *Observer {
	return &Observer{bus: bus, virtio: virtioSrv}
}

// Run subscribes to TickCompleted events and updates metrics until ctx is
// canceled, then unsubscribes.
func (o *Observer) Run(ctx context.Context) {
	sub := o.bus.SubTopics(domain.TickTopic)
	defer o.bus.Unsub(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			evt, ok := msg.(domain.TickCompleted)
			if !ok {
				continue
			}
			o.observe(evt)
		}
	}
}

func (o *Observer) observe(evt domain.TickCompleted) {
	tickDuration.Observe(evt.Duration.Seconds())
	tickErrors.Add(float64(len(evt.Errors)))
	vmCount.Set(float64(evt.VMCount))
	metricCount.Set(float64(evt.MetricCount))

	if o.virtio != nil {
		virtioChannels.Set(float64(o.virtio.ChannelCount()))
		virtioConnections.Set(float64(o.virtio.ConnectionCount()))
	}
}
