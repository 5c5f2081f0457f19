package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SyncCollector exposes metrics of the event push path.
type SyncCollector struct {
	gatherer prometheus.Gatherer

	EventsDelivered *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	Subscribers     prometheus.Gauge
	DeltaRecords    prometheus.Histogram
}

// NewSyncCollector registers sync metrics against the provided registerer.
func NewSyncCollector(reg prometheus.Registerer) (*SyncCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	delivered, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_events_delivered_total",
		Help: "Events queued to a subscriber, by event name.",
	}, []string{"event"}), "sync_events_delivered_total")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_events_dropped_total",
		Help: "Events dropped because a subscriber queue was full, by event name.",
	}, []string{"event"}), "sync_events_dropped_total")
	if err != nil {
		return nil, err
	}

	subscribers, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_subscribers",
		Help: "Number of live event subscriptions.",
	}), "sync_subscribers")
	if err != nil {
		return nil, err
	}

	records, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_delta_records",
		Help:    "Number of asset and connection records in one incremental delta.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	}), "sync_delta_records")
	if err != nil {
		return nil, err
	}

	return &SyncCollector{
		gatherer:        gatherer,
		EventsDelivered: delivered,
		EventsDropped:   dropped,
		Subscribers:     subscribers,
		DeltaRecords:    records,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SyncCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// EventDelivered counts one queued event.
func (c *SyncCollector) EventDelivered(name string) {
	if c == nil || c.EventsDelivered == nil {
		return
	}
	c.EventsDelivered.WithLabelValues(name).Inc()
}

// EventDropped counts one dropped event.
func (c *SyncCollector) EventDropped(name string) {
	if c == nil || c.EventsDropped == nil {
		return
	}
	c.EventsDropped.WithLabelValues(name).Inc()
}

// SetSubscribers updates the subscription gauge.
func (c *SyncCollector) SetSubscribers(n int) {
	if c == nil || c.Subscribers == nil {
		return
	}
	c.Subscribers.Set(float64(n))
}

// ObserveDelta records the size of one delta.
func (c *SyncCollector) ObserveDelta(records int) {
	if c == nil || c.DeltaRecords == nil || records <= 0 {
		return
	}
	c.DeltaRecords.Observe(float64(records))
}
