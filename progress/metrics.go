package progress

import "sync/atomic"

// MetricsSnapshot is a point-in-time view of hub counters.
type MetricsSnapshot struct {
	Observers       int64
	EventsDelivered int64
	EventsDropped   int64
}

// Metrics tracks hub delivery counters.
type Metrics struct {
	observers       atomic.Int64
	eventsDelivered atomic.Int64
	eventsDropped   atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordObserver(delta int) {
	m.observers.Add(int64(delta))
}

func (m *Metrics) RecordDelivered(delta int) {
	m.eventsDelivered.Add(int64(delta))
}

func (m *Metrics) RecordDropped(delta int) {
	m.eventsDropped.Add(int64(delta))
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Observers:       m.observers.Load(),
		EventsDelivered: m.eventsDelivered.Load(),
		EventsDropped:   m.eventsDropped.Load(),
	}
}
