// Package metrics exports RAT engine counters through Prometheus: a thin
// collector keyed by connection identity, registered on a caller-supplied
// prometheus.Registerer (this module serves no HTTP endpoint). It counts
// what the engine itself knows: segments sent/received, retransmits,
// NACKs, connection state, and the current negotiated window size.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
)

// Collector owns the Prometheus vectors for every RAT socket registered
// against it. A nil *Collector is valid everywhere it is used in this
// module: every method is a no-op on a nil receiver, so attaching metrics
// is always optional.
type Collector struct {
	mu sync.Mutex

	segmentsSent       *prometheus.CounterVec
	segmentsReceived   *prometheus.CounterVec
	retransmits        *prometheus.CounterVec
	nacksSent          *prometheus.CounterVec
	windowSize         *prometheus.GaugeVec
	connectionsOpen    prometheus.Gauge
	connectionsTotal   prometheus.Counter
	stateGauge         *prometheus.GaugeVec
	snapshots          map[xid.ID]*Snapshot
}

// Snapshot is a point-in-time read of one socket's counters.
type Snapshot struct {
	ID               xid.ID
	SegmentsSent     int
	SegmentsReceived int
	Retransmits      int
	NacksSent        int
	WindowSize       uint16
}

// NewCollector builds and registers a fresh set of RAT metrics on reg.
// Pass prometheus.NewRegistry() in tests to avoid colliding with the
// default global registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		segmentsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rat",
			Name:      "segments_sent_total",
			Help:      "Segments sent, per connection.",
		}, []string{"conn"}),
		segmentsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rat",
			Name:      "segments_received_total",
			Help:      "Segments accepted, per connection.",
		}, []string{"conn"}),
		retransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rat",
			Name:      "retransmits_total",
			Help:      "Segments retransmitted in response to a NACK, per connection.",
		}, []string{"conn"}),
		nacksSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rat",
			Name:      "nacks_sent_total",
			Help:      "NACK segments emitted, per connection.",
		}, []string{"conn"}),
		windowSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rat",
			Name:      "window_size",
			Help:      "Current negotiated window size, per connection.",
		}, []string{"conn"}),
		connectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rat",
			Name:      "connections_open",
			Help:      "Currently established connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rat",
			Name:      "connections_total",
			Help:      "Total connections established since start.",
		}),
		stateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rat",
			Name:      "state",
			Help:      "Current connection state (enum value), per connection.",
		}, []string{"conn"}),
		snapshots: make(map[xid.ID]*Snapshot),
	}
	reg.MustRegister(
		c.segmentsSent, c.segmentsReceived, c.retransmits, c.nacksSent,
		c.windowSize, c.connectionsOpen, c.connectionsTotal, c.stateGauge,
	)
	return c
}

func (c *Collector) label(id xid.ID) string { return id.String() }

func (c *Collector) snapshot(id xid.ID) *Snapshot {
	s, ok := c.snapshots[id]
	if !ok {
		s = &Snapshot{ID: id}
		c.snapshots[id] = s
	}
	return s
}

// ConnectionEstablished records a new connection reaching ESTABLISHED.
func (c *Collector) ConnectionEstablished(id xid.ID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectionsOpen.Inc()
	c.connectionsTotal.Inc()
	c.snapshot(id)
}

// ConnectionClosed records a connection reaching CLOSED.
func (c *Collector) ConnectionClosed(id xid.ID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectionsOpen.Dec()
}

// SegmentSent increments the sent-segment counter for id.
func (c *Collector) SegmentSent(id xid.ID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segmentsSent.WithLabelValues(c.label(id)).Inc()
	c.snapshot(id).SegmentsSent++
}

// SegmentReceived increments the accepted-segment counter for id.
func (c *Collector) SegmentReceived(id xid.ID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segmentsReceived.WithLabelValues(c.label(id)).Inc()
	c.snapshot(id).SegmentsReceived++
}

// Retransmit increments the retransmit counter for id.
func (c *Collector) Retransmit(id xid.ID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retransmits.WithLabelValues(c.label(id)).Inc()
	c.snapshot(id).Retransmits++
}

// NackSent increments the NACK-emitted counter for id.
func (c *Collector) NackSent(id xid.ID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nacksSent.WithLabelValues(c.label(id)).Inc()
	c.snapshot(id).NacksSent++
}

// WindowChanged sets the current window-size gauge for id.
func (c *Collector) WindowChanged(id xid.ID, size uint16) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windowSize.WithLabelValues(c.label(id)).Set(float64(size))
	c.snapshot(id).WindowSize = size
}

// StateChanged sets the current state gauge for id.
func (c *Collector) StateChanged(id xid.ID, state uint8) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateGauge.WithLabelValues(c.label(id)).Set(float64(state))
}

// Snapshot returns a copy of id's current counters, or nil if c is nil or
// id has never been registered.
func (c *Collector) Snapshot(id xid.ID) *Snapshot {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snapshots[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}
