package ane

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MacCollector exposes the MAC counters of every station as Prometheus metrics.
// A nil collector records nothing.
type MacCollector struct {
	gatherer prometheus.Gatherer

	FramesSent      *prometheus.CounterVec
	FramesReceived  *prometheus.CounterVec
	FramesForwarded *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	FramesPeeked    *prometheus.CounterVec
	DeliveryLatency *prometheus.HistogramVec
}

var stationLabels = []string{"domain", "station"}

// NewMacCollector registers the MAC metrics against the provided registerer
func NewMacCollector(reg prometheus.Registerer) (*MacCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	counters := make(map[string]*prometheus.CounterVec)
	for name, help := range map[string]string{
		"ane_frames_sent_total":      "Frames put on the channel by a station.",
		"ane_frames_received_total":  "Frames accepted by a station and delivered to its upper layer.",
		"ane_frames_forwarded_total": "Copies produced by a request handler during fan-out.",
		"ane_frames_dropped_total":   "Copies lost by the channel model at a receiving station.",
		"ane_frames_peeked_total":    "Copies shown to a promiscuous station and not delivered.",
	} {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, stationLabels)
		registered, err := registerCounterVec(reg, vec, name)
		if err != nil {
			return nil, err
		}
		counters[name] = registered
	}

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ane_delivery_latency_seconds",
		Help:    "Simulated time from a frame leaving the upper layer to its delivery.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"domain"})
	latency, err := registerHistogramVec(reg, latency, "ane_delivery_latency_seconds")
	if err != nil {
		return nil, err
	}

	return &MacCollector{
		gatherer:        gatherer,
		FramesSent:      counters["ane_frames_sent_total"],
		FramesReceived:  counters["ane_frames_received_total"],
		FramesForwarded: counters["ane_frames_forwarded_total"],
		FramesDropped:   counters["ane_frames_dropped_total"],
		FramesPeeked:    counters["ane_frames_peeked_total"],
		DeliveryLatency: latency,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector
func (c *MacCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func (c *MacCollector) frameSent(st *Station) {
	if c == nil {
		return
	}
	c.FramesSent.WithLabelValues(st.domain.name, st.name).Inc()
}

func (c *MacCollector) frameReceived(st *Station, latency float64) {
	if c == nil {
		return
	}
	c.FramesReceived.WithLabelValues(st.domain.name, st.name).Inc()
	c.DeliveryLatency.WithLabelValues(st.domain.name).Observe(latency)
}

func (c *MacCollector) frameForwarded(st *Station) {
	if c == nil {
		return
	}
	c.FramesForwarded.WithLabelValues(st.domain.name, st.name).Inc()
}

func (c *MacCollector) frameDropped(st *Station) {
	if c == nil {
		return
	}
	c.FramesDropped.WithLabelValues(st.domain.name, st.name).Inc()
}

func (c *MacCollector) framePeeked(st *Station) {
	if c == nil {
		return
	}
	c.FramesPeeked.WithLabelValues(st.domain.name, st.name).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
