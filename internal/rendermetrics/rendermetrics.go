// Package rendermetrics provides prometheus-backed metrics collection for
// the renderer, grounded on the teacher's internal/audiocore
// MetricsCollector (an enable-gated wrapper around a set of registered
// collectors, exposing Record*/Update* methods).
package rendermetrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector wraps the renderer's prometheus collectors behind an
// enabled gate, exactly as the teacher's MetricsCollector does.
type Collector struct {
	mu      sync.RWMutex
	enabled bool

	pushedFrames    *prometheus.CounterVec
	droppedFrames   *prometheus.CounterVec
	limiterGainDB   *prometheus.GaugeVec
	timingErrorTick *prometheus.GaugeVec
	feederState     *prometheus.GaugeVec
	stageDuration   *prometheus.HistogramVec
}

// New constructs a Collector and registers its metrics with reg. Pass a
// fresh prometheus.NewRegistry() in tests to avoid global-registry
// collisions.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		enabled: reg != nil,
		pushedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audiorender",
			Name:      "pushed_frames_total",
			Help:      "Frames pushed to the device backend, by feeder variant.",
		}, []string{"feeder"}),
		droppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audiorender",
			Name:      "timing_dropped_frames_total",
			Help:      "Frames dropped by timing correction, by policy.",
		}, []string{"policy"}),
		limiterGainDB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "audiorender",
			Name:      "limiter_gain_db",
			Help:      "Current peak-limiter attenuation in decibels.",
		}, []string{"stream"}),
		timingErrorTick: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "audiorender",
			Name:      "timing_error_ticks",
			Help:      "Most recent timingsError value, in 100ns ticks.",
		}, []string{"stream"}),
		feederState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "audiorender",
			Name:      "feeder_failed",
			Help:      "1 if the feeder's sticky error flag is set, else 0.",
		}, []string{"feeder"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "audiorender",
			Name:      "dsp_stage_seconds",
			Help:      "Wall-clock duration of a DSP stage's Process call.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(c.pushedFrames, c.droppedFrames, c.limiterGainDB,
			c.timingErrorTick, c.feederState, c.stageDuration)
	}
	return c
}

// RecordPushedFrames increments the pushed-frame counter for feeder.
func (c *Collector) RecordPushedFrames(feeder string, n int64) {
	if !c.enabled {
		return
	}
	c.pushedFrames.WithLabelValues(feeder).Add(float64(n))
}

// RecordDroppedFrame increments the dropped-frame counter for policy.
func (c *Collector) RecordDroppedFrame(policy string) {
	if !c.enabled {
		return
	}
	c.droppedFrames.WithLabelValues(policy).Inc()
}

// UpdateLimiterGain sets the current limiter attenuation, in dB
// (negative values indicate attenuation).
func (c *Collector) UpdateLimiterGain(stream string, db float64) {
	if !c.enabled {
		return
	}
	c.limiterGainDB.WithLabelValues(stream).Set(db)
}

// UpdateTimingError sets the most recent timingsError value.
func (c *Collector) UpdateTimingError(stream string, ticks int64) {
	if !c.enabled {
		return
	}
	c.timingErrorTick.WithLabelValues(stream).Set(float64(ticks))
}

// UpdateFeederFailed sets the feeder's sticky error flag gauge.
func (c *Collector) UpdateFeederFailed(feeder string, failed bool) {
	if !c.enabled {
		return
	}
	v := 0.0
	if failed {
		v = 1.0
	}
	c.feederState.WithLabelValues(feeder).Set(v)
}

// ObserveStageDuration records how long a DSP stage's Process call took.
func (c *Collector) ObserveStageDuration(stage string, seconds float64) {
	if !c.enabled {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(seconds)
}
