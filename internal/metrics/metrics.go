// Package metrics exposes Prometheus metrics fed by the event bus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cjeanneret/PiLapse/internal/events"
)

// Metrics groups the collectors of one registry.
type Metrics struct {
	reg *prometheus.Registry

	framesCaptured  *prometheus.CounterVec
	captureFailures prometheus.Counter
	captureRunning  prometheus.Gauge
	animationsRun   *prometheus.CounterVec
	animationActive prometheus.Gauge
	snapshots       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		framesCaptured: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pilapse",
			Subsystem: "timelapse",
			Name:      "frames_captured_total",
			Help:      "Time-lapse frames written to disk",
		}, []string{"series"}),
		captureFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pilapse",
			Subsystem: "timelapse",
			Name:      "failures_total",
			Help:      "Time-lapse loops ended by a camera error",
		}),
		captureRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pilapse",
			Subsystem: "timelapse",
			Name:      "running",
			Help:      "1 while a time-lapse loop is active",
		}),
		animationsRun: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pilapse",
			Subsystem: "led",
			Name:      "animations_total",
			Help:      "LED animations started",
		}, []string{"mode"}),
		animationActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pilapse",
			Subsystem: "led",
			Name:      "animation_active",
			Help:      "1 while an animation drives the strip",
		}),
		snapshots: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pilapse",
			Subsystem: "camera",
			Name:      "snapshots_total",
			Help:      "Single pictures taken, by result",
		}, []string{"result"}),
	}
}

// Attach subscribes the collectors to bus and returns the unsubscribe func.
func (m *Metrics) Attach(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.CaptureStarted) { m.captureRunning.Set(1) }),
		bus.Subscribe(func(e events.FrameCaptured) { m.framesCaptured.WithLabelValues(e.Series).Inc() }),
		bus.Subscribe(func(e events.CaptureStopped) {
			m.captureRunning.Set(0)
			if e.Error != "" {
				m.captureFailures.Inc()
			}
		}),
		bus.Subscribe(func(e events.AnimationStarted) {
			m.animationsRun.WithLabelValues(e.Mode).Inc()
			m.animationActive.Set(1)
		}),
		bus.Subscribe(func(e events.AnimationFinished) { m.animationActive.Set(0) }),
		bus.Subscribe(func(e events.SnapshotTaken) {
			result := "ok"
			if e.Error != "" {
				result = "error"
			}
			m.snapshots.WithLabelValues(result).Inc()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
