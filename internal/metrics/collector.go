// Package metrics exposes harness progress as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tickstress/internal/report"
)

const namespace = "tickstress"

// Collector records run samples and summaries. It is registered as a
// harness observer, so its methods run on the tick thread.
type Collector struct {
	registry *prometheus.Registry

	tps       prometheus.Gauge
	mspt      prometheus.Gauge
	target    prometheus.Gauge
	units     prometheus.Gauge
	phase     *prometheus.GaugeVec
	tickTime  prometheus.Histogram
	created   prometheus.Counter
	removed   prometheus.Counter
	shortfall prometheus.Counter
	runs      *prometheus.CounterVec
	peak      *prometheus.GaugeVec
}

var phases = []string{"idle", "ramping", "seeking", "backing_off"}

// NewCollector registers the harness metrics on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	c := &Collector{
		registry: reg,
		tps: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tps",
			Help:      "Smoothed ticks per second over the sampling window",
		}),
		mspt: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mspt",
			Help:      "Mean milliseconds per tick over the sampling window",
		}),
		target: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_units",
			Help:      "Controller target load unit count",
		}),
		units: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_units",
			Help:      "Load units currently alive in the pool",
		}),
		phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_phase",
			Help:      "1 for the controller's current phase",
		}, []string{"phase"}),
		tickTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of sampled ticks during runs",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		created: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_created_total",
			Help:      "Load units created by the pool",
		}),
		removed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_removed_total",
			Help:      "Load units removed by the pool",
		}),
		shortfall: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "creation_shortfall_total",
			Help:      "Requested units the pool failed to create",
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished scenario runs by stop reason",
		}, []string{"scenario", "reason"}),
		peak: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peak_sustained_units",
			Help:      "Peak sustained unit count of the last run per scenario",
		}, []string{"scenario"}),
	}
	return c
}

// Registry returns the registry holding the harness metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveSample implements the harness observer.
func (c *Collector) ObserveSample(s report.Sample) {
	if s.Signal.Valid {
		c.tps.Set(s.Signal.TPS)
		c.mspt.Set(s.Signal.MSPT)
	}
	c.target.Set(float64(s.Target))
	c.units.Set(float64(s.Count))
	c.tickTime.Observe(s.Duration.Seconds())
	current := s.Phase.String()
	for _, p := range phases {
		v := 0.0
		if p == current {
			v = 1
		}
		c.phase.WithLabelValues(p).Set(v)
	}
	c.created.Add(float64(s.Applied.Created))
	c.removed.Add(float64(s.Applied.Removed))
	if s.Applied.Shortfall > 0 {
		c.shortfall.Add(float64(s.Applied.Shortfall))
	}
}

// ObserveSummary implements the harness observer.
func (c *Collector) ObserveSummary(s report.Summary) {
	c.runs.WithLabelValues(s.Scenario, s.StopReason).Inc()
	c.peak.WithLabelValues(s.Scenario).Set(float64(s.PeakSustainedCount))
	c.target.Set(0)
	c.units.Set(0)
	for _, p := range phases {
		v := 0.0
		if p == "idle" {
			v = 1
		}
		c.phase.WithLabelValues(p).Set(v)
	}
}
