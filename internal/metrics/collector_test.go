package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickstress/internal/controller"
	"tickstress/internal/pool"
	"tickstress/internal/report"
	"tickstress/internal/sampler"
)

func TestObserveSample(t *testing.T) {
	c := NewCollector()
	c.ObserveSample(report.Sample{
		Scenario: "entity-ramp",
		Duration: 40 * time.Millisecond,
		Signal:   sampler.Signal{TPS: 19.5, MSPT: 51.2, Valid: true},
		Phase:    controller.Seeking,
		Target:   120,
		Count:    118,
		Applied:  pool.Applied{Requested: 5, Created: 3, Shortfall: 2},
	})

	assert.Equal(t, 19.5, testutil.ToFloat64(c.tps))
	assert.Equal(t, 120.0, testutil.ToFloat64(c.target))
	assert.Equal(t, 118.0, testutil.ToFloat64(c.units))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.created))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.shortfall))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.phase.WithLabelValues("seeking")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.phase.WithLabelValues("ramping")))
}

func TestObserveSampleKeepsLastValidSignal(t *testing.T) {
	c := NewCollector()
	c.ObserveSample(report.Sample{Signal: sampler.Signal{TPS: 20, MSPT: 10, Valid: true}})
	c.ObserveSample(report.Sample{Signal: sampler.InsufficientData()})
	assert.Equal(t, 20.0, testutil.ToFloat64(c.tps))
}

func TestObserveSummary(t *testing.T) {
	c := NewCollector()
	c.ObserveSample(report.Sample{Target: 50, Count: 50, Phase: controller.Ramping})
	c.ObserveSummary(report.Summary{
		RunInfo:            report.RunInfo{Scenario: "chunk-ramp"},
		StopReason:         "max_duration",
		PeakSustainedCount: 42,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("chunk-ramp", "max_duration")))
	assert.Equal(t, 42.0, testutil.ToFloat64(c.peak.WithLabelValues("chunk-ramp")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.units))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.phase.WithLabelValues("idle")))
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.ObserveSample(report.Sample{Signal: sampler.Signal{TPS: 18, MSPT: 55, Valid: true}})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "tickstress_tps 18"))
	assert.Contains(t, body, "go_goroutines")
}
