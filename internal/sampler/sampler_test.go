package sampler

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSampler(t *testing.T, window int) *Sampler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WindowTicks = window
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestSignalInsufficientDataWhenEmpty(t *testing.T) {
	s := newSampler(t, 20)
	sig := s.Signal()
	assert.False(t, sig.Valid)
	assert.True(t, math.IsNaN(sig.TPS))
	assert.True(t, math.IsNaN(sig.MSPT))
}

func TestSignalMovingAverage(t *testing.T) {
	s := newSampler(t, 4)
	for _, ms := range []int{10, 20, 30, 40} {
		s.RecordTick(time.Duration(ms) * time.Millisecond)
	}
	sig := s.Signal()
	require.True(t, sig.Valid)
	assert.InDelta(t, 25, sig.MSPT, 1e-9)
	assert.InDelta(t, 20, sig.TPS, 1e-9, "fast ticks cap at nominal")

	// 10ms is evicted.
	s.RecordTick(100 * time.Millisecond)
	sig = s.Signal()
	assert.InDelta(t, 47.5, sig.MSPT, 1e-9)
	assert.InDelta(t, 1000/47.5, sig.TPS, 1e-9)
}

func TestSignalWindowFillsBeforeFull(t *testing.T) {
	s := newSampler(t, 20)
	s.RecordTick(100 * time.Millisecond)
	sig := s.Signal()
	require.True(t, sig.Valid)
	assert.InDelta(t, 10, sig.TPS, 1e-9)
}

func TestSpikeFadesAfterOneWindow(t *testing.T) {
	s := newSampler(t, 20)
	for i := 0; i < 20; i++ {
		s.RecordTick(50 * time.Millisecond)
	}
	s.RecordTick(500 * time.Millisecond)
	assert.Less(t, s.Signal().TPS, 20.0)
	for i := 0; i < 19; i++ {
		s.RecordTick(50 * time.Millisecond)
	}
	assert.Less(t, s.Signal().TPS, 20.0, "spike still inside the window")
	s.RecordTick(50 * time.Millisecond)
	assert.InDelta(t, 20, s.Signal().TPS, 1e-9)
}

func TestNegativeDurationClamped(t *testing.T) {
	s := newSampler(t, 2)
	ts := s.RecordTick(-time.Second)
	assert.Equal(t, time.Duration(0), ts.Duration)
	assert.Equal(t, uint64(1), ts.Seq)
}

func TestWindowMinMaxAfterEviction(t *testing.T) {
	w := NewWindow(3)
	for _, ms := range []int{5, 1, 9} {
		w.Add(TickSample{Duration: time.Duration(ms) * time.Millisecond})
	}
	assert.Equal(t, 1.0, w.Min())
	assert.Equal(t, 9.0, w.Max())
	w.Add(TickSample{Duration: 4 * time.Millisecond}) // evicts 5
	w.Add(TickSample{Duration: 6 * time.Millisecond}) // evicts 1
	assert.Equal(t, 4.0, w.Min())
	assert.Equal(t, 9.0, w.Max())
	assert.Equal(t, 3, w.Len())
	assert.InDelta(t, 19.0/3, w.Mean(), 1e-9)
}

func TestReportIntervals(t *testing.T) {
	s := newSampler(t, 20)
	base := time.Unix(1000, 0)
	for i := 0; i < 101; i++ {
		s.RecordSample(40*time.Millisecond, base.Add(time.Duration(i)*50*time.Millisecond))
	}
	r, ok := s.Report("5s")
	require.True(t, ok)
	assert.True(t, r.Valid)
	assert.Equal(t, "5 seconds", r.Name)
	assert.Equal(t, 100, r.Capacity)
	assert.Equal(t, 100, r.Ticks)
	assert.InDelta(t, 20, r.TPS, 1e-6)
	assert.InDelta(t, 40, r.AvgMSPT, 1e-9)
	assert.InDelta(t, 0, r.StdDevMSPT, 1e-6)

	_, ok = s.Report("2h")
	assert.False(t, ok)
	assert.Len(t, s.Reports(), 4)
}

func TestReportInvalidUnderTwoSamples(t *testing.T) {
	s := newSampler(t, 20)
	s.RecordTick(time.Millisecond)
	r, ok := s.Report("1 minute")
	require.True(t, ok)
	assert.False(t, r.Valid)
}

func TestReportTruncatesTPS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TruncateTPS = true
	s, err := New(cfg)
	require.NoError(t, err)
	base := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		s.RecordSample(time.Millisecond, base.Add(time.Duration(i)*10*time.Millisecond))
	}
	r, _ := s.Report("5s")
	assert.Equal(t, 20.0, r.TPS)
}

func TestLastTicks(t *testing.T) {
	s := newSampler(t, 2)
	for i := 1; i <= 5; i++ {
		s.RecordTick(time.Duration(i) * time.Millisecond)
	}
	got := s.LastTicks(3)
	require.Len(t, got, 3)
	assert.Equal(t, 3*time.Millisecond, got[0].Duration)
	assert.Equal(t, 5*time.Millisecond, got[2].Duration)
	assert.Len(t, s.LastTicks(0), 5)
}

func TestParseInterval(t *testing.T) {
	iv, err := ParseInterval("1 minute", 20)
	require.NoError(t, err)
	assert.Equal(t, Interval{Name: "1 minute", ShortName: "1m", Ticks: 1200}, iv)

	iv, err = ParseInterval("15m", 20)
	require.NoError(t, err)
	assert.Equal(t, "15 minutes", iv.Name)
	assert.Equal(t, 18000, iv.Ticks)

	for _, bad := range []string{"", "0 seconds", "3 fortnights", "250ms", "x minutes"} {
		_, err := ParseInterval(bad, 20)
		assert.Error(t, err, bad)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{WindowTicks: 0, NominalTPS: 20})
	assert.Error(t, err)
	_, err = New(Config{WindowTicks: 20, NominalTPS: 0})
	assert.Error(t, err)
	_, err = New(Config{WindowTicks: 20, NominalTPS: 20, Intervals: []string{"soon"}})
	assert.Error(t, err)
}

func TestSignalJSONEncodesNaNAsNull(t *testing.T) {
	data, err := json.Marshal(InsufficientData())
	require.NoError(t, err)
	assert.JSONEq(t, `{"tps":null,"mspt":null,"valid":false}`, string(data))
}
