// Package sampler records host tick durations and derives the smoothed
// performance signal the controller steers by.
package sampler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// recentTicks bounds the history served by LastTicks.
const recentTicks = 1200

// Config tunes a Sampler.
type Config struct {
	WindowTicks int
	NominalTPS  float64
	Intervals   []string
	TruncateTPS bool
}

// DefaultConfig returns a one second control window at 20 TPS.
func DefaultConfig() Config {
	return Config{
		WindowTicks: 20,
		NominalTPS:  20,
		Intervals:   append([]string(nil), DefaultIntervals...),
	}
}

// Signal is the smoothed performance reading. Valid is false, and both
// values NaN, until at least one tick has been recorded.
type Signal struct {
	TPS   float64
	MSPT  float64
	Valid bool
}

// InsufficientData is the signal reported for an empty window.
func InsufficientData() Signal {
	return Signal{TPS: math.NaN(), MSPT: math.NaN()}
}

// MarshalJSON encodes NaN readings as null.
func (s Signal) MarshalJSON() ([]byte, error) {
	type wire struct {
		TPS   *float64 `json:"tps"`
		MSPT  *float64 `json:"mspt"`
		Valid bool     `json:"valid"`
	}
	w := wire{Valid: s.Valid}
	if !math.IsNaN(s.TPS) {
		w.TPS = &s.TPS
	}
	if !math.IsNaN(s.MSPT) {
		w.MSPT = &s.MSPT
	}
	return json.Marshal(w)
}

// Report summarises one report interval.
type Report struct {
	Name        string  `json:"name"`
	ShortName   string  `json:"short_name"`
	Valid       bool    `json:"valid"`
	Ticks       int     `json:"ticks"`
	Capacity    int     `json:"capacity"`
	TPS         float64 `json:"tps"`
	CurrentMSPT float64 `json:"current_mspt"`
	MinMSPT     float64 `json:"min_mspt"`
	AvgMSPT     float64 `json:"avg_mspt"`
	MaxMSPT     float64 `json:"max_mspt"`
	StdDevMSPT  float64 `json:"stddev_mspt"`
}

type interval struct {
	Interval
	w *Window
}

// Sampler records tick durations. RecordTick is called from the tick thread;
// the read methods are safe from any goroutine.
type Sampler struct {
	mu        sync.Mutex
	nominal   float64
	truncate  bool
	control   *Window
	recent    *Window
	intervals []*interval
	seq       uint64
	now       func() time.Time
}

// New validates cfg and returns a Sampler.
func New(cfg Config) (*Sampler, error) {
	if cfg.WindowTicks < 1 {
		return nil, errors.New("sampler: window must hold at least one tick")
	}
	if cfg.NominalTPS <= 0 {
		return nil, errors.New("sampler: nominal TPS must be positive")
	}
	s := &Sampler{
		nominal:  cfg.NominalTPS,
		truncate: cfg.TruncateTPS,
		control:  NewWindow(cfg.WindowTicks),
		recent:   NewWindow(recentTicks),
		now:      time.Now,
	}
	seen := make(map[string]bool)
	for _, spec := range cfg.Intervals {
		iv, err := ParseInterval(spec, cfg.NominalTPS)
		if err != nil {
			return nil, fmt.Errorf("sampler: %w", err)
		}
		if seen[iv.ShortName] {
			continue
		}
		seen[iv.ShortName] = true
		s.intervals = append(s.intervals, &interval{Interval: iv, w: NewWindow(iv.Ticks)})
	}
	return s, nil
}

// RecordTick appends the duration of the tick that just completed.
// Negative durations are clamped to zero.
func (s *Sampler) RecordTick(d time.Duration) TickSample {
	return s.RecordSample(d, s.now())
}

// RecordSample is RecordTick with an explicit completion time.
func (s *Sampler) RecordSample(d time.Duration, at time.Time) TickSample {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ts := TickSample{Seq: s.seq, Duration: d, At: at}
	s.control.Add(ts)
	s.recent.Add(ts)
	for _, iv := range s.intervals {
		iv.w.Add(ts)
	}
	return ts
}

// Signal returns the moving average over the control window.
func (s *Sampler) Signal() Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.control.Len() == 0 {
		return InsufficientData()
	}
	mspt := s.control.Mean()
	return Signal{TPS: s.tpsFor(mspt), MSPT: mspt, Valid: true}
}

// tpsFor caps 1000/mspt at the nominal rate: a tick cannot complete faster
// than the host schedules it.
func (s *Sampler) tpsFor(mspt float64) float64 {
	if mspt <= 0 {
		return s.nominal
	}
	return math.Min(s.nominal, 1000/mspt)
}

// Last returns the most recent sample.
func (s *Sampler) Last() (TickSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.control.Last()
}

// Ticks returns the number of ticks recorded so far.
func (s *Sampler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// WindowTicks returns the control window capacity.
func (s *Sampler) WindowTicks() int { return s.control.Cap() }

// NominalTPS returns the host's scheduled tick rate.
func (s *Sampler) NominalTPS() float64 { return s.nominal }

// LastTicks returns up to n recent samples, oldest first.
func (s *Sampler) LastTicks(n int) []TickSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recent.Tail(n)
}

// Report returns the report for an interval, looked up by name or short name.
func (s *Sampler) Report(name string) (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, iv := range s.intervals {
		if iv.Name == name || iv.ShortName == name {
			return s.report(iv), true
		}
	}
	return Report{}, false
}

// Reports returns every interval report in configuration order.
func (s *Sampler) Reports() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Report, 0, len(s.intervals))
	for _, iv := range s.intervals {
		out = append(out, s.report(iv))
	}
	return out
}

func (s *Sampler) report(iv *interval) Report {
	w := iv.w
	r := Report{Name: iv.Name, ShortName: iv.ShortName, Ticks: w.Len(), Capacity: w.Cap()}
	if w.Len() < 2 {
		return r
	}
	first, _ := w.First()
	last, _ := w.Last()
	r.Valid = true
	r.CurrentMSPT = last.MSPT()
	r.MinMSPT = w.Min()
	r.AvgMSPT = w.Mean()
	r.MaxMSPT = w.Max()
	r.StdDevMSPT = w.StdDev()

	if span := last.At.Sub(first.At); span > 0 {
		r.TPS = float64(w.Len()-1) / span.Seconds()
		if s.truncate {
			r.TPS = math.Min(r.TPS, s.nominal)
		}
	} else {
		r.TPS = s.tpsFor(r.AvgMSPT)
	}
	return r
}
