// Package report accumulates per-tick samples of a scenario run and reduces
// them to an immutable Summary when the run ends.
package report

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"tickstress/internal/controller"
	"tickstress/internal/pool"
	"tickstress/internal/sampler"
)

var (
	// ErrNoActiveRun is returned by Record and Finalize outside a run.
	ErrNoActiveRun = errors.New("no active run")
	// ErrRunActive is returned by Begin while a run is open.
	ErrRunActive = errors.New("run already active")
)

// Sample is one tick of a run as seen by the aggregator and telemetry sinks.
type Sample struct {
	RunID    string           `json:"run_id"`
	Scenario string           `json:"scenario"`
	Tick     uint64           `json:"tick"`
	RunTick  int              `json:"run_tick"`
	Duration time.Duration    `json:"duration"`
	At       time.Time        `json:"at"`
	Signal   sampler.Signal   `json:"signal"`
	Phase    controller.Phase `json:"phase"`
	Target   int              `json:"target"`
	Count    int              `json:"count"`
	Applied  pool.Applied     `json:"applied"`
	State    controller.State `json:"-"`
}

// RunInfo identifies a run when it begins.
type RunInfo struct {
	ID          string        `json:"id"`
	Scenario    string        `json:"scenario"`
	Kind        pool.Kind     `json:"kind"`
	Floor       float64       `json:"floor"`
	RampRate    int           `json:"ramp_rate"`
	MaxDuration time.Duration `json:"max_duration"`
	StartTick   uint64        `json:"start_tick"`
	StartedAt   time.Time     `json:"started_at"`
}

// ScenarioRun is the in-progress record of a run. Samples are discarded
// once the run is finalized.
type ScenarioRun struct {
	RunInfo
	EndTick *uint64
	samples []Sample
}

// Samples returns the number of recorded samples.
func (r *ScenarioRun) Samples() int { return len(r.samples) }

// Summary is the immutable result of a finished run. When Valid is false no
// tick was sampled and the signal fields hold -1.
type Summary struct {
	RunInfo
	EndTick            uint64    `json:"end_tick"`
	EndedAt            time.Time `json:"ended_at"`
	StopReason         string    `json:"stop_reason"`
	Valid              bool      `json:"valid"`
	ElapsedTicks       int       `json:"elapsed_ticks"`
	MinTPS             float64   `json:"min_tps"`
	AvgTPS             float64   `json:"avg_tps"`
	AvgMSPT            float64   `json:"avg_mspt"`
	MaxMSPT            float64   `json:"max_mspt"`
	PeakCount          int       `json:"peak_count"`
	PeakSustainedCount int       `json:"peak_sustained_count"`
	// TicksToDegradation is the run tick of the first backoff, -1 if none.
	TicksToDegradation int `json:"ticks_to_degradation"`
	Backoffs           int `json:"backoffs"`
	FinalTarget        int `json:"final_target"`
	Shortfalls         int `json:"shortfalls"`
}

// Aggregator collects samples for at most one run at a time. It is owned by
// the tick thread.
type Aggregator struct {
	dwell      int
	maxSamples int
	active     *ScenarioRun
}

// NewAggregator returns an aggregator whose peak-sustained count requires the
// load to be held for dwellTicks. maxSamples bounds memory per run; zero
// means unbounded.
func NewAggregator(dwellTicks, maxSamples int) *Aggregator {
	if dwellTicks < 1 {
		dwellTicks = 1
	}
	return &Aggregator{dwell: dwellTicks, maxSamples: maxSamples}
}

// Begin opens a run. An empty ID is replaced with a fresh UUID.
func (a *Aggregator) Begin(info RunInfo) (*ScenarioRun, error) {
	if a.active != nil {
		return nil, ErrRunActive
	}
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	a.active = &ScenarioRun{RunInfo: info}
	return a.active, nil
}

// Active returns the open run or nil.
func (a *Aggregator) Active() *ScenarioRun { return a.active }

// Record appends one tick of the open run. Samples beyond the bound are
// dropped from the front.
func (a *Aggregator) Record(s Sample) error {
	if a.active == nil {
		return ErrNoActiveRun
	}
	r := a.active
	if a.maxSamples > 0 && len(r.samples) >= a.maxSamples {
		copy(r.samples, r.samples[1:])
		r.samples = r.samples[:len(r.samples)-1]
	}
	r.samples = append(r.samples, s)
	return nil
}

// Finalize closes the open run and returns its summary. The raw samples are
// released.
func (a *Aggregator) Finalize(endTick uint64, endedAt time.Time, reason string) (Summary, error) {
	r := a.active
	if r == nil {
		return Summary{}, ErrNoActiveRun
	}
	a.active = nil
	r.EndTick = &endTick

	sum := Summary{
		RunInfo:            r.RunInfo,
		EndTick:            endTick,
		EndedAt:            endedAt,
		StopReason:         reason,
		ElapsedTicks:       elapsed(r.StartTick, endTick),
		MinTPS:             -1,
		AvgTPS:             -1,
		AvgMSPT:            -1,
		MaxMSPT:            -1,
		TicksToDegradation: -1,
	}
	samples := r.samples
	r.samples = nil
	if len(samples) == 0 {
		return sum, nil
	}

	var (
		n       int
		tpsSum  float64
		msptSum float64
		minTPS  = math.Inf(1)
		maxMSPT = math.Inf(-1)
	)
	for _, s := range samples {
		if s.Count > sum.PeakCount {
			sum.PeakCount = s.Count
		}
		if s.Phase == controller.BackingOff && sum.TicksToDegradation < 0 {
			sum.TicksToDegradation = s.RunTick
		}
		if s.Applied.Shortfall > 0 {
			sum.Shortfalls++
		}
		if !s.Signal.Valid {
			continue
		}
		n++
		tpsSum += s.Signal.TPS
		msptSum += s.Signal.MSPT
		minTPS = math.Min(minTPS, s.Signal.TPS)
		maxMSPT = math.Max(maxMSPT, s.Signal.MSPT)
	}
	last := samples[len(samples)-1]
	sum.Backoffs = last.State.Backoffs
	sum.FinalTarget = last.Target
	sum.PeakSustainedCount = peakSustained(samples, a.dwell, r.Floor)
	if n > 0 {
		sum.Valid = true
		sum.MinTPS = minTPS
		sum.AvgTPS = tpsSum / float64(n)
		sum.AvgMSPT = msptSum / float64(n)
		sum.MaxMSPT = maxMSPT
	}
	return sum, nil
}

func elapsed(start, end uint64) int {
	if end < start {
		return 0
	}
	return int(end - start)
}

// peakSustained returns the highest target count held for dwell consecutive
// healthy ticks: the maximum, over every run of dwell healthy samples, of the
// smallest target within it. A sample is healthy when the controller is not
// backing off and the signal is at or above the floor.
func peakSustained(samples []Sample, dwell int, floor float64) int {
	best := 0
	// deque of indices with increasing targets; front is the window minimum
	var dq []int
	runStart := 0
	for i, s := range samples {
		healthy := s.Phase != controller.BackingOff && s.Signal.Valid && s.Signal.TPS >= floor
		if !healthy {
			dq = dq[:0]
			runStart = i + 1
			continue
		}
		for len(dq) > 0 && samples[dq[len(dq)-1]].Target >= s.Target {
			dq = dq[:len(dq)-1]
		}
		dq = append(dq, i)
		if dq[0] <= i-dwell {
			dq = dq[1:]
		}
		if i-runStart+1 >= dwell {
			if m := samples[dq[0]].Target; m > best {
				best = m
			}
		}
	}
	return best
}
