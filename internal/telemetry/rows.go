// Package telemetry turns run samples and summaries into rows and ships them
// to output sinks off the tick thread.
package telemetry

import (
	"math"
	"time"

	"tickstress/internal/report"
)

// SampleRow is one tick of a running scenario.
type SampleRow struct {
	RunID     string    `json:"run_id"`
	Scenario  string    `json:"scenario"`
	Tick      uint64    `json:"tick"`
	RunTick   int       `json:"run_tick"`
	MSPT      float64   `json:"mspt"`
	AvgMSPT   float64   `json:"avg_mspt"`
	TPS       float64   `json:"tps"`
	Target    int       `json:"target"`
	Count     int       `json:"count"`
	Phase     string    `json:"phase"`
	Created   int       `json:"created"`
	Removed   int       `json:"removed"`
	Shortfall int       `json:"shortfall"`
	Timestamp time.Time `json:"ts"`
}

// SummaryRow is the result of a finished run.
type SummaryRow struct {
	RunID              string    `json:"run_id"`
	Scenario           string    `json:"scenario"`
	Kind               string    `json:"kind"`
	StopReason         string    `json:"stop_reason"`
	Floor              float64   `json:"floor"`
	RampRate           int       `json:"ramp_rate"`
	Valid              bool      `json:"valid"`
	ElapsedTicks       int       `json:"elapsed_ticks"`
	MinTPS             float64   `json:"min_tps"`
	AvgTPS             float64   `json:"avg_tps"`
	AvgMSPT            float64   `json:"avg_mspt"`
	MaxMSPT            float64   `json:"max_mspt"`
	PeakCount          int       `json:"peak_count"`
	PeakSustainedCount int       `json:"peak_sustained_count"`
	TicksToDegradation int       `json:"ticks_to_degradation"`
	Backoffs           int       `json:"backoffs"`
	FinalTarget        int       `json:"final_target"`
	StartedAt          time.Time `json:"started_at"`
	Timestamp          time.Time `json:"ts"`
}

// orSentinel maps NaN to -1 so rows stay JSON and SQL friendly.
func orSentinel(v float64) float64 {
	if math.IsNaN(v) {
		return -1
	}
	return v
}

// NewSampleRow converts a run sample.
func NewSampleRow(s report.Sample) SampleRow {
	return SampleRow{
		RunID:     s.RunID,
		Scenario:  s.Scenario,
		Tick:      s.Tick,
		RunTick:   s.RunTick,
		MSPT:      float64(s.Duration) / float64(time.Millisecond),
		AvgMSPT:   orSentinel(s.Signal.MSPT),
		TPS:       orSentinel(s.Signal.TPS),
		Target:    s.Target,
		Count:     s.Count,
		Phase:     s.Phase.String(),
		Created:   s.Applied.Created,
		Removed:   s.Applied.Removed,
		Shortfall: s.Applied.Shortfall,
		Timestamp: s.At.UTC(),
	}
}

// NewSummaryRow converts a run summary.
func NewSummaryRow(s report.Summary) SummaryRow {
	return SummaryRow{
		RunID:              s.ID,
		Scenario:           s.Scenario,
		Kind:               string(s.Kind),
		StopReason:         s.StopReason,
		Floor:              s.Floor,
		RampRate:           s.RampRate,
		Valid:              s.Valid,
		ElapsedTicks:       s.ElapsedTicks,
		MinTPS:             s.MinTPS,
		AvgTPS:             s.AvgTPS,
		AvgMSPT:            s.AvgMSPT,
		MaxMSPT:            s.MaxMSPT,
		PeakCount:          s.PeakCount,
		PeakSustainedCount: s.PeakSustainedCount,
		TicksToDegradation: s.TicksToDegradation,
		Backoffs:           s.Backoffs,
		FinalTarget:        s.FinalTarget,
		StartedAt:          s.StartedAt.UTC(),
		Timestamp:          s.EndedAt.UTC(),
	}
}

// SampleWriter receives tick rows.
type SampleWriter interface {
	WriteSample(SampleRow) error
}

// SummaryWriter receives run summaries.
type SummaryWriter interface {
	WriteSummary(SummaryRow) error
}

// Writer is a sink for both row types.
type Writer interface {
	SampleWriter
	SummaryWriter
}

// Optional: writers may accept samples in batches.
type batchSampleWriter interface {
	WriteSamples([]SampleRow) error
}

// writeSamples uses the batch path when the writer has one.
func writeSamples(w SampleWriter, rows []SampleRow) error {
	if bw, ok := w.(batchSampleWriter); ok {
		return bw.WriteSamples(rows)
	}
	for _, r := range rows {
		if err := w.WriteSample(r); err != nil {
			return err
		}
	}
	return nil
}
