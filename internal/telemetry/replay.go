package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ReplayStats counts the rows a replay delivered.
type ReplayStats struct {
	Samples   int `json:"samples"`
	Summaries int `json:"summaries"`
}

func (s *ReplayStats) add(o ReplayStats) {
	s.Samples += o.Samples
	s.Summaries += o.Summaries
}

// rowKind tells summary lines from sample lines; only summaries carry a stop reason.
type rowKind struct {
	StopReason *string `json:"stop_reason"`
}

// Replay reads JSONL rows from r and hands them to w in file order. Sample
// rows are paced by their timestamps divided by speed; speed <= 0 replays as
// fast as w accepts. Summary rows are written as soon as they are read.
func Replay(ctx context.Context, r io.Reader, w Writer, speed float64) (ReplayStats, error) {
	var (
		stats ReplayStats
		prev  time.Time
	)
	dec := json.NewDecoder(r)
	for line := 1; ; line++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			return stats, fmt.Errorf("replay row %d: %w", line, err)
		}
		var kind rowKind
		if err := json.Unmarshal(raw, &kind); err != nil {
			return stats, fmt.Errorf("replay row %d: %w", line, err)
		}

		if kind.StopReason != nil {
			var row SummaryRow
			if err := json.Unmarshal(raw, &row); err != nil {
				return stats, fmt.Errorf("replay row %d: %w", line, err)
			}
			if err := w.WriteSummary(row); err != nil {
				return stats, err
			}
			stats.Summaries++
			continue
		}

		var row SampleRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return stats, fmt.Errorf("replay row %d: %w", line, err)
		}
		if !prev.IsZero() && speed > 0 {
			if err := pause(ctx, time.Duration(float64(row.Timestamp.Sub(prev))/speed)); err != nil {
				return stats, err
			}
		}
		if err := w.WriteSample(row); err != nil {
			return stats, err
		}
		stats.Samples++
		prev = row.Timestamp
	}
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ReplayFiles replays each file in turn, typically a sample log followed by
// its summary log.
func ReplayFiles(ctx context.Context, w Writer, speed float64, paths ...string) (ReplayStats, error) {
	var total ReplayStats
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return total, err
		}
		stats, err := Replay(ctx, f, w, speed)
		f.Close()
		total.add(stats)
		if err != nil {
			return total, fmt.Errorf("%s: %w", path, err)
		}
	}
	return total, nil
}
