package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickstress/internal/controller"
	"tickstress/internal/pool"
	"tickstress/internal/report"
	"tickstress/internal/sampler"
)

type collectWriter struct {
	samples   []SampleRow
	summaries []SummaryRow
	order     []string
	err       error
}

func (c *collectWriter) WriteSample(r SampleRow) error {
	c.samples = append(c.samples, r)
	c.order = append(c.order, "sample")
	return c.err
}

func (c *collectWriter) WriteSummary(r SummaryRow) error {
	c.summaries = append(c.summaries, r)
	c.order = append(c.order, "summary")
	return c.err
}

type mockGreptimeClient struct {
	tables []*table.Table
	err    error
}

func (m *mockGreptimeClient) Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error) {
	m.tables = append(m.tables, tables...)
	return &gpb.GreptimeResponse{}, m.err
}

func sample(runTick int) report.Sample {
	return report.Sample{
		RunID:    "run-1",
		Scenario: "entity-ramp",
		Tick:     uint64(100 + runTick),
		RunTick:  runTick,
		Duration: 25 * time.Millisecond,
		At:       time.Unix(int64(runTick), 0),
		Signal:   sampler.Signal{TPS: 20, MSPT: 25, Valid: true},
		Phase:    controller.Ramping,
		Target:   10 * runTick,
		Count:    10 * runTick,
		Applied:  pool.Applied{Requested: 10, Created: 8, Shortfall: 2},
	}
}

func summary() report.Summary {
	return report.Summary{
		RunInfo: report.RunInfo{
			ID:        "run-1",
			Scenario:  "entity-ramp",
			Kind:      pool.KindEntity,
			Floor:     18,
			RampRate:  5,
			StartedAt: time.Unix(0, 0),
		},
		EndedAt:            time.Unix(60, 0),
		StopReason:         "stopped",
		Valid:              true,
		ElapsedTicks:       1200,
		MinTPS:             17.2,
		AvgTPS:             19.5,
		PeakCount:          130,
		PeakSustainedCount: 110,
		TicksToDegradation: 300,
		Backoffs:           2,
		FinalTarget:        105,
	}
}

func TestNewSampleRow(t *testing.T) {
	row := NewSampleRow(sample(3))
	assert.Equal(t, "run-1", row.RunID)
	assert.Equal(t, uint64(103), row.Tick)
	assert.InDelta(t, 25.0, row.MSPT, 1e-9)
	assert.Equal(t, "ramping", row.Phase)
	assert.Equal(t, 2, row.Shortfall)
	assert.Equal(t, time.UTC, row.Timestamp.Location())
}

func TestNewSampleRowInsufficientData(t *testing.T) {
	s := sample(1)
	s.Signal = sampler.Signal{TPS: math.NaN(), MSPT: math.NaN()}
	row := NewSampleRow(s)
	assert.Equal(t, -1.0, row.TPS)
	assert.Equal(t, -1.0, row.AvgMSPT)

	_, err := json.Marshal(row)
	require.NoError(t, err)
}

func TestNewSummaryRow(t *testing.T) {
	row := NewSummaryRow(summary())
	assert.Equal(t, "entity", row.Kind)
	assert.Equal(t, 110, row.PeakSustainedCount)
	assert.Equal(t, time.Unix(60, 0).UTC(), row.Timestamp)
}

func TestJSONStdoutWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &JSONStdoutWriter{out: &buf}
	require.NoError(t, w.WriteSamples([]SampleRow{NewSampleRow(sample(1)), NewSampleRow(sample(2))}))
	require.NoError(t, w.WriteSummary(NewSummaryRow(summary())))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	var got SampleRow
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
	assert.Equal(t, 2, got.RunTick)
	assert.Contains(t, lines[2], `"peak_sustained_count":110`)
}

func TestConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	w := newConsoleWriter(&buf)
	require.NoError(t, w.WriteSamples([]SampleRow{NewSampleRow(sample(2))}))
	sum := NewSummaryRow(summary())
	sum.Valid = false
	require.NoError(t, w.WriteSummary(sum))

	out := buf.String()
	assert.Contains(t, out, "units=20/20")
	assert.Contains(t, out, "tps=20.00")
	assert.Contains(t, out, "peak_sustained=110")
	assert.Contains(t, out, "invalid")
	assert.Len(t, w.colors, 1)
}

func TestFileWriter(t *testing.T) {
	dir := t.TempDir()
	samplesPath := filepath.Join(dir, "samples.jsonl")
	summaryPath := filepath.Join(dir, "summaries.jsonl")

	fw, err := NewFileWriter(samplesPath, summaryPath)
	require.NoError(t, err)
	require.NoError(t, fw.WriteSamples([]SampleRow{NewSampleRow(sample(1)), NewSampleRow(sample(2))}))
	require.NoError(t, fw.WriteSummary(NewSummaryRow(summary())))
	require.NoError(t, fw.Close())

	data, err := os.ReadFile(samplesPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))

	data, err = os.ReadFile(summaryPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":"run-1"`)
}

func TestFileWriterWithoutSummaries(t *testing.T) {
	fw, err := NewFileWriter(filepath.Join(t.TempDir(), "samples.jsonl"), "")
	require.NoError(t, err)
	defer fw.Close()
	assert.NoError(t, fw.WriteSummary(NewSummaryRow(summary())))
}

func TestMultiWriterAttemptsAll(t *testing.T) {
	boom := errors.New("boom")
	a := &collectWriter{err: boom}
	b := &collectWriter{}
	mw := NewMultiWriter(a, b)

	err := mw.WriteSamples([]SampleRow{NewSampleRow(sample(1)), NewSampleRow(sample(2))})
	assert.ErrorIs(t, err, boom)
	// a fails on the first row, b still receives both
	assert.Len(t, a.samples, 1)
	assert.Len(t, b.samples, 2)

	assert.ErrorIs(t, mw.WriteSummary(NewSummaryRow(summary())), boom)
	assert.Len(t, b.summaries, 1)
}

func TestGreptimeWriterSamples(t *testing.T) {
	m := &mockGreptimeClient{}
	w := &GreptimeDBWriter{client: m, sampleTable: SampleTable, summaryTable: SummaryTable}

	require.NoError(t, w.WriteSamples([]SampleRow{NewSampleRow(sample(1)), NewSampleRow(sample(2))}))
	require.Len(t, m.tables, 1)

	rows := m.tables[0].GetRows()
	require.Len(t, rows.Rows, 2)
	assert.Equal(t, "run_id", rows.Schema[0].ColumnName)
	assert.Equal(t, gpb.SemanticType_TAG, rows.Schema[0].SemanticType)
	assert.Equal(t, gpb.ColumnDataType_FLOAT64, rows.Schema[4].Datatype)
	assert.Equal(t, "entity-ramp", rows.Rows[0].Values[1].GetStringValue())
	assert.Equal(t, int64(2), rows.Rows[1].Values[3].GetI64Value())
	assert.Equal(t, "ramping", rows.Rows[1].Values[9].GetStringValue())
}

func TestGreptimeWriterEmptyBatch(t *testing.T) {
	m := &mockGreptimeClient{}
	w := &GreptimeDBWriter{client: m, sampleTable: SampleTable}
	require.NoError(t, w.WriteSamples(nil))
	assert.Empty(t, m.tables)
}

func TestGreptimeWriterSummary(t *testing.T) {
	m := &mockGreptimeClient{}
	w := &GreptimeDBWriter{client: m, sampleTable: SampleTable, summaryTable: SummaryTable}

	require.NoError(t, w.WriteSummary(NewSummaryRow(summary())))
	require.Len(t, m.tables, 1)
	rows := m.tables[0].GetRows()
	require.Len(t, rows.Rows, 1)
	assert.Equal(t, "entity", rows.Rows[0].Values[2].GetStringValue())
	assert.Equal(t, int64(110), rows.Rows[0].Values[13].GetI64Value())
}

func TestGreptimeWriterPropagatesError(t *testing.T) {
	boom := errors.New("unavailable")
	w := &GreptimeDBWriter{client: &mockGreptimeClient{err: boom}, sampleTable: SampleTable}
	assert.ErrorIs(t, w.WriteSample(NewSampleRow(sample(1))), boom)
}

func TestSplitEndpoint(t *testing.T) {
	host, port, err := splitEndpoint("greptimedb:4001")
	require.NoError(t, err)
	assert.Equal(t, "greptimedb", host)
	assert.Equal(t, 4001, port)

	host, port, err = splitEndpoint("localhost")
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, defaultGreptimePort, port)

	_, _, err = splitEndpoint("localhost:abc")
	assert.Error(t, err)
}

func TestReplayMixedRows(t *testing.T) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := 1; i <= 3; i++ {
		require.NoError(t, enc.Encode(NewSampleRow(sample(i))))
	}
	require.NoError(t, enc.Encode(NewSummaryRow(summary())))

	cw := &collectWriter{}
	stats, err := Replay(context.Background(), &buf, cw, 0)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Samples: 3, Summaries: 1}, stats)
	require.Len(t, cw.samples, 3)
	assert.Equal(t, 3, cw.samples[2].RunTick)
	require.Len(t, cw.summaries, 1)
	assert.Equal(t, 110, cw.summaries[0].PeakSustainedCount)
	assert.Equal(t, []string{"sample", "sample", "sample", "summary"}, cw.order)
}

func pacedRows(t *testing.T, gap time.Duration) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	first := NewSampleRow(sample(1))
	second := first
	second.Timestamp = first.Timestamp.Add(gap)
	require.NoError(t, enc.Encode(first))
	require.NoError(t, enc.Encode(second))
	return &buf
}

func TestReplaySpeed(t *testing.T) {
	cw := &collectWriter{}
	start := time.Now()
	stats, err := Replay(context.Background(), pacedRows(t, 100*time.Millisecond), cw, 2)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 2, stats.Samples)
}

func TestReplayCancelledDuringPause(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	cw := &collectWriter{}
	start := time.Now()
	stats, err := Replay(ctx, pacedRows(t, time.Hour), cw, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, stats.Samples)
}

func TestReplayBadInputNamesRow(t *testing.T) {
	input := `{"run_id":"a","ts":"2024-01-01T00:00:00Z"}` + "\n{not json"
	_, err := Replay(context.Background(), strings.NewReader(input), &collectWriter{}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")
}

func TestReplayFiles(t *testing.T) {
	dir := t.TempDir()
	samplesPath := filepath.Join(dir, "samples.jsonl")
	summaryPath := filepath.Join(dir, "summaries.jsonl")
	fw, err := NewFileWriter(samplesPath, summaryPath)
	require.NoError(t, err)
	require.NoError(t, fw.WriteSamples([]SampleRow{NewSampleRow(sample(1)), NewSampleRow(sample(2))}))
	require.NoError(t, fw.WriteSummary(NewSummaryRow(summary())))
	require.NoError(t, fw.Close())

	cw := &collectWriter{}
	stats, err := ReplayFiles(context.Background(), cw, 0, samplesPath, summaryPath)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Samples: 2, Summaries: 1}, stats)

	_, err = ReplayFiles(context.Background(), cw, 0, filepath.Join(dir, "missing.jsonl"))
	assert.Error(t, err)
}

func TestPublisherDropsWhenFull(t *testing.T) {
	cw := &collectWriter{}
	p := NewPublisher(cw, PublisherOptions{Buffer: 2}, nil)
	for i := 1; i <= 5; i++ {
		p.ObserveSample(sample(i))
	}
	assert.Equal(t, uint64(3), p.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))
	assert.Len(t, cw.samples, 2)
	assert.Equal(t, uint64(2), p.Written())
}

func TestPublisherFlushesSamplesBeforeSummary(t *testing.T) {
	cw := &collectWriter{}
	p := NewPublisher(cw, PublisherOptions{}, nil)
	p.ObserveSample(sample(1))
	p.ObserveSample(sample(2))
	p.ObserveSummary(summary())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))
	assert.Equal(t, []string{"sample", "sample", "summary"}, cw.order)
}

func TestPublisherEvery(t *testing.T) {
	cw := &collectWriter{}
	p := NewPublisher(cw, PublisherOptions{Every: 5}, nil)
	for i := 1; i <= 20; i++ {
		p.ObserveSample(sample(i))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))
	require.Len(t, cw.samples, 4)
	assert.Equal(t, 5, cw.samples[0].RunTick)
}

func TestPublisherBatchFlush(t *testing.T) {
	cw := &collectWriter{}
	p := NewPublisher(cw, PublisherOptions{BatchSize: 2, FlushInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.ObserveSample(sample(1))
	p.ObserveSample(sample(2))
	assert.Eventually(t, func() bool { return p.Written() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
