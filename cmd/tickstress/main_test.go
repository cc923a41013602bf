package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tickstress/internal/config"
	"tickstress/internal/harness"
	"tickstress/internal/pool"
	"tickstress/internal/report"
	"tickstress/internal/scenario"
	"tickstress/internal/telemetry"
)

func TestNewWriterStdout(t *testing.T) {
	cfg := config.Defaults()
	w, cleanup, err := newWriter(&cfg, zap.NewNop())
	require.NoError(t, err)
	cleanup()
	assert.IsType(t, &telemetry.JSONStdoutWriter{}, w)
}

func TestNewWriterFileAndStdout(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Telemetry.Sinks = []string{"stdout", "file"}
	cfg.Telemetry.File = config.FileSinkConfig{
		Samples:   filepath.Join(dir, "samples.jsonl"),
		Summaries: filepath.Join(dir, "summaries.jsonl"),
	}
	w, cleanup, err := newWriter(&cfg, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()
	assert.IsType(t, &telemetry.MultiWriter{}, w)
	_, err = os.Stat(cfg.Telemetry.File.Samples)
	assert.NoError(t, err, "sample log is created")
}

func TestNewWriterConsole(t *testing.T) {
	cfg := config.Defaults()
	cfg.Telemetry.Sinks = []string{"console"}
	w, cleanup, err := newWriter(&cfg, zap.NewNop())
	require.NoError(t, err)
	cleanup()
	assert.IsType(t, &telemetry.ConsoleWriter{}, w)
}

func TestNewWriterUnknownSink(t *testing.T) {
	cfg := config.Defaults()
	cfg.Telemetry.Sinks = []string{"kafka"}
	_, _, err := newWriter(&cfg, zap.NewNop())
	assert.Error(t, err)
}

// testConfig ticks fast, writes telemetry to a temp dir and keeps the admin
// server off.
func testConfig(t *testing.T) config.HarnessConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Host.TickInterval = 10 * time.Millisecond
	cfg.Host.UnitWork = 0
	cfg.Admin.Enabled = false
	cfg.Telemetry.Sinks = []string{"file"}
	cfg.Telemetry.File = config.FileSinkConfig{
		Samples:   filepath.Join(dir, "samples.jsonl"),
		Summaries: filepath.Join(dir, "summaries.jsonl"),
	}
	return cfg
}

func TestBuildStartsScenarioOnTick(t *testing.T) {
	cfg := testConfig(t)
	st, err := build(&cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.cleanup()
	assert.Nil(t, st.admin, "admin disabled")

	ch, err := st.harness.RequestStart("entity-ramp", nil)
	require.NoError(t, err)
	// the first host tick has no previous duration to report
	st.host.Tick()
	st.host.Tick()
	select {
	case res := <-ch:
		require.NoError(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("start not processed")
	}
	for i := 0; i < 10; i++ {
		st.host.Tick()
	}
	status := st.harness.Status()
	assert.Equal(t, harness.Running, status.State)
	assert.Equal(t, "entity-ramp", status.Scenario)
	assert.NotZero(t, status.UnitCount)
	assert.Equal(t, status.UnitCount, st.host.World().Len())
}

func TestBuildRejectsUnreachableFloor(t *testing.T) {
	cfg := config.Defaults()
	cfg.Admin.Enabled = false
	cfg.Host.TickInterval = 100 * time.Millisecond // nominal 10 TPS, built-in floors are above it
	_, err := build(&cfg, zap.NewNop())
	assert.ErrorIs(t, err, scenario.ErrInvalidScenarioConfig)
}

func decodeSummary(t *testing.T, out *bytes.Buffer) report.Summary {
	t.Helper()
	var sum report.Summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &sum), "summary printed: %q", out.String())
	return sum
}

func TestExecuteStopsRunOnCancel(t *testing.T) {
	cfg := testConfig(t)
	st, err := build(&cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	var out bytes.Buffer
	began := time.Now()
	err = execute(ctx, st, runOptions{Scenario: "entity-ramp", ExitOnFinish: true}, &out)
	require.NoError(t, err)
	assert.Less(t, time.Since(began), 2*time.Second, "shutdown must not wait out the stop timeout")

	sum := decodeSummary(t, &out)
	assert.Equal(t, "entity-ramp", sum.Scenario)
	assert.Equal(t, "stopped", sum.StopReason)
	assert.Zero(t, st.host.World().Len(), "pool cleared on stop")
	assert.Equal(t, harness.Stopped, st.harness.Status().State)
	assert.Len(t, st.harness.History(), 1)

	data, err := os.ReadFile(cfg.Telemetry.File.Summaries)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stop_reason":"stopped"`, "summary row reaches telemetry")
}

func TestExecuteStopsRunWhenAdminFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admin.Enabled = true
	st, err := build(&cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.cleanup()

	var out bytes.Buffer
	err = execute(context.Background(), st, runOptions{
		Addr:         "127.0.0.1:-1",
		Scenario:     "entity-ramp",
		ExitOnFinish: true,
	}, &out)
	assert.Error(t, err, "listen error is returned")

	sum := decodeSummary(t, &out)
	assert.Equal(t, "stopped", sum.StopReason)
	assert.Zero(t, st.host.World().Len())
}

func TestExecuteExitsWhenRunFinishes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scenarios = []scenario.Scenario{{
		Name:        "short",
		Kind:        pool.KindEntity,
		RampRate:    5,
		Floor:       18,
		MaxDuration: time.Second,
	}}
	st, err := build(&cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var out bytes.Buffer
	require.NoError(t, execute(ctx, st, runOptions{Scenario: "short", ExitOnFinish: true}, &out))

	sum := decodeSummary(t, &out)
	assert.Equal(t, "short", sum.Scenario)
	assert.Equal(t, "max duration reached", sum.StopReason)
	assert.Zero(t, st.host.World().Len())
}

func TestExecuteUnknownScenario(t *testing.T) {
	cfg := testConfig(t)
	st, err := build(&cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.cleanup()

	var out bytes.Buffer
	err = execute(context.Background(), st, runOptions{Scenario: "nope"}, &out)
	assert.ErrorIs(t, err, harness.ErrUnknownScenario)
	assert.Empty(t, out.String())
}

func runRoot(t *testing.T, args ...string) string {
	t.Helper()
	configPath, schemaPath, logLevel = "", "", ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestScenariosCommand(t *testing.T) {
	out := runRoot(t, "scenarios")
	for _, name := range []string{"entity-ramp", "chunk-ramp", "chunk-gen", "player-soak"} {
		assert.Contains(t, out, name)
	}
}

func TestValidateCommand(t *testing.T) {
	out := runRoot(t, "validate", "../../config/harness.yaml")
	assert.Contains(t, out, "ok")
}

func TestReplayCommand(t *testing.T) {
	dir := t.TempDir()
	samples := filepath.Join(dir, "samples.jsonl")
	summaries := filepath.Join(dir, "summaries.jsonl")
	fw, err := telemetry.NewFileWriter(samples, summaries)
	require.NoError(t, err)
	require.NoError(t, fw.WriteSample(telemetry.SampleRow{RunID: "r1", Scenario: "entity-ramp", RunTick: 1, Timestamp: time.Now()}))
	require.NoError(t, fw.WriteSummary(telemetry.SummaryRow{RunID: "r1", Scenario: "entity-ramp", StopReason: "stopped"}))
	require.NoError(t, fw.Close())

	runRoot(t, "replay", "--input", samples, "--summaries", summaries, "--speed", "0", "--print-only")
}
