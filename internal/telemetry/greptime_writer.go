package telemetry

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"
	"go.uber.org/zap"
)

const (
	SampleTable  = "stress_samples"
	SummaryTable = "stress_summaries"

	defaultGreptimePort = 4001
	writeTimeout        = 5 * time.Second
)

type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes run telemetry to GreptimeDB over gRPC.
type GreptimeDBWriter struct {
	client       greptimeClient
	sampleTable  string
	summaryTable string
	logger       *zap.Logger
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port").
// Tables are created by GreptimeDB on first insert.
func NewGreptimeDBWriter(endpoint, database string, logger *zap.Logger) (*GreptimeDBWriter, error) {
	host, port, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptimedb client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GreptimeDBWriter{
		client:       client,
		sampleTable:  SampleTable,
		summaryTable: SummaryTable,
		logger:       logger.Named("greptimedb"),
	}, nil
}

func splitEndpoint(endpoint string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		// no port given
		return endpoint, defaultGreptimePort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("greptimedb endpoint %q: invalid port", endpoint)
	}
	return host, port, nil
}

// WriteSample inserts a single sample row.
func (w *GreptimeDBWriter) WriteSample(row SampleRow) error {
	return w.WriteSamples([]SampleRow{row})
}

// WriteSamples inserts multiple sample rows in one request.
func (w *GreptimeDBWriter) WriteSamples(rows []SampleRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.sampleTable)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("run_id", types.STRING)
	tbl.AddTagColumn("scenario", types.STRING)
	tbl.AddFieldColumn("tick", types.INT64)
	tbl.AddFieldColumn("run_tick", types.INT64)
	tbl.AddFieldColumn("mspt", types.FLOAT64)
	tbl.AddFieldColumn("avg_mspt", types.FLOAT64)
	tbl.AddFieldColumn("tps", types.FLOAT64)
	tbl.AddFieldColumn("target", types.INT64)
	tbl.AddFieldColumn("unit_count", types.INT64)
	tbl.AddFieldColumn("phase", types.STRING)
	tbl.AddFieldColumn("shortfall", types.INT64)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)

	for _, r := range rows {
		if err := tbl.AddRow(
			r.RunID,
			r.Scenario,
			int64(r.Tick),
			int64(r.RunTick),
			r.MSPT,
			r.AvgMSPT,
			r.TPS,
			int64(r.Target),
			int64(r.Count),
			r.Phase,
			int64(r.Shortfall),
			r.Timestamp,
		); err != nil {
			return err
		}
	}
	return w.write(w.sampleTable, tbl, len(rows))
}

// WriteSummary inserts one run summary.
func (w *GreptimeDBWriter) WriteSummary(r SummaryRow) error {
	tbl, err := table.New(w.summaryTable)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("run_id", types.STRING)
	tbl.AddTagColumn("scenario", types.STRING)
	tbl.AddFieldColumn("kind", types.STRING)
	tbl.AddFieldColumn("stop_reason", types.STRING)
	tbl.AddFieldColumn("floor", types.FLOAT64)
	tbl.AddFieldColumn("ramp_rate", types.INT64)
	tbl.AddFieldColumn("valid", types.BOOLEAN)
	tbl.AddFieldColumn("elapsed_ticks", types.INT64)
	tbl.AddFieldColumn("min_tps", types.FLOAT64)
	tbl.AddFieldColumn("avg_tps", types.FLOAT64)
	tbl.AddFieldColumn("avg_mspt", types.FLOAT64)
	tbl.AddFieldColumn("max_mspt", types.FLOAT64)
	tbl.AddFieldColumn("peak_count", types.INT64)
	tbl.AddFieldColumn("peak_sustained_count", types.INT64)
	tbl.AddFieldColumn("ticks_to_degradation", types.INT64)
	tbl.AddFieldColumn("backoffs", types.INT64)
	tbl.AddFieldColumn("final_target", types.INT64)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)

	if err := tbl.AddRow(
		r.RunID,
		r.Scenario,
		r.Kind,
		r.StopReason,
		r.Floor,
		int64(r.RampRate),
		r.Valid,
		int64(r.ElapsedTicks),
		r.MinTPS,
		r.AvgTPS,
		r.AvgMSPT,
		r.MaxMSPT,
		int64(r.PeakCount),
		int64(r.PeakSustainedCount),
		int64(r.TicksToDegradation),
		int64(r.Backoffs),
		int64(r.FinalTarget),
		r.Timestamp,
	); err != nil {
		return err
	}
	return w.write(w.summaryTable, tbl, 1)
}

func (w *GreptimeDBWriter) write(name string, tbl *table.Table, n int) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	logger := w.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := w.client.Write(ctx, tbl); err != nil {
		logger.Warn("write failed", zap.String("table", name), zap.Int("rows", n), zap.Error(err))
		return err
	}
	logger.Debug("rows written", zap.String("table", name), zap.Int("rows", n))
	return nil
}
