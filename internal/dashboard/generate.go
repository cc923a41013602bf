// Package dashboard renders the Grafana dashboard for the GreptimeDB telemetry tables.
package dashboard

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"tickstress/internal/telemetry"
)

//go:embed templates/*.tmpl
var templates embed.FS

// FileName is the name of the rendered dashboard.
const FileName = "tickstress-dashboard.json"

// Panel is one Grafana panel backed by a SQL query.
type Panel struct {
	Title  string
	Type   string
	Format string
	SQL    string
	Width  int
	X, Y   int
}

type data struct {
	DatasourceUID string
	SampleTable   string
	Panels        []Panel
}

func panels() []Panel {
	s := telemetry.SampleTable
	r := telemetry.SummaryTable
	scope := "WHERE scenario IN (${scenario:sqlstring}) AND $__timeFilter(ts)"
	return []Panel{
		{Title: "TPS", Type: "timeseries", Format: "time_series", Width: 12, X: 0, Y: 0,
			SQL: fmt.Sprintf("SELECT ts AS time, scenario, tps FROM %s %s AND tps >= 0 ORDER BY ts", s, scope)},
		{Title: "MSPT", Type: "timeseries", Format: "time_series", Width: 12, X: 12, Y: 0,
			SQL: fmt.Sprintf("SELECT ts AS time, scenario, mspt, avg_mspt FROM %s %s ORDER BY ts", s, scope)},
		{Title: "Load units", Type: "timeseries", Format: "time_series", Width: 12, X: 0, Y: 8,
			SQL: fmt.Sprintf("SELECT ts AS time, scenario, target, unit_count FROM %s %s ORDER BY ts", s, scope)},
		{Title: "Creation shortfall", Type: "timeseries", Format: "time_series", Width: 12, X: 12, Y: 8,
			SQL: fmt.Sprintf("SELECT ts AS time, scenario, shortfall FROM %s %s AND shortfall > 0 ORDER BY ts", s, scope)},
		{Title: "Runs", Type: "table", Format: "table", Width: 24, X: 0, Y: 16,
			SQL: fmt.Sprintf("SELECT ts AS ended, scenario, kind, stop_reason, peak_count, peak_sustained_count, min_tps, avg_tps, backoffs FROM %s WHERE $__timeFilter(ts) ORDER BY ts DESC", r)},
	}
}

// Render writes the dashboard to outDir. An empty datasourceUID is read from
// GREPTIMEDB_DATASOURCE_UID.
func Render(outDir, datasourceUID string) error {
	if datasourceUID == "" {
		datasourceUID = os.Getenv("GREPTIMEDB_DATASOURCE_UID")
	}
	if datasourceUID == "" {
		return fmt.Errorf("datasource uid not set: pass one or set GREPTIMEDB_DATASOURCE_UID")
	}

	funcMap := template.FuncMap{"inc": func(i int) int { return i + 1 }}
	t, err := template.New("").Funcs(funcMap).ParseFS(templates, "templates/*.tmpl")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	ps := panels()
	for i := range ps {
		ps[i].SQL = strings.ReplaceAll(ps[i].SQL, `"`, `\"`)
	}
	f, err := os.Create(filepath.Join(outDir, FileName))
	if err != nil {
		return err
	}
	if err := t.ExecuteTemplate(f, FileName+".tmpl", data{
		DatasourceUID: datasourceUID,
		SampleTable:   telemetry.SampleTable,
		Panels:        ps,
	}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
