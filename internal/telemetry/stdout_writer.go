package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// JSONStdoutWriter prints rows as JSON lines.
type JSONStdoutWriter struct {
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

func (w *JSONStdoutWriter) line(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// WriteSample outputs a sample row.
func (w *JSONStdoutWriter) WriteSample(row SampleRow) error { return w.line(row) }

// WriteSamples outputs multiple sample rows.
func (w *JSONStdoutWriter) WriteSamples(rows []SampleRow) error {
	for _, r := range rows {
		if err := w.line(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteSummary outputs a summary row.
func (w *JSONStdoutWriter) WriteSummary(row SummaryRow) error { return w.line(row) }
