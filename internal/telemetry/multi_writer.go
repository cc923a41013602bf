package telemetry

import "errors"

// MultiWriter fans rows out to several writers. Every writer is attempted;
// errors are joined.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

// WriteSample sends a sample row to all writers.
func (mw *MultiWriter) WriteSample(row SampleRow) error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.WriteSample(row); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteSamples sends multiple sample rows to all writers, using batch if supported.
func (mw *MultiWriter) WriteSamples(rows []SampleRow) error {
	var errs []error
	for _, w := range mw.writers {
		if err := writeSamples(w, rows); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteSummary sends a summary row to all writers.
func (mw *MultiWriter) WriteSummary(row SummaryRow) error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.WriteSummary(row); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
