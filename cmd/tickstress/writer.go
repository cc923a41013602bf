package main

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"tickstress/internal/config"
	"tickstress/internal/telemetry"
)

// newWriter builds the telemetry sink chain from the configured sinks. The
// returned cleanup closes any files.
func newWriter(cfg *config.HarnessConfig, logger *zap.Logger) (telemetry.Writer, func(), error) {
	var (
		writers []telemetry.Writer
		closers []io.Closer
	)
	cleanup := func() {
		for _, c := range closers {
			c.Close()
		}
	}
	for _, sink := range cfg.Telemetry.Sinks {
		switch sink {
		case "stdout":
			writers = append(writers, telemetry.NewJSONStdoutWriter())
		case "console":
			writers = append(writers, telemetry.NewConsoleWriter())
		case "file":
			fw, err := telemetry.NewFileWriter(cfg.Telemetry.File.Samples, cfg.Telemetry.File.Summaries)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			writers = append(writers, fw)
			closers = append(closers, fw)
		case "greptimedb":
			gw, err := telemetry.NewGreptimeDBWriter(cfg.Telemetry.GreptimeDB.Endpoint, cfg.Telemetry.GreptimeDB.Database, logger)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			writers = append(writers, gw)
		default:
			cleanup()
			return nil, nil, fmt.Errorf("unknown telemetry sink %q", sink)
		}
	}
	if len(writers) == 1 {
		return writers[0], cleanup, nil
	}
	return telemetry.NewMultiWriter(writers...), cleanup, nil
}
