package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tickstress/internal/logging"
	"tickstress/internal/telemetry"
)

var (
	replayInput     string
	replaySummaries string
	replaySpeed     float64
	replayPrintOnly bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay sample and summary logs",
	Long: "replay feeds rows from JSONL logs written by the file sink back into the configured sinks " +
		"or STDOUT. Samples keep their original pacing scaled by --speed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if replayPrintOnly {
			cfg.Telemetry.Sinks = []string{"stdout"}
		}
		logger, err := logging.New(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer logger.Sync()

		writer, cleanup, err := newWriter(cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		paths := []string{replayInput}
		if replaySummaries != "" {
			paths = append(paths, replaySummaries)
		}
		stats, err := telemetry.ReplayFiles(cmd.Context(), writer, replaySpeed, paths...)
		logger.Info("replay finished",
			zap.Strings("files", paths),
			zap.Int("samples", stats.Samples),
			zap.Int("summaries", stats.Summaries))
		return err
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to sample log file")
	replayCmd.Flags().StringVar(&replaySummaries, "summaries", "", "Path to summary log file replayed after the samples")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier (0 for no delay)")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print rows to STDOUT instead of the configured sinks")
	replayCmd.MarkFlagRequired("input")
}
