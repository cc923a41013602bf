package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tickstress/internal/harness"
	"tickstress/internal/logging"
	"tickstress/internal/report"
	"tickstress/internal/tui"
)

const shutdownTimeout = 5 * time.Second

var (
	runScenario     string
	runExitOnFinish bool
	runTUI          bool
	runLogFile      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulated host with the harness attached",
	Long: "run starts the host tick loop, the harness, telemetry and the admin API. " +
		"Scenarios are started through the admin API, the TUI, or --scenario.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		useTUI := runTUI && tui.IsTerminal(os.Stdout)
		var logPaths []string
		if runLogFile != "" {
			logPaths = []string{runLogFile}
		} else if useTUI {
			logPaths = []string{"tickstress.log"}
		}
		logger, err := logging.New(cfg.LogLevel, logPaths...)
		if err != nil {
			return err
		}
		defer logger.Sync()
		zap.ReplaceGlobals(logger)

		if useTUI && (cfg.HasSink("stdout") || cfg.HasSink("console")) {
			logger.Warn("terminal telemetry sinks disabled while the TUI is active")
			sinks := cfg.Telemetry.Sinks[:0]
			for _, s := range cfg.Telemetry.Sinks {
				if s != "stdout" && s != "console" {
					sinks = append(sinks, s)
				}
			}
			cfg.Telemetry.Sinks = sinks
		}

		st, err := build(cfg, logger)
		if err != nil {
			return err
		}
		defer st.cleanup()

		var dash *tui.Dashboard
		if useTUI {
			dash = tui.New(st.harness, st.harness, st.harness.Catalog().Names(), 250*time.Millisecond)
			st.harness.AddObserver(dash)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		err = execute(logging.NewContext(ctx, logger), st, runOptions{
			Addr:         cfg.Admin.Addr,
			Scenario:     runScenario,
			ExitOnFinish: runExitOnFinish,
			Dashboard:    dash,
		}, cmd.OutOrStdout())
		logger.Info("harness stopped")
		return err
	},
}

type runOptions struct {
	Addr         string
	Scenario     string
	ExitOnFinish bool
	Dashboard    *tui.Dashboard
}

// execute runs st until ctx is done, the admin server or TUI exits, or (with
// ExitOnFinish) the run ends. The host keeps ticking until the running
// scenario has been stopped, so the pool is cleared and the summary reaches
// telemetry before the publisher is drained.
func execute(ctx context.Context, st *stack, opts runOptions, out io.Writer) error {
	logger := logging.FromContext(ctx)
	finished := &finishWatcher{c: make(chan report.Summary, 1)}
	st.harness.AddObserver(finished)

	base := logging.NewContext(context.Background(), logger)
	pubCtx, stopPublisher := context.WithCancel(base)
	pubDone := make(chan error, 1)
	go func() { pubDone <- st.publisher.Run(pubCtx) }()

	hostCtx, stopHost := context.WithCancel(base)
	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		st.host.Run(hostCtx)
	}()

	svcCtx, stopServices := context.WithCancel(base)
	g, gctx := errgroup.WithContext(svcCtx)
	if st.admin != nil {
		g.Go(func() error { return st.admin.Run(gctx, opts.Addr) })
	}
	var uiDone chan error
	if opts.Dashboard != nil {
		uiDone = make(chan error, 1)
		go func() { uiDone <- opts.Dashboard.Run(gctx) }()
	}

	shutdown := func(summary *report.Summary) error {
		if summary == nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if s, err := st.harness.StopScenario(stopCtx); err == nil {
				summary = &s
			} else if !errors.Is(err, harness.ErrNotRunning) {
				logger.Warn("stop on shutdown failed", zap.Error(err))
			}
			cancel()
		}

		stopServices()
		err := g.Wait()
		if uiDone != nil {
			if uerr := <-uiDone; uerr != nil {
				logger.Error("tui failed", zap.Error(uerr))
			}
		}
		stopHost()
		<-hostDone
		stopPublisher()
		if perr := <-pubDone; perr != nil && err == nil {
			err = perr
		}
		if dropped := st.publisher.Dropped(); dropped > 0 {
			logger.Warn("telemetry rows dropped", zap.Uint64("dropped", dropped))
		}

		if summary != nil && opts.ExitOnFinish {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if eerr := enc.Encode(summary); eerr != nil && err == nil {
				err = eerr
			}
		}
		return err
	}

	if opts.Scenario != "" {
		startCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		info, err := st.harness.StartScenario(startCtx, opts.Scenario, nil)
		cancel()
		if err != nil {
			_ = shutdown(nil)
			return err
		}
		logger.Info("scenario started", zap.String("scenario", info.Scenario), zap.String("run_id", info.ID))
	}

	var wait <-chan report.Summary
	if opts.ExitOnFinish {
		wait = finished.c
	}
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case <-gctx.Done():
		logger.Warn("service exited, shutting down")
	case err := <-uiDone:
		if err != nil {
			logger.Error("tui failed", zap.Error(err))
		}
		uiDone = nil
	case s := <-wait:
		return shutdown(&s)
	}
	return shutdown(nil)
}

// finishWatcher captures the next run summary.
type finishWatcher struct {
	c chan report.Summary
}

func (f *finishWatcher) ObserveSample(report.Sample) {}

func (f *finishWatcher) ObserveSummary(s report.Summary) {
	select {
	case f.c <- s:
	default:
	}
}

func init() {
	runCmd.Flags().StringVar(&runScenario, "scenario", "", "Scenario to start once the host is ticking")
	runCmd.Flags().BoolVar(&runExitOnFinish, "exit-on-finish", false, "Print the summary and exit when the run ends")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the live terminal dashboard")
	runCmd.Flags().StringVar(&runLogFile, "log-file", "", "Write logs to this file instead of stderr")
}
