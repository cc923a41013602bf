// Package harness runs scenarios against the host. All state is advanced by
// OnTick on the host's tick thread; other goroutines hand commands over a
// bounded queue and read a published Status snapshot.
package harness

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tickstress/internal/controller"
	"tickstress/internal/pool"
	"tickstress/internal/report"
	"tickstress/internal/sampler"
	"tickstress/internal/scenario"
)

var (
	ErrAlreadyRunning  = errors.New("a scenario is already running")
	ErrNotRunning      = errors.New("no scenario is running")
	ErrUnknownScenario = errors.New("unknown scenario")
	ErrQueueFull       = errors.New("command queue full")

	// ErrInvalidScenarioConfig is scenario.ErrInvalidScenarioConfig.
	ErrInvalidScenarioConfig = scenario.ErrInvalidScenarioConfig
)

// Observer receives run events on the tick thread. Implementations must not block.
type Observer interface {
	ObserveSample(report.Sample)
	ObserveSummary(report.Summary)
}

// Options tunes the orchestrator and supplies controller defaults that a
// scenario's tuning block may override.
type Options struct {
	QueueSize       int
	HistoryLimit    int
	DwellTicks      int
	Margin          float64
	SettleTicks     int
	ReprobeTicks    int
	BackoffCooldown int
	Now             func() time.Time
}

// DefaultOptions returns the stock orchestrator settings.
func DefaultOptions() Options {
	return Options{
		QueueSize:    16,
		HistoryLimit: 10,
		DwellTicks:   20,
		Margin:       1.0,
		SettleTicks:  1,
		ReprobeTicks: 200,
	}
}

// StartResult answers a start request.
type StartResult struct {
	Run report.RunInfo
	Err error
}

// StopResult answers a stop request.
type StopResult struct {
	Summary report.Summary
	Err     error
}

type command struct {
	start   *scenario.Scenario
	params  controller.Params
	startCh chan StartResult
	stopCh  chan StopResult
}

func (c command) reject(err error) {
	if c.startCh != nil {
		select {
		case c.startCh <- StartResult{Err: err}:
		default:
		}
	}
	if c.stopCh != nil {
		select {
		case c.stopCh <- StopResult{Err: err}:
		default:
		}
	}
}

// Harness is the scenario orchestrator.
type Harness struct {
	sampler   *sampler.Sampler
	pool      *pool.Pool
	catalog   *scenario.Catalog
	opts      Options
	logger    *zap.Logger
	observers []Observer

	cmds    chan command
	status  atomic.Pointer[Status]
	history atomic.Pointer[[]report.Summary]

	// owned by the tick thread
	state      RunState
	sc         scenario.Scenario
	ctrl       *controller.Controller
	agg        *report.Aggregator
	run        *report.ScenarioRun
	deadline   time.Time
	tickBudget int
	runTicks   int
	shortfall  int
	lastTick   uint64
}

// New wires a harness. Observers are notified on the tick thread.
func New(s *sampler.Sampler, p *pool.Pool, c *scenario.Catalog, opts Options, logger *zap.Logger, observers ...Observer) *Harness {
	def := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = def.HistoryLimit
	}
	if opts.DwellTicks <= 0 {
		opts.DwellTicks = def.DwellTicks
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Harness{
		sampler:   s,
		pool:      p,
		catalog:   c,
		opts:      opts,
		logger:    logger,
		observers: observers,
		cmds:      make(chan command, opts.QueueSize),
	}
	empty := []report.Summary{}
	h.history.Store(&empty)
	h.publish()
	return h
}

// AddObserver registers o. It must be called before the first tick.
func (h *Harness) AddObserver(o Observer) {
	h.observers = append(h.observers, o)
}

// Catalog returns the scenarios this harness can start.
func (h *Harness) Catalog() *scenario.Catalog { return h.catalog }

// Sampler returns the tick sampler.
func (h *Harness) Sampler() *sampler.Sampler { return h.sampler }

// Status returns the snapshot published by the last tick. It never blocks.
func (h *Harness) Status() Status { return *h.status.Load() }

// History returns summaries of finished runs, oldest first.
func (h *Harness) History() []report.Summary {
	return append([]report.Summary(nil), *h.history.Load()...)
}

// RequestStart validates the named scenario with optional overrides and
// queues it. The returned channel receives exactly one result once the tick
// thread has processed the request.
func (h *Harness) RequestStart(name string, o *scenario.Overrides) (<-chan StartResult, error) {
	sc, ok := h.catalog.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
	}
	if o != nil {
		var err error
		if sc, err = o.Apply(sc); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", name, err)
		}
	}
	if err := sc.Validate(h.sampler.NominalTPS()); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", name, err)
	}
	params := h.paramsFor(sc)
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", name, &scenario.FieldError{Field: "tuning", Reason: err.Error()})
	}

	ch := make(chan StartResult, 1)
	if err := h.enqueue(command{start: &sc, params: params, startCh: ch}); err != nil {
		return nil, err
	}
	return ch, nil
}

// StartScenario is RequestStart followed by waiting for the tick thread.
// If ctx ends first the request stays queued and may still start.
func (h *Harness) StartScenario(ctx context.Context, name string, o *scenario.Overrides) (report.RunInfo, error) {
	ch, err := h.RequestStart(name, o)
	if err != nil {
		return report.RunInfo{}, err
	}
	select {
	case res := <-ch:
		return res.Run, res.Err
	case <-ctx.Done():
		return report.RunInfo{}, ctx.Err()
	}
}

// RequestStop queues a stop. The stop takes effect at the next tick boundary;
// callers that do not need the summary may ignore the channel.
func (h *Harness) RequestStop() (<-chan StopResult, error) {
	ch := make(chan StopResult, 1)
	if err := h.enqueue(command{stopCh: ch}); err != nil {
		return nil, err
	}
	return ch, nil
}

// StopScenario is RequestStop followed by waiting for the summary.
func (h *Harness) StopScenario(ctx context.Context) (report.Summary, error) {
	ch, err := h.RequestStop()
	if err != nil {
		return report.Summary{}, err
	}
	select {
	case res := <-ch:
		return res.Summary, res.Err
	case <-ctx.Done():
		return report.Summary{}, ctx.Err()
	}
}

func (h *Harness) enqueue(c command) error {
	select {
	case h.cmds <- c:
		return nil
	default:
		return ErrQueueFull
	}
}

func (h *Harness) paramsFor(sc scenario.Scenario) controller.Params {
	p := controller.Params{
		Floor:           sc.Floor,
		Margin:          h.opts.Margin,
		RampRate:        sc.RampRate,
		PoolCap:         h.pool.MaxBatch(),
		SettleTicks:     h.opts.SettleTicks,
		BackoffCooldown: h.opts.BackoffCooldown,
		ReprobeTicks:    h.opts.ReprobeTicks,
		MaxTarget:       sc.MaxUnits,
	}
	t := sc.Tuning
	if t.Margin != nil {
		p.Margin = *t.Margin
	}
	if t.SettleTicks != nil {
		p.SettleTicks = *t.SettleTicks
	}
	if t.InitialSeekStep > 0 {
		p.InitialSeekStep = t.InitialSeekStep
	}
	if t.BackoffStep > 0 {
		p.BackoffStep = t.BackoffStep
	}
	if t.MaxBackoffStep > 0 {
		p.MaxBackoffStep = t.MaxBackoffStep
	}
	if t.BackoffCooldown > 0 {
		p.BackoffCooldown = t.BackoffCooldown
	}
	return p.WithDefaults(h.sampler.WindowTicks())
}

// OnTick is the host's per-tick callback and the only place harness state
// changes. It records d, drains queued commands, advances the running
// scenario and publishes a new Status. It never panics.
func (h *Harness) OnTick(d time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			h.fail(fmt.Errorf("tick panic: %v", r))
		}
		h.publish()
	}()

	ts := h.sampler.RecordTick(d)
	h.lastTick = ts.Seq
	h.drain(ts)
	if h.state != Running {
		return
	}
	if err := h.advance(ts); err != nil {
		h.fail(err)
	}
}

func (h *Harness) drain(ts sampler.TickSample) {
	for {
		select {
		case c := <-h.cmds:
			h.execute(c, ts)
		default:
			return
		}
	}
}

func (h *Harness) execute(c command, ts sampler.TickSample) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("command panic: %v", r)
			c.reject(err)
			h.fail(err)
		}
	}()

	if c.start != nil {
		if h.state != Stopped {
			c.reject(ErrAlreadyRunning)
			return
		}
		info, err := h.begin(*c.start, c.params, ts)
		if err != nil {
			c.reject(err)
			return
		}
		h.publish()
		c.startCh <- StartResult{Run: info}
		return
	}

	if h.state != Running {
		c.reject(ErrNotRunning)
		return
	}
	sum, err := h.stop(ts.Seq, "stopped")
	h.publish()
	c.stopCh <- StopResult{Summary: sum, Err: err}
}

func (h *Harness) begin(sc scenario.Scenario, params controller.Params, ts sampler.TickSample) (report.RunInfo, error) {
	h.state = Starting
	if n, err := h.pool.Clear(); n > 0 || err != nil {
		h.logger.Warn("pool was not empty before start", zap.Int("removed", n), zap.Error(err))
	}
	if err := h.pool.Configure(sc.Kind); err != nil {
		h.state = Stopped
		return report.RunInfo{}, err
	}
	ctrl, err := controller.New(params)
	if err != nil {
		h.state = Stopped
		return report.RunInfo{}, fmt.Errorf("%w: %w", ErrInvalidScenarioConfig, err)
	}

	now := h.opts.Now()
	budget := int(math.Ceil(sc.MaxDuration.Seconds() * h.sampler.NominalTPS()))
	dwell := h.opts.DwellTicks
	if sc.Tuning.DwellTicks > 0 {
		dwell = sc.Tuning.DwellTicks
	}
	agg := report.NewAggregator(dwell, budget+1)
	run, err := agg.Begin(report.RunInfo{
		ID:          uuid.NewString(),
		Scenario:    sc.Name,
		Kind:        sc.Kind,
		Floor:       sc.Floor,
		RampRate:    sc.RampRate,
		MaxDuration: sc.MaxDuration,
		StartTick:   ts.Seq,
		StartedAt:   now,
	})
	if err != nil {
		h.state = Stopped
		return report.RunInfo{}, err
	}

	ctrl.Start()
	h.sc = sc
	h.ctrl = ctrl
	h.agg = agg
	h.run = run
	h.deadline = now.Add(sc.MaxDuration)
	h.tickBudget = budget
	h.runTicks = 0
	h.shortfall = 0
	h.state = Running

	h.logger.Info("scenario started",
		zap.String("run_id", run.ID),
		zap.String("scenario", sc.Name),
		zap.String("kind", string(sc.Kind)),
		zap.Int("ramp_rate", sc.RampRate),
		zap.Float64("floor", sc.Floor),
		zap.Duration("max_duration", sc.MaxDuration))
	return run.RunInfo, nil
}

func (h *Harness) advance(ts sampler.TickSample) error {
	h.runTicks++
	if !h.opts.Now().Before(h.deadline) || h.runTicks > h.tickBudget {
		_, err := h.stop(ts.Seq, "max duration reached")
		return err
	}

	sig := h.sampler.Signal()
	st := h.ctrl.Step(controller.Input{Signal: sig, Count: h.pool.Count(), Shortfall: h.shortfall})
	applied := h.pool.ApplyDelta(st.LastDelta)
	h.shortfall = applied.Shortfall
	if applied.Err != nil && !errors.Is(applied.Err, pool.ErrUnitCreationFailed) {
		h.logger.Warn("pool delta incomplete", zap.Int("requested", applied.Requested), zap.Error(applied.Err))
	}

	smp := report.Sample{
		RunID:    h.run.ID,
		Scenario: h.sc.Name,
		Tick:     ts.Seq,
		RunTick:  h.runTicks,
		Duration: ts.Duration,
		At:       ts.At,
		Signal:   sig,
		Phase:    st.Phase,
		Target:   st.TargetCount,
		Count:    h.pool.Count(),
		Applied:  applied,
		State:    st,
	}
	if err := h.agg.Record(smp); err != nil {
		return fmt.Errorf("record sample: %w", err)
	}
	for _, o := range h.observers {
		o.ObserveSample(smp)
	}
	return nil
}

// stop clears the pool before finalizing so no load outlives the run.
func (h *Harness) stop(endTick uint64, reason string) (report.Summary, error) {
	h.state = Stopping
	removed, err := h.pool.Clear()
	if err != nil {
		h.logger.Warn("pool clear reported errors", zap.Int("removed", removed), zap.Error(err))
	}
	if h.ctrl != nil {
		h.ctrl.Stop()
	}

	var sum report.Summary
	var ferr error
	if h.agg != nil {
		sum, ferr = h.agg.Finalize(endTick, h.opts.Now(), reason)
	} else {
		ferr = report.ErrNoActiveRun
	}
	h.state = Stopped
	h.agg = nil
	h.run = nil
	h.shortfall = 0
	if ferr != nil {
		return report.Summary{}, ferr
	}

	h.appendHistory(sum)
	for _, o := range h.observers {
		o.ObserveSummary(sum)
	}
	h.logger.Info("scenario finished",
		zap.String("run_id", sum.ID),
		zap.String("scenario", sum.Scenario),
		zap.String("reason", reason),
		zap.Int("elapsed_ticks", sum.ElapsedTicks),
		zap.Int("peak_sustained", sum.PeakSustainedCount),
		zap.Float64("min_tps", sum.MinTPS),
		zap.Int("units_removed", removed))
	return sum, nil
}

// fail turns an error inside a tick into an implicit stop.
func (h *Harness) fail(cause error) {
	h.logger.Error("tick failed", zap.Error(cause), zap.Stringer("state", h.state))
	if h.state == Stopped {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("cleanup after tick failure panicked", zap.Any("panic", r))
			h.state = Stopped
			h.agg = nil
			h.run = nil
		}
	}()
	if _, err := h.stop(h.lastTick, "failed: "+cause.Error()); err != nil {
		h.logger.Error("stop after failure", zap.Error(err))
	}
}

func (h *Harness) appendHistory(sum report.Summary) {
	old := *h.history.Load()
	next := append(append(make([]report.Summary, 0, len(old)+1), old...), sum)
	if len(next) > h.opts.HistoryLimit {
		next = next[len(next)-h.opts.HistoryLimit:]
	}
	h.history.Store(&next)
}

func (h *Harness) publish() {
	st := Status{
		State:     h.state,
		Running:   h.state == Running,
		Tick:      h.lastTick,
		Signal:    h.sampler.Signal(),
		UnitCount: h.pool.Count(),
		Pool:      h.pool.Stats(),
		UpdatedAt: h.opts.Now(),
	}
	if h.run != nil {
		st.RunID = h.run.ID
		st.Scenario = h.sc.Name
		st.Kind = h.sc.Kind
		st.Floor = h.sc.Floor
		st.StartedAt = h.run.StartedAt
		st.MaxDuration = h.sc.MaxDuration
		st.RunTicks = h.runTicks
		st.Progress = h.progress(st.UpdatedAt)
	}
	if h.ctrl != nil && h.run != nil {
		cs := h.ctrl.State()
		st.Phase = cs.Phase
		st.TargetCount = cs.TargetCount
		st.Ceiling = cs.Ceiling
		st.Backoffs = cs.Backoffs
	}
	h.status.Store(&st)
}

func (h *Harness) progress(now time.Time) float64 {
	var p float64
	if h.sc.MaxDuration > 0 {
		p = float64(now.Sub(h.run.StartedAt)) / float64(h.sc.MaxDuration)
	}
	if h.tickBudget > 0 {
		p = math.Max(p, float64(h.runTicks)/float64(h.tickBudget))
	}
	return math.Min(1, math.Max(0, p))
}
