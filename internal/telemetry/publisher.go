package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tickstress/internal/report"
)

// PublisherOptions tune the hand-off between the tick thread and the writer.
type PublisherOptions struct {
	// Buffer is the number of queued rows before new ones are dropped.
	Buffer int
	// Every publishes one sample per N run ticks.
	Every int
	// BatchSize flushes once this many samples are pending.
	BatchSize int
	// FlushInterval flushes pending samples at least this often.
	FlushInterval time.Duration
}

// DefaultPublisherOptions returns sane defaults for a 20 TPS host.
func DefaultPublisherOptions() PublisherOptions {
	return PublisherOptions{Buffer: 1024, Every: 1, BatchSize: 100, FlushInterval: time.Second}
}

type event struct {
	sample  *SampleRow
	summary *SummaryRow
}

// Publisher receives run samples on the tick thread and forwards them to a
// Writer from its own goroutine. Observe calls never block: when the buffer
// is full the row is dropped and counted.
type Publisher struct {
	writer  Writer
	opts    PublisherOptions
	events  chan event
	logger  *zap.Logger
	dropped atomic.Uint64
	written atomic.Uint64
}

// NewPublisher creates a Publisher. Call Run to start delivering rows.
func NewPublisher(w Writer, opts PublisherOptions, logger *zap.Logger) *Publisher {
	def := DefaultPublisherOptions()
	if opts.Buffer <= 0 {
		opts.Buffer = def.Buffer
	}
	if opts.Every <= 0 {
		opts.Every = def.Every
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = def.FlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		writer: w,
		opts:   opts,
		events: make(chan event, opts.Buffer),
		logger: logger.Named("telemetry"),
	}
}

// ObserveSample queues a tick sample.
func (p *Publisher) ObserveSample(s report.Sample) {
	if s.RunTick%p.opts.Every != 0 {
		return
	}
	row := NewSampleRow(s)
	p.offer(event{sample: &row})
}

// ObserveSummary queues a finished run.
func (p *Publisher) ObserveSummary(s report.Summary) {
	row := NewSummaryRow(s)
	p.offer(event{summary: &row})
}

func (p *Publisher) offer(ev event) {
	select {
	case p.events <- ev:
	default:
		p.dropped.Add(1)
	}
}

// Dropped reports how many rows were discarded because the buffer was full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Written reports how many rows reached the writer without error.
func (p *Publisher) Written() uint64 { return p.written.Load() }

// Run delivers queued rows until ctx is cancelled, then drains what is left.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()

	pending := make([]SampleRow, 0, p.opts.BatchSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := writeSamples(p.writer, pending); err != nil {
			p.logger.Warn("sample write failed", zap.Int("rows", len(pending)), zap.Error(err))
		} else {
			p.written.Add(uint64(len(pending)))
		}
		pending = pending[:0]
	}
	handle := func(ev event) {
		switch {
		case ev.sample != nil:
			pending = append(pending, *ev.sample)
			if len(pending) >= p.opts.BatchSize {
				flush()
			}
		case ev.summary != nil:
			// samples of the run go out before its summary
			flush()
			if err := p.writer.WriteSummary(*ev.summary); err != nil {
				p.logger.Warn("summary write failed", zap.String("run_id", ev.summary.RunID), zap.Error(err))
			} else {
				p.written.Add(1)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-p.events:
					handle(ev)
				default:
					flush()
					if n := p.Dropped(); n > 0 {
						p.logger.Info("publisher stopped", zap.Uint64("dropped", n))
					}
					return nil
				}
			}
		case ev := <-p.events:
			handle(ev)
		case <-ticker.C:
			flush()
		}
	}
}
