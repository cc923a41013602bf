// Package host simulates a fixed-rate game server: a tick loop that processes
// a world of load units and reports each tick's duration to registered hooks.
package host

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tickstress/internal/logging"

	"go.uber.org/zap"
)

// TickFunc receives the duration of the previous tick.
type TickFunc func(time.Duration)

// Server runs the tick loop.
type Server struct {
	interval time.Duration
	world    *World
	now      func() time.Time

	mu    sync.Mutex
	hooks []TickFunc
	last  time.Duration
	ticks atomic.Uint64
}

// NewServer returns a server ticking every interval over world.
func NewServer(interval time.Duration, world *World) *Server {
	return &Server{interval: interval, world: world, now: time.Now}
}

// OnTick registers fn to run at the start of every tick.
func (s *Server) OnTick(fn TickFunc) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// World returns the simulated world.
func (s *Server) World() *World { return s.world }

// Interval returns the nominal tick period.
func (s *Server) Interval() time.Duration { return s.interval }

// NominalTPS returns the scheduled tick rate.
func (s *Server) NominalTPS() float64 {
	return float64(time.Second) / float64(s.interval)
}

// Ticks returns the number of completed ticks.
func (s *Server) Ticks() uint64 { return s.ticks.Load() }

// Run ticks until ctx is done.
func (s *Server) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("starting host tick loop", zap.Duration("tick_interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick()
		case <-ctx.Done():
			log.Info("stopping host tick loop", zap.Uint64("ticks", s.Ticks()))
			return
		}
	}
}

// Tick runs one tick: hooks first with the previous tick's duration, then
// world processing. The measured duration covers both.
func (s *Server) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	if s.ticks.Load() > 0 {
		for _, fn := range s.hooks {
			fn(s.last)
		}
	}
	s.world.Simulate()
	s.last = s.now().Sub(start)
	s.ticks.Add(1)
}
