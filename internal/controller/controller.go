// Package controller decides, once per tick, how many load units the host
// should carry so that its tick rate stays just above a floor.
//
// The decision is a pure function of the previous state, the current
// performance signal and the live unit count:
//
//	Idle ──start──▶ Ramping ──near floor──▶ Seeking ◀──recovered── BackingOff
//	                   │                       │                        ▲
//	                   └──────below floor──────┴────────below floor─────┘
//
// Ramping grows the target by the ramp rate. Seeking probes upward in
// shrinking steps toward the lowest count known to break the floor (the
// ceiling). BackingOff removes units in growing, bounded steps, at most once
// per cooldown, so one slow tick echoing through the sampler window costs a
// single decrement.
package controller

import (
	"fmt"
	"math"

	"tickstress/internal/sampler"
)

// Phase is the controller's operating mode.
type Phase int

const (
	Idle Phase = iota
	Ramping
	Seeking
	BackingOff
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Ramping:
		return "ramping"
	case Seeking:
		return "seeking"
	case BackingOff:
		return "backing_off"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// State is the controller's memory between ticks.
type State struct {
	Phase       Phase `json:"phase"`
	TargetCount int   `json:"target_count"`
	// LastDelta is the change in live units requested this tick.
	LastDelta           int `json:"last_delta"`
	ConsecutiveBackoffs int `json:"consecutive_backoffs"`
	Backoffs            int `json:"backoffs"`
	SeekStep            int `json:"seek_step"`
	// Ceiling is the lowest live count seen below the floor, 0 if none.
	Ceiling   int `json:"ceiling"`
	Settle    int `json:"settle"`
	Cooldown  int `json:"cooldown"`
	HoldTicks int `json:"hold_ticks"`
	Ticks     int `json:"ticks"`
}

// Input is what the controller observes on a tick.
type Input struct {
	Signal sampler.Signal
	Count  int
	// Shortfall is the unapplied part of the previous tick's delta.
	Shortfall int
}

// Start returns the state at the beginning of a run.
func Start(p Params) State {
	return State{Phase: Ramping, SeekStep: p.InitialSeekStep}
}

// Step advances the controller by one tick.
func Step(s State, in Input, p Params) State {
	if s.Phase == Idle {
		s.LastDelta = 0
		return s
	}
	s.Ticks++

	if !in.Signal.Valid || math.IsNaN(in.Signal.TPS) {
		s.LastDelta = s.TargetCount - in.Count
		return s
	}
	tps := in.Signal.TPS

	switch s.Phase {
	case Ramping:
		switch {
		case tps < p.Floor:
			s = backoff(s, in, p)
		case tps < p.Floor+p.Margin:
			s.Phase = Seeking
			s.Settle = p.SettleTicks
		case p.MaxTarget > 0 && s.TargetCount >= p.MaxTarget:
			s.Phase = Seeking
		default:
			s.TargetCount = grow(s, in, p, p.RampRate)
		}
	case Seeking:
		switch {
		case tps < p.Floor:
			s = backoff(s, in, p)
		case s.Settle > 0:
			s.Settle--
		case tps < p.Floor+p.Margin:
		default:
			s = probe(s, in, p)
		}
	case BackingOff:
		switch {
		case tps >= p.Floor:
			s.Phase = Seeking
			s.ConsecutiveBackoffs = 0
			s.Settle = p.SettleTicks
		case s.Cooldown > 0:
			s.Cooldown--
		default:
			s = backoff(s, in, p)
		}
	}

	s.LastDelta = s.TargetCount - in.Count
	return s
}

// Stop returns the controller to Idle with no target.
func Stop(s State) State {
	s.Phase = Idle
	s.TargetCount = 0
	s.LastDelta = 0
	s.Settle = 0
	s.Cooldown = 0
	return s
}

// grow returns the target after an increase of at most step, bounded by the
// ramp rate, the pool cap, MaxTarget and the ceiling.
func grow(s State, in Input, p Params, step int) int {
	if in.Shortfall > 0 {
		return s.TargetCount
	}
	step = min(step, p.RampRate, p.PoolCap)
	if step < 1 {
		return s.TargetCount
	}
	t := s.TargetCount + step
	if lim := in.Count + p.PoolCap; t > lim {
		t = max(s.TargetCount, lim)
	}
	if p.MaxTarget > 0 && t > p.MaxTarget {
		t = max(s.TargetCount, p.MaxTarget)
	}
	if s.Ceiling > 0 && t > s.Ceiling-1 {
		t = max(s.TargetCount, s.Ceiling-1)
	}
	return t
}

func probe(s State, in Input, p Params) State {
	step := s.SeekStep
	if s.Ceiling > 0 {
		gap := s.Ceiling - 1 - s.TargetCount
		if gap <= 0 {
			s.HoldTicks++
			if p.ReprobeTicks > 0 && s.HoldTicks >= p.ReprobeTicks {
				s.Ceiling = 0
				s.HoldTicks = 0
			}
			return s
		}
		step = max(1, min(step, (gap+1)/2))
	}
	if next := grow(s, in, p, step); next != s.TargetCount {
		s.TargetCount = next
		s.Settle = p.SettleTicks
	}
	return s
}

func backoff(s State, in Input, p Params) State {
	if s.Phase != BackingOff {
		s.SeekStep = max(1, s.SeekStep/2)
	}
	s.Phase = BackingOff
	s.ConsecutiveBackoffs++
	s.Backoffs++
	if in.Count > 0 && (s.Ceiling == 0 || in.Count < s.Ceiling) {
		s.Ceiling = in.Count
		s.HoldTicks = 0
	}

	shift := min(s.ConsecutiveBackoffs-1, 16)
	dec := min(p.BackoffStep<<shift, p.MaxBackoffStep)
	s.TargetCount = max(0, min(s.TargetCount, in.Count)-dec)
	s.Cooldown = p.BackoffCooldown
	return s
}

// Controller holds the state for the active run.
type Controller struct {
	params Params
	state  State
}

// New validates p and returns an idle controller.
func New(p Params) (*Controller, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("controller params: %w", err)
	}
	return &Controller{params: p}, nil
}

// Start enters Ramping with a zero target.
func (c *Controller) Start() State {
	c.state = Start(c.params)
	return c.state
}

// Step advances one tick and returns the new state.
func (c *Controller) Step(in Input) State {
	c.state = Step(c.state, in, c.params)
	return c.state
}

// Stop returns to Idle.
func (c *Controller) Stop() State {
	c.state = Stop(c.state)
	return c.state
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Params returns the run parameters.
func (c *Controller) Params() Params { return c.params }
