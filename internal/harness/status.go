package harness

import (
	"fmt"
	"time"

	"tickstress/internal/controller"
	"tickstress/internal/pool"
	"tickstress/internal/sampler"
)

// RunState is the orchestrator's lifecycle state.
type RunState int

const (
	Stopped RunState = iota
	Starting
	Running
	Stopping
)

func (s RunState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s RunState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is an immutable snapshot published at the end of every tick.
type Status struct {
	State       RunState         `json:"state"`
	Running     bool             `json:"running"`
	RunID       string           `json:"run_id,omitempty"`
	Scenario    string           `json:"scenario,omitempty"`
	Kind        pool.Kind        `json:"kind,omitempty"`
	Floor       float64          `json:"floor,omitempty"`
	Phase       controller.Phase `json:"phase"`
	TargetCount int              `json:"target_count"`
	UnitCount   int              `json:"unit_count"`
	Ceiling     int              `json:"ceiling,omitempty"`
	Backoffs    int              `json:"backoffs"`
	Signal      sampler.Signal   `json:"signal"`
	Tick        uint64           `json:"tick"`
	RunTicks    int              `json:"run_ticks"`
	StartedAt   time.Time        `json:"started_at,omitzero"`
	MaxDuration time.Duration    `json:"max_duration,omitempty"`
	// Progress is the fraction of the run's time budget used, in [0, 1].
	Progress  float64    `json:"progress"`
	Pool      pool.Stats `json:"pool"`
	UpdatedAt time.Time  `json:"updated_at"`
}
