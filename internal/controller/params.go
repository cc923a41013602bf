package controller

import (
	"errors"
	"fmt"
)

// Params tunes the controller for one run. Counts are in load units, durations
// in ticks.
type Params struct {
	Floor  float64 `json:"floor"`
	Margin float64 `json:"margin"`

	RampRate int `json:"ramp_rate"`
	PoolCap  int `json:"pool_cap"`

	InitialSeekStep int `json:"initial_seek_step"`
	SettleTicks     int `json:"settle_ticks"`

	BackoffStep     int `json:"backoff_step"`
	MaxBackoffStep  int `json:"max_backoff_step"`
	BackoffCooldown int `json:"backoff_cooldown"`

	// ReprobeTicks is how long the target may sit just below a known ceiling
	// before the ceiling is forgotten. Zero disables re-probing.
	ReprobeTicks int `json:"reprobe_ticks"`
	// MaxTarget caps the target count. Zero means unbounded.
	MaxTarget int `json:"max_target"`
}

// WithDefaults fills unset step sizes from the ramp rate and the cooldown
// from the sampler window.
func (p Params) WithDefaults(windowTicks int) Params {
	if p.PoolCap <= 0 {
		p.PoolCap = p.RampRate
	}
	if p.InitialSeekStep <= 0 {
		p.InitialSeekStep = max(1, p.RampRate/2)
	}
	if p.BackoffStep <= 0 {
		p.BackoffStep = max(1, 2*p.RampRate)
	}
	if p.MaxBackoffStep <= 0 {
		p.MaxBackoffStep = max(p.BackoffStep, 8*p.RampRate)
	}
	if p.BackoffCooldown <= 0 {
		p.BackoffCooldown = max(1, windowTicks)
	}
	return p
}

// Validate reports the first unusable parameter.
func (p Params) Validate() error {
	var errs []error
	if p.Floor <= 0 {
		errs = append(errs, fmt.Errorf("floor must be positive, got %g", p.Floor))
	}
	if p.Margin < 0 {
		errs = append(errs, fmt.Errorf("margin must not be negative, got %g", p.Margin))
	}
	if p.RampRate < 1 {
		errs = append(errs, fmt.Errorf("ramp rate must be at least 1, got %d", p.RampRate))
	}
	if p.PoolCap < 1 {
		errs = append(errs, fmt.Errorf("pool cap must be at least 1, got %d", p.PoolCap))
	}
	if p.InitialSeekStep < 1 || p.BackoffStep < 1 {
		errs = append(errs, errors.New("seek and backoff steps must be at least 1"))
	}
	if p.MaxBackoffStep < p.BackoffStep {
		errs = append(errs, fmt.Errorf("max backoff step %d below backoff step %d", p.MaxBackoffStep, p.BackoffStep))
	}
	if p.SettleTicks < 0 || p.BackoffCooldown < 0 || p.ReprobeTicks < 0 || p.MaxTarget < 0 {
		errs = append(errs, errors.New("tick counts and max target must not be negative"))
	}
	return errors.Join(errs...)
}
