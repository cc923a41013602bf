package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tickstress/internal/pool"
)

// ErrInvalidScenarioConfig is wrapped by every validation failure.
var ErrInvalidScenarioConfig = errors.New("invalid scenario config")

const (
	MaxRampRate    = 10000
	MinMaxDuration = time.Second
	MaxMaxDuration = 24 * time.Hour
)

// Scenario is a named, parameterized load test.
type Scenario struct {
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Kind        pool.Kind     `yaml:"kind" json:"kind"`
	RampRate    int           `yaml:"ramp_rate" json:"ramp_rate"`
	Floor       float64       `yaml:"floor" json:"floor"`
	MaxDuration time.Duration `yaml:"max_duration" json:"-"`
	MaxUnits    int           `yaml:"max_units,omitempty" json:"max_units,omitempty"`
	Tuning      Tuning        `yaml:"tuning,omitempty" json:"tuning,omitzero"`
}

// Tuning overrides controller defaults for one scenario. Zero values keep the
// harness defaults.
type Tuning struct {
	Margin          *float64 `yaml:"margin,omitempty" json:"margin,omitempty"`
	SettleTicks     *int     `yaml:"settle_ticks,omitempty" json:"settle_ticks,omitempty"`
	InitialSeekStep int      `yaml:"initial_seek_step,omitempty" json:"initial_seek_step,omitempty"`
	BackoffStep     int      `yaml:"backoff_step,omitempty" json:"backoff_step,omitempty"`
	MaxBackoffStep  int      `yaml:"max_backoff_step,omitempty" json:"max_backoff_step,omitempty"`
	BackoffCooldown int      `yaml:"backoff_cooldown,omitempty" json:"backoff_cooldown,omitempty"`
	DwellTicks      int      `yaml:"dwell_ticks,omitempty" json:"dwell_ticks,omitempty"`
}

// MarshalJSON renders MaxDuration as a Go duration string.
func (s Scenario) MarshalJSON() ([]byte, error) {
	type plain Scenario
	return json.Marshal(struct {
		plain
		MaxDuration string `json:"max_duration"`
	}{plain(s), s.MaxDuration.String()})
}

// FieldError names the offending field of an invalid scenario.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Reason }

func (e *FieldError) Unwrap() error { return ErrInvalidScenarioConfig }

func invalid(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks every field against the host's nominal tick rate.
func (s Scenario) Validate(nominalTPS float64) error {
	var errs []error
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, invalid("name", "must not be empty"))
	}
	if !s.Kind.Valid() {
		errs = append(errs, invalid("kind", "unknown unit kind %q", s.Kind))
	}
	if s.RampRate < 1 || s.RampRate > MaxRampRate {
		errs = append(errs, invalid("ramp_rate", "must be between 1 and %d, got %d", MaxRampRate, s.RampRate))
	}
	if s.Floor <= 0 || s.Floor > nominalTPS {
		errs = append(errs, invalid("floor", "must be in (0, %g], got %g", nominalTPS, s.Floor))
	}
	if s.MaxDuration < MinMaxDuration || s.MaxDuration > MaxMaxDuration {
		errs = append(errs, invalid("max_duration", "must be between %s and %s, got %s", MinMaxDuration, MaxMaxDuration, s.MaxDuration))
	}
	if s.MaxUnits < 0 {
		errs = append(errs, invalid("max_units", "must not be negative"))
	}
	t := s.Tuning
	if t.Margin != nil && *t.Margin < 0 {
		errs = append(errs, invalid("tuning.margin", "must not be negative"))
	}
	if t.SettleTicks != nil && *t.SettleTicks < 0 {
		errs = append(errs, invalid("tuning.settle_ticks", "must not be negative"))
	}
	if t.InitialSeekStep < 0 || t.BackoffStep < 0 || t.MaxBackoffStep < 0 || t.BackoffCooldown < 0 || t.DwellTicks < 0 {
		errs = append(errs, invalid("tuning", "step and tick values must not be negative"))
	}
	return errors.Join(errs...)
}

// Load reads a YAML scenario definition from disk.
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	return &s, nil
}

// Overrides adjusts a catalogued scenario for a single start request.
type Overrides struct {
	Kind        string   `json:"kind,omitempty"`
	RampRate    *int     `json:"ramp_rate,omitempty"`
	Floor       *float64 `json:"floor,omitempty"`
	MaxDuration string   `json:"max_duration,omitempty"`
	MaxUnits    *int     `json:"max_units,omitempty"`
}

// Apply returns s with the overrides applied. It does not validate the result.
func (o Overrides) Apply(s Scenario) (Scenario, error) {
	if o.Kind != "" {
		k, err := pool.ParseKind(o.Kind)
		if err != nil {
			return s, invalid("kind", "%v", err)
		}
		s.Kind = k
	}
	if o.RampRate != nil {
		s.RampRate = *o.RampRate
	}
	if o.Floor != nil {
		s.Floor = *o.Floor
	}
	if o.MaxDuration != "" {
		d, err := time.ParseDuration(o.MaxDuration)
		if err != nil {
			return s, invalid("max_duration", "%v", err)
		}
		s.MaxDuration = d
	}
	if o.MaxUnits != nil {
		s.MaxUnits = *o.MaxUnits
	}
	return s, nil
}
