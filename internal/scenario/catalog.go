package scenario

import (
	"fmt"
	"sort"
	"time"

	"tickstress/internal/pool"
)

// BuiltIn returns the predefined scenarios.
func BuiltIn() map[string]Scenario {
	return map[string]Scenario{
		"entity-ramp": {
			Name:        "entity-ramp",
			Description: "Spawn entities until the server can no longer hold the floor, then settle on the highest sustainable count.",
			Kind:        pool.KindEntity,
			RampRate:    5,
			Floor:       18,
			MaxDuration: 5 * time.Minute,
		},
		"chunk-ramp": {
			Name:        "chunk-ramp",
			Description: "Force-load chunks two at a time; chunk loads are expensive so the ramp is gentle.",
			Kind:        pool.KindChunk,
			RampRate:    2,
			Floor:       18,
			MaxDuration: 5 * time.Minute,
		},
		"chunk-gen": {
			Name:        "chunk-gen",
			Description: "Generate fresh chunks one at a time; generation costs far more than loading.",
			Kind:        pool.KindChunkGen,
			RampRate:    1,
			Floor:       18,
			MaxDuration: 5 * time.Minute,
		},
		"player-soak": {
			Name:        "player-soak",
			Description: "Hold up to 200 simulated players against a strict floor for a long soak.",
			Kind:        pool.KindPlayer,
			RampRate:    1,
			Floor:       19,
			MaxDuration: 15 * time.Minute,
			MaxUnits:    200,
		},
	}
}

// Catalog is an immutable, name-indexed set of scenarios. It is safe for
// concurrent use.
type Catalog struct {
	byName map[string]Scenario
	names  []string
}

// NewCatalog merges the built-in scenarios with extra ones, extra taking
// precedence on name clashes. Every scenario is validated.
func NewCatalog(nominalTPS float64, extra ...Scenario) (*Catalog, error) {
	all := BuiltIn()
	for _, s := range extra {
		all[s.Name] = s
	}
	c := &Catalog{byName: make(map[string]Scenario, len(all))}
	for name, s := range all {
		if err := s.Validate(nominalTPS); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", name, err)
		}
		c.byName[name] = s
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c, nil
}

// Lookup returns the scenario registered under name.
func (c *Catalog) Lookup(name string) (Scenario, bool) {
	s, ok := c.byName[name]
	return s, ok
}

// Names returns the scenario names in sorted order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// List returns every scenario sorted by name.
func (c *Catalog) List() []Scenario {
	out := make([]Scenario, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, c.byName[n])
	}
	return out
}
