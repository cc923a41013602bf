package host

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"tickstress/internal/pool"
)

// World is the simulated game world. Every live unit adds cost × unitWork of
// processing time to each tick.
type World struct {
	mu       sync.Mutex
	units    map[string]pool.LoadUnit
	cost     float64
	capacity int
	unitWork time.Duration
	jitter   float64
	work     func(time.Duration)
}

// WorldOption customises a World.
type WorldOption func(*World)

// WithBusyWait burns CPU for the simulated work instead of sleeping.
func WithBusyWait() WorldOption {
	return func(w *World) { w.work = spin }
}

// WithJitter randomises each tick's work by up to ±fraction.
func WithJitter(fraction float64) WorldOption {
	return func(w *World) { w.jitter = fraction }
}

// NewWorld returns an empty world. capacity 0 means unlimited.
func NewWorld(capacity int, unitWork time.Duration, opts ...WorldOption) *World {
	w := &World{
		units:    make(map[string]pool.LoadUnit),
		capacity: capacity,
		unitWork: unitWork,
		work:     time.Sleep,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Create places a unit into the world.
func (w *World) Create(u pool.LoadUnit) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.capacity > 0 && len(w.units) >= w.capacity {
		return fmt.Errorf("%w: world at capacity %d", pool.ErrUnitCreationFailed, w.capacity)
	}
	if _, dup := w.units[u.ID]; dup {
		return fmt.Errorf("%w: duplicate unit %s", pool.ErrUnitCreationFailed, u.ID)
	}
	w.units[u.ID] = u
	w.cost += u.CreationCost
	return nil
}

// Destroy removes a unit from the world.
func (w *World) Destroy(u pool.LoadUnit) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	live, ok := w.units[u.ID]
	if !ok {
		return fmt.Errorf("unit %s not in world", u.ID)
	}
	delete(w.units, u.ID)
	w.cost -= live.CreationCost
	if len(w.units) == 0 {
		w.cost = 0
	}
	return nil
}

// Len returns the number of live units.
func (w *World) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.units)
}

// Load returns the processing time the current units add to one tick.
func (w *World) Load() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Duration(w.cost * float64(w.unitWork))
}

// Simulate performs one tick's worth of world processing.
func (w *World) Simulate() {
	d := w.Load()
	if w.jitter > 0 && d > 0 {
		d += time.Duration(float64(d) * w.jitter * (2*rand.Float64() - 1))
	}
	if d > 0 {
		w.work(d)
	}
}

func spin(d time.Duration) {
	for start := time.Now(); time.Since(start) < d; {
	}
}
