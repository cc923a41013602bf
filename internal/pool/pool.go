// Package pool owns the synthetic load units placed into the host.
package pool

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotConfigured is reported when a delta is applied before Configure.
	ErrNotConfigured = errors.New("pool has no active kind")
	// ErrKindBusy is returned by Configure while another kind still has live units.
	ErrKindBusy = errors.New("pool still holds units of another kind")
)

// Applied describes what one ApplyDelta call actually did.
type Applied struct {
	Requested int `json:"requested"`
	Created   int `json:"created"`
	Removed   int `json:"removed"`
	// Shortfall is Requested minus the net change. It is positive when
	// creations fell short and negative when fewer units existed to remove.
	Shortfall int   `json:"shortfall"`
	Err       error `json:"-"`
}

// Net returns the signed change in live units.
func (a Applied) Net() int { return a.Created - a.Removed }

// Stats is a point-in-time summary of pool activity.
type Stats struct {
	Kind    Kind    `json:"kind"`
	Live    int     `json:"live"`
	Cost    float64 `json:"cost"`
	Created uint64  `json:"created"`
	Removed uint64  `json:"removed"`
	Failed  uint64  `json:"failed"`
}

// Pool tracks live units per kind. It is not safe for concurrent use; only
// the tick thread mutates it.
type Pool struct {
	factory  UnitFactory
	maxBatch int
	active   Kind
	units    map[Kind][]LoadUnit
	created  uint64
	removed  uint64
	failed   uint64
	cost     float64
	logger   *zap.Logger
	newID    func() string
}

// New returns an empty pool creating or removing at most maxBatch units per call.
func New(factory UnitFactory, maxBatch int, logger *zap.Logger) (*Pool, error) {
	if factory == nil {
		return nil, errors.New("pool: nil unit factory")
	}
	if maxBatch < 1 {
		return nil, fmt.Errorf("pool: max batch must be positive, got %d", maxBatch)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		factory:  factory,
		maxBatch: maxBatch,
		units:    make(map[Kind][]LoadUnit),
		logger:   logger,
		newID:    func() string { return uuid.NewString() },
	}, nil
}

// Configure selects the active kind for subsequent deltas.
func (p *Pool) Configure(kind Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("pool: unknown kind %q", kind)
	}
	for k, live := range p.units {
		if k != kind && len(live) > 0 {
			return fmt.Errorf("%w: %d %s units", ErrKindBusy, len(live), k)
		}
	}
	p.active = kind
	return nil
}

// Kind returns the active kind.
func (p *Pool) Kind() Kind { return p.active }

// MaxBatch returns the per-call creation and removal cap.
func (p *Pool) MaxBatch() int { return p.maxBatch }

// Count returns the live units of the active kind.
func (p *Pool) Count() int { return len(p.units[p.active]) }

// CountOf returns the live units of kind k.
func (p *Pool) CountOf(k Kind) int { return len(p.units[k]) }

// Total returns live units across all kinds.
func (p *Pool) Total() int {
	n := 0
	for _, live := range p.units {
		n += len(live)
	}
	return n
}

// ApplyDelta creates (n > 0) or removes (n < 0) units of the active kind,
// never more than MaxBatch in one call. A creation failure ends creation for
// this call; the remainder is reported as shortfall.
func (p *Pool) ApplyDelta(n int) Applied {
	a := Applied{Requested: n}
	if n == 0 {
		return a
	}
	if p.active == "" {
		a.Shortfall = n
		a.Err = ErrNotConfigured
		return a
	}
	if n > 0 {
		p.create(&a, min(n, p.maxBatch))
	} else {
		p.remove(&a, min(-n, p.maxBatch))
	}
	a.Shortfall = n - a.Net()
	return a
}

func (p *Pool) create(a *Applied, want int) {
	kind := p.active
	for i := 0; i < want; i++ {
		u := LoadUnit{ID: p.newID(), Kind: kind, CreationCost: kind.Cost()}
		if err := p.factory.Create(u); err != nil {
			p.failed++
			if !errors.Is(err, ErrUnitCreationFailed) {
				err = fmt.Errorf("%w: %w", ErrUnitCreationFailed, err)
			}
			a.Err = err
			p.logger.Debug("unit creation refused",
				zap.String("kind", string(kind)),
				zap.Int("created", a.Created),
				zap.Int("wanted", want),
				zap.Error(err))
			return
		}
		p.units[kind] = append(p.units[kind], u)
		p.cost += u.CreationCost
		p.created++
		a.Created++
	}
}

func (p *Pool) remove(a *Applied, want int) {
	var errs []error
	for i := 0; i < want; i++ {
		if !p.popAndDestroy(p.active, &errs) {
			break
		}
		a.Removed++
	}
	a.Err = errors.Join(errs...)
}

// popAndDestroy drops the newest unit of kind k. The unit leaves the pool even
// when the factory reports an error, so counts always reach zero.
func (p *Pool) popAndDestroy(k Kind, errs *[]error) bool {
	live := p.units[k]
	if len(live) == 0 {
		return false
	}
	u := live[len(live)-1]
	p.units[k] = live[:len(live)-1]
	p.cost -= u.CreationCost
	p.removed++
	if err := p.factory.Destroy(u); err != nil {
		p.logger.Warn("unit destroy failed", zap.String("unit", u.ID), zap.Error(err))
		*errs = append(*errs, fmt.Errorf("destroy %s: %w", u.ID, err))
	}
	return true
}

// Clear removes every unit of every kind immediately, ignoring MaxBatch.
// It is idempotent.
func (p *Pool) Clear() (int, error) {
	var (
		errs    []error
		removed int
	)
	for _, k := range Kinds() {
		for p.popAndDestroy(k, &errs) {
			removed++
		}
		delete(p.units, k)
	}
	p.cost = 0
	if removed > 0 {
		p.logger.Info("pool cleared", zap.Int("removed", removed))
	}
	return removed, errors.Join(errs...)
}

// Cost returns the summed creation cost of live units.
func (p *Pool) Cost() float64 {
	if p.Total() == 0 {
		return 0
	}
	return p.cost
}

// Stats reports pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Kind:    p.active,
		Live:    p.Total(),
		Cost:    p.Cost(),
		Created: p.created,
		Removed: p.removed,
		Failed:  p.failed,
	}
}
