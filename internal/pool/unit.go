package pool

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnitCreationFailed is returned by a UnitFactory when the host refuses a
// new unit. The pool converts it into a shortfall and stops creating for the tick.
var ErrUnitCreationFailed = errors.New("unit creation failed")

// Kind identifies a category of load unit.
type Kind string

const (
	KindEntity Kind = "entity"
	// KindChunk force-loads chunks that already exist on disk.
	KindChunk Kind = "chunk"
	// KindChunkGen generates chunks that were never created.
	KindChunkGen Kind = "chunk-gen"
	KindPlayer   Kind = "player"
)

var defaultCosts = map[Kind]float64{
	KindEntity:   1.0,
	KindChunk:    4.0,
	KindChunkGen: 10.0,
	KindPlayer:   2.5,
}

// Kinds lists every supported kind.
func Kinds() []Kind {
	return []Kind{KindEntity, KindChunk, KindChunkGen, KindPlayer}
}

// ParseKind converts a case-insensitive name into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown unit kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := defaultCosts[k]
	return ok
}

// Cost is the estimated relative cost of creating one unit of this kind.
func (k Kind) Cost() float64 {
	return defaultCosts[k]
}

// LoadUnit is one synthetic unit of work placed into the host.
type LoadUnit struct {
	ID           string  `json:"id"`
	Kind         Kind    `json:"kind"`
	CreationCost float64 `json:"creation_cost"`
}

// UnitFactory creates and destroys concrete units inside the host world.
// Both methods are called on the tick thread.
type UnitFactory interface {
	Create(u LoadUnit) error
	Destroy(u LoadUnit) error
}
