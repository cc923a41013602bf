package scenario

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickstress/internal/pool"
)

func TestLoadScenario(t *testing.T) {
	sc, err := Load("testdata/simple.yaml")
	require.NoError(t, err)
	assert.Equal(t, "example", sc.Name)
	assert.Equal(t, pool.KindEntity, sc.Kind)
	assert.Equal(t, 90*time.Second, sc.MaxDuration)
	require.NotNil(t, sc.Tuning.Margin, "margin decoded")
	assert.Equal(t, 0.5, *sc.Tuning.Margin)
	assert.NoError(t, sc.Validate(20))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("testdata/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read scenario")
}

func TestValidateReportsFields(t *testing.T) {
	s := Scenario{Name: "bad", Kind: "villager", RampRate: 0, Floor: 25, MaxDuration: time.Millisecond}
	err := s.Validate(20)
	require.ErrorIs(t, err, ErrInvalidScenarioConfig)
	for _, field := range []string{"kind", "ramp_rate", "floor", "max_duration"} {
		assert.Contains(t, err.Error(), field+":")
	}
	var fe *FieldError
	assert.ErrorAs(t, err, &fe)
}

func TestBuiltInScenariosAreValid(t *testing.T) {
	c, err := NewCatalog(20)
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk-gen", "chunk-ramp", "entity-ramp", "player-soak"}, c.Names())
	for _, s := range c.List() {
		assert.NotEmpty(t, s.Description, "scenario %s missing description", s.Name)
	}
}

func TestChunkGenIsSeparateFromChunkLoad(t *testing.T) {
	gen := BuiltIn()["chunk-gen"]
	load := BuiltIn()["chunk-ramp"]
	assert.Equal(t, pool.KindChunkGen, gen.Kind)
	assert.Equal(t, pool.KindChunk, load.Kind)
	assert.Greater(t, gen.Kind.Cost(), load.Kind.Cost())
}

func TestCatalogExtraOverridesBuiltIn(t *testing.T) {
	custom := Scenario{Name: "entity-ramp", Kind: pool.KindEntity, RampRate: 50, Floor: 15, MaxDuration: time.Minute}
	c, err := NewCatalog(20, custom)
	require.NoError(t, err)
	s, ok := c.Lookup("entity-ramp")
	require.True(t, ok)
	assert.Equal(t, 50, s.RampRate)

	_, err = NewCatalog(20, Scenario{Name: "broken"})
	assert.ErrorIs(t, err, ErrInvalidScenarioConfig)
}

func TestOverridesApply(t *testing.T) {
	base := BuiltIn()["entity-ramp"]
	rate := 12
	s, err := Overrides{Kind: "chunk", RampRate: &rate, MaxDuration: "2m"}.Apply(base)
	require.NoError(t, err)
	assert.Equal(t, pool.KindChunk, s.Kind)
	assert.Equal(t, 12, s.RampRate)
	assert.Equal(t, 2*time.Minute, s.MaxDuration)
	assert.Equal(t, base.Floor, s.Floor, "floor unchanged")

	_, err = Overrides{MaxDuration: "soon"}.Apply(base)
	assert.ErrorIs(t, err, ErrInvalidScenarioConfig)
}

func TestScenarioJSONDuration(t *testing.T) {
	data, err := json.Marshal(BuiltIn()["chunk-ramp"])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"max_duration":"5m0s"`)
}
