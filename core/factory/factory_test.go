package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type penaltySink struct {
	Weight float64
	Tags   []string
}

type penaltyConf struct {
	Weight float64  `json:"weight"`
	Tags   []string `json:"tags"`
}

func newPenaltySink(conf map[string]any) (*penaltySink, error) {
	var c penaltyConf
	if err := Decode(conf, &c); err != nil {
		return nil, err
	}
	return &penaltySink{Weight: c.Weight, Tags: c.Tags}, nil
}

func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*penaltySink]()
	require.NoError(t, reg.Register("Penalty", newPenaltySink))
	assert.True(t, reg.Has("penalty"))

	inst, err := reg.Create(ModuleConfig{Type: " PENALTY ", Conf: map[string]any{"weight": "2.5", "tags": []any{"F1"}}})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, inst.Weight, 1e-9)
	assert.Equal(t, []string{"F1"}, inst.Tags)
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[*penaltySink]()
	require.NoError(t, reg.Register("penalty", newPenaltySink))

	assert.Error(t, reg.Register("penalty", newPenaltySink), "duplicate")
	assert.Error(t, reg.Register("other", nil), "nil factory")
	assert.Error(t, reg.Register("  ", newPenaltySink), "empty name")

	_, err := reg.Create(ModuleConfig{Type: "missing"})
	assert.ErrorIs(t, err, ErrUnknownModule)
	assert.Contains(t, err.Error(), "penalty")

	_, err = reg.Create(ModuleConfig{Type: "penalty", Conf: map[string]any{"weight": "heavy"}})
	assert.ErrorContains(t, err, "create penalty")

	_, err = reg.Create(ModuleConfig{Type: "penalty", Conf: map[string]any{"wieght": 1}})
	assert.ErrorContains(t, err, "wieght")
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry[*penaltySink]()
	for _, n := range []string{"prometheus", "influx", "nop"} {
		require.NoError(t, reg.Register(n, newPenaltySink))
	}
	assert.Equal(t, []string{"influx", "nop", "prometheus"}, reg.Names())
}
