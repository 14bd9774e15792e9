package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeDefinition_EmptyCompositesRoundTrip(t *testing.T) {
	in := `{"name":"p","root":{"chain":[{"parallel":[]},{"chain":[]}]}}`

	var def PlanDefinition
	require.NoError(t, json.Unmarshal([]byte(in), &def))

	assert.Equal(t, "chain", def.Root.Kind())
	require.Len(t, def.Root.Chain, 2)
	assert.Equal(t, "parallel", def.Root.Chain[0].Kind())
	assert.True(t, def.Root.Chain[0].IsParallel)
	assert.Equal(t, "chain", def.Root.Chain[1].Kind())
	assert.True(t, def.Root.Chain[1].IsChain)

	out, err := json.Marshal(def)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestNodeDefinition_Step(t *testing.T) {
	in := `{"step":{"name":"s","action":"noop","raw":{"slurm_time":"01:00:00"},"args":[1,"x"],"kwargs":{"k":true}}}`

	var n NodeDefinition
	require.NoError(t, json.Unmarshal([]byte(in), &n))

	assert.Equal(t, "step", n.Kind())
	assert.False(t, n.IsChain)
	assert.False(t, n.IsParallel)
	require.NotNil(t, n.Step)
	assert.Equal(t, "noop", n.Step.Action)
	assert.Equal(t, "01:00:00", n.Step.Raw[ParamTime])
	assert.Equal(t, []any{float64(1), "x"}, n.Step.Args)

	out, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestNodeDefinition_KindEmpty(t *testing.T) {
	var n NodeDefinition
	assert.Equal(t, "", n.Kind())

	out, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))
}

func TestNodeDefinition_UnmarshalRejectsNonObject(t *testing.T) {
	var n NodeDefinition
	assert.Error(t, json.Unmarshal([]byte(`[]`), &n))
}
