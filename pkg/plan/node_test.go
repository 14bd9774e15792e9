package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/planit/pkg/schema"
)

func TestEmptyCompositesTakeNoTime(t *testing.T) {
	assert.Equal(t, time.Duration(0), NewChain().EstimatedDuration())
	assert.Equal(t, time.Duration(0), NewParallel().EstimatedDuration())
	assert.Equal(t, time.Duration(0), NewChain(NewParallel(), NewChain()).EstimatedDuration())
}

func TestChainSumsParallelTakesMax(t *testing.T) {
	a := step(t, "a", "01:00:00")
	b := step(t, "b", "00:30:00")
	c := step(t, "c", "02:15:00")

	assert.Equal(t, 3*time.Hour+45*time.Minute, NewChain(a, b, c).EstimatedDuration())
	assert.Equal(t, 2*time.Hour+15*time.Minute, NewParallel(a, b, c).EstimatedDuration())
}

func TestNestedEstimate(t *testing.T) {
	root := NewChain(
		step(t, "s1", "01:00:00"),
		NewParallel(step(t, "s2", "03:00:00"), step(t, "s3", "02:00:00")),
		step(t, "s4", "00:30:00"),
	)
	assert.Equal(t, 4*time.Hour+30*time.Minute, root.EstimatedDuration())

	p := New("nested", root, WithLogger(quietLogger()))
	assert.Equal(t, 4*time.Hour+30*time.Minute, p.EstimatedDuration())
}

func TestChildrenFixedAtConstruction(t *testing.T) {
	a := step(t, "a", "01:00:00")
	b := step(t, "b", "02:00:00")
	nodes := []Node{a}
	c := NewChain(nodes...)
	nodes[0] = b

	got := c.Nodes()
	require.Len(t, got, 1)
	assert.Same(t, a, got[0])

	got[0] = b
	assert.Same(t, a, c.Nodes()[0])
}

func TestNilNodesAreDropped(t *testing.T) {
	var missing *Step
	c := NewChain(nil, missing, step(t, "a", "00:10:00"))
	assert.Len(t, c.Nodes(), 1)
	assert.Equal(t, 10*time.Minute, c.EstimatedDuration())
}

func TestSteps_TreeOrder(t *testing.T) {
	p := New("order", NewChain(
		step(t, "a", "00:01:00"),
		NewParallel(step(t, "b", "00:01:00"), NewChain(step(t, "c", "00:01:00"), step(t, "d", "00:01:00"))),
		step(t, "e", "00:01:00"),
	))

	var names []string
	for _, s := range p.Steps() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, names)
}

func TestNilRootPlan(t *testing.T) {
	p := New("empty", nil, WithLogger(quietLogger()))
	assert.Equal(t, time.Duration(0), p.EstimatedDuration())
	assert.Empty(t, p.Steps())
}

func TestRawParamsStep(t *testing.T) {
	s, err := NewStep("raw", noop, schema.RawParams{schema.ParamTime: "2-00:00:00"})
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, s.EstimatedDuration())
	assert.Equal(t, "2-00:00:00", s.TimeLimit())
}
