package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/planit/pkg/schema"
)

func testScope() *Scope {
	return &Scope{
		Vars: map[string]any{
			"data_dir": "/scratch/data",
			"epochs":   10,
			"lr":       map[string]any{"base": 0.1},
			"tags":     []any{"a", "b"},
		},
		Env:  map[string]string{"HOME": "/home/user"},
		Plan: map[string]any{"name": "my_experiment"},
	}
}

func TestInterpolator_WholeReferenceKeepsType(t *testing.T) {
	in := NewInterpolator(nil)

	out, err := in.Resolve(context.Background(), "${{ vars.epochs }}", testScope())
	require.NoError(t, err)
	assert.Equal(t, 10, out)

	out, err = in.Resolve(context.Background(), "${{vars.lr}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"base": 0.1}, out)
}

func TestInterpolator_EmbeddedReferences(t *testing.T) {
	in := NewInterpolator(nil)

	out, err := in.ResolveString(context.Background(),
		"${{ env.HOME }}/runs/${{ plan.name }}-${{ vars.epochs }}.log", testScope())
	require.NoError(t, err)
	assert.Equal(t, "/home/user/runs/my_experiment-10.log", out)

	out, err = in.ResolveString(context.Background(), "tags=${{ vars.tags }}", testScope())
	require.NoError(t, err)
	assert.Equal(t, `tags=["a","b"]`, out)
}

func TestInterpolator_Expressions(t *testing.T) {
	in := NewInterpolator(nil)

	out, err := in.Resolve(context.Background(), "${{ vars.epochs * 3 }}", testScope())
	require.NoError(t, err)
	assert.Equal(t, 30, out)

	out, err = in.Resolve(context.Background(), `${{ upper(plan.name) }}`, testScope())
	require.NoError(t, err)
	assert.Equal(t, "MY_EXPERIMENT", out)
}

func TestInterpolator_WalksNestedValues(t *testing.T) {
	in := NewInterpolator(nil)
	input := map[string]any{
		"args":  []any{"--data", "${{ vars.data_dir }}", 5},
		"inner": map[string]any{"epochs": "${{ vars.epochs }}"},
		"keep":  true,
	}

	out, err := in.Resolve(context.Background(), input, testScope())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"args":  []any{"--data", "/scratch/data", 5},
		"inner": map[string]any{"epochs": 10},
		"keep":  true,
	}, out)

	// The input is untouched.
	assert.Equal(t, "${{ vars.data_dir }}", input["args"].([]any)[1])
}

func TestInterpolator_NoReferences(t *testing.T) {
	in := NewInterpolator(nil)
	out, err := in.Resolve(context.Background(), "plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)
}

func TestInterpolator_Errors(t *testing.T) {
	in := NewInterpolator(nil)

	tests := []struct {
		name  string
		input string
		msg   string
	}{
		{"missing var", "${{ vars.missing }}", "available: [data_dir, epochs, lr, tags]"},
		{"unknown namespace", "${{ secrets.token }}", "unknown namespace"},
		{"unclosed", "${{ vars.epochs", "unclosed"},
		{"empty", "${{ }}", "empty reference"},
		{"traverse scalar", "${{ vars.epochs.value }}", "cannot traverse"},
		{"bad expression", "${{ vars.epochs + }}", "cannot evaluate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := in.Resolve(context.Background(), tt.input, testScope())
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeInterpolation))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestHasInterpolation(t *testing.T) {
	assert.True(t, HasInterpolation("a ${{ vars.x }}"))
	assert.False(t, HasInterpolation("a ${ vars.x }"))
}
