package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowvm/pkg/schema"
)

func TestNewCELEngine(t *testing.T) {
	e := NewCELEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "cel", e.Name())
}

// --- Basic evaluation ---

func TestCEL_Comparison(t *testing.T) {
	e := NewCELEngine()

	out, err := e.Evaluate(context.Background(), "count > 2", map[string]any{"count": 3})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_LogicalOperators(t *testing.T) {
	e := NewCELEngine()
	data := map[string]any{"ready": true, "retries": 0}

	out, err := e.Evaluate(context.Background(), "ready && retries == 0", data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_StringFunctions(t *testing.T) {
	e := NewCELEngine()

	out, err := e.Evaluate(context.Background(), `name.startsWith("flow")`, map[string]any{"name": "flowvm"})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

// --- Scope-dependent caching ---

func TestCEL_SameExpressionDifferentVariableSets(t *testing.T) {
	e := NewCELEngine()

	out, err := e.Evaluate(context.Background(), "x > 1", map[string]any{"x": 5})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	// Same expression under a wider scope still compiles and evaluates.
	out, err = e.Evaluate(context.Background(), "x > 1", map[string]any{"x": 0, "y": "extra"})
	require.NoError(t, err)
	assert.Equal(t, false, out)

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 2)
}

// --- Environment scrubbing ---

func TestCEL_FunctionValuedEntriesAreDropped(t *testing.T) {
	e := NewCELEngine()
	env := map[string]any{
		"x":  10,
		"jq": func() {}, // helper namespaces never reach CEL
	}

	out, err := e.Evaluate(context.Background(), "x == 10", env)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

// --- Errors ---

func TestCEL_EmptyExpression(t *testing.T) {
	e := NewCELEngine()

	_, err := e.Evaluate(context.Background(), "", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeSyntax, schema.CodeOf(err))
}

func TestCEL_CompileError(t *testing.T) {
	e := NewCELEngine()

	_, err := e.Evaluate(context.Background(), "1 +", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeSyntax, schema.CodeOf(err))
}

func TestCEL_UndeclaredVariable(t *testing.T) {
	e := NewCELEngine()

	_, err := e.Evaluate(context.Background(), "ghost == 1", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeSyntax, schema.CodeOf(err))
}
