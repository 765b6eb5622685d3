package expressions

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowvm/pkg/schema"
)

func TestNewSandbox(t *testing.T) {
	s := NewSandbox(Config{})
	require.NotNil(t, s)
	assert.Equal(t, DefaultTimeout, s.cfg.Timeout)
	assert.Equal(t, DefaultMaxLength, s.cfg.MaxLength)
}

// --- Forbidden patterns ---

func TestSandbox_ForbiddenIdentifiers(t *testing.T) {
	s := NewSandbox(Config{})

	cases := []string{
		`eval("1+1")`,
		`exec(cmd)`,
		`Function("return 1")`,
		`require("fs")`,
		`import x`,
		`process + 1`,
		`child_process`,
		`globalThis`,
		`x.constructor`,
		`x.prototype.y`,
		`__proto__`,
		`module.exports`,
		`Reflect.get(a, b)`,
		`Proxy`,
	}
	for _, src := range cases {
		t.Run(src, func(t *testing.T) {
			_, err := s.Evaluate(context.Background(), src, nil)
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeForbiddenPattern, schema.CodeOf(err))
		})
	}
}

func TestSandbox_ForbiddenCheckIsWordBounded(t *testing.T) {
	s := NewSandbox(Config{})

	// "evaluate" contains "eval" but is a different identifier.
	out, err := s.Evaluate(context.Background(), "evaluate ?? 7", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 7, out)
}

func TestSandbox_ForbiddenCheckRunsBeforeEvaluation(t *testing.T) {
	s := NewSandbox(Config{})

	// Syntactically broken source still gets the denylist verdict.
	_, err := s.Evaluate(context.Background(), "eval(((", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeForbiddenPattern, schema.CodeOf(err))
}

// --- Length limit ---

func TestSandbox_MaxLength(t *testing.T) {
	s := NewSandbox(Config{MaxLength: 16})

	_, err := s.Evaluate(context.Background(), strings.Repeat("1+", 20)+"1", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestSandbox_LengthCheckedBeforeDenylist(t *testing.T) {
	s := NewSandbox(Config{MaxLength: 8})

	_, err := s.Evaluate(context.Background(), "eval(x) + "+strings.Repeat("y", 30), nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

// --- Timeout ---

// stallEngine blocks far past any reasonable evaluation bound.
type stallEngine struct{ delay time.Duration }

func (e *stallEngine) Name() string { return "stall" }

func (e *stallEngine) Evaluate(ctx context.Context, _ string, _ map[string]any) (any, error) {
	select {
	case <-time.After(e.delay):
	case <-ctx.Done():
	}
	return true, nil
}

func TestSandbox_TimeoutYieldsDistinctCode(t *testing.T) {
	s := NewSandbox(Config{Timeout: 20 * time.Millisecond})
	s.UseConditionEngine(&stallEngine{delay: 2 * time.Second})

	_, err := s.EvaluateBool(context.Background(), "slow", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExprTimeout, schema.CodeOf(err))
}

func TestSandbox_RuntimeErrorIsNotTimeout(t *testing.T) {
	s := NewSandbox(Config{})

	_, err := s.Evaluate(context.Background(), "a % b", map[string]any{"a": 1, "b": 0})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExprRuntime, schema.CodeOf(err))
}

// --- Immutability ---

func TestSandbox_ExpressionsSeeDeepCopies(t *testing.T) {
	s := NewSandbox(Config{})
	env := map[string]any{
		"data": map[string]any{
			"items": []any{1, 2, 3},
		},
	}

	out, err := s.Evaluate(context.Background(), "data", env)
	require.NoError(t, err)

	// Mutating the returned structure must not reach the original.
	m, ok := out.(map[string]any)
	require.True(t, ok)
	m["items"] = "clobbered"

	orig := env["data"].(map[string]any)
	assert.Equal(t, []any{1, 2, 3}, orig["items"])
}

// --- Builtins and shadowing ---

func TestSandbox_BuiltinNamespaces(t *testing.T) {
	s := NewSandbox(Config{})

	t.Run("json roundtrip", func(t *testing.T) {
		out, err := s.Evaluate(context.Background(), `json.decode(json.encode([1, 2]))`, map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, []any{float64(1), float64(2)}, out)
	})

	t.Run("num parse", func(t *testing.T) {
		out, err := s.Evaluate(context.Background(), `num.parse_int("41") + 1`, map[string]any{})
		require.NoError(t, err)
		assert.EqualValues(t, 42, out)
	})

	t.Run("jq filter", func(t *testing.T) {
		out, err := s.Evaluate(context.Background(), `jq(".items | length", doc)`,
			map[string]any{"doc": map[string]any{"items": []any{"a", "b"}}})
		require.NoError(t, err)
		assert.EqualValues(t, 2, out)
	})
}

func TestSandbox_ScopeVariableShadowsBuiltin(t *testing.T) {
	s := NewSandbox(Config{})

	out, err := s.Evaluate(context.Background(), "json", map[string]any{"json": "mine"})
	require.NoError(t, err)
	assert.Equal(t, "mine", out)
}

// --- Truthiness ---

func TestTruthy(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want bool
	}{
		{"nil", nil, false},
		{"false", false, false},
		{"true", true, true},
		{"zero int", 0, false},
		{"nonzero int", 3, true},
		{"zero int8", int8(0), false},
		{"zero int16", int16(0), false},
		{"zero int32", int32(0), false},
		{"zero int64", int64(0), false},
		{"zero uint", uint(0), false},
		{"zero uint8", uint8(0), false},
		{"zero uint16", uint16(0), false},
		{"zero uint32", uint32(0), false},
		{"zero uint64", uint64(0), false},
		{"nonzero uint32", uint32(7), true},
		{"zero float", 0.0, false},
		{"NaN", math.NaN(), false},
		{"negative float", -0.5, true},
		{"empty string", "", false},
		{"string", "x", true},
		{"empty list", []any{}, true},
		{"empty map", map[string]any{}, true},
		{"struct value", struct{}{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Truthy(tc.in))
		})
	}
}

func TestSandbox_EvaluateBoolAppliesTruthiness(t *testing.T) {
	s := NewSandbox(Config{})

	t.Run("empty list is true", func(t *testing.T) {
		ok, err := s.EvaluateBool(context.Background(), "items", map[string]any{"items": []any{}})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("empty string is false", func(t *testing.T) {
		ok, err := s.EvaluateBool(context.Background(), "name", map[string]any{"name": ""})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
