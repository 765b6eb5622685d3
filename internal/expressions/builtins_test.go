package expressions

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowvm/pkg/schema"
)

// --- json ---

func TestBuiltins_JSON(t *testing.T) {
	t.Run("encode", func(t *testing.T) {
		out, err := jsonEncode(map[string]any{"a": 1})
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, out)
	})

	t.Run("decode", func(t *testing.T) {
		out, err := jsonDecode(`[true, "x"]`)
		require.NoError(t, err)
		assert.Equal(t, []any{true, "x"}, out)
	})

	t.Run("decode invalid", func(t *testing.T) {
		_, err := jsonDecode(`{broken`)
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeExprRuntime, schema.CodeOf(err))
	})
}

// --- num ---

func TestBuiltins_Num(t *testing.T) {
	t.Run("parse_int", func(t *testing.T) {
		n, err := parseInt("-12")
		require.NoError(t, err)
		assert.EqualValues(t, -12, n)
	})

	t.Run("parse_int rejects floats", func(t *testing.T) {
		_, err := parseInt("1.5")
		require.Error(t, err)
	})

	t.Run("parse_float", func(t *testing.T) {
		f, err := parseFloat("2.25")
		require.NoError(t, err)
		assert.Equal(t, 2.25, f)
	})

	t.Run("is_nan", func(t *testing.T) {
		assert.True(t, isNaN(math.NaN()))
		assert.False(t, isNaN(1.0))
		assert.False(t, isNaN("nan"))
	})

	t.Run("is_finite", func(t *testing.T) {
		assert.True(t, isFinite(1.0))
		assert.True(t, isFinite(3))
		assert.False(t, isFinite(math.Inf(1)))
		assert.False(t, isFinite("x"))
	})
}

// --- jq ---

func TestBuiltins_JQ(t *testing.T) {
	b := NewBuiltins()

	t.Run("single output", func(t *testing.T) {
		out, err := b.jq(".name", map[string]any{"name": "vm"})
		require.NoError(t, err)
		assert.Equal(t, "vm", out)
	})

	t.Run("multiple outputs collect into a list", func(t *testing.T) {
		out, err := b.jq(".[]", []any{1, 2})
		require.NoError(t, err)
		assert.Equal(t, []any{1, 2}, out)
	})

	t.Run("no output is nil", func(t *testing.T) {
		out, err := b.jq(".[] | select(. > 10)", []any{1, 2})
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("parse error", func(t *testing.T) {
		_, err := b.jq("][", nil)
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeSyntax, schema.CodeOf(err))
	})

	t.Run("env access is blocked", func(t *testing.T) {
		out, err := b.jq(`env.PATH`, nil)
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("non-native ints are normalized", func(t *testing.T) {
		out, err := b.jq(". + 1", int64(41))
		require.NoError(t, err)
		assert.EqualValues(t, 42, out)
	})
}

func TestBuiltins_JQCache(t *testing.T) {
	b := NewBuiltins()

	for i := 0; i < 3; i++ {
		_, err := b.jq(".x", map[string]any{"x": i})
		require.NoError(t, err)
	}

	b.jqMu.RLock()
	defer b.jqMu.RUnlock()
	assert.Len(t, b.jqCache, 1)
}
