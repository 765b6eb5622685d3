package hosting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowvm/pkg/interp"
)

func noop(_ context.Context, _ map[string]any) (interp.Stream, error) {
	return interp.NewSliceStream(nil, nil, nil), nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("a", noop))
	assert.True(t, r.Has("a"))

	c, err := r.Get("a")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("a", noop))
	assert.Error(t, r.Register("a", noop))
}

func TestRegistry_InvalidRegistrations(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register("", noop))
	assert.Error(t, r.Register("a", nil))
}

func TestRegistry_GetMissing(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("missing")
	assert.Error(t, err)
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("zeta", noop))
	require.NoError(t, r.Register("alpha", noop))

	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())
}

func TestFunc_WrapsSynchronousResult(t *testing.T) {
	c := Func(func(_ context.Context, args map[string]any) (any, error) {
		return args["x"], nil
	})

	stream, err := c(context.Background(), map[string]any{"x": 9})
	require.NoError(t, err)

	_, more := stream.Next()
	assert.False(t, more)

	value, err := stream.Result()
	require.NoError(t, err)
	assert.Equal(t, 9, value)
}
