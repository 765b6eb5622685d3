package hosting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowvm/internal/store"
	"github.com/rendis/flowvm/pkg/interp"
	"github.com/rendis/flowvm/pkg/schema"
)

func newTestHost(t *testing.T) *LocalHost {
	t.Helper()
	ip := interp.New(interp.Config{})
	h, err := NewLocalHost(Config{
		Store:       store.NewMemoryStore(),
		Interpreter: ip,
	})
	require.NoError(t, err)
	return h
}

func TestNewLocalHost_RequiresDependencies(t *testing.T) {
	ip := interp.New(interp.Config{})

	_, err := NewLocalHost(Config{Interpreter: ip})
	require.Error(t, err)

	_, err = NewLocalHost(Config{Store: store.NewMemoryStore()})
	require.Error(t, err)
}

// --- Callables ---

func TestLocalHost_InvokeCallable(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.Registry().Register("double", Func(
		func(_ context.Context, args map[string]any) (any, error) {
			n, _ := args["n"].(int)
			return n * 2, nil
		})))

	stream, err := h.InvokeCallable(context.Background(), "double", map[string]any{"n": 21})
	require.NoError(t, err)

	_, more := stream.Next()
	assert.False(t, more)

	value, err := stream.Result()
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestLocalHost_InvokeUnknownCallable(t *testing.T) {
	h := newTestHost(t)

	_, err := h.InvokeCallable(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeHost, schema.CodeOf(err))
}

// --- Child instances ---

func TestLocalHost_CreateChildIdempotent(t *testing.T) {
	h := newTestHost(t)
	ctx := context.Background()
	opts := interp.CreateOptions{Idempotent: true, Data: map[string]any{"seed": 1}}

	first, err := h.CreateChild(ctx, "job", "nightly", opts)
	require.NoError(t, err)
	second, err := h.CreateChild(ctx, "job", "nightly", opts)
	require.NoError(t, err)

	assert.Equal(t, first.RunnableRef(), second.RunnableRef())

	instances, err := h.store.ListInstances(ctx, store.InstanceFilter{Type: "job"})
	require.NoError(t, err)
	assert.Len(t, instances, 1)
}

func TestLocalHost_CreateChildNonIdempotentConflicts(t *testing.T) {
	h := newTestHost(t)
	ctx := context.Background()

	_, err := h.CreateChild(ctx, "job", "once", interp.CreateOptions{})
	require.NoError(t, err)

	_, err = h.CreateChild(ctx, "job", "once", interp.CreateOptions{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeStore, schema.CodeOf(err))
}

func TestLocalHost_RunChildExecutesRegisteredProgram(t *testing.T) {
	h := newTestHost(t)
	ctx := context.Background()

	require.NoError(t, h.RegisterChildProgram("summarizer", &schema.Program{
		Name: "summarizer",
		Body: []schema.Node{
			&schema.StatusNode{Message: "summarizing {{ input.topic }}"},
			&schema.ReturnNode{Value: `"summary of " + input.topic`},
		},
	}))

	handle, err := h.CreateChild(ctx, "summarizer", "s-1", interp.CreateOptions{
		Idempotent: true,
		Data:       map[string]any{"topic": "edges"},
	})
	require.NoError(t, err)

	stream, err := h.RunChild(ctx, handle)
	require.NoError(t, err)

	ev, more := stream.Next()
	require.True(t, more)
	assert.Equal(t, "summarizing edges", ev.Message)

	value, err := stream.Result()
	require.NoError(t, err)
	assert.Equal(t, "summary of edges", value)
}

func TestLocalHost_RunChildUnknownType(t *testing.T) {
	h := newTestHost(t)

	_, err := h.RunChild(context.Background(), &ChildHandle{ID: "x", Type: "ghost", Name: "g"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeHost, schema.CodeOf(err))
}

// --- Working memory ---

func TestLocalHost_MemoryRoundtrip(t *testing.T) {
	h := newTestHost(t)
	ctx := context.Background()

	require.NoError(t, h.SetMemory(ctx, "prefs", map[string]any{"lang": "en"}))

	value, found, err := h.GetMemory(ctx, "prefs")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{"lang": "en"}, value)
}

func TestLocalHost_MemoryAbsentKey(t *testing.T) {
	h := newTestHost(t)

	_, found, err := h.GetMemory(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Graph edges ---

func TestLocalHost_AppendEdge(t *testing.T) {
	h := newTestHost(t)
	ctx := context.Background()

	require.NoError(t, h.AppendEdge(ctx, "mentions", "doc:7", map[string]any{"weight": 0.9}))
	require.NoError(t, h.AppendEdge(ctx, "mentions", "doc:8", nil))

	edges, err := h.store.ListEdges(ctx, store.EdgeFilter{Type: "mentions"})
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "doc:7", edges[0].Target)
	assert.JSONEq(t, `{"weight": 0.9}`, string(edges[0].Data))
	assert.Nil(t, edges[1].Data)
}

// --- End to end through the interpreter ---

func TestLocalHost_FullProgramRun(t *testing.T) {
	ip := interp.New(interp.Config{})
	h, err := NewLocalHost(Config{Store: store.NewMemoryStore(), Interpreter: ip})
	require.NoError(t, err)

	require.NoError(t, h.Registry().Register("greet", Func(
		func(_ context.Context, args map[string]any) (any, error) {
			name, _ := args["name"].(string)
			return "hello " + name, nil
		})))

	program := &schema.Program{
		Name: "greeter",
		Body: []schema.Node{
			&schema.CallNode{Callable: "greet", Args: map[string]string{"name": `"ada"`}, Result: "msg"},
			&schema.MemorySetNode{Key: "last_greeting", Value: "msg"},
			&schema.ReturnNode{Value: "msg"},
		},
	}

	value, err := ip.Execute(context.Background(), program, h, nil, nil).Drain()
	require.NoError(t, err)
	assert.Equal(t, "hello ada", value)

	stored, found, err := h.GetMemory(context.Background(), "last_greeting")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hello ada", stored)
}
