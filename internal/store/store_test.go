package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowvm/pkg/schema"
)

// withStores runs a subtest against every Store implementation.
func withStores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})

	t.Run("libsql", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")
		s, err := NewLibSQLStore("file:" + dbPath)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		require.NoError(t, s.Migrate(context.Background()))
		fn(t, s)
	})
}

// --- Working memory ---

func TestStore_MemoryRoundtrip(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.SetMemory(ctx, "run-1", "greeting", []byte(`"hello"`)))

		value, found, err := s.GetMemory(ctx, "run-1", "greeting")
		require.NoError(t, err)
		require.True(t, found)
		assert.JSONEq(t, `"hello"`, string(value))
	})
}

func TestStore_MemoryOverwrite(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.SetMemory(ctx, "o", "k", []byte(`1`)))
		require.NoError(t, s.SetMemory(ctx, "o", "k", []byte(`2`)))

		value, found, err := s.GetMemory(ctx, "o", "k")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "2", string(value))
	})
}

func TestStore_MemoryIsOwnerScoped(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.SetMemory(ctx, "alice", "k", []byte(`"a"`)))

		_, found, err := s.GetMemory(ctx, "bob", "k")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestStore_MemoryDeleteAndList(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.SetMemory(ctx, "o", "b", []byte(`1`)))
		require.NoError(t, s.SetMemory(ctx, "o", "a", []byte(`2`)))

		keys, err := s.ListMemoryKeys(ctx, "o")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, keys)

		require.NoError(t, s.DeleteMemory(ctx, "o", "a"))
		_, found, err := s.GetMemory(ctx, "o", "a")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

// --- Graph edges ---

func TestStore_EdgesAppendOnlyOrdered(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		for _, target := range []string{"n1", "n2", "n3"} {
			require.NoError(t, s.AppendEdge(ctx, &Edge{
				RunID:  "run-1",
				Type:   "cites",
				Target: target,
				Data:   json.RawMessage(`{"x":1}`),
			}))
		}

		edges, err := s.ListEdges(ctx, EdgeFilter{RunID: "run-1"})
		require.NoError(t, err)
		require.Len(t, edges, 3)
		assert.Equal(t, "n1", edges[0].Target)
		assert.Equal(t, "n3", edges[2].Target)
		assert.Less(t, edges[0].ID, edges[1].ID)
	})
}

func TestStore_EdgeFilters(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.AppendEdge(ctx, &Edge{Type: "cites", Target: "a"}))
		require.NoError(t, s.AppendEdge(ctx, &Edge{Type: "mentions", Target: "a"}))
		require.NoError(t, s.AppendEdge(ctx, &Edge{Type: "cites", Target: "b"}))

		byType, err := s.ListEdges(ctx, EdgeFilter{Type: "cites"})
		require.NoError(t, err)
		assert.Len(t, byType, 2)

		byTarget, err := s.ListEdges(ctx, EdgeFilter{Target: "a"})
		require.NoError(t, err)
		assert.Len(t, byTarget, 2)

		limited, err := s.ListEdges(ctx, EdgeFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}

// --- Child instances ---

func TestStore_InstanceUniquePerTypeAndName(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.CreateInstance(ctx, &Instance{ID: "i-1", Type: "job", Name: "n"}))

		err := s.CreateInstance(ctx, &Instance{ID: "i-2", Type: "job", Name: "n"})
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeStore, schema.CodeOf(err))

		// Same name under a different type is distinct.
		require.NoError(t, s.CreateInstance(ctx, &Instance{ID: "i-3", Type: "report", Name: "n"}))
	})
}

func TestStore_GetInstance(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.CreateInstance(ctx, &Instance{
			ID: "i-1", Type: "job", Name: "n", Data: json.RawMessage(`{"seed":7}`),
		}))

		inst, found, err := s.GetInstance(ctx, "job", "n")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "i-1", inst.ID)
		assert.JSONEq(t, `{"seed":7}`, string(inst.Data))

		_, found, err = s.GetInstance(ctx, "job", "missing")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

// --- Run records ---

func TestStore_RunLifecycle(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.CreateRun(ctx, &RunRecord{
			ID: "r-1", Program: "greeter", Status: RunStatusRunning,
		}))

		status := RunStatusCompleted
		finished := time.Now().UTC()
		require.NoError(t, s.UpdateRun(ctx, "r-1", RunUpdate{
			Status:     &status,
			Result:     json.RawMessage(`"done"`),
			FinishedAt: &finished,
		}))

		r, err := s.GetRun(ctx, "r-1")
		require.NoError(t, err)
		assert.Equal(t, RunStatusCompleted, r.Status)
		assert.JSONEq(t, `"done"`, string(r.Result))
		require.NotNil(t, r.FinishedAt)
	})
}

func TestStore_UpdateMissingRun(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		status := RunStatusFailed
		err := s.UpdateRun(context.Background(), "ghost", RunUpdate{Status: &status})
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeStore, schema.CodeOf(err))
	})
}

func TestStore_ListRunsFiltered(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.CreateRun(ctx, &RunRecord{ID: "r-1", Program: "a", Status: RunStatusCompleted}))
		require.NoError(t, s.CreateRun(ctx, &RunRecord{ID: "r-2", Program: "b", Status: RunStatusFailed}))
		require.NoError(t, s.CreateRun(ctx, &RunRecord{ID: "r-3", Program: "a", Status: RunStatusFailed}))

		byProgram, err := s.ListRuns(ctx, RunFilter{Program: "a"})
		require.NoError(t, err)
		assert.Len(t, byProgram, 2)

		byStatus, err := s.ListRuns(ctx, RunFilter{Status: RunStatusFailed})
		require.NoError(t, err)
		assert.Len(t, byStatus, 2)
	})
}
