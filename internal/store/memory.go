package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rendis/flowvm/pkg/schema"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu        sync.RWMutex
	memory    map[string]map[string][]byte // owner -> key -> value
	edges     []*Edge
	nextEdge  int64
	instances map[string]*Instance // type + "\x00" + name
	runs      map[string]*RunRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		memory:    make(map[string]map[string][]byte),
		nextEdge:  1,
		instances: make(map[string]*Instance),
		runs:      make(map[string]*RunRecord),
	}
}

func instanceKey(typeName, name string) string {
	return typeName + "\x00" + name
}

// --- Working memory ---

func (s *MemoryStore) SetMemory(_ context.Context, owner, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.memory[owner]
	if !ok {
		bucket = make(map[string][]byte)
		s.memory[owner] = bucket
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	bucket[key] = cp
	return nil
}

func (s *MemoryStore) GetMemory(_ context.Context, owner, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.memory[owner][key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (s *MemoryStore) DeleteMemory(_ context.Context, owner, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memory[owner], key)
	return nil
}

func (s *MemoryStore) ListMemoryKeys(_ context.Context, owner string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.memory[owner]))
	for k := range s.memory[owner] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// --- Graph edges ---

func (s *MemoryStore) AppendEdge(_ context.Context, edge *Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := *edge
	e.ID = s.nextEdge
	s.nextEdge++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.edges = append(s.edges, &e)
	edge.ID = e.ID
	return nil
}

func (s *MemoryStore) ListEdges(_ context.Context, filter EdgeFilter) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Edge
	for _, e := range s.edges {
		if filter.RunID != "" && e.RunID != filter.RunID {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Target != "" && e.Target != filter.Target {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// --- Child instances ---

func (s *MemoryStore) CreateInstance(_ context.Context, inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := instanceKey(inst.Type, inst.Name)
	if _, exists := s.instances[key]; exists {
		return schema.NewErrorf(schema.ErrCodeStore,
			"instance %s/%s already exists", inst.Type, inst.Name)
	}
	cp := *inst
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.instances[key] = &cp
	return nil
}

func (s *MemoryStore) GetInstance(_ context.Context, typeName, name string) (*Instance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[instanceKey(typeName, name)]
	if !ok {
		return nil, false, nil
	}
	cp := *inst
	return &cp, true, nil
}

func (s *MemoryStore) ListInstances(_ context.Context, filter InstanceFilter) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Instance
	for _, inst := range s.instances {
		if filter.Type != "" && inst.Type != filter.Type {
			continue
		}
		cp := *inst
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- Run records ---

func (s *MemoryStore) CreateRun(_ context.Context, run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeStore, "run %q already exists", run.ID)
	}
	cp := *run
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now().UTC()
	}
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, id string, update RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeStore, "run %q not found", id)
	}
	if update.Status != nil {
		r.Status = *update.Status
	}
	if update.Result != nil {
		r.Result = update.Result
	}
	if update.Error != nil {
		r.Error = *update.Error
	}
	if update.FinishedAt != nil {
		t := *update.FinishedAt
		r.FinishedAt = &t
	}
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "run %q not found", id)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RunRecord
	for _, r := range s.runs {
		if filter.Program != "" && r.Program != filter.Program {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.Since != nil && r.StartedAt.Before(*filter.Since) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- Maintenance and lifecycle ---

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Vacuum(context.Context) error  { return nil }
func (s *MemoryStore) Close() error                  { return nil }

var _ Store = (*MemoryStore)(nil)
var _ Store = (*LibSQLStore)(nil)
