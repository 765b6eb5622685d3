// Package hosting provides LocalHost, a reference host boundary backed by a
// Store: callables from an in-process registry, child workflows executed
// recursively through the interpreter, and working memory and graph edges
// persisted per owner.
package hosting

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rendis/flowvm/internal/store"
	"github.com/rendis/flowvm/pkg/interp"
	"github.com/rendis/flowvm/pkg/schema"
)

// DefaultOwner scopes working memory and edges when no owner is configured.
const DefaultOwner = "default"

// Config holds LocalHost configuration.
type Config struct {
	Store       store.Store
	Interpreter *interp.Interpreter
	Registry    *Registry // nil = fresh empty registry
	Owner       string    // memory and edge scope (default "default")
	Logger      *slog.Logger
}

// LocalHost implements the interpreter's host boundary in-process.
type LocalHost struct {
	store    store.Store
	ip       *interp.Interpreter
	registry *Registry
	owner    string
	logger   *slog.Logger

	mu       sync.RWMutex
	programs map[string]*schema.Program // child type -> program
}

// NewLocalHost creates a LocalHost.
func NewLocalHost(cfg Config) (*LocalHost, error) {
	if cfg.Store == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "hosting: store is required")
	}
	if cfg.Interpreter == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "hosting: interpreter is required")
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	owner := cfg.Owner
	if owner == "" {
		owner = DefaultOwner
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalHost{
		store:    cfg.Store,
		ip:       cfg.Interpreter,
		registry: registry,
		owner:    owner,
		logger:   logger,
		programs: make(map[string]*schema.Program),
	}, nil
}

// Registry returns the host's callable registry.
func (h *LocalHost) Registry() *Registry { return h.registry }

// RegisterChildProgram maps a child type name to the program executed when an
// instance of that type runs.
func (h *LocalHost) RegisterChildProgram(typeName string, program *schema.Program) error {
	if typeName == "" {
		return schema.NewError(schema.ErrCodeValidation, "child type name is empty")
	}
	if program == nil {
		return schema.NewError(schema.ErrCodeValidation, "child program is nil")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.programs[typeName]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "child type %q already registered", typeName)
	}
	h.programs[typeName] = program
	return nil
}

func (h *LocalHost) childProgram(typeName string) (*schema.Program, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.programs[typeName]
	return p, ok
}

// ChildHandle identifies a created child instance. It satisfies the
// interpreter's runnable contract.
type ChildHandle struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// RunnableRef returns the instance ID.
func (c *ChildHandle) RunnableRef() string { return c.ID }

// --- Host boundary ---

func (h *LocalHost) InvokeCallable(ctx context.Context, name string, args map[string]any) (interp.Stream, error) {
	c, err := h.registry.Get(name)
	if err != nil {
		return nil, err
	}
	h.logger.DebugContext(ctx, "invoking callable", slog.String("name", name))
	return c(ctx, args)
}

func (h *LocalHost) CreateChild(ctx context.Context, typeName, instanceName string, opts interp.CreateOptions) (interp.Runnable, error) {
	if opts.Idempotent {
		existing, found, err := h.store.GetInstance(ctx, typeName, instanceName)
		if err != nil {
			return nil, err
		}
		if found {
			return &ChildHandle{ID: existing.ID, Type: existing.Type, Name: existing.Name}, nil
		}
	}

	var data json.RawMessage
	if opts.Data != nil {
		b, err := json.Marshal(opts.Data)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeHost, "marshal child data: %v", err).WithCause(err)
		}
		data = b
	}

	inst := &store.Instance{
		ID:   uuid.New().String(),
		Type: typeName,
		Name: instanceName,
		Data: data,
	}
	if err := h.store.CreateInstance(ctx, inst); err != nil {
		// Lost an idempotent creation race: take the winner's row.
		if opts.Idempotent {
			existing, found, gerr := h.store.GetInstance(ctx, typeName, instanceName)
			if gerr == nil && found {
				return &ChildHandle{ID: existing.ID, Type: existing.Type, Name: existing.Name}, nil
			}
		}
		return nil, err
	}

	h.logger.InfoContext(ctx, "child instance created",
		slog.String("type", typeName), slog.String("instance", instanceName))
	return &ChildHandle{ID: inst.ID, Type: typeName, Name: instanceName}, nil
}

func (h *LocalHost) RunChild(ctx context.Context, handle interp.Runnable) (interp.Stream, error) {
	ch, ok := handle.(*ChildHandle)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeHost,
			"unrecognized child handle %T", handle)
	}

	program, ok := h.childProgram(ch.Type)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeHost,
			"no program registered for child type %q", ch.Type)
	}

	var input any
	inst, found, err := h.store.GetInstance(ctx, ch.Type, ch.Name)
	if err != nil {
		return nil, err
	}
	if found && len(inst.Data) > 0 {
		var m map[string]any
		if err := json.Unmarshal(inst.Data, &m); err == nil {
			input = m
		}
	}

	run := h.ip.Execute(ctx, program, h, input, nil)
	return newRunStream(run), nil
}

func (h *LocalHost) GetMemory(ctx context.Context, key string) (any, bool, error) {
	raw, found, err := h.store.GetMemory(ctx, h.owner, key)
	if err != nil || !found {
		return nil, false, err
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, schema.NewErrorf(schema.ErrCodeHost,
			"decode memory value %q: %v", key, err).WithCause(err)
	}
	return value, true, nil
}

func (h *LocalHost) SetMemory(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeHost,
			"encode memory value %q: %v", key, err).WithCause(err)
	}
	return h.store.SetMemory(ctx, h.owner, key, raw)
}

func (h *LocalHost) AppendEdge(ctx context.Context, edgeType, target string, data map[string]any) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeHost,
				"encode edge data: %v", err).WithCause(err)
		}
		raw = b
	}
	return h.store.AppendEdge(ctx, &store.Edge{
		RunID:  h.owner,
		Type:   edgeType,
		Target: target,
		Data:   raw,
	})
}

func (h *LocalHost) StatusEnvelope(message string) schema.ProgressEnvelope {
	return schema.NewStatus(message)
}

func (h *LocalHost) WaitingEnvelope(prompt string, timeoutMs int64) schema.ProgressEnvelope {
	return schema.NewWaiting(prompt, timeoutMs)
}

var _ interp.Host = (*LocalHost)(nil)

// runStream adapts a prepared run's pull iterator to the sub-event stream
// the interpreter consumes for child executions.
type runStream struct {
	next func() (schema.ProgressEnvelope, bool)
	stop func()
	run  *interp.Run
	done bool
}

func newRunStream(run *interp.Run) *runStream {
	next, stop := iter.Pull(run.Events())
	return &runStream{next: next, stop: stop, run: run}
}

func (s *runStream) Next() (schema.ProgressEnvelope, bool) {
	if s.done {
		return schema.ProgressEnvelope{}, false
	}
	ev, ok := s.next()
	if !ok {
		s.stop()
		s.done = true
	}
	return ev, ok
}

func (s *runStream) Result() (any, error) {
	if !s.done {
		// Drain remaining events so the child run reaches its terminal state.
		for {
			if _, ok := s.Next(); !ok {
				break
			}
		}
	}
	return s.run.Result()
}
