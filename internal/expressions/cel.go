package expressions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rendis/flowvm/pkg/schema"
)

// CELEngine implements the Engine interface using Google's Common Expression
// Language. It is an optional condition engine: workflows that prefer CEL's
// stricter typing for conditions select it at interpreter construction.
// Thread-safe: compiled programs are cached and reused across goroutines.
//
// Unlike a fixed-namespace environment, the variable set here changes with
// the lexical scope, so programs are cached per expression + variable set.
type CELEngine struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a new CEL expression engine.
func NewCELEngine() *CELEngine {
	return &CELEngine{
		cache: make(map[string]cel.Program),
	}
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates
// it against the provided environment. Every env key is declared as a dyn
// top-level variable.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, env map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeSyntax, "empty CEL expression")
	}

	// CEL activations only take data values; helper namespaces carrying Go
	// functions are dropped (CEL ships its own function set).
	env = dataOnly(env)

	prg, err := e.getOrCompile(expression, env)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExprRuntime,
			"CEL expression %q failed: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out.Value(), nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new
// one. The cache key includes the sorted variable names so that the same
// expression evaluated under different scopes recompiles as needed.
func (e *CELEngine) getOrCompile(expression string, env map[string]any) (cel.Program, error) {
	key := cacheKey(expression, env)

	e.mu.RLock()
	if prg, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[key]; ok {
		return prg, nil
	}

	opts := make([]cel.EnvOption, 0, len(env))
	for name := range env {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	celEnv, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSyntax,
			"create CEL environment: %s", err.Error()).WithCause(err)
	}

	ast, issues := celEnv.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSyntax,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := celEnv.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSyntax,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[key] = prg
	return prg, nil
}

// dataOnly strips env entries that are not plain data (functions and maps
// containing functions).
func dataOnly(env map[string]any) map[string]any {
	out := make(map[string]any, len(env))
	for k, v := range env {
		if isData(v) {
			out[k] = v
		}
	}
	return out
}

func isData(v any) bool {
	switch val := v.(type) {
	case nil, bool, string, int, int32, int64, uint64, float32, float64:
		return true
	case map[string]any:
		for _, item := range val {
			if !isData(item) {
				return false
			}
		}
		return true
	case []any:
		for _, item := range val {
			if !isData(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func cacheKey(expression string, env map[string]any) string {
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("%s|%s", expression, strings.Join(names, ","))
}

var _ Engine = (*CELEngine)(nil)
