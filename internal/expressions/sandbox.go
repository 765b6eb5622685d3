package expressions

import (
	"context"
	"regexp"
	"time"

	"github.com/rendis/flowvm/pkg/schema"
)

// Defaults for the evaluation resource bounds.
const (
	DefaultTimeout   = time.Second
	DefaultMaxLength = 10000
)

// forbiddenPattern is the static denylist of identifiers representing
// process/runtime escape hatches, prototype-chain manipulation, and dynamic
// code loading. The check is text-based and intentionally conservative: a
// safe expression containing a denylisted word is rejected too. That
// false-positive cost buys a hard security property.
var forbiddenPattern = regexp.MustCompile(
	`\b(eval|exec|Function|require|import|process|child_process|globalThis|constructor|prototype|__proto__|module|Reflect|Proxy)\b`)

// Config bounds a single expression evaluation.
type Config struct {
	Timeout   time.Duration // per-evaluation wall-clock bound
	MaxLength int           // max expression source length in bytes
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxLength <= 0 {
		c.MaxLength = DefaultMaxLength
	}
}

// Sandbox is the security and resource boundary around expression evaluation.
// Every evaluation, in order: length limit, forbidden-pattern check, deep
// freeze of the environment, whitelisted helper injection, time-boxed run.
// Safe for concurrent use.
type Sandbox struct {
	cfg        Config
	value      Engine
	condition  Engine
	builtins   *Builtins
	builtinEnv map[string]any
}

// NewSandbox creates a Sandbox with the Expr engine for both values and
// conditions.
func NewSandbox(cfg Config) *Sandbox {
	cfg.applyDefaults()
	eng := NewExprEngine()
	b := NewBuiltins()
	return &Sandbox{
		cfg:        cfg,
		value:      eng,
		condition:  eng,
		builtins:   b,
		builtinEnv: b.Env(),
	}
}

// UseConditionEngine swaps the engine used for boolean conditions.
// Value expressions and interpolation keep the default engine.
func (s *Sandbox) UseConditionEngine(e Engine) {
	if e != nil {
		s.condition = e
	}
}

// Evaluate runs a value expression against the environment.
func (s *Sandbox) Evaluate(ctx context.Context, source string, env map[string]any) (any, error) {
	if err := s.guard(source); err != nil {
		return nil, err
	}
	return s.run(ctx, s.value, source, s.freeze(env))
}

// EvaluateBool runs a condition and coerces the result with truthiness rules.
func (s *Sandbox) EvaluateBool(ctx context.Context, source string, env map[string]any) (bool, error) {
	if err := s.guard(source); err != nil {
		return false, err
	}
	out, err := s.run(ctx, s.condition, source, s.freeze(env))
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}

// guard applies the pre-evaluation checks: length first, denylist second.
// Both run before any environment access.
func (s *Sandbox) guard(source string) error {
	if len(source) > s.cfg.MaxLength {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"expression exceeds maximum length of %d characters", s.cfg.MaxLength)
	}
	if m := forbiddenPattern.FindString(source); m != "" {
		return schema.NewErrorf(schema.ErrCodeForbiddenPattern,
			"expression contains forbidden identifier %q", m).
			WithDetails(map[string]any{"identifier": m})
	}
	return nil
}

// freeze deep-copies the environment so expressions can never observe or
// cause mutation of shared state, then lays scope variables over the helper
// namespaces (scope wins on collision).
func (s *Sandbox) freeze(env map[string]any) map[string]any {
	frozen := make(map[string]any, len(env)+len(s.builtinEnv))
	for k, v := range s.builtinEnv {
		frozen[k] = v
	}
	for k, v := range env {
		frozen[k] = deepCopy(v)
	}
	return frozen
}

// run executes the engine under the configured wall-clock bound. The engine
// runs on its own goroutine; exceeding the bound yields an EXPR_TIMEOUT
// error, distinct from plain runtime failures.
func (s *Sandbox) run(ctx context.Context, eng Engine, source string, env map[string]any) (any, error) {
	type result struct {
		val any
		err error
	}

	ch := make(chan result, 1)
	go func() {
		val, err := eng.Evaluate(ctx, source, env)
		ch <- result{val: val, err: err}
	}()

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-timer.C:
		return nil, schema.NewErrorf(schema.ErrCodeExprTimeout,
			"expression %q exceeded the %s evaluation bound", source, s.cfg.Timeout).
			WithDetails(map[string]any{"timeout": s.cfg.Timeout.String()})
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeCancelled, "evaluation cancelled").WithCause(ctx.Err())
	}
}

// Truthy applies the coercion rules used for every condition: nil, false,
// zero numbers, NaN, and the empty string are false; everything else,
// including empty lists and maps, is true.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int8:
		return val != 0
	case int16:
		return val != 0
	case int32:
		return val != 0
	case int64:
		return val != 0
	case uint:
		return val != 0
	case uint8:
		return val != 0
	case uint16:
		return val != 0
	case uint32:
		return val != 0
	case uint64:
		return val != 0
	case float32:
		return val != 0 && val == val
	case float64:
		return val != 0 && val == val
	default:
		return true
	}
}

// deepCopy recursively copies maps and slices; primitives are value types.
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(val))
		for k, item := range val {
			cp[k] = deepCopy(item)
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopy(item)
		}
		return cp
	default:
		return v
	}
}
