package expressions

import (
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/flowvm/pkg/schema"
)

// Builtins are the safe, side-effect-free helper namespaces reachable from
// inside value expressions, on top of the engine's own operator and function
// set. Nothing here touches the process, filesystem, network, or loader.
type Builtins struct {
	jqMu    sync.RWMutex
	jqCache map[string]*gojq.Code
}

// NewBuiltins creates the builtin helper set.
func NewBuiltins() *Builtins {
	return &Builtins{
		jqCache: make(map[string]*gojq.Code),
	}
}

// Env returns the helper namespaces to merge into an expression environment.
// Scope variables overlay these, so a user variable named "json" shadows the
// namespace rather than erroring.
func (b *Builtins) Env() map[string]any {
	return map[string]any{
		"json": map[string]any{
			"encode": jsonEncode,
			"decode": jsonDecode,
		},
		"uri": map[string]any{
			"encode": url.QueryEscape,
			"decode": uriDecode,
		},
		"num": map[string]any{
			"parse_int":   parseInt,
			"parse_float": parseFloat,
			"is_nan":      isNaN,
			"is_finite":   isFinite,
		},
		"jq": b.jq,
	}
}

func jsonEncode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeExprRuntime, "json.encode failed").WithCause(err)
	}
	return string(data), nil
}

func jsonDecode(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, schema.NewError(schema.ErrCodeExprRuntime, "json.decode failed").WithCause(err)
	}
	return v, nil
}

func uriDecode(s string) (string, error) {
	out, err := url.QueryUnescape(s)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeExprRuntime, "uri.decode failed").WithCause(err)
	}
	return out, nil
}

func parseInt(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeExprRuntime, "num.parse_int: %q is not an integer", s).WithCause(err)
	}
	return n, nil
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeExprRuntime, "num.parse_float: %q is not a number", s).WithCause(err)
	}
	return f, nil
}

func isNaN(v any) bool {
	f, ok := v.(float64)
	return ok && math.IsNaN(f)
}

func isFinite(v any) bool {
	switch f := v.(type) {
	case float64:
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	case int, int64:
		return true
	default:
		return false
	}
}

// jq evaluates a jq filter against a value, for reshaping and aggregating
// structured data inside expressions. Compiled filters are cached.
// jq filters can produce multiple outputs; a single output is returned
// directly, multiple outputs are collected into a list.
func (b *Builtins) jq(filter string, input any) (any, error) {
	code, err := b.getOrCompileJQ(filter)
	if err != nil {
		return nil, err
	}

	iter := code.Run(normalizeForJQ(input))

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExprRuntime,
				"jq filter %q failed: %s", filter, err.Error()).WithCause(err)
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (b *Builtins) getOrCompileJQ(filter string) (*gojq.Code, error) {
	b.jqMu.RLock()
	if code, ok := b.jqCache[filter]; ok {
		b.jqMu.RUnlock()
		return code, nil
	}
	b.jqMu.RUnlock()

	b.jqMu.Lock()
	defer b.jqMu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := b.jqCache[filter]; ok {
		return code, nil
	}

	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSyntax,
			"jq parse error in %q: %s", filter, err.Error()).WithCause(err)
	}

	code, err := gojq.Compile(query,
		// Sandbox: empty environ blocks $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSyntax,
			"jq compile error in %q: %s", filter, err.Error()).WithCause(err)
	}

	b.jqCache[filter] = code
	return code, nil
}

// normalizeForJQ converts Go native types to jq-compatible types.
// jq only accepts nil, bool, int, float64, *big.Int, string, []any and
// map[string]any.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeForJQ(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeForJQ(item)
		}
		return out
	case int64:
		return int(val)
	case int32:
		return int(val)
	case float32:
		return float64(val)
	case uint64:
		return int(val)
	default:
		return v
	}
}
