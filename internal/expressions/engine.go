package expressions

import "context"

// Engine evaluates a single expression against an environment map.
// Two implementations: Expr (default, values and conditions) and CEL
// (optional condition engine). Engines are pure evaluators; the security
// boundary (denylist, length limit, freezing, timeout) lives in Sandbox.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, env map[string]any) (any, error)
}
