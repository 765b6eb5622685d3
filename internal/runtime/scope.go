package runtime

import (
	"github.com/rendis/flowvm/pkg/schema"
)

// scope is a single level of the variable-binding stack.
type scope struct {
	label string
	vars  map[string]any
}

// Context owns the lexical scope stack for a single execution. It is created
// fresh per run and must never be shared across concurrent executions.
type Context struct {
	scopes []scope
}

// NewContext creates a Context with one global scope.
func NewContext() *Context {
	return &Context{
		scopes: []scope{{label: "global", vars: make(map[string]any)}},
	}
}

// PushScope creates a new empty scope on top of the stack.
// The label is diagnostic-only.
func (c *Context) PushScope(label string) {
	c.scopes = append(c.scopes, scope{label: label, vars: make(map[string]any)})
}

// PopScope removes the innermost scope. Popping the global scope is a
// programmer error, not a user error.
func (c *Context) PopScope() error {
	if len(c.scopes) <= 1 {
		return schema.NewError(schema.ErrCodeValidation, "cannot pop the global scope")
	}
	c.scopes = c.scopes[:len(c.scopes)-1]
	return nil
}

// Declare binds a name in the innermost scope. A name already present in the
// innermost scope is an error; a name present only in an ancestor scope is
// shadowed without error.
func (c *Context) Declare(name string, value any) error {
	top := &c.scopes[len(c.scopes)-1]
	if _, exists := top.vars[name]; exists {
		return schema.NewErrorf(schema.ErrCodeDuplicateDeclaration,
			"variable %q already declared in scope %q", name, top.label)
	}
	top.vars[name] = value
	return nil
}

// Resolve searches innermost-to-outermost for a name.
func (c *Context) Resolve(name string) (any, error) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if v, ok := c.scopes[i].vars[name]; ok {
			return v, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeVariableNotDeclared,
		"variable %q is not declared", name)
}

// Declared reports whether a name is visible in any scope.
func (c *Context) Declared(name string) bool {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if _, ok := c.scopes[i].vars[name]; ok {
			return true
		}
	}
	return false
}

// Flatten merges all currently-visible bindings into one map, innermost
// winning on name collisions. The result is a fresh map; the evaluator
// deep-freezes it before exposing it to expressions.
func (c *Context) Flatten() map[string]any {
	out := make(map[string]any)
	for _, s := range c.scopes {
		for k, v := range s.vars {
			out[k] = v
		}
	}
	return out
}

// Depth returns the number of scopes on the stack, the global scope included.
func (c *Context) Depth() int {
	return len(c.scopes)
}
