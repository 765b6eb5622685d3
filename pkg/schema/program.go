package schema

import "fmt"

// Position is a source location attached at parse time and threaded through
// unchanged for diagnostics.
type Position struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// IsZero reports whether the position carries no location information.
func (p Position) IsZero() bool {
	return p.File == "" && p.Line == 0 && p.Column == 0
}

func (p Position) String() string {
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// NodeKind identifies one of the closed set of instruction variants.
type NodeKind string

const (
	KindLet        NodeKind = "let"
	KindIf         NodeKind = "if"
	KindLoop       NodeKind = "loop"
	KindCall       NodeKind = "call"
	KindCreate     NodeKind = "create"
	KindRunChild   NodeKind = "run"
	KindStatus     NodeKind = "status"
	KindWaiting    NodeKind = "waiting"
	KindMemoryGet  NodeKind = "memory_get"
	KindMemorySet  NodeKind = "memory_set"
	KindAppendEdge NodeKind = "append_edge"
	KindReturn     NodeKind = "return"
	KindExpr       NodeKind = "expr"
)

// Node is a single instruction in a parsed program. Nodes are read-only once
// parsed; the interpreter never mutates them.
type Node interface {
	Kind() NodeKind
	Pos() Position
}

// Program is an immutable tree of instructions.
type Program struct {
	Name string `json:"name,omitempty"`
	Body []Node `json:"body"`
}

// DataBlock carries structured data for child creation and edge appends:
// either a single expression that evaluates to a record, or a set of named
// field expressions merged into a record. Exactly one of the two is set.
type DataBlock struct {
	Expr   string            `json:"expr,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Branch is one condition/body pair of an If node's else-if chain.
type Branch struct {
	Condition string `json:"condition"`
	Body      []Node `json:"body"`
}

// LetNode declares a variable in the current scope. The value comes from
// either the Value expression or the nested Child computation (a call,
// create, memory read, or bare expression), never both.
type LetNode struct {
	Name    string   `json:"name"`
	Value   string   `json:"value,omitempty"`
	Child   Node     `json:"child,omitempty"`
	NodePos Position `json:"pos,omitempty"`
}

/// IfNode executes at most one of its branches: the then-body when Condition
// is truthy, otherwise the first truthy ElseIf branch, otherwise Else.
type IfNode struct {
	Condition string   `json:"condition"`
	Then      []Node   `json:"then"`
	ElseIf    []Branch `json:"else_if,omitempty"`
	Else      []Node   `json:"else,omitempty"`
	NodePos   Position `json:"pos,omitempty"`
}

// LoopNode iterates the Items expression result, binding ItemVar (default
// "item") and, when IndexVar is set, the zero-based index, per iteration.
type LoopNode struct {
	Items    string   `json:"items"`
	ItemVar  string   `json:"item_var,omitempty"`
	IndexVar string   `json:"index_var,omitempty"`
	Body     []Node   `json:"body"`
	NodePos  Position `json:"pos,omitempty"`
}

// CallNode invokes a named callable on the host with evaluated arguments,
// forwarding its sub-events and optionally binding its final value.
type CallNode struct {
	Callable string            `json:"callable"`
	Args     map[string]string `json:"args,omitempty"`
	Result   string            `json:"result,omitempty"`
	NodePos  Position          `json:"pos,omitempty"`
}

// CreateNode idempotently creates (or retrieves) a child workflow instance.
// Type and Name are expressions. Idempotent defaults to true when nil.
type CreateNode struct {
	Type       string     `json:"type"`
	Name       string     `json:"instance"`
	Data       *DataBlock `json:"data,omitempty"`
	Idempotent *bool      `json:"idempotent,omitempty"`
	Result     string     `json:"result,omitempty"`
	NodePos    Position   `json:"pos,omitempty"`
}

// RunChildNode executes a previously bound child handle. Ref is an expression
// that must resolve to a runnable handle.
type RunChildNode struct {
	Ref     string   `json:"ref"`
	Result  string   `json:"result,omitempty"`
	NodePos Position `json:"pos,omitempty"`
}

// StatusNode emits a status progress envelope. Message is interpolated.
type StatusNode struct {
	Message string   `json:"message"`
	NodePos Position `json:"pos,omitempty"`
}

// WaitingNode emits a waiting-for-input progress envelope. Prompt is
// interpolated; TimeoutMs of zero means no timeout.
type WaitingNode struct {
	Prompt    string   `json:"prompt"`
	TimeoutMs int64    `json:"timeout_ms,omitempty"`
	NodePos   Position `json:"pos,omitempty"`
}

// MemoryGetNode reads a working-memory key (interpolated) into a variable.
type MemoryGetNode struct {
	Key     string   `json:"key"`
	Result  string   `json:"result"`
	NodePos Position `json:"pos,omitempty"`
}

// MemorySetNode persists the evaluated Value expression under the
// interpolated Key.
type MemorySetNode struct {
	Key     string   `json:"key"`
	Value   string   `json:"value"`
	NodePos Position `json:"pos,omitempty"`
}

// AppendEdgeNode appends a graph edge to the interpolated Target.
type AppendEdgeNode struct {
	EdgeType string     `json:"edge_type"`
	Target   string     `json:"target"`
	Data     *DataBlock `json:"data,omitempty"`
	NodePos  Position   `json:"pos,omitempty"`
}

// ReturnNode stops execution and returns the evaluated Value (or nil when
// Value is empty). No sibling node after it executes, at any nesting level.
type ReturnNode struct {
	Value   string   `json:"value,omitempty"`
	NodePos Position `json:"pos,omitempty"`
}

// ExprNode evaluates a bare expression; its value becomes the node's value,
// useful as the tail expression of a body.
type ExprNode struct {
	Source  string   `json:"source"`
	NodePos Position `json:"pos,omitempty"`
}

func (n *LetNode) Kind() NodeKind        { return KindLet }
func (n *IfNode) Kind() NodeKind         { return KindIf }
func (n *LoopNode) Kind() NodeKind       { return KindLoop }
func (n *CallNode) Kind() NodeKind       { return KindCall }
func (n *CreateNode) Kind() NodeKind     { return KindCreate }
func (n *RunChildNode) Kind() NodeKind   { return KindRunChild }
func (n *StatusNode) Kind() NodeKind     { return KindStatus }
func (n *WaitingNode) Kind() NodeKind    { return KindWaiting }
func (n *MemoryGetNode) Kind() NodeKind  { return KindMemoryGet }
func (n *MemorySetNode) Kind() NodeKind  { return KindMemorySet }
func (n *AppendEdgeNode) Kind() NodeKind { return KindAppendEdge }
func (n *ReturnNode) Kind() NodeKind     { return KindReturn }
func (n *ExprNode) Kind() NodeKind       { return KindExpr }

func (n *LetNode) Pos() Position        { return n.NodePos }
func (n *IfNode) Pos() Position         { return n.NodePos }
func (n *LoopNode) Pos() Position       { return n.NodePos }
func (n *CallNode) Pos() Position       { return n.NodePos }
func (n *CreateNode) Pos() Position     { return n.NodePos }
func (n *RunChildNode) Pos() Position   { return n.NodePos }
func (n *StatusNode) Pos() Position     { return n.NodePos }
func (n *WaitingNode) Pos() Position    { return n.NodePos }
func (n *MemoryGetNode) Pos() Position  { return n.NodePos }
func (n *MemorySetNode) Pos() Position  { return n.NodePos }
func (n *AppendEdgeNode) Pos() Position { return n.NodePos }
func (n *ReturnNode) Pos() Position     { return n.NodePos }
func (n *ExprNode) Pos() Position       { return n.NodePos }

// CreateIsIdempotent resolves the effective idempotency flag (default true).
func (n *CreateNode) CreateIsIdempotent() bool {
	return n.Idempotent == nil || *n.Idempotent
}
