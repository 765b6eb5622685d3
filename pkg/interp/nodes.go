package interp

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/rendis/flowvm/internal/logging"
	"github.com/rendis/flowvm/internal/runtime"
	"github.com/rendis/flowvm/pkg/schema"
)

// outcome is the result of executing a node or node list. returned marks a
// surfacing return signal: every composite executor checks it and forwards
// immediately, never continuing past it.
type outcome struct {
	value    any
	returned bool
}

// execution is the per-run mutable state. Owned by exactly one Run.
type execution struct {
	ip     *Interpreter
	host   Host
	rc     *runtime.Context
	ctx    context.Context
	runID  string
	yield  func(schema.ProgressEnvelope) bool
	logger *slog.Logger
}

// runNodes executes a node list sequentially. A return signal from any node
// stops the list; the last executed node's value is the list's value.
func (ex *execution) runNodes(nodes []schema.Node) (outcome, error) {
	var last outcome
	for _, n := range nodes {
		out, err := ex.runNode(n)
		if err != nil {
			return outcome{}, err
		}
		if out.returned {
			return out, nil
		}
		last = out
	}
	return last, nil
}

// runNode dispatches one node to its executor.
func (ex *execution) runNode(n schema.Node) (outcome, error) {
	if err := ex.ctx.Err(); err != nil {
		return outcome{}, schema.NewError(schema.ErrCodeCancelled, "execution cancelled").WithCause(err)
	}

	ctx := logging.WithNode(ex.ctx, string(n.Kind()))
	ex.logger.DebugContext(ctx, "executing node")

	switch node := n.(type) {
	case *schema.LetNode:
		return ex.runLet(node)
	case *schema.IfNode:
		return ex.runIf(node)
	case *schema.LoopNode:
		return ex.runLoop(node)
	case *schema.CallNode:
		return ex.runCall(node)
	case *schema.CreateNode:
		return ex.runCreate(node)
	case *schema.RunChildNode:
		return ex.runChild(node)
	case *schema.StatusNode:
		return ex.runStatus(node)
	case *schema.WaitingNode:
		return ex.runWaiting(node)
	case *schema.MemoryGetNode:
		return ex.runMemoryGet(node)
	case *schema.MemorySetNode:
		return ex.runMemorySet(node)
	case *schema.AppendEdgeNode:
		return ex.runAppendEdge(node)
	case *schema.ReturnNode:
		return ex.runReturn(node)
	case *schema.ExprNode:
		return ex.runExpr(node)
	default:
		return outcome{}, schema.NewErrorf(schema.ErrCodeUnknownNode,
			"unrecognized node kind %q", n.Kind()).WithPos(n.Pos())
	}
}

// exprEnv flattens the visible scopes and applies the spread convenience:
// record-shaped input/args expose their own fields at the top level, with
// declared variables winning on collision. input and args are always
// present, nil when not supplied.
func (ex *execution) exprEnv() map[string]any {
	env := ex.rc.Flatten()
	if !ex.rc.Declared("input") {
		env["input"] = nil
	}
	if !ex.rc.Declared("args") {
		env["args"] = nil
	}
	spreadRecord(env, "input")
	spreadRecord(env, "args")
	return env
}

func spreadRecord(env map[string]any, key string) {
	m, ok := env[key].(map[string]any)
	if !ok {
		return
	}
	for k, v := range m {
		if _, exists := env[k]; !exists {
			env[k] = v
		}
	}
}

// runBody executes a node list inside its own scope.
func (ex *execution) runBody(label string, body []schema.Node) (outcome, error) {
	ex.rc.PushScope(label)
	out, err := ex.runNodes(body)
	if perr := ex.rc.PopScope(); perr != nil && err == nil {
		err = perr
	}
	return out, err
}

// --- Variable declaration ---

func (ex *execution) runLet(n *schema.LetNode) (outcome, error) {
	var value any
	if n.Child != nil {
		out, err := ex.runNode(n.Child)
		if err != nil {
			return outcome{}, err
		}
		// A return signal from the nested computation propagates without
		// declaring anything.
		if out.returned {
			return out, nil
		}
		value = out.value
	} else {
		v, err := ex.ip.sandbox.Evaluate(ex.ctx, n.Value, ex.exprEnv())
		if err != nil {
			return outcome{}, nodeErr(err, n)
		}
		value = v
	}

	if err := ex.rc.Declare(n.Name, value); err != nil {
		return outcome{}, nodeErr(err, n)
	}
	return outcome{value: value}, nil
}

// --- Branching ---

func (ex *execution) runIf(n *schema.IfNode) (outcome, error) {
	ok, err := ex.ip.sandbox.EvaluateBool(ex.ctx, n.Condition, ex.exprEnv())
	if err != nil {
		return outcome{}, nodeErr(err, n)
	}
	if ok {
		return ex.runBody("if", n.Then)
	}

	for _, branch := range n.ElseIf {
		ok, err := ex.ip.sandbox.EvaluateBool(ex.ctx, branch.Condition, ex.exprEnv())
		if err != nil {
			return outcome{}, nodeErr(err, n)
		}
		if ok {
			return ex.runBody("elseif", branch.Body)
		}
	}

	if n.Else != nil {
		return ex.runBody("else", n.Else)
	}
	return outcome{}, nil
}

// --- Iteration ---

func (ex *execution) runLoop(n *schema.LoopNode) (outcome, error) {
	itemsVal, err := ex.ip.sandbox.Evaluate(ex.ctx, n.Items, ex.exprEnv())
	if err != nil {
		return outcome{}, nodeErr(err, n)
	}

	items, ok := toSequence(itemsVal)
	if !ok {
		return outcome{}, schema.NewErrorf(schema.ErrCodeType,
			"loop items must be an ordered sequence, got %T", itemsVal).WithPos(n.Pos())
	}

	itemVar := n.ItemVar
	if itemVar == "" {
		itemVar = ex.ip.cfg.DefaultItemVar
	}

	var last outcome
	for i, item := range items {
		if err := ex.ctx.Err(); err != nil {
			return outcome{}, schema.NewError(schema.ErrCodeCancelled, "execution cancelled").WithCause(err)
		}

		ex.rc.PushScope("loop")
		derr := ex.rc.Declare(itemVar, item)
		if derr == nil && n.IndexVar != "" {
			derr = ex.rc.Declare(n.IndexVar, i)
		}
		if derr != nil {
			_ = ex.rc.PopScope()
			return outcome{}, nodeErr(derr, n)
		}

		out, err := ex.runNodes(n.Body)
		if perr := ex.rc.PopScope(); perr != nil && err == nil {
			err = perr
		}
		if err != nil {
			return outcome{}, err
		}
		// A return signal stops iterating immediately; remaining elements
		// never run.
		if out.returned {
			return out, nil
		}
		last = out
	}
	return last, nil
}

// toSequence accepts slices and arrays. Strings, maps, and scalars are not
// sequences here.
func toSequence(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

// --- Callable invocation ---

func (ex *execution) runCall(n *schema.CallNode) (outcome, error) {
	args := make(map[string]any, len(n.Args))
	for name, src := range n.Args {
		v, err := ex.ip.sandbox.Evaluate(ex.ctx, src, ex.exprEnv())
		if err != nil {
			return outcome{}, nodeErr(err, n)
		}
		args[name] = v
	}

	ctx := logging.WithCallable(ex.ctx, n.Callable)
	stream, err := ex.host.InvokeCallable(ctx, n.Callable, args)
	if err != nil {
		return outcome{}, hostErr(err, n)
	}

	// Forward every sub-event, re-wrapped with this frame's identity.
	for {
		ev, ok := stream.Next()
		if !ok {
			break
		}
		ev.Origin = n.Callable
		ev.RunID = ex.runID
		if !ex.yield(ev) {
			return outcome{}, consumerStopped()
		}
	}

	value, err := stream.Result()
	if err != nil {
		return outcome{}, hostErr(err, n)
	}

	if n.Result != "" {
		if err := ex.rc.Declare(n.Result, value); err != nil {
			return outcome{}, nodeErr(err, n)
		}
	}
	return outcome{value: value}, nil
}

// --- Child workflows ---

func (ex *execution) runCreate(n *schema.CreateNode) (outcome, error) {
	typeName, err := ex.evalString(n.Type, "child type", n)
	if err != nil {
		return outcome{}, err
	}
	instanceName, err := ex.evalString(n.Name, "child instance name", n)
	if err != nil {
		return outcome{}, err
	}

	// A single-expression data block must produce a record here; this is the
	// strict side of the data-block asymmetry (edge appends are lenient).
	data, err := ex.resolveData(n.Data, true, n)
	if err != nil {
		return outcome{}, err
	}

	handle, err := ex.host.CreateChild(ex.ctx, typeName, instanceName, CreateOptions{
		Idempotent: n.CreateIsIdempotent(),
		Data:       data,
	})
	if err != nil {
		return outcome{}, hostErr(err, n)
	}

	if n.Result != "" {
		if err := ex.rc.Declare(n.Result, handle); err != nil {
			return outcome{}, nodeErr(err, n)
		}
	}
	return outcome{value: handle}, nil
}

func (ex *execution) runChild(n *schema.RunChildNode) (outcome, error) {
	ref, err := ex.ip.sandbox.Evaluate(ex.ctx, n.Ref, ex.exprEnv())
	if err != nil {
		return outcome{}, nodeErr(err, n)
	}

	handle, ok := ref.(Runnable)
	if !ok {
		return outcome{}, schema.NewErrorf(schema.ErrCodeType,
			"reference does not resolve to a runnable child handle (got %T)", ref).WithPos(n.Pos())
	}

	stream, err := ex.host.RunChild(ex.ctx, handle)
	if err != nil {
		return outcome{}, hostErr(err, n)
	}

	// Child events pass through with no additional wrapping.
	for {
		ev, ok := stream.Next()
		if !ok {
			break
		}
		if !ex.yield(ev) {
			return outcome{}, consumerStopped()
		}
	}

	value, err := stream.Result()
	if err != nil {
		return outcome{}, hostErr(err, n)
	}

	if n.Result != "" {
		if err := ex.rc.Declare(n.Result, value); err != nil {
			return outcome{}, nodeErr(err, n)
		}
	}
	return outcome{value: value}, nil
}

// --- Progress emission ---

func (ex *execution) runStatus(n *schema.StatusNode) (outcome, error) {
	msg, err := ex.ip.sandbox.Interpolate(ex.ctx, n.Message, ex.exprEnv())
	if err != nil {
		return outcome{}, nodeErr(err, n)
	}

	ev := ex.host.StatusEnvelope(msg)
	ev.RunID = ex.runID
	if !ex.yield(ev) {
		return outcome{}, consumerStopped()
	}
	return outcome{}, nil
}

func (ex *execution) runWaiting(n *schema.WaitingNode) (outcome, error) {
	prompt, err := ex.ip.sandbox.Interpolate(ex.ctx, n.Prompt, ex.exprEnv())
	if err != nil {
		return outcome{}, nodeErr(err, n)
	}

	ev := ex.host.WaitingEnvelope(prompt, n.TimeoutMs)
	ev.RunID = ex.runID
	if !ex.yield(ev) {
		return outcome{}, consumerStopped()
	}
	return outcome{}, nil
}

// --- Working memory ---

func (ex *execution) runMemoryGet(n *schema.MemoryGetNode) (outcome, error) {
	key, err := ex.ip.sandbox.Interpolate(ex.ctx, n.Key, ex.exprEnv())
	if err != nil {
		return outcome{}, nodeErr(err, n)
	}

	value, found, err := ex.host.GetMemory(ex.ctx, key)
	if err != nil {
		return outcome{}, hostErr(err, n)
	}
	if !found {
		value = nil
	}

	if n.Result != "" {
		if err := ex.rc.Declare(n.Result, value); err != nil {
			return outcome{}, nodeErr(err, n)
		}
	}
	return outcome{value: value}, nil
}

func (ex *execution) runMemorySet(n *schema.MemorySetNode) (outcome, error) {
	key, err := ex.ip.sandbox.Interpolate(ex.ctx, n.Key, ex.exprEnv())
	if err != nil {
		return outcome{}, nodeErr(err, n)
	}

	value, err := ex.ip.sandbox.Evaluate(ex.ctx, n.Value, ex.exprEnv())
	if err != nil {
		return outcome{}, nodeErr(err, n)
	}

	if err := ex.host.SetMemory(ex.ctx, key, value); err != nil {
		return outcome{}, hostErr(err, n)
	}
	return outcome{}, nil
}

// --- Graph edges ---

func (ex *execution) runAppendEdge(n *schema.AppendEdgeNode) (outcome, error) {
	target, err := ex.ip.sandbox.Interpolate(ex.ctx, n.Target, ex.exprEnv())
	if err != nil {
		return outcome{}, nodeErr(err, n)
	}

	// Lenient side of the data-block asymmetry: a non-record single
	// expression becomes empty data instead of erroring.
	data, err := ex.resolveData(n.Data, false, n)
	if err != nil {
		return outcome{}, err
	}

	if err := ex.host.AppendEdge(ex.ctx, n.EdgeType, target, data); err != nil {
		return outcome{}, hostErr(err, n)
	}
	return outcome{}, nil
}

// --- Early return ---

func (ex *execution) runReturn(n *schema.ReturnNode) (outcome, error) {
	var value any
	if n.Value != "" {
		v, err := ex.ip.sandbox.Evaluate(ex.ctx, n.Value, ex.exprEnv())
		if err != nil {
			return outcome{}, nodeErr(err, n)
		}
		value = v
	}
	return outcome{value: value, returned: true}, nil
}

// --- Bare expression ---

func (ex *execution) runExpr(n *schema.ExprNode) (outcome, error) {
	v, err := ex.ip.sandbox.Evaluate(ex.ctx, n.Source, ex.exprEnv())
	if err != nil {
		return outcome{}, nodeErr(err, n)
	}
	return outcome{value: v}, nil
}

// --- Shared helpers ---

// evalString evaluates an expression that must produce a string.
func (ex *execution) evalString(src, what string, n schema.Node) (string, error) {
	v, err := ex.ip.sandbox.Evaluate(ex.ctx, src, ex.exprEnv())
	if err != nil {
		return "", nodeErr(err, n)
	}
	s, ok := v.(string)
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeType,
			"%s must be a string, got %T", what, v).WithPos(n.Pos())
	}
	return s, nil
}

// resolveData evaluates a data block into a record. strict controls the
// non-record single-expression behavior: type error versus empty data.
func (ex *execution) resolveData(db *schema.DataBlock, strict bool, n schema.Node) (map[string]any, error) {
	if db == nil {
		return nil, nil
	}

	if db.Expr != "" {
		v, err := ex.ip.sandbox.Evaluate(ex.ctx, db.Expr, ex.exprEnv())
		if err != nil {
			return nil, nodeErr(err, n)
		}
		record, ok := v.(map[string]any)
		if !ok {
			if strict {
				return nil, schema.NewErrorf(schema.ErrCodeType,
					"data expression must evaluate to a record, got %T", v).WithPos(n.Pos())
			}
			return map[string]any{}, nil
		}
		return record, nil
	}

	if len(db.Fields) > 0 {
		record := make(map[string]any, len(db.Fields))
		for field, src := range db.Fields {
			v, err := ex.ip.sandbox.Evaluate(ex.ctx, src, ex.exprEnv())
			if err != nil {
				return nil, nodeErr(err, n)
			}
			record[field] = v
		}
		return record, nil
	}

	return nil, nil
}

// nodeErr attaches the node position to an evaluator or scope error.
func nodeErr(err error, n schema.Node) error {
	if fe, ok := err.(*schema.FlowError); ok {
		return fe.WithPos(n.Pos())
	}
	return schema.NewError(schema.ErrCodeExprRuntime, err.Error()).WithCause(err).WithPos(n.Pos())
}

// hostErr wraps a host-boundary failure, passing the cause through unchanged.
func hostErr(err error, n schema.Node) error {
	if fe, ok := err.(*schema.FlowError); ok {
		return fe.WithPos(n.Pos())
	}
	return schema.NewError(schema.ErrCodeHost, err.Error()).WithCause(err).WithPos(n.Pos())
}

// consumerStopped is the terminal error for a consumer that stopped pulling.
func consumerStopped() error {
	return schema.NewError(schema.ErrCodeCancelled, "consumer stopped iterating")
}
