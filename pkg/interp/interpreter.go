// Package interp executes parsed workflow programs against a host boundary,
// yielding progress envelopes as a consumer-driven pull iterator that
// resolves to a final result value.
package interp

import (
	"context"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowvm/internal/expressions"
	"github.com/rendis/flowvm/internal/logging"
	"github.com/rendis/flowvm/internal/runtime"
	"github.com/rendis/flowvm/pkg/schema"
)

// DefaultItemVar is the loop element binding used when a loop names none.
const DefaultItemVar = "item"

// Condition engine identifiers for Config.ConditionEngine.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
)

// Config holds interpreter configuration.
type Config struct {
	ExprTimeout     time.Duration // per-expression evaluation bound (default 1s)
	MaxExprLength   int           // max expression source length (default 10000)
	DefaultItemVar  string        // loop element name fallback (default "item")
	ConditionEngine string        // "expr" (default) or "cel"
	Logger          *slog.Logger  // nil = slog.Default()
}

// Interpreter executes programs. Safe for concurrent use: every Execute call
// owns its own runtime context, and the shared sandbox holds only compiled
// program caches.
type Interpreter struct {
	cfg     Config
	sandbox *expressions.Sandbox
	logger  *slog.Logger
}

// New creates an Interpreter.
func New(cfg Config) *Interpreter {
	if cfg.DefaultItemVar == "" {
		cfg.DefaultItemVar = DefaultItemVar
	}

	sandbox := expressions.NewSandbox(expressions.Config{
		Timeout:   cfg.ExprTimeout,
		MaxLength: cfg.MaxExprLength,
	})
	if cfg.ConditionEngine == EngineCEL {
		sandbox.UseConditionEngine(expressions.NewCELEngine())
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Interpreter{cfg: cfg, sandbox: sandbox, logger: logger}
}

// Execute prepares a run of the program against the host. Nothing executes
// until the returned Run's Events iterator is consumed: execution is driven
// entirely by the consumer pulling envelopes, so abandoning the iteration
// stops the run with no further host side effects.
//
// input and args, when non-nil, are declared in the run's global scope and
// exposed to every expression.
func (ip *Interpreter) Execute(ctx context.Context, program *schema.Program, host Host, input, args any) *Run {
	return &Run{
		id:      uuid.New().String(),
		ip:      ip,
		ctx:     ctx,
		program: program,
		host:    host,
		input:   input,
		args:    args,
	}
}

// Run is a single prepared (and then consumed) execution. A Run is one-shot:
// Events may be iterated once; re-iterating yields nothing.
type Run struct {
	id      string
	ip      *Interpreter
	ctx     context.Context
	program *schema.Program
	host    Host
	input   any
	args    any

	started  atomic.Bool
	finished atomic.Bool
	result   any
	err      error
}

// ID returns the run's unique identifier.
func (r *Run) ID() string {
	return r.id
}

// Events returns the run's progress envelope sequence. Iterating it drives
// execution; breaking out of the iteration cancels the run before any
// further host side effect. The sequence is finite and not restartable.
func (r *Run) Events() iter.Seq[schema.ProgressEnvelope] {
	return func(yield func(schema.ProgressEnvelope) bool) {
		if !r.started.CompareAndSwap(false, true) {
			return
		}
		r.execute(yield)
	}
}

// Result returns the final value or terminal error. Valid once the Events
// iteration has ended.
func (r *Run) Result() (any, error) {
	if !r.finished.Load() {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"run has not finished: consume Events first")
	}
	return r.result, r.err
}

// Drain consumes the event sequence, discarding envelopes, and returns the
// result.
func (r *Run) Drain() (any, error) {
	for range r.Events() {
	}
	return r.Result()
}

func (r *Run) execute(yield func(schema.ProgressEnvelope) bool) {
	defer r.finished.Store(true)

	ctx := logging.WithRunID(r.ctx, r.id)
	logger := r.ip.logger

	name := r.program.Name
	logger.InfoContext(ctx, "run started", slog.String("program", name))

	rc := runtime.NewContext()
	if r.input != nil {
		if err := rc.Declare("input", r.input); err != nil {
			r.err = err
			return
		}
	}
	if r.args != nil {
		if err := rc.Declare("args", r.args); err != nil {
			r.err = err
			return
		}
	}

	ex := &execution{
		ip:     r.ip,
		host:   r.host,
		rc:     rc,
		ctx:    ctx,
		runID:  r.id,
		yield:  yield,
		logger: logger,
	}

	out, err := ex.runNodes(r.program.Body)
	if err != nil {
		r.err = err
		logger.ErrorContext(ctx, "run failed",
			slog.String("program", name),
			slog.String("error", err.Error()))
		return
	}

	// A surfacing ReturnSignal and a trailing value unwrap the same way.
	r.result = out.value
	logger.InfoContext(ctx, "run completed", slog.String("program", name))
}
