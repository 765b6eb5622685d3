package interp

import (
	"context"

	"github.com/rendis/flowvm/pkg/schema"
)

// Stream is the pull protocol for sub-events from a nested computation:
// a finite sequence of progress envelopes followed by one terminal value.
// Next returns false when the sequence is exhausted; Result is only
// meaningful after that.
type Stream interface {
	Next() (schema.ProgressEnvelope, bool)
	Result() (any, error)
}

// Runnable marks a value as an executable child-workflow handle. Host
// CreateChild implementations return handles implementing this; a run node
// whose reference does not implement it fails with a type error.
type Runnable interface {
	RunnableRef() string
}

// CreateOptions configures child-instance creation. Idempotent creation
// returns the existing instance when the type/name pair was seen before.
type CreateOptions struct {
	Idempotent bool
	Data       map[string]any
}

// Host is the capability set the embedding application implements. The
// interpreter delegates every externally-visible asynchronous operation
// through it and holds no ambient global state: two concurrent executions
// with different hosts never interact.
type Host interface {
	// InvokeCallable resolves and invokes a named callable unit with an
	// argument record, returning its sub-event stream.
	InvokeCallable(ctx context.Context, name string, args map[string]any) (Stream, error)

	// CreateChild creates or retrieves a child workflow instance by type and
	// instance name.
	CreateChild(ctx context.Context, typeName, instanceName string, opts CreateOptions) (Runnable, error)

	// RunChild executes a previously created child instance.
	RunChild(ctx context.Context, handle Runnable) (Stream, error)

	// GetMemory reads a working-memory key. found is false when absent.
	GetMemory(ctx context.Context, key string) (value any, found bool, err error)

	// SetMemory persists a working-memory value.
	SetMemory(ctx context.Context, key string, value any) error

	// AppendEdge appends a graph edge to the target reference.
	AppendEdge(ctx context.Context, edgeType, target string, data map[string]any) error

	// StatusEnvelope and WaitingEnvelope build the progress envelopes the
	// interpreter yields, letting the host decorate them with its own
	// metadata.
	StatusEnvelope(message string) schema.ProgressEnvelope
	WaitingEnvelope(prompt string, timeoutMs int64) schema.ProgressEnvelope
}

// sliceStream is a Stream over a pre-built event slice.
type sliceStream struct {
	events []schema.ProgressEnvelope
	pos    int
	value  any
	err    error
}

// NewSliceStream builds a Stream from a fixed event slice and terminal
// value. Useful for hosts whose callables complete synchronously, and for
// test doubles.
func NewSliceStream(events []schema.ProgressEnvelope, value any, err error) Stream {
	return &sliceStream{events: events, value: value, err: err}
}

func (s *sliceStream) Next() (schema.ProgressEnvelope, bool) {
	if s.pos >= len(s.events) {
		return schema.ProgressEnvelope{}, false
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, true
}

func (s *sliceStream) Result() (any, error) {
	return s.value, s.err
}
