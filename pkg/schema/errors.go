package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeSyntax               = "SYNTAX_ERROR"
	ErrCodeForbiddenPattern     = "FORBIDDEN_PATTERN"
	ErrCodeExprRuntime          = "EXPR_RUNTIME"
	ErrCodeExprTimeout          = "EXPR_TIMEOUT"
	ErrCodeType                 = "TYPE_ERROR"
	ErrCodeDuplicateDeclaration = "DUPLICATE_DECLARATION"
	ErrCodeVariableNotDeclared  = "VARIABLE_NOT_DECLARED"
	ErrCodeUnknownNode          = "UNKNOWN_NODE"
	ErrCodeHost                 = "HOST_ERROR"
	ErrCodeCancelled            = "CANCELLED"
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeStore                = "STORE_ERROR"
)

// FlowError is the structured error type for all flowvm operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Pos     *Position      `json:"pos,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.Pos != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Pos, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithPos attaches the originating node's source position.
// The first position wins; zero positions are ignored so callers can pass
// node positions blindly.
func (e *FlowError) WithPos(pos Position) *FlowError {
	if e.Pos == nil && !pos.IsZero() {
		p := pos
		e.Pos = &p
	}
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// CodeOf returns the FlowError code of err, unwrapping as needed,
// or "" if no FlowError is in the chain.
func CodeOf(err error) string {
	for err != nil {
		if fe, ok := err.(*FlowError); ok {
			return fe.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
