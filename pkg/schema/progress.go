package schema

// ProgressKind discriminates the observable event kinds a run can yield.
type ProgressKind string

const (
	// ProgressStatus is a plain status update.
	ProgressStatus ProgressKind = "status"
	// ProgressWaiting is a request for external input, optionally time-bounded.
	ProgressWaiting ProgressKind = "waiting"
)

// ProgressEnvelope is an immutable, ephemeral record describing one observable
// event during execution. Envelopes forwarded from a nested callable keep
// their payload unchanged and carry the forwarding frame's identity in Origin;
// envelopes emitted by the current frame have an empty Origin.
type ProgressEnvelope struct {
	Kind      ProgressKind   `json:"kind"`
	Message   string         `json:"message"`
	TimeoutMs int64          `json:"timeout_ms,omitempty"`
	Origin    string         `json:"origin,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// NewStatus builds a status envelope.
func NewStatus(message string) ProgressEnvelope {
	return ProgressEnvelope{Kind: ProgressStatus, Message: message}
}

// NewWaiting builds a waiting envelope. timeoutMs of zero means no timeout.
func NewWaiting(prompt string, timeoutMs int64) ProgressEnvelope {
	return ProgressEnvelope{Kind: ProgressWaiting, Message: prompt, TimeoutMs: timeoutMs}
}
