package events

import "time"

// Type represents an emitted event type.
type Type string

const (
	InvocationStarted  Type = "InvocationStarted"
	InvocationFinished Type = "InvocationFinished"
	InvocationFailed   Type = "InvocationFailed"
)

// Event is the common envelope for renderer events.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// InvocationStartedPayload marks the start of a tool invocation. Input is
// the redacted JSON form of the arguments.
type InvocationStartedPayload struct {
	InvocationID string    `json:"invocation_id"`
	ToolName     string    `json:"tool_name"`
	Input        string    `json:"input"`
	StartedAt    time.Time `json:"started_at"`
}

// InvocationFinishedPayload closes an invocation. It is used for both
// InvocationFinished and InvocationFailed.
type InvocationFinishedPayload struct {
	InvocationID string `json:"invocation_id"`
	ToolName     string `json:"tool_name"`
	// Status is "success", "failure" (the tool ran and reported failure,
	// e.g. a nonzero exit) or "error".
	Status     string `json:"status"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Message    string `json:"message,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	Preview    string `json:"preview"`
	LineCount  int    `json:"line_count"`
	ByteCount  int    `json:"byte_count"`
	Truncated  bool   `json:"truncated"`
	DurationMs int64  `json:"duration_ms"`
}
