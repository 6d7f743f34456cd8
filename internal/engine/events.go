// Package engine is the client side of the assistant engine: REST calls to
// create threads and inject messages, plus a per-thread SSE event stream.
package engine

// EventKind discriminates the closed set of engine event types. Forwarding
// code switches on it exhaustively; adding a kind is a compile-visible
// decision point.
type EventKind string

const (
	// KindThinking signals the assistant started composing a reply.
	KindThinking EventKind = "thinking"
	// KindMessage carries a finished message from some role.
	KindMessage EventKind = "message"
	// KindError carries an engine-side failure notice.
	KindError EventKind = "error"
)

// RoleAssistant is the only message role forwarded back to the platform.
const RoleAssistant = "assistant"

// Event is one engine-emitted event for a thread.
type Event struct {
	Kind EventKind `json:"kind"`
	Role string    `json:"role,omitempty"`
	Text string    `json:"text,omitempty"`

	// Replayed marks historical events re-delivered on (re)attachment.
	// Replayed events must never trigger platform calls.
	Replayed bool `json:"replayed,omitempty"`

	Timestamp string `json:"timestamp,omitempty"`
}
