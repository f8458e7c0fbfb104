// Package events carries notifications from the terminal registry and the
// session manager to whatever presentation layer is listening.
package events

import "time"

// Notification channel names.
const (
	TerminalCreated      = "terminal:created"
	TerminalData         = "terminal:send:data"
	TerminalError        = "terminal:error"
	TerminalDestroyed    = "terminal:destroyed"
	TerminalStreamClosed = "terminal:stream:closed"
	SessionStatus        = "session:status"
)

// Emitter delivers a named notification to all observers. Implementations
// must not block the caller.
type Emitter interface {
	Emit(event string, payload any)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(event string, payload any)

func (f EmitterFunc) Emit(event string, payload any) { f(event, payload) }

// Discard drops every notification.
var Discard Emitter = EmitterFunc(func(string, any) {})

// Event is the envelope written to subscribers.
type Event struct {
	Name      string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type TerminalCreatedPayload struct {
	TerminalID string `json:"terminalId"`
	SessionID  string `json:"sessionId"`
}

type TerminalDataPayload struct {
	TerminalID string `json:"terminalId"`
	Data       string `json:"data"`
}

type TerminalErrorPayload struct {
	TerminalID string `json:"terminalId"`
	Error      string `json:"error"`
}

// TerminalPayload is used by terminal:destroyed and terminal:stream:closed.
type TerminalPayload struct {
	TerminalID string `json:"terminalId"`
}

type SessionStatusPayload struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}
