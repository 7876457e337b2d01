package voice

// Event is the interface for all orchestrator events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StatusChangedEvent is emitted when the voice status changes.
type StatusChangedEvent struct {
	From VoiceStatus `json:"from"`
	To   VoiceStatus `json:"to"`
}

func (e *StatusChangedEvent) EventType() string { return "voice.status" }

// ConnectionChangedEvent is emitted when the connection status changes.
type ConnectionChangedEvent struct {
	From ConnectionStatus `json:"from"`
	To   ConnectionStatus `json:"to"`
}

func (e *ConnectionChangedEvent) EventType() string { return "connection.status" }

// RecordingChangedEvent is emitted when the recording flag flips.
type RecordingChangedEvent struct {
	Recording bool `json:"recording"`
}

func (e *RecordingChangedEvent) EventType() string { return "recording" }

// ConnectionErrorEvent is emitted when a connect attempt fails. The session
// continues in fallback mode; this event is informational, not fatal.
type ConnectionErrorEvent struct {
	Message string `json:"message"`
}

func (e *ConnectionErrorEvent) EventType() string { return "connection.error" }

// FallbackEngagedEvent is emitted when the session enters local-only
// capture mode.
type FallbackEngagedEvent struct{}

func (e *FallbackEngagedEvent) EventType() string { return "fallback.engaged" }

// SessionClosedEvent is emitted when the session is fully torn down.
type SessionClosedEvent struct{}

func (e *SessionClosedEvent) EventType() string { return "session.closed" }
