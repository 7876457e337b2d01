package voice

// VoiceStatus drives the UI's voice affordances. It is mutated only by the
// orchestrator and by inbound agent-state signaling.
type VoiceStatus int

const (
	// VoiceIdle is the resting state; also the terminal state of a torn-down
	// session.
	VoiceIdle VoiceStatus = iota
	// VoiceListening is active while the microphone is held open.
	VoiceListening
	// VoiceProcessing is the window between releasing the mic and the agent
	// responding.
	VoiceProcessing
	// VoiceSpeaking is active while agent audio is playing.
	VoiceSpeaking
)

// String returns a human-readable status name.
func (s VoiceStatus) String() string {
	switch s {
	case VoiceIdle:
		return "idle"
	case VoiceListening:
		return "listening"
	case VoiceProcessing:
		return "processing"
	case VoiceSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// ConnectionStatus reflects the remote session client's connection state
// only; it is independent of VoiceStatus.
type ConnectionStatus int

const (
	ConnDisconnected ConnectionStatus = iota
	ConnConnecting
	ConnConnected
	ConnError
)

// String returns a human-readable status name.
func (s ConnectionStatus) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnError:
		return "error"
	default:
		return "unknown"
	}
}
