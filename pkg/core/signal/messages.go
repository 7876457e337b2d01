// Package signal decodes inbound data-channel payloads from the remote
// agent into typed events and applies them to conversation state.
package signal

// Wire message types exchanged on the data channel.
const (
	TypeUserTranscript      = "user_transcript"
	TypeAssistantTranscript = "assistant_transcript"
	TypeAgentState          = "agent_state"
)

// AgentState is the remote agent's lifecycle state as reported over the
// data channel.
type AgentState string

const (
	AgentThinking AgentState = "thinking"
	AgentSpeaking AgentState = "speaking"
	AgentIdle     AgentState = "idle"
)

// envelope covers every inbound payload shape. Fields irrelevant to a
// given type are left zero by the decoder.
type envelope struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
	State   string `json:"state"`
}
