package types

import (
	"time"
)

// Role identifies who produced a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageType identifies how a message entered the conversation.
type MessageType string

const (
	// MessageTypeVoice marks messages transcribed from spoken audio.
	MessageTypeVoice MessageType = "voice"
	// MessageTypeText marks messages typed by the user or agent.
	MessageTypeText MessageType = "text"
)

// Message is a single immutable conversation entry. Messages are created
// once, from a final transcript, and never mutated afterwards; ownership
// transfers to the conversation store on append.
type Message struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// ConversationAppender receives ownership of newly created messages.
// The external conversation state (UI store, persistence layer) sits behind
// this interface so the voice pipeline can be tested with fakes.
type ConversationAppender interface {
	Append(msg Message)
}
