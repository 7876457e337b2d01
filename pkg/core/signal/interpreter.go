package signal

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vango-go/voicelive/pkg/core/types"
)

// Interpreter translates inbound signaling payloads into conversation
// messages and agent-state callbacks. Unparseable or unknown payloads are
// dropped; nothing is ever raised to the caller.
type Interpreter struct {
	appender     types.ConversationAppender
	onAgentState func(AgentState)
	log          zerolog.Logger

	// Injected for tests.
	newID func() string
	now   func() time.Time
}

// NewInterpreter creates an interpreter. appender and onAgentState may be
// nil, in which case the corresponding events are discarded.
func NewInterpreter(appender types.ConversationAppender, onAgentState func(AgentState), log zerolog.Logger) *Interpreter {
	return &Interpreter{
		appender:     appender,
		onAgentState: onAgentState,
		log:          log,
		newID:        uuid.NewString,
		now:          time.Now,
	}
}

// Handle decodes one payload and applies it. Partial transcripts are
// ignored at this layer; final transcripts become immutable Messages whose
// ownership transfers to the appender immediately.
func (i *Interpreter) Handle(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		i.log.Debug().Err(err).Msg("dropping malformed signaling payload")
		return
	}

	switch env.Type {
	case TypeUserTranscript:
		i.handleTranscript(types.RoleUser, env)
	case TypeAssistantTranscript:
		i.handleTranscript(types.RoleAssistant, env)
	case TypeAgentState:
		i.handleAgentState(env.State)
	default:
		i.log.Debug().Str("type", env.Type).Msg("ignoring unknown signaling type")
	}
}

func (i *Interpreter) handleTranscript(role types.Role, env envelope) {
	if !env.IsFinal || env.Text == "" {
		return
	}
	if i.appender == nil {
		return
	}

	i.appender.Append(types.Message{
		ID:        i.newID(),
		Role:      role,
		Content:   env.Text,
		Type:      types.MessageTypeVoice,
		Timestamp: i.now(),
	})
}

func (i *Interpreter) handleAgentState(state string) {
	switch AgentState(state) {
	case AgentThinking, AgentSpeaking, AgentIdle:
	default:
		i.log.Debug().Str("state", state).Msg("ignoring unknown agent state")
		return
	}

	if i.onAgentState != nil {
		i.onAgentState(AgentState(state))
	}
}
