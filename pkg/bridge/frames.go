package bridge

import (
	"encoding/json"
	"time"

	"github.com/vango-go/voicelive/pkg/core/levels"
	"github.com/vango-go/voicelive/pkg/core/types"
	"github.com/vango-go/voicelive/pkg/core/voice"
)

// Outbound frame types.
const (
	FrameState    = "state"
	FrameLevels   = "levels"
	FrameMessage  = "message"
	FrameError    = "error"
	FrameFallback = "fallback"
	FrameClosed   = "closed"
)

// Inbound command names.
const (
	CommandStart      = "start"
	CommandStop       = "stop"
	CommandDisconnect = "disconnect"
)

// stateFrame mirrors the orchestrator snapshot for UI consumption.
type stateFrame struct {
	Type       string `json:"type"`
	Voice      string `json:"voice"`
	Connection string `json:"connection"`
	Recording  bool   `json:"recording"`
	Error      string `json:"error,omitempty"`
}

type levelsFrame struct {
	Type string                  `json:"type"`
	Bins [levels.NumBins]float64 `json:"bins"`
}

type messageFrame struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

type signalFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

type command struct {
	Command string `json:"command"`
}

func encodeState(s voice.Snapshot) []byte {
	b, _ := json.Marshal(stateFrame{
		Type:       FrameState,
		Voice:      s.VoiceStatus.String(),
		Connection: s.ConnectionStatus.String(),
		Recording:  s.Recording,
		Error:      s.ConnectionError,
	})
	return b
}

func encodeLevels(bins [levels.NumBins]float64) []byte {
	b, _ := json.Marshal(levelsFrame{Type: FrameLevels, Bins: bins})
	return b
}

func encodeMessage(m types.Message) []byte {
	b, _ := json.Marshal(messageFrame{
		Type:      FrameMessage,
		ID:        m.ID,
		Role:      string(m.Role),
		Content:   m.Content,
		Kind:      string(m.Type),
		Timestamp: m.Timestamp,
	})
	return b
}

func encodeSignal(frameType, msg string) []byte {
	b, _ := json.Marshal(signalFrame{Type: frameType, Message: msg})
	return b
}
