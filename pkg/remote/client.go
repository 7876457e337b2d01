// Package remote owns the realtime connection to the conversational agent.
//
// The SessionClient interface is the narrow capability surface the
// orchestrator programs against; the LiveKit implementation lives in
// livekit.go and can be substituted with a test double that emits
// connection, track, and data events deterministically.
package remote

import (
	"context"

	"github.com/vango-go/voicelive/pkg/core/capture"
)

// ConnState is the transport-level connection state. Reconnection attempts
// by the underlying transport are observed, not driven, by callers.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns a human-readable state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Handlers are the event callbacks a session client emits. Unset fields
// are ignored. Callbacks may fire from transport goroutines; receivers are
// responsible for their own synchronization.
type Handlers struct {
	// OnConnectionState fires on every transport state transition.
	OnConnectionState func(state ConnState)

	// OnRemoteAudioStarted fires when an agent audio track is subscribed.
	OnRemoteAudioStarted func(sampleRate int)

	// OnRemoteAudioFrame delivers decoded 16-bit LE mono PCM from the
	// subscribed agent track.
	OnRemoteAudioFrame func(pcm []byte)

	// OnRemoteAudioEnded fires when the agent audio track is unsubscribed.
	OnRemoteAudioEnded func()

	// OnData delivers inbound data-channel payloads.
	OnData func(payload []byte)
}

// SessionClient is the realtime connection capability surface:
// connect/disconnect, local-track publish/mute, and event delivery.
type SessionClient interface {
	// Connect establishes the realtime connection using a freshly issued
	// token. A stale or rejected token surfaces as a connect failure.
	Connect(ctx context.Context) error

	// Disconnect closes the connection. Safe to call when not connected.
	Disconnect()

	// Connected reports whether a live connection exists.
	Connected() bool

	// PublishMicrophone publishes the capture source as the local mic
	// track. Publishing again after a mute unmutes the existing track.
	PublishMicrophone(ctx context.Context, src capture.Source) error

	// SetMicrophoneMuted mutes or unmutes the published mic track.
	SetMicrophoneMuted(muted bool) error

	// SetHandlers installs the event callbacks. Must be called before
	// Connect.
	SetHandlers(h Handlers)
}
