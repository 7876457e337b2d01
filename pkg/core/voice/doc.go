// Package voice implements the session orchestrator for live voice
// conversations with a remote agent.
//
// A session starts from a user gesture (press-and-hold or tap-to-toggle),
// runs over a realtime connection when one can be established, and
// degrades to a local-only demo session when it cannot. The orchestrator
// is the single owner of session state: collaborators report events and
// the orchestrator decides what they mean.
//
// # Architecture
//
// The package coordinates several components:
//
//   - Orchestrator: The state machine driving the session lifecycle
//   - TimerSlot: Single-slot delayed transitions (idle timeout, demo delay)
//   - analysisSource: Tees microphone PCM to the published track and the analyser
//   - remote.SessionClient: The realtime connection (connect, publish, events)
//   - levels.Monitor: Periodic frequency-bin computation for visualization
//   - signal.Interpreter: Data-channel payloads → transcript and agent state
//
// # Data Flow
//
//	Mic PCM ──→ analysisSource ──→ published track ──→ remote agent
//	                  │
//	                  └──→ levels.Monitor ──→ AudioLevels histogram
//
//	Agent audio ──→ playback.Tap ──→ speaker
//	                     │
//	                     └──→ levels.Monitor (histogram follows the agent)
//
//	Data channel ──→ signal.Interpreter ──→ conversation + VoiceStatus
//
// # State Machine
//
//	idle → listening → processing → idle
//	          ↑            │
//	          │            ↓ (agent responds)
//	          └──────── speaking
//
// StartListening always succeeds from the caller's point of view: a failed
// connection records a ConnectionError, emits FallbackEngaged, and the
// session continues locally with live level visualization. Disconnect is
// terminal for the session and wins every race, including against a
// connect attempt still in flight.
package voice
