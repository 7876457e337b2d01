package voice

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/vango-go/voicelive/pkg/core/capture"
	"github.com/vango-go/voicelive/pkg/core/levels"
	"github.com/vango-go/voicelive/pkg/core/playback"
	"github.com/vango-go/voicelive/pkg/core/signal"
	"github.com/vango-go/voicelive/pkg/core/types"
	"github.com/vango-go/voicelive/pkg/remote"
)

// Deps are the orchestrator's collaborators. Remote may be nil, in which
// case every session runs in local demo mode. Capture and Playback may be
// nil when the host has no audio devices; the orchestrator degrades to
// flat levels instead of failing.
type Deps struct {
	Remote       remote.SessionClient
	Capture      capture.Factory
	Playback     playback.Factory
	Monitor      *levels.Monitor
	Conversation types.ConversationAppender
	Logger       zerolog.Logger
}

// Snapshot is a point-in-time copy of the orchestrator's observable state.
type Snapshot struct {
	VoiceStatus      VoiceStatus
	ConnectionStatus ConnectionStatus
	Recording        bool
	ConnectionError  string
	AudioLevels      [levels.NumBins]float64
}

// Orchestrator drives a voice session end to end: it owns the connection
// to the remote agent, the microphone capture, remote audio playback, and
// the level analysis graph, and exposes a single consistent status view.
//
// All public methods are safe for concurrent use. StartListening never
// returns an error: connection failures degrade the session to local demo
// mode and are surfaced through ConnectionError and emitted events.
type Orchestrator struct {
	cfg Config

	remote      remote.SessionClient
	captureNew  capture.Factory
	playbackNew playback.Factory
	monitor     *levels.Monitor
	interp      *signal.Interpreter
	log         zerolog.Logger

	// live marks a session between StartListening and Disconnect. Remote
	// callbacks run on transport goroutines and can arrive after teardown;
	// any that begin outside the live window are ignored outright, while
	// the generation counter makes work started inside it inert.
	live atomic.Bool

	mu         sync.Mutex
	gen        uint64
	connecting bool
	opening    bool
	voice      VoiceStatus
	conn       ConnectionStatus
	recording  bool
	connErr    string
	capSrc     *analysisSource
	sink       playback.Sink

	idleTimer TimerSlot
	demoTimer TimerSlot

	events chan Event
}

// New creates an orchestrator. The zero Config is usable; missing timing
// fields are filled from DefaultConfig.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()

	monitor := deps.Monitor
	if monitor == nil {
		monitor = levels.NewMonitor()
	}

	o := &Orchestrator{
		cfg:         cfg,
		remote:      deps.Remote,
		captureNew:  deps.Capture,
		playbackNew: deps.Playback,
		monitor:     monitor,
		log:         deps.Logger,
		voice:       VoiceIdle,
		conn:        ConnDisconnected,
		events:      make(chan Event, 64),
	}

	o.interp = signal.NewInterpreter(deps.Conversation, o.applyAgentState, deps.Logger)

	if o.remote != nil {
		o.remote.SetHandlers(remote.Handlers{
			OnConnectionState:    o.onConnState,
			OnRemoteAudioStarted: o.onRemoteAudioStarted,
			OnRemoteAudioFrame:   o.onRemoteAudioFrame,
			OnRemoteAudioEnded:   o.onRemoteAudioEnded,
			OnData:               o.handleData,
		})
	}

	return o
}

// Events returns the orchestrator's event stream. Events are dropped when
// the consumer falls behind; Snapshot always reflects current state.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Snapshot returns a copy of the current observable state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	s := Snapshot{
		VoiceStatus:      o.voice,
		ConnectionStatus: o.conn,
		Recording:        o.recording,
		ConnectionError:  o.connErr,
	}
	o.mu.Unlock()
	s.AudioLevels = o.monitor.Levels()
	return s
}

// StartListening begins (or resumes) capturing the user's voice. It sets
// recording immediately, starts level monitoring, and connects to the
// remote agent if not already connected. Connection failures engage local
// demo mode instead of propagating.
func (o *Orchestrator) StartListening(ctx context.Context) {
	o.mu.Lock()
	o.live.Store(true)
	gen := o.gen
	o.setRecordingLocked(true)
	o.setVoiceLocked(VoiceListening)
	alreadyConnected := false
	launchConnect := false
	if o.remote != nil {
		if o.remote.Connected() {
			alreadyConnected = true
		} else if !o.connecting {
			o.connecting = true
			launchConnect = true
		}
	}
	o.mu.Unlock()

	o.idleTimer.Cancel()
	o.demoTimer.Cancel()
	o.monitor.Start()

	switch {
	case alreadyConnected:
		o.attachMicRemote(ctx, gen)
	case launchConnect:
		go o.runConnect(ctx, gen)
	case o.remote == nil:
		o.enterFallback(gen)
	}
}

// StopListening ends the capture phase and moves to processing. With a
// live connection the microphone stays open but muted and the idle timeout
// is armed; in demo mode the capture is torn down and the demo delay is
// armed. The matching timer returns the session to idle.
func (o *Orchestrator) StopListening() {
	o.mu.Lock()
	gen := o.gen
	o.setRecordingLocked(false)
	o.setVoiceLocked(VoiceProcessing)
	remoteLive := o.remote != nil && o.remote.Connected()
	var closeSrc *analysisSource
	if !remoteLive {
		closeSrc = o.capSrc
		o.capSrc = nil
	}
	o.mu.Unlock()

	o.monitor.Stop()
	o.monitor.Detach()

	if remoteLive {
		if err := o.remote.SetMicrophoneMuted(true); err != nil {
			o.log.Debug().Err(err).Msg("mute microphone")
		}
		o.monitor.SetIdlePlaceholder()
		o.idleTimer.Arm(o.cfg.IdleTimeout, func() { o.timeoutToIdle(gen) })
	} else {
		if closeSrc != nil {
			if err := closeSrc.Close(); err != nil {
				o.log.Debug().Err(err).Msg("close capture")
			}
		}
		o.monitor.Reset()
		o.demoTimer.Arm(o.cfg.DemoProcessingDelay, func() { o.timeoutToIdle(gen) })
	}
}

// Disconnect tears the whole session down: timers, capture, playback,
// monitoring, and the remote connection. It is safe to call from any
// state, repeatedly, and while a connect attempt is still in flight; an
// in-flight attempt that later succeeds is disconnected immediately.
func (o *Orchestrator) Disconnect() {
	o.live.Store(false)

	o.mu.Lock()
	o.gen++
	o.connecting = false
	src := o.capSrc
	o.capSrc = nil
	sink := o.sink
	o.sink = nil
	o.setVoiceLocked(VoiceIdle)
	o.setConnLocked(ConnDisconnected)
	o.setRecordingLocked(false)
	o.connErr = ""
	o.mu.Unlock()

	o.idleTimer.Cancel()
	o.demoTimer.Cancel()
	o.monitor.Stop()
	o.monitor.Detach()
	o.monitor.Reset()

	if src != nil {
		if err := src.Close(); err != nil {
			o.log.Debug().Err(err).Msg("close capture")
		}
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			o.log.Debug().Err(err).Msg("close playback")
		}
	}
	if o.remote != nil {
		o.remote.Disconnect()
	}

	o.emit(&SessionClosedEvent{})
}

// runConnect performs the blocking connect off the caller's goroutine and
// resolves its outcome against the session generation it was started for.
func (o *Orchestrator) runConnect(ctx context.Context, gen uint64) {
	err := o.remote.Connect(ctx)

	o.mu.Lock()
	o.connecting = false
	stale := gen != o.gen
	o.mu.Unlock()

	if stale {
		// Disconnect won the race; undo a late success.
		if err == nil {
			o.remote.Disconnect()
		}
		return
	}

	if err != nil {
		o.log.Warn().Err(err).Msg("connect failed, entering demo mode")
		o.mu.Lock()
		o.connErr = err.Error()
		o.setConnLocked(ConnError)
		recording := o.recording
		o.mu.Unlock()
		o.emit(&ConnectionErrorEvent{Message: err.Error()})
		if recording {
			o.enterFallback(gen)
		}
		return
	}

	o.mu.Lock()
	o.connErr = ""
	recording := o.recording
	o.mu.Unlock()
	if recording {
		o.attachMicRemote(ctx, gen)
	}
}

// attachMicRemote opens (or reuses) the microphone and publishes it to the
// live session. Capture failures degrade to flat levels; publish failures
// fall back to local visualization.
func (o *Orchestrator) attachMicRemote(ctx context.Context, gen uint64) {
	o.mu.Lock()
	if gen != o.gen || !o.recording {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	src, created := o.openCapture(gen)
	if src == nil {
		return
	}
	src.SetPush(o.monitor.Attach())

	if !created {
		// The track is already published; just unmute it.
		if err := o.remote.SetMicrophoneMuted(false); err != nil {
			o.log.Debug().Err(err).Msg("unmute microphone")
		}
		return
	}

	if err := o.remote.PublishMicrophone(ctx, src); err != nil {
		o.log.Warn().Err(err).Msg("publish microphone failed, visualizing locally")
		o.mu.Lock()
		o.connErr = err.Error()
		o.mu.Unlock()
		o.emit(&ConnectionErrorEvent{Message: err.Error()})
		if serr := src.Start(nil); serr != nil {
			o.log.Debug().Err(serr).Msg("start capture")
		}
	}
}

// enterFallback runs the session in local demo mode: capture feeds only
// the analyser and nothing leaves the machine.
func (o *Orchestrator) enterFallback(gen uint64) {
	o.mu.Lock()
	if gen != o.gen || !o.recording {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	o.emit(&FallbackEngagedEvent{})

	src, _ := o.openCapture(gen)
	if src == nil {
		return
	}
	src.SetPush(o.monitor.Attach())
	if err := src.Start(nil); err != nil {
		o.log.Debug().Err(err).Msg("start capture")
	}
}

// openCapture returns the session's capture source, creating it on first
// use. It returns nil when no microphone is available (levels stay flat)
// or when another caller is mid-open; at most one source exists per
// session, and created reports whether this call made it.
func (o *Orchestrator) openCapture(gen uint64) (src *analysisSource, created bool) {
	if o.captureNew == nil {
		return nil, false
	}

	o.mu.Lock()
	if o.capSrc != nil || o.opening {
		src = o.capSrc
		o.mu.Unlock()
		return src, false
	}
	o.opening = true
	o.mu.Unlock()

	raw, err := o.captureNew(o.cfg.InputDeviceName)

	o.mu.Lock()
	o.opening = false
	if err != nil {
		o.mu.Unlock()
		o.log.Warn().Err(err).Msg("microphone unavailable, levels stay flat")
		return nil, false
	}
	if gen != o.gen {
		o.mu.Unlock()
		if cerr := raw.Close(); cerr != nil {
			o.log.Debug().Err(cerr).Msg("close capture")
		}
		return nil, false
	}
	src = newAnalysisSource(raw)
	o.capSrc = src
	o.mu.Unlock()
	return src, true
}

// timeoutToIdle is the shared expiry for the idle and demo timers.
func (o *Orchestrator) timeoutToIdle(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return
	}
	if o.voice == VoiceProcessing {
		o.setVoiceLocked(VoiceIdle)
	}
}

func (o *Orchestrator) onConnState(s remote.ConnState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.live.Load() {
		return
	}
	switch s {
	case remote.StateConnecting, remote.StateReconnecting:
		o.setConnLocked(ConnConnecting)
	case remote.StateConnected:
		o.setConnLocked(ConnConnected)
	case remote.StateDisconnected:
		// A transport-level drop of an established session overrides
		// whatever the session was doing. A failed connect attempt is
		// resolved by runConnect instead.
		wasConnected := o.conn == ConnConnected
		if o.conn != ConnError {
			o.setConnLocked(ConnDisconnected)
		}
		if wasConnected {
			o.setVoiceLocked(VoiceIdle)
			o.setRecordingLocked(false)
		}
	}
}

func (o *Orchestrator) onRemoteAudioStarted(sampleRate int) {
	o.mu.Lock()
	if !o.live.Load() {
		o.mu.Unlock()
		return
	}
	gen := o.gen
	o.setVoiceLocked(VoiceSpeaking)
	o.mu.Unlock()

	o.idleTimer.Cancel()

	var out playback.Sink
	if o.playbackNew != nil {
		s, err := o.playbackNew(sampleRate)
		if err != nil {
			o.log.Warn().Err(err).Msg("speaker unavailable, agent audio dropped")
		} else {
			out = s
		}
	}

	push := o.monitor.Attach()
	tap := playback.NewTap(out, func(pcm []byte) {
		push(capture.PCMToFloat64(pcm))
	})

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		if err := tap.Close(); err != nil {
			o.log.Debug().Err(err).Msg("close playback")
		}
		return
	}
	old := o.sink
	o.sink = tap
	o.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			o.log.Debug().Err(err).Msg("close playback")
		}
	}
	o.monitor.Start()
}

func (o *Orchestrator) onRemoteAudioFrame(pcm []byte) {
	if !o.live.Load() {
		return
	}
	o.mu.Lock()
	sink := o.sink
	o.mu.Unlock()
	if sink == nil {
		return
	}
	if err := sink.Write(pcm); err != nil {
		o.log.Debug().Err(err).Msg("write playback")
	}
}

func (o *Orchestrator) onRemoteAudioEnded() {
	o.mu.Lock()
	if !o.live.Load() {
		o.mu.Unlock()
		return
	}
	sink := o.sink
	o.sink = nil
	recording := o.recording
	src := o.capSrc
	if recording {
		o.setVoiceLocked(VoiceListening)
	} else {
		o.setVoiceLocked(VoiceIdle)
	}
	o.mu.Unlock()

	if sink != nil {
		if err := sink.Close(); err != nil {
			o.log.Debug().Err(err).Msg("close playback")
		}
	}

	if recording && src != nil {
		// Point analysis back at the microphone.
		src.SetPush(o.monitor.Attach())
	} else {
		o.monitor.Detach()
		o.monitor.Stop()
		o.monitor.SetIdlePlaceholder()
	}
}

// handleData feeds data-channel payloads to the signaling interpreter,
// dropping anything that arrives outside a live session.
func (o *Orchestrator) handleData(payload []byte) {
	if !o.live.Load() {
		return
	}
	o.interp.Handle(payload)
}

// applyAgentState maps signaled agent activity onto the session status.
func (o *Orchestrator) applyAgentState(s signal.AgentState) {
	o.mu.Lock()
	if !o.live.Load() {
		o.mu.Unlock()
		return
	}
	switch s {
	case signal.AgentThinking:
		o.setVoiceLocked(VoiceProcessing)
	case signal.AgentSpeaking:
		o.setVoiceLocked(VoiceSpeaking)
	case signal.AgentIdle:
		o.setVoiceLocked(VoiceIdle)
	}
	o.mu.Unlock()

	if s == signal.AgentSpeaking {
		o.idleTimer.Cancel()
	}
}

func (o *Orchestrator) setVoiceLocked(s VoiceStatus) {
	if o.voice == s {
		return
	}
	o.log.Debug().Str("from", o.voice.String()).Str("to", s.String()).Msg("voice status")
	o.emit(&StatusChangedEvent{From: o.voice, To: s})
	o.voice = s
}

func (o *Orchestrator) setConnLocked(s ConnectionStatus) {
	if o.conn == s {
		return
	}
	o.log.Debug().Str("from", o.conn.String()).Str("to", s.String()).Msg("connection status")
	o.emit(&ConnectionChangedEvent{From: o.conn, To: s})
	o.conn = s
}

func (o *Orchestrator) setRecordingLocked(recording bool) {
	if o.recording == recording {
		return
	}
	o.recording = recording
	o.emit(&RecordingChangedEvent{Recording: recording})
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		o.log.Debug().Str("type", ev.EventType()).Msg("event dropped, consumer behind")
	}
}
