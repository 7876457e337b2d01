package voice

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vango-go/voicelive/pkg/core/capture"
	"github.com/vango-go/voicelive/pkg/core/conversation"
	"github.com/vango-go/voicelive/pkg/core/levels"
	"github.com/vango-go/voicelive/pkg/core/playback"
	"github.com/vango-go/voicelive/pkg/remote"
)

type fakeRemote struct {
	mu          sync.Mutex
	h           remote.Handlers
	connected   bool
	connectErr  error
	connectGate chan struct{}
	connects    int
	disconnects int
	publishes   int
	muteCalls   []bool
}

func (f *fakeRemote) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	gate := f.connectGate
	err := f.connectErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeRemote) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeRemote) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRemote) PublishMicrophone(ctx context.Context, src capture.Source) error {
	f.mu.Lock()
	f.publishes++
	f.mu.Unlock()
	return src.Start(func([]byte) {})
}

func (f *fakeRemote) SetMicrophoneMuted(muted bool) error {
	f.mu.Lock()
	f.muteCalls = append(f.muteCalls, muted)
	f.mu.Unlock()
	return nil
}

func (f *fakeRemote) SetHandlers(h remote.Handlers) {
	f.mu.Lock()
	f.h = h
	f.mu.Unlock()
}

func (f *fakeRemote) handlers() remote.Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h
}

func (f *fakeRemote) stats() (connects, disconnects, publishes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects, f.publishes
}

type fakeSource struct {
	mu      sync.Mutex
	started bool
	closed  bool
	onFrame capture.FrameFunc
}

func (s *fakeSource) Start(onFrame capture.FrameFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return capture.ErrSourceClosed
	}
	s.started = true
	s.onFrame = onFrame
	return nil
}

func (s *fakeSource) SampleRate() int { return 48000 }

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type captureRecorder struct {
	mu      sync.Mutex
	opens   int
	sources []*fakeSource
	err     error
}

func (r *captureRecorder) factory() capture.Factory {
	return func(deviceName string) (capture.Source, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.opens++
		if r.err != nil {
			return nil, r.err
		}
		src := &fakeSource{}
		r.sources = append(r.sources, src)
		return src, nil
	}
}

func (r *captureRecorder) openCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens
}

func (r *captureRecorder) last() *fakeSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sources) == 0 {
		return nil
	}
	return r.sources[len(r.sources)-1]
}

type fakeSink struct {
	mu     sync.Mutex
	writes int
	closed bool
}

func (s *fakeSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type sinkRecorder struct {
	mu    sync.Mutex
	sinks []*fakeSink
}

func (r *sinkRecorder) factory() playback.Factory {
	return func(sampleRate int) (playback.Sink, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		sink := &fakeSink{}
		r.sinks = append(r.sinks, sink)
		return sink, nil
	}
}

func (r *sinkRecorder) last() *fakeSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sinks) == 0 {
		return nil
	}
	return r.sinks[len(r.sinks)-1]
}

func testConfig() Config {
	return Config{
		IdleTimeout:         40 * time.Millisecond,
		DemoProcessingDelay: 25 * time.Millisecond,
	}
}

func newTestOrchestrator(cfg Config, rc remote.SessionClient, cr *captureRecorder, sr *sinkRecorder) (*Orchestrator, *conversation.Store) {
	store := conversation.NewStore()
	deps := Deps{
		Remote:       rc,
		Conversation: store,
		Logger:       zerolog.Nop(),
	}
	if cr != nil {
		deps.Capture = cr.factory()
	}
	if sr != nil {
		deps.Playback = sr.factory()
	}
	return New(cfg, deps), store
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func TestStartListeningConnectsOnce(t *testing.T) {
	rc := &fakeRemote{}
	cr := &captureRecorder{}
	o, _ := newTestOrchestrator(testConfig(), rc, cr, nil)

	ctx := context.Background()
	o.StartListening(ctx)
	o.StartListening(ctx)
	o.StartListening(ctx)

	waitFor(t, func() bool {
		connects, _, publishes := rc.stats()
		return connects == 1 && publishes == 1
	}, "single connect and publish")

	if n := cr.openCount(); n != 1 {
		t.Errorf("Expected 1 capture open, got %d", n)
	}
	snap := o.Snapshot()
	if snap.VoiceStatus != VoiceListening {
		t.Errorf("Expected listening, got %v", snap.VoiceStatus)
	}
	if !snap.Recording {
		t.Error("Expected recording true")
	}
}

func TestStartListeningReusesConnection(t *testing.T) {
	rc := &fakeRemote{}
	cr := &captureRecorder{}
	o, _ := newTestOrchestrator(testConfig(), rc, cr, nil)

	ctx := context.Background()
	o.StartListening(ctx)
	waitFor(t, func() bool { return rc.Connected() }, "connected")

	o.StopListening()
	o.StartListening(ctx)

	connects, _, _ := rc.stats()
	if connects != 1 {
		t.Errorf("Expected 1 connect across restarts, got %d", connects)
	}
	if n := cr.openCount(); n != 1 {
		t.Errorf("Expected capture reused, got %d opens", n)
	}
	if got := o.Snapshot().VoiceStatus; got != VoiceListening {
		t.Errorf("Expected listening after restart, got %v", got)
	}
}

func TestConnectFailureFallsBackToDemoMode(t *testing.T) {
	rc := &fakeRemote{connectErr: errors.New("room unavailable")}
	cr := &captureRecorder{}
	o, _ := newTestOrchestrator(testConfig(), rc, cr, nil)

	var fallback bool
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range o.Events() {
			if _, ok := ev.(*FallbackEngagedEvent); ok {
				mu.Lock()
				fallback = true
				mu.Unlock()
				return
			}
		}
	}()

	o.StartListening(context.Background())

	waitFor(t, func() bool {
		return o.Snapshot().ConnectionStatus == ConnError
	}, "connection error recorded")
	<-done

	snap := o.Snapshot()
	if snap.ConnectionError == "" {
		t.Error("Expected non-empty connection error")
	}
	if snap.VoiceStatus != VoiceListening {
		t.Errorf("Expected listening in demo mode, got %v", snap.VoiceStatus)
	}
	if !snap.Recording {
		t.Error("Expected recording true in demo mode")
	}
	mu.Lock()
	if !fallback {
		t.Error("Expected fallback event")
	}
	mu.Unlock()
	waitFor(t, func() bool {
		src := cr.last()
		return src != nil && src.isStarted()
	}, "local capture started")
}

func TestStopListeningRemoteArmsIdleTimeout(t *testing.T) {
	rc := &fakeRemote{}
	cr := &captureRecorder{}
	o, _ := newTestOrchestrator(testConfig(), rc, cr, nil)

	o.StartListening(context.Background())
	waitFor(t, func() bool { _, _, p := rc.stats(); return p == 1 }, "published")

	o.StopListening()

	if got := o.Snapshot().VoiceStatus; got != VoiceProcessing {
		t.Errorf("Expected processing after stop, got %v", got)
	}
	rc.mu.Lock()
	muted := len(rc.muteCalls) > 0 && rc.muteCalls[len(rc.muteCalls)-1]
	rc.mu.Unlock()
	if !muted {
		t.Error("Expected microphone muted after stop")
	}
	if src := cr.last(); src != nil && src.isClosed() {
		t.Error("Expected capture kept open while connected")
	}

	waitFor(t, func() bool {
		return o.Snapshot().VoiceStatus == VoiceIdle
	}, "idle timeout fired")
}

func TestStopListeningDemoDelay(t *testing.T) {
	cr := &captureRecorder{}
	o, _ := newTestOrchestrator(testConfig(), nil, cr, nil)

	o.StartListening(context.Background())
	waitFor(t, func() bool {
		src := cr.last()
		return src != nil && src.isStarted()
	}, "demo capture started")

	o.StopListening()

	if got := o.Snapshot().VoiceStatus; got != VoiceProcessing {
		t.Errorf("Expected processing after stop, got %v", got)
	}
	if src := cr.last(); src == nil || !src.isClosed() {
		t.Error("Expected demo capture closed on stop")
	}

	waitFor(t, func() bool {
		return o.Snapshot().VoiceStatus == VoiceIdle
	}, "demo delay fired")
}

func TestRestartCancelsPendingTimer(t *testing.T) {
	cr := &captureRecorder{}
	o, _ := newTestOrchestrator(testConfig(), nil, cr, nil)

	ctx := context.Background()
	o.StartListening(ctx)
	o.StopListening()
	o.StartListening(ctx)

	time.Sleep(60 * time.Millisecond)
	if got := o.Snapshot().VoiceStatus; got != VoiceListening {
		t.Errorf("Expected restart to cancel pending idle transition, got %v", got)
	}
}

func TestDisconnectResetsEverything(t *testing.T) {
	rc := &fakeRemote{}
	cr := &captureRecorder{}
	o, _ := newTestOrchestrator(testConfig(), rc, cr, nil)

	o.StartListening(context.Background())
	waitFor(t, func() bool { _, _, p := rc.stats(); return p == 1 }, "published")

	o.Disconnect()

	snap := o.Snapshot()
	if snap.VoiceStatus != VoiceIdle {
		t.Errorf("Expected idle, got %v", snap.VoiceStatus)
	}
	if snap.ConnectionStatus != ConnDisconnected {
		t.Errorf("Expected disconnected, got %v", snap.ConnectionStatus)
	}
	if snap.Recording {
		t.Error("Expected recording false")
	}
	if snap.ConnectionError != "" {
		t.Errorf("Expected error cleared, got %q", snap.ConnectionError)
	}
	for _, l := range snap.AudioLevels {
		if l != 0 {
			t.Errorf("Expected flat levels, got %v", l)
			break
		}
	}
	if src := cr.last(); src == nil || !src.isClosed() {
		t.Error("Expected capture closed")
	}
	_, disconnects, _ := rc.stats()
	if disconnects == 0 {
		t.Error("Expected remote disconnect")
	}

	// Repeated disconnects are harmless.
	o.Disconnect()
	o.Disconnect()
}

func TestDisconnectWinsAgainstInFlightConnect(t *testing.T) {
	gate := make(chan struct{})
	rc := &fakeRemote{connectGate: gate}
	cr := &captureRecorder{}
	o, _ := newTestOrchestrator(testConfig(), rc, cr, nil)

	o.StartListening(context.Background())
	waitFor(t, func() bool { c, _, _ := rc.stats(); return c == 1 }, "connect in flight")

	o.Disconnect()
	close(gate)

	waitFor(t, func() bool {
		_, d, _ := rc.stats()
		return d >= 2 // one from Disconnect, one undoing the late success
	}, "late connect success undone")

	snap := o.Snapshot()
	if snap.VoiceStatus != VoiceIdle || snap.Recording {
		t.Errorf("Expected terminal idle snapshot, got %+v", snap)
	}
	_, _, publishes := rc.stats()
	if publishes != 0 {
		t.Errorf("Expected no publish after disconnect, got %d", publishes)
	}
}

func TestRemoteAudioLifecycle(t *testing.T) {
	rc := &fakeRemote{}
	cr := &captureRecorder{}
	sr := &sinkRecorder{}
	o, _ := newTestOrchestrator(testConfig(), rc, cr, sr)

	o.StartListening(context.Background())
	waitFor(t, func() bool { _, _, p := rc.stats(); return p == 1 }, "published")
	o.StopListening()

	h := rc.handlers()
	h.OnRemoteAudioStarted(24000)

	if got := o.Snapshot().VoiceStatus; got != VoiceSpeaking {
		t.Errorf("Expected speaking, got %v", got)
	}

	frame := make([]byte, 960)
	h.OnRemoteAudioFrame(frame)
	h.OnRemoteAudioFrame(frame)

	sink := sr.last()
	if sink == nil {
		t.Fatal("Expected playback sink created")
	}
	if n := sink.writeCount(); n != 2 {
		t.Errorf("Expected 2 frames written, got %d", n)
	}

	// Agent finished and the user is not holding the button: back to idle,
	// and the armed idle timer must not fire later.
	h.OnRemoteAudioEnded()
	if got := o.Snapshot().VoiceStatus; got != VoiceIdle {
		t.Errorf("Expected idle after agent audio, got %v", got)
	}
	time.Sleep(60 * time.Millisecond)
	if got := o.Snapshot().VoiceStatus; got != VoiceIdle {
		t.Errorf("Expected idle to stick, got %v", got)
	}
}

func TestRemoteAudioEndedWhileRecordingResumesListening(t *testing.T) {
	rc := &fakeRemote{}
	cr := &captureRecorder{}
	sr := &sinkRecorder{}
	o, _ := newTestOrchestrator(testConfig(), rc, cr, sr)

	o.StartListening(context.Background())
	waitFor(t, func() bool { _, _, p := rc.stats(); return p == 1 }, "published")

	h := rc.handlers()
	h.OnRemoteAudioStarted(24000)
	h.OnRemoteAudioEnded()

	if got := o.Snapshot().VoiceStatus; got != VoiceListening {
		t.Errorf("Expected listening resumed, got %v", got)
	}
}

func TestSignalingDrivesConversationAndStatus(t *testing.T) {
	rc := &fakeRemote{}
	o, store := newTestOrchestrator(testConfig(), rc, nil, nil)

	o.StartListening(context.Background())
	waitFor(t, func() bool { c, _, _ := rc.stats(); return c == 1 }, "connected")

	h := rc.handlers()

	payload, _ := json.Marshal(map[string]any{
		"type": "assistant_transcript", "text": "Hello", "isFinal": true,
	})
	h.OnData(payload)

	if store.Len() != 1 {
		t.Fatalf("Expected 1 message, got %d", store.Len())
	}
	msg := store.Last()
	if msg == nil {
		t.Fatal("Expected a stored message")
	}
	if msg.Content != "Hello" {
		t.Errorf("Expected transcript content, got %q", msg.Content)
	}

	state, _ := json.Marshal(map[string]any{"type": "agent_state", "state": "thinking"})
	h.OnData(state)
	if got := o.Snapshot().VoiceStatus; got != VoiceProcessing {
		t.Errorf("Expected processing from agent state, got %v", got)
	}

	h.OnData([]byte("not json"))
	if got := o.Snapshot().VoiceStatus; got != VoiceProcessing {
		t.Errorf("Expected malformed payload ignored, got %v", got)
	}
}

func TestTransportDropForcesIdle(t *testing.T) {
	rc := &fakeRemote{}
	cr := &captureRecorder{}
	o, _ := newTestOrchestrator(testConfig(), rc, cr, nil)

	o.StartListening(context.Background())
	waitFor(t, func() bool { _, _, p := rc.stats(); return p == 1 }, "published")

	h := rc.handlers()
	h.OnConnectionState(remote.StateConnected)
	h.OnConnectionState(remote.StateDisconnected)

	snap := o.Snapshot()
	if snap.VoiceStatus != VoiceIdle {
		t.Errorf("Expected idle after transport drop, got %v", snap.VoiceStatus)
	}
	if snap.Recording {
		t.Error("Expected recording cleared after transport drop")
	}
	if snap.ConnectionStatus != ConnDisconnected {
		t.Errorf("Expected disconnected, got %v", snap.ConnectionStatus)
	}
}

func TestRemoteEventsAfterDisconnectAreIgnored(t *testing.T) {
	rc := &fakeRemote{}
	cr := &captureRecorder{}
	sr := &sinkRecorder{}
	store := conversation.NewStore()
	mon := levels.NewMonitorInterval(5 * time.Millisecond)
	o := New(testConfig(), Deps{
		Remote:       rc,
		Capture:      cr.factory(),
		Playback:     sr.factory(),
		Monitor:      mon,
		Conversation: store,
		Logger:       zerolog.Nop(),
	})

	o.StartListening(context.Background())
	waitFor(t, func() bool { _, _, p := rc.stats(); return p == 1 }, "published")
	o.Disconnect()

	// The transport delivers callbacks on its own goroutines, so they can
	// land after teardown. None of them may re-animate the session.
	h := rc.handlers()
	h.OnRemoteAudioStarted(24000)
	state, _ := json.Marshal(map[string]any{"type": "agent_state", "state": "speaking"})
	h.OnData(state)
	transcript, _ := json.Marshal(map[string]any{
		"type": "user_transcript", "text": "late", "isFinal": true,
	})
	h.OnData(transcript)
	h.OnRemoteAudioFrame(make([]byte, 960))
	h.OnRemoteAudioEnded()

	snap := o.Snapshot()
	if snap.VoiceStatus != VoiceIdle {
		t.Errorf("Expected idle to survive late events, got %v", snap.VoiceStatus)
	}
	if snap.ConnectionStatus != ConnDisconnected {
		t.Errorf("Expected disconnected, got %v", snap.ConnectionStatus)
	}
	if snap.Recording {
		t.Error("Expected recording to stay cleared")
	}
	if mon.Running() {
		t.Error("Expected level monitor to stay stopped")
	}
	if sr.last() != nil {
		t.Error("Expected no playback sink after disconnect")
	}
	if store.Len() != 0 {
		t.Errorf("Expected no transcripts after disconnect, got %d", store.Len())
	}
}

func TestMicrophoneUnavailableDegradesToFlatLevels(t *testing.T) {
	cr := &captureRecorder{err: errors.New("permission denied")}
	o, _ := newTestOrchestrator(testConfig(), nil, cr, nil)

	o.StartListening(context.Background())

	snap := o.Snapshot()
	if snap.VoiceStatus != VoiceListening {
		t.Errorf("Expected listening despite missing mic, got %v", snap.VoiceStatus)
	}
	for _, l := range snap.AudioLevels {
		if l != 0 {
			t.Errorf("Expected flat levels, got %v", l)
			break
		}
	}
}
