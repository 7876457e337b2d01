// Package playback plays subscribed agent audio on the local speaker.
//
// The speaker sink is the session-owned analog of an attached remote
// playback element: created when an agent audio track is subscribed,
// detached and closed on teardown.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// ErrSinkClosed is returned when writing to a closed sink.
var ErrSinkClosed = errors.New("playback sink closed")

// Sink consumes 16-bit little-endian mono PCM. Close is safe to call more
// than once.
type Sink interface {
	Write(pcm []byte) error
	Close() error
}

// Factory opens a sink for the given sample rate.
type Factory func(sampleRate int) (Sink, error)

// SpeakerSink plays PCM through the default output device via oto.
type SpeakerSink struct {
	otoCtx *oto.Context
	player *oto.Player

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	playing bool
	closed  bool
}

// NewSpeakerSink opens the speaker at the given sample rate, mono 16-bit.
func NewSpeakerSink(sampleRate int) (*SpeakerSink, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		return nil, errors.New("speaker context not ready")
	}

	s := &SpeakerSink{otoCtx: otoCtx}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Write buffers PCM for playback, starting the player on first write.
func (s *SpeakerSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
	return nil
}

// Read implements io.Reader for the oto player. Returns silence once the
// sink is closed so oto drains cleanly.
func (s *SpeakerSink) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}

	if s.closed && len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Close stops playback and releases the player.
func (s *SpeakerSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buf = nil
	player := s.player
	s.player = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	if player != nil {
		player.Close()
	}
	return nil
}

// Tap forwards every write to fn before passing it to next. It is used to
// feed the analysis graph from the same PCM that reaches the speaker.
type Tap struct {
	next Sink
	fn   func(pcm []byte)
}

// NewTap wraps next so fn observes each PCM frame.
func NewTap(next Sink, fn func(pcm []byte)) *Tap {
	return &Tap{next: next, fn: fn}
}

// Write implements Sink.
func (t *Tap) Write(pcm []byte) error {
	if t.fn != nil {
		t.fn(pcm)
	}
	if t.next == nil {
		return nil
	}
	return t.next.Write(pcm)
}

// Close implements Sink.
func (t *Tap) Close() error {
	if t.next == nil {
		return nil
	}
	return t.next.Close()
}
