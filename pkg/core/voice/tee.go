package voice

import (
	"sync"

	"github.com/vango-go/voicelive/pkg/core/capture"
	"github.com/vango-go/voicelive/pkg/core/levels"
)

// analysisSource wraps a capture source so the same PCM stream feeds both
// a downstream consumer (the published mic track) and the analysis graph.
// The analysis push is re-pointable: attaching the monitor to a different
// input invalidates the old push, and SetPush installs its replacement.
type analysisSource struct {
	inner capture.Source

	mu      sync.Mutex
	push    levels.PushFunc
	onFrame capture.FrameFunc
	started bool
}

func newAnalysisSource(inner capture.Source) *analysisSource {
	return &analysisSource{inner: inner}
}

// SetPush installs the analysis push for this source's frames.
func (s *analysisSource) SetPush(push levels.PushFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push = push
}

// Start implements capture.Source. The underlying device is started once;
// later calls only swap the downstream frame callback.
func (s *analysisSource) Start(onFrame capture.FrameFunc) error {
	s.mu.Lock()
	s.onFrame = onFrame
	started := s.started
	s.started = true
	s.mu.Unlock()

	if started {
		return nil
	}
	return s.inner.Start(s.dispatch)
}

// SampleRate implements capture.Source.
func (s *analysisSource) SampleRate() int { return s.inner.SampleRate() }

// Close implements capture.Source.
func (s *analysisSource) Close() error { return s.inner.Close() }

func (s *analysisSource) dispatch(pcm []byte) {
	s.mu.Lock()
	push := s.push
	onFrame := s.onFrame
	s.mu.Unlock()

	if push != nil {
		push(capture.PCMToFloat64(pcm))
	}
	if onFrame != nil {
		onFrame(pcm)
	}
}
