// Package capture acquires local microphone audio.
//
// In fallback ("demo") mode the captured stream feeds only the analysis
// graph and is never transmitted. With a live remote session the same
// source feeds the published microphone track.
package capture

import (
	"errors"
)

// ErrSourceClosed is returned when a closed source is started again.
var ErrSourceClosed = errors.New("capture source closed")

// FrameFunc receives raw 16-bit little-endian mono PCM frames.
type FrameFunc func(pcm []byte)

// Source is a single microphone stream. At most one source is open per
// session; Close releases the device and is safe to call repeatedly.
type Source interface {
	// Start begins delivering PCM frames to onFrame. The callback runs on
	// the device's audio thread and must not block.
	Start(onFrame FrameFunc) error

	// SampleRate returns the stream's sample rate in Hz.
	SampleRate() int

	// Close stops the stream and releases the device.
	Close() error
}

// Factory opens a capture source, optionally pinned to a configured input
// device. The device name is passed through opaquely from settings.
type Factory func(deviceName string) (Source, error)

// PCMToFloat64 converts 16-bit little-endian PCM to normalized mono
// samples in [-1, 1]. A trailing odd byte is ignored.
func PCMToFloat64(pcm []byte) []float64 {
	samples := make([]float64, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		samples = append(samples, float64(sample)/32768.0)
	}
	return samples
}
