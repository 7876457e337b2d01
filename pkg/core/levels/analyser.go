// Package levels implements the audio analysis graph: a frequency analyser
// over a live audio input that produces a fixed-size energy histogram for
// visualization.
//
// One Monitor owns at most one analyser input at a time. Attaching a new
// input replaces the previous one; it never builds a second analysis graph.
package levels

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// NumBins is the number of histogram bins produced per tick.
	NumBins = 20

	// FFTSize is the fixed analysis window length in samples.
	FFTSize = 256
)

// IdleLevel is the constant placeholder written to every bin while the
// visualization is in its explicit idle state.
const IdleLevel = 0.3

// Analyser maintains a sliding sample window and computes the binned
// frequency-energy histogram over it. Samples are normalized mono floats
// in [-1, 1]. Safe for concurrent use.
type Analyser struct {
	mu     sync.Mutex
	fft    *fourier.FFT
	window []float64
	filled int
}

// NewAnalyser creates an analyser with the fixed FFT window.
func NewAnalyser() *Analyser {
	return &Analyser{
		fft:    fourier.NewFFT(FFTSize),
		window: make([]float64, FFTSize),
	}
}

// Push appends samples to the analysis window, discarding the oldest
// samples once the window is full.
func (a *Analyser) Push(samples []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range samples {
		if a.filled < FFTSize {
			a.window[a.filled] = s
			a.filled++
			continue
		}
		copy(a.window, a.window[1:])
		a.window[FFTSize-1] = s
	}
}

// Reset clears the sample window.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.filled = 0
	for i := range a.window {
		a.window[i] = 0
	}
}

// Compute returns the NumBins averaged-magnitude histogram for the current
// window. Contiguous FFT bins are summed into each histogram bin, averaged,
// and normalized to [0, 1]. An empty window yields all zeros.
func (a *Analyser) Compute() [NumBins]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out [NumBins]float64
	if a.filled == 0 {
		return out
	}

	coeffs := a.fft.Coefficients(nil, a.window)

	// Skip the DC coefficient; partition the remaining half-spectrum into
	// NumBins contiguous ranges. Proportional boundaries spread any
	// remainder across the bins so the top coefficients still land in the
	// last bin.
	spectrum := coeffs[1:]

	// A full-scale sine concentrates FFTSize/2 of magnitude into one bin;
	// dividing each magnitude by that bound maps bins into [0, 1].
	norm := float64(FFTSize) / 2

	for i := 0; i < NumBins; i++ {
		start := i * len(spectrum) / NumBins
		end := (i + 1) * len(spectrum) / NumBins
		if end <= start {
			end = start + 1
		}
		if start >= len(spectrum) {
			break
		}
		if end > len(spectrum) {
			end = len(spectrum)
		}

		var sum float64
		for _, c := range spectrum[start:end] {
			sum += cmplx.Abs(c)
		}
		avg := sum / float64(end-start) / norm
		out[i] = math.Min(1, avg)
	}

	return out
}
