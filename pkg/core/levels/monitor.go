package levels

import (
	"sync"
	"time"
)

// DefaultTickInterval is how often the monitor recomputes the histogram
// while running. Roughly equivalent to an animation frame.
const DefaultTickInterval = 33 * time.Millisecond

// PushFunc feeds normalized mono samples into the monitor's current
// analyser input. Pushes through a stale func (replaced by a later Attach
// or a Detach) are silently ignored.
type PushFunc func(samples []float64)

// Monitor owns the single live analyser and publishes its histogram on a
// fixed tick while running. Starting and stopping the tick loop is
// independent of which input is attached.
type Monitor struct {
	mu       sync.Mutex
	analyser *Analyser
	interval time.Duration
	inputGen uint64
	levels   [NumBins]float64
	running  bool
	stop     chan struct{}
}

// NewMonitor creates a monitor with the default tick interval.
func NewMonitor() *Monitor {
	return NewMonitorInterval(DefaultTickInterval)
}

// NewMonitorInterval creates a monitor with a custom tick interval.
func NewMonitorInterval(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Monitor{
		analyser: NewAnalyser(),
		interval: interval,
	}
}

// Attach makes a new input the analyser's source and returns the push func
// for it. Any previously returned push func becomes inert: the analyser is
// reused, never duplicated, and only the latest input feeds it.
func (m *Monitor) Attach() PushFunc {
	m.mu.Lock()
	m.inputGen++
	gen := m.inputGen
	m.analyser.Reset()
	m.mu.Unlock()

	return func(samples []float64) {
		m.mu.Lock()
		current := m.inputGen == gen
		m.mu.Unlock()
		if current {
			m.analyser.Push(samples)
		}
	}
}

// Detach invalidates the current input without attaching a new one.
func (m *Monitor) Detach() {
	m.mu.Lock()
	m.inputGen++
	m.analyser.Reset()
	m.mu.Unlock()
}

// Start begins the tick loop. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})

	go m.loop(m.stop)
}

// Stop halts the tick loop. Safe to call repeatedly and while stopped.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stop)
	m.stop = nil
}

// Running reports whether the tick loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Levels returns the current histogram snapshot. Every element is in [0, 1].
func (m *Monitor) Levels() [NumBins]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels
}

// SetIdlePlaceholder fills every bin with the constant idle level.
func (m *Monitor) SetIdlePlaceholder() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.levels {
		m.levels[i] = IdleLevel
	}
}

// Reset zeroes the histogram and clears the analyser window.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyser.Reset()
	m.levels = [NumBins]float64{}
}

func (m *Monitor) loop(stop chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			computed := m.analyser.Compute()
			m.mu.Lock()
			if m.running {
				m.levels = computed
			}
			m.mu.Unlock()
		}
	}
}
