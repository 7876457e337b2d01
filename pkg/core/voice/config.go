package voice

import (
	"time"
)

// InputMode selects how the caller drives StartListening/StopListening.
// It changes only the host's gesture handling, never the orchestrator's
// internal behavior.
type InputMode string

const (
	// InputPushToTalk maps press to StartListening and release to
	// StopListening.
	InputPushToTalk InputMode = "push-to-talk"
	// InputTapToToggle alternates the two calls on each tap.
	InputTapToToggle InputMode = "tap-to-toggle"
)

// Config holds orchestrator configuration.
type Config struct {
	// IdleTimeout bounds how long the session stays in processing after the
	// mic is released with a live remote connection. If the agent never
	// produces audio within this window, voice status is forced back to
	// idle. Default: 10s.
	IdleTimeout time.Duration `json:"idle_timeout"`

	// DemoProcessingDelay is the simulated round-trip applied in fallback
	// mode: processing returns to idle after this long with no live agent.
	// Kept configurable; the default mirrors the UX placeholder.
	// Default: 1.5s.
	DemoProcessingDelay time.Duration `json:"demo_processing_delay"`

	// InputDeviceName optionally pins capture to a specific input device.
	// Passed opaquely to the capture factory.
	InputDeviceName string `json:"input_device_name,omitempty"`

	// InputMode is surfaced for hosts; see InputMode.
	InputMode InputMode `json:"input_mode"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:         10 * time.Second,
		DemoProcessingDelay: 1500 * time.Millisecond,
		InputMode:           InputPushToTalk,
	}
}

// withDefaults fills zero-valued durations so a partially constructed
// Config is still safe.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.DemoProcessingDelay <= 0 {
		c.DemoProcessingDelay = def.DemoProcessingDelay
	}
	if c.InputMode == "" {
		c.InputMode = def.InputMode
	}
	return c
}
