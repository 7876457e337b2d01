package capture

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

const (
	// MicSampleRate is the capture sample rate in Hz.
	MicSampleRate = 48000

	micChannels = 1
	micPeriodMs = 20
)

// MicSource captures microphone audio through malgo (miniaudio).
type MicSource struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	onFrame FrameFunc
	started bool
	closed  bool
}

// NewMicSource opens the microphone, optionally pinned to the capture
// device whose name contains deviceName (case-insensitive). An empty
// deviceName selects the system default.
func NewMicSource(deviceName string) (*MicSource, error) {
	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	s := &MicSource{ctx: ctx}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = micChannels
	deviceConfig.SampleRate = MicSampleRate
	deviceConfig.PeriodSizeInMilliseconds = micPeriodMs

	if deviceName != "" {
		id, err := findCaptureDevice(ctx, deviceName)
		if err != nil {
			_ = ctx.Uninit()
			ctx.Free()
			return nil, err
		}
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.mu.Lock()
			onFrame := s.onFrame
			s.mu.Unlock()
			if onFrame != nil {
				frame := make([]byte, len(input))
				copy(frame, input)
				onFrame(frame)
			}
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("init microphone: %w", err)
	}
	s.device = device

	return s, nil
}

// Start begins frame delivery. Implements Source.
func (s *MicSource) Start(onFrame FrameFunc) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSourceClosed
	}
	s.onFrame = onFrame
	alreadyStarted := s.started
	s.started = true
	s.mu.Unlock()

	if alreadyStarted {
		return nil
	}
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("start microphone: %w", err)
	}
	return nil
}

// SampleRate implements Source.
func (s *MicSource) SampleRate() int { return MicSampleRate }

// Close stops the device and releases the audio context. Implements Source.
func (s *MicSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.onFrame = nil
	s.mu.Unlock()

	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
	}
	return nil
}

func findCaptureDevice(ctx *malgo.AllocatedContext, name string) (malgo.DeviceID, error) {
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("enumerate capture devices: %w", err)
	}

	want := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info.ID, nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("capture device %q not found", name)
}
