package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hraban/opus"
	media "github.com/livekit/media-sdk"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vango-go/voicelive/pkg/core/capture"
)

const (
	// remoteSampleRate is the decode rate for subscribed opus audio.
	remoteSampleRate = 48000

	micTrackName = "microphone"
)

// ErrNotConnected is returned by track operations without a live room.
var ErrNotConnected = errors.New("remote session not connected")

// Client is the LiveKit-backed SessionClient.
type Client struct {
	url    string
	tokens TokenSource
	log    zerolog.Logger

	mu       sync.Mutex
	handlers Handlers
	state    ConnState
	room     *lksdk.Room

	micTrack *lkmedia.PCMLocalTrack
	micPub   *lksdk.LocalTrackPublication
	micMuted bool

	// remoteCancel stops the single active remote-track reader.
	remoteCancel context.CancelFunc
}

// NewClient creates a LiveKit session client. Connect is not attempted
// until Connect is called.
func NewClient(url string, tokens TokenSource, log zerolog.Logger) *Client {
	return &Client{
		url:    url,
		tokens: tokens,
		log:    log.With().Str("component", "remote").Logger(),
		state:  StateDisconnected,
	}
}

// SetHandlers implements SessionClient.
func (c *Client) SetHandlers(h Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = h
}

// Connected implements SessionClient.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room != nil
}

// Connect implements SessionClient. A fresh token is issued per attempt;
// token failure and transport failure both surface as connect errors.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.room != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setState(StateConnecting)

	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("issue token: %w", err)
	}

	room, err := lksdk.ConnectToRoomWithToken(
		c.url,
		token,
		c.roomCallback(),
		lksdk.WithAutoSubscribe(true),
	)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("connect to room: %w", err)
	}

	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
	c.setState(StateConnected)

	c.log.Info().Str("room", room.Name()).Msg("connected")
	return nil
}

// Disconnect implements SessionClient. Safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	room := c.room
	c.room = nil
	micTrack := c.micTrack
	c.micTrack = nil
	c.micPub = nil
	c.micMuted = false
	cancel := c.remoteCancel
	c.remoteCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Close the track before the room so the peer connection unpublishes
	// cleanly.
	if micTrack != nil {
		micTrack.ClearQueue()
		_ = micTrack.Close()
	}
	if room != nil {
		room.Disconnect()
		c.log.Info().Msg("disconnected")
	}
	c.setState(StateDisconnected)
}

// PublishMicrophone implements SessionClient. The first call creates and
// publishes the PCM track; subsequent calls unmute the existing one.
func (c *Client) PublishMicrophone(ctx context.Context, src capture.Source) error {
	c.mu.Lock()
	room := c.room
	existing := c.micTrack
	c.mu.Unlock()

	if room == nil {
		return ErrNotConnected
	}
	if existing != nil {
		return c.SetMicrophoneMuted(false)
	}

	track, err := lkmedia.NewPCMLocalTrack(src.SampleRate(), 1, nil)
	if err != nil {
		return fmt.Errorf("create mic track: %w", err)
	}

	pub, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   micTrackName,
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		_ = track.Close()
		return fmt.Errorf("publish mic track: %w", err)
	}

	c.mu.Lock()
	c.micTrack = track
	c.micPub = pub
	c.micMuted = false
	c.mu.Unlock()

	err = src.Start(func(pcm []byte) {
		c.mu.Lock()
		t := c.micTrack
		muted := c.micMuted
		c.mu.Unlock()
		if t == nil || muted {
			return
		}
		if werr := t.WriteSample(bytesToPCM16(pcm)); werr != nil {
			c.log.Debug().Err(werr).Msg("mic write failed")
		}
	})
	if err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	c.log.Info().Int("sample_rate", src.SampleRate()).Msg("microphone published")
	return nil
}

// SetMicrophoneMuted implements SessionClient.
func (c *Client) SetMicrophoneMuted(muted bool) error {
	c.mu.Lock()
	pub := c.micPub
	track := c.micTrack
	c.micMuted = muted
	c.mu.Unlock()

	if pub == nil {
		return ErrNotConnected
	}
	if muted && track != nil {
		track.ClearQueue()
	}
	pub.SetMuted(muted)
	return nil
}

func (c *Client) roomCallback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				c.startRemoteReader(track, rp.Identity())
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				c.stopRemoteReader()
			},
			OnDataPacket: func(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
				payload := data.ToProto().GetUser().GetPayload()
				if len(payload) == 0 {
					return
				}
				c.mu.Lock()
				onData := c.handlers.OnData
				c.mu.Unlock()
				if onData != nil {
					onData(payload)
				}
			},
		},
		OnReconnecting: func() {
			c.log.Warn().Msg("reconnecting")
			c.setState(StateReconnecting)
		},
		OnReconnected: func() {
			c.log.Info().Msg("reconnected")
			c.setState(StateConnected)
		},
		OnDisconnected: func() {
			c.log.Warn().Msg("room disconnected")
			c.mu.Lock()
			c.room = nil
			c.mu.Unlock()
			c.setState(StateDisconnected)
		},
	}
}

// startRemoteReader begins decoding the subscribed agent track. Only one
// remote track is attached at a time; additional tracks are ignored until
// the active one ends.
func (c *Client) startRemoteReader(track *webrtc.TrackRemote, identity string) {
	c.mu.Lock()
	if c.room == nil {
		c.mu.Unlock()
		c.log.Debug().Str("participant", identity).Msg("ignoring audio track after disconnect")
		return
	}
	if c.remoteCancel != nil {
		c.mu.Unlock()
		c.log.Debug().Str("participant", identity).Msg("ignoring extra audio track")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.remoteCancel = cancel
	started := c.handlers.OnRemoteAudioStarted
	c.mu.Unlock()

	c.log.Info().Str("participant", identity).Msg("agent audio subscribed")
	if started != nil {
		started(remoteSampleRate)
	}

	go c.readRemoteTrack(ctx, track)
}

func (c *Client) stopRemoteReader() {
	c.mu.Lock()
	cancel := c.remoteCancel
	c.remoteCancel = nil
	ended := c.handlers.OnRemoteAudioEnded
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	c.log.Info().Msg("agent audio unsubscribed")
	if ended != nil {
		ended()
	}
}

func (c *Client) readRemoteTrack(ctx context.Context, track *webrtc.TrackRemote) {
	decoder, err := opus.NewDecoder(remoteSampleRate, 1)
	if err != nil {
		c.log.Error().Err(err).Msg("create opus decoder")
		return
	}

	// 120 ms at 48 kHz, the maximum opus frame.
	pcmBuf := make([]int16, 5760)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				c.log.Debug().Err(err).Msg("remote track read ended")
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		n, err := decoder.Decode(pkt.Payload, pcmBuf)
		if err != nil || n == 0 {
			continue
		}

		frame := make([]byte, n*2)
		for i := 0; i < n; i++ {
			frame[i*2] = byte(pcmBuf[i])
			frame[i*2+1] = byte(pcmBuf[i] >> 8)
		}

		c.mu.Lock()
		onFrame := c.handlers.OnRemoteAudioFrame
		c.mu.Unlock()
		if onFrame != nil {
			onFrame(frame)
		}
	}
}

func (c *Client) setState(state ConnState) {
	c.mu.Lock()
	old := c.state
	c.state = state
	cb := c.handlers.OnConnectionState
	c.mu.Unlock()

	if old != state && cb != nil {
		cb(state)
	}
}

func bytesToPCM16(data []byte) media.PCM16Sample {
	samples := make(media.PCM16Sample, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}
