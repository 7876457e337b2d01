// Package bridge serves the orchestrator's state to UI clients over
// WebSocket. Clients receive state, transcript, and level frames and send
// back the gesture commands (start, stop, disconnect) that drive the
// session.
package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vango-go/voicelive/pkg/core/conversation"
	"github.com/vango-go/voicelive/pkg/core/types"
	"github.com/vango-go/voicelive/pkg/core/voice"
)

// Controller is the session surface the bridge drives. Implemented by
// *voice.Orchestrator.
type Controller interface {
	StartListening(ctx context.Context)
	StopListening()
	Disconnect()
	Snapshot() voice.Snapshot
	Events() <-chan voice.Event
}

// Config tunes the bridge's timing. The zero value uses defaults.
type Config struct {
	// PingInterval is how often idle connections are pinged.
	PingInterval time.Duration

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// LevelInterval is how often level frames are broadcast.
	LevelInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.LevelInterval <= 0 {
		c.LevelInterval = 50 * time.Millisecond
	}
	return c
}

type client struct {
	priority chan []byte
	levels   chan []byte
	cancel   context.CancelFunc
}

// Bridge fans orchestrator state out to WebSocket clients and feeds their
// commands back in. It is the sole consumer of the orchestrator's event
// stream; start it with Run before serving connections.
type Bridge struct {
	cfg   Config
	ctrl  Controller
	store *conversation.Store
	log   zerolog.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New creates a bridge for ctrl. store may be nil when transcript
// mirroring is not wanted.
func New(cfg Config, ctrl Controller, store *conversation.Store, log zerolog.Logger) *Bridge {
	b := &Bridge{
		cfg:   cfg.withDefaults(),
		ctrl:  ctrl,
		store: store,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*client]struct{}),
	}
	if store != nil {
		store.OnAppend(func(m types.Message) {
			b.broadcastPriority(encodeMessage(m))
		})
	}
	return b
}

// Run consumes orchestrator events and broadcasts level frames until ctx
// is done. It must run exactly once, concurrently with ServeHTTP.
func (b *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.LevelInterval)
	defer ticker.Stop()

	events := b.ctrl.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.handleEvent(ev)
		case <-ticker.C:
			snap := b.ctrl.Snapshot()
			b.broadcastLevels(encodeLevels(snap.AudioLevels))
		}
	}
}

func (b *Bridge) handleEvent(ev voice.Event) {
	switch e := ev.(type) {
	case *voice.FallbackEngagedEvent:
		b.broadcastPriority(encodeSignal(FrameFallback, ""))
	case *voice.ConnectionErrorEvent:
		b.broadcastPriority(encodeSignal(FrameError, e.Message))
	case *voice.SessionClosedEvent:
		b.broadcastPriority(encodeSignal(FrameClosed, ""))
	}
	// Every event implies a state change worth reflecting.
	b.broadcastPriority(encodeState(b.ctrl.Snapshot()))
}

// ServeHTTP upgrades the request and runs the connection until the client
// leaves or the bridge shuts down.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Debug().Err(err).Msg("websocket upgrade")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &client{
		priority: make(chan []byte, 32),
		levels:   make(chan []byte, 1),
		cancel:   cancel,
	}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, c)
		b.mu.Unlock()
		cancel()
	}()

	// New clients start from the current state.
	sendOrDrop(c.priority, encodeState(b.ctrl.Snapshot()))
	if b.store != nil {
		for _, m := range b.store.Messages() {
			sendOrDrop(c.priority, encodeMessage(m))
		}
	}

	writer := &frameWriter{
		ws:           ws,
		ctx:          ctx,
		priority:     c.priority,
		levels:       c.levels,
		pingInterval: b.cfg.PingInterval,
		writeTimeout: b.cfg.WriteTimeout,
	}
	go func() {
		if werr := writer.Run(); werr != nil {
			b.log.Debug().Err(werr).Msg("websocket writer")
		}
		cancel()
	}()

	b.readCommands(ctx, ws)
}

func (b *Bridge) readCommands(ctx context.Context, ws *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var cmd command
		if jerr := json.Unmarshal(data, &cmd); jerr != nil {
			b.log.Debug().Err(jerr).Msg("malformed command")
			continue
		}
		switch cmd.Command {
		case CommandStart:
			b.ctrl.StartListening(ctx)
		case CommandStop:
			b.ctrl.StopListening()
		case CommandDisconnect:
			b.ctrl.Disconnect()
		default:
			b.log.Debug().Str("command", cmd.Command).Msg("unknown command")
		}
	}
}

func (b *Bridge) broadcastPriority(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		if !sendOrDrop(c.priority, frame) {
			// A client that cannot keep up with state frames is beyond
			// saving; cut it loose.
			c.cancel()
		}
	}
}

func (b *Bridge) broadcastLevels(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		sendLatest(c.levels, frame)
	}
}
