// voicelive-demo is a terminal client for a live voice session: press
// Enter to talk, Enter again to stop, Ctrl-C to hang up. Without remote
// credentials it runs the same session in local demo mode.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/vango-go/voicelive/pkg/bridge"
	"github.com/vango-go/voicelive/pkg/core/capture"
	"github.com/vango-go/voicelive/pkg/core/conversation"
	"github.com/vango-go/voicelive/pkg/core/levels"
	"github.com/vango-go/voicelive/pkg/core/playback"
	"github.com/vango-go/voicelive/pkg/core/types"
	"github.com/vango-go/voicelive/pkg/core/voice"
	"github.com/vango-go/voicelive/pkg/remote"
)

type options struct {
	url           string
	apiKey        string
	apiSecret     string
	tokenEndpoint string
	room          string
	identity      string
	inputDevice   string
	inputMode     string
	listen        string
	meter         bool
	debug         bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	// Missing .env is fine; explicit environment still applies.
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.url, "url", os.Getenv("VOICELIVE_URL"), "realtime server URL (empty runs demo mode)")
	flag.StringVar(&opts.apiKey, "api-key", os.Getenv("VOICELIVE_API_KEY"), "API key for local token minting")
	flag.StringVar(&opts.apiSecret, "api-secret", os.Getenv("VOICELIVE_API_SECRET"), "API secret for local token minting")
	flag.StringVar(&opts.tokenEndpoint, "token-endpoint", os.Getenv("VOICELIVE_TOKEN_ENDPOINT"), "external token issuance URL")
	flag.StringVar(&opts.room, "room", envOr("VOICELIVE_ROOM", "voicelive"), "room to join")
	flag.StringVar(&opts.identity, "identity", envOr("VOICELIVE_IDENTITY", "voicelive-demo"), "participant identity")
	flag.StringVar(&opts.inputDevice, "input-device", os.Getenv("VOICELIVE_INPUT_DEVICE"), "capture device name substring")
	flag.StringVar(&opts.inputMode, "input-mode", envOr("VOICELIVE_INPUT_MODE", "toggle"), "input mode: hold or toggle")
	flag.StringVar(&opts.listen, "listen", "", "serve the UI bridge on this address (e.g. :8787)")
	flag.BoolVar(&opts.meter, "meter", true, "render the level meter")
	flag.BoolVar(&opts.debug, "debug", false, "verbose logging")
	flag.Parse()

	logLevel := zerolog.InfoLevel
	if opts.debug {
		logLevel = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(logLevel).
		With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := conversation.NewStore()
	cfg := voice.DefaultConfig()
	cfg.InputDeviceName = opts.inputDevice
	if opts.inputMode == "hold" {
		cfg.InputMode = voice.InputPushToTalk
	} else {
		cfg.InputMode = voice.InputTapToToggle
	}

	deps := voice.Deps{
		Capture: func(deviceName string) (capture.Source, error) {
			return capture.NewMicSource(deviceName)
		},
		Playback: func(sampleRate int) (playback.Sink, error) {
			return playback.NewSpeakerSink(sampleRate)
		},
		Monitor:      levels.NewMonitor(),
		Conversation: store,
		Logger:       log,
	}

	if client := buildRemote(opts, log); client != nil {
		deps.Remote = client
	} else {
		log.Info().Msg("no remote configured, running in demo mode")
	}

	orch := voice.New(cfg, deps)
	defer orch.Disconnect()

	if opts.listen != "" {
		b := bridge.New(bridge.Config{}, orch, store, log)
		go b.Run(ctx)
		srv := &http.Server{Addr: opts.listen, Handler: b}
		go func() {
			log.Info().Str("addr", opts.listen).Msg("bridge listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("bridge server")
			}
		}()
		defer func() { _ = srv.Shutdown(context.Background()) }()
	} else {
		go printEvents(ctx, orch, log)
		store.OnAppend(func(m types.Message) {
			fmt.Printf("\r\033[K%s: %s\n", m.Role, m.Content)
		})
	}

	if opts.meter {
		go renderMeter(ctx, orch)
	}

	fmt.Println("Press Enter to talk, Enter again to stop, Ctrl-C to hang up.")
	runInputLoop(ctx, orch)

	fmt.Print("\r\033[K")
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// buildRemote assembles the realtime client from whichever credentials
// are configured, or returns nil when there are none.
func buildRemote(opts options, log zerolog.Logger) remote.SessionClient {
	if opts.url == "" {
		return nil
	}
	var tokens remote.TokenSource
	switch {
	case opts.tokenEndpoint != "":
		tokens = &remote.HTTPTokenSource{Endpoint: opts.tokenEndpoint}
	case opts.apiKey != "" && opts.apiSecret != "":
		tokens = &remote.LocalTokenSource{
			APIKey:    opts.apiKey,
			APISecret: opts.apiSecret,
			Room:      opts.room,
			Identity:  opts.identity,
		}
	default:
		log.Warn().Msg("url set but no token source configured, running in demo mode")
		return nil
	}
	return remote.NewClient(opts.url, tokens, log)
}

// runInputLoop toggles the session on each Enter press until ctx is done
// or stdin closes.
func runInputLoop(ctx context.Context, orch *voice.Orchestrator) {
	lines := make(chan struct{})
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()

	recording := false
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-lines:
			if !ok {
				return
			}
			if recording {
				orch.StopListening()
			} else {
				orch.StartListening(ctx)
			}
			recording = !recording
		}
	}
}

func printEvents(ctx context.Context, orch *voice.Orchestrator, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-orch.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *voice.StatusChangedEvent:
				log.Info().Str("status", e.To.String()).Msg("voice")
			case *voice.ConnectionChangedEvent:
				log.Info().Str("status", e.To.String()).Msg("connection")
			case *voice.ConnectionErrorEvent:
				log.Warn().Str("error", e.Message).Msg("connection error")
			case *voice.FallbackEngagedEvent:
				log.Info().Msg("running locally in demo mode")
			case *voice.SessionClosedEvent:
				log.Info().Msg("session closed")
			}
		}
	}
}

// renderMeter redraws a one-line bar histogram of the current levels.
func renderMeter(ctx context.Context, orch *voice.Orchestrator) {
	blocks := []rune(" ▁▂▃▄▅▆▇█")
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := orch.Snapshot()
			var sb strings.Builder
			sb.WriteString("\r[")
			for _, l := range snap.AudioLevels {
				idx := int(l * float64(len(blocks)-1))
				if idx < 0 {
					idx = 0
				}
				if idx >= len(blocks) {
					idx = len(blocks) - 1
				}
				sb.WriteRune(blocks[idx])
			}
			sb.WriteString("] ")
			sb.WriteString(snap.VoiceStatus.String())
			sb.WriteString("   ")
			fmt.Print(sb.String())
		}
	}
}
