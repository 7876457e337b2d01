package bridge

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// frameWriter drains a connection's outbound queues. State and transcript
// frames are priority and always written before level frames; level frames
// are latest-wins, so a slow client sees a stale histogram rather than a
// growing backlog.
type frameWriter struct {
	ws           wsWriter
	ctx          context.Context
	priority     <-chan []byte
	levels       <-chan []byte
	pingInterval time.Duration
	writeTimeout time.Duration
}

func (w *frameWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.pingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		if w.ctx != nil {
			select {
			case <-w.ctx.Done():
				_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
				_ = w.ws.Close()
				return nil
			default:
			}
		}

		// Hard priority: drain queued state frames before anything else.
		select {
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			if err := w.write(frame, writeTimeout); err != nil {
				return err
			}
			continue
		default:
		}

		if w.priority == nil && w.levels == nil {
			return nil
		}

		select {
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			if err := w.write(frame, writeTimeout); err != nil {
				return err
			}
		case frame, ok := <-w.levels:
			if !ok {
				w.levels = nil
				continue
			}
			if err := w.write(frame, writeTimeout); err != nil {
				return err
			}
		}
	}
}

func (w *frameWriter) write(frame []byte, writeTimeout time.Duration) error {
	if len(frame) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame)
}

// sendLatest queues frame on a latest-wins channel, evicting a stale
// entry if the consumer has not caught up.
func sendLatest(ch chan []byte, frame []byte) {
	for {
		select {
		case ch <- frame:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// sendOrDrop queues frame without blocking; a full queue drops the frame.
func sendOrDrop(ch chan []byte, frame []byte) bool {
	select {
	case ch <- frame:
		return true
	default:
		return false
	}
}
