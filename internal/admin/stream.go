package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/rpgscribe/rpgscribe/internal/bus"
	"github.com/rpgscribe/rpgscribe/internal/events"
)

// streamEnvelope wraps a bus event with a type discriminator for clients
// that receive a single mixed stream of event kinds.
type streamEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// connFanout is one connected client's mailbox. The channel is buffered so
// a slow reader doesn't stall event delivery to everyone else; a full
// mailbox drops the oldest pending event rather than blocking the
// publisher goroutine, matching the bus's own rule that a slow subscriber
// must never block others.
type connFanout struct {
	sessionID string
	ch        chan streamEnvelope
}

// hub fans bus events out to connected SSE/WebSocket clients, grouped by
// session ID. Connect/disconnect races with broadcast, so the connection
// list is guarded by a mutex.
type hub struct {
	mu    sync.Mutex
	conns map[*connFanout]struct{}
}

func newHub() *hub {
	return &hub{conns: make(map[*connFanout]struct{})}
}

const fanoutBuffer = 32

func (h *hub) register(sessionID string) *connFanout {
	c := &connFanout{sessionID: sessionID, ch: make(chan streamEnvelope, fanoutBuffer)}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(c *connFanout) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	close(c.ch)
}

// broadcast delivers env to every connection subscribed to sessionID.
// sessionID == "" (SystemStatus carries none) delivers to every connection
// regardless of session, since operator health visibility is global.
func (h *hub) broadcast(sessionID string, env streamEnvelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		if sessionID != "" && c.sessionID != sessionID {
			continue
		}
		select {
		case c.ch <- env:
		default:
			select {
			case <-c.ch:
			default:
			}
			select {
			case c.ch <- env:
			default:
			}
		}
	}
}

// attach subscribes the hub to every event kind the admin surface forwards.
// Handlers here never do I/O beyond an in-memory channel send, so they
// finish instantly and never hold up a publish.
func (h *hub) attach(b *bus.Bus) {
	bus.Subscribe[events.Transcription](b, "admin:stream:transcription", func(_ context.Context, ev events.Transcription) error {
		h.broadcast(ev.SessionID, streamEnvelope{Type: "transcription", Payload: ev})
		return nil
	})
	bus.Subscribe[events.SummaryUpdate](b, "admin:stream:summary", func(_ context.Context, ev events.SummaryUpdate) error {
		h.broadcast(ev.SessionID, streamEnvelope{Type: "summary_update", Payload: ev})
		return nil
	})
	bus.Subscribe[events.SystemStatus](b, "admin:stream:status", func(_ context.Context, ev events.SystemStatus) error {
		h.broadcast("", streamEnvelope{Type: "system_status", Payload: ev})
		return nil
	})
}

// streamSSE serves GET /api/sessions/{id}/events as a Server-Sent Events
// stream scoped to one session.
func (h *Handler) streamSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := h.hub.register(sessionID)
	defer h.hub.unregister(c)

	ctx := r.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-c.ch:
			if !ok {
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// streamWS serves GET /ws?session_id=... as a WebSocket variant of the same
// per-session event stream, for clients that prefer a persistent duplex
// connection over SSE.
func (h *Handler) streamWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	c := h.hub.register(sessionID)
	defer h.hub.unregister(c)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case env, ok := <-c.ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
