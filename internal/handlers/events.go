package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/12jason0/DoNa-sub000/internal/bridge"
)

const (
	eventBuffer = 128
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = pongWait * 9 / 10
)

func (h *Handlers) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return AllowedOrigin(h.Config, r.Header.Get("Origin"))
		},
	}
}

// HandleEvents streams hub events to a websocket client as JSON text frames.
// ?kind=inbound,navigation limits the stream to those kinds.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	kinds := parseKinds(r.URL.Query().Get("kind"))

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request
		slog.Debug("event stream upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	id, events, cancel := h.Ctrl.Hub().Subscribe(eventBuffer)
	defer cancel()
	slog.Info("event stream opened", "subscriber", id, "remote", r.RemoteAddr)
	defer slog.Info("event stream closed", "subscriber", id)

	// the client never sends anything we act on; reading keeps pongs and
	// close frames flowing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !wants(kinds, ev) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func parseKinds(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	kinds := make(map[string]bool)
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[k] = true
		}
	}
	return kinds
}

func wants(kinds map[string]bool, ev bridge.Event) bool {
	return len(kinds) == 0 || kinds[ev.Kind]
}
