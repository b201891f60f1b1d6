package handlers

import (
	"net/http"
	"time"

	"github.com/12jason0/DoNa-sub000/internal/web"
)

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	st := h.Ctrl.Status()
	status := "ok"
	if !st.Attached {
		status = "disconnected"
	}
	web.JSON(w, 200, map[string]any{
		"status":  status,
		"version": h.Version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"cdp":     h.Config.CdpURL,
	})
}

func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, 200, h.Ctrl.Status())
}

func (h *Handlers) HandleHelp(w http.ResponseWriter, _ *http.Request) {
	web.JSON(w, 200, map[string]any{
		"name": "donashell",
		"endpoints": map[string]any{
			"GET /health":    "surface health",
			"GET /status":    "controller state (surface, session, cooldown)",
			"GET /metrics":   "request and bridge counters",
			"GET /help":      "this help payload",
			"GET /events":    "websocket stream of bridge traffic (kind=<kind> filters)",
			"POST /deeplink": `route a deep link into the surface: {"uri": "..."}`,
			"POST /back":     "hardware back: history back inside the surface",
			"POST /messages": "post a raw bridge message as if the page sent it",
			"POST /shutdown": "stop the shell",
		},
		"notes": []string{
			"Use Authorization: Bearer <token>; without DONA_TOKEN the token is in <stateDir>/control-token.",
			"Browser requests from any origin but the API's own are refused.",
			"The event stream also accepts ?token=<token>.",
		},
	})
}
