package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/12jason0/DoNa-sub000/internal/web"
)

func (h *Handlers) HandleDeepLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URI string `json:"uri"`
	}
	if err := web.DecodeJSON(w, r, maxBodySize, &req); err != nil {
		web.Error(w, 400, err)
		return
	}
	req.URI = strings.TrimSpace(req.URI)
	if req.URI == "" {
		web.Error(w, 400, fmt.Errorf("uri required"))
		return
	}
	handled := h.Ctrl.HandleDeepLink(r.Context(), req.URI)
	web.JSON(w, 200, map[string]any{"handled": handled})
}

func (h *Handlers) HandleBack(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, 200, map[string]any{"handled": h.Ctrl.OnBackPressed(r.Context())})
}

// HandleMessage queues the request body on the controller inbox exactly as
// the page binding would.
func (h *Handlers) HandleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		web.Error(w, 400, fmt.Errorf("read: %w", err))
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		web.Error(w, 400, fmt.Errorf("empty message"))
		return
	}
	if !h.Ctrl.Deliver(string(body)) {
		recordDroppedMessage()
		web.ErrorCode(w, 503, "inbox_full", "message dropped", true, nil)
		return
	}
	web.JSON(w, 202, map[string]any{"queued": true})
}
