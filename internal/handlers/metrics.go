package handlers

import (
	"net/http"
	"sync/atomic"

	"github.com/12jason0/DoNa-sub000/internal/web"
)

func recordDroppedMessage() {
	atomic.AddUint64(&metricMessagesDropped, 1)
}

func snapshotMetrics() map[string]any {
	total := atomic.LoadUint64(&metricRequestsTotal)
	failed := atomic.LoadUint64(&metricRequestsFailed)
	latencySum := atomic.LoadUint64(&metricRequestLatencyN)
	avgMs := 0.0
	if total > 0 {
		avgMs = float64(latencySum) / float64(total)
	}
	return map[string]any{
		"requestsTotal":   total,
		"requestsFailed":  failed,
		"avgLatencyMs":    avgMs,
		"rateLimited":     atomic.LoadUint64(&metricRateLimited),
		"messagesDropped": atomic.LoadUint64(&metricMessagesDropped),
	}
}

func (h *Handlers) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := snapshotMetrics()
	m["eventSubscribers"] = h.Ctrl.Hub().Subscribers()
	web.JSON(w, 200, m)
}
