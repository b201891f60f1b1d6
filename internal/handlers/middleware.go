package handlers

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/12jason0/DoNa-sub000/internal/config"
	"github.com/12jason0/DoNa-sub000/internal/web"
)

var (
	metricRequestsTotal   uint64
	metricRequestsFailed  uint64
	metricRequestLatencyN uint64
	metricRateLimited     uint64
	metricMessagesDropped uint64
)

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := middleware.GetReqID(r.Context())
		if rid != "" {
			w.Header().Set("X-Request-Id", rid)
		}
		sw := &web.StatusWriter{ResponseWriter: w, Code: 200}
		next.ServeHTTP(sw, r)
		ms := uint64(time.Since(start).Milliseconds())
		atomic.AddUint64(&metricRequestsTotal, 1)
		atomic.AddUint64(&metricRequestLatencyN, ms)
		if sw.Code >= 400 {
			atomic.AddUint64(&metricRequestsFailed, 1)
		}
		slog.Info("request",
			"requestId", rid,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.Code,
			"ms", ms,
		)
	})
}

// AuthMiddleware requires the configured bearer token. Browsers cannot set
// headers on a websocket handshake, so an upgrade may carry it as ?token=.
func AuthMiddleware(cfg *config.RuntimeConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.Token != "" {
			auth := r.Header.Get("Authorization")
			if auth == "" && websocket.IsWebSocketUpgrade(r) {
				if q := r.URL.Query().Get("token"); q != "" {
					auth = "Bearer " + q
				}
			}
			if auth == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="donashell", error="missing_token"`)
				web.ErrorCode(w, 401, "missing_token", "unauthorized", false, nil)
				return
			}
			if auth != "Bearer "+cfg.Token {
				w.Header().Set("WWW-Authenticate", `Bearer realm="donashell", error="bad_token"`)
				web.ErrorCode(w, 401, "bad_token", "unauthorized", false, nil)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// CorsMiddleware only answers pages served from the control origin itself.
// Requests without an Origin header (the CLI, curl) pass through.
func CorsMiddleware(cfg *config.RuntimeConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if !AllowedOrigin(cfg, origin) {
				slog.Warn("request from foreign origin refused", "origin", origin, "path", r.URL.Path)
				web.ErrorCode(w, 403, "bad_origin", "origin not allowed", false, nil)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AllowedOrigin reports whether origin is the control API's own. An empty
// origin is a non-browser client.
func AllowedOrigin(cfg *config.RuntimeConfig, origin string) bool {
	if origin == "" {
		return true
	}
	o := strings.TrimSuffix(strings.ToLower(origin), "/")
	if o == strings.ToLower(cfg.ControlURL()) {
		return true
	}
	for _, host := range []string{"127.0.0.1", "localhost", "[::1]"} {
		if o == "http://"+host+":"+cfg.Port {
			return true
		}
	}
	return false
}

var (
	rateMu      sync.Mutex
	rateBuckets = map[string][]time.Time{}
)

// RateLimitMiddleware caps requests per client address. Health checks and
// the event stream are exempt. RemoteAddr is expected to be resolved by
// middleware.RealIP.
func RateLimitMiddleware(next http.Handler) http.Handler {
	const window = 10 * time.Second
	const maxReq = 120
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := strings.TrimSpace(r.URL.Path)
		if p == "/health" || p == "/metrics" || p == "/events" {
			next.ServeHTTP(w, r)
			return
		}
		host, _, _ := net.SplitHostPort(r.RemoteAddr)
		if host == "" {
			host = r.RemoteAddr
		}

		now := time.Now()
		rateMu.Lock()
		hits := rateBuckets[host]
		filtered := hits[:0]
		for _, t := range hits {
			if now.Sub(t) < window {
				filtered = append(filtered, t)
			}
		}
		if len(filtered) >= maxReq {
			rateBuckets[host] = filtered
			rateMu.Unlock()
			atomic.AddUint64(&metricRateLimited, 1)
			web.ErrorCode(w, 429, "rate_limited", "too many requests", true, map[string]any{"windowSec": int(window.Seconds()), "max": maxReq})
			return
		}
		rateBuckets[host] = append(filtered, now)
		rateMu.Unlock()

		next.ServeHTTP(w, r)
	})
}
