package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/12jason0/DoNa-sub000/internal/config"
)

// fakeShell answers /health and records /deeplink bodies.
func fakeShell(t *testing.T, token string) (*httptest.Server, *[]string) {
	t.Helper()
	var links []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("POST /deeplink", func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(401)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		var req struct {
			URI string `json:"uri"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		links = append(links, req.URI)
		_, _ = w.Write([]byte(`{"handled":true}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &links
}

func TestForwardToRunning(t *testing.T) {
	srv, links := fakeShell(t, "tok")
	t.Setenv("DONA_URL", srv.URL+"/")

	if !forwardToRunning(&config.RuntimeConfig{Token: "tok"}, "dona://courses/9") {
		t.Fatal("expected the link to be forwarded")
	}
	if len(*links) != 1 || (*links)[0] != "dona://courses/9" {
		t.Errorf("links = %v", *links)
	}
}

func TestForwardToRunning_BadToken(t *testing.T) {
	srv, links := fakeShell(t, "tok")
	t.Setenv("DONA_URL", srv.URL)

	if forwardToRunning(&config.RuntimeConfig{Token: "wrong"}, "dona://courses/9") {
		t.Error("rejected forward should report false")
	}
	if len(*links) != 0 {
		t.Errorf("links = %v", *links)
	}
}

func TestForwardToRunning_NoShell(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	t.Setenv("DONA_URL", url)

	if forwardToRunning(&config.RuntimeConfig{}, "dona://x") {
		t.Error("nothing is listening")
	}
}

func TestPostJSON_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		_, _ = w.Write([]byte(`{"error":"uri required"}` + "\n"))
	}))
	defer srv.Close()

	body, err := postJSON(srv.Client(), srv.URL, "", "/deeplink", map[string]any{"uri": ""})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "uri required") {
		t.Errorf("unexpected error %v", err)
	}
	if len(body) == 0 {
		t.Error("error body should be returned")
	}
}

func TestControlBase(t *testing.T) {
	t.Setenv("DONA_URL", "")
	cfg := &config.RuntimeConfig{Bind: "0.0.0.0", Port: "9871"}
	if got := controlBase(cfg); got != "http://127.0.0.1:9871" {
		t.Errorf("controlBase = %q", got)
	}
	t.Setenv("DONA_URL", "http://shell.local:1/")
	if got := controlBase(cfg); got != "http://shell.local:1" {
		t.Errorf("controlBase = %q", got)
	}
}
