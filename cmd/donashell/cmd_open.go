package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/12jason0/DoNa-sub000/internal/config"
)

// controlBase is the running shell's API root; DONA_URL overrides it.
func controlBase(cfg *config.RuntimeConfig) string {
	if envURL := os.Getenv("DONA_URL"); envURL != "" {
		return strings.TrimRight(envURL, "/")
	}
	return cfg.ControlURL()
}

func handleOpenCommand(cfg *config.RuntimeConfig, args []string) {
	if len(args) < 1 {
		fatal("Usage: donashell open <uri>")
	}
	client := &http.Client{Timeout: 30 * time.Second}
	body, err := postJSON(client, controlBase(cfg), cfg.Token, "/deeplink", map[string]any{"uri": args[0]})
	if err != nil {
		fatal("%v", err)
	}
	printJSON(body)
}

// forwardToRunning hands uri to a shell that is already up. It reports false
// when none answers, and the caller starts one.
func forwardToRunning(cfg *config.RuntimeConfig, uri string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	base := controlBase(cfg)
	if _, err := getJSON(client, base, cfg.Token, "/health"); err != nil {
		return false
	}
	if _, err := postJSON(client, base, cfg.Token, "/deeplink", map[string]any{"uri": uri}); err != nil {
		slog.Warn("running shell did not take the link", "err", err)
		return false
	}
	slog.Info("deep link forwarded to running shell", "uri", uri, "url", base)
	return true
}

func getJSON(client *http.Client, base, token, path string) ([]byte, error) {
	req, err := http.NewRequest("GET", base+path, nil)
	if err != nil {
		return nil, err
	}
	return send(client, req, token)
}

func postJSON(client *http.Client, base, token, path string, body map[string]any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("POST", base+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return send(client, req, token)
}

func send(client *http.Client, req *http.Request, token string) ([]byte, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return body, fmt.Errorf("error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func printJSON(body []byte) {
	var buf bytes.Buffer
	if json.Indent(&buf, body, "", "  ") == nil {
		fmt.Println(buf.String())
	} else {
		fmt.Println(string(body))
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
