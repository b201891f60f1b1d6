package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/12jason0/DoNa-sub000/internal/config"
)

// InitChrome starts (or connects to) the browser that hosts the surface and
// returns the allocator and browser contexts.
func InitChrome(cfg *config.RuntimeConfig) (context.Context, context.CancelFunc, context.Context, context.CancelFunc, error) {
	slog.Info("starting chrome", "headless", cfg.Headless, "profile", cfg.ProfileDir, "remote", cfg.CdpURL != "")

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.CdpURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.CdpURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		slog.Error("chrome start failed", "err", err)
		return nil, nil, nil, nil, fmt.Errorf("failed to connect to chrome: %w", err)
	}

	slog.Info("chrome ready", "headless", cfg.Headless)
	return allocCtx, allocCancel, browserCtx, browserCancel, nil
}

func allocatorOptions(cfg *config.RuntimeConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ChromeBinary != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromeBinary))
	}
	if cfg.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.ProfileDir))
	}

	w, h := windowSize(cfg)
	opts = append(opts,
		chromedp.WindowSize(w, h),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	for name, value := range parseExtraFlags(cfg.ChromeExtraFlags) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// windowSize is the configured surface size, phone-shaped by default.
func windowSize(cfg *config.RuntimeConfig) (int, int) {
	w, h := cfg.WindowWidth, cfg.WindowHeight
	if w <= 0 {
		w = 430
	}
	if h <= 0 {
		h = 932
	}
	return w, h
}

// parseExtraFlags turns "--a=b --c" into {"a": "b", "c": true}.
func parseExtraFlags(s string) map[string]any {
	flags := make(map[string]any)
	for _, f := range strings.Fields(s) {
		f = strings.TrimLeft(f, "-")
		if f == "" {
			continue
		}
		if name, value, ok := strings.Cut(f, "="); ok {
			flags[name] = value
		} else {
			flags[f] = true
		}
	}
	return flags
}
