package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

var errSurfaceClosed = errors.New("surface closed")

var (
	lightBackground = &cdp.RGBA{R: 255, G: 255, B: 255, A: 1}
	darkBackground  = &cdp.RGBA{R: 18, G: 18, B: 18, A: 1}
)

// chromeSurface is a Surface backed by one Chrome page target.
type chromeSurface struct {
	ctx       context.Context
	frameID   cdp.FrameID
	mu        sync.Mutex
	bootstrap page.ScriptIdentifier
}

func newChromeSurface(tabCtx context.Context) (*chromeSurface, error) {
	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		return nil, fmt.Errorf("tab context has no target")
	}
	// a page target's main frame shares its id
	return &chromeSurface{ctx: tabCtx, frameID: cdp.FrameID(c.Target.TargetID)}, nil
}

// exec binds ctx to the surface target so cdproto commands run there under
// the caller's deadline.
func (s *chromeSurface) exec(ctx context.Context) (context.Context, error) {
	if s.ctx.Err() != nil {
		return nil, errSurfaceClosed
	}
	return cdp.WithExecutor(ctx, chromedp.FromContext(s.ctx).Target), nil
}

// setup wires the message binding and navigation interception. Listeners
// must already be registered.
func (s *chromeSurface) setup(ctx context.Context) error {
	ectx, err := s.exec(ctx)
	if err != nil {
		return err
	}
	if err := runtime.AddBinding(BindingName).Do(ectx); err != nil {
		return fmt.Errorf("add binding: %w", err)
	}
	patterns := []*fetch.RequestPattern{
		{URLPattern: "*", ResourceType: network.ResourceTypeDocument, RequestStage: fetch.RequestStageRequest},
		{URLPattern: "*", ResourceType: network.ResourceTypeDocument, RequestStage: fetch.RequestStageResponse},
	}
	if err := fetch.Enable().WithPatterns(patterns).Do(ectx); err != nil {
		return fmt.Errorf("enable interception: %w", err)
	}
	return nil
}

func (s *chromeSurface) Evaluate(ctx context.Context, script string) error {
	ectx, err := s.exec(ctx)
	if err != nil {
		return err
	}
	_, exc, err := runtime.Evaluate(script).Do(ectx)
	if err != nil {
		return err
	}
	if exc != nil {
		return exc
	}
	return nil
}

func (s *chromeSurface) SetBootstrap(ctx context.Context, script string) error {
	ectx, err := s.exec(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bootstrap != "" {
		_ = page.RemoveScriptToEvaluateOnNewDocument(s.bootstrap).Do(ectx)
		s.bootstrap = ""
	}
	id, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ectx)
	if err != nil {
		return err
	}
	s.bootstrap = id
	return nil
}

func (s *chromeSurface) Navigate(ctx context.Context, rawURL string) error {
	ectx, err := s.exec(ctx)
	if err != nil {
		return err
	}
	_, _, errText, _, err := page.Navigate(rawURL).Do(ectx)
	if err != nil {
		return err
	}
	if errText != "" {
		return fmt.Errorf("navigate %s: %s", rawURL, errText)
	}
	return nil
}

func (s *chromeSurface) Back(ctx context.Context) (bool, error) {
	ectx, err := s.exec(ctx)
	if err != nil {
		return false, err
	}
	cur, entries, err := page.GetNavigationHistory().Do(ectx)
	if err != nil {
		return false, err
	}
	if cur <= 0 || int(cur) >= len(entries) {
		return false, nil
	}
	if err := page.NavigateToHistoryEntry(entries[cur-1].ID).Do(ectx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *chromeSurface) CurrentURL(ctx context.Context) (string, error) {
	ectx, err := s.exec(ctx)
	if err != nil {
		return "", err
	}
	cur, entries, err := page.GetNavigationHistory().Do(ectx)
	if err != nil {
		return "", err
	}
	if cur < 0 || int(cur) >= len(entries) {
		return "", nil
	}
	return entries[cur].URL, nil
}

func (s *chromeSurface) SetBackground(ctx context.Context, dark bool) error {
	ectx, err := s.exec(ctx)
	if err != nil {
		return err
	}
	color := lightBackground
	if dark {
		color = darkBackground
	}
	return emulation.SetDefaultBackgroundColorOverride().WithColor(color).Do(ectx)
}

// Cookies returns the cookies the surface would send to rawURL, httpOnly
// ones included.
func (s *chromeSurface) Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
	ectx, err := s.exec(ctx)
	if err != nil {
		return nil, err
	}
	cookies, err := network.GetCookies().WithURLs([]string{rawURL}).Do(ectx)
	if err != nil {
		return nil, err
	}
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out, nil
}

// resolvePaused answers one intercepted document request: main-frame
// navigations and redirects out of http go through decide, everything else
// continues.
func (s *chromeSurface) resolvePaused(ctx context.Context, ev *fetch.EventRequestPaused, decide func(context.Context, string) bool) error {
	allow := true
	if ev.FrameID == s.frameID && ev.ResourceType == network.ResourceTypeDocument {
		if target := pausedTarget(ev); target != "" {
			allow = decide(ctx, target)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ectx, err := s.exec(ctx)
	if err != nil {
		return err
	}
	if allow {
		return fetch.ContinueRequest(ev.RequestID).Do(ectx)
	}
	return fetch.FailRequest(ev.RequestID, network.ErrorReasonAborted).Do(ectx)
}

// pausedTarget is the URL a paused document request is about to load, or ""
// when the pause needs no decision.
func pausedTarget(ev *fetch.EventRequestPaused) string {
	atResponse := ev.ResponseStatusCode != 0 || ev.ResponseErrorReason != ""
	if !atResponse {
		if ev.Request == nil {
			return ""
		}
		return ev.Request.URL + ev.Request.URLFragment
	}
	// http redirects pause again at the request stage; only a redirect to
	// another scheme needs to be caught here
	if ev.ResponseStatusCode < 300 || ev.ResponseStatusCode > 399 {
		return ""
	}
	for _, h := range ev.ResponseHeaders {
		if strings.EqualFold(h.Name, "Location") && isForeignScheme(h.Value) {
			return h.Value
		}
	}
	return ""
}

// isForeignScheme reports whether raw names a scheme other than http(s).
// Relative references have no scheme.
func isForeignScheme(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme != "" && scheme != "http" && scheme != "https"
}
