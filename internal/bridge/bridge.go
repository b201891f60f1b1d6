package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/12jason0/DoNa-sub000/internal/config"
)

// Bridge hosts the surface in Chrome and feeds its events to the controller.
type Bridge struct {
	AllocCtx      context.Context
	AllocCancel   context.CancelFunc
	BrowserCtx    context.Context
	BrowserCancel context.CancelFunc
	Config        *config.RuntimeConfig

	ctrl *Controller
	ctx  context.Context

	mu         sync.Mutex
	surface    *chromeSurface
	ctrlGen    uint64
	recovering bool
	closed     bool
}

func New(cfg *config.RuntimeConfig, ctrl *Controller) *Bridge {
	return &Bridge{Config: cfg, ctrl: ctrl}
}

// Start launches Chrome and opens the surface on launchURL. ctx bounds the
// lifetime of every listener goroutine.
func (b *Bridge) Start(ctx context.Context, launchURL string) error {
	if b.Config.CdpURL == "" {
		PrepareProfile(b.Config.ProfileDir)
	}
	allocCtx, allocCancel, browserCtx, browserCancel, err := InitChrome(b.Config)
	if err != nil {
		return err
	}
	b.AllocCtx, b.AllocCancel = allocCtx, allocCancel
	b.BrowserCtx, b.BrowserCancel = browserCtx, browserCancel
	b.ctx = ctx

	// the browser context is attached to the first page; it becomes the
	// first surface
	return b.openSurface(browserCtx, launchURL)
}

// Done is closed when the browser goes away.
func (b *Bridge) Done() <-chan struct{} {
	if b.BrowserCtx == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return b.BrowserCtx.Done()
}

func (b *Bridge) openSurface(tabCtx context.Context, rawURL string) error {
	s, err := newChromeSurface(tabCtx)
	if err != nil {
		return err
	}

	chromedp.ListenTarget(tabCtx, func(ev any) { b.onEvent(s, ev) })

	setupCtx, setupCancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer setupCancel()
	if err := s.setup(setupCtx); err != nil {
		return fmt.Errorf("surface setup: %w", err)
	}

	b.mu.Lock()
	b.surface = s
	b.mu.Unlock()
	gen := b.attach(s)
	go func() {
		<-tabCtx.Done()
		b.mu.Lock()
		ctrlGen := b.ctrlGen
		b.mu.Unlock()
		b.ctrl.Detach(ctrlGen)
	}()

	if pending := b.ctrl.TakePending(); pending != "" {
		rawURL = pending
	}
	navCtx, navCancel := context.WithTimeout(b.ctx, b.navigateTimeout())
	defer navCancel()
	if err := s.Navigate(navCtx, rawURL); err != nil {
		return fmt.Errorf("open %s: %w", rawURL, err)
	}
	slog.Info("surface opened", "url", rawURL, "generation", gen)
	return nil
}

// onEvent runs on the chromedp event loop and must not block; every
// protocol call happens on its own goroutine.
func (b *Bridge) onEvent(s *chromeSurface, ev any) {
	switch ev := ev.(type) {
	case *runtime.EventBindingCalled:
		if ev.Name == BindingName {
			b.ctrl.Deliver(ev.Payload)
		}
	case *page.EventFrameNavigated:
		if ev.Frame != nil && ev.Frame.ParentID == "" {
			go b.ctrl.OnContentLoaded(b.ctx, ev.Frame.URL+ev.Frame.URLFragment)
		}
	case *fetch.EventRequestPaused:
		go func() {
			if err := s.resolvePaused(b.ctx, ev, b.ctrl.OnNavigation); err != nil {
				slog.Debug("paused request not resolved", "url", requestURL(ev), "err", err)
			}
		}()
	case *page.EventFrameRequestedNavigation:
		if ev.FrameID == s.frameID && isForeignScheme(ev.URL) {
			go b.ctrl.OnNavigation(b.ctx, ev.URL)
		}
	case *inspector.EventTargetCrashed:
		go b.recoverSurface()
	}
}

func requestURL(ev *fetch.EventRequestPaused) string {
	if ev.Request == nil {
		return ""
	}
	return ev.Request.URL
}

// recoverSurface reloads a crashed surface at the last URL it showed. The
// target survives a renderer crash; the controller sees a new generation.
func (b *Bridge) recoverSurface() {
	b.mu.Lock()
	if b.closed || b.recovering || b.surface == nil {
		b.mu.Unlock()
		return
	}
	b.recovering = true
	s := b.surface
	ctrlGen := b.ctrlGen
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.recovering = false
		b.mu.Unlock()
	}()

	b.ctrl.Detach(ctrlGen)

	ctx, cancel := context.WithTimeout(b.ctx, b.navigateTimeout())
	defer cancel()
	b.attach(s)
	last := b.ctrl.ResumeURL(ctx, s)
	slog.Warn("surface crashed, reloading", "url", last)
	if err := s.Navigate(ctx, last); err != nil {
		slog.Error("surface not reloaded", "err", err)
	}
}

// attach hands s to the controller and returns the generation it got.
func (b *Bridge) attach(s *chromeSurface) uint64 {
	gen := b.ctrl.Attach(s)
	b.mu.Lock()
	b.ctrlGen = gen
	b.mu.Unlock()
	return gen
}

// Cookies implements backend.CookieSource with the surface's cookie jar.
func (b *Bridge) Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
	b.mu.Lock()
	s := b.surface
	b.mu.Unlock()
	if s == nil {
		return nil, errSurfaceClosed
	}
	return s.Cookies(ctx, rawURL)
}

func (b *Bridge) navigateTimeout() time.Duration {
	if b.Config.NavigateTimeout > 0 {
		return b.Config.NavigateTimeout
	}
	return 30 * time.Second
}

// Shutdown closes the browser and leaves the profile marked as cleanly
// exited.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	if b.BrowserCtx != nil {
		if err := chromedp.Cancel(b.BrowserCtx); err != nil {
			slog.Debug("browser close", "err", err)
		}
	}
	if b.BrowserCancel != nil {
		b.BrowserCancel()
	}
	if b.AllocCancel != nil {
		b.AllocCancel()
	}
	if b.Config.CdpURL == "" && b.Config.ProfileDir != "" {
		MarkCleanExit(b.Config.ProfileDir)
	}
	slog.Info("browser closed")
}
