// Package bridge connects the web app running in the embedded browser
// surface to the native shell: it decodes what the page posts, decides where
// navigations may go, and injects scripts and events back into the page.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/12jason0/DoNa-sub000/internal/auth"
	"github.com/12jason0/DoNa-sub000/internal/backend"
	"github.com/12jason0/DoNa-sub000/internal/deeplink"
	"github.com/12jason0/DoNa-sub000/internal/message"
	"github.com/12jason0/DoNa-sub000/internal/purchase"
	"github.com/12jason0/DoNa-sub000/internal/urlpolicy"
)

// Backend is the part of the web backend the controller talks to directly.
type Backend interface {
	AppleLogin(ctx context.Context, identityToken, authCode, email string) (backend.AppleSession, error)
}

type AppleVerifier interface {
	Verify(ctx context.Context, raw, nonce string) (auth.AppleIdentity, error)
}

type Options struct {
	Policy   *urlpolicy.Policy
	Links    *deeplink.Resolver
	Auth     *auth.Machine
	Platform Platform
	Hub      *Hub

	// Backend and Apple are optional; without them appleLogin fails cleanly.
	Backend Backend
	Apple   AppleVerifier

	HomePath  string
	Logout    auth.LogoutPage
	Bootstrap BootstrapConfig
	// InboxSize bounds the messages waiting for the dispatch loop.
	InboxSize int
	// ActionTimeout bounds a single injection or platform call.
	ActionTimeout time.Duration
}

// Status is a snapshot for the control API.
type Status struct {
	Attached   bool   `json:"attached"`
	Generation uint64 `json:"generation"`
	URL        string `json:"url,omitempty"`
	Dark       bool   `json:"dark"`
	Loads      uint64 `json:"loads"`
	UserID     string `json:"userId,omitempty"`
	HasToken   bool   `json:"hasToken"`
	Cooldown   string `json:"cooldown,omitempty"`
	Pending    string `json:"pending,omitempty"`
}

// Controller owns the surface and every exchange with it. Page messages are
// handled one at a time, in arrival order, by Run.
type Controller struct {
	opts      Options
	purchases *purchase.Coordinator
	inbox     chan string

	mu      sync.Mutex
	surface Surface
	gen     uint64
	loads   uint64
	url     string
	dark    bool
	pending string
	// signedOut stays set from a logout until the page hands over a new
	// token; every document loaded meanwhile drops its stored token.
	signedOut bool

	bgMu sync.Mutex
	bg   context.Context
	wg   sync.WaitGroup
}

func NewController(opts Options) *Controller {
	if opts.InboxSize <= 0 {
		opts.InboxSize = 256
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 15 * time.Second
	}
	if opts.HomePath == "" {
		opts.HomePath = "/"
	}
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	return &Controller{opts: opts, inbox: make(chan string, opts.InboxSize), bg: context.Background()}
}

// SetPurchases installs the coordinator. It dispatches back through the
// controller, so it is built after it.
func (c *Controller) SetPurchases(p *purchase.Coordinator) {
	c.mu.Lock()
	c.purchases = p
	c.mu.Unlock()
}

func (c *Controller) Hub() *Hub { return c.opts.Hub }

// Deliver queues one raw message from the page. It never blocks; when the
// inbox is full the message is dropped.
func (c *Controller) Deliver(raw string) bool {
	select {
	case c.inbox <- raw:
		return true
	default:
		slog.Warn("bridge inbox full, message dropped", "size", len(raw))
		return false
	}
}

// Run processes queued messages until ctx is done, then waits for purchase
// and sign-in flows that are still running.
func (c *Controller) Run(ctx context.Context) {
	c.bgMu.Lock()
	c.bg = ctx
	c.bgMu.Unlock()
	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return
		case raw := <-c.inbox:
			c.HandleMessage(ctx, raw)
		}
	}
}

// HandleMessage decodes and applies one page message. Malformed input and
// types this build does not know are dropped.
func (c *Controller) HandleMessage(ctx context.Context, raw string) {
	msg, err := message.Decode(raw)
	if err != nil {
		slog.Warn("bridge message dropped", "err", err)
		return
	}
	c.opts.Hub.Publish(EventInbound, string(msg.Type), inboundDetail(msg))

	switch body := msg.Body.(type) {
	case message.SetAuthToken:
		if err = c.opts.Auth.SetAuthToken(ctx, body.Token); err == nil {
			c.tokenChanged(ctx, false)
		}
	case message.Login:
		_, err = c.opts.Auth.Login(ctx, body.UserID.String())
	case message.Logout:
		err = c.logout(ctx)
	case message.DarkModeChange:
		err = c.appearance(ctx, body.IsDark)
	case message.KakaoShare:
		err = c.opts.Platform.Share(ctx, body)
	case message.OpenExternalBrowser:
		err = c.opts.Platform.OpenExternal(ctx, body.URL)
	case message.PurchaseRequest:
		c.startPurchase(body)
	case message.AppleLogin:
		c.startAppleLogin(body)
	default:
		slog.Debug("bridge message ignored", "type", msg.Type)
	}
	if err != nil {
		slog.Warn("bridge message failed", "type", msg.Type, "err", err)
	}
}

// logout re-registers the bootstrap before the logout script reloads the
// page, so the next document starts without the old token.
func (c *Controller) logout(ctx context.Context) error {
	err := c.opts.Auth.Logout(ctx)
	c.tokenChanged(ctx, true)
	if ierr := c.inject(ctx, c.opts.Logout.Script()); ierr != nil {
		err = errors.Join(err, ierr)
	}
	return err
}

func (c *Controller) appearance(ctx context.Context, dark bool) error {
	c.mu.Lock()
	c.dark = dark
	s := c.surface
	c.mu.Unlock()
	err := c.opts.Platform.SetAppearance(ctx, dark)
	if s != nil {
		if serr := s.SetBackground(ctx, dark); serr != nil {
			slog.Debug("surface background not updated", "err", serr)
		}
	}
	return err
}

// Attach makes s the current surface and returns its generation.
func (c *Controller) Attach(s Surface) uint64 {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.surface = s
	c.mu.Unlock()
	c.opts.Hub.Publish(EventLifecycle, "attach", map[string]any{"generation": gen})
	return gen
}

// TakePending returns and clears the deep link that arrived while no
// surface was attached; the host opens it instead of its own start page.
func (c *Controller) TakePending() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	c.pending = ""
	return p
}

// ResumeURL is where a surface restarted after a crash goes: a deep link
// that arrived meanwhile, the entry the surface still reports, the last
// loaded page, or the start page.
func (c *Controller) ResumeURL(ctx context.Context, s Surface) string {
	if p := c.TakePending(); p != "" {
		return p
	}
	if s != nil {
		actx, cancel := context.WithTimeout(ctx, c.opts.ActionTimeout)
		u, err := s.CurrentURL(actx)
		cancel()
		web := strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")
		if err == nil && web && c.opts.Policy.Classify(u).Load() {
			return u
		}
	}
	c.mu.Lock()
	last := c.url
	c.mu.Unlock()
	if last != "" {
		return last
	}
	return c.LaunchURL("")
}

// Detach drops the surface of generation gen. Injections issued afterwards
// are no-ops until the next Attach.
func (c *Controller) Detach(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.surface == nil {
		return
	}
	c.surface = nil
	c.opts.Hub.Publish(EventLifecycle, "detach", map[string]any{"generation": gen})
}

func (c *Controller) current() Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surface
}

// inject runs script in whatever surface is current at call time.
func (c *Controller) inject(ctx context.Context, script string) error {
	s := c.current()
	if s == nil {
		slog.Debug("no surface, injection skipped")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.ActionTimeout)
	defer cancel()
	c.opts.Hub.Publish(EventOutbound, "script", script)
	return s.Evaluate(ctx, script)
}

// Dispatch fires a DOM CustomEvent named event in the page.
func (c *Controller) Dispatch(ctx context.Context, event string, detail any) error {
	script, err := message.DispatchEventScript(event, detail)
	if err != nil {
		return err
	}
	s := c.current()
	if s == nil {
		slog.Debug("no surface, event dropped", "event", event)
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.ActionTimeout)
	defer cancel()
	c.opts.Hub.Publish(EventOutbound, event, detail)
	return s.Evaluate(ctx, script)
}

// OnContentLoaded runs after every main-frame load: the bootstrap is
// registered for the next document with the current token and evaluated on
// this one, then the product list is published.
func (c *Controller) OnContentLoaded(ctx context.Context, url string) {
	c.mu.Lock()
	c.loads++
	c.url = url
	s := c.surface
	coord := c.purchases
	c.mu.Unlock()
	if s == nil {
		return
	}
	c.opts.Hub.Publish(EventLifecycle, "contentLoaded", map[string]any{"url": url})

	actx, cancel := context.WithTimeout(ctx, c.opts.ActionTimeout)
	defer cancel()
	if script, ok := c.registerBootstrap(actx, s); ok {
		if err := s.Evaluate(actx, script); err != nil {
			slog.Warn("bootstrap not evaluated", "url", url, "err", err)
		}
	}

	if coord != nil {
		c.goAsync(func(ctx context.Context) {
			if err := coord.PublishProducts(ctx); err != nil {
				slog.Debug("products not published", "err", err)
			}
		})
	}
}

// tokenChanged registers a bootstrap carrying the machine's current token
// for the next document. signedOut marks a logout.
func (c *Controller) tokenChanged(ctx context.Context, signedOut bool) {
	c.mu.Lock()
	c.signedOut = signedOut
	s := c.surface
	c.mu.Unlock()
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.ActionTimeout)
	defer cancel()
	c.registerBootstrap(ctx, s)
}

func (c *Controller) registerBootstrap(ctx context.Context, s Surface) (string, bool) {
	cfg := c.opts.Bootstrap
	cfg.Token = c.opts.Auth.Token()
	c.mu.Lock()
	cfg.ClearToken = c.signedOut && cfg.Token == ""
	c.mu.Unlock()
	script, err := RenderBootstrap(cfg)
	if err != nil {
		slog.Error("bootstrap", "err", err)
		return "", false
	}
	if err := s.SetBootstrap(ctx, script); err != nil {
		slog.Warn("bootstrap not registered", "err", err)
	}
	return script, true
}

// inboundDetail is the traffic-stream view of msg with credentials redacted.
func inboundDetail(msg message.Message) any {
	body := msg.Body
	switch b := body.(type) {
	case message.SetAuthToken:
		b.Token = redacted
		body = b
	case message.Unknown:
		return nil
	}
	env, err := message.Encode(msg.Type, body)
	if err != nil {
		return nil
	}
	return json.RawMessage(env)
}

const redacted = "[redacted]"

// LaunchURL is the first URL the surface loads for a cold start.
func (c *Controller) LaunchURL(uri string) string {
	return c.opts.Links.LaunchURL(uri, c.opts.HomePath)
}

// HandleDeepLink moves the surface to the page uri points at. It reports
// false when uri is not one of ours.
func (c *Controller) HandleDeepLink(ctx context.Context, uri string) bool {
	path, ok := c.opts.Links.Resolve(uri)
	if !ok {
		slog.Debug("deep link not handled", "uri", uri)
		return false
	}
	target := c.opts.Links.Absolute(path)
	c.mu.Lock()
	if c.surface == nil {
		c.pending = target
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()
	if err := c.inject(ctx, deeplink.NavigateScript(target)); err != nil {
		slog.Warn("deep link navigation failed", "url", target, "err", err)
	}
	return true
}

// OnBackPressed steps the surface back. false means the surface had no
// history and the platform should handle back itself.
func (c *Controller) OnBackPressed(ctx context.Context) bool {
	s := c.current()
	if s == nil {
		return false
	}
	ok, err := s.Back(ctx)
	if err != nil {
		slog.Warn("back navigation failed", "err", err)
		return false
	}
	return ok
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		Attached:   c.surface != nil,
		Generation: c.gen,
		URL:        c.url,
		Dark:       c.dark,
		Loads:      c.loads,
		Pending:    c.pending,
	}
	c.mu.Unlock()
	sess := c.opts.Auth.Session()
	st.UserID = sess.UserID
	st.HasToken = sess.Token != ""
	if sess.CooldownActive {
		st.Cooldown = sess.CooldownLeft.Round(time.Millisecond).String()
	}
	return st
}

// goAsync runs fn outside the dispatch loop with the Run context.
func (c *Controller) goAsync(fn func(ctx context.Context)) {
	c.bgMu.Lock()
	ctx := c.bg
	c.bgMu.Unlock()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(ctx)
	}()
}

// Wait blocks until every background flow has finished.
func (c *Controller) Wait() { c.wg.Wait() }
