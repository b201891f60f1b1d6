package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/12jason0/DoNa-sub000/internal/auth"
	"github.com/12jason0/DoNa-sub000/internal/backend"
	"github.com/12jason0/DoNa-sub000/internal/deeplink"
	"github.com/12jason0/DoNa-sub000/internal/message"
	"github.com/12jason0/DoNa-sub000/internal/purchase"
	"github.com/12jason0/DoNa-sub000/internal/store"
	"github.com/12jason0/DoNa-sub000/internal/urlpolicy"
)

type fakeSurface struct {
	mu         sync.Mutex
	evaluated  []string
	bootstraps []string
	calls      []string // "evaluate" and "bootstrap", in call order
	navigated  []string
	dark       []bool
	url        string
	canGoBack  bool
	backs      int
	evalErr    error
}

func (s *fakeSurface) Evaluate(_ context.Context, script string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluated = append(s.evaluated, script)
	s.calls = append(s.calls, "evaluate")
	return s.evalErr
}

func (s *fakeSurface) SetBootstrap(_ context.Context, script string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bootstraps = append(s.bootstraps, script)
	s.calls = append(s.calls, "bootstrap")
	return nil
}

func (s *fakeSurface) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigated = append(s.navigated, url)
	return nil
}

func (s *fakeSurface) Back(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canGoBack {
		return false, nil
	}
	s.backs++
	return true, nil
}

func (s *fakeSurface) CurrentURL(context.Context) (string, error) { return s.url, nil }

func (s *fakeSurface) SetBackground(_ context.Context, dark bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dark = append(s.dark, dark)
	return nil
}

func (s *fakeSurface) lastBootstrap() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bootstraps) == 0 {
		return ""
	}
	return s.bootstraps[len(s.bootstraps)-1]
}

func (s *fakeSurface) scripts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.evaluated...)
}

// scriptsContaining returns the evaluated scripts that mention substr.
func (s *fakeSurface) scriptsContaining(substr string) []string {
	var out []string
	for _, sc := range s.scripts() {
		if strings.Contains(sc, substr) {
			out = append(out, sc)
		}
	}
	return out
}

type fakePlatform struct {
	mu        sync.Mutex
	external  []string
	schemes   []string
	failOpen  map[string]bool
	shares    []message.KakaoShare
	dark      []bool
	pushToken string
	apple     AppleCredential
	appleErr  error
}

func (p *fakePlatform) OpenExternal(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.external = append(p.external, url)
	return nil
}

func (p *fakePlatform) OpenScheme(_ context.Context, uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schemes = append(p.schemes, uri)
	if p.failOpen[uri] {
		return errors.New("no handler")
	}
	return nil
}

func (p *fakePlatform) PushToken(context.Context) (string, error) { return p.pushToken, nil }

func (p *fakePlatform) SetAppearance(_ context.Context, dark bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dark = append(p.dark, dark)
	return nil
}

func (p *fakePlatform) Share(_ context.Context, s message.KakaoShare) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shares = append(p.shares, s)
	return nil
}

func (p *fakePlatform) AppleSignIn(context.Context, string) (AppleCredential, error) {
	return p.apple, p.appleErr
}

func (p *fakePlatform) opened() (external, schemes []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.external...), append([]string(nil), p.schemes...)
}

type fakeConfirmer struct {
	tier string
	err  error

	mu   sync.Mutex
	seen []purchase.Confirmation
}

func (f *fakeConfirmer) ConfirmPurchase(_ context.Context, c purchase.Confirmation) (purchase.Confirmed, error) {
	f.mu.Lock()
	f.seen = append(f.seen, c)
	f.mu.Unlock()
	return purchase.Confirmed{Tier: f.tier}, f.err
}

type fakeVerifier struct {
	id  auth.AppleIdentity
	err error
}

func (v fakeVerifier) Verify(context.Context, string, string) (auth.AppleIdentity, error) {
	return v.id, v.err
}

type fakeBackend struct {
	session backend.AppleSession
	err     error
}

func (b fakeBackend) AppleLogin(context.Context, string, string, string) (backend.AppleSession, error) {
	return b.session, b.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctrl     *Controller
	surface  *fakeSurface
	platform *fakePlatform
	machine  *auth.Machine
	clock    *fakeClock
	store    store.Store
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	machine := auth.NewMachine(st, auth.WithClock(clock.Now))

	policy, err := urlpolicy.New(urlpolicy.Lists{
		AppOrigin:      "https://dona.io.kr",
		AppScheme:      "dona",
		NativeSchemes:  []string{"kakaotalk", "kakaolink", "nmap"},
		SharerDomains:  []string{"sharer.kakao.com"},
		AuthFragment:   "#_=_",
		PartnerDomains: []string{"map.naver.com"},
		AuthDomains:    []string{"kauth.kakao.com"},
	})
	require.NoError(t, err)

	platform := &fakePlatform{failOpen: map[string]bool{}}
	opts := Options{
		Policy: policy,
		Links: deeplink.NewResolver(deeplink.Config{
			Origin:    "https://dona.io.kr",
			AppScheme: "dona",
			Prefixes:  []string{"/courses", "/map"},
			IDParam:   "courseId",
			IDPath:    "/courses/{id}",
		}),
		Auth:          machine,
		Platform:      platform,
		Logout:        auth.LogoutPage{EndpointURL: "https://dona.io.kr/api/auth/logout"},
		Bootstrap:     BootstrapConfig{AppearanceMs: 1000, FlushMs: 100},
		ActionTimeout: time.Second,
	}
	for _, m := range mutate {
		m(&opts)
	}
	ctrl := NewController(opts)
	surface := &fakeSurface{}
	ctrl.Attach(surface)
	return &fixture{ctrl: ctrl, surface: surface, platform: platform, machine: machine, clock: clock, store: st}
}

func (f *fixture) withPurchases(t *testing.T, confirmer purchase.Confirmer) {
	t.Helper()
	products, err := purchase.NewProductMap(map[string]string{"premium_monthly": "dona_premium_1m"})
	require.NoError(t, err)
	f.ctrl.SetPurchases(purchase.NewCoordinator(purchase.NewSandbox(products), products, confirmer, f.ctrl))
}
