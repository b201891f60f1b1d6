package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/12jason0/DoNa-sub000/internal/message"
	"github.com/12jason0/DoNa-sub000/internal/urlpolicy"
)

var ErrUnsupported = errors.New("not supported on this platform")

// AppleCredential is what the platform's Sign in with Apple sheet returns.
type AppleCredential struct {
	IdentityToken     string
	AuthorizationCode string
	Email             string
}

// Platform is the host OS as seen by the bridge.
type Platform interface {
	// OpenExternal shows url in the system browser, outside the surface.
	OpenExternal(ctx context.Context, url string) error
	// OpenScheme asks the OS to hand uri to whatever app owns its scheme.
	OpenScheme(ctx context.Context, uri string) error
	// PushToken returns the device push token, or "" when push is unavailable.
	PushToken(ctx context.Context) (string, error)
	SetAppearance(ctx context.Context, dark bool) error
	Share(ctx context.Context, s message.KakaoShare) error
	AppleSignIn(ctx context.Context, nonce string) (AppleCredential, error)
}

// DesktopPlatform hands URLs to the desktop's default handlers. Only the
// schemes it was built with are passed to the OS as app handoffs.
type DesktopPlatform struct {
	// run starts the opener; replaced in tests.
	run     func(ctx context.Context, name string, args ...string) error
	schemes map[string]bool

	mu   sync.Mutex
	dark bool
}

func NewDesktopPlatform(schemes ...string) *DesktopPlatform {
	p := &DesktopPlatform{run: startCommand, schemes: make(map[string]bool)}
	for _, s := range schemes {
		if s = urlpolicy.NormalizeScheme(s); s != "" && s != "http" && s != "https" && s != "file" {
			p.schemes[s] = true
		}
	}
	return p
}

func startCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func openerFor(goos, target string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{target}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", target}
	default:
		return "xdg-open", []string{target}
	}
}

func (p *DesktopPlatform) open(ctx context.Context, target string) error {
	name, args := openerFor(runtime.GOOS, target)
	if err := p.run(ctx, name, args...); err != nil {
		return fmt.Errorf("%s %s: %w", name, target, err)
	}
	return nil
}

func (p *DesktopPlatform) OpenExternal(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("refusing to open %q in the browser", raw)
	}
	return p.open(context.WithoutCancel(ctx), raw)
}

func (p *DesktopPlatform) OpenScheme(ctx context.Context, uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return err
	}
	if !p.schemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("refusing to hand %q to the OS: scheme not allowed", uri)
	}
	return p.open(context.WithoutCancel(ctx), uri)
}

func (p *DesktopPlatform) PushToken(context.Context) (string, error) { return "", nil }

func (p *DesktopPlatform) SetAppearance(_ context.Context, dark bool) error {
	p.mu.Lock()
	changed := p.dark != dark
	p.dark = dark
	p.mu.Unlock()
	if changed {
		slog.Debug("appearance changed", "dark", dark)
	}
	return nil
}

// Share has no native share sheet on desktop; the shared link opens in the
// browser instead.
func (p *DesktopPlatform) Share(ctx context.Context, s message.KakaoShare) error {
	if s.Link == "" {
		return fmt.Errorf("share without link")
	}
	return p.OpenExternal(ctx, s.Link)
}

func (p *DesktopPlatform) AppleSignIn(context.Context, string) (AppleCredential, error) {
	return AppleCredential{}, ErrUnsupported
}
