package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/12jason0/DoNa-sub000/internal/auth"
	"github.com/12jason0/DoNa-sub000/internal/backend"
	"github.com/12jason0/DoNa-sub000/internal/bridge"
	"github.com/12jason0/DoNa-sub000/internal/config"
	"github.com/12jason0/DoNa-sub000/internal/deeplink"
	"github.com/12jason0/DoNa-sub000/internal/purchase"
	"github.com/12jason0/DoNa-sub000/internal/purchase/stripestore"
	"github.com/12jason0/DoNa-sub000/internal/store"
	"github.com/12jason0/DoNa-sub000/internal/urlpolicy"
)

// app is every long-lived piece of a running shell.
type app struct {
	cfg     *config.RuntimeConfig
	store   store.Store
	machine *auth.Machine
	hooks   *bridge.SessionHooks
	api     *backend.Client
	ctrl    *bridge.Controller
	host    *bridge.Bridge
}

func newApp(ctx context.Context, cfg *config.RuntimeConfig, platform bridge.Platform) (*app, error) {
	st, err := store.Open(ctx, store.Options{
		Driver:     cfg.StoreDriver,
		StateDir:   cfg.StateDir,
		SQLitePath: cfg.SQLitePath,
		RedisURL:   cfg.RedisURL,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, store: st}
	if err := a.wire(ctx, platform); err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, platform bridge.Platform) error {
	cfg := a.cfg

	products, err := purchase.ParseProductMap(cfg.ProductMap)
	if err != nil {
		return fmt.Errorf("product map: %w", err)
	}
	sdk, err := newPurchaseSDK(cfg, products, a.store)
	if err != nil {
		return err
	}

	a.hooks = &bridge.SessionHooks{SDK: sdk, Platform: platform, Timeout: cfg.ActionTimeout}
	a.machine = auth.NewMachine(a.store,
		auth.WithCooldown(cfg.Cooldown),
		auth.OnLogin(a.hooks.LoggedIn),
		auth.OnLogout(a.hooks.LoggedOut),
	)
	if err := a.machine.Hydrate(ctx); err != nil {
		return err
	}

	// the surface does not exist yet; cookies are read through it per call
	a.api = backend.New(cfg.BackendBase(), backendPaths(cfg),
		backend.WithToken(a.machine.Token),
		backend.WithCookies(backend.CookieFunc(a.cookies)),
	)
	a.hooks.Push = a.api

	policy, err := urlpolicy.New(urlpolicy.Lists{
		AppOrigin:      cfg.AppOrigin,
		AppScheme:      cfg.AppScheme,
		NativeSchemes:  cfg.NativeSchemes,
		SharerDomains:  cfg.SharerDomains,
		AuthFragment:   cfg.AuthFragment,
		PartnerDomains: cfg.PartnerDomains,
		AuthDomains:    cfg.AuthDomains,
		CDNDomains:     cfg.CDNDomains,
	})
	if err != nil {
		return fmt.Errorf("url policy: %w", err)
	}

	opts := bridge.Options{
		Policy: policy,
		Links: deeplink.NewResolver(deeplink.Config{
			Origin:    cfg.AppOrigin,
			AppScheme: cfg.AppScheme,
			WebHosts:  cfg.WebHosts,
			Prefixes:  cfg.LinkPrefixes,
			IDParam:   cfg.LinkIDParam,
			IDPath:    cfg.LinkIDPath,
		}),
		Auth:     a.machine,
		Platform: platform,
		Backend:  a.api,
		HomePath: cfg.HomePath,
		Logout: auth.LogoutPage{
			EndpointURL: a.api.URL(cfg.LogoutEndpoint),
			ReturnPath:  cfg.LogoutPath,
		},
		Bootstrap: bridge.BootstrapConfig{
			SessionURL:   a.api.URL(cfg.SessionPath),
			AuthCookie:   cfg.AuthCookie,
			AppearanceMs: cfg.AppearanceInterval.Milliseconds(),
		},
		ActionTimeout: cfg.ActionTimeout,
	}
	if cfg.AppleClientID != "" {
		opts.Apple = auth.NewAppleVerifier(cfg.AppleClientID, cfg.AppleJWKSURL, nil)
	}

	a.ctrl = bridge.NewController(opts)
	a.ctrl.SetPurchases(purchase.NewCoordinator(sdk, products, a.api, a.ctrl))
	a.host = bridge.New(cfg, a.ctrl)
	return nil
}

func (a *app) cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
	if a.host == nil {
		return nil, nil
	}
	return a.host.Cookies(ctx, rawURL)
}

func backendPaths(cfg *config.RuntimeConfig) backend.Paths {
	return backend.Paths{
		Session:    cfg.SessionPath,
		Confirm:    cfg.ConfirmPath,
		PushTokens: cfg.PushTokenPath,
		AppleLogin: cfg.AppleLoginPath,
	}
}

func newPurchaseSDK(cfg *config.RuntimeConfig, products *purchase.ProductMap, kv store.Store) (purchase.SDK, error) {
	switch cfg.PurchaseProvider {
	case "", "sandbox":
		return purchase.NewSandbox(products), nil
	case "stripe":
		if cfg.StripeSecretKey == "" {
			return nil, errors.New("stripe purchases need STRIPE_SECRET_KEY")
		}
		stripestore.SetKey(cfg.StripeSecretKey)
		return stripestore.New(stripestore.NewGateway(), kv), nil
	default:
		return nil, fmt.Errorf("unknown purchase provider %q", cfg.PurchaseProvider)
	}
}

// checkSession asks the backend whether the surface's cookies still carry a
// session. The answer is advisory; the page stays the source of truth.
func (a *app) checkSession(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ActionTimeout)
	defer cancel()
	sess, err := a.api.SessionCheck(ctx)
	switch {
	case errors.Is(err, backend.ErrUnauthenticated):
		slog.Info("no backend session", "nativeUser", a.machine.Session().UserID)
	case err != nil:
		slog.Warn("session check failed", "err", err)
	default:
		slog.Info("backend session", "userId", sess.UserID, "nativeUser", a.machine.Session().UserID)
	}
}

func (a *app) close() {
	a.ctrl.Wait()
	a.hooks.Wait()
	if err := a.store.Close(); err != nil {
		slog.Warn("store close", "err", err)
	}
}
