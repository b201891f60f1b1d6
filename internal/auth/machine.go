// Package auth keeps the shell's belief about who is signed in and keeps it
// in step with the web app running inside the surface.
//
// The page reports identity over the bridge. After a logout, late login
// reports from requests that were already in flight are ignored for a fixed
// cooldown; without that window a stale report would sign the user straight
// back in and the page would bounce between the two states.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/12jason0/DoNa-sub000/internal/store"
)

const DefaultCooldown = 7 * time.Second

var ErrCooldownActive = errors.New("logout cooldown active")

// Session is a snapshot of the machine state.
type Session struct {
	UserID         string
	Token          string
	CooldownActive bool
	CooldownLeft   time.Duration
}

func (s Session) Authenticated() bool { return s.UserID != "" }

type Option func(*Machine)

func WithCooldown(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.cooldown = d
		}
	}
}

// WithClock replaces time.Now; tests drive the cooldown with it.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// OnLogin registers the hook fired when an accepted login changes who the
// hooks last saw signed in. Repeated reports for the same user, such as the
// per-page session check, do not fire it again.
func OnLogin(fn func(ctx context.Context, userID string)) Option {
	return func(m *Machine) { m.onLogin = append(m.onLogin, fn) }
}

// OnLogout registers the hook fired once for every logout.
func OnLogout(fn func(ctx context.Context)) Option {
	return func(m *Machine) { m.onLogout = append(m.onLogout, fn) }
}

// Machine is the only writer of the session belief and the cooldown.
type Machine struct {
	store    store.Store
	cooldown time.Duration
	now      func() time.Time
	onLogin  []func(context.Context, string)
	onLogout []func(context.Context)

	mu            sync.Mutex
	userID        string
	token         string
	cooldownUntil time.Time
	// announced is the user the login hooks last ran for in this process.
	announced     string
}

func NewMachine(s store.Store, opts ...Option) *Machine {
	m := &Machine{store: s, cooldown: DefaultCooldown, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Hydrate loads the persisted session. Called once at startup.
func (m *Machine) Hydrate(ctx context.Context) error {
	userID, err := store.GetOr(ctx, m.store, store.KeyUserID)
	if err != nil {
		return fmt.Errorf("hydrate user: %w", err)
	}
	token, err := store.GetOr(ctx, m.store, store.KeyAuthToken)
	if err != nil {
		return fmt.Errorf("hydrate token: %w", err)
	}
	m.mu.Lock()
	m.userID, m.token = userID, token
	m.mu.Unlock()
	return nil
}

func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Session{UserID: m.userID, Token: m.token}
	if left := m.cooldownUntil.Sub(m.now()); left > 0 {
		s.CooldownActive = true
		s.CooldownLeft = left
	}
	return s
}

func (m *Machine) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// SetAuthToken records the page's token. Identity is untouched: the page may
// hand over a token before it announces who the user is.
func (m *Machine) SetAuthToken(ctx context.Context, token string) error {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	if err := m.store.Set(ctx, store.KeyAuthToken, token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

// Login applies a login report from the page. During the cooldown the report
// is dropped and accepted is false.
func (m *Machine) Login(ctx context.Context, userID string) (accepted bool, err error) {
	m.mu.Lock()
	if m.activeLocked() {
		m.mu.Unlock()
		slog.Info("login ignored during logout cooldown", "userId", userID)
		return false, nil
	}
	m.userID = userID
	fire := m.announced != userID
	m.announced = userID
	m.mu.Unlock()

	if err = m.store.Set(ctx, store.KeyUserID, userID); err != nil {
		err = fmt.Errorf("persist user: %w", err)
	}
	if fire {
		for _, fn := range m.onLogin {
			fn(ctx, userID)
		}
	}
	return true, err
}

// SignIn is the native entry for third-party sign-in flows. It stores the
// token and identity together and honours the cooldown like Login does.
func (m *Machine) SignIn(ctx context.Context, userID, token string) error {
	m.mu.Lock()
	if m.activeLocked() {
		m.mu.Unlock()
		return ErrCooldownActive
	}
	m.mu.Unlock()
	if token != "" {
		if err := m.SetAuthToken(ctx, token); err != nil {
			return err
		}
	}
	accepted, err := m.Login(ctx, userID)
	if !accepted && err == nil {
		return ErrCooldownActive
	}
	return err
}

// Logout starts the cooldown, clears the session and fires the logout hooks.
// The cooldown runs its full length whatever happens afterwards.
func (m *Machine) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.cooldownUntil = m.now().Add(m.cooldown)
	m.userID, m.token, m.announced = "", "", ""
	m.mu.Unlock()

	err := m.store.Delete(ctx, store.KeyAuthToken, store.KeyUserID)
	if err != nil {
		err = fmt.Errorf("clear session: %w", err)
	}
	for _, fn := range m.onLogout {
		fn(ctx)
	}
	return err
}

func (m *Machine) activeLocked() bool {
	return m.now().Before(m.cooldownUntil)
}
