package bridge

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/12jason0/DoNa-sub000/internal/purchase"
)

type PushRegistrar interface {
	RegisterPushToken(ctx context.Context, userID, token, platform string) error
}

// SessionHooks keeps the purchase account and the push registration in step
// with the signed-in user. Work runs in the background so the auth machine
// never waits on the network.
type SessionHooks struct {
	SDK      purchase.SDK
	Platform Platform
	Push     PushRegistrar
	Timeout  time.Duration

	wg sync.WaitGroup
}

// LoggedIn links the purchase account and registers the device for push.
func (h *SessionHooks) LoggedIn(ctx context.Context, userID string) {
	h.background(ctx, func(ctx context.Context) {
		if h.SDK != nil {
			if err := h.SDK.LogIn(ctx, userID); err != nil {
				slog.Warn("purchase account not linked", "userId", userID, "err", err)
			}
		}
		if h.Push == nil || h.Platform == nil {
			return
		}
		token, err := h.Platform.PushToken(ctx)
		if err != nil {
			slog.Warn("push token unavailable", "err", err)
			return
		}
		if token == "" {
			return
		}
		if err := h.Push.RegisterPushToken(ctx, userID, token, runtime.GOOS); err != nil {
			slog.Warn("push token not registered", "userId", userID, "err", err)
		}
	})
}

// LoggedOut unlinks the purchase account.
func (h *SessionHooks) LoggedOut(ctx context.Context) {
	if h.SDK == nil {
		return
	}
	h.background(ctx, func(ctx context.Context) {
		if err := h.SDK.LogOut(ctx); err != nil {
			slog.Warn("purchase account not unlinked", "err", err)
		}
	})
}

func (h *SessionHooks) background(ctx context.Context, fn func(context.Context)) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until hook work started so far has finished.
func (h *SessionHooks) Wait() { h.wg.Wait() }
