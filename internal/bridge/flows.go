package bridge

import (
	"context"
	"errors"
	"log/slog"

	"github.com/12jason0/DoNa-sub000/internal/auth"
	"github.com/12jason0/DoNa-sub000/internal/message"
	"github.com/12jason0/DoNa-sub000/internal/purchase"
)

// AppleLoginResult is the appleLoginResult event detail.
type AppleLoginResult struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// startPurchase runs the purchase outside the dispatch loop; messages that
// arrive meanwhile are still handled.
func (c *Controller) startPurchase(req message.PurchaseRequest) {
	c.mu.Lock()
	coord := c.purchases
	c.mu.Unlock()
	r := purchase.Request{
		PlanID:   req.PlanID,
		PlanType: req.PlanType,
		IntentID: req.IntentID.String(),
		CourseID: req.CourseID.String(),
	}
	if coord == nil {
		slog.Warn("purchase requested without purchase support", "planId", r.PlanID)
		c.goAsync(func(ctx context.Context) {
			_ = c.Dispatch(ctx, message.EventPurchaseResult, purchase.Result{
				PlanID: r.PlanID, PlanType: r.PlanType, CourseID: r.CourseID,
				Error: "purchases are not available",
			})
		})
		return
	}
	c.goAsync(func(ctx context.Context) {
		res := coord.Run(ctx, r)
		slog.Info("purchase finished", "planId", r.PlanID, "success", res.Success)
	})
}

func (c *Controller) startAppleLogin(req message.AppleLogin) {
	c.goAsync(func(ctx context.Context) {
		res := c.appleLogin(ctx, req.Nonce)
		if res.Error != "" {
			slog.Warn("apple login failed", "err", res.Error)
		}
		if err := c.Dispatch(ctx, message.EventAppleLoginResult, res); err != nil {
			slog.Warn("apple login result not delivered", "err", err)
		}
	})
}

func (c *Controller) appleLogin(ctx context.Context, nonce string) AppleLoginResult {
	if c.opts.Apple == nil || c.opts.Backend == nil {
		return AppleLoginResult{Error: "apple login is not configured"}
	}
	cred, err := c.opts.Platform.AppleSignIn(ctx, nonce)
	if errors.Is(err, ErrUnsupported) {
		return AppleLoginResult{Error: "apple login is not available on this device"}
	}
	if err != nil {
		return AppleLoginResult{Error: err.Error()}
	}
	id, err := c.opts.Apple.Verify(ctx, cred.IdentityToken, nonce)
	if err != nil {
		return AppleLoginResult{Error: "identity token rejected"}
	}
	email := cred.Email
	if email == "" {
		email = id.Email
	}
	sess, err := c.opts.Backend.AppleLogin(ctx, cred.IdentityToken, cred.AuthorizationCode, email)
	if err != nil {
		return AppleLoginResult{Error: err.Error()}
	}
	if err := c.opts.Auth.SignIn(ctx, sess.UserID, sess.Token); err != nil {
		if errors.Is(err, auth.ErrCooldownActive) {
			return AppleLoginResult{Error: "signed out moments ago, try again shortly"}
		}
		return AppleLoginResult{Error: err.Error()}
	}
	c.tokenChanged(ctx, false)
	return AppleLoginResult{Success: true, UserID: sess.UserID}
}
