package bridge

import (
	"context"
	"log/slog"

	"github.com/12jason0/DoNa-sub000/internal/message"
	"github.com/12jason0/DoNa-sub000/internal/urlpolicy"
)

// OnNavigation decides whether the surface may load url and performs the
// side effect of the decision. It returns true only when the navigation
// should proceed unchanged.
func (c *Controller) OnNavigation(ctx context.Context, url string) bool {
	d := c.opts.Policy.Classify(url)
	c.opts.Hub.Publish(EventNavigation, d.Action.String(), map[string]string{
		"url":    url,
		"rule":   d.Rule,
		"target": d.Target,
	})

	switch d.Action {
	case urlpolicy.Internal:
		if d.Target == "" {
			return true
		}
		if err := c.inject(ctx, message.ReplaceScript(d.Target)); err != nil {
			slog.Warn("redirect failed", "target", d.Target, "err", err)
		}
		return false
	case urlpolicy.ExternalBrowser:
		if err := c.opts.Platform.OpenExternal(ctx, url); err != nil {
			slog.Warn("external browser", "url", url, "err", err)
		}
		return false
	case urlpolicy.NativeAppHandoff:
		c.handoff(ctx, d, url)
		return false
	default:
		slog.Debug("navigation blocked", "url", url, "rule", d.Rule)
		return false
	}
}

// handoff tries each way of reaching the app that owns the URL, stopping at
// the first the OS accepts. Failures are not shown to the user.
func (c *Controller) handoff(ctx context.Context, d urlpolicy.Decision, raw string) {
	for _, h := range c.opts.Policy.HandoffChain(d, raw) {
		open := c.opts.Platform.OpenScheme
		if h.Browser {
			open = c.opts.Platform.OpenExternal
		}
		if err := open(ctx, h.URI); err != nil {
			slog.Debug("handoff attempt failed", "uri", h.URI, "err", err)
			continue
		}
		return
	}
	slog.Debug("handoff failed", "uri", raw, "scheme", d.Scheme)
}
