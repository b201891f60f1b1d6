package urlpolicy

import (
	"fmt"
	"net/url"
	"strings"
)

// Intent is a decoded Android intent:// URI.
type Intent struct {
	// Direct is the URI rewritten to the target app's own scheme; empty when
	// the intent does not name a scheme.
	Direct      string
	Package     string
	FallbackURL string
}

// StoreURLs returns the store locations to try, native first.
func (i Intent) StoreURLs() []string {
	if i.Package == "" {
		return nil
	}
	q := url.QueryEscape(i.Package)
	return []string{
		"market://details?id=" + q,
		"https://play.google.com/store/apps/details?id=" + q,
	}
}

// Handoff is one way of reaching the app that owns a URL. Browser targets
// are web pages and go to the system browser.
type Handoff struct {
	URI     string
	Browser bool
}

// HandoffChain lists the attempts for a NativeAppHandoff decision in order:
// the URL itself, the intent rewritten to a configured app scheme, the store
// pages, then an http(s) browser fallback. Anything else the intent names is
// left out.
func (p *Policy) HandoffChain(d Decision, raw string) []Handoff {
	if d.Action != NativeAppHandoff {
		return nil
	}
	chain := []Handoff{{URI: raw}}
	if d.Scheme != "intent" {
		return chain
	}
	it, err := ParseIntent(raw)
	if err != nil {
		return chain
	}
	if it.Direct != "" && p.native(schemeOf(it.Direct)) {
		chain = append(chain, Handoff{URI: it.Direct})
	}
	if stores := it.StoreURLs(); len(stores) == 2 {
		chain = append(chain, Handoff{URI: stores[0]}, Handoff{URI: stores[1], Browser: true})
	}
	if isWebURL(it.FallbackURL) {
		chain = append(chain, Handoff{URI: it.FallbackURL, Browser: true})
	}
	return chain
}

func isWebURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ParseIntent decodes intent://<rest>#Intent;scheme=..;package=..;end.
func ParseIntent(raw string) (Intent, error) {
	if !strings.HasPrefix(strings.ToLower(raw), "intent:") {
		return Intent{}, fmt.Errorf("not an intent uri")
	}
	body := raw[len("intent:"):]
	hash := strings.Index(body, "#Intent;")
	if hash < 0 {
		return Intent{}, fmt.Errorf("intent uri without #Intent section")
	}
	rest, params := body[:hash], body[hash+len("#Intent;"):]
	params = strings.TrimSuffix(strings.TrimSuffix(params, ";"), "end")

	var it Intent
	var scheme string
	for _, kv := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "scheme":
			scheme = v
		case "package":
			it.Package = v
		case "S.browser_fallback_url":
			if dec, err := url.QueryUnescape(v); err == nil {
				it.FallbackURL = dec
			}
		}
	}
	if scheme != "" {
		it.Direct = scheme + ":" + rest
	}
	return it, nil
}
