// Package urlpolicy decides where a navigation requested inside the surface
// should go: the surface itself, the system browser, or another app.
package urlpolicy

import (
	"net"
	"net/url"
	"strings"
)

type Action int

const (
	Internal Action = iota
	ExternalBrowser
	NativeAppHandoff
	Blocked
)

func (a Action) String() string {
	switch a {
	case Internal:
		return "internal"
	case ExternalBrowser:
		return "external"
	case NativeAppHandoff:
		return "handoff"
	case Blocked:
		return "blocked"
	}
	return "unknown"
}

// Decision is the result of classifying one URL.
type Decision struct {
	Action Action
	// Scheme is set for NativeAppHandoff.
	Scheme string
	// Target replaces the requested URL when non-empty (callback redirect,
	// stripped auth fragment). The surface loads it with location.replace.
	Target string
	// Rule names the precedence rule that matched.
	Rule string
}

// Load reports whether the surface should let the navigation proceed as-is.
func (d Decision) Load() bool {
	return d.Action == Internal && d.Target == ""
}

// Lists holds the static allow-lists the policy evaluates against.
type Lists struct {
	AppOrigin      string
	AppScheme      string
	NativeSchemes  []string
	SharerDomains  []string
	AuthFragment   string
	PartnerDomains []string
	AuthDomains    []string
	CDNDomains     []string
}

// Policy classifies navigations. It is immutable after New and safe for
// concurrent use.
type Policy struct {
	origin        *url.URL
	appScheme     string
	nativeSchemes []string
	sharer        []string
	authFragment  string
	partners      []string
	authDomains   []string
	cdn           []string
}

func New(l Lists) (*Policy, error) {
	origin, err := url.Parse(l.AppOrigin)
	if err != nil {
		return nil, err
	}
	p := &Policy{
		origin:       origin,
		appScheme:    strings.ToLower(strings.TrimSuffix(l.AppScheme, "://")),
		authFragment: strings.TrimPrefix(l.AuthFragment, "#"),
		sharer:       normalizeDomains(l.SharerDomains),
		partners:     normalizeDomains(l.PartnerDomains),
		authDomains:  normalizeDomains(l.AuthDomains),
		cdn:          normalizeDomains(l.CDNDomains),
	}
	for _, s := range l.NativeSchemes {
		if s = NormalizeScheme(s); s != "" {
			p.nativeSchemes = append(p.nativeSchemes, s)
		}
	}
	return p, nil
}

// NormalizeScheme lowercases s and strips a trailing ":" or "://".
func NormalizeScheme(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimSuffix(strings.TrimSuffix(s, "//"), ":")
}

// Origin returns the app origin the policy treats as home.
func (p *Policy) Origin() string {
	return strings.TrimSuffix(p.origin.String(), "/")
}

// Classify applies the rules in precedence order; the first match wins.
func (p *Policy) Classify(raw string) Decision {
	raw = strings.TrimSpace(raw)
	scheme := schemeOf(raw)

	// 1. provider auth callback carrying the page to return to
	if scheme == p.appScheme && p.appScheme != "" {
		if next, ok := p.CallbackTarget(raw); ok {
			return Decision{Action: Internal, Target: p.absolute(next), Rule: "auth-callback"}
		}
	}

	// 2. schemes only another app can open
	if scheme == "intent" {
		return Decision{Action: NativeAppHandoff, Scheme: "intent", Rule: "intent"}
	}
	if p.native(scheme) {
		return Decision{Action: NativeAppHandoff, Scheme: scheme, Rule: "native-scheme"}
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		switch scheme {
		case "about", "data", "blob", "javascript":
			return Decision{Action: Internal, Rule: "inline"}
		}
		if scheme == p.appScheme && p.appScheme != "" {
			return Decision{Action: Blocked, Rule: "app-scheme"}
		}
		// only configured schemes reach the OS handler table
		if scheme != "" && err == nil {
			return Decision{Action: Blocked, Rule: "unknown-scheme"}
		}
		return Decision{Action: Blocked, Rule: "unparseable"}
	}
	host := strings.ToLower(u.Hostname())

	// 3. social sharer popups must stay inside the surface
	if matchDomain(host, p.sharer) {
		return Decision{Action: Internal, Rule: "sharer"}
	}

	// 4. transient auth-redirect marker; strip it so the page does not loop
	if p.authFragment != "" && u.Fragment == p.authFragment {
		stripped := *u
		stripped.Fragment = ""
		stripped.RawFragment = ""
		return Decision{Action: Internal, Target: stripped.String(), Rule: "auth-fragment"}
	}

	// 5. reservation and partner flows the user returns from with back
	if matchDomain(host, p.partners) {
		return Decision{Action: Internal, Rule: "partner"}
	}

	// 6. our own origin, auth providers, CDN and development hosts
	if p.isOrigin(u) || matchDomain(host, p.authDomains) || matchDomain(host, p.cdn) || isLocalHost(host) {
		return Decision{Action: Internal, Rule: "first-party"}
	}

	return Decision{Action: ExternalBrowser, Rule: "default"}
}

// CallbackTarget extracts the next path from an app-scheme success link.
func (p *Policy) CallbackTarget(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || strings.ToLower(u.Scheme) != p.appScheme {
		return "", false
	}
	// app://success?next=... parses with Host "success"
	if u.Host != "success" && strings.TrimPrefix(u.Opaque, "//") != "success" && strings.Trim(u.Path, "/") != "success" {
		return "", false
	}
	return LocalPath(u.Query().Get("next"), func(host string) bool {
		return strings.EqualFold(host, p.origin.Hostname())
	})
}

// LocalPath returns next as a path on the app origin. An absolute next is
// accepted only over http(s) and only when own reports its host as the
// app's; anything else is refused.
func LocalPath(next string, own func(host string) bool) (string, bool) {
	next = strings.TrimSpace(next)
	if next == "" || strings.ContainsAny(next, "\\\x00\r\n\t") {
		return "", false
	}
	u, err := url.Parse(next)
	if err != nil || u.Opaque != "" || u.User != nil {
		return "", false
	}
	if u.Scheme != "" || u.Host != "" {
		if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
			return "", false
		}
		if u.Host == "" || !own(strings.ToLower(u.Hostname())) {
			return "", false
		}
	}
	path := u.EscapedPath()
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		path += "#" + u.EscapedFragment()
	}
	return path, true
}

func (p *Policy) absolute(next string) string {
	return p.Origin() + next
}

func (p *Policy) native(scheme string) bool {
	if scheme == "" {
		return false
	}
	for _, s := range p.nativeSchemes {
		if scheme == s {
			return true
		}
	}
	return false
}

func (p *Policy) isOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Hostname(), p.origin.Hostname())
}

func schemeOf(raw string) string {
	i := strings.Index(raw, ":")
	if i <= 0 {
		return ""
	}
	s := strings.ToLower(raw[:i])
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.') {
			return ""
		}
	}
	return s
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "*.")
		d = strings.TrimPrefix(d, ".")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

// matchDomain reports whether host equals one of domains or is a subdomain of it.
func matchDomain(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func isLocalHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
