// Package deeplink turns external URIs that open the shell into paths inside
// the web app.
package deeplink

import (
	"net/url"
	"strings"

	"github.com/12jason0/DoNa-sub000/internal/message"
	"github.com/12jason0/DoNa-sub000/internal/urlpolicy"
)

type Config struct {
	Origin    string   // https://dona.io.kr
	AppScheme string   // dona
	WebHosts  []string // hosts whose links belong to the app; the origin host is always included
	Prefixes  []string // /courses, /escape, /map
	IDParam   string   // courseId
	IDPath    string   // /courses/{id}
}

type Resolver struct {
	origin   string
	scheme   string
	hosts    []string
	prefixes []string
	idParam  string
	idPath   string
}

func NewResolver(cfg Config) *Resolver {
	r := &Resolver{
		origin:   strings.TrimSuffix(cfg.Origin, "/"),
		scheme:   strings.ToLower(strings.TrimSuffix(cfg.AppScheme, "://")),
		prefixes: cfg.Prefixes,
		idParam:  cfg.IDParam,
		idPath:   cfg.IDPath,
	}
	if r.idPath == "" {
		r.idPath = "/courses/{id}"
	}
	if u, err := url.Parse(cfg.Origin); err == nil && u.Hostname() != "" {
		r.hosts = append(r.hosts, strings.ToLower(u.Hostname()))
	}
	for _, h := range cfg.WebHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			r.hosts = append(r.hosts, h)
		}
	}
	return r
}

// Resolve returns the in-app path an external URI points at. ok is false for
// any shape the app does not route, in which case the caller loads home.
func (r *Resolver) Resolve(uri string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil || u.Scheme == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)

	if r.scheme != "" && scheme == r.scheme {
		if u.Host != "success" && strings.Trim(u.Path, "/") != "success" {
			return "", false
		}
		return urlpolicy.LocalPath(u.Query().Get("next"), r.ownHost)
	}

	if scheme != "http" && scheme != "https" || !r.ownHost(u.Hostname()) {
		return "", false
	}
	for _, p := range r.prefixes {
		if hasPathPrefix(u.Path, p) {
			path := u.EscapedPath()
			if u.RawQuery != "" {
				path += "?" + u.RawQuery
			}
			return path, true
		}
	}
	if r.idParam != "" {
		if id := u.Query().Get(r.idParam); id != "" {
			return strings.ReplaceAll(r.idPath, "{id}", url.PathEscape(id)), true
		}
	}
	return "", false
}

// LaunchURL is the content source for a cold start: the resolved path on the
// app origin, or home when the launch URI does not resolve.
func (r *Resolver) LaunchURL(uri, home string) string {
	if uri != "" {
		if path, ok := r.Resolve(uri); ok {
			return r.Absolute(path)
		}
	}
	return r.Absolute(home)
}

// Absolute joins path onto the app origin.
func (r *Resolver) Absolute(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return r.origin + path
}

// NavigateScript is the injection that moves an already-loaded surface to path.
func NavigateScript(path string) string {
	return message.NavigateScript(path)
}

func (r *Resolver) ownHost(host string) bool {
	host = strings.ToLower(host)
	for _, h := range r.hosts {
		if host == h || host == "www."+h {
			return true
		}
	}
	return false
}

// hasPathPrefix matches whole segments: /courses matches /courses and
// /courses/9 but not /coursesX.
func hasPathPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return false
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
