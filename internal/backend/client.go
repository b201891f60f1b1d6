// Package backend is the shell's HTTP client for the DoNa web backend.
// Requests carry the surface's cookies so they act as the signed-in page would.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/12jason0/DoNa-sub000/internal/message"
	"github.com/12jason0/DoNa-sub000/internal/purchase"
)

var ErrUnauthenticated = errors.New("no active session")

// CookieSource returns the cookies the surface would send to rawURL.
type CookieSource interface {
	Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error)
}

// CookieFunc adapts a function to CookieSource.
type CookieFunc func(ctx context.Context, rawURL string) ([]*http.Cookie, error)

func (f CookieFunc) Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
	return f(ctx, rawURL)
}

type Paths struct {
	Session    string
	Confirm    string
	PushTokens string
	AppleLogin string
}

func DefaultPaths() Paths {
	return Paths{
		Session:    "/api/auth/session",
		Confirm:    "/api/payments/revenuecat/confirm",
		PushTokens: "/api/push-tokens",
		AppleLogin: "/api/auth/apple",
	}
}

type Client struct {
	base    string
	paths   Paths
	http    *http.Client
	cookies CookieSource
	token   func() string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithCookies(src CookieSource) Option  { return func(c *Client) { c.cookies = src } }

// WithToken adds "Authorization: Bearer" from fn when it returns non-empty.
func WithToken(fn func() string) Option { return func(c *Client) { c.token = fn } }

func New(baseURL string, paths Paths, opts ...Option) *Client {
	c := &Client{
		base:  strings.TrimSuffix(baseURL, "/"),
		paths: paths,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// URL resolves an endpoint path against the backend.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.base + path
}

// Session is the backend's view of the cookie session.
type Session struct {
	UserID string
}

// SessionCheck asks the backend who the cookies belong to. ErrUnauthenticated
// means the request worked and nobody is signed in.
func (c *Client) SessionCheck(ctx context.Context) (Session, error) {
	var body struct {
		UserID message.ID `json:"userId"`
		User   *struct {
			ID message.ID `json:"id"`
		} `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, c.paths.Session, nil, &body); err != nil {
		return Session{}, err
	}
	id := string(body.UserID)
	if id == "" && body.User != nil {
		id = string(body.User.ID)
	}
	if id == "" {
		return Session{}, ErrUnauthenticated
	}
	return Session{UserID: id}, nil
}

// ConfirmPurchase reports a completed purchase so the server unlocks it
// without waiting for the store webhook.
func (c *Client) ConfirmPurchase(ctx context.Context, conf purchase.Confirmation) (purchase.Confirmed, error) {
	var body struct {
		Tier             string `json:"tier"`
		SubscriptionTier string `json:"subscriptionTier"`
	}
	if err := c.do(ctx, http.MethodPost, c.paths.Confirm, conf, &body); err != nil {
		return purchase.Confirmed{}, err
	}
	tier := body.SubscriptionTier
	if tier == "" {
		tier = body.Tier
	}
	return purchase.Confirmed{Tier: tier}, nil
}

func (c *Client) RegisterPushToken(ctx context.Context, userID, token, platform string) error {
	return c.do(ctx, http.MethodPost, c.paths.PushTokens, map[string]string{
		"userId":   userID,
		"token":    token,
		"platform": platform,
	}, nil)
}

// AppleSession is the backend session minted for a verified Apple identity.
type AppleSession struct {
	UserID string
	Token  string
}

func (c *Client) AppleLogin(ctx context.Context, identityToken, authCode, email string) (AppleSession, error) {
	var body struct {
		UserID message.ID `json:"userId"`
		User   *struct {
			ID message.ID `json:"id"`
		} `json:"user"`
		Token string `json:"token"`
	}
	req := map[string]string{"identityToken": identityToken}
	if authCode != "" {
		req["authorizationCode"] = authCode
	}
	if email != "" {
		req["email"] = email
	}
	if err := c.do(ctx, http.MethodPost, c.paths.AppleLogin, req, &body); err != nil {
		return AppleSession{}, err
	}
	id := string(body.UserID)
	if id == "" && body.User != nil {
		id = string(body.User.ID)
	}
	if id == "" {
		return AppleSession{}, fmt.Errorf("apple login: response without user id")
	}
	return AppleSession{UserID: id, Token: body.Token}, nil
}

// StatusError is a non-2xx answer.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status=%d body=%s", e.Method, e.URL, e.Code, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	target := c.URL(path)
	var rd io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	if c.cookies != nil {
		cookies, err := c.cookies.Cookies(ctx, target)
		if err != nil {
			return fmt.Errorf("read cookies for %s: %w", path, err)
		}
		for _, ck := range cookies {
			req.AddCookie(ck)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, redact(target), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, URL: redact(target), Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}
