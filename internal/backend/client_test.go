package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/12jason0/DoNa-sub000/internal/purchase"
)

type staticCookies []*http.Cookie

func (s staticCookies) Cookies(context.Context, string) ([]*http.Cookie, error) { return s, nil }

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, DefaultPaths(),
		WithHTTPClient(srv.Client()),
		WithCookies(staticCookies{{Name: "next-auth.session-token", Value: "s3"}}),
		WithToken(func() string { return "tok" }),
	)
}

func TestSessionCheck(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/session", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		if ck, err := r.Cookie("next-auth.session-token"); assert.NoError(t, err) {
			assert.Equal(t, "s3", ck.Value)
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"user":{"id":42,"name":"x"}}`))
	})
	s, err := c.SessionCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", s.UserID)
}

func TestSessionCheckAnonymous(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	_, err := c.SessionCheck(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err = c.SessionCheck(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestConfirmPurchase(t *testing.T) {
	var got purchase.Confirmation
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/payments/revenuecat/confirm", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"subscriptionTier":"PREMIUM"}`))
	})
	out, err := c.ConfirmPurchase(context.Background(), purchase.Confirmation{
		PlanID: "sub_premium", PlanType: "subscription", TransactionID: "tx", CourseID: "9",
	})
	require.NoError(t, err)
	assert.Equal(t, "PREMIUM", out.Tier)
	assert.Equal(t, "tx", got.TransactionID)
	assert.Equal(t, "9", got.CourseID)
	assert.Empty(t, got.IntentID)
}

func TestStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	err := c.RegisterPushToken(context.Background(), "42", "tok", "desktop")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "boom", se.Body)
}

func TestRegisterPushTokenAndAppleLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.URL.Path {
		case "/api/push-tokens":
			assert.Equal(t, map[string]string{"userId": "42", "token": "ExponentPushToken[x]", "platform": "desktop"}, body)
			w.WriteHeader(http.StatusNoContent)
		case "/api/auth/apple":
			assert.Equal(t, "id-token", body["identityToken"])
			_, _ = w.Write([]byte(`{"userId":"77","token":"session-jwt"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	require.NoError(t, c.RegisterPushToken(context.Background(), "42", "ExponentPushToken[x]", "desktop"))
	s, err := c.AppleLogin(context.Background(), "id-token", "", "")
	require.NoError(t, err)
	assert.Equal(t, AppleSession{UserID: "77", Token: "session-jwt"}, s)
}

func TestURL(t *testing.T) {
	c := New("https://dona.io.kr/", DefaultPaths())
	assert.Equal(t, "https://dona.io.kr/api/auth/logout", c.URL("/api/auth/logout"))
	assert.Equal(t, "https://other/x", c.URL("https://other/x"))
}
