package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	AppleIssuer  = "https://appleid.apple.com"
	AppleJWKSURL = "https://appleid.apple.com/auth/keys"

	jwksTTL = time.Hour
)

var errUnknownKey = errors.New("unknown key id")

// AppleIdentity is what a verified Sign in with Apple identity token proves.
type AppleIdentity struct {
	Subject string
	Email   string
}

// AppleVerifier checks identity tokens against Apple's published keys.
type AppleVerifier struct {
	clientID   string
	jwksURL    string
	issuer     string
	httpClient *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func NewAppleVerifier(clientID, jwksURL string, httpClient *http.Client) *AppleVerifier {
	if jwksURL == "" {
		jwksURL = AppleJWKSURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 8 * time.Second}
	}
	return &AppleVerifier{clientID: clientID, jwksURL: jwksURL, issuer: AppleIssuer, httpClient: httpClient}
}

// Verify validates signature, issuer, audience and expiry. When nonce is not
// empty the token's nonce claim must equal it.
func (v *AppleVerifier) Verify(ctx context.Context, raw, nonce string) (AppleIdentity, error) {
	if v.clientID == "" {
		return AppleIdentity{}, fmt.Errorf("apple sign-in is not configured (missing client id)")
	}
	keys, err := v.keySet(ctx, false)
	if err != nil {
		return AppleIdentity{}, err
	}
	claims, err := v.parse(raw, keys)
	if errors.Is(err, errUnknownKey) {
		// Apple rotated its keys since the last fetch.
		if keys, err = v.keySet(ctx, true); err != nil {
			return AppleIdentity{}, err
		}
		claims, err = v.parse(raw, keys)
	}
	if err != nil {
		return AppleIdentity{}, err
	}

	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return AppleIdentity{}, fmt.Errorf("identity token missing sub")
	}
	if nonce != "" {
		if got, _ := claims["nonce"].(string); got != nonce {
			return AppleIdentity{}, fmt.Errorf("nonce mismatch")
		}
	}
	email, _ := claims["email"].(string)
	return AppleIdentity{Subject: sub, Email: strings.ToLower(email)}, nil
}

func (v *AppleVerifier) parse(raw string, keys map[string]*rsa.PublicKey) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(token *jwt.Token) (any, error) {
			kid, _ := token.Header["kid"].(string)
			key, ok := keys[kid]
			if !ok {
				return nil, fmt.Errorf("%w: %s", errUnknownKey, kid)
			}
			return key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("validate identity token: %w", err)
	}
	return claims, nil
}

func (v *AppleVerifier) keySet(ctx context.Context, refresh bool) (map[string]*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !refresh && v.keys != nil && time.Since(v.fetchedAt) < jwksTTL {
		return v.keys, nil
	}
	keys, err := v.fetch(ctx)
	if err != nil {
		return nil, err
	}
	v.keys, v.fetchedAt = keys, time.Now()
	return keys, nil
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *AppleVerifier) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch apple keys: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch apple keys: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode apple keys: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("decode key %s modulus: %w", k.Kid, err)
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("decode key %s exponent: %w", k.Kid, err)
		}
		exp := new(big.Int).SetBytes(e)
		if !exp.IsInt64() || exp.Int64() <= 1 {
			return nil, fmt.Errorf("invalid exponent for key %s", k.Kid)
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no RSA keys in apple key set")
	}
	return keys, nil
}
