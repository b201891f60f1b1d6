// Package store is the shell's persistent key/value storage. It holds the
// native side of the session (auth token, user id) and small bookkeeping
// records such as the purchase customer mapping.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Well-known keys.
const (
	KeyAuthToken = "authToken"
	KeyUserID    = "userId"
)

var ErrNotFound = errors.New("key not found")

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver     string // file, sqlite or redis
	StateDir   string
	SQLitePath string
	RedisURL   string
}

// Open returns the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "file":
		return NewFileStore(opts.StateDir)
	case "sqlite":
		return OpenSQLite(ctx, opts.SQLitePath)
	case "redis":
		return OpenRedis(ctx, opts.RedisURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

// GetOr returns the stored value or "" when the key is absent.
func GetOr(ctx context.Context, s Store, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
