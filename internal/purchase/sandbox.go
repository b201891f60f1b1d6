package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Sandbox is an in-process SDK for development. Every purchase succeeds and,
// like some store SDKs, leaves the transaction id empty.
type Sandbox struct {
	pkgs []Package

	mu   sync.Mutex
	user string
}

// NewSandbox sells one package per plan in products.
func NewSandbox(products *ProductMap) *Sandbox {
	s := &Sandbox{}
	for _, plan := range products.Plans() {
		s.pkgs = append(s.pkgs, Package{
			Identifier: plan,
			ProductID:  products.ProductID(plan),
			Title:      plan,
			Currency:   "KRW",
		})
	}
	return s
}

func (s *Sandbox) Offerings(context.Context) ([]Package, error) {
	return append([]Package(nil), s.pkgs...), nil
}

func (s *Sandbox) Purchase(ctx context.Context, pkg Package) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, Failed(err)
	}
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	slog.Info("sandbox purchase", "product", pkg.ProductID, "user", user)
	now := time.Now()
	return Transaction{
		ProductID:   pkg.ProductID,
		PurchasedAt: now,
		Receipt:     fmt.Sprintf("sandbox:%s:%d", pkg.ProductID, now.UnixMilli()),
	}, nil
}

func (s *Sandbox) LogIn(_ context.Context, appUserID string) error {
	s.mu.Lock()
	s.user = appUserID
	s.mu.Unlock()
	return nil
}

func (s *Sandbox) LogOut(context.Context) error {
	s.mu.Lock()
	s.user = ""
	s.mu.Unlock()
	return nil
}
