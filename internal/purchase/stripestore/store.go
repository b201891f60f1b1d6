// Package stripestore sells plans through Stripe: active Stripe plans are the
// offering, a subscription is a purchase, and each app user gets one Stripe
// customer.
package stripestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	stripe "github.com/stripe/stripe-go"

	"github.com/12jason0/DoNa-sub000/internal/purchase"
	"github.com/12jason0/DoNa-sub000/internal/store"
)

const customerKeyPrefix = "stripeCustomer:"

var ErrNotSignedIn = errors.New("sign in before purchasing")

type Store struct {
	gw Gateway
	kv store.Store

	mu   sync.Mutex
	user string
}

// New returns a purchase.SDK backed by gw. Customer ids are remembered in kv.
func New(gw Gateway, kv store.Store) *Store {
	return &Store{gw: gw, kv: kv}
}

func (s *Store) Offerings(ctx context.Context) ([]purchase.Package, error) {
	plans, err := s.gw.ListPlans(ctx)
	if err != nil {
		return nil, stripeErr(err)
	}
	out := make([]purchase.Package, 0, len(plans))
	for _, p := range plans {
		pkg := purchase.Package{
			Identifier: p.Nickname,
			ProductID:  p.ID,
			Price:      p.Amount,
			Currency:   string(p.Currency),
		}
		if pkg.Identifier == "" {
			pkg.Identifier = p.ID
		}
		if p.Product != nil {
			pkg.Title = p.Product.Name
		}
		pkg.PriceString = formatPrice(p.Amount, pkg.Currency)
		out = append(out, pkg)
	}
	return out, nil
}

func (s *Store) Purchase(ctx context.Context, pkg purchase.Package) (purchase.Transaction, error) {
	customerID, err := s.customer(ctx)
	if err != nil {
		return purchase.Transaction{}, err
	}
	sb, err := s.gw.CreateSubscription(ctx, customerID, pkg.ProductID)
	if err != nil {
		return purchase.Transaction{}, stripeErr(err)
	}
	switch sb.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
	default:
		return purchase.Transaction{}, &purchase.FailedError{
			Message: fmt.Sprintf("payment was not completed (subscription %s)", sb.Status),
		}
	}
	tx := purchase.Transaction{ID: sb.ID, ProductID: pkg.ProductID}
	if sb.Created > 0 {
		tx.PurchasedAt = time.Unix(sb.Created, 0)
	}
	if sb.LatestInvoice != nil {
		tx.Receipt = sb.LatestInvoice.ID
	}
	return tx, nil
}

func (s *Store) LogIn(_ context.Context, appUserID string) error {
	s.mu.Lock()
	s.user = appUserID
	s.mu.Unlock()
	return nil
}

func (s *Store) LogOut(context.Context) error {
	s.mu.Lock()
	s.user = ""
	s.mu.Unlock()
	return nil
}

func (s *Store) customer(ctx context.Context) (string, error) {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	if user == "" {
		return "", purchase.Failed(ErrNotSignedIn)
	}
	key := customerKeyPrefix + user
	id, err := store.GetOr(ctx, s.kv, key)
	if err != nil {
		return "", purchase.Failed(err)
	}
	if id != "" {
		return id, nil
	}
	c, err := s.gw.CreateCustomer(ctx, user)
	if err != nil {
		return "", stripeErr(err)
	}
	if err := s.kv.Set(ctx, key, c.ID); err != nil {
		slog.Warn("remember stripe customer", "user", user, "err", err)
	}
	return c.ID, nil
}

// stripeErr keeps Stripe's own message, which tells the user what went wrong
// with their card.
func stripeErr(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		return &purchase.FailedError{Message: se.Msg, Err: err}
	}
	return purchase.Failed(err)
}

func formatPrice(amount int64, currency string) string {
	switch currency {
	case "krw", "jpy":
		return fmt.Sprintf("%d %s", amount, currency)
	}
	return fmt.Sprintf("%d.%02d %s", amount/100, amount%100, currency)
}
