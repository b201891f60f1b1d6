// Package purchase runs in-app purchases requested by the web app through the
// native purchase SDK and reports the outcome back into the page.
package purchase

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPurchaseCancelled = errors.New("cancelled")
	ErrNoOfferings       = errors.New("no offerings available")
)

// FailedError carries an SDK failure whose message is shown to the user as-is.
type FailedError struct {
	Message string
	Err     error
}

func (e *FailedError) Error() string { return e.Message }
func (e *FailedError) Unwrap() error { return e.Err }

// Failed wraps err so its message reaches the page verbatim.
func Failed(err error) error {
	var fe *FailedError
	if errors.As(err, &fe) {
		return err
	}
	return &FailedError{Message: err.Error(), Err: err}
}

// Package is one purchasable item of the current offering.
type Package struct {
	Identifier  string `json:"identifier"`
	ProductID   string `json:"productId"`
	Title       string `json:"title,omitempty"`
	PriceString string `json:"priceString,omitempty"`
	Price       int64  `json:"price,omitempty"` // minor units
	Currency    string `json:"currency,omitempty"`
}

// Transaction is what a completed purchase hands back.
type Transaction struct {
	// ID is the store's transaction identifier; some SDKs leave it empty.
	ID          string
	ProductID   string
	PurchasedAt time.Time
	Receipt     string
}

// SDK is the native purchase SDK.
type SDK interface {
	Offerings(ctx context.Context) ([]Package, error)
	// Purchase returns ErrPurchaseCancelled when the user backs out.
	Purchase(ctx context.Context, pkg Package) (Transaction, error)
	LogIn(ctx context.Context, appUserID string) error
	LogOut(ctx context.Context) error
}
