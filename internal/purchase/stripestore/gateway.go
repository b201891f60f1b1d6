package stripestore

import (
	"context"

	stripe "github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/customer"
	"github.com/stripe/stripe-go/plan"
	"github.com/stripe/stripe-go/sub"
)

// SetKey configures the Stripe SDK key once during startup.
func SetKey(key string) { stripe.Key = key }

// Gateway abstracts the Stripe calls the store needs.
type Gateway interface {
	ListPlans(ctx context.Context) ([]stripe.Plan, error)
	CreateCustomer(ctx context.Context, appUserID string) (stripe.Customer, error)
	CreateSubscription(ctx context.Context, customerID, planID string) (stripe.Subscription, error)
}

// client is the SDK-backed Gateway.
type client struct{}

func NewGateway() Gateway { return client{} }

func (client) ListPlans(ctx context.Context) ([]stripe.Plan, error) {
	params := &stripe.PlanListParams{Active: stripe.Bool(true)}
	params.Context = ctx
	params.AddExpand("data.product")
	it := plan.List(params)
	var out []stripe.Plan
	for it.Next() {
		out = append(out, *it.Plan())
	}
	return out, it.Err()
}

func (client) CreateCustomer(ctx context.Context, appUserID string) (stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddMetadata("app_user_id", appUserID)
	c, err := customer.New(params)
	if err != nil {
		return stripe.Customer{}, err
	}
	return *c, nil
}

func (client) CreateSubscription(ctx context.Context, customerID, planID string) (stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items:    []*stripe.SubscriptionItemsParams{{Plan: stripe.String(planID)}},
	}
	params.Context = ctx
	params.AddExpand("latest_invoice")
	s, err := sub.New(params)
	if err != nil {
		return stripe.Subscription{}, err
	}
	return *s, nil
}
