package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/12jason0/DoNa-sub000/internal/message"
)

// Request is the page's requestInAppPurchase payload.
type Request struct {
	PlanID   string
	PlanType string
	IntentID string
	CourseID string
}

// Confirmation is posted to the backend after the SDK reports success.
type Confirmation struct {
	PlanID        string `json:"planId"`
	PlanType      string `json:"planType"`
	TransactionID string `json:"transactionId"`
	Receipt       string `json:"receipt,omitempty"`
	IntentID      string `json:"intentId,omitempty"`
	CourseID      string `json:"courseId,omitempty"`
}

// Confirmed is the backend's answer; Tier is set when the entitlement changed.
type Confirmed struct {
	Tier string
}

type Confirmer interface {
	ConfirmPurchase(ctx context.Context, c Confirmation) (Confirmed, error)
}

// Dispatcher fires a DOM event in the page.
type Dispatcher interface {
	Dispatch(ctx context.Context, event string, detail any) error
}

type Stage int

const (
	StageOfferings Stage = iota
	StageSelect
	StagePurchase
	StageConfirm
	StageReport
	StageDone
)

func (s Stage) String() string {
	return [...]string{"offerings", "select", "purchase", "confirm", "report", "done"}[s]
}

// PendingPurchase is one attempt, alive from request to reported result.
type PendingPurchase struct {
	ID       string
	Request  Request
	Stage    Stage
	Offering []Package
	Package  Package
	Fallback bool
	Tx       Transaction
	TxID     string
	Tier     string
	Err      error
}

// Result is the purchaseResult detail.
type Result struct {
	Success  bool   `json:"success"`
	PlanID   string `json:"planId,omitempty"`
	PlanType string `json:"planType,omitempty"`
	CourseID string `json:"courseId,omitempty"`
	Error    string `json:"error,omitempty"`
}

type Coordinator struct {
	sdk       SDK
	products  *ProductMap
	confirmer Confirmer
	out       Dispatcher
	now       func() time.Time

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

func NewCoordinator(sdk SDK, products *ProductMap, confirmer Confirmer, out Dispatcher) *Coordinator {
	return &Coordinator{
		sdk:       sdk,
		products:  products,
		confirmer: confirmer,
		out:       out,
		now:       time.Now,
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Run drives one purchase to completion. Every path ends in exactly one
// purchaseResult event; the returned Result is the one dispatched.
func (c *Coordinator) Run(ctx context.Context, req Request) Result {
	p := &PendingPurchase{ID: c.newID(c.now()), Request: req}
	log := slog.With("purchase", p.ID, "planId", req.PlanID)
	var res Result
	for p.Stage != StageDone {
		switch p.Stage {
		case StageOfferings:
			c.offerings(ctx, p)
		case StageSelect:
			c.selectPackage(log, p)
		case StagePurchase:
			c.purchase(ctx, p)
		case StageConfirm:
			c.confirm(ctx, log, p)
		case StageReport:
			res = c.report(ctx, log, p)
		}
	}
	return res
}

func (c *Coordinator) offerings(ctx context.Context, p *PendingPurchase) {
	pkgs, err := c.sdk.Offerings(ctx)
	switch {
	case err != nil:
		p.Err = Failed(fmt.Errorf("load offerings: %w", err))
	case len(pkgs) == 0:
		p.Err = ErrNoOfferings
	default:
		p.Offering = pkgs
		p.Stage = StageSelect
		return
	}
	p.Stage = StageReport
}

func (c *Coordinator) selectPackage(log *slog.Logger, p *PendingPurchase) {
	pkg, exact := MatchPackage(p.Offering, c.products.ProductID(p.Request.PlanID))
	if !exact {
		log.Warn("no package matches plan, using first package", "package", pkg.Identifier, "product", pkg.ProductID)
	}
	p.Package, p.Fallback = pkg, !exact
	p.Stage = StagePurchase
}

func (c *Coordinator) purchase(ctx context.Context, p *PendingPurchase) {
	tx, err := c.sdk.Purchase(ctx, p.Package)
	if err != nil {
		if !errors.Is(err, ErrPurchaseCancelled) {
			err = Failed(err)
		}
		p.Err = err
		p.Stage = StageReport
		return
	}
	p.Tx = tx
	p.TxID = tx.ID
	if p.TxID == "" {
		at := tx.PurchasedAt
		if at.IsZero() {
			at = c.now()
		}
		p.TxID = c.newID(at)
	}
	p.Stage = StageConfirm
}

// confirm is best-effort: the SDK already granted the entitlement.
func (c *Coordinator) confirm(ctx context.Context, log *slog.Logger, p *PendingPurchase) {
	p.Stage = StageReport
	if c.confirmer == nil {
		return
	}
	out, err := c.confirmer.ConfirmPurchase(ctx, Confirmation{
		PlanID:        p.Request.PlanID,
		PlanType:      p.Request.PlanType,
		TransactionID: p.TxID,
		Receipt:       p.Tx.Receipt,
		IntentID:      p.Request.IntentID,
		CourseID:      p.Request.CourseID,
	})
	if err != nil {
		log.Warn("purchase confirmation failed", "tx", p.TxID, "err", err)
		return
	}
	p.Tier = out.Tier
}

func (c *Coordinator) report(ctx context.Context, log *slog.Logger, p *PendingPurchase) Result {
	p.Stage = StageDone
	res := Result{PlanID: p.Request.PlanID}
	switch {
	case p.Err == nil:
		res.Success = true
		res.PlanType = p.Request.PlanType
		res.CourseID = p.Request.CourseID
	case errors.Is(p.Err, ErrPurchaseCancelled):
		res.Error = ErrPurchaseCancelled.Error()
	default:
		res.Error = p.Err.Error()
		log.Warn("purchase failed", "err", p.Err)
	}

	c.dispatch(ctx, log, message.EventPurchaseResult, res)
	if res.Success {
		c.dispatch(ctx, log, message.EventPaymentSuccess, map[string]any{
			"planId":        p.Request.PlanID,
			"planType":      p.Request.PlanType,
			"transactionId": p.TxID,
		})
		if p.Tier != "" {
			c.dispatch(ctx, log, message.EventSubscriptionTierUpdated, map[string]string{"tier": p.Tier})
		}
	}
	return res
}

// PublishProducts tells the page which packages the SDK currently sells.
func (c *Coordinator) PublishProducts(ctx context.Context) error {
	pkgs, err := c.sdk.Offerings(ctx)
	if err != nil {
		return fmt.Errorf("load offerings: %w", err)
	}
	type product struct {
		Package
		PlanID string `json:"planId,omitempty"`
	}
	list := make([]product, 0, len(pkgs))
	for _, p := range pkgs {
		plan, _ := c.products.PlanID(p.ProductID)
		list = append(list, product{Package: p, PlanID: plan})
	}
	return c.out.Dispatch(ctx, message.EventProductsLoaded, map[string]any{"products": list})
}

func (c *Coordinator) dispatch(ctx context.Context, log *slog.Logger, event string, detail any) {
	if err := c.out.Dispatch(ctx, event, detail); err != nil {
		log.Warn("dispatch failed", "event", event, "err", err)
	}
}

// newID returns a ULID whose time part is at; the monotonic entropy keeps ids
// minted in the same millisecond distinct.
func (c *Coordinator) newID(at time.Time) string {
	c.entropyMu.Lock()
	defer c.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), c.entropy).String()
}

// MatchPackage finds the package selling productID: by product id, then by
// package identifier. When neither matches it returns the first package and
// exact is false. pkgs must not be empty.
func MatchPackage(pkgs []Package, productID string) (pkg Package, exact bool) {
	for _, p := range pkgs {
		if p.ProductID == productID {
			return p, true
		}
	}
	for _, p := range pkgs {
		if p.Identifier == productID {
			return p, true
		}
	}
	return pkgs[0], false
}
