package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ybdigitall/closai/pkg/entitlement"
)

// DefaultTimeout bounds catalog, restore and refresh calls.
const DefaultTimeout = 30 * time.Second

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the per-call timeout for non-interactive oracle calls.
// Purchases are interactive and are never timed out by the adapter.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMetrics replaces the default metrics.
func WithMetrics(m *Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithObserver registers a purchase-flow observer.
func WithObserver(o Observer) Option {
	return func(a *Adapter) { a.observer = o }
}

// Adapter connects an Oracle to an EntitlementStore.
type Adapter struct {
	oracle   Oracle
	store    EntitlementStore
	timeout  time.Duration
	metrics  *Metrics
	observer Observer

	mu       sync.RWMutex
	products map[string]entitlement.Product
	lastErr  *Error

	finishMu sync.Mutex
	finished map[string]struct{}

	listenMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewAdapter creates an adapter. Call Start to begin listening for updates.
func NewAdapter(o Oracle, store EntitlementStore, opts ...Option) *Adapter {
	a := &Adapter{
		oracle:   o,
		store:    store,
		timeout:  DefaultTimeout,
		metrics:  GetMetrics(),
		products: make(map[string]entitlement.Product),
		finished: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.timeout)
}

func (a *Adapter) setError(err *Error) {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
	if err != nil {
		log.Warn().Err(err.Err).Str("op", err.Op).Str("kind", string(err.Kind)).Msg("Oracle operation failed")
	}
}

// LastError returns the most recent unresolved oracle error, or nil.
func (a *Adapter) LastError() *Error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastErr
}

// ClearError dismisses the current error.
func (a *Adapter) ClearError() {
	a.setError(nil)
}

// LoadCatalog fetches the live plans. On failure it returns the embedded
// fallback plans together with a retryable *Error.
func (a *Adapter) LoadCatalog(ctx context.Context) ([]entitlement.Plan, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	log.Debug().Strs("products", entitlement.ProductIDs()).Msg("Requesting plan catalog")
	products, err := a.oracle.FetchProducts(ctx, entitlement.ProductIDs())
	if err == nil && len(products) == 0 {
		err = ErrCatalogUnavailable
	}
	if err != nil {
		oe := NewError(KindCatalogUnavailable, "catalog", err)
		a.setError(oe)
		a.metrics.recordOperation("catalog", "error")
		return entitlement.FallbackCatalog(), oe
	}

	live := make(map[string]entitlement.Product, len(products))
	for _, p := range products {
		if _, ok := entitlement.PlanKindForProduct(p.ID); !ok {
			log.Warn().Str("product", p.ID).Msg("Ignoring unknown product in catalog")
			continue
		}
		live[p.ID] = p
	}

	a.mu.Lock()
	a.products = live
	if a.lastErr != nil && a.lastErr.Op == "catalog" {
		a.lastErr = nil
	}
	a.mu.Unlock()

	a.metrics.recordOperation("catalog", "ok")
	log.Info().Int("plans", len(live)).Msg("Plan catalog loaded")
	return a.Plans(), nil
}

// Plans returns the live plans in catalog order, or the fallback catalog
// when no live catalog has been loaded.
func (a *Adapter) Plans() []entitlement.Plan {
	a.mu.RLock()
	defer a.mu.RUnlock()

	fallback := entitlement.FallbackCatalog()
	if len(a.products) == 0 {
		return fallback
	}
	plans := make([]entitlement.Plan, 0, len(a.products))
	for _, plan := range fallback {
		if p, ok := a.products[plan.ProductID]; ok {
			plan.DisplayPrice = p.DisplayPrice
			plans = append(plans, plan)
		}
	}
	return plans
}

// DisplayPrice returns the live price for kind, or the embedded fallback.
func (a *Adapter) DisplayPrice(kind entitlement.PlanKind) string {
	a.mu.RLock()
	p, ok := a.products[kind.ProductID()]
	a.mu.RUnlock()
	if ok && p.DisplayPrice != "" {
		return p.DisplayPrice
	}
	for _, plan := range entitlement.FallbackCatalog() {
		if plan.Kind == kind {
			return plan.FallbackPrice
		}
	}
	return ""
}

// PurchasePlan buys the live product for kind. When the plan is missing from
// the live catalog the catalog is reloaded and a product-not-found error is
// returned so the user can retry.
func (a *Adapter) PurchasePlan(ctx context.Context, kind entitlement.PlanKind) (PurchaseOutcome, error) {
	a.mu.RLock()
	product, ok := a.products[kind.ProductID()]
	a.mu.RUnlock()
	if !ok {
		log.Warn().Str("plan", string(kind)).Msg("Plan not in live catalog; reloading")
		if _, err := a.LoadCatalog(ctx); err != nil {
			log.Debug().Err(err).Msg("Catalog reload failed")
		}
		oe := NewError(KindProductNotFound, "purchase", fmt.Errorf("%w: %s", ErrProductNotFound, kind))
		a.setError(oe)
		a.metrics.recordOperation("purchase", string(OutcomeUnknownFailure))
		return PurchaseOutcome{Kind: OutcomeUnknownFailure, Reason: oe.Error()}, oe
	}
	return a.Purchase(ctx, product)
}

// Purchase runs one purchase. Only a verified transaction reaches the store;
// it is finished after being applied. A cancelled purchase returns no error.
func (a *Adapter) Purchase(ctx context.Context, product entitlement.Product) (PurchaseOutcome, error) {
	kind, _ := entitlement.PlanKindForProduct(product.ID)
	if a.observer != nil {
		a.observer.CheckoutStarted(kind)
	}
	outcome, err := a.purchase(ctx, product)
	a.metrics.recordOperation("purchase", string(outcome.Kind))
	if a.observer != nil {
		a.observer.CheckoutFinished(kind, outcome.Kind)
	}
	return outcome, err
}

func (a *Adapter) purchase(ctx context.Context, product entitlement.Product) (PurchaseOutcome, error) {
	log.Info().Str("product", product.ID).Str("price", product.DisplayPrice).Msg("Starting purchase")

	res, err := a.oracle.Purchase(ctx, product)
	if err != nil {
		if errors.Is(err, ErrUserCancelled) || errors.Is(err, context.Canceled) {
			log.Info().Str("product", product.ID).Msg("Purchase cancelled by user")
			a.ClearError()
			return PurchaseOutcome{Kind: OutcomeUserCancelled}, nil
		}
		oe := wrap("purchase", KindUnknown, err)
		a.setError(oe)
		return PurchaseOutcome{Kind: OutcomeUnknownFailure, Reason: err.Error()}, oe
	}

	switch res.Status {
	case PurchaseSuccess:
		tx := res.Result.Transaction
		if !res.Result.Verified {
			log.Warn().
				Str("transaction", tx.ID).
				Str("reason", res.Result.VerificationError).
				Msg("Purchase unverified")
			oe := NewError(KindUnverified, "purchase", fmt.Errorf("%w: %s", ErrUnverified, res.Result.VerificationError))
			a.setError(oe)
			return PurchaseOutcome{Kind: OutcomeUnverified, Transaction: tx, Reason: res.Result.VerificationError}, oe
		}
		a.store.ApplyVerifiedTransaction(res.Result)
		a.finishOnce(ctx, tx)
		a.ClearError()
		log.Info().Str("transaction", tx.ID).Str("product", tx.ProductID).Msg("Purchase verified")
		return PurchaseOutcome{Kind: OutcomeVerified, Transaction: tx}, nil

	case PurchaseUserCancelled:
		log.Info().Str("product", product.ID).Msg("Purchase cancelled by user")
		a.ClearError()
		return PurchaseOutcome{Kind: OutcomeUserCancelled}, nil

	case PurchasePending:
		log.Info().Str("product", product.ID).Msg("Purchase pending")
		oe := NewError(KindPending, "purchase", ErrPending)
		a.setError(oe)
		return PurchaseOutcome{Kind: OutcomePending}, oe

	default:
		oe := NewError(KindUnknown, "purchase", fmt.Errorf("unexpected purchase status %q", res.Status))
		a.setError(oe)
		return PurchaseOutcome{Kind: OutcomeUnknownFailure, Reason: oe.Err.Error()}, oe
	}
}

// Restore syncs past purchases with the platform and then refreshes the store.
func (a *Adapter) Restore(ctx context.Context) error {
	err := a.restore(ctx)
	if err != nil {
		a.metrics.recordOperation("restore", "error")
	} else {
		a.metrics.recordOperation("restore", "ok")
	}
	if a.observer != nil {
		a.observer.RestoreFinished(err)
	}
	return err
}

func (a *Adapter) restore(ctx context.Context) error {
	sctx, cancel := a.withTimeout(ctx)
	err := a.oracle.Sync(sctx)
	cancel()
	if err != nil {
		oe := wrap("restore", KindNetwork, err)
		a.setError(oe)
		return oe
	}
	if err := a.refresh(ctx, "restore"); err != nil {
		return err
	}
	a.ClearError()
	log.Info().Msg("Purchases restored")
	return nil
}

// Refresh re-derives the store status from the platform's current entitlements.
func (a *Adapter) Refresh(ctx context.Context) error {
	return a.refresh(ctx, "refresh")
}

// refresh publishes a failure under op, so Retry repeats the operation the
// user started.
func (a *Adapter) refresh(ctx context.Context, op string) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.store.Refresh(ctx); err != nil {
		oe := wrap(op, KindNetwork, err)
		a.setError(oe)
		a.metrics.recordOperation("refresh", "error")
		return oe
	}
	a.mu.Lock()
	if a.lastErr != nil && a.lastErr.Op == op {
		a.lastErr = nil
	}
	a.mu.Unlock()
	a.metrics.recordOperation("refresh", "ok")
	return nil
}

// Retry repeats the operation behind the current error. Failed purchases are
// not repeated automatically; the user starts a new purchase instead.
func (a *Adapter) Retry(ctx context.Context) error {
	last := a.LastError()
	if last == nil {
		return nil
	}
	switch last.Op {
	case "catalog":
		_, err := a.LoadCatalog(ctx)
		return err
	case "restore":
		return a.Restore(ctx)
	case "refresh":
		return a.Refresh(ctx)
	default:
		_, err := a.LoadCatalog(ctx)
		if err == nil {
			a.ClearError()
		}
		return err
	}
}

// finishOnce acknowledges tx with the platform at most once per adapter.
// A failed finish is forgotten so that a redelivery can try again.
func (a *Adapter) finishOnce(ctx context.Context, tx entitlement.Transaction) {
	if tx.ID == "" {
		return
	}
	a.finishMu.Lock()
	if _, done := a.finished[tx.ID]; done {
		a.finishMu.Unlock()
		return
	}
	a.finished[tx.ID] = struct{}{}
	a.finishMu.Unlock()

	fctx, cancel := a.withTimeout(context.WithoutCancel(ctx))
	defer cancel()
	if err := a.oracle.Finish(fctx, tx); err != nil {
		a.finishMu.Lock()
		delete(a.finished, tx.ID)
		a.finishMu.Unlock()
		log.Warn().Err(err).Str("transaction", tx.ID).Msg("Failed to finish transaction")
		return
	}
	log.Debug().Str("transaction", tx.ID).Msg("Transaction finished")
}
