// Package sandbox is an in-process purchase platform, in the spirit of a local
// StoreKit configuration. Purchases always succeed unless a failure is
// scripted, and transactions can be persisted to a kvstore so that a CLI
// session sees earlier purchases.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ybdigitall/closai/internal/clock"
	"github.com/ybdigitall/closai/internal/kvstore"
	"github.com/ybdigitall/closai/internal/oracle"
	"github.com/ybdigitall/closai/pkg/entitlement"
)

// KeyTransactions holds the persisted transaction history.
const KeyTransactions = "sandbox.transactions"

// ErrUnknownTransaction is returned by Revoke for IDs the sandbox never issued.
var ErrUnknownTransaction = errors.New("unknown sandbox transaction")

// Behavior scripts the result of the next purchase.
type Behavior string

const (
	BehaviorVerify     Behavior = "verify"
	BehaviorUnverified Behavior = "unverified"
	BehaviorCancel     Behavior = "cancel"
	BehaviorPending    Behavior = "pending"
	BehaviorFail       Behavior = "fail"
)

// Oracle implements oracle.Oracle in memory.
type Oracle struct {
	mu    sync.Mutex
	kv    kvstore.Store
	clock clock.Clock

	prices       map[string]string
	transactions []entitlement.Transaction
	unverified   []entitlement.TransactionResult
	finished     map[string]int
	attempts     map[string]int
	syncs        int

	next         Behavior
	fetchErr     error
	syncErr      error
	entitleErr   error
	finishErr    error
	listeners    map[int]chan entitlement.TransactionResult
	nextListener int
}

var _ oracle.Oracle = (*Oracle)(nil)

// New creates a sandbox. kv may be nil for a purely in-memory platform.
func New(kv kvstore.Store, clk clock.Clock) (*Oracle, error) {
	if clk == nil {
		clk = clock.System{}
	}
	o := &Oracle{
		kv:        kv,
		clock:     clk,
		prices:    make(map[string]string),
		finished:  make(map[string]int),
		attempts:  make(map[string]int),
		next:      BehaviorVerify,
		listeners: make(map[int]chan entitlement.TransactionResult),
	}
	for _, plan := range entitlement.FallbackCatalog() {
		o.prices[plan.ProductID] = plan.FallbackPrice
	}
	if kv != nil {
		raw, ok, err := kv.Get(KeyTransactions)
		if err != nil {
			return nil, fmt.Errorf("load sandbox transactions: %w", err)
		}
		if ok && raw != "" {
			if err := json.Unmarshal([]byte(raw), &o.transactions); err != nil {
				return nil, fmt.Errorf("decode sandbox transactions: %w", err)
			}
		}
	}
	return o, nil
}

// SetPrice overrides the live price of a product. An empty price removes the
// product from the live catalog.
func (o *Oracle) SetPrice(productID, price string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if price == "" {
		delete(o.prices, productID)
		return
	}
	o.prices[productID] = price
}

// SetNextPurchase scripts the outcome of the next Purchase call.
func (o *Oracle) SetNextPurchase(b Behavior) {
	o.mu.Lock()
	o.next = b
	o.mu.Unlock()
}

// FailFetch makes FetchProducts return err until cleared with nil.
func (o *Oracle) FailFetch(err error) {
	o.mu.Lock()
	o.fetchErr = err
	o.mu.Unlock()
}

// FailSync makes Sync return err until cleared with nil.
func (o *Oracle) FailSync(err error) {
	o.mu.Lock()
	o.syncErr = err
	o.mu.Unlock()
}

// FailEntitlements makes CurrentEntitlements return err until cleared with nil.
func (o *Oracle) FailEntitlements(err error) {
	o.mu.Lock()
	o.entitleErr = err
	o.mu.Unlock()
}

// FailFinish makes Finish return err until cleared with nil.
func (o *Oracle) FailFinish(err error) {
	o.mu.Lock()
	o.finishErr = err
	o.mu.Unlock()
}

// AddUnverifiedEntitlement makes CurrentEntitlements also report result.
func (o *Oracle) AddUnverifiedEntitlement(result entitlement.TransactionResult) {
	o.mu.Lock()
	o.unverified = append(o.unverified, result)
	o.mu.Unlock()
}

func (o *Oracle) FetchProducts(ctx context.Context, ids []string) ([]entitlement.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fetchErr != nil {
		return nil, o.fetchErr
	}
	products := make([]entitlement.Product, 0, len(ids))
	for _, id := range ids {
		if price, ok := o.prices[id]; ok {
			products = append(products, entitlement.Product{ID: id, DisplayPrice: price})
		}
	}
	return products, nil
}

func (o *Oracle) Purchase(ctx context.Context, product entitlement.Product) (oracle.PurchaseResult, error) {
	if err := ctx.Err(); err != nil {
		return oracle.PurchaseResult{}, err
	}
	o.mu.Lock()
	behavior := o.next
	o.next = BehaviorVerify
	o.mu.Unlock()

	switch behavior {
	case BehaviorCancel:
		return oracle.PurchaseResult{Status: oracle.PurchaseUserCancelled}, nil
	case BehaviorPending:
		return oracle.PurchaseResult{Status: oracle.PurchasePending}, nil
	case BehaviorFail:
		return oracle.PurchaseResult{}, fmt.Errorf("%w: sandbox purchase failed", oracle.ErrNetwork)
	}

	tx := o.newTransaction(product.ID)
	if behavior == BehaviorUnverified {
		return oracle.PurchaseResult{
			Status: oracle.PurchaseSuccess,
			Result: entitlement.Unverified(tx, "sandbox: signature verification failed"),
		}, nil
	}

	if err := o.record(tx); err != nil {
		return oracle.PurchaseResult{}, err
	}
	return oracle.PurchaseResult{Status: oracle.PurchaseSuccess, Result: entitlement.Verified(tx)}, nil
}

func (o *Oracle) newTransaction(productID string) entitlement.Transaction {
	now := o.clock.Now()
	id := uuid.NewString()
	tx := entitlement.Transaction{
		ID:          id,
		OriginalID:  id,
		ProductID:   productID,
		PurchasedAt: now,
	}
	if kind, ok := entitlement.PlanKindForProduct(productID); ok {
		expiry := Expiry(kind, now)
		tx.ExpiresAt = &expiry
	}
	return tx
}

// Expiry returns when a plan bought at from runs out.
func Expiry(kind entitlement.PlanKind, from time.Time) time.Time {
	switch kind {
	case entitlement.PlanWeekly:
		return from.AddDate(0, 0, 7)
	case entitlement.PlanYearly:
		return from.AddDate(1, 0, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}

func (o *Oracle) record(tx entitlement.Transaction) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transactions = append(o.transactions, tx)
	return o.persistLocked()
}

func (o *Oracle) persistLocked() error {
	if o.kv == nil {
		return nil
	}
	data, err := json.Marshal(o.transactions)
	if err != nil {
		return fmt.Errorf("encode sandbox transactions: %w", err)
	}
	if err := o.kv.Set(map[string]string{KeyTransactions: string(data)}); err != nil {
		return fmt.Errorf("persist sandbox transactions: %w", err)
	}
	return nil
}

// CurrentEntitlements reports the newest unexpired, unrevoked transaction per
// product, plus any scripted unverified results.
func (o *Oracle) CurrentEntitlements(ctx context.Context) ([]entitlement.TransactionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.entitleErr != nil {
		return nil, o.entitleErr
	}

	now := o.clock.Now()
	latest := make(map[string]entitlement.Transaction)
	for _, tx := range o.transactions {
		if tx.Revoked() {
			continue
		}
		if tx.ExpiresAt != nil && !tx.ExpiresAt.After(now) {
			continue
		}
		if cur, ok := latest[tx.ProductID]; !ok || tx.PurchasedAt.After(cur.PurchasedAt) {
			latest[tx.ProductID] = tx
		}
	}

	out := make([]entitlement.TransactionResult, 0, len(latest)+len(o.unverified))
	for _, tx := range latest {
		out = append(out, entitlement.Verified(tx))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Transaction.PurchasedAt.Before(out[j].Transaction.PurchasedAt)
	})
	out = append(out, o.unverified...)
	return out, nil
}

// TransactionUpdates returns a stream fed by Deliver, Renew and Revoke.
func (o *Oracle) TransactionUpdates(ctx context.Context) <-chan entitlement.TransactionResult {
	ch := make(chan entitlement.TransactionResult, 16)

	o.mu.Lock()
	id := o.nextListener
	o.nextListener++
	o.listeners[id] = ch
	o.mu.Unlock()

	go func() {
		<-ctx.Done()
		o.mu.Lock()
		delete(o.listeners, id)
		close(ch)
		o.mu.Unlock()
	}()
	return ch
}

// Deliver pushes result to every update listener, as the platform does for
// renewals or purchases made on another device. Listeners with a full
// buffer drop the update and log it.
func (o *Oracle) Deliver(result entitlement.TransactionResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, ch := range o.listeners {
		select {
		case ch <- result:
		default:
			log.Warn().Int("listener", id).Str("transaction", result.Transaction.ID).Msg("Sandbox update listener full; dropping update")
		}
	}
}

// Renew records a renewal of kind purchased now and delivers it as an update.
func (o *Oracle) Renew(kind entitlement.PlanKind) (entitlement.Transaction, error) {
	tx := o.newTransaction(kind.ProductID())
	if err := o.record(tx); err != nil {
		return entitlement.Transaction{}, err
	}
	o.Deliver(entitlement.Verified(tx))
	return tx, nil
}

// Revoke marks a transaction revoked (a refund) and delivers the revocation.
func (o *Oracle) Revoke(id string) error {
	o.mu.Lock()
	var (
		revoked entitlement.Transaction
		found   bool
	)
	now := o.clock.Now()
	for i := range o.transactions {
		if o.transactions[i].ID == id {
			o.transactions[i].RevokedAt = &now
			revoked, found = o.transactions[i], true
			break
		}
	}
	if !found {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTransaction, id)
	}
	err := o.persistLocked()
	o.mu.Unlock()
	if err != nil {
		return err
	}
	o.Deliver(entitlement.Verified(revoked))
	return nil
}

func (o *Oracle) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.syncErr != nil {
		return o.syncErr
	}
	o.syncs++
	return nil
}

func (o *Oracle) Finish(ctx context.Context, tx entitlement.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts[tx.ID]++
	if o.finishErr != nil {
		return o.finishErr
	}
	o.finished[tx.ID]++
	return nil
}

// FinishCount reports how often id was finished.
func (o *Oracle) FinishCount(id string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finished[id]
}

// FinishAttempts reports how often Finish was called for id, including failures.
func (o *Oracle) FinishAttempts(id string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts[id]
}

// SyncCount reports how many Sync calls succeeded.
func (o *Oracle) SyncCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.syncs
}

// Transactions returns a copy of the recorded history.
func (o *Oracle) Transactions() []entitlement.Transaction {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]entitlement.Transaction, len(o.transactions))
	copy(out, o.transactions)
	return out
}
