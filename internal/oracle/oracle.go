// Package oracle bridges the purchase platform to the entitlement store.
//
// The platform is consumed through the Oracle interface. Adapter turns its
// purchase, restore and transaction-update events into store updates and
// turns every platform failure into a localized, retryable *Error. No
// failure here grants an entitlement.
package oracle

import (
	"context"
	"errors"

	"github.com/ybdigitall/closai/pkg/entitlement"
)

// ErrUserCancelled is returned by platforms that report a dismissed purchase
// sheet as an error rather than a PurchaseUserCancelled result.
var ErrUserCancelled = errors.New("purchase cancelled by user")

// PurchaseStatus is the platform's immediate answer to a purchase request.
type PurchaseStatus string

const (
	PurchaseSuccess       PurchaseStatus = "success"
	PurchaseUserCancelled PurchaseStatus = "user_cancelled"
	PurchasePending       PurchaseStatus = "pending"
)

// PurchaseResult is what the platform returns from Purchase. Result is only
// meaningful for PurchaseSuccess.
type PurchaseResult struct {
	Status PurchaseStatus
	Result entitlement.TransactionResult
}

// Oracle is the purchase platform.
type Oracle interface {
	FetchProducts(ctx context.Context, ids []string) ([]entitlement.Product, error)
	Purchase(ctx context.Context, product entitlement.Product) (PurchaseResult, error)
	CurrentEntitlements(ctx context.Context) ([]entitlement.TransactionResult, error)
	// TransactionUpdates streams transactions as the platform reports them.
	// The channel is closed when ctx is done.
	TransactionUpdates(ctx context.Context) <-chan entitlement.TransactionResult
	Sync(ctx context.Context) error
	Finish(ctx context.Context, tx entitlement.Transaction) error
}

// EntitlementStore receives status updates from the adapter.
// subscription.Store satisfies it.
type EntitlementStore interface {
	ApplyVerifiedTransaction(result entitlement.TransactionResult) bool
	Refresh(ctx context.Context) error
}

// OutcomeKind classifies a user-initiated purchase.
type OutcomeKind string

const (
	OutcomeVerified       OutcomeKind = "verified"
	OutcomeUnverified     OutcomeKind = "unverified"
	OutcomeUserCancelled  OutcomeKind = "user_cancelled"
	OutcomePending        OutcomeKind = "pending"
	OutcomeUnknownFailure OutcomeKind = "unknown_failure"
)

// PurchaseOutcome is the adapter's result for one purchase.
type PurchaseOutcome struct {
	Kind        OutcomeKind
	Transaction entitlement.Transaction
	// Reason explains unverified and failed outcomes.
	Reason string
}

// Observer is told about user-initiated purchase flows, e.g. for funnel telemetry.
type Observer interface {
	CheckoutStarted(plan entitlement.PlanKind)
	CheckoutFinished(plan entitlement.PlanKind, outcome OutcomeKind)
	RestoreFinished(err error)
}
