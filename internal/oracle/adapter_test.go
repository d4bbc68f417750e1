package oracle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ybdigitall/closai/internal/oracle"
	"github.com/ybdigitall/closai/internal/oracle/sandbox"
	"github.com/ybdigitall/closai/internal/subscription"
	"github.com/ybdigitall/closai/pkg/entitlement"
)

type recordingObserver struct {
	mu       sync.Mutex
	started  []entitlement.PlanKind
	outcomes []oracle.OutcomeKind
	restores []error
}

func (r *recordingObserver) CheckoutStarted(plan entitlement.PlanKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, plan)
}

func (r *recordingObserver) CheckoutFinished(_ entitlement.PlanKind, outcome oracle.OutcomeKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingObserver) RestoreFinished(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restores = append(r.restores, err)
}

type fixture struct {
	platform *sandbox.Oracle
	store    *subscription.Store
	adapter  *oracle.Adapter
	observer *recordingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	platform, err := sandbox.New(nil, nil)
	require.NoError(t, err)
	store := subscription.NewStore(platform, nil)
	observer := &recordingObserver{}
	adapter := oracle.NewAdapter(platform, store,
		oracle.WithMetrics(oracle.NewMetrics(prometheus.NewRegistry())),
		oracle.WithObserver(observer),
		oracle.WithTimeout(time.Second),
	)
	t.Cleanup(adapter.Stop)
	return &fixture{platform: platform, store: store, adapter: adapter, observer: observer}
}

func TestLoadCatalog(t *testing.T) {
	f := newFixture(t)
	f.platform.SetPrice(entitlement.ProductMonthly, "$4.99")

	plans, err := f.adapter.LoadCatalog(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, entitlement.PlanWeekly, plans[0].Kind)
	assert.Equal(t, entitlement.PlanYearly, plans[2].Kind)
	assert.Equal(t, "$4.99", plans[1].Price())
	assert.Equal(t, "$4.99", f.adapter.DisplayPrice(entitlement.PlanMonthly))
	assert.Nil(t, f.adapter.LastError())
}

func TestLoadCatalogFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	f.platform.FailFetch(errors.New("offline"))

	plans, err := f.adapter.LoadCatalog(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, oracle.ErrCatalogUnavailable)
	assert.True(t, oracle.IsRetryable(err))
	require.Len(t, plans, 3)
	assert.Empty(t, plans[0].DisplayPrice)
	assert.Equal(t, "₺129,99", f.adapter.DisplayPrice(entitlement.PlanMonthly))

	last := f.adapter.LastError()
	require.NotNil(t, last)
	assert.Equal(t, oracle.KindCatalogUnavailable, last.Kind)

	f.platform.FailFetch(nil)
	require.NoError(t, f.adapter.Retry(context.Background()))
	assert.Nil(t, f.adapter.LastError())
}

func TestEmptyCatalogIsAnError(t *testing.T) {
	f := newFixture(t)
	for _, id := range entitlement.ProductIDs() {
		f.platform.SetPrice(id, "")
	}
	_, err := f.adapter.LoadCatalog(context.Background())
	assert.ErrorIs(t, err, oracle.ErrCatalogUnavailable)
}

func TestPurchaseVerifiedGrantsAndFinishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.adapter.LoadCatalog(ctx)
	require.NoError(t, err)
	require.NoError(t, f.adapter.Refresh(ctx))
	require.False(t, f.store.IsPremium())

	outcome, err := f.adapter.PurchasePlan(ctx, entitlement.PlanMonthly)
	require.NoError(t, err)
	assert.Equal(t, oracle.OutcomeVerified, outcome.Kind)

	status := f.store.Status()
	assert.True(t, status.IsPremium())
	assert.Equal(t, entitlement.PlanMonthly, status.Plan)
	assert.Equal(t, 1, f.platform.FinishCount(outcome.Transaction.ID))

	assert.Equal(t, []entitlement.PlanKind{entitlement.PlanMonthly}, f.observer.started)
	assert.Equal(t, []oracle.OutcomeKind{oracle.OutcomeVerified}, f.observer.outcomes)
}

func TestPurchaseOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		behavior sandbox.Behavior
		outcome  oracle.OutcomeKind
		target   error
	}{
		{"cancelled", sandbox.BehaviorCancel, oracle.OutcomeUserCancelled, nil},
		{"unverified", sandbox.BehaviorUnverified, oracle.OutcomeUnverified, oracle.ErrUnverified},
		{"pending", sandbox.BehaviorPending, oracle.OutcomePending, oracle.ErrPending},
		{"failed", sandbox.BehaviorFail, oracle.OutcomeUnknownFailure, oracle.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.adapter.LoadCatalog(ctx)
			require.NoError(t, err)
			require.NoError(t, f.adapter.Refresh(ctx))

			f.platform.SetNextPurchase(tt.behavior)
			outcome, err := f.adapter.PurchasePlan(ctx, entitlement.PlanYearly)
			assert.Equal(t, tt.outcome, outcome.Kind)
			if tt.target == nil {
				assert.NoError(t, err)
				assert.Nil(t, f.adapter.LastError())
			} else {
				assert.ErrorIs(t, err, tt.target)
				assert.NotNil(t, f.adapter.LastError())
			}
			assert.False(t, f.store.IsPremium(), "no grant for %s", tt.name)
		})
	}
}

func TestPurchasePlanMissingReloadsCatalog(t *testing.T) {
	f := newFixture(t)
	f.platform.SetPrice(entitlement.ProductWeekly, "")
	_, err := f.adapter.LoadCatalog(context.Background())
	require.NoError(t, err)

	f.platform.SetPrice(entitlement.ProductWeekly, "₺49,99")
	outcome, err := f.adapter.PurchasePlan(context.Background(), entitlement.PlanWeekly)
	assert.ErrorIs(t, err, oracle.ErrProductNotFound)
	assert.True(t, oracle.IsRetryable(err))
	assert.Equal(t, oracle.OutcomeUnknownFailure, outcome.Kind)

	// The reload picked the plan up, so the retry succeeds.
	outcome, err = f.adapter.PurchasePlan(context.Background(), entitlement.PlanWeekly)
	require.NoError(t, err)
	assert.Equal(t, oracle.OutcomeVerified, outcome.Kind)
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.platform.Renew(entitlement.PlanYearly)
	require.NoError(t, err)

	require.NoError(t, f.adapter.Restore(ctx))
	assert.Equal(t, 1, f.platform.SyncCount())
	assert.Equal(t, entitlement.PlanYearly, f.store.Status().Plan)
	assert.Equal(t, []error{nil}, f.observer.restores)
}

func TestRestoreFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.platform.FailSync(errors.New("no network"))

	err := f.adapter.Restore(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, oracle.ErrNetwork)
	assert.Contains(t, oracle.UserMessage(err, entitlement.LanguageEnglish), "restored")

	f.platform.FailSync(nil)
	require.NoError(t, f.adapter.Retry(context.Background()))
	assert.Nil(t, f.adapter.LastError())
}

func TestRestoreRefreshFailureIsLabelledRestore(t *testing.T) {
	f := newFixture(t)
	f.platform.FailEntitlements(errors.New("timeout talking to store"))

	err := f.adapter.Restore(context.Background())
	require.Error(t, err)
	last := f.adapter.LastError()
	require.NotNil(t, last)
	assert.Equal(t, "restore", last.Op)
	assert.Same(t, last, err)

	f.platform.FailEntitlements(nil)
	require.NoError(t, f.adapter.Retry(context.Background()))
	assert.Equal(t, 2, f.platform.SyncCount())
	assert.Nil(t, f.adapter.LastError())
}

func TestRefreshFailureIsFailClosed(t *testing.T) {
	f := newFixture(t)
	f.platform.FailEntitlements(errors.New("timeout talking to store"))

	err := f.adapter.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, entitlement.StatusError, f.store.Status().Kind)
	assert.False(t, f.store.IsPremium())
}

func TestRefreshIgnoresUnverifiedEntitlement(t *testing.T) {
	f := newFixture(t)
	expiry := time.Now().Add(24 * time.Hour)
	f.platform.AddUnverifiedEntitlement(entitlement.Unverified(entitlement.Transaction{
		ID:        "forged",
		ProductID: entitlement.ProductYearly,
		ExpiresAt: &expiry,
	}, "bad signature"))

	require.NoError(t, f.adapter.Refresh(context.Background()))
	assert.Equal(t, entitlement.StatusFree, f.store.Status().Kind)
}

func TestListenerAppliesUpdatesOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Refresh(context.Background()))
	f.adapter.Start(context.Background())

	tx, err := f.platform.Renew(entitlement.PlanWeekly)
	require.NoError(t, err)
	require.Eventually(t, f.store.IsPremium, time.Second, time.Millisecond)

	// Redelivery of the same transaction is neither re-applied nor re-finished.
	f.platform.Deliver(entitlement.Verified(tx))
	f.platform.Deliver(entitlement.Verified(tx))
	require.Eventually(t, func() bool { return f.platform.FinishCount(tx.ID) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.platform.FinishCount(tx.ID))
}

func TestListenerIgnoresUnverified(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Refresh(context.Background()))
	f.adapter.Start(context.Background())

	expiry := time.Now().Add(time.Hour)
	forged := entitlement.Transaction{ID: "forged-1", ProductID: entitlement.ProductMonthly, ExpiresAt: &expiry}
	f.platform.Deliver(entitlement.Unverified(forged, "bad signature"))

	// A verified update afterwards proves the unverified one was processed first.
	renewal, err := f.platform.Renew(entitlement.PlanWeekly)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.platform.FinishCount(renewal.ID) == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, 0, f.platform.FinishCount(forged.ID))
	assert.Equal(t, entitlement.PlanWeekly, f.store.Status().Plan)
}

func TestPurchaseAndListenerDoNotDoubleApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.adapter.LoadCatalog(ctx)
	require.NoError(t, err)
	require.NoError(t, f.adapter.Refresh(ctx))
	f.adapter.Start(ctx)

	outcome, err := f.adapter.PurchasePlan(ctx, entitlement.PlanMonthly)
	require.NoError(t, err)
	after := f.store.Status()

	// The platform also reports the purchase on the update stream.
	f.platform.Deliver(entitlement.Verified(outcome.Transaction))
	time.Sleep(20 * time.Millisecond)

	assert.True(t, after.Equal(f.store.Status()))
	assert.Equal(t, 1, f.platform.FinishCount(outcome.Transaction.ID))
}

func TestRevocationTriggersRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.adapter.LoadCatalog(ctx)
	require.NoError(t, err)
	f.adapter.Start(ctx)

	outcome, err := f.adapter.PurchasePlan(ctx, entitlement.PlanMonthly)
	require.NoError(t, err)
	require.True(t, f.store.IsPremium())

	require.NoError(t, f.platform.Revoke(outcome.Transaction.ID))
	require.Eventually(t, func() bool { return !f.store.IsPremium() }, time.Second, time.Millisecond)
	assert.Equal(t, entitlement.StatusFree, f.store.Status().Kind)
}

func TestFinishFailureAllowsRetryOnRedelivery(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Refresh(context.Background()))
	f.adapter.Start(context.Background())

	f.platform.FailFinish(errors.New("finish rejected"))
	tx, err := f.platform.Renew(entitlement.PlanWeekly)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.platform.FinishAttempts(tx.ID) == 1 }, time.Second, time.Millisecond)
	assert.True(t, f.store.IsPremium())
	assert.Equal(t, 0, f.platform.FinishCount(tx.ID))

	f.platform.FailFinish(nil)
	f.platform.Deliver(entitlement.Verified(tx))
	require.Eventually(t, func() bool { return f.platform.FinishCount(tx.ID) == 1 }, time.Second, time.Millisecond)
}

func TestStopEndsCallbacks(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.Refresh(context.Background()))
	f.adapter.Start(context.Background())
	f.adapter.Stop()
	f.adapter.Stop()

	_, err := f.platform.Renew(entitlement.PlanYearly)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, f.store.IsPremium())
}
