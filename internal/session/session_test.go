package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ybdigitall/closai/internal/clock"
	"github.com/ybdigitall/closai/internal/closet"
	"github.com/ybdigitall/closai/internal/config"
	"github.com/ybdigitall/closai/internal/conversion"
	"github.com/ybdigitall/closai/internal/kvstore"
	"github.com/ybdigitall/closai/internal/logging"
	"github.com/ybdigitall/closai/internal/oracle"
	"github.com/ybdigitall/closai/internal/oracle/sandbox"
	"github.com/ybdigitall/closai/pkg/entitlement"
)

type fixture struct {
	session  *Session
	platform *sandbox.Oracle
	clock    *clock.Fake
	kv       kvstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	kv := kvstore.NewMemoryStore()
	platform, err := sandbox.New(kv, clk)
	require.NoError(t, err)

	s, err := New(Options{
		KV:         kv,
		Oracle:     platform,
		Clock:      clk,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &fixture{session: s, platform: platform, clock: clk, kv: kv}
}

func countEvents(s *Session, eventType string) int64 {
	var n int64
	for _, b := range s.Conversion.Snapshot() {
		if b.Type == eventType {
			n += b.Count
		}
	}
	return n
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{Oracle: &sandbox.Oracle{}})
	assert.Error(t, err)
	_, err = New(Options{KV: kvstore.NewMemoryStore()})
	assert.Error(t, err)
}

func TestStartResolvesFreeStatus(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, entitlement.StatusLoading, f.session.Subscription.Status().Kind)

	require.NoError(t, f.session.Start(context.Background()))
	assert.Equal(t, entitlement.StatusFree, f.session.Subscription.Status().Kind)
	assert.Len(t, f.session.Adapter.Plans(), 3)

	// Start is idempotent.
	require.NoError(t, f.session.Start(context.Background()))
}

func TestStartReportsCatalogFailureButStaysUsable(t *testing.T) {
	f := newFixture(t)
	f.platform.FailFetch(errors.New("offline"))

	err := f.session.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, entitlement.StatusFree, f.session.Subscription.Status().Kind)
	assert.Equal(t, entitlement.FallbackCatalog()[1].FallbackPrice, f.session.Adapter.DisplayPrice(entitlement.PlanMonthly))
}

func TestPurchaseFlowClearsPendingAndRecordsFunnel(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Start(context.Background()))

	for i := 0; i < entitlement.FreeClothingLimit; i++ {
		_, err := f.session.Closet.AddItem(closet.NewItem{Type: "top"})
		require.NoError(t, err)
	}
	_, err := f.session.Closet.AddItem(closet.NewItem{Type: "top"})
	_, denied := closet.Decision(err)
	require.True(t, denied)

	reasons := f.session.Paywall(conversion.SurfacePaywall)
	require.NotEmpty(t, reasons)
	assert.Equal(t, entitlement.FeatureUnlimitedClothing, reasons[0].Feature)

	outcome, err := f.session.Adapter.PurchasePlan(context.Background(), entitlement.PlanMonthly)
	require.NoError(t, err)
	assert.Equal(t, oracle.OutcomeVerified, outcome.Kind)
	assert.True(t, f.session.Subscription.IsPremium())

	assert.Eventually(t, func() bool {
		_, pending := f.session.Ledger.PendingReason()
		return !pending
	}, 2*time.Second, 10*time.Millisecond)

	_, err = f.session.Closet.AddItem(closet.NewItem{Type: "top"})
	assert.NoError(t, err)

	assert.Equal(t, int64(1), countEvents(f.session, conversion.EventLimitBlocked))
	assert.Equal(t, int64(1), countEvents(f.session, conversion.EventPaywallViewed))
	assert.Equal(t, int64(1), countEvents(f.session, conversion.EventCheckoutStarted))
	assert.Equal(t, int64(1), countEvents(f.session, conversion.EventCheckoutCompleted))
}

func TestCancelledAndFailedCheckoutsAreRecorded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Start(context.Background()))

	f.platform.SetNextPurchase(sandbox.BehaviorCancel)
	outcome, err := f.session.Adapter.PurchasePlan(context.Background(), entitlement.PlanWeekly)
	require.NoError(t, err)
	assert.Equal(t, oracle.OutcomeUserCancelled, outcome.Kind)

	f.platform.SetNextPurchase(sandbox.BehaviorUnverified)
	outcome, _ = f.session.Adapter.PurchasePlan(context.Background(), entitlement.PlanYearly)
	assert.Equal(t, oracle.OutcomeUnverified, outcome.Kind)

	assert.False(t, f.session.Subscription.IsPremium())
	assert.Equal(t, int64(1), countEvents(f.session, conversion.EventCheckoutCancelled))
	assert.Equal(t, int64(1), countEvents(f.session, conversion.EventCheckoutFailed))
	assert.Zero(t, countEvents(f.session, conversion.EventCheckoutCompleted))
}

func TestListenerAppliesRenewalAfterStart(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Start(context.Background()))

	_, err := f.platform.Renew(entitlement.PlanYearly)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return f.session.Subscription.IsPremium()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRestoreRecordsEvent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Start(context.Background()))

	require.NoError(t, f.session.Adapter.Restore(context.Background()))
	assert.Equal(t, int64(1), countEvents(f.session, conversion.EventRestoreCompleted))
}

func TestEntitlementSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Start(context.Background()))
	_, err := f.session.Adapter.PurchasePlan(context.Background(), entitlement.PlanMonthly)
	require.NoError(t, err)
	_, err = f.session.Closet.AddItem(closet.NewItem{Type: "dress", Name: "Summer dress"})
	require.NoError(t, err)
	require.NoError(t, f.session.Close())

	platform, err := sandbox.New(f.kv, f.clock)
	require.NoError(t, err)
	restarted, err := New(Options{KV: f.kv, Oracle: platform, Clock: f.clock, Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer restarted.Close()

	assert.True(t, restarted.Subscription.CachedPremium())
	assert.False(t, restarted.Subscription.IsPremium(), "cached flag never gates")

	require.NoError(t, restarted.Start(context.Background()))
	assert.True(t, restarted.Subscription.IsPremium())
	require.Len(t, restarted.Closet.Items(), 1)
	assert.Equal(t, 1, restarted.Ledger.ClothingItemCount())
}

func TestOpenFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:           dir,
		StoreBackend:      kvstore.BackendSQLite,
		Location:          time.UTC,
		ConversionEnabled: true,
		OracleTimeout:     5 * time.Second,
	}

	s, platform, err := Open(cfg)
	require.NoError(t, err)
	require.NotNil(t, platform)
	require.NoError(t, s.Start(context.Background()))

	assert.Error(t, s.Closet.SetTheme(closet.ThemeDark))
	require.NotNil(t, s.Conversion.Store())

	now := time.Now()
	summary, err := s.Conversion.Store().FunnelSummary(now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.LimitBlocked)
	assert.Equal(t, filepath.Join(dir, "conversion", "conversion.db"), cfg.ConversionDBPath())

	require.NoError(t, s.Close())
}

func TestApplyRuntimeSwitchesCollection(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	kv := kvstore.NewMemoryStore()
	platform, err := sandbox.New(kv, clk)
	require.NoError(t, err)
	s, err := New(Options{
		KV:         kv,
		Oracle:     platform,
		Clock:      clk,
		Collection: conversion.NewCollectionConfig(true),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	defer s.Close()
	t.Cleanup(func() { logging.SetLevel("info") })

	s.ApplyRuntime(config.Runtime{LogLevel: "warn", ConversionEnabled: true, DisabledSurfaces: []string{conversion.SurfaceTheme}})
	assert.Error(t, s.Closet.SetTheme(closet.ThemeDark))
	assert.Zero(t, countEvents(s, conversion.EventLimitBlocked))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	s.ApplyRuntime(config.Runtime{LogLevel: "info", ConversionEnabled: true})
	assert.Error(t, s.Closet.SetTheme(closet.ThemeDark))
	assert.Equal(t, int64(1), countEvents(s, conversion.EventLimitBlocked))

	s.ApplyRuntime(config.Runtime{LogLevel: "info", ConversionEnabled: false})
	s.Paywall(conversion.SurfacePaywall)
	assert.Zero(t, countEvents(s, conversion.EventPaywallViewed))
}

func TestOpenHonoursDisabledSurfaces(t *testing.T) {
	cfg := &config.Config{
		DataDir:           t.TempDir(),
		StoreBackend:      kvstore.BackendMemory,
		Location:          time.UTC,
		ConversionEnabled: true,
		DisabledSurfaces:  []string{conversion.SurfacePaywall},
		OracleTimeout:     5 * time.Second,
	}
	s, _, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.Collection.IsSurfaceEnabled(conversion.SurfacePaywall))
	assert.True(t, s.Collection.IsSurfaceEnabled(conversion.SurfaceCloset))
}
