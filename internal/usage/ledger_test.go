package usage

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ybdigitall/closai/internal/clock"
	"github.com/ybdigitall/closai/internal/kvstore"
	"github.com/ybdigitall/closai/pkg/entitlement"
)

type premiumFlag struct{ v atomic.Bool }

func (p *premiumFlag) IsPremium() bool { return p.v.Load() }

func newTestLedger(t *testing.T) (*Ledger, *premiumFlag, *clock.Fake, kvstore.Store) {
	t.Helper()
	flag := &premiumFlag{}
	clk := clock.NewFake(time.Date(2026, 10, 16, 10, 0, 0, 0, time.Local))
	kv := kvstore.NewMemoryStore()
	return NewLedger(flag, kv, clk), flag, clk, kv
}

func TestClothingLimitScenario(t *testing.T) {
	l, _, _, _ := newTestLedger(t)

	for want := 1; want <= entitlement.FreeClothingLimit; want++ {
		require.True(t, l.RecordClothingAdded())
		assert.Equal(t, want, l.ClothingItemCount())
	}

	assert.False(t, l.RecordClothingAdded())
	assert.Equal(t, entitlement.FreeClothingLimit, l.ClothingItemCount())

	reason, ok := l.PendingReason()
	require.True(t, ok)
	assert.Equal(t, entitlement.ReasonClothingLimitReached, reason.Reason)
	assert.True(t, reason.TriggersUpgradePrompt)

	l.ClearPendingReason()
	_, ok = l.PendingReason()
	assert.False(t, ok)
}

func TestClothingCountNeverOutOfBounds(t *testing.T) {
	l, _, _, _ := newTestLedger(t)

	// add, add, remove x3, add x5, remove, add
	ops := []bool{true, true, false, false, false, true, true, true, true, true, false, true}
	for i, add := range ops {
		if add {
			l.RecordClothingAdded()
		} else {
			l.RecordClothingRemoved()
		}
		n := l.ClothingItemCount()
		assert.GreaterOrEqual(t, n, 0, "step %d", i)
		assert.LessOrEqual(t, n, entitlement.FreeClothingLimit, "step %d", i)
	}
}

func TestRemoveAtZeroIsNoop(t *testing.T) {
	l, _, _, kv := newTestLedger(t)
	l.RecordClothingRemoved()
	assert.Equal(t, 0, l.ClothingItemCount())

	_, ok, err := kv.Get(KeyClothingItemCount)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDailyGenerationScenario(t *testing.T) {
	l, _, clk, _ := newTestLedger(t)

	for i := 0; i < entitlement.FreeDailyGenerationLimit; i++ {
		require.True(t, l.RecordOutfitGenerated(), "generation %d", i+1)
	}
	assert.False(t, l.RecordOutfitGenerated())
	assert.Equal(t, entitlement.FreeDailyGenerationLimit, l.DailyGenerationCount())
	reason, ok := l.PendingReason()
	require.True(t, ok)
	assert.Equal(t, entitlement.ReasonDailyGenerationLimitReached, reason.Reason)

	clk.Advance(24 * time.Hour)
	assert.True(t, l.RecordOutfitGenerated())
	assert.Equal(t, 1, l.DailyGenerationCount())
	assert.Equal(t, "2026-10-17", l.Statistics().LastResetDate)
}

func TestRolloverHappensOncePerDay(t *testing.T) {
	l, _, clk, _ := newTestLedger(t)
	require.True(t, l.RecordOutfitGenerated())
	require.True(t, l.RecordOutfitGenerated())

	clk.Advance(20 * time.Hour) // 06:00 next day
	require.True(t, l.RecordOutfitGenerated())
	require.True(t, l.RecordOutfitGenerated())
	require.True(t, l.RecordOutfitGenerated())
	assert.Equal(t, 3, l.DailyGenerationCount())

	clk.Advance(time.Hour)
	assert.Equal(t, 3, l.DailyGenerationCount())
}

func TestReadOnNewDayResetsBeforeRead(t *testing.T) {
	l, _, clk, kv := newTestLedger(t)
	for i := 0; i < 4; i++ {
		l.RecordOutfitGenerated()
	}
	clk.Advance(24 * time.Hour)

	assert.Equal(t, entitlement.FreeDailyGenerationLimit, l.RemainingDailyGenerations())

	day, err := kvstore.GetString(kv, KeyLastResetDate, "")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-17", day)
	n, err := kvstore.GetInt(kv, KeyDailyGenerations, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPremiumIsUnlimited(t *testing.T) {
	l, flag, _, _ := newTestLedger(t)
	flag.v.Store(true)

	for i := 0; i < 25; i++ {
		require.True(t, l.RecordClothingAdded())
		require.True(t, l.RecordOutfitGenerated())
	}
	assert.Equal(t, entitlement.Unlimited, l.RemainingClothingSlots())
	assert.Equal(t, entitlement.Unlimited, l.RemainingDailyGenerations())
	assert.Equal(t, 25, l.ClothingItemCount())

	stats := l.Statistics()
	assert.True(t, stats.IsPremium)
	assert.Equal(t, "unlimited", stats.ClothingUsageText(entitlement.LanguageEnglish))
	assert.Equal(t, "Sınırsız", stats.OutfitUsageText(entitlement.LanguageTurkish))

	// Losing premium leaves the count over the free limit; further adds are refused.
	flag.v.Store(false)
	assert.Equal(t, 0, l.RemainingClothingSlots())
	assert.False(t, l.RecordClothingAdded())
}

func TestRemainingFree(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	l.RecordClothingAdded()
	l.RecordOutfitGenerated()
	l.RecordOutfitGenerated()

	assert.Equal(t, 2, l.RemainingClothingSlots())
	assert.Equal(t, 8, l.RemainingDailyGenerations())

	stats := l.Statistics()
	assert.Equal(t, "1/3", stats.ClothingUsageText(entitlement.LanguageEnglish))
	assert.Equal(t, "2/10", stats.OutfitUsageText(entitlement.LanguageEnglish))
}

func TestCanPredicatesMatchRecord(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	for i := 0; i < 5; i++ {
		can := l.CanAddClothing()
		assert.Equal(t, can, l.RecordClothingAdded(), "add %d", i)
	}
	for i := 0; i < 12; i++ {
		can := l.CanGenerateOutfit()
		assert.Equal(t, can, l.RecordOutfitGenerated(), "generate %d", i)
	}
}

func TestLedgersSharingStoreConverge(t *testing.T) {
	flag := &premiumFlag{}
	clk := clock.NewFake(time.Date(2026, 10, 16, 10, 0, 0, 0, time.Local))
	kv, err := kvstore.NewSQLiteStore(t.TempDir() + "/state.db")
	require.NoError(t, err)
	defer kv.Close()

	a := NewLedger(flag, kv, clk)
	b := NewLedger(flag, kv, clk)

	a.RecordClothingAdded()
	b.RecordClothingAdded()
	a.RecordOutfitGenerated()

	assert.Equal(t, a.Statistics(), b.Statistics())
	assert.Equal(t, 2, b.ClothingItemCount())
	assert.Equal(t, 1, b.DailyGenerationCount())
	assert.Equal(t, a.RemainingClothingSlots(), b.RemainingClothingSlots())

	c := NewLedger(flag, kv, clk)
	assert.Equal(t, a.Statistics(), c.Statistics())
}

func TestConcurrentAddsRespectLimit(t *testing.T) {
	l, _, _, _ := newTestLedger(t)

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.RecordClothingAdded() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(entitlement.FreeClothingLimit), granted.Load())
	assert.Equal(t, entitlement.FreeClothingLimit, l.ClothingItemCount())
}

func TestConcurrentPremiumNoLostUpdates(t *testing.T) {
	l, flag, _, _ := newTestLedger(t)
	flag.v.Store(true)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RecordOutfitGenerated()
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, l.DailyGenerationCount())
}

type failingStore struct {
	kvstore.Store
	fail atomic.Bool
}

func (f *failingStore) Set(values map[string]string) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.Store.Set(values)
}

func TestWriteFailureKeepsMemoryAuthoritative(t *testing.T) {
	kv := &failingStore{Store: kvstore.NewMemoryStore()}
	clk := clock.NewFake(time.Date(2026, 10, 16, 10, 0, 0, 0, time.Local))
	l := NewLedger(&premiumFlag{}, kv, clk)

	require.True(t, l.RecordClothingAdded())
	kv.fail.Store(true)
	require.True(t, l.RecordClothingAdded())
	assert.Equal(t, 2, l.ClothingItemCount())

	kv.fail.Store(false)
	require.True(t, l.RecordClothingAdded())

	n, err := kvstore.GetInt(kv, KeyClothingItemCount, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLoadClampsNegativeCounts(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	require.NoError(t, kv.Set(map[string]string{
		KeyClothingItemCount: "-4",
		KeyDailyGenerations:  "-1",
		KeyLastResetDate:     "2026-10-16",
	}))
	l := NewLedger(&premiumFlag{}, kv, clock.NewFake(time.Date(2026, 10, 16, 10, 0, 0, 0, time.Local)))
	assert.Equal(t, 0, l.ClothingItemCount())
	assert.Equal(t, 0, l.DailyGenerationCount())
}

func TestSetPendingReasonIgnoresAllowed(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	l.SetPendingReason(entitlement.Allow())
	_, ok := l.PendingReason()
	assert.False(t, ok)

	l.SetPendingReason(entitlement.Deny(entitlement.ReasonFeatureRequiresPremium, entitlement.FeatureThemeCustomization))
	d, ok := l.PendingReason()
	require.True(t, ok)
	assert.Equal(t, entitlement.FeatureThemeCustomization, d.Feature)
}

func TestPendingReasonSurvivesReload(t *testing.T) {
	l, _, clk, kv := newTestLedger(t)
	for range entitlement.FreeClothingLimit {
		require.True(t, l.RecordClothingAdded())
	}
	require.False(t, l.RecordClothingAdded())

	reopened := NewLedger(&premiumFlag{}, kv, clk)
	d, ok := reopened.PendingReason()
	require.True(t, ok)
	assert.Equal(t, entitlement.ReasonClothingLimitReached, d.Reason)
	assert.True(t, d.TriggersUpgradePrompt)

	reopened.SetPendingReason(entitlement.Deny(entitlement.ReasonFeatureRequiresPremium, entitlement.FeatureThemeCustomization))
	d, ok = l.PendingReason()
	require.True(t, ok)
	assert.Equal(t, entitlement.FeatureThemeCustomization, d.Feature)

	l.ClearPendingReason()
	_, ok = reopened.PendingReason()
	assert.False(t, ok)
	raw, err := kvstore.GetString(kv, KeyPendingReason, "x")
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestUnknownPendingReasonIsIgnored(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	require.NoError(t, kv.Set(map[string]string{KeyPendingReason: "somethingElse|theme"}))
	l := NewLedger(&premiumFlag{}, kv, nil)
	_, ok := l.PendingReason()
	assert.False(t, ok)
}
