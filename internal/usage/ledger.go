// Package usage meters free-tier consumption: clothing items held and outfit
// generations per calendar day.
package usage

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ybdigitall/closai/internal/clock"
	"github.com/ybdigitall/closai/internal/kvstore"
	"github.com/ybdigitall/closai/pkg/entitlement"
)

// Persisted counter keys.
const (
	KeyClothingItemCount = "clothingItemCount"
	KeyDailyGenerations  = "dailyOutfitGenerations"
	KeyLastResetDate     = "lastResetDate"
	KeyPendingReason     = "pendingLimitReason"
)

// PremiumChecker reports the current entitlement. subscription.Store satisfies it.
type PremiumChecker interface {
	IsPremium() bool
}

// Ledger owns the usage counters. All reads and writes are serialized by one
// mutex, and every access to the daily count is preceded by the day-rollover
// check.
//
// Counters are re-read from the store at the start of each operation so that
// ledgers sharing one store agree. When a write fails the in-memory value is
// kept and stays authoritative until a later write succeeds.
type Ledger struct {
	mu      sync.Mutex
	premium PremiumChecker
	kv      kvstore.Store
	clock   clock.Clock

	clothingCount    int
	dailyGenerations int
	lastResetDate    string
	dirty            bool

	pending    entitlement.GateDecision
	hasPending bool
}

// NewLedger loads the persisted counters. A nil store keeps counters in memory
// only; a nil clock uses the local wall clock.
func NewLedger(premium PremiumChecker, kv kvstore.Store, clk clock.Clock) *Ledger {
	if clk == nil {
		clk = clock.System{}
	}
	l := &Ledger{premium: premium, kv: kv, clock: clk}
	l.mu.Lock()
	l.loadLocked()
	l.mu.Unlock()
	return l
}

func (l *Ledger) isPremium() bool {
	return l.premium != nil && l.premium.IsPremium()
}

func (l *Ledger) loadLocked() {
	if l.kv == nil || l.dirty {
		return
	}
	clothing, err := kvstore.GetInt(l.kv, KeyClothingItemCount, 0)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load clothing item count")
		return
	}
	daily, err := kvstore.GetInt(l.kv, KeyDailyGenerations, 0)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load daily generation count")
		return
	}
	day, err := kvstore.GetString(l.kv, KeyLastResetDate, "")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load last reset date")
		return
	}
	pending, err := kvstore.GetString(l.kv, KeyPendingReason, "")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load pending limit reason")
		return
	}
	l.clothingCount = max(clothing, 0)
	l.dailyGenerations = max(daily, 0)
	l.lastResetDate = day
	l.pending, l.hasPending = decodePending(pending)
}

// encodePending stores a denial as "reason" or "reason|feature".
func encodePending(d entitlement.GateDecision, ok bool) string {
	if !ok {
		return ""
	}
	if d.Feature == "" {
		return string(d.Reason)
	}
	return string(d.Reason) + "|" + string(d.Feature)
}

func decodePending(raw string) (entitlement.GateDecision, bool) {
	reason, feature, _ := strings.Cut(raw, "|")
	switch entitlement.ReasonCode(reason) {
	case entitlement.ReasonClothingLimitReached,
		entitlement.ReasonDailyGenerationLimitReached,
		entitlement.ReasonFeatureRequiresPremium:
		return entitlement.Deny(entitlement.ReasonCode(reason), entitlement.PremiumFeature(feature)), true
	default:
		return entitlement.GateDecision{}, false
	}
}

func (l *Ledger) persistLocked(values map[string]string) {
	if l.kv == nil {
		return
	}
	if l.dirty {
		// Flush everything so the store catches up with memory.
		values = map[string]string{
			KeyClothingItemCount: kvstore.Int(l.clothingCount),
			KeyDailyGenerations:  kvstore.Int(l.dailyGenerations),
			KeyLastResetDate:     l.lastResetDate,
			KeyPendingReason:     encodePending(l.pending, l.hasPending),
		}
	}
	if err := l.kv.Set(values); err != nil {
		l.dirty = true
		log.Error().Err(err).Msg("Failed to persist usage counters")
		return
	}
	l.dirty = false
}

// rolloverLocked zeroes the daily count when the calendar day has changed.
func (l *Ledger) rolloverLocked() {
	today := clock.Today(l.clock)
	if l.lastResetDate == today {
		return
	}
	log.Debug().
		Str("previous", l.lastResetDate).
		Str("today", today).
		Int("generations", l.dailyGenerations).
		Msg("Resetting daily outfit generations")
	l.dailyGenerations = 0
	l.lastResetDate = today
	l.persistLocked(map[string]string{
		KeyDailyGenerations: kvstore.Int(0),
		KeyLastResetDate:    today,
	})
}

func (l *Ledger) setPendingLocked(d entitlement.GateDecision) {
	l.pending = d
	l.hasPending = true
	l.persistLocked(map[string]string{KeyPendingReason: encodePending(d, true)})
}

// RecordClothingAdded commits one added item. Premium accounts always
// succeed. Free accounts at the limit are refused without mutation and the
// clothing-limit reason becomes pending.
func (l *Ledger) RecordClothingAdded() bool {
	premium := l.isPremium()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()

	if !premium && l.clothingCount >= entitlement.FreeClothingLimit {
		l.setPendingLocked(entitlement.Deny(entitlement.ReasonClothingLimitReached, entitlement.FeatureUnlimitedClothing))
		log.Debug().Int("count", l.clothingCount).Msg("Clothing limit reached")
		return false
	}
	l.clothingCount++
	l.persistLocked(map[string]string{KeyClothingItemCount: kvstore.Int(l.clothingCount)})
	return true
}

// RecordClothingRemoved decrements the item count, never below zero.
func (l *Ledger) RecordClothingRemoved() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()

	if l.clothingCount <= 0 {
		return
	}
	l.clothingCount--
	l.persistLocked(map[string]string{KeyClothingItemCount: kvstore.Int(l.clothingCount)})
}

// RecordOutfitGenerated commits one generation for today, after rolling the
// daily window over if the day changed.
func (l *Ledger) RecordOutfitGenerated() bool {
	premium := l.isPremium()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()
	l.rolloverLocked()

	if !premium && l.dailyGenerations >= entitlement.FreeDailyGenerationLimit {
		l.setPendingLocked(entitlement.Deny(entitlement.ReasonDailyGenerationLimitReached, entitlement.FeatureUnlimitedOutfits))
		log.Debug().Int("count", l.dailyGenerations).Msg("Daily generation limit reached")
		return false
	}
	l.dailyGenerations++
	l.persistLocked(map[string]string{
		KeyDailyGenerations: kvstore.Int(l.dailyGenerations),
		KeyLastResetDate:    l.lastResetDate,
	})
	return true
}

// CanAddClothing reports whether RecordClothingAdded would currently succeed.
func (l *Ledger) CanAddClothing() bool {
	if l.isPremium() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()
	return l.clothingCount < entitlement.FreeClothingLimit
}

// CanGenerateOutfit reports whether RecordOutfitGenerated would currently succeed.
func (l *Ledger) CanGenerateOutfit() bool {
	if l.isPremium() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()
	l.rolloverLocked()
	return l.dailyGenerations < entitlement.FreeDailyGenerationLimit
}

// RemainingClothingSlots returns entitlement.Unlimited for premium accounts.
func (l *Ledger) RemainingClothingSlots() int {
	if l.isPremium() {
		return entitlement.Unlimited
	}
	return entitlement.Remaining(entitlement.FreeClothingLimit, l.ClothingItemCount())
}

// RemainingDailyGenerations returns entitlement.Unlimited for premium accounts.
func (l *Ledger) RemainingDailyGenerations() int {
	if l.isPremium() {
		return entitlement.Unlimited
	}
	return entitlement.Remaining(entitlement.FreeDailyGenerationLimit, l.DailyGenerationCount())
}

func (l *Ledger) ClothingItemCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()
	return l.clothingCount
}

func (l *Ledger) DailyGenerationCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()
	l.rolloverLocked()
	return l.dailyGenerations
}

// PendingReason returns the most recent denial not yet cleared. It survives
// restarts so a later paywall can explain the denial.
func (l *Ledger) PendingReason() (entitlement.GateDecision, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()
	return l.pending, l.hasPending
}

// SetPendingReason records a denial produced outside the ledger, such as a
// binary feature gate. Allowed decisions are ignored.
func (l *Ledger) SetPendingReason(d entitlement.GateDecision) {
	if d.Allowed {
		return
	}
	l.mu.Lock()
	l.setPendingLocked(d)
	l.mu.Unlock()
}

// ClearPendingReason dismisses the pending denial.
func (l *Ledger) ClearPendingReason() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()
	if !l.hasPending {
		return
	}
	l.pending = entitlement.GateDecision{}
	l.hasPending = false
	l.persistLocked(map[string]string{KeyPendingReason: ""})
}
