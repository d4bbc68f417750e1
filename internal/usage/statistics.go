package usage

import (
	"github.com/ybdigitall/closai/internal/clock"
	"github.com/ybdigitall/closai/pkg/entitlement"
)

// Statistics is a read-only snapshot of both counters.
type Statistics struct {
	ClothingItemCount    int    `json:"clothing_item_count"`
	ClothingLimit        int    `json:"clothing_limit"`
	DailyGenerationCount int    `json:"daily_generation_count"`
	DailyGenerationLimit int    `json:"daily_generation_limit"`
	LastResetDate        string `json:"last_reset_date"`
	IsPremium            bool   `json:"is_premium"`
}

// ClothingUsageText renders "N/limit" or the localized unlimited marker.
func (s Statistics) ClothingUsageText(lang entitlement.Language) string {
	return entitlement.UsageText(s.ClothingItemCount, s.ClothingLimit, s.IsPremium, lang)
}

// OutfitUsageText renders "N/limit" or the localized unlimited marker.
func (s Statistics) OutfitUsageText(lang entitlement.Language) string {
	return entitlement.UsageText(s.DailyGenerationCount, s.DailyGenerationLimit, s.IsPremium, lang)
}

// Statistics returns a consistent snapshot taken under one lock.
func (l *Ledger) Statistics() Statistics {
	premium := l.isPremium()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()
	l.rolloverLocked()

	return Statistics{
		ClothingItemCount:    l.clothingCount,
		ClothingLimit:        entitlement.FreeClothingLimit,
		DailyGenerationCount: l.dailyGenerations,
		DailyGenerationLimit: entitlement.FreeDailyGenerationLimit,
		LastResetDate:        l.lastResetDate,
		IsPremium:            premium,
	}
}

// Today returns the calendar day the ledger uses for rollover.
func (l *Ledger) Today() string {
	return clock.Today(l.clock)
}
