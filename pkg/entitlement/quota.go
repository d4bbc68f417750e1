package entitlement

import "fmt"

// Free-tier quotas. These are static and not configurable.
const (
	FreeClothingLimit        = 3
	FreeDailyGenerationLimit = 10

	// Unlimited is the sentinel returned for premium remaining counts.
	Unlimited = -1
)

// Remaining returns max(0, limit-count).
func Remaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}

// UsageText renders a counter as "N/limit", or the localized "unlimited" for premium.
func UsageText(count, limit int, premium bool, lang Language) string {
	if premium {
		return unlimitedText.in(lang)
	}
	return fmt.Sprintf("%d/%d", count, limit)
}

var unlimitedText = localized{en: "unlimited", tr: "Sınırsız"}
