package entitlement

import "strings"

// PlanKind is the billing period of a premium subscription.
type PlanKind string

const (
	PlanWeekly  PlanKind = "weekly"
	PlanMonthly PlanKind = "monthly"
	PlanYearly  PlanKind = "yearly"
)

// Product identifiers registered with the purchase platform.
const (
	ProductWeekly  = "com.closai.premium.weekly"
	ProductMonthly = "com.closai.premium.monthly"
	ProductYearly  = "com.closai.premium.yearly"
)

// PlanKinds lists every plan in catalog order.
var PlanKinds = []PlanKind{PlanWeekly, PlanMonthly, PlanYearly}

var planProducts = map[PlanKind]string{
	PlanWeekly:  ProductWeekly,
	PlanMonthly: ProductMonthly,
	PlanYearly:  ProductYearly,
}

// ProductIDs returns the product identifiers of every known plan.
func ProductIDs() []string {
	ids := make([]string, 0, len(PlanKinds))
	for _, kind := range PlanKinds {
		ids = append(ids, planProducts[kind])
	}
	return ids
}

// ProductID returns the platform product identifier for the plan.
func (k PlanKind) ProductID() string {
	return planProducts[k]
}

// Valid reports whether k is a known plan kind.
func (k PlanKind) Valid() bool {
	_, ok := planProducts[k]
	return ok
}

// PlanKindForProduct maps a platform product identifier to its plan kind.
// Unknown identifiers return false.
func PlanKindForProduct(productID string) (PlanKind, bool) {
	for kind, id := range planProducts {
		if id == productID {
			return kind, true
		}
	}
	return "", false
}

// ParsePlanKind accepts a plan kind name or a product identifier.
func ParsePlanKind(value string) (PlanKind, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if kind := PlanKind(value); kind.Valid() {
		return kind, true
	}
	return PlanKindForProduct(value)
}

// SortOrder orders plans weekly, monthly, yearly. Unknown kinds sort as monthly.
func (k PlanKind) SortOrder() int {
	switch k {
	case PlanWeekly:
		return 0
	case PlanYearly:
		return 2
	default:
		return 1
	}
}

// Recommended reports whether the paywall should highlight this plan.
func (k PlanKind) Recommended() bool {
	return k == PlanMonthly
}

var planNames = map[PlanKind]localized{
	PlanWeekly:  {en: "Weekly", tr: "Haftalık"},
	PlanMonthly: {en: "Monthly", tr: "Aylık"},
	PlanYearly:  {en: "Yearly", tr: "Yıllık"},
}

var planDurations = map[PlanKind]localized{
	PlanWeekly:  {en: "week", tr: "hafta"},
	PlanMonthly: {en: "month", tr: "ay"},
	PlanYearly:  {en: "year", tr: "yıl"},
}

// DisplayName returns the localized plan name.
func (k PlanKind) DisplayName(lang Language) string {
	if name, ok := planNames[k]; ok {
		return name.in(lang)
	}
	return string(k)
}

// DurationNoun returns the localized billing period noun ("month", "ay").
func (k PlanKind) DurationNoun(lang Language) string {
	if d, ok := planDurations[k]; ok {
		return d.in(lang)
	}
	return ""
}
