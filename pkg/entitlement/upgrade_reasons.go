package entitlement

import "sort"

// ReasonEntry is an actionable upgrade prompt tied to a premium feature.
type ReasonEntry struct {
	Feature  PremiumFeature
	Reason   localized
	Priority int // lower = more important
}

// Text returns the localized prompt text.
func (r ReasonEntry) Text(lang Language) string {
	return r.Reason.in(lang)
}

// UpgradeReasonMatrix is the canonical feature-to-upgrade-reason mapping used
// by the paywall.
var UpgradeReasonMatrix = []ReasonEntry{
	{
		Feature:  FeatureUnlimitedClothing,
		Reason:   localized{en: "Go Premium to add your whole wardrobe, not just three pieces.", tr: "Tüm gardırobunu eklemek için Premium'a geç."},
		Priority: 1,
	},
	{
		Feature:  FeatureUnlimitedOutfits,
		Reason:   localized{en: "Go Premium to generate as many outfits as you want, every day.", tr: "Her gün istediğin kadar kombin için Premium'a geç."},
		Priority: 2,
	},
	{
		Feature:  FeatureDailyStyleSuggestions,
		Reason:   localized{en: "Go Premium for a fresh style suggestion every morning.", tr: "Her sabah yeni stil önerisi için Premium'a geç."},
		Priority: 3,
	},
	{
		Feature:  FeatureUnlimitedFavorites,
		Reason:   localized{en: "Go Premium to keep every outfit you love.", tr: "Sevdiğin tüm kombinleri saklamak için Premium'a geç."},
		Priority: 4,
	},
	{
		Feature:  FeatureThemeCustomization,
		Reason:   localized{en: "Go Premium to make ClosAI look the way you like.", tr: "ClosAI'yi kişiselleştirmek için Premium'a geç."},
		Priority: 5,
	},
}

// GenerateUpgradeReasons returns upgrade reasons for every feature not in
// granted, most important first. A denied feature is moved to the front so
// the paywall leads with what the user just tried to do.
func GenerateUpgradeReasons(granted []PremiumFeature, denied PremiumFeature) []ReasonEntry {
	grantedSet := make(map[PremiumFeature]struct{}, len(granted))
	for _, f := range granted {
		grantedSet[f] = struct{}{}
	}

	reasons := make([]ReasonEntry, 0, len(UpgradeReasonMatrix))
	for _, entry := range UpgradeReasonMatrix {
		if _, ok := grantedSet[entry.Feature]; ok {
			continue
		}
		reasons = append(reasons, entry)
	}

	sort.SliceStable(reasons, func(i, j int) bool {
		if (reasons[i].Feature == denied) != (reasons[j].Feature == denied) {
			return reasons[i].Feature == denied
		}
		if reasons[i].Priority == reasons[j].Priority {
			return reasons[i].Feature < reasons[j].Feature
		}
		return reasons[i].Priority < reasons[j].Priority
	})

	return reasons
}

// FeatureForReason maps a quota denial to the feature that lifts it.
func FeatureForReason(d GateDecision) PremiumFeature {
	switch d.Reason {
	case ReasonClothingLimitReached:
		return FeatureUnlimitedClothing
	case ReasonDailyGenerationLimitReached:
		return FeatureUnlimitedOutfits
	default:
		return d.Feature
	}
}
