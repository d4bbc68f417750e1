// Package entitlement defines the shared ClosAI subscription, feature and quota
// contracts.
//
// This package exists so call-sites (UI bindings, the CLI, tests) can depend on
// canonical entitlement metadata without importing internal packages.
package entitlement

// Language selects the locale for user-facing strings.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageTurkish Language = "tr"
)

// ParseLanguage maps a language code to a supported Language, defaulting to English.
func ParseLanguage(code string) Language {
	switch Language(code) {
	case LanguageTurkish:
		return LanguageTurkish
	default:
		return LanguageEnglish
	}
}

// PremiumFeature is a gated capability. The set is closed.
type PremiumFeature string

// Feature constants represent gated capabilities in ClosAI.
const (
	// Quota-gated: free users are allowed up to a numeric limit.
	FeatureUnlimitedClothing PremiumFeature = "unlimited_clothing"
	FeatureUnlimitedOutfits  PremiumFeature = "unlimited_outfits"

	// Binary-gated: free users are always denied.
	FeatureThemeCustomization    PremiumFeature = "theme_customization"
	FeatureUnlimitedFavorites    PremiumFeature = "unlimited_favorites"
	FeatureDailyStyleSuggestions PremiumFeature = "daily_style_suggestions"
)

// AllFeatures lists every premium feature in paywall display order.
var AllFeatures = []PremiumFeature{
	FeatureUnlimitedClothing,
	FeatureUnlimitedOutfits,
	FeatureThemeCustomization,
	FeatureUnlimitedFavorites,
	FeatureDailyStyleSuggestions,
}

// Valid reports whether f is one of the known features.
func (f PremiumFeature) Valid() bool {
	for _, known := range AllFeatures {
		if f == known {
			return true
		}
	}
	return false
}

// QuotaGated reports whether free users may use the feature up to a limit.
func (f PremiumFeature) QuotaGated() bool {
	return f == FeatureUnlimitedClothing || f == FeatureUnlimitedOutfits
}

// BinaryGated reports whether free users are always denied the feature.
func (f PremiumFeature) BinaryGated() bool {
	return f.Valid() && !f.QuotaGated()
}

type localized struct {
	en string
	tr string
}

func (l localized) in(lang Language) string {
	if lang == LanguageTurkish {
		return l.tr
	}
	return l.en
}

var featureNames = map[PremiumFeature]localized{
	FeatureUnlimitedClothing:     {en: "Unlimited Clothing", tr: "Sınırsız Kıyafet"},
	FeatureUnlimitedOutfits:      {en: "Unlimited Outfits", tr: "Sınırsız Kombin"},
	FeatureThemeCustomization:    {en: "Theme Customization", tr: "Tema Özelleştirme"},
	FeatureUnlimitedFavorites:    {en: "Unlimited Favorites", tr: "Sınırsız Favori"},
	FeatureDailyStyleSuggestions: {en: "Daily Style Suggestions", tr: "Günlük Stil Önerileri"},
}

var featureDescriptions = map[PremiumFeature]localized{
	FeatureUnlimitedClothing:     {en: "Add as many clothes as you like", tr: "İstediğin kadar kıyafet ekle"},
	FeatureUnlimitedOutfits:      {en: "Create unlimited outfits", tr: "Sınırsız kombin oluştur"},
	FeatureThemeCustomization:    {en: "Personalise your app", tr: "Uygulamanı kişiselleştir"},
	FeatureUnlimitedFavorites:    {en: "Save your favourite outfits", tr: "Favori kombinlerini kaydet"},
	FeatureDailyStyleSuggestions: {en: "New style ideas every day", tr: "Her gün yeni stil önerileri"},
}

// DisplayName returns a human-readable name for a feature.
func (f PremiumFeature) DisplayName(lang Language) string {
	if name, ok := featureNames[f]; ok {
		return name.in(lang)
	}
	return string(f)
}

// Description returns the one-line paywall description for a feature.
func (f PremiumFeature) Description(lang Language) string {
	if desc, ok := featureDescriptions[f]; ok {
		return desc.in(lang)
	}
	return ""
}
