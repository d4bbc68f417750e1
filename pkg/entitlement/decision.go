package entitlement

import "fmt"

// ReasonCode explains a gate decision.
type ReasonCode string

const (
	ReasonAllowed                     ReasonCode = "allowed"
	ReasonClothingLimitReached        ReasonCode = "clothing_limit_reached"
	ReasonDailyGenerationLimitReached ReasonCode = "daily_generation_limit_reached"
	ReasonFeatureRequiresPremium      ReasonCode = "feature_requires_premium"
)

// GateDecision is the result of evaluating an action against the current
// entitlement and usage state.
type GateDecision struct {
	Allowed bool       `json:"allowed"`
	Reason  ReasonCode `json:"reason"`
	// Feature is set for ReasonFeatureRequiresPremium.
	Feature               PremiumFeature `json:"feature,omitempty"`
	TriggersUpgradePrompt bool           `json:"triggers_upgrade_prompt"`
}

// Allow returns an allowed decision.
func Allow() GateDecision {
	return GateDecision{Allowed: true, Reason: ReasonAllowed}
}

// Deny returns a denied decision. Every denial triggers the upgrade prompt.
func Deny(reason ReasonCode, feature PremiumFeature) GateDecision {
	d := GateDecision{Reason: reason, TriggersUpgradePrompt: true}
	if reason == ReasonFeatureRequiresPremium {
		d.Feature = feature
	}
	return d
}

// Message renders the user-facing text for a denial. Allowed decisions have no message.
func (d GateDecision) Message(lang Language) string {
	switch d.Reason {
	case ReasonClothingLimitReached:
		if lang == LanguageTurkish {
			return fmt.Sprintf("Ücretsiz kullanımda en fazla %d kıyafet ekleyebilirsiniz", FreeClothingLimit)
		}
		return fmt.Sprintf("Free accounts can add up to %d clothing items", FreeClothingLimit)
	case ReasonDailyGenerationLimitReached:
		if lang == LanguageTurkish {
			return "Günlük kombin oluşturma limitiniz doldu"
		}
		return "You have reached today's outfit generation limit"
	case ReasonFeatureRequiresPremium:
		if lang == LanguageTurkish {
			return fmt.Sprintf("%s özelliği Premium üyelik gerektirir", d.Feature.DisplayName(lang))
		}
		return fmt.Sprintf("%s requires ClosAI Premium", d.Feature.DisplayName(lang))
	default:
		return ""
	}
}
