// Package gate is the single decision point for gated actions. It reads the
// entitlement and the usage ledger fresh on every call and never caches a
// decision.
package gate

import (
	"github.com/rs/zerolog/log"

	"github.com/ybdigitall/closai/internal/usage"
	"github.com/ybdigitall/closai/pkg/entitlement"
)

type actionKind string

const (
	actionAddClothing    actionKind = "add_clothing"
	actionGenerateOutfit actionKind = "generate_outfit"
	actionAccessFeature  actionKind = "access_feature"
)

// Action is something a call-site wants to do.
type Action struct {
	kind    actionKind
	feature entitlement.PremiumFeature
}

// AddClothing is adding one item to the closet.
func AddClothing() Action { return Action{kind: actionAddClothing} }

// GenerateOutfit is generating one outfit suggestion.
func GenerateOutfit() Action { return Action{kind: actionGenerateOutfit} }

// AccessFeature is using a premium feature.
func AccessFeature(f entitlement.PremiumFeature) Action {
	return Action{kind: actionAccessFeature, feature: f}
}

func (a Action) String() string {
	if a.kind == actionAccessFeature {
		return string(a.kind) + ":" + string(a.feature)
	}
	return string(a.kind)
}

// Evaluator combines the entitlement and the ledger into a GateDecision.
type Evaluator struct {
	premium usage.PremiumChecker
	ledger  *usage.Ledger
	metrics *Metrics
}

// NewEvaluator wires an evaluator. premium should be the same checker the
// ledger was built with so both see one entitlement.
func NewEvaluator(premium usage.PremiumChecker, ledger *usage.Ledger) *Evaluator {
	return &Evaluator{premium: premium, ledger: ledger, metrics: GetMetrics()}
}

// WithMetrics replaces the metrics sink. Used by tests with a private registry.
func (e *Evaluator) WithMetrics(m *Metrics) *Evaluator {
	e.metrics = m
	return e
}

// Evaluate decides whether the action is allowed right now. It does not
// mutate the ledger; callers commit through the ledger's Record methods,
// which re-check under the ledger lock.
func (e *Evaluator) Evaluate(a Action) entitlement.GateDecision {
	d := e.evaluate(a)
	e.metrics.RecordDecision(a, d)
	if !d.Allowed {
		log.Debug().Str("action", a.String()).Str("reason", string(d.Reason)).Msg("Action denied")
	}
	return d
}

func (e *Evaluator) evaluate(a Action) entitlement.GateDecision {
	switch a.kind {
	case actionAddClothing:
		return e.clothingDecision()
	case actionGenerateOutfit:
		return e.generationDecision()
	case actionAccessFeature:
		switch {
		case a.feature == entitlement.FeatureUnlimitedClothing:
			return e.clothingDecision()
		case a.feature == entitlement.FeatureUnlimitedOutfits:
			return e.generationDecision()
		case a.feature.BinaryGated() && e.isPremium():
			return entitlement.Allow()
		default:
			// Unknown features are denied like binary ones.
			return entitlement.Deny(entitlement.ReasonFeatureRequiresPremium, a.feature)
		}
	default:
		return entitlement.Deny(entitlement.ReasonFeatureRequiresPremium, "")
	}
}

func (e *Evaluator) isPremium() bool {
	return e.premium != nil && e.premium.IsPremium()
}

func (e *Evaluator) clothingDecision() entitlement.GateDecision {
	if e.ledger.CanAddClothing() {
		return entitlement.Allow()
	}
	return entitlement.Deny(entitlement.ReasonClothingLimitReached, entitlement.FeatureUnlimitedClothing)
}

func (e *Evaluator) generationDecision() entitlement.GateDecision {
	if e.ledger.CanGenerateOutfit() {
		return entitlement.Allow()
	}
	return entitlement.Deny(entitlement.ReasonDailyGenerationLimitReached, entitlement.FeatureUnlimitedOutfits)
}

// RequestFeatureAccess evaluates access to f and, on denial, leaves the
// denial pending on the ledger for the paywall to pick up.
func (e *Evaluator) RequestFeatureAccess(f entitlement.PremiumFeature) bool {
	d := e.Evaluate(AccessFeature(f))
	if !d.Allowed {
		e.ledger.SetPendingReason(d)
	}
	return d.Allowed
}
