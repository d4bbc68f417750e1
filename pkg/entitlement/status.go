package entitlement

import (
	"fmt"
	"time"
)

// StatusKind tags which SubscriptionStatus variant is active.
type StatusKind string

const (
	StatusFree    StatusKind = "free"
	StatusPremium StatusKind = "premium"
	StatusLoading StatusKind = "loading" // oracle query in flight
	StatusError   StatusKind = "error"   // oracle query failed
)

// SubscriptionStatus is the single current subscription state of a session.
//
// Expiry and Plan are only meaningful for StatusPremium; Message only for
// StatusError. A zero Expiry on a premium status means the platform reported
// no expiration date.
type SubscriptionStatus struct {
	Kind    StatusKind `json:"kind"`
	Expiry  time.Time  `json:"expiry,omitempty"`
	Plan    PlanKind   `json:"plan,omitempty"`
	Message string     `json:"message,omitempty"`
}

// Free returns the free-tier status.
func Free() SubscriptionStatus {
	return SubscriptionStatus{Kind: StatusFree}
}

// Premium returns an active premium status for the given plan.
func Premium(expiry time.Time, plan PlanKind) SubscriptionStatus {
	return SubscriptionStatus{Kind: StatusPremium, Expiry: expiry, Plan: plan}
}

// Loading returns the in-flight status.
func Loading() SubscriptionStatus {
	return SubscriptionStatus{Kind: StatusLoading}
}

// Failed returns the error status carrying the failure reason.
func Failed(message string) SubscriptionStatus {
	return SubscriptionStatus{Kind: StatusError, Message: message}
}

// IsPremium is true iff the status is Premium. Expiry is not compared against
// the current time: the oracle only reports current entitlements.
func (s SubscriptionStatus) IsPremium() bool {
	return s.Kind == StatusPremium
}

// Equal compares two statuses, treating expiries as instants.
func (s SubscriptionStatus) Equal(other SubscriptionStatus) bool {
	return s.Kind == other.Kind &&
		s.Plan == other.Plan &&
		s.Message == other.Message &&
		s.Expiry.Equal(other.Expiry)
}

// ExpiresWithin reports whether a premium status expires before now+d.
// Display only; never used for gating.
func (s SubscriptionStatus) ExpiresWithin(now time.Time, d time.Duration) bool {
	if !s.IsPremium() || s.Expiry.IsZero() {
		return false
	}
	return s.Expiry.Before(now.Add(d))
}

func (s SubscriptionStatus) String() string {
	switch s.Kind {
	case StatusPremium:
		if s.Expiry.IsZero() {
			return fmt.Sprintf("premium(%s)", s.Plan)
		}
		return fmt.Sprintf("premium(%s until %s)", s.Plan, s.Expiry.Format(time.RFC3339))
	case StatusError:
		return fmt.Sprintf("error(%s)", s.Message)
	case "":
		return string(StatusLoading)
	default:
		return string(s.Kind)
	}
}
