// Package conversion records the paywall funnel: how often users hit a limit,
// see the paywall, start a checkout and complete it.
package conversion

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
)

// Event types.
const (
	EventPaywallViewed     = "paywall_viewed"
	EventLimitBlocked      = "limit_blocked"
	EventCheckoutStarted   = "checkout_started"
	EventCheckoutCompleted = "checkout_completed"
	EventCheckoutFailed    = "checkout_failed"
	EventCheckoutCancelled = "checkout_cancelled"
	EventRestoreCompleted  = "restore_completed"
)

// Surfaces where events originate.
const (
	SurfaceCloset          = "closet"
	SurfaceOutfits         = "outfits"
	SurfaceFavorites       = "favorites"
	SurfaceTheme           = "theme"
	SurfaceDailySuggestion = "daily_suggestion"
	SurfacePaywall         = "paywall"
	SurfaceSettings        = "settings"
)

var knownEventTypes = map[string]bool{
	EventPaywallViewed:     true,
	EventLimitBlocked:      true,
	EventCheckoutStarted:   true,
	EventCheckoutCompleted: true,
	EventCheckoutFailed:    true,
	EventCheckoutCancelled: true,
	EventRestoreCompleted:  true,
}

// requiresCapability lists event types that must name the feature or plan involved.
var requiresCapability = map[string]bool{
	EventPaywallViewed:     true,
	EventLimitBlocked:      true,
	EventCheckoutStarted:   true,
	EventCheckoutCompleted: true,
}

// Event is one funnel event. Timestamp is Unix milliseconds.
type Event struct {
	Type           string `json:"type" validate:"required"`
	Surface        string `json:"surface" validate:"required,max=64"`
	Capability     string `json:"capability,omitempty" validate:"max=64"`
	Timestamp      int64  `json:"timestamp" validate:"gt=0"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=256"`
}

var validate = validator.New()

// NewEvent builds an event with a fresh idempotency key.
func NewEvent(eventType, surface, capability string, at time.Time) Event {
	return Event{
		Type:           eventType,
		Surface:        surface,
		Capability:     capability,
		Timestamp:      at.UnixMilli(),
		IdempotencyKey: fmt.Sprintf("%s:%s:%s:%s", eventType, surface, capability, ulid.Make()),
	}
}

// Validate checks the event shape.
func (e Event) Validate() error {
	if !knownEventTypes[strings.TrimSpace(e.Type)] {
		return fmt.Errorf("unsupported event type %q", e.Type)
	}
	if err := validate.Struct(e); err != nil {
		return err
	}
	if requiresCapability[e.Type] && strings.TrimSpace(e.Capability) == "" {
		return fmt.Errorf("capability is required for %s", e.Type)
	}
	return nil
}
