package conversion

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Recorder validates funnel events, persists them when a store is attached and
// keeps windowed counts in memory.
type Recorder struct {
	agg     *WindowedAggregator
	store   *Store
	metrics *Metrics
	config  *CollectionConfig
	now     func() time.Time
}

// NewRecorder creates a recorder. store, metrics and config may be nil.
func NewRecorder(store *Store, metrics *Metrics, config *CollectionConfig) *Recorder {
	return &Recorder{
		agg:     NewWindowedAggregator(),
		store:   store,
		metrics: metrics,
		config:  config,
		now:     time.Now,
	}
}

// Record accepts one event. Duplicates within the current window are dropped
// without error.
func (r *Recorder) Record(event Event) error {
	if r == nil {
		return nil
	}
	if !r.config.IsEnabled() {
		r.metrics.recordSkipped("disabled")
		return nil
	}
	if !r.config.IsSurfaceEnabled(event.Surface) {
		r.metrics.recordSkipped("surface_disabled")
		return nil
	}
	if err := event.Validate(); err != nil {
		r.metrics.recordInvalid(event.Type)
		return fmt.Errorf("invalid conversion event: %w", err)
	}

	if r.store != nil {
		if err := r.store.Record(StoredEvent{
			EventType:      event.Type,
			Surface:        event.Surface,
			Capability:     event.Capability,
			IdempotencyKey: event.IdempotencyKey,
			CreatedAt:      time.UnixMilli(event.Timestamp),
		}); err != nil {
			return err
		}
	}

	key := event.Surface
	if event.Capability != "" {
		key += ":" + event.Capability
	}
	if err := r.agg.Record(event.Type, key, event.IdempotencyKey); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			return nil
		}
		return err
	}
	r.metrics.recordEvent(event.Type, event.Surface)
	return nil
}

// Track builds and records an event stamped now. Failures are logged, never
// returned, so callers on user paths are unaffected.
func (r *Recorder) Track(eventType, surface, capability string) {
	if r == nil {
		return
	}
	if err := r.Record(NewEvent(eventType, surface, capability, r.now())); err != nil {
		log.Debug().Err(err).
			Str("type", eventType).
			Str("surface", surface).
			Msg("Conversion event not recorded")
	}
}

// Snapshot returns the in-memory counts for the current window.
func (r *Recorder) Snapshot() []Bucket {
	if r == nil {
		return []Bucket{}
	}
	return r.agg.Snapshot()
}

// Flush returns the current window's counts and starts a new window.
func (r *Recorder) Flush() []Bucket {
	if r == nil {
		return []Bucket{}
	}
	return r.agg.Flush()
}

// Store returns the attached store, if any.
func (r *Recorder) Store() *Store {
	if r == nil {
		return nil
	}
	return r.store
}
