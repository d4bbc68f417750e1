package conversion

import (
	"errors"
	"sync"
	"time"
)

const (
	// MaxKeysPerType caps distinct surface:capability keys per event type in
	// one window.
	MaxKeysPerType = 1000
	// MaxIdempotencyKeysPerWindow bounds deduplication state.
	MaxIdempotencyKeysPerWindow = 10000
)

var (
	ErrCardinalityExceeded         = errors.New("cardinality limit exceeded for event type")
	ErrDuplicateEvent              = errors.New("duplicate event (idempotency key already seen)")
	ErrIdempotencyKeyLimitExceeded = errors.New("idempotency key limit exceeded for window")
)

type bucketKey struct {
	Type string
	Key  string
}

// Bucket is the count for one event type and key over a window.
type Bucket struct {
	Type        string    `json:"type"`
	Key         string    `json:"key"`
	Count       int64     `json:"count"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// WindowedAggregator counts events in memory until flushed.
type WindowedAggregator struct {
	mu sync.RWMutex

	counters    map[bucketKey]int64
	seen        map[string]bool
	cardinality map[string]int
	windowStart time.Time
}

// NewWindowedAggregator creates an aggregator whose window starts now.
func NewWindowedAggregator() *WindowedAggregator {
	return &WindowedAggregator{
		counters:    make(map[bucketKey]int64),
		seen:        make(map[string]bool),
		cardinality: make(map[string]int),
		windowStart: time.Now(),
	}
}

// Record counts one event under key. Events with an idempotency key already
// seen in this window return ErrDuplicateEvent.
func (w *WindowedAggregator) Record(eventType, key, idempotencyKey string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if idempotencyKey != "" {
		if w.seen[idempotencyKey] {
			return ErrDuplicateEvent
		}
		if len(w.seen) >= MaxIdempotencyKeysPerWindow {
			return ErrIdempotencyKeyLimitExceeded
		}
	}

	bk := bucketKey{Type: eventType, Key: key}
	if _, exists := w.counters[bk]; !exists {
		if w.cardinality[eventType] >= MaxKeysPerType {
			return ErrCardinalityExceeded
		}
		w.cardinality[eventType]++
	}
	w.counters[bk]++

	if idempotencyKey != "" {
		w.seen[idempotencyKey] = true
	}
	return nil
}

func (w *WindowedAggregator) bucketsLocked(end time.Time) []Bucket {
	out := make([]Bucket, 0, len(w.counters))
	for key, count := range w.counters {
		out = append(out, Bucket{
			Type:        key.Type,
			Key:         key.Key,
			Count:       count,
			WindowStart: w.windowStart,
			WindowEnd:   end,
		})
	}
	return out
}

// Flush returns the window's buckets and starts a new window.
func (w *WindowedAggregator) Flush() []Bucket {
	w.mu.Lock()
	defer w.mu.Unlock()

	end := time.Now()
	out := w.bucketsLocked(end)
	w.counters = make(map[bucketKey]int64)
	w.seen = make(map[string]bool)
	w.cardinality = make(map[string]int)
	w.windowStart = end
	return out
}

// Snapshot returns the window's buckets without resetting.
func (w *WindowedAggregator) Snapshot() []Bucket {
	if w == nil {
		return []Bucket{}
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.bucketsLocked(time.Now())
}

// BucketCount returns the number of active buckets.
func (w *WindowedAggregator) BucketCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.counters)
}
