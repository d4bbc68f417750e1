// Package subscription holds the authoritative subscription status of a session.
package subscription

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/ybdigitall/closai/internal/kvstore"
	"github.com/ybdigitall/closai/pkg/entitlement"
)

// KeyPremiumCached is the persisted last-known premium flag. It is shown
// while the first refresh is in flight and never used for gating.
const KeyPremiumCached = "isPremium"

// EntitlementSource reports the platform's current entitlements.
type EntitlementSource interface {
	CurrentEntitlements(ctx context.Context) ([]entitlement.TransactionResult, error)
}

// Store holds the single current SubscriptionStatus and notifies subscribers
// of every transition.
type Store struct {
	mu     sync.RWMutex
	status entitlement.SubscriptionStatus
	cached bool

	// generation increments on every applied grant. A refresh that started
	// before a grant must not downgrade it.
	generation uint64
	applied    map[string]struct{}

	source  EntitlementSource
	kv      kvstore.Store
	refresh singleflight.Group

	subMu       sync.Mutex
	subscribers map[string]chan entitlement.SubscriptionStatus
	closed      bool
}

// NewStore creates a store in the Loading state.
func NewStore(source EntitlementSource, kv kvstore.Store) *Store {
	s := &Store{
		status:      entitlement.Loading(),
		applied:     make(map[string]struct{}),
		source:      source,
		kv:          kv,
		subscribers: make(map[string]chan entitlement.SubscriptionStatus),
	}
	if kv != nil {
		cached, err := kvstore.GetBool(kv, KeyPremiumCached, false)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to read cached premium flag")
		}
		s.cached = cached
	}
	return s
}

// Status returns the current status.
func (s *Store) Status() entitlement.SubscriptionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsPremium reports whether the current status is Premium.
func (s *Store) IsPremium() bool {
	return s.Status().IsPremium()
}

// CachedPremium returns the premium flag persisted by the last Free/Premium
// transition. Display only.
func (s *Store) CachedPremium() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached
}

// Refresh re-derives the status from the source's current entitlements.
// Concurrent callers share one in-flight query.
//
// On success the verified entitlement with the latest expiry wins; with none
// the status becomes Free. On failure the status becomes Error, which is never
// premium, unless a verified grant was applied while the query was in flight.
func (s *Store) Refresh(ctx context.Context) error {
	_, err, _ := s.refresh.Do("refresh", func() (interface{}, error) {
		return nil, s.doRefresh(ctx)
	})
	return err
}

func (s *Store) doRefresh(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("no entitlement source configured")
	}

	s.mu.Lock()
	startGen := s.generation
	if !s.status.IsPremium() {
		s.transitionLocked(entitlement.Loading())
	}
	s.mu.Unlock()

	results, err := s.source.CurrentEntitlements(ctx)
	if err != nil {
		s.mu.Lock()
		if s.generation != startGen && s.status.IsPremium() {
			s.mu.Unlock()
			log.Warn().Err(err).Msg("Entitlement refresh failed; keeping grant applied during refresh")
			return fmt.Errorf("refresh entitlements: %w", err)
		}
		s.transitionLocked(entitlement.Failed(err.Error()))
		s.mu.Unlock()
		log.Warn().Err(err).Msg("Entitlement refresh failed; treating account as free tier")
		return fmt.Errorf("refresh entitlements: %w", err)
	}

	next := DeriveStatus(results)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != startGen && s.status.IsPremium() {
		if !next.IsPremium() || !entitlement.LaterExpiry(next.Expiry, s.status.Expiry) {
			log.Debug().Str("result", next.String()).Msg("Discarding stale entitlement refresh after newer grant")
			return nil
		}
	}
	s.transitionLocked(next)
	return nil
}

// DeriveStatus picks the verified, unrevoked, known-product entitlement with
// the latest expiry. Unverified results and unknown products are ignored.
func DeriveStatus(results []entitlement.TransactionResult) entitlement.SubscriptionStatus {
	var (
		best  entitlement.Transaction
		kind  entitlement.PlanKind
		found bool
	)
	for _, result := range results {
		tx := result.Transaction
		if !result.Verified {
			log.Warn().
				Str("transaction", tx.ID).
				Str("product", tx.ProductID).
				Str("reason", result.VerificationError).
				Msg("Ignoring unverified entitlement")
			continue
		}
		if tx.Revoked() {
			continue
		}
		k, ok := entitlement.PlanKindForProduct(tx.ProductID)
		if !ok {
			log.Warn().Str("product", tx.ProductID).Msg("Ignoring entitlement for unknown product")
			continue
		}
		if !found || entitlement.LaterExpiry(tx.Expiry(), best.Expiry()) {
			best, kind, found = tx, k, true
		}
	}
	if !found {
		return entitlement.Free()
	}
	return entitlement.Premium(best.Expiry(), kind)
}

// ApplyVerifiedTransaction grants premium immediately for a verified
// transaction of a known plan. It is idempotent per transaction ID and
// reports whether the call changed anything.
func (s *Store) ApplyVerifiedTransaction(result entitlement.TransactionResult) bool {
	tx := result.Transaction
	if !result.Verified {
		log.Warn().Str("transaction", tx.ID).Str("reason", result.VerificationError).Msg("Refusing to apply unverified transaction")
		return false
	}
	if tx.Revoked() {
		log.Info().Str("transaction", tx.ID).Msg("Not applying revoked transaction")
		return false
	}
	kind, ok := entitlement.PlanKindForProduct(tx.ProductID)
	if !ok {
		log.Warn().Str("transaction", tx.ID).Str("product", tx.ProductID).Msg("Ignoring transaction for unknown product")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID != "" {
		if _, seen := s.applied[tx.ID]; seen {
			return false
		}
		s.applied[tx.ID] = struct{}{}
	}

	next := entitlement.Premium(tx.Expiry(), kind)
	if s.status.IsPremium() && entitlement.LaterExpiry(s.status.Expiry, next.Expiry) {
		// An entitlement that outlives this one is already active.
		return false
	}
	s.generation++
	changed := !s.status.Equal(next)
	s.transitionLocked(next)
	if changed {
		log.Info().
			Str("transaction", tx.ID).
			Str("plan", string(kind)).
			Time("expiry", tx.Expiry()).
			Msg("Premium activated")
	}
	return changed
}

// transitionLocked sets the status, persists the cached flag for settled
// states, and notifies subscribers. Caller holds s.mu.
func (s *Store) transitionLocked(next entitlement.SubscriptionStatus) {
	if s.status.Equal(next) {
		return
	}
	prev := s.status
	s.status = next

	if next.Kind == entitlement.StatusFree || next.Kind == entitlement.StatusPremium {
		premium := next.IsPremium()
		if s.kv != nil && premium != s.cached {
			if err := s.kv.Set(map[string]string{KeyPremiumCached: kvstore.Bool(premium)}); err != nil {
				log.Error().Err(err).Msg("Failed to persist cached premium flag")
			}
		}
		s.cached = premium
	}

	log.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("Subscription status changed")
	s.broadcast(next)
}

// Subscribe registers a listener. The channel immediately holds the current
// status and afterwards always holds the latest one: slow readers skip
// intermediate states, never the final one.
func (s *Store) Subscribe() (string, <-chan entitlement.SubscriptionStatus) {
	id := uuid.NewString()
	ch := make(chan entitlement.SubscriptionStatus, 1)

	// Lock order is mu then subMu, matching transitionLocked.
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	ch <- s.status
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (s *Store) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Close closes every subscriber channel. No notifications follow.
func (s *Store) Close() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *Store) broadcast(status entitlement.SubscriptionStatus) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		// Replace any unread status with the latest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- status:
		default:
		}
	}
}
