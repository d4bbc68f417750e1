// Package session wires one shared instance of every component: entitlement
// store, usage ledger, gate, oracle adapter, closet and funnel recorder.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ybdigitall/closai/internal/clock"
	"github.com/ybdigitall/closai/internal/closet"
	"github.com/ybdigitall/closai/internal/config"
	"github.com/ybdigitall/closai/internal/conversion"
	"github.com/ybdigitall/closai/internal/gate"
	"github.com/ybdigitall/closai/internal/kvstore"
	"github.com/ybdigitall/closai/internal/logging"
	"github.com/ybdigitall/closai/internal/oracle"
	"github.com/ybdigitall/closai/internal/oracle/sandbox"
	"github.com/ybdigitall/closai/internal/subscription"
	"github.com/ybdigitall/closai/internal/usage"
	"github.com/ybdigitall/closai/pkg/entitlement"
)

// Options are the injected dependencies of a session.
type Options struct {
	KV     kvstore.Store
	Oracle oracle.Oracle
	Clock  clock.Clock
	// ConversionStore persists funnel events. Optional.
	ConversionStore *conversion.Store
	// Collection switches funnel collection. Nil collects everything.
	Collection    *conversion.CollectionConfig
	OracleTimeout time.Duration
	// Registerer receives private metrics collectors. Nil uses the
	// process-wide collectors on the default registry.
	Registerer prometheus.Registerer
}

// Session is the composition root. Create one per process.
type Session struct {
	Clock        clock.Clock
	Subscription *subscription.Store
	Ledger       *usage.Ledger
	Gate         *gate.Evaluator
	Adapter      *oracle.Adapter
	Closet       *closet.Closet
	Conversion   *conversion.Recorder
	Collection   *conversion.CollectionConfig

	closers []io.Closer

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires a session from injected dependencies. Resources in opts stay
// owned by the caller.
func New(opts Options) (*Session, error) {
	if opts.KV == nil {
		return nil, errors.New("session: kv store is required")
	}
	if opts.Oracle == nil {
		return nil, errors.New("session: oracle is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}

	gateMetrics := gate.GetMetrics()
	oracleMetrics := oracle.GetMetrics()
	conversionMetrics := conversion.GetMetrics()
	if opts.Registerer != nil {
		gateMetrics = gate.NewMetrics(opts.Registerer)
		oracleMetrics = oracle.NewMetrics(opts.Registerer)
		conversionMetrics = conversion.NewMetrics(opts.Registerer)
	}

	s := &Session{Clock: clk, Collection: opts.Collection}
	s.Subscription = subscription.NewStore(opts.Oracle, opts.KV)
	s.Ledger = usage.NewLedger(s.Subscription, opts.KV, clk)
	s.Gate = gate.NewEvaluator(s.Subscription, s.Ledger).WithMetrics(gateMetrics)
	s.Conversion = conversion.NewRecorder(opts.ConversionStore, conversionMetrics, opts.Collection)

	adapterOpts := []oracle.Option{oracle.WithMetrics(oracleMetrics), oracle.WithObserver(s)}
	if opts.OracleTimeout > 0 {
		adapterOpts = append(adapterOpts, oracle.WithTimeout(opts.OracleTimeout))
	}
	s.Adapter = oracle.NewAdapter(opts.Oracle, s.Subscription, adapterOpts...)

	s.Closet = closet.New(s.Gate, s.Ledger, s.Subscription, s.Conversion, clk)
	if err := s.Closet.Attach(opts.KV); err != nil {
		return nil, fmt.Errorf("load closet: %w", err)
	}
	return s, nil
}

// Open builds a session from configuration with durable state under
// cfg.DataDir and the sandbox purchase platform. The session owns and closes
// every resource it opens.
func Open(cfg *config.Config) (*Session, *sandbox.Oracle, error) {
	kv, err := kvstore.Open(cfg.StoreBackend, cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open state store: %w", err)
	}
	clk := clock.System{Location: cfg.Location}

	platform, err := sandbox.New(kv, clk)
	if err != nil {
		kv.Close()
		return nil, nil, err
	}

	collection := conversion.NewCollectionConfig(cfg.ConversionEnabled)
	collection.Update(conversion.CollectionSnapshot{Enabled: cfg.ConversionEnabled, DisabledSurfaces: cfg.DisabledSurfaces})

	var convStore *conversion.Store
	if cfg.ConversionEnabled {
		convStore, err = conversion.NewStore(cfg.ConversionDBPath())
		if err != nil {
			kv.Close()
			return nil, nil, fmt.Errorf("open conversion store: %w", err)
		}
	}

	s, err := New(Options{
		KV:              kv,
		Oracle:          platform,
		Clock:           clk,
		ConversionStore: convStore,
		Collection:      collection,
		OracleTimeout:   cfg.OracleTimeout,
	})
	if err != nil {
		if convStore != nil {
			convStore.Close()
		}
		kv.Close()
		return nil, nil, err
	}
	if convStore != nil {
		s.closers = append(s.closers, convStore)
	}
	s.closers = append(s.closers, kv)
	return s, platform, nil
}

// Start loads the catalog and refreshes the entitlement concurrently, then
// begins listening for transaction updates. The session is usable even when
// Start returns an error: the catalog falls back and the status fails closed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	// Subscribe before the refresh so a grant during launch is seen.
	subID, updates := s.Subscription.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watchStatus(runCtx, subID, updates)
	}()

	var g errgroup.Group
	g.Go(func() error {
		_, err := s.Adapter.LoadCatalog(ctx)
		return err
	})
	g.Go(func() error {
		return s.Adapter.Refresh(ctx)
	})
	err := g.Wait()
	if s.Subscription.IsPremium() {
		s.Ledger.ClearPendingReason()
	}

	s.Adapter.Start(runCtx)
	log.Info().
		Str("status", s.Subscription.Status().String()).
		Int("clothing", s.Ledger.ClothingItemCount()).
		Int("generationsToday", s.Ledger.DailyGenerationCount()).
		Msg("Session started")
	return err
}

// watchStatus clears any pending denial once the user becomes premium.
func (s *Session) watchStatus(ctx context.Context, id string, updates <-chan entitlement.SubscriptionStatus) {
	defer s.Subscription.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-updates:
			if !ok {
				return
			}
			if status.IsPremium() {
				s.Ledger.ClearPendingReason()
			}
		}
	}
}

// Close stops the listener and releases owned resources.
func (s *Session) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.Adapter.Stop()
	s.wg.Wait()
	s.Subscription.Close()

	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// ApplyRuntime applies reloaded settings to the running session. Events
// collected while the funnel store was never opened stay in memory only.
func (s *Session) ApplyRuntime(rt config.Runtime) {
	logging.SetLevel(rt.LogLevel)
	s.Collection.Update(conversion.CollectionSnapshot{
		Enabled:          rt.ConversionEnabled,
		DisabledSurfaces: rt.DisabledSurfaces,
	})
}

// PaywallShown records that the paywall was presented for feature.
func (s *Session) PaywallShown(surface string, feature entitlement.PremiumFeature) {
	s.Conversion.Track(conversion.EventPaywallViewed, surface, string(feature))
}

// Paywall returns upgrade reasons for the pending denial, most relevant
// first, and records the view.
func (s *Session) Paywall(surface string) []entitlement.ReasonEntry {
	var denied entitlement.PremiumFeature
	if d, ok := s.Ledger.PendingReason(); ok {
		denied = entitlement.FeatureForReason(d)
	}
	capability := string(denied)
	if capability == "" {
		capability = "general"
	}
	s.Conversion.Track(conversion.EventPaywallViewed, surface, capability)

	var granted []entitlement.PremiumFeature
	if s.Subscription.IsPremium() {
		granted = entitlement.AllFeatures
	}
	return entitlement.GenerateUpgradeReasons(granted, denied)
}

// CheckoutStarted implements oracle.Observer.
func (s *Session) CheckoutStarted(plan entitlement.PlanKind) {
	s.Conversion.Track(conversion.EventCheckoutStarted, conversion.SurfacePaywall, string(plan))
}

// CheckoutFinished implements oracle.Observer.
func (s *Session) CheckoutFinished(plan entitlement.PlanKind, outcome oracle.OutcomeKind) {
	switch outcome {
	case oracle.OutcomeVerified:
		s.Conversion.Track(conversion.EventCheckoutCompleted, conversion.SurfacePaywall, string(plan))
	case oracle.OutcomeUserCancelled:
		s.Conversion.Track(conversion.EventCheckoutCancelled, conversion.SurfacePaywall, string(plan))
	case oracle.OutcomeUnverified, oracle.OutcomeUnknownFailure:
		s.Conversion.Track(conversion.EventCheckoutFailed, conversion.SurfacePaywall, string(plan))
	}
}

// RestoreFinished implements oracle.Observer.
func (s *Session) RestoreFinished(err error) {
	if err == nil {
		s.Conversion.Track(conversion.EventRestoreCompleted, conversion.SurfaceSettings, "")
	}
}
