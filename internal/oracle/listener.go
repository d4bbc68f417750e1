package oracle

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ybdigitall/closai/pkg/entitlement"
)

// Start launches the background transaction-update listener. Calling Start
// on a running adapter is a no-op.
func (a *Adapter) Start(ctx context.Context) {
	a.listenMu.Lock()
	defer a.listenMu.Unlock()
	if a.cancel != nil {
		return
	}

	lctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.cancel = cancel
	a.done = done

	updates := a.oracle.TransactionUpdates(lctx)
	go func() {
		defer close(done)
		log.Debug().Msg("Transaction listener started")
		for {
			select {
			case <-lctx.Done():
				log.Debug().Msg("Transaction listener stopped")
				return
			case result, ok := <-updates:
				if !ok {
					log.Debug().Msg("Transaction update stream closed")
					return
				}
				if lctx.Err() != nil {
					return
				}
				a.handleUpdate(lctx, result)
			}
		}
	}()
}

// Stop cancels the listener and waits for it to exit. No store updates from
// the listener happen after Stop returns.
func (a *Adapter) Stop() {
	a.listenMu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.listenMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// handleUpdate applies one transaction update in arrival order.
func (a *Adapter) handleUpdate(ctx context.Context, result entitlement.TransactionResult) {
	tx := result.Transaction
	if !result.Verified {
		log.Warn().
			Str("transaction", tx.ID).
			Str("product", tx.ProductID).
			Str("reason", result.VerificationError).
			Msg("Ignoring unverified transaction update")
		a.metrics.recordUpdate("unverified")
		return
	}

	if tx.Revoked() {
		log.Info().Str("transaction", tx.ID).Msg("Transaction revoked; refreshing entitlements")
		a.finishOnce(ctx, tx)
		a.metrics.recordUpdate("revoked")
		if ctx.Err() != nil {
			return
		}
		if err := a.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("Refresh after revocation failed")
		}
		return
	}

	if _, ok := entitlement.PlanKindForProduct(tx.ProductID); !ok {
		log.Warn().Str("transaction", tx.ID).Str("product", tx.ProductID).Msg("Unknown product in transaction update")
		a.finishOnce(ctx, tx)
		a.metrics.recordUpdate("unknown_product")
		return
	}

	a.store.ApplyVerifiedTransaction(result)
	a.finishOnce(ctx, tx)
	a.metrics.recordUpdate("applied")
}
