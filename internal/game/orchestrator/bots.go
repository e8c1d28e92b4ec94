package orchestrator

import (
	"context"
	"log"
	"time"

	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/engine"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
)

// runBotTurn plays one bot move: claim the controller lease, wait the
// think delay, re-read the latest state, and write only when the turn still
// belongs to the expected bot under the spawning epoch. Every other outcome
// aborts without a write.
func (o *Orchestrator) runBotTurn(ctx context.Context, epoch int64, actorID round.ActorID) {
	defer o.clearBotTask(epoch)

	lease, err := o.cfg.Store.Claim(ctx, o.roundID, o.cfg.HolderID, o.cfg.LeaseTTL)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeLeaseHeld) {
			// Another instance drives the bots for this round.
			return
		}
		log.Printf("orchestrator: claim bot lease: %v", err)
		return
	}

	if delay := o.cfg.Think(); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	// Cancellation and epoch are rechecked at every suspension resume.
	if ctx.Err() != nil || o.currentEpoch() != epoch {
		return
	}

	latest, err := o.cfg.Store.Read(ctx, o.roundID)
	if err != nil {
		o.cfg.Reconciler.OnTransportError(err)
		return
	}
	if latest.Terminal() || latest.CurrentTurnActorID != actorID {
		// A human or another controller moved first.
		return
	}
	if lease.Expired(o.cfg.Now()) {
		log.Printf("orchestrator: bot controller lease lost for round %s (epoch %d)", o.roundID, lease.Epoch)
		return
	}

	action, err := o.cfg.Decide(latest, actorID)
	if err != nil {
		log.Printf("orchestrator: bot decision for round %s: %v", o.roundID, err)
		return
	}
	next, _, err := engine.Apply(latest, action, o.cfg.Now)
	if err != nil {
		log.Printf("orchestrator: bot action rejected for round %s: %v", o.roundID, err)
		return
	}

	if ctx.Err() != nil || o.currentEpoch() != epoch {
		return
	}

	revision, err := o.cfg.Store.Write(ctx, o.roundID, next)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeWriteConflict) {
			// Someone outran the bot; the next poll reschedules if the
			// turn is still ours.
			return
		}
		log.Printf("orchestrator: bot write for round %s: %v", o.roundID, err)
		return
	}
	next.Revision = revision
	o.accepted(next)
}

// clearBotTask releases the scheduling slot so a poll under the same epoch
// can retry an aborted bot turn.
func (o *Orchestrator) clearBotTask(epoch int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch == epoch && o.botCancel != nil {
		o.botCancel()
		o.botCancel = nil
	}
}
