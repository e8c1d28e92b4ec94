// Package sync merges optimistic local writes with push and poll updates
// into a single monotonically advancing rendered state. The renderer sees
// exactly one callback stream and never observes a revision regression.
package sync

import (
	"log"
	gosync "sync"
	"time"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
	"github.com/jeremyhappach/rule-your-poker/internal/platform/timeouts"
)

// Config wires a Reconciler.
type Config struct {
	// Suppression is how long remote updates are held back after an
	// optimistic submit. Defaults to timeouts.Suppression.
	Suppression time.Duration
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
	// OnStateChange receives every rendered state. Required.
	OnStateChange func(round.State)
}

func (c Config) normalized() Config {
	if c.Suppression <= 0 {
		c.Suppression = timeouts.Suppression
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Reconciler orders every inbound state by revision. An optimistic submit
// renders immediately and opens a suppression window; remote updates that
// arrive inside the window are buffered instead of overwriting the guess,
// and the newest buffered state renders once the window elapses.
type Reconciler struct {
	cfg Config

	mu       gosync.Mutex
	rendered round.State
	have     bool
	// window holds the suppression deadline; pending is the newest remote
	// state buffered while the window was open.
	window  time.Time
	pending *round.State
	// expiry promotes the buffered state when the window elapses without
	// another ingest or Current call arriving first.
	expiry *time.Timer
}

// New builds a Reconciler. Panics without an OnStateChange callback, which
// is a wiring bug.
func New(cfg Config) *Reconciler {
	cfg = cfg.normalized()
	if cfg.OnStateChange == nil {
		panic("sync: OnStateChange is required")
	}
	return &Reconciler{cfg: cfg}
}

// Submit renders an optimistically applied state immediately and opens the
// suppression window.
func (r *Reconciler) Submit(state round.State) {
	r.mu.Lock()
	now := r.cfg.Now()
	r.flushLocked(now)
	if r.have && state.Revision < r.rendered.Revision {
		r.mu.Unlock()
		return
	}
	r.window = now.Add(r.cfg.Suppression)
	r.renderLocked(state)
	r.mu.Unlock()
}

// OnPush ingests a push-delivered state.
func (r *Reconciler) OnPush(state round.State) {
	r.ingest(state)
}

// OnPoll ingests a poll-fetched state.
func (r *Reconciler) OnPoll(state round.State) {
	r.ingest(state)
}

// OnTransportError keeps the last known-good state rendered; polling is the
// caller's recovery loop, so the error is only logged.
func (r *Reconciler) OnTransportError(err error) {
	if err == nil {
		return
	}
	log.Printf("sync: transport error, keeping last known state: %v", err)
}

// Reset force-renders a re-read authoritative state after a conflicted
// optimistic write was dropped. Equal revisions re-render because the
// optimistic guess may have rendered different content under the same
// number.
func (r *Reconciler) Reset(state round.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.have && state.Revision < r.rendered.Revision {
		return
	}
	r.window = time.Time{}
	r.pending = nil
	r.stopExpiryLocked()
	r.renderLocked(state)
}

// Current returns the last rendered state.
func (r *Reconciler) Current() (round.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked(r.cfg.Now())
	if !r.have {
		return round.State{}, false
	}
	return r.rendered.Clone(), true
}

func (r *Reconciler) ingest(state round.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.cfg.Now()
	r.flushLocked(now)

	// Strictly older revisions are discarded unconditionally; an equal
	// revision renders nothing new either.
	if r.have && state.Revision <= r.rendered.Revision {
		return
	}

	if now.Before(r.window) {
		if r.pending == nil || state.Revision > r.pending.Revision {
			clone := state.Clone()
			r.pending = &clone
		}
		r.armExpiryLocked(now)
		return
	}

	r.renderLocked(state)
}

func (r *Reconciler) armExpiryLocked(now time.Time) {
	if r.expiry != nil {
		r.expiry.Stop()
	}
	r.expiry = time.AfterFunc(r.window.Sub(now), func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.flushLocked(r.cfg.Now())
	})
}

func (r *Reconciler) stopExpiryLocked() {
	if r.expiry != nil {
		r.expiry.Stop()
		r.expiry = nil
	}
}

// flushLocked promotes the buffered remote state once the suppression
// window has elapsed.
func (r *Reconciler) flushLocked(now time.Time) {
	if r.pending == nil || now.Before(r.window) {
		return
	}
	r.stopExpiryLocked()
	pending := *r.pending
	r.pending = nil
	if r.have && pending.Revision <= r.rendered.Revision {
		return
	}
	r.renderLocked(pending)
}

func (r *Reconciler) renderLocked(state round.State) {
	r.rendered = state.Clone()
	r.have = true
	r.cfg.OnStateChange(state.Clone())
}
