// Package storage defines persistence contracts for authoritative round
// state and bot controller leases.
package storage

import (
	"context"
	"time"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
)

// RecordStore persists one authoritative state document per round with
// optimistic concurrency. Write treats the submitted state's Revision as
// the base it was derived from: the write succeeds only when that base is
// still current, and the store assigns the next revision itself. A stale
// base fails with the WRITE_CONFLICT code; a missing round reads as
// NOT_FOUND.
type RecordStore interface {
	// Read returns the latest persisted state for the round.
	Read(ctx context.Context, roundID string) (round.State, error)
	// Write persists state derived from base revision state.Revision and
	// returns the newly assigned revision. A base of zero creates the
	// round; creating an existing round is a conflict.
	Write(ctx context.Context, roundID string, state round.State) (int64, error)
	// Delete removes a round record. Deleting a missing round is not an
	// error.
	Delete(ctx context.Context, roundID string) error
}

// Lease records which controller currently drives the bots of a round.
// Epoch increases on every takeover so a stale holder can recognize that
// its lease was lost even after the TTL confusion clears.
type Lease struct {
	RoundID   string
	Holder    string
	Epoch     int64
	ExpiresAt time.Time
}

// Expired reports whether the lease has lapsed at the given instant.
func (l Lease) Expired(at time.Time) bool {
	return !l.ExpiresAt.After(at)
}

// LeaseStore arbitrates the single bot controller per round. Claim is
// atomic claim-if-absent-or-expired: the current holder renews its own
// lease keeping the epoch, a takeover of an expired lease bumps the epoch,
// and a live foreign lease fails with the LEASE_HELD code.
type LeaseStore interface {
	Claim(ctx context.Context, roundID, holder string, ttl time.Duration) (Lease, error)
	Release(ctx context.Context, roundID, holder string) error
}

// Store bundles the two contracts a game service needs.
type Store interface {
	RecordStore
	LeaseStore
}
