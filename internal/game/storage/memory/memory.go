// Package memory provides an in-memory storage.Store for tests and
// single-node runs. It enforces the same compare-and-set semantics as the
// SQLite store.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
	"github.com/jeremyhappach/rule-your-poker/internal/game/storage"
)

// Store keeps round records and controller leases in process memory.
type Store struct {
	mu     sync.Mutex
	rounds map[string]round.State
	leases map[string]storage.Lease
	now    func() time.Time
}

// NewStore builds an empty store. A nil clock falls back to time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		rounds: make(map[string]round.State),
		leases: make(map[string]storage.Lease),
		now:    now,
	}
}

// Read returns the latest state for the round.
func (s *Store) Read(ctx context.Context, roundID string) (round.State, error) {
	if err := ctx.Err(); err != nil {
		return round.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.rounds[roundID]
	if !ok {
		return round.State{}, apperrors.WithMetadata(
			apperrors.CodeNotFound,
			"round not found",
			map[string]string{"round_id": roundID},
		)
	}
	return state.Clone(), nil
}

// Write persists state when its Revision still matches the stored record
// and returns the next revision. A base of zero creates the round.
func (s *Store) Write(ctx context.Context, roundID string, state round.State) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.rounds[roundID]
	switch {
	case !exists && state.Revision != 0:
		return 0, conflict(roundID, state.Revision, 0)
	case exists && current.Revision != state.Revision:
		return 0, conflict(roundID, state.Revision, current.Revision)
	}

	next := state.Clone()
	next.Revision = state.Revision + 1
	s.rounds[roundID] = next
	return next.Revision, nil
}

// Delete removes the round record and any lease on it.
func (s *Store) Delete(ctx context.Context, roundID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rounds, roundID)
	delete(s.leases, roundID)
	return nil
}

// Claim grants or renews the bot controller lease for the round.
func (s *Store) Claim(ctx context.Context, roundID, holder string, ttl time.Duration) (storage.Lease, error) {
	if err := ctx.Err(); err != nil {
		return storage.Lease{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	current, exists := s.leases[roundID]

	switch {
	case !exists:
		current = storage.Lease{RoundID: roundID, Holder: holder, Epoch: 1}
	case current.Holder == holder:
		// Renewal keeps the epoch.
	case current.Expired(now):
		current = storage.Lease{RoundID: roundID, Holder: holder, Epoch: current.Epoch + 1}
	default:
		return storage.Lease{}, apperrors.WithMetadata(
			apperrors.CodeLeaseHeld,
			"another controller holds the lease",
			map[string]string{"round_id": roundID, "holder": current.Holder},
		)
	}

	current.ExpiresAt = now.Add(ttl)
	s.leases[roundID] = current
	return current, nil
}

// Release drops the lease when holder still owns it.
func (s *Store) Release(ctx context.Context, roundID, holder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.leases[roundID]
	if !exists || current.Holder != holder {
		return nil
	}
	delete(s.leases, roundID)
	return nil
}

func conflict(roundID string, base, current int64) error {
	return apperrors.WithMetadata(
		apperrors.CodeWriteConflict,
		"state was written concurrently",
		map[string]string{
			"round_id": roundID,
			"base":     strconv.FormatInt(base, 10),
			"current":  strconv.FormatInt(current, 10),
		},
	)
}
