// Package sqlite provides a SQLite-backed game storage implementation.
// Revision compare-and-set and lease arbitration are enforced inside SQL so
// concurrent service instances sharing a database stay consistent.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"
	sqlitemigrate "github.com/jeremyhappach/rule-your-poker/internal/platform/storage/sqlitemigrate"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
	"github.com/jeremyhappach/rule-your-poker/internal/game/storage"
	"github.com/jeremyhappach/rule-your-poker/internal/game/storage/sqlite/migrations"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists game state in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite game store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SetClock replaces the store clock, for lease expiry tests.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Read returns the latest persisted state for the round.
func (s *Store) Read(ctx context.Context, roundID string) (round.State, error) {
	if err := ctx.Err(); err != nil {
		return round.State{}, err
	}
	if s == nil || s.sqlDB == nil {
		return round.State{}, fmt.Errorf("storage is not configured")
	}
	roundID = strings.TrimSpace(roundID)
	if roundID == "" {
		return round.State{}, fmt.Errorf("round id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT state, revision FROM game_rounds WHERE round_id = ?`,
		roundID,
	)

	var document string
	var revision int64
	if err := row.Scan(&document, &revision); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return round.State{}, apperrors.WithMetadata(
				apperrors.CodeNotFound,
				"round not found",
				map[string]string{"round_id": roundID},
			)
		}
		return round.State{}, fmt.Errorf("read round: %w", err)
	}

	state, err := round.Unmarshal([]byte(document))
	if err != nil {
		return round.State{}, fmt.Errorf("decode round state: %w", err)
	}
	state.Revision = revision
	return state, nil
}

// Write persists state derived from base revision state.Revision and
// returns the new revision. The compare-and-set runs as a single UPDATE
// guarded by the stored revision; zero rows affected means a concurrent
// writer won.
func (s *Store) Write(ctx context.Context, roundID string, state round.State) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	roundID = strings.TrimSpace(roundID)
	if roundID == "" {
		return 0, fmt.Errorf("round id is required")
	}

	base := state.Revision
	next := base + 1
	state.Revision = next
	document, err := state.Marshal()
	if err != nil {
		return 0, fmt.Errorf("encode round state: %w", err)
	}
	nowMillis := toMillis(s.now())

	if base == 0 {
		_, err := s.sqlDB.ExecContext(
			ctx,
			`INSERT INTO game_rounds (round_id, game_type, phase, state, revision, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			roundID,
			state.GameType,
			string(state.Phase),
			string(document),
			next,
			nowMillis,
			nowMillis,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return 0, writeConflict(roundID, base)
			}
			return 0, fmt.Errorf("create round: %w", err)
		}
		return next, nil
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE game_rounds
		    SET state = ?, phase = ?, revision = ?, updated_at = ?
		  WHERE round_id = ? AND revision = ?`,
		string(document),
		string(state.Phase),
		next,
		nowMillis,
		roundID,
		base,
	)
	if err != nil {
		return 0, fmt.Errorf("write round: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("write round affected rows: %w", err)
	}
	if affected == 0 {
		return 0, writeConflict(roundID, base)
	}
	return next, nil
}

// Delete removes the round record and any lease on it.
func (s *Store) Delete(ctx context.Context, roundID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	roundID = strings.TrimSpace(roundID)
	if roundID == "" {
		return fmt.Errorf("round id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM game_rounds WHERE round_id = ?`, roundID); err != nil {
		return fmt.Errorf("delete round: %w", err)
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM controller_leases WHERE round_id = ?`, roundID); err != nil {
		return fmt.Errorf("delete lease: %w", err)
	}
	return nil
}

// Claim grants or renews the bot controller lease for the round inside one
// transaction.
func (s *Store) Claim(ctx context.Context, roundID, holder string, ttl time.Duration) (storage.Lease, error) {
	if err := ctx.Err(); err != nil {
		return storage.Lease{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Lease{}, fmt.Errorf("storage is not configured")
	}
	roundID = strings.TrimSpace(roundID)
	holder = strings.TrimSpace(holder)
	if roundID == "" {
		return storage.Lease{}, fmt.Errorf("round id is required")
	}
	if holder == "" {
		return storage.Lease{}, fmt.Errorf("holder is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.Lease{}, fmt.Errorf("begin lease transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	lease := storage.Lease{RoundID: roundID, Holder: holder}

	row := tx.QueryRowContext(
		ctx,
		`SELECT holder, epoch, expires_at FROM controller_leases WHERE round_id = ?`,
		roundID,
	)
	var currentHolder string
	var epoch int64
	var expiresAt int64
	err = row.Scan(&currentHolder, &epoch, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		lease.Epoch = 1
		lease.ExpiresAt = now.Add(ttl)
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO controller_leases (round_id, holder, epoch, expires_at) VALUES (?, ?, ?, ?)`,
			roundID, holder, lease.Epoch, toMillis(lease.ExpiresAt),
		); err != nil {
			return storage.Lease{}, fmt.Errorf("insert lease: %w", err)
		}
	case err != nil:
		return storage.Lease{}, fmt.Errorf("read lease: %w", err)
	case currentHolder == holder:
		lease.Epoch = epoch
		lease.ExpiresAt = now.Add(ttl)
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE controller_leases SET expires_at = ? WHERE round_id = ? AND holder = ?`,
			toMillis(lease.ExpiresAt), roundID, holder,
		); err != nil {
			return storage.Lease{}, fmt.Errorf("renew lease: %w", err)
		}
	case !fromMillis(expiresAt).After(now):
		lease.Epoch = epoch + 1
		lease.ExpiresAt = now.Add(ttl)
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE controller_leases SET holder = ?, epoch = ?, expires_at = ? WHERE round_id = ?`,
			holder, lease.Epoch, toMillis(lease.ExpiresAt), roundID,
		); err != nil {
			return storage.Lease{}, fmt.Errorf("take over lease: %w", err)
		}
	default:
		return storage.Lease{}, apperrors.WithMetadata(
			apperrors.CodeLeaseHeld,
			"another controller holds the lease",
			map[string]string{"round_id": roundID, "holder": currentHolder},
		)
	}

	if err := tx.Commit(); err != nil {
		return storage.Lease{}, fmt.Errorf("commit lease transaction: %w", err)
	}
	return lease, nil
}

// Release drops the lease when holder still owns it.
func (s *Store) Release(ctx context.Context, roundID, holder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM controller_leases WHERE round_id = ? AND holder = ?`,
		strings.TrimSpace(roundID),
		strings.TrimSpace(holder),
	)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func writeConflict(roundID string, base int64) error {
	return apperrors.WithMetadata(
		apperrors.CodeWriteConflict,
		"state was written concurrently",
		map[string]string{
			"round_id": roundID,
			"base":     strconv.FormatInt(base, 10),
		},
	)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "game_rounds.round_id")
}

var _ storage.Store = (*Store)(nil)
