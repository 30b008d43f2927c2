// Package sqlite persists consumed inputs for the uniqueness authority.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/covenant/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/notary/storage"
	"github.com/louisbranch/covenant/internal/services/notary/storage/sqlite/migrations"
)

// Store implements storage.ConsumedInputStore over SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var _ storage.ConsumedInputStore = (*Store)(nil)

// Open opens a notary SQLite store and applies bundled migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	sqlDB, err := sqlitemigrate.Open(ctx, path, migrations.FS)
	if err != nil {
		return nil, err
	}
	// Consume checks then writes; a single connection serializes it.
	sqlDB.SetMaxOpenConns(1)
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Consume records n atomically.
func (s *Store) Consume(ctx context.Context, n storage.Notarization) (*storage.Conflict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, errors.New("storage is not configured")
	}
	txID := strings.TrimSpace(n.TransactionID)
	if txID == "" {
		return nil, errors.New("transaction id is required")
	}
	inputs := slices.Clone(n.Inputs)
	slices.SortFunc(inputs, func(a, b record.Reference) int {
		return strings.Compare(a.String(), b.String())
	})
	at := n.NotarizedAt
	if at.IsZero() {
		at = s.now()
	}

	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin consume: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	for _, input := range inputs {
		owner, err := consumedBy(ctx, sqlTx, input)
		if err != nil {
			return nil, err
		}
		if owner != "" && owner != txID {
			return &storage.Conflict{Input: input, TransactionID: owner}, nil
		}
	}

	millis := at.UTC().UnixMilli()
	if _, err := sqlTx.ExecContext(ctx, `
INSERT INTO notarizations (transaction_id, requesting_party, notarized_at)
VALUES (?, ?, ?)
ON CONFLICT (transaction_id) DO NOTHING
`, txID, strings.TrimSpace(n.RequestingParty), millis); err != nil {
		return nil, fmt.Errorf("insert notarization: %w", err)
	}
	for _, input := range inputs {
		if _, err := sqlTx.ExecContext(ctx, `
INSERT INTO consumed_inputs (record_id, version, transaction_id, consumed_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (record_id, version) DO NOTHING
`, input.ID, input.Version, txID, millis); err != nil {
			return nil, fmt.Errorf("consume %s: %w", input, err)
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consume: %w", err)
	}
	return nil, nil
}

// ConsumedBy reports the owner of input.
func (s *Store) ConsumedBy(ctx context.Context, input record.Reference) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.sqlDB == nil {
		return "", errors.New("storage is not configured")
	}
	return consumedBy(ctx, s.sqlDB, input)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func consumedBy(ctx context.Context, q queryRower, input record.Reference) (string, error) {
	var owner string
	err := q.QueryRowContext(ctx, `
SELECT transaction_id FROM consumed_inputs WHERE record_id = ? AND version = ?
`, input.ID, input.Version).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", input, err)
	}
	return owner, nil
}
