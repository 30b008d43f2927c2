package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlitemigrate "github.com/louisbranch/covenant/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/covenant/internal/services/ledger/storage"
	"github.com/louisbranch/covenant/internal/services/ledger/storage/sqlite/migrations"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements ledger persistence over SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var (
	_ storage.RecordStore = (*Store)(nil)
	_ storage.OutboxStore = (*Store)(nil)
)

// Open opens a ledger SQLite store and applies bundled migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	sqlDB, err := sqlitemigrate.Open(ctx, path, migrations.FS)
	if err != nil {
		return nil, err
	}
	// One connection keeps read-then-write commits from failing with
	// SQLITE_BUSY when sessions commit concurrently.
	sqlDB.SetMaxOpenConns(1)
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return errors.New("storage is not configured")
	}
	return nil
}

func (s *Store) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func wrapNotFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return fmt.Errorf("%s: %w", what, err)
}
