package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/covenant/internal/platform/grpc/pagination"
	sqlitemigrate "github.com/louisbranch/covenant/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/covenant/internal/services/ledger/core/encoding"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/covenant/internal/services/ledger/storage"
)

const recordColumns = `seq, record_id, version, participants, payload, deleted, consumed, transaction_id`

type recordScanner func(dest ...any) error

func scanRecord(scan recordScanner) (storage.StoredRecord, error) {
	var (
		stored       storage.StoredRecord
		participants []byte
		payload      []byte
		deleted      int
		consumed     int
	)
	if err := scan(
		&stored.Seq,
		&stored.Record.ID,
		&stored.Ref.Version,
		&participants,
		&payload,
		&deleted,
		&consumed,
		&stored.TransactionID,
	); err != nil {
		return storage.StoredRecord{}, err
	}
	if err := encoding.Decode(participants, &stored.Record.Participants); err != nil {
		return storage.StoredRecord{}, err
	}
	if err := encoding.Decode(payload, &stored.Record.Payload); err != nil {
		return storage.StoredRecord{}, err
	}
	stored.Record.Deleted = deleted != 0
	stored.Consumed = consumed != 0
	stored.Ref.ID = stored.Record.ID
	return stored, nil
}

// GetRecord returns the current version of id: the unconsumed one, or the
// most recent when every version is spent.
func (s *Store) GetRecord(ctx context.Context, id string) (storage.StoredRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.StoredRecord{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.StoredRecord{}, fmt.Errorf("record id is required")
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+recordColumns+`
FROM records
WHERE record_id = ?
ORDER BY consumed ASC, seq DESC
LIMIT 1
`, id)
	stored, err := scanRecord(row.Scan)
	if err != nil {
		return storage.StoredRecord{}, wrapNotFound(err, "get record")
	}
	return stored, nil
}

// Commit applies c in one SQLite transaction.
func (s *Store) Commit(ctx context.Context, c storage.Commit) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	if strings.TrimSpace(c.TransactionID) == "" {
		return false, fmt.Errorf("transaction id is required")
	}
	data, err := encoding.Canonical(c.Transaction)
	if err != nil {
		return false, err
	}
	now := toMillis(s.clock())

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin commit: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE transaction_id = ?`, c.TransactionID).Scan(&existing); err != nil {
		return false, fmt.Errorf("check transaction: %w", err)
	}
	if existing > 0 {
		return false, nil
	}

	for _, ref := range c.Consumed {
		if err := consume(ctx, tx, ref, c.TransactionID); err != nil {
			return false, err
		}
	}
	for i, versioned := range c.Records {
		participants, err := encoding.Canonical(versioned.Record.Participants)
		if err != nil {
			return false, err
		}
		payload, err := encoding.Canonical(versioned.Record.Payload)
		if err != nil {
			return false, err
		}
		owner, err := spentBy(ctx, tx, versioned.Ref.Version)
		if err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO records (record_id, version, participants, payload, deleted, consumed, consumed_by, transaction_id, output_index, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
			versioned.Record.ID,
			versioned.Ref.Version,
			participants,
			payload,
			boolToInt(versioned.Record.Deleted),
			boolToInt(owner != ""),
			owner,
			c.TransactionID,
			i,
			now,
		); err != nil {
			return false, fmt.Errorf("insert record %s: %w", versioned.Ref, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO transactions (transaction_id, command, data, committed_at)
VALUES (?, ?, ?, ?)
`, c.TransactionID, string(c.Transaction.Body.Command), data, now); err != nil {
		if sqlitemigrate.IsUniqueConstraintError(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		if sqlitemigrate.IsUniqueConstraintError(err) {
			return false, nil
		}
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// consume marks ref consumed by transactionID. A version this node does not
// hold yet is remembered in spent_versions, so that a late delivery of the
// transaction producing it inserts it already consumed.
func consume(ctx context.Context, tx *sql.Tx, ref record.Reference, transactionID string) error {
	var (
		consumed   int
		consumedBy string
	)
	err := tx.QueryRowContext(ctx, `SELECT consumed, consumed_by FROM records WHERE version = ? AND record_id = ?`, ref.Version, ref.ID).Scan(&consumed, &consumedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return spend(ctx, tx, ref, transactionID)
	}
	if err != nil {
		return fmt.Errorf("load input %s: %w", ref, err)
	}
	if consumed != 0 && consumedBy != transactionID {
		return fmt.Errorf("%w: %s consumed by %s", storage.ErrInputConsumed, ref, consumedBy)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE records SET consumed = 1, consumed_by = ? WHERE version = ?`, transactionID, ref.Version); err != nil {
		return fmt.Errorf("consume input %s: %w", ref, err)
	}
	return nil
}

func spend(ctx context.Context, tx *sql.Tx, ref record.Reference, transactionID string) error {
	owner, err := spentBy(ctx, tx, ref.Version)
	if err != nil {
		return err
	}
	if owner != "" {
		if owner != transactionID {
			return fmt.Errorf("%w: %s consumed by %s", storage.ErrInputConsumed, ref, owner)
		}
		return nil
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO spent_versions (version, record_id, consumed_by) VALUES (?, ?, ?)`, ref.Version, ref.ID, transactionID); err != nil {
		return fmt.Errorf("record spent input %s: %w", ref, err)
	}
	return nil
}

// spentBy returns the transaction that spent version before this node held
// it, or "".
func spentBy(ctx context.Context, tx *sql.Tx, version string) (string, error) {
	var owner string
	err := tx.QueryRowContext(ctx, `SELECT consumed_by FROM spent_versions WHERE version = ?`, version).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load spent version %s: %w", version, err)
	}
	return owner, nil
}

// HasTransaction reports whether transactionID was committed.
func (s *Store) HasTransaction(ctx context.Context, transactionID string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	var count int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE transaction_id = ?`, transactionID).Scan(&count); err != nil {
		return false, fmt.Errorf("has transaction: %w", err)
	}
	return count > 0, nil
}

// GetTransaction loads a committed transaction.
func (s *Store) GetTransaction(ctx context.Context, transactionID string) (transaction.Transaction, error) {
	if err := s.ready(ctx); err != nil {
		return transaction.Transaction{}, err
	}
	var data []byte
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT data FROM transactions WHERE transaction_id = ?`, transactionID).Scan(&data); err != nil {
		return transaction.Transaction{}, wrapNotFound(err, "get transaction")
	}
	var tx transaction.Transaction
	if err := encoding.Decode(data, &tx); err != nil {
		return transaction.Transaction{}, err
	}
	return tx, nil
}

// ListRecords pages through unconsumed versions ordered by commit sequence.
func (s *Store) ListRecords(ctx context.Context, pageSize int, pageToken string, includeDeleted bool) (storage.RecordPage, error) {
	if err := s.ready(ctx); err != nil {
		return storage.RecordPage{}, err
	}
	if pageSize <= 0 {
		return storage.RecordPage{}, fmt.Errorf("page size must be greater than zero")
	}
	after, err := pagination.DecodeCursor(pageToken)
	if err != nil {
		return storage.RecordPage{}, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+recordColumns+`
FROM records
WHERE consumed = 0
AND seq > ?
AND (? = 1 OR deleted = 0)
ORDER BY seq ASC
LIMIT ?
`, after, boolToInt(includeDeleted), pageSize+1)
	if err != nil {
		return storage.RecordPage{}, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	page := storage.RecordPage{Records: make([]storage.StoredRecord, 0, pageSize)}
	for rows.Next() {
		stored, err := scanRecord(rows.Scan)
		if err != nil {
			return storage.RecordPage{}, fmt.Errorf("scan record: %w", err)
		}
		page.Records = append(page.Records, stored)
	}
	if err := rows.Err(); err != nil {
		return storage.RecordPage{}, fmt.Errorf("iterate records: %w", err)
	}
	if len(page.Records) > pageSize {
		page.Records = page.Records[:pageSize]
		page.NextPageToken = pagination.EncodeCursor(page.Records[pageSize-1].Seq)
	}
	return page, nil
}

// History returns every version of id, oldest first. Versions are ordered
// along the chain of consuming transactions, so a node that received them out
// of order reports the same history as its peers.
func (s *Store) History(ctx context.Context, id string) ([]storage.StoredRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+recordColumns+`, consumed_by
FROM records
WHERE record_id = ?
ORDER BY seq ASC
`, strings.TrimSpace(id))
	if err != nil {
		return nil, fmt.Errorf("record history: %w", err)
	}
	defer rows.Close()

	var (
		history    []storage.StoredRecord
		consumedBy []string
	)
	for rows.Next() {
		var by string
		stored, err := scanRecord(func(dest ...any) error {
			return rows.Scan(append(dest, &by)...)
		})
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		history = append(history, stored)
		consumedBy = append(consumedBy, by)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	if len(history) == 0 {
		return nil, storage.ErrNotFound
	}
	return chainOrder(history, consumedBy), nil
}

// chainOrder walks from the version no other version was consumed into,
// following consumed_by to the transaction that produced the next one.
// Anything the walk misses keeps its commit order at the end.
func chainOrder(history []storage.StoredRecord, consumedBy []string) []storage.StoredRecord {
	producedBy := make(map[string]int, len(history))
	for i, stored := range history {
		if _, ok := producedBy[stored.TransactionID]; !ok {
			producedBy[stored.TransactionID] = i
		}
	}
	hasParent := make([]bool, len(history))
	for _, by := range consumedBy {
		if i, ok := producedBy[by]; ok && by != "" {
			hasParent[i] = true
		}
	}

	ordered := make([]storage.StoredRecord, 0, len(history))
	visited := make([]bool, len(history))
	for root := range history {
		if hasParent[root] || visited[root] {
			continue
		}
		for i, ok := root, true; ok && !visited[i]; i, ok = producedBy[consumedBy[i]] {
			visited[i] = true
			ordered = append(ordered, history[i])
		}
	}
	for i, stored := range history {
		if !visited[i] {
			ordered = append(ordered, stored)
		}
	}
	return ordered
}
