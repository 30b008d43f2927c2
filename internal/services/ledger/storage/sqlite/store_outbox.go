package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/covenant/internal/platform/id"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/storage"
)

const deliveryColumns = `id, transaction_id, party, status, attempt_count, next_attempt_at, last_error, created_at, updated_at`

func scanDelivery(scan func(dest ...any) error) (storage.Delivery, error) {
	var (
		delivery      storage.Delivery
		party         string
		status        string
		nextAttemptAt int64
		createdAt     int64
		updatedAt     int64
	)
	if err := scan(
		&delivery.ID,
		&delivery.TransactionID,
		&party,
		&status,
		&delivery.AttemptCount,
		&nextAttemptAt,
		&delivery.LastError,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.Delivery{}, err
	}
	delivery.Party = record.PartyID(party)
	delivery.Status = storage.DeliveryStatus(status)
	delivery.NextAttemptAt = fromMillis(nextAttemptAt)
	delivery.CreatedAt = fromMillis(createdAt)
	delivery.UpdatedAt = fromMillis(updatedAt)
	return delivery, nil
}

// EnqueueDelivery stores a pending delivery unless one already exists for the
// same transaction and party.
func (s *Store) EnqueueDelivery(ctx context.Context, delivery storage.Delivery) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	delivery.TransactionID = strings.TrimSpace(delivery.TransactionID)
	if delivery.TransactionID == "" {
		return fmt.Errorf("transaction id is required")
	}
	if strings.TrimSpace(string(delivery.Party)) == "" {
		return fmt.Errorf("party is required")
	}
	if delivery.ID == "" {
		generated, err := id.NewID()
		if err != nil {
			return fmt.Errorf("generate delivery id: %w", err)
		}
		delivery.ID = generated
	}
	now := s.clock()
	if delivery.NextAttemptAt.IsZero() {
		delivery.NextAttemptAt = now
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO pending_deliveries (id, transaction_id, party, status, attempt_count, next_attempt_at, last_error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (transaction_id, party) DO NOTHING
`,
		delivery.ID,
		delivery.TransactionID,
		string(delivery.Party),
		storage.DeliveryStatusPending,
		delivery.AttemptCount,
		toMillis(delivery.NextAttemptAt),
		strings.TrimSpace(delivery.LastError),
		toMillis(now),
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("enqueue delivery: %w", err)
	}
	return nil
}

// DueDeliveries returns pending deliveries whose next attempt is at or before
// now, oldest first.
func (s *Store) DueDeliveries(ctx context.Context, now time.Time, limit int) ([]storage.Delivery, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if now.IsZero() {
		now = s.clock()
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+deliveryColumns+`
FROM pending_deliveries
WHERE status = ? AND next_attempt_at <= ?
ORDER BY next_attempt_at ASC, created_at ASC, id ASC
LIMIT ?
`, storage.DeliveryStatusPending, toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("select due deliveries: %w", err)
	}
	defer rows.Close()

	due := make([]storage.Delivery, 0, limit)
	for rows.Next() {
		delivery, err := scanDelivery(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		due = append(due, delivery)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return due, nil
}

// GetDelivery returns one delivery by id.
func (s *Store) GetDelivery(ctx context.Context, deliveryID string) (storage.Delivery, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Delivery{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM pending_deliveries WHERE id = ?`, deliveryID)
	delivery, err := scanDelivery(row.Scan)
	if err != nil {
		return storage.Delivery{}, wrapNotFound(err, "get delivery")
	}
	return delivery, nil
}

// MarkDelivered closes a pending delivery.
func (s *Store) MarkDelivered(ctx context.Context, deliveryID string, at time.Time) error {
	if at.IsZero() {
		at = s.clock()
	}
	return s.updatePending(ctx, deliveryID, "mark delivered", `
UPDATE pending_deliveries
SET status = ?, attempt_count = attempt_count + 1, last_error = '', updated_at = ?
WHERE id = ? AND status = ?
`, storage.DeliveryStatusDelivered, toMillis(at), deliveryID, storage.DeliveryStatusPending)
}

// MarkRetry records a failed attempt and schedules the next one.
func (s *Store) MarkRetry(ctx context.Context, deliveryID string, nextAttemptAt time.Time, lastError string) error {
	if nextAttemptAt.IsZero() {
		return fmt.Errorf("next attempt at is required")
	}
	return s.updatePending(ctx, deliveryID, "mark retry", `
UPDATE pending_deliveries
SET attempt_count = attempt_count + 1, next_attempt_at = ?, last_error = ?, updated_at = ?
WHERE id = ? AND status = ?
`, toMillis(nextAttemptAt), strings.TrimSpace(lastError), toMillis(s.clock()), deliveryID, storage.DeliveryStatusPending)
}

// MarkDead gives up on a delivery.
func (s *Store) MarkDead(ctx context.Context, deliveryID string, lastError string, at time.Time) error {
	if at.IsZero() {
		at = s.clock()
	}
	return s.updatePending(ctx, deliveryID, "mark dead", `
UPDATE pending_deliveries
SET status = ?, attempt_count = attempt_count + 1, last_error = ?, updated_at = ?
WHERE id = ? AND status = ?
`, storage.DeliveryStatusDead, strings.TrimSpace(lastError), toMillis(at), deliveryID, storage.DeliveryStatusPending)
}

func (s *Store) updatePending(ctx context.Context, deliveryID, op, query string, args ...any) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(deliveryID) == "" {
		return fmt.Errorf("delivery id is required")
	}
	result, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
