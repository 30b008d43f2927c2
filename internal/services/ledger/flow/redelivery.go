package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/covenant/internal/services/ledger/storage"
)

const (
	defaultRedeliveryBatch       = 16
	defaultRedeliveryMaxAttempts = 8
	defaultRedeliveryBaseDelay   = time.Second
	defaultRedeliveryMaxDelay    = 5 * time.Minute
)

// Deliverer hands a finalized transaction to one party.
type Deliverer interface {
	Deliver(ctx context.Context, party record.PartyID, tx transaction.Transaction) error
}

// Redeliverer retries finality deliveries the finalizer could not complete.
type Redeliverer struct {
	Records     storage.RecordStore
	Outbox      storage.OutboxStore
	Deliverer   Deliverer
	BatchSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Now         func() time.Time
	Logf        func(string, ...any)
}

// Run polls the outbox every interval until ctx is canceled.
func (r Redeliverer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("redelivery interval must be greater than zero")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logf("redelivery pass: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce attempts every due delivery and returns how many succeeded.
func (r Redeliverer) RunOnce(ctx context.Context) (int, error) {
	now := r.now()
	due, err := r.Outbox.DueDeliveries(ctx, now, r.batchSize())
	if err != nil {
		return 0, fmt.Errorf("load due deliveries: %w", err)
	}
	delivered := 0
	for _, delivery := range due {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		ok, err := r.attempt(ctx, delivery)
		if err != nil {
			return delivered, err
		}
		if ok {
			delivered++
		}
	}
	return delivered, nil
}

func (r Redeliverer) attempt(ctx context.Context, delivery storage.Delivery) (bool, error) {
	tx, err := r.Records.GetTransaction(ctx, delivery.TransactionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, r.Outbox.MarkDead(ctx, delivery.ID, "transaction not found", r.now())
		}
		return false, fmt.Errorf("load transaction %s: %w", delivery.TransactionID, err)
	}

	deliverErr := r.Deliverer.Deliver(ctx, delivery.Party, tx)
	if deliverErr == nil {
		r.logf("redelivered %s to %s", tx.ID, delivery.Party)
		return true, r.Outbox.MarkDelivered(ctx, delivery.ID, r.now())
	}

	attempt := delivery.AttemptCount + 1
	if apperrors.HasCode(deliverErr, apperrors.CodeCounterpartyRejected) {
		r.logf("%s refused %s: %v", delivery.Party, tx.ID, deliverErr)
		return false, r.Outbox.MarkDead(ctx, delivery.ID, deliverErr.Error(), r.now())
	}
	if attempt >= r.maxAttempts() {
		r.logf("giving up on %s for %s after %d attempts: %v", tx.ID, delivery.Party, attempt, deliverErr)
		return false, r.Outbox.MarkDead(ctx, delivery.ID, deliverErr.Error(), r.now())
	}
	next := r.now().Add(r.retryDelay(attempt))
	return false, r.Outbox.MarkRetry(ctx, delivery.ID, next, deliverErr.Error())
}

// retryDelay doubles from BaseDelay per attempt, capped at MaxDelay. The
// schedule is replayed from a fresh policy because the attempt count lives
// in the outbox row.
func (r Redeliverer) retryDelay(attempt int) time.Duration {
	base := r.BaseDelay
	if base <= 0 {
		base = defaultRedeliveryBaseDelay
	}
	limit := r.MaxDelay
	if limit <= 0 {
		limit = defaultRedeliveryMaxDelay
	}
	policy := &backoff.ExponentialBackOff{
		InitialInterval: base,
		Multiplier:      2,
		MaxInterval:     limit,
	}
	policy.Reset()
	delay := policy.NextBackOff()
	for i := 1; i < attempt && delay < limit; i++ {
		delay = policy.NextBackOff()
	}
	return min(delay, limit)
}

func (r Redeliverer) batchSize() int {
	if r.BatchSize <= 0 {
		return defaultRedeliveryBatch
	}
	return r.BatchSize
}

func (r Redeliverer) maxAttempts() int {
	if r.MaxAttempts <= 0 {
		return defaultRedeliveryMaxAttempts
	}
	return r.MaxAttempts
}

func (r Redeliverer) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func (r Redeliverer) logf(format string, args ...any) {
	logfOrDefault(r.Logf)(format, args...)
}
