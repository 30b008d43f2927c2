package flow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
	"github.com/louisbranch/covenant/internal/platform/timeouts"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/proposal"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/covenant/internal/services/ledger/identity"
	"github.com/louisbranch/covenant/internal/services/ledger/storage"
)

const tracerName = "github.com/louisbranch/covenant/internal/services/ledger/flow"

// DeliveryQueue accepts deliveries for the redelivery loop.
type DeliveryQueue interface {
	EnqueueDelivery(ctx context.Context, delivery storage.Delivery) error
}

// Outcome describes a transaction finalized on this node.
type Outcome struct {
	Transaction transaction.Transaction
	// Pending lists parties queued for redelivery.
	Pending []record.PartyID
	Phases  []transaction.Phase
}

// Coordinator is the command surface of a node. Each call drives one
// transaction from intent to local finality.
type Coordinator struct {
	Self        identity.Self
	Builder     proposal.Builder
	Collector   Collector
	Authority   Authority
	Attestation AuthorityVerifier
	Finalizer   Finalizer
	Outbox      DeliveryQueue
	Locks       *Locks
	// Observers receive every finalized transaction without signing it.
	Observers       []record.PartyID
	NotarizeTimeout time.Duration
	Tracer          trace.Tracer
	Logf            func(string, ...any)

	owners atomic.Uint64
}

// Create issues a new record shared by participants.
func (c *Coordinator) Create(ctx context.Context, payload record.Payload, participants ...record.PartyID) (Outcome, error) {
	return c.Submit(ctx, transaction.Create(payload, participants...))
}

// Update replaces the payload of a record.
func (c *Coordinator) Update(ctx context.Context, id string, payload record.Payload) (Outcome, error) {
	return c.Submit(ctx, transaction.Update(id, payload))
}

// UpdateName changes only the name of a record.
func (c *Coordinator) UpdateName(ctx context.Context, id, name string) (Outcome, error) {
	return c.Submit(ctx, transaction.UpdateName(id, name))
}

// Delete marks a record deleted.
func (c *Coordinator) Delete(ctx context.Context, id string) (Outcome, error) {
	return c.Submit(ctx, transaction.Delete(id))
}

// Submit runs intent through the full protocol. It returns once the
// transaction is committed locally; parties that could not be reached are
// listed in Outcome.Pending.
func (c *Coordinator) Submit(ctx context.Context, intent transaction.Intent) (Outcome, error) {
	ctx, span := c.tracer().Start(ctx, "ledger.submit", trace.WithAttributes(
		attribute.String("ledger.command", string(intent.Command)),
		attribute.String("ledger.record_id", intent.RecordID),
		attribute.String("ledger.party", string(c.Self.ID)),
	))
	defer span.End()

	outcome, err := c.submit(ctx, span, intent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, string(apperrors.CodeOf(err)))
	}
	return outcome, err
}

func (c *Coordinator) submit(ctx context.Context, span trace.Span, intent transaction.Intent) (Outcome, error) {
	tracker := transaction.NewTracker(func(from, to transaction.Phase) {
		span.AddEvent("ledger.phase", trace.WithAttributes(
			attribute.String("ledger.phase.from", string(from)),
			attribute.String("ledger.phase.to", string(to)),
		))
	})
	owner := "submit-" + strconv.FormatUint(c.owners.Add(1), 10)
	var held []string
	defer func() {
		c.Locks.Release(owner, held...)
	}()

	if intent.Command != transaction.CommandCreate {
		if id := strings.TrimSpace(intent.RecordID); id != "" {
			if !c.Locks.TryAcquire(owner, id) {
				_ = tracker.Advance(transaction.PhaseRejected)
				return Outcome{}, inFlightError(id)
			}
			held = append(held, id)
		}
	}

	draft, err := c.Builder.Propose(ctx, intent)
	if err != nil {
		_ = tracker.Advance(transaction.PhaseRejected)
		return Outcome{}, err
	}
	for _, out := range draft.Body.Outputs {
		if slices.Contains(held, out.ID) {
			continue
		}
		if !c.Locks.TryAcquire(owner, out.ID) {
			_ = tracker.Advance(transaction.PhaseRejected)
			return Outcome{}, inFlightError(out.ID)
		}
		held = append(held, out.ID)
	}
	span.SetAttributes(attribute.String("ledger.transaction_id", draft.ID))

	if err := draft.Sign(c.Self.ID, c.Self.PrivateKey); err != nil {
		return Outcome{}, fmt.Errorf("sign draft: %w", err)
	}
	if err := tracker.Advance(transaction.PhaseLocallySigned); err != nil {
		return Outcome{}, err
	}

	signed := draft
	var sessions []Session
	if len(record.Without(draft.Body.RequiredSigners, c.Self.ID)) > 0 {
		if err := tracker.Advance(transaction.PhaseCollecting); err != nil {
			return Outcome{}, err
		}
		signed, sessions, err = c.Collector.Collect(ctx, draft)
		if err != nil {
			phase := transaction.PhaseRejected
			if apperrors.HasCode(err, apperrors.CodeSessionTimeout) {
				phase = transaction.PhaseTimedOut
			}
			_ = tracker.Advance(phase)
			return Outcome{}, err
		}
	}
	defer closeSessions(sessions)
	if !signed.FullySigned() {
		return Outcome{}, fmt.Errorf("transaction %s is missing signatures from %v", signed.ID, signed.MissingSigners())
	}
	if err := tracker.Advance(transaction.PhaseFullySigned); err != nil {
		return Outcome{}, err
	}

	token, err := c.notarize(ctx, signed)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotaryConflict) {
			_ = tracker.Advance(transaction.PhaseConflict)
		}
		return Outcome{}, err
	}
	signed.AuthoritySignature = token
	if err := tracker.Advance(transaction.PhaseNotarized); err != nil {
		return Outcome{}, err
	}

	err = c.Finalizer.Finalize(ctx, signed, sessions, c.Observers)
	if err != nil && !apperrors.CodeOf(err).Retryable() {
		return Outcome{}, err
	}
	var propagation *PropagationError
	errors.As(err, &propagation)
	if err := tracker.Advance(transaction.PhaseFinalized); err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{Transaction: signed, Phases: tracker.History()}
	if propagation != nil {
		outcome.Pending = propagation.Parties
		span.AddEvent("ledger.propagation_pending", trace.WithAttributes(
			attribute.Int("ledger.pending_parties", len(propagation.Parties)),
		))
		c.enqueue(ctx, signed.ID, propagation)
	}
	return outcome, nil
}

func (c *Coordinator) notarize(ctx context.Context, tx transaction.Transaction) (string, error) {
	timeout := c.NotarizeTimeout
	if timeout <= 0 {
		timeout = timeouts.Notarize
	}
	notarizeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	token, err := c.Authority.Notarize(notarizeCtx, tx, c.Self.ID)
	if err != nil {
		return "", err
	}
	if c.Attestation != nil {
		if _, err := c.Attestation.Verify(token, tx.ID, InputStrings(tx)); err != nil {
			return "", err
		}
	}
	return token, nil
}

func (c *Coordinator) enqueue(ctx context.Context, txID string, propagation *PropagationError) {
	logf := logfOrDefault(c.Logf)
	for _, party := range propagation.Parties {
		logf("transaction %s not delivered to %s: %v", txID, party, propagation.Causes[party])
		if c.Outbox == nil {
			continue
		}
		delivery := storage.Delivery{
			TransactionID: txID,
			Party:         party,
			LastError:     errorText(propagation.Causes[party]),
		}
		if err := c.Outbox.EnqueueDelivery(context.WithoutCancel(ctx), delivery); err != nil {
			logf("queue delivery of %s to %s: %v", txID, party, err)
		}
	}
}

func (c *Coordinator) tracer() trace.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return otel.Tracer(tracerName)
}

func inFlightError(id string) error {
	return apperrors.WithMetadata(
		apperrors.CodeAlreadyConsumed,
		"record has another transaction in flight",
		map[string]string{"RecordID": id},
	)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
