// Package escrow records signed funding payments against loans. The signing
// already moved funds on-ledger by the time this code runs, so bookkeeping
// failures are surfaced as reconciliation cases, never as payment failures.
package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrReconciliationRequired means a signed payment could not be recorded.
// The funds movement may have succeeded externally; callers must not report
// the payment itself as failed.
var ErrReconciliationRequired = errors.New("escrow: contribution recording failed, reconciliation required")

// Publisher is the reconciliation-queue side; awsx.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, messageBody string, attributes map[string]string) error
}

// Materializer records exactly one contribution per signed payment.
type Materializer struct {
	store     *Store
	reconcile Publisher
	log       logrus.FieldLogger
}

func NewMaterializer(store *Store, reconcile Publisher, log logrus.FieldLogger) *Materializer {
	return &Materializer{store: store, reconcile: reconcile, log: log}
}

// RecordContribution writes the contribution row and updates the loan's
// funded total. Idempotent by the signed reference: replays of an already
// recorded payment succeed without double-counting. Any persistent failure
// is queued for reconciliation and returned as ErrReconciliationRequired.
func (m *Materializer) RecordContribution(ctx context.Context, p ContributionParams) error {
	if p.SignedReference == "" {
		return fmt.Errorf("escrow: missing signed reference")
	}
	if p.Amount <= 0 {
		return fmt.Errorf("escrow: amount must be positive")
	}
	log := m.log.WithFields(logrus.Fields{
		"loan_id":   p.LoanID,
		"funder_id": p.FunderID,
		"txid":      p.SignedReference,
	})

	created, err := m.store.CreateIfNotExists(ctx, p)
	if err != nil {
		return m.fail(ctx, log, p, err)
	}
	if !created {
		existing, err := m.store.Get(ctx, p.SignedReference)
		if err != nil {
			return m.fail(ctx, log, p, err)
		}
		if existing != nil && existing.Status == StatusRecorded {
			log.Info("contribution already recorded")
			return nil
		}
		// row exists but bookkeeping was interrupted; finish it below
		log.Warn("resuming interrupted contribution bookkeeping")
	}

	if err := m.store.Finalize(ctx, p); err != nil {
		if errors.Is(err, ErrAlreadyRecorded) {
			return nil
		}
		return m.fail(ctx, log, p, err)
	}

	log.WithField("amount", p.Amount).Info("contribution recorded")
	return nil
}

func (m *Materializer) fail(ctx context.Context, log logrus.FieldLogger, p ContributionParams, cause error) error {
	log.WithError(cause).Error("contribution bookkeeping failed, queueing reconciliation")

	event := ReconcileEvent{
		LoanID:   p.LoanID,
		FunderID: p.FunderID,
		Amount:   p.Amount,
		TxID:     p.SignedReference,
		Reason:   cause.Error(),
	}
	body, err := json.Marshal(event)
	if err == nil && m.reconcile != nil {
		// fire and forget; reconciliation failing to enqueue still leaves
		// the error in the logs above
		if pubErr := m.reconcile.Publish(ctx, string(body), map[string]string{"txid": p.SignedReference}); pubErr != nil {
			log.WithError(pubErr).Error("failed to enqueue reconciliation event")
		}
	}

	return fmt.Errorf("%w: %v", ErrReconciliationRequired, cause)
}
