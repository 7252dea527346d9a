package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"github.com/ripplefund/payflow/internal/escrow"
)

// Recorder is the replayable side of the escrow materializer.
type Recorder interface {
	RecordContribution(ctx context.Context, p escrow.ContributionParams) error
}

// Processor replays reconciliation events. Each event names a signed payment
// whose bookkeeping did not complete; RecordContribution is idempotent on the
// transaction hash, so replays of already-recorded payments are no-ops.
type Processor struct {
	recorder Recorder
	log      logrus.FieldLogger
}

func NewProcessor(recorder Recorder, log logrus.FieldLogger) *Processor {
	return &Processor{recorder: recorder, log: log}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			p.log.WithError(err).Error("reconcile worker error")
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var ev escrow.ReconcileEvent
	if err := json.Unmarshal([]byte(rec.Body), &ev); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if ev.TxID == "" {
		return fmt.Errorf("reconcile event without txid: %s", rec.Body)
	}

	log := p.log.WithFields(logrus.Fields{
		"loan_id":   ev.LoanID,
		"funder_id": ev.FunderID,
		"txid":      ev.TxID,
	})
	log.Info("replaying contribution bookkeeping")

	err := p.recorder.RecordContribution(ctx, escrow.ContributionParams{
		LoanID:          ev.LoanID,
		FunderID:        ev.FunderID,
		Amount:          ev.Amount,
		SignedReference: ev.TxID,
	})
	if err != nil {
		// SQS redelivery is the retry mechanism here; the recorder is wired
		// without a publisher so a failed replay does not enqueue a duplicate
		return fmt.Errorf("replay contribution txid=%s: %w", ev.TxID, err)
	}

	log.Info("contribution reconciled")
	return nil
}
