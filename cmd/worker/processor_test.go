package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"github.com/ripplefund/payflow/internal/escrow"
)

type fakeRecorder struct {
	calls []escrow.ContributionParams
	err   error
}

func (f *fakeRecorder) RecordContribution(ctx context.Context, p escrow.ContributionParams) error {
	f.calls = append(f.calls, p)
	return f.err
}

func newTestProcessor(rec *fakeRecorder) *Processor {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewProcessor(rec, log)
}

func sqsEvent(t *testing.T, bodies ...interface{}) events.SQSEvent {
	t.Helper()
	var ev events.SQSEvent
	for _, b := range bodies {
		body, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		ev.Records = append(ev.Records, events.SQSMessage{Body: string(body)})
	}
	return ev
}

func TestProcessor_ReplaysContribution(t *testing.T) {
	rec := &fakeRecorder{}
	p := newTestProcessor(rec)

	ev := sqsEvent(t, escrow.ReconcileEvent{
		LoanID: "loan-1", FunderID: "user-1", Amount: 25, TxID: "ABC123",
	})
	if err := p.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("expected one replay, got %d", len(rec.calls))
	}
	got := rec.calls[0]
	if got.LoanID != "loan-1" || got.FunderID != "user-1" || got.Amount != 25 || got.SignedReference != "ABC123" {
		t.Fatalf("replay params wrong: %+v", got)
	}
}

func TestProcessor_BatchStopsOnFirstFailure(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("table down")}
	p := newTestProcessor(rec)

	ev := sqsEvent(t,
		escrow.ReconcileEvent{LoanID: "loan-1", FunderID: "u1", Amount: 10, TxID: "T1"},
		escrow.ReconcileEvent{LoanID: "loan-2", FunderID: "u2", Amount: 20, TxID: "T2"},
	)
	if err := p.Handle(context.Background(), ev); err == nil {
		t.Fatal("expected error so the batch is redelivered")
	}
	if len(rec.calls) != 1 {
		t.Fatalf("expected processing to stop after the failure, got %d calls", len(rec.calls))
	}
}

func TestProcessor_RejectsMalformedBody(t *testing.T) {
	rec := &fakeRecorder{}
	p := newTestProcessor(rec)

	ev := events.SQSEvent{Records: []events.SQSMessage{{Body: "not json"}}}
	if err := p.Handle(context.Background(), ev); err == nil {
		t.Fatal("expected error for malformed body")
	}
	if len(rec.calls) != 0 {
		t.Fatalf("malformed body must not reach the recorder")
	}
}

func TestProcessor_RejectsEventWithoutTxID(t *testing.T) {
	rec := &fakeRecorder{}
	p := newTestProcessor(rec)

	ev := sqsEvent(t, escrow.ReconcileEvent{LoanID: "loan-1", FunderID: "u1", Amount: 10})
	if err := p.Handle(context.Background(), ev); err == nil {
		t.Fatal("expected error for missing txid")
	}
	if len(rec.calls) != 0 {
		t.Fatalf("event without txid must not reach the recorder")
	}
}
