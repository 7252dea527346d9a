// Package flow coordinates the wallet payload lifecycle: create a signable
// request, persist the pending slot, poll until resolution, and hand the
// result to exactly one materializer. Terminal delivery is exactly-once even
// when a tick resolves concurrently with a cancellation.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ripplefund/payflow/internal/escrow"
	"github.com/ripplefund/payflow/internal/resume"
	"github.com/ripplefund/payflow/internal/session"
	"github.com/ripplefund/payflow/internal/wallet"
)

// Terminal and in-flight states reported by Status.
const (
	StatePolling           = "polling"
	StateSigned            = "signed"
	StateCancelled         = "cancelled"
	StateExpired           = "expired"
	StateTimedOut          = "timed_out"
	StateAbandoned         = "abandoned"
	StateFailed            = "failed"
	StateReconcileRequired = "reconciliation_required"
)

var (
	// ErrBusy means a payload is already pending; one at a time.
	ErrBusy = errors.New("flow: another payload is already pending")
	// ErrNoPendingPayload means Resume found an empty slot.
	ErrNoPendingPayload = errors.New("flow: no pending payload to resume")
	// ErrCancelled is the wallet-side rejection of the request.
	ErrCancelled = errors.New("flow: request cancelled in the wallet")
	// ErrExpired is the service-side expiry of the payload.
	ErrExpired = errors.New("flow: request expired")
	// ErrTimedOut is the local polling budget running out.
	ErrTimedOut = errors.New("flow: polling timed out")
	// ErrAbandoned means the flow was cancelled locally or superseded by a
	// newer request; no terminal handler ran.
	ErrAbandoned = errors.New("flow: abandoned")
	// ErrWalletUnavailable means the deep link could not be handed off.
	ErrWalletUnavailable = errors.New("flow: wallet app unavailable")
)

// PayloadCreator is the creation/invalidation side of the authorization
// service; wallet.Client satisfies it.
type PayloadCreator interface {
	CreateSignIn(ctx context.Context) (*wallet.PayloadRequest, error)
	CreatePayment(ctx context.Context, p wallet.PaymentParams) (*wallet.PayloadRequest, error)
	Invalidate(ctx context.Context, payloadID string) error
}

// SessionMaterializer resolves a signed wallet address to a session.
type SessionMaterializer interface {
	Materialize(ctx context.Context, walletAddress string) (*session.Session, error)
}

// ContributionRecorder records a signed funding payment.
type ContributionRecorder interface {
	RecordContribution(ctx context.Context, p escrow.ContributionParams) error
}

// Launcher opens a deep link in the companion wallet app. Open reports
// whether an external handler accepted the URI.
type Launcher interface {
	Open(uri string) (bool, error)
}

// OutcomeRecorder counts terminal resolutions; metrics.Emitter satisfies it.
type OutcomeRecorder interface {
	TerminalOutcome(ctx context.Context, kind, state string)
}

// FundingRequest describes a loan-funding payment to authorize. Amount is
// what gets recorded against the loan; AmountXRP is the on-ledger payment.
type FundingRequest struct {
	LoanID          string
	FunderID        string
	FunderAddress   string
	BorrowerAddress string
	Amount          float64
	AmountXRP       float64
}

// Config carries the polling parameters.
type Config struct {
	MaxAttempts  int
	Interval     time.Duration
	InitialDelay time.Duration
}

// Coordinator owns the single active flow. The resumption slot is the only
// shared state between the initiating side and the polling loop; an epoch
// counter lets stale callbacks self-identify as obsolete without relying on
// the storage comparison alone.
type Coordinator struct {
	mu      sync.Mutex
	epoch   uint64
	current *flowState

	creator  PayloadCreator
	poller   *wallet.Poller
	slot     resume.Store
	sessions SessionMaterializer
	escrow   ContributionRecorder
	launcher Launcher
	outcomes OutcomeRecorder
	log      logrus.FieldLogger
}

type flowState struct {
	epoch     uint64
	kind      resume.Kind
	payloadID string
	deepLink  string
	qrPayload string
	funding   *FundingRequest
	cancel    context.CancelFunc
	done      chan struct{}

	// guarded by Coordinator.mu until done is closed
	finished bool
	state    string
	session  *session.Session
	err      error
}

// Handle references a started flow. Wait blocks until terminal resolution.
type Handle struct {
	PayloadID string
	DeepLink  string
	QRPayload string
	Kind      resume.Kind

	fs *flowState
}

// Status is a point-in-time snapshot for the API surface.
type Status struct {
	Active    bool   `json:"active"`
	Kind      string `json:"kind,omitempty"`
	PayloadID string `json:"payload_id,omitempty"`
	DeepLink  string `json:"deep_link,omitempty"`
	QRPayload string `json:"qr_payload,omitempty"`
	State     string `json:"state,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func NewCoordinator(
	creator PayloadCreator,
	source wallet.Source,
	slot resume.Store,
	sessions SessionMaterializer,
	contributions ContributionRecorder,
	cfg Config,
	launcher Launcher,
	outcomes OutcomeRecorder,
	log logrus.FieldLogger,
) *Coordinator {
	c := &Coordinator{
		creator:  creator,
		slot:     slot,
		sessions: sessions,
		escrow:   contributions,
		launcher: launcher,
		outcomes: outcomes,
		log:      log,
	}
	guard := func(ctx context.Context) (string, error) {
		rec, err := slot.Get(ctx)
		if err != nil {
			return "", err
		}
		if rec == nil {
			return "", nil
		}
		return rec.PayloadID, nil
	}
	c.poller = wallet.NewPoller(source, guard, cfg.MaxAttempts, cfg.Interval, cfg.InitialDelay, log)
	return c
}

// StartSignIn runs the whole sign-in flow and blocks until it resolves to a
// session or a terminal error.
func (c *Coordinator) StartSignIn(ctx context.Context) (*session.Session, error) {
	h, err := c.BeginSignIn(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.Wait(ctx); err != nil {
		return nil, err
	}
	return h.Session()
}

// BeginSignIn creates the sign-in payload, persists the pending slot, hands
// the deep link to the launcher when one is configured, and starts polling
// in the background.
func (c *Coordinator) BeginSignIn(ctx context.Context) (*Handle, error) {
	if busy := c.isBusy(); busy {
		return nil, ErrBusy
	}
	req, err := c.creator.CreateSignIn(ctx)
	if err != nil {
		// total failure: no identifier, no polling
		return nil, err
	}
	rec := resume.Record{PayloadID: req.ID, Kind: resume.KindSignIn}
	return c.launch(ctx, req, rec, nil, true)
}

// StartPayment runs the whole funding flow and blocks until the contribution
// is recorded or the flow ends otherwise.
func (c *Coordinator) StartPayment(ctx context.Context, f FundingRequest) error {
	h, err := c.BeginPayment(ctx, f)
	if err != nil {
		return err
	}
	if err := h.Wait(ctx); err != nil {
		return err
	}
	return h.Err()
}

// BeginPayment creates the payment payload and starts polling. The deep link
// and QR payload on the handle are for the caller to present; payment flows
// do not go through the launcher.
func (c *Coordinator) BeginPayment(ctx context.Context, f FundingRequest) (*Handle, error) {
	if f.LoanID == "" || f.FunderID == "" {
		return nil, fmt.Errorf("flow: loan and funder are required")
	}
	if busy := c.isBusy(); busy {
		return nil, ErrBusy
	}
	req, err := c.creator.CreatePayment(ctx, wallet.PaymentParams{
		LoanID:        f.LoanID,
		FunderID:      f.FunderID,
		FunderAddress: f.FunderAddress,
		Destination:   f.BorrowerAddress,
		AmountXRP:     f.AmountXRP,
	})
	if err != nil {
		return nil, err
	}
	rec := resume.Record{
		PayloadID: req.ID,
		Kind:      resume.KindPayment,
		LoanID:    f.LoanID,
		FunderID:  f.FunderID,
		Amount:    f.Amount,
	}
	funding := f
	return c.launch(ctx, req, rec, &funding, false)
}

// Resume picks up the payload recorded in the slot, if any, and begins
// polling it without creating a new request.
func (c *Coordinator) Resume(ctx context.Context) (*Handle, error) {
	rec, err := c.slot.Get(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNoPendingPayload
	}

	c.mu.Lock()
	if c.current != nil && !c.current.finished {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.epoch++
	runCtx, cancel := context.WithCancel(context.Background())
	fs := &flowState{
		epoch:     c.epoch,
		kind:      rec.Kind,
		payloadID: rec.PayloadID,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StatePolling,
	}
	if rec.Kind == resume.KindPayment {
		fs.funding = &FundingRequest{LoanID: rec.LoanID, FunderID: rec.FunderID, Amount: rec.Amount}
	}
	c.current = fs
	c.mu.Unlock()

	c.log.WithField("payload_id", rec.PayloadID).Info("resuming pending payload")
	go c.run(runCtx, fs)
	return &Handle{PayloadID: fs.payloadID, Kind: fs.kind, fs: fs}, nil
}

// Cancel abandons the active flow: the slot is cleared, the payload is
// invalidated server-side best effort, and any in-flight tick will find the
// epoch and slot stale and stop without firing a terminal handler.
func (c *Coordinator) Cancel(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	fs := c.current
	var payloadID string
	if fs != nil && !fs.finished {
		fs.finished = true
		fs.state = StateAbandoned
		fs.err = ErrAbandoned
		payloadID = fs.payloadID
		fs.cancel()
		close(fs.done)
	}
	c.mu.Unlock()

	if err := c.slot.Clear(ctx); err != nil {
		return fmt.Errorf("flow: clear pending slot: %w", err)
	}
	if payloadID != "" {
		go c.invalidatePayload(payloadID)
	}
	return nil
}

// Status reports the current (or most recent) flow.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs := c.current
	if fs == nil {
		return Status{}
	}
	st := Status{
		Active:    !fs.finished,
		Kind:      string(fs.kind),
		PayloadID: fs.payloadID,
		DeepLink:  fs.deepLink,
		QRPayload: fs.qrPayload,
		State:     fs.state,
	}
	if fs.session != nil {
		st.UserID = fs.session.UserID
	}
	if fs.err != nil {
		st.Error = fs.err.Error()
	}
	return st
}

func (c *Coordinator) isBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && !c.current.finished
}

func (c *Coordinator) launch(ctx context.Context, req *wallet.PayloadRequest, rec resume.Record, funding *FundingRequest, useLauncher bool) (*Handle, error) {
	c.mu.Lock()
	if c.current != nil && !c.current.finished {
		c.mu.Unlock()
		go c.invalidatePayload(req.ID)
		return nil, ErrBusy
	}
	c.epoch++
	runCtx, cancel := context.WithCancel(context.Background())
	fs := &flowState{
		epoch:     c.epoch,
		kind:      rec.Kind,
		payloadID: req.ID,
		deepLink:  req.DeepLink,
		qrPayload: req.QRPayload,
		funding:   funding,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StatePolling,
	}
	c.current = fs
	c.mu.Unlock()

	if err := c.slot.Set(ctx, rec); err != nil {
		wrapped := fmt.Errorf("flow: persist pending payload: %w", err)
		go c.invalidatePayload(req.ID)
		c.abort(fs, StateFailed, wrapped)
		return nil, wrapped
	}

	if useLauncher && c.launcher != nil {
		opened, err := c.launcher.Open(req.DeepLink)
		if err != nil || !opened {
			_, _ = c.slot.CompareAndClear(ctx, req.ID)
			go c.invalidatePayload(req.ID)
			c.abort(fs, StateFailed, ErrWalletUnavailable)
			return nil, ErrWalletUnavailable
		}
	}

	go c.run(runCtx, fs)
	return &Handle{
		PayloadID: req.ID,
		DeepLink:  req.DeepLink,
		QRPayload: req.QRPayload,
		Kind:      rec.Kind,
		fs:        fs,
	}, nil
}

// abort finishes a flow that never reached polling.
func (c *Coordinator) abort(fs *flowState, state string, err error) {
	fs.cancel()
	c.mu.Lock()
	if !fs.finished {
		fs.finished = true
		fs.state = state
		fs.err = err
		close(fs.done)
	}
	c.mu.Unlock()
}

func (c *Coordinator) run(ctx context.Context, fs *flowState) {
	res, err := c.poller.Run(ctx, fs.payloadID)
	if err != nil || res.State == wallet.StateAbandoned {
		// superseded or cancelled while polling: no terminal handler
		c.mu.Lock()
		if !fs.finished {
			fs.finished = true
			fs.state = StateAbandoned
			fs.err = ErrAbandoned
			close(fs.done)
		}
		c.mu.Unlock()
		return
	}

	// claim the terminal handler exactly once
	c.mu.Lock()
	if fs.finished || fs.epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	fs.finished = true
	c.mu.Unlock()

	// every exit path clears the slot exactly once; CompareAndClear keeps a
	// newer request's slot intact
	clearCtx, cancelClear := context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := c.slot.CompareAndClear(clearCtx, fs.payloadID); err != nil {
		c.log.WithError(err).Warn("failed to clear pending slot")
	}
	cancelClear()

	// materialization makes its own auth and storage round-trips, and on
	// failure enqueues reconciliation; it gets a fresh budget so a slow
	// dependency cannot starve the enqueue
	matCtx, cancelMat := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelMat()
	state, sess, terminalErr := c.materialize(matCtx, fs, res)

	if c.outcomes != nil {
		c.outcomes.TerminalOutcome(matCtx, string(fs.kind), state)
	}

	c.mu.Lock()
	fs.state = state
	fs.session = sess
	fs.err = terminalErr
	close(fs.done)
	c.mu.Unlock()
}

func (c *Coordinator) materialize(ctx context.Context, fs *flowState, res *wallet.Result) (string, *session.Session, error) {
	switch res.State {
	case wallet.StateSigned:
		if fs.kind == resume.KindSignIn {
			sess, err := c.sessions.Materialize(ctx, res.SignerAccount)
			if err != nil {
				return StateFailed, nil, err
			}
			return StateSigned, sess, nil
		}
		params := escrow.ContributionParams{SignedReference: res.TxID}
		if fs.funding != nil {
			params.LoanID = fs.funding.LoanID
			params.FunderID = fs.funding.FunderID
			params.Amount = fs.funding.Amount
		}
		if err := c.escrow.RecordContribution(ctx, params); err != nil {
			if errors.Is(err, escrow.ErrReconciliationRequired) {
				return StateReconcileRequired, nil, err
			}
			return StateFailed, nil, err
		}
		return StateSigned, nil, nil
	case wallet.StateCancelled:
		return StateCancelled, nil, ErrCancelled
	case wallet.StateExpired:
		return StateExpired, nil, ErrExpired
	default:
		return StateTimedOut, nil, ErrTimedOut
	}
}

func (c *Coordinator) invalidatePayload(payloadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.creator.Invalidate(ctx, payloadID); err != nil {
		// fire and forget; local cleanup already happened
		c.log.WithError(err).WithField("payload_id", payloadID).Debug("payload invalidate failed")
	}
}

// Wait blocks until the flow resolves or ctx is done. The flow keeps
// polling in the background if ctx expires first.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.fs.done:
		return nil
	}
}

// Err returns the terminal error, if any. Valid after Wait returns nil.
func (h *Handle) Err() error {
	select {
	case <-h.fs.done:
		return h.fs.err
	default:
		return fmt.Errorf("flow: still in flight")
	}
}

// Session returns the materialized session for a signed sign-in flow.
func (h *Handle) Session() (*session.Session, error) {
	select {
	case <-h.fs.done:
	default:
		return nil, fmt.Errorf("flow: still in flight")
	}
	if h.fs.err != nil {
		return nil, h.fs.err
	}
	if h.fs.session == nil {
		return nil, fmt.Errorf("flow: no session materialized")
	}
	return h.fs.session, nil
}
