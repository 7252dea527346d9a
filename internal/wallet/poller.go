package wallet

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the terminal (or abandoned) result of a polling run.
type State int

const (
	StateSigned State = iota
	StateCancelled
	StateExpired
	StateTimedOut
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateSigned:
		return "signed"
	case StateCancelled:
		return "cancelled"
	case StateExpired:
		return "expired"
	case StateTimedOut:
		return "timed_out"
	default:
		return "abandoned"
	}
}

// Result of a completed polling run.
type Result struct {
	State         State
	SignerAccount string
	TxID          string
	Attempts      int
}

// Source is the status side of the authorization service.
type Source interface {
	Status(ctx context.Context, payloadID string) (*PayloadStatus, error)
}

// Guard reports the identifier the system currently considers pending.
// The poller compares it before every tick; a mismatch means this run has
// been superseded or cancelled and must stop without a terminal result.
type Guard func(ctx context.Context) (string, error)

// Poller drives a single payload through the polling state machine. Ticks
// are strictly sequential: the next one is scheduled only after the previous
// response (or its transport error) has been handled, so there is never more
// than one in-flight status request per payload.
type Poller struct {
	source       Source
	guard        Guard
	maxAttempts  int
	interval     time.Duration
	initialDelay time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	log          logrus.FieldLogger
}

func NewPoller(source Source, guard Guard, maxAttempts int, interval, initialDelay time.Duration, log logrus.FieldLogger) *Poller {
	return &Poller{
		source:       source,
		guard:        guard,
		maxAttempts:  maxAttempts,
		interval:     interval,
		initialDelay: initialDelay,
		sleep:        sleepCtx,
		log:          log,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run polls until the payload resolves, the attempt budget runs out, the
// guard reports a different identifier, or ctx is cancelled. It returns
// exactly once; ctx cancellation surfaces as the context error with a nil
// result and must be treated as abandonment by the caller.
//
// Transport errors and pending reads both consume attempt budget, so a
// persistently failing service still times out; resolution on the final
// allowed attempt still wins.
func (p *Poller) Run(ctx context.Context, payloadID string) (*Result, error) {
	log := p.log.WithField("payload_id", payloadID)
	delay := p.initialDelay

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := p.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay = p.interval

		current, err := p.guard(ctx)
		if err != nil {
			// Treat a failed slot read like a transport hiccup: burn the
			// attempt and keep going rather than risk a lost callback.
			log.WithError(err).Warn("pending-slot read failed")
			continue
		}
		if current != payloadID {
			log.Info("payload superseded or cancelled, abandoning poll")
			return &Result{State: StateAbandoned, Attempts: attempt}, nil
		}

		status, err := p.source.Status(ctx, payloadID)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("status check failed, will retry")
			continue
		}

		if !status.Resolved {
			continue
		}

		res := &Result{Attempts: attempt, SignerAccount: status.SignerAccount, TxID: status.TxID}
		switch status.Outcome {
		case OutcomeSigned:
			res.State = StateSigned
		case OutcomeCancelled:
			res.State = StateCancelled
		case OutcomeExpired:
			res.State = StateExpired
		default:
			// resolved with no recognizable outcome; keep polling
			continue
		}
		log.WithFields(logrus.Fields{"state": res.State.String(), "attempts": attempt}).Info("payload resolved")
		return res, nil
	}

	log.WithField("attempts", p.maxAttempts).Warn("polling budget exhausted")
	return &Result{State: StateTimedOut, Attempts: p.maxAttempts}, nil
}
