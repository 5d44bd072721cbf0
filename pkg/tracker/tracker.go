// Package tracker submits signed transactions and follows them to a final
// outcome: confirmed at the requested commitment, rejected with a reason, or
// timed out with the status unknown.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/votesphere/pkg/clienterr"
	"github.com/yourusername/votesphere/pkg/logging"
	"github.com/yourusername/votesphere/pkg/metrics"
	"github.com/yourusername/votesphere/pkg/retry"
	"github.com/yourusername/votesphere/pkg/rpc"
	"github.com/yourusername/votesphere/pkg/txn"
)

// Ledger is the part of the RPC surface the tracker needs
type Ledger interface {
	SendTransaction(ctx context.Context, raw []byte, opts rpc.SendOptions) (txn.Signature, error)
	GetSignatureStatuses(ctx context.Context, sigs ...txn.Signature) ([]*rpc.SignatureStatus, error)
}

// Subscriber pushes signature confirmations; it shortens the wait but the
// tracker keeps polling regardless.
type Subscriber interface {
	SubscribeSignature(ctx context.Context, sig txn.Signature, commitment rpc.Commitment) (<-chan rpc.SignatureNotification, error)
}

// Status is the final or current state of a submission
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusTimedOut  Status = "timed_out"
)

// Receipt identifies a submitted transaction
type Receipt struct {
	Signature   txn.Signature
	SubmittedAt time.Time
}

// Outcome is what Confirm observed
type Outcome struct {
	Signature txn.Signature
	Status    Status
	Reason    Reason
	Slot      uint64
}

// Err returns nil for a confirmed outcome and the classified error otherwise
func (o Outcome) Err(op string) error {
	switch o.Status {
	case StatusConfirmed:
		return nil
	case StatusRejected:
		return ReasonError(op, o.Reason, o.Signature.String(), nil)
	default:
		return clienterr.Timeout(op, o.Signature.String())
	}
}

// Config configures a Tracker
type Config struct {
	// Commitment a status must reach to count as confirmed
	Commitment   rpc.Commitment
	PollInterval time.Duration
	MaxWait      time.Duration
	// SendRetry applies to transient failures of the send step only
	SendRetry     retry.Policy
	SkipPreflight bool
	// ProgramReasons names program-specific custom error codes
	ProgramReasons map[uint32]Reason
}

// DefaultConfig returns the tracker defaults
func DefaultConfig() Config {
	return Config{
		Commitment:   rpc.CommitmentConfirmed,
		PollInterval: 2 * time.Second,
		MaxWait:      60 * time.Second,
		SendRetry:    retry.DefaultPolicy(),
	}
}

// Tracker submits and confirms transactions
type Tracker struct {
	ledger  Ledger
	sub     Subscriber
	cfg     Config
	log     logrus.FieldLogger
	metrics *metrics.Collector
}

// New creates a tracker. sub may be nil.
func New(ledger Ledger, sub Subscriber, cfg Config, log logrus.FieldLogger, m *metrics.Collector) *Tracker {
	def := DefaultConfig()
	if cfg.Commitment == "" {
		cfg.Commitment = def.Commitment
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	return &Tracker{
		ledger:  ledger,
		sub:     sub,
		cfg:     cfg,
		log:     logging.OrDiscard(log).WithField("component", "tracker"),
		metrics: m,
	}
}

// Submit sends a signed transaction. Only transport failures are retried;
// a preflight rejection is returned classified, and is final.
func (t *Tracker) Submit(ctx context.Context, tx *txn.Transaction) (Receipt, error) {
	raw, err := tx.Serialize()
	if err != nil {
		return Receipt{}, fmt.Errorf("serialize transaction: %w", err)
	}
	sig := tx.Signature()
	log := t.log.WithField("signature", sig.String())

	opts := rpc.SendOptions{SkipPreflight: t.cfg.SkipPreflight, PreflightCommitment: t.cfg.Commitment}
	err = retry.Do(ctx, t.cfg.SendRetry, clienterr.Retryable, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			log.WithField("attempt", attempt).Warn("retrying send")
		}
		got, err := t.ledger.SendTransaction(ctx, raw, opts)
		if err == nil {
			if got != sig {
				log.WithField("returned", got.String()).Warn("node returned a different signature")
			}
			return nil
		}

		rpcErr, ok := rpc.AsError(err)
		if !ok {
			return err
		}
		txErr := rpcErr.TransactionErr()
		if txErr == nil {
			return err
		}
		// a retried send whose first attempt did land
		if attempt > 0 && string(txErr) == `"AlreadyProcessed"` {
			return nil
		}
		reason := Classify(txErr, t.cfg.ProgramReasons)
		log.WithFields(logrus.Fields{"reason": reason, "logs": rpcErr.Logs()}).Info("transaction rejected in preflight")
		return ReasonError("submit", reason, sig.String(), rpcErr)
	})
	if err != nil {
		return Receipt{}, err
	}

	log.Debug("transaction submitted")
	return Receipt{Signature: sig, SubmittedAt: time.Now()}, nil
}

// Confirm waits for the receipt's transaction to reach the configured
// commitment. It polls at PollInterval and gives up after MaxWait with
// StatusTimedOut. Cancelling ctx stops the local wait only and returns
// StatusPending with the context error; the transaction may still land.
func (t *Tracker) Confirm(ctx context.Context, r Receipt) (Outcome, error) {
	return t.ConfirmAt(ctx, r, t.cfg.Commitment)
}

// ConfirmAt is Confirm with the commitment given per call
func (t *Tracker) ConfirmAt(ctx context.Context, r Receipt, commitment rpc.Commitment) (Outcome, error) {
	if commitment == "" {
		commitment = t.cfg.Commitment
	}
	log := t.log.WithFields(logrus.Fields{"signature": r.Signature.String(), "commitment": commitment})
	pending := Outcome{Signature: r.Signature, Status: StatusPending}

	deadline := time.NewTimer(t.cfg.MaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	var push <-chan rpc.SignatureNotification
	if t.sub != nil {
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		push = t.subscribe(subCtx, r.Signature, commitment, log)
	}

	for {
		if out, done := t.check(ctx, r.Signature, commitment, log); done {
			return t.finish(r, out), nil
		}

		select {
		case <-ctx.Done():
			return pending, ctx.Err()
		case <-deadline.C:
			// one last look before reporting the status as unknown
			if out, done := t.check(ctx, r.Signature, commitment, log); done {
				return t.finish(r, out), nil
			}
			log.WithField("max_wait", t.cfg.MaxWait).Warn("confirmation timed out")
			return t.finish(r, Outcome{Signature: r.Signature, Status: StatusTimedOut}), nil
		case note, ok := <-push:
			if !ok {
				push = nil
				continue
			}
			out := Outcome{Signature: r.Signature, Status: StatusConfirmed, Slot: note.Slot}
			if note.Failed() {
				out.Status = StatusRejected
				out.Reason = Classify(note.Err, t.cfg.ProgramReasons)
			}
			return t.finish(r, out), nil
		case <-ticker.C:
		}
	}
}

// Recheck looks up the status of a signature once, for submissions that
// previously timed out. StatusPending means the ledger has no final record yet.
func (t *Tracker) Recheck(ctx context.Context, sig txn.Signature) (Outcome, error) {
	statuses, err := t.ledger.GetSignatureStatuses(ctx, sig)
	if err != nil {
		return Outcome{Signature: sig, Status: StatusPending}, err
	}
	return t.interpret(sig, statuses[0], t.cfg.Commitment), nil
}

// subscribe runs the push subscription beside the polling loop. The
// returned channel carries at most one notification and is closed when the
// subscription fails or ends, so a slow endpoint never holds up the wait.
func (t *Tracker) subscribe(ctx context.Context, sig txn.Signature, commitment rpc.Commitment, log logrus.FieldLogger) <-chan rpc.SignatureNotification {
	relay := make(chan rpc.SignatureNotification, 1)
	go func() {
		defer close(relay)
		ch, err := t.sub.SubscribeSignature(ctx, sig, commitment)
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Warn("signature subscription failed; polling only")
			}
			return
		}
		if note, ok := <-ch; ok {
			relay <- note
		}
	}()
	return relay
}

func (t *Tracker) check(ctx context.Context, sig txn.Signature, commitment rpc.Commitment, log logrus.FieldLogger) (Outcome, bool) {
	statuses, err := t.ledger.GetSignatureStatuses(ctx, sig)
	if err != nil {
		// transient poll failures are not outcomes; keep waiting
		if !errors.Is(err, context.Canceled) {
			log.WithError(err).Debug("status poll failed")
		}
		return Outcome{}, false
	}
	out := t.interpret(sig, statuses[0], commitment)
	return out, out.Status != StatusPending
}

func (t *Tracker) interpret(sig txn.Signature, st *rpc.SignatureStatus, commitment rpc.Commitment) Outcome {
	out := Outcome{Signature: sig, Status: StatusPending}
	if st == nil {
		return out
	}
	out.Slot = st.Slot
	if st.Failed() {
		out.Status = StatusRejected
		out.Reason = Classify(st.Err, t.cfg.ProgramReasons)
		return out
	}
	if st.Commitment().AtLeast(commitment) {
		out.Status = StatusConfirmed
	}
	return out
}

func (t *Tracker) finish(r Receipt, out Outcome) Outcome {
	t.metrics.ObserveSubmission(string(out.Status), string(out.Reason), time.Since(r.SubmittedAt))
	t.log.WithFields(logrus.Fields{
		"signature": r.Signature.String(),
		"status":    out.Status,
		"reason":    out.Reason,
		"slot":      out.Slot,
	}).Info("submission settled")
	return out
}
