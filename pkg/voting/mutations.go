package voting

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/clienterr"
	"github.com/yourusername/votesphere/pkg/program"
	"github.com/yourusername/votesphere/pkg/tracker"
	"github.com/yourusername/votesphere/pkg/txn"
)

// Result describes a completed mutation
type Result struct {
	Kind      program.Kind
	Signature txn.Signature
	Slot      uint64
	// Accounts maps each role to the address the operation touched
	Accounts map[string]address.Address
	// Existing is set when create-counter found the counters already present
	// and submitted nothing
	Existing bool
	// Retried is set when the first attempt lost a precondition race
	Retried bool
}

// PollInput describes a poll to create. Start and End are unix seconds.
type PollInput struct {
	Description string
	Start       uint64
	End         uint64
}

// CandidateInput describes a candidate to register
type CandidateInput struct {
	PollID uint64
	Name   string
}

// VoteInput selects the candidate to vote for
type VoteInput struct {
	PollID      uint64
	CandidateID uint64
}

// CreateCounter creates the poll and registerations counters unless the
// poll counter already exists
func (c *Client) CreateCounter(ctx context.Context) (Result, error) {
	auth, err := c.signer.EnsureAuthorized(ctx)
	if err != nil {
		return Result{}, err
	}
	existing, err := c.fetchCounter(ctx)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		c.log.Debug("counter already exists")
		return Result{Kind: program.KindCreateCounter, Existing: true}, nil
	}
	env, err := c.builder.CreateCounter(ctx, auth.PublicKey)
	if err != nil {
		return Result{}, err
	}
	return c.execute(ctx, env)
}

// CreatePoll creates a poll under the id following the counter as freshly
// read from the ledger. If another poll takes that id first, the counter is
// read again and the operation rebuilt and resubmitted once.
func (c *Client) CreatePoll(ctx context.Context, in PollInput) (Result, error) {
	params := program.CreatePollParams{Description: in.Description, Start: in.Start, End: in.End}
	if err := params.Validate(); err != nil {
		return Result{}, err
	}
	return c.withPreconditionRetry(ctx, program.KindCreatePoll, func(ctx context.Context, payer address.Address) (*program.Envelope, error) {
		counter, err := c.fetchCounter(ctx)
		if err != nil {
			return nil, err
		}
		if counter == nil {
			return nil, clienterr.NotFound(string(program.KindCreatePoll), "poll counter")
		}
		params.CurrentCount = counter.Count
		return c.builder.CreatePoll(ctx, payer, params)
	})
}

// RegisterCandidate registers a candidate under the id following the
// registerations counter as freshly read, with the same single retry as
// CreatePoll
func (c *Client) RegisterCandidate(ctx context.Context, in CandidateInput) (Result, error) {
	params := program.RegisterCandidateParams{PollID: in.PollID, Name: in.Name}
	if err := params.Validate(); err != nil {
		return Result{}, err
	}
	return c.withPreconditionRetry(ctx, program.KindRegisterCandidate, func(ctx context.Context, payer address.Address) (*program.Envelope, error) {
		regs, err := c.fetchRegisterations(ctx)
		if err != nil {
			return nil, err
		}
		if regs == nil {
			return nil, clienterr.NotFound(string(program.KindRegisterCandidate), "registerations counter")
		}
		params.CurrentRegisterations = regs.Count
		return c.builder.RegisterCandidate(ctx, payer, params)
	})
}

// Vote casts the authorized wallet's vote. A second vote in the same poll
// fails with a DuplicateEffect error and is never retried.
func (c *Client) Vote(ctx context.Context, in VoteInput) (Result, error) {
	auth, err := c.signer.EnsureAuthorized(ctx)
	if err != nil {
		return Result{}, err
	}
	env, err := c.builder.Vote(ctx, auth.PublicKey, program.VoteParams{PollID: in.PollID, CandidateID: in.CandidateID})
	if err != nil {
		return Result{}, err
	}
	res, err := c.execute(ctx, env)
	if errors.Is(err, clienterr.ErrDuplicateEffect) {
		// the voter flag we may hold cached is wrong
		c.cache.Invalidate(VoterKey(env.Accounts[program.RoleVoter]))
	}
	return res, err
}

type buildFunc func(ctx context.Context, payer address.Address) (*program.Envelope, error)

func (c *Client) withPreconditionRetry(ctx context.Context, kind program.Kind, build buildFunc) (Result, error) {
	auth, err := c.signer.EnsureAuthorized(ctx)
	if err != nil {
		return Result{}, err
	}

	retried := false
	for {
		env, err := build(ctx, auth.PublicKey)
		if err != nil {
			return Result{}, err
		}
		res, err := c.execute(ctx, env)
		res.Retried = retried
		if err == nil || retried || !errors.Is(err, clienterr.ErrPreconditionRace) {
			return res, err
		}

		retried = true
		c.cache.Invalidate(KeyCounter, KeyRegisterations)
		c.log.WithFields(logrus.Fields{
			"kind":         kind,
			"precondition": env.Precondition,
		}).Info("precondition went stale; rebuilding once")
		if c.onRetry != nil {
			c.onRetry(kind, err)
		}
	}
}

// execute signs, submits and confirms env, journals it, and invalidates the
// affected cache keys once confirmed
func (c *Client) execute(ctx context.Context, env *program.Envelope) (Result, error) {
	op := string(env.Kind)
	res := Result{Kind: env.Kind, Accounts: env.Accounts}
	log := c.log.WithField("kind", env.Kind)

	receipt, err := c.signer.SignAndSubmit(ctx, env)
	if err != nil {
		return res, err
	}
	res.Signature = receipt.Signature
	c.record(env, receipt)

	out, err := c.confirmer.Confirm(ctx, receipt)
	if err != nil {
		// the caller stopped waiting; the journal keeps the pending record
		return res, err
	}
	res.Slot = out.Slot
	c.updateRecord(out)

	if err := out.Err(op); err != nil {
		log.WithFields(logrus.Fields{
			"signature": receipt.Signature,
			"status":    out.Status,
			"reason":    out.Reason,
		}).Info("operation did not confirm")
		return res, err
	}

	c.cache.Invalidate(AffectedKeys(env.Kind, env.Accounts)...)
	log.WithField("signature", receipt.Signature).Info("operation confirmed")
	return res, nil
}

// Recheck looks up a submission that timed out. When it has since
// confirmed, the keys it affects are invalidated.
func (c *Client) Recheck(ctx context.Context, sig txn.Signature) (tracker.Outcome, error) {
	out, err := c.confirmer.Recheck(ctx, sig)
	if err != nil {
		return out, err
	}
	c.updateRecord(out)
	if out.Status != tracker.StatusConfirmed || c.journal == nil {
		return out, nil
	}

	rec, err := c.journal.GetSubmission(sig.String())
	if err != nil {
		return out, err
	}
	if rec == nil {
		c.log.WithField("signature", sig).Warn("confirmed submission is not in the journal; cache left as is")
		return out, nil
	}
	accounts, err := decodeAccounts(rec.Accounts)
	if err != nil {
		return out, err
	}
	c.cache.Invalidate(AffectedKeys(program.Kind(rec.Kind), accounts)...)
	return out, nil
}
