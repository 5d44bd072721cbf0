// Package program builds the voting program's state-changing operations into
// unsigned transactions. Parameters are validated before any network access;
// every address an operation touches comes from PDAs.
package program

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/encoding"
	"github.com/yourusername/votesphere/pkg/logging"
	"github.com/yourusername/votesphere/pkg/rpc"
	"github.com/yourusername/votesphere/pkg/tracker"
	"github.com/yourusername/votesphere/pkg/txn"
)

// Kind names an operation
type Kind string

const (
	KindCreateCounter     Kind = "create-counter"
	KindCreatePoll        Kind = "create-poll"
	KindRegisterCandidate Kind = "register-candidate"
	KindVote              Kind = "vote"
)

// Program error codes
const (
	ErrorCodeAlreadyVoted uint32 = 6000
)

// Reasons maps the program's custom error codes to rejection reasons
func Reasons() map[uint32]tracker.Reason {
	return map[uint32]tracker.Reason{
		ErrorCodeAlreadyVoted: tracker.ReasonDuplicateEffect,
	}
}

// Account roles recorded in Envelope.Accounts
const (
	RoleUser           = "user"
	RoleCounter        = "counter"
	RoleRegisterations = "registerations"
	RolePoll           = "poll"
	RoleCandidate      = "candidate"
	RoleVoter          = "voter"
)

// BlockhashSource supplies the recent blockhash a transaction is built against
type BlockhashSource interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.Commitment) (*rpc.Blockhash, error)
}

// Envelope is a built, unsigned operation
type Envelope struct {
	Kind        Kind
	Transaction *txn.Transaction
	Payer       address.Address
	// Accounts maps each role to the address it resolved to
	Accounts map[string]address.Address
	// Precondition is the counter value the operation was built against
	Precondition uint64
	// LastValidBlockHeight bounds how long the blockhash stays usable
	LastValidBlockHeight uint64
}

// Builder assembles operations for one program
type Builder struct {
	PDAs       PDAs
	blockhash  BlockhashSource
	commitment rpc.Commitment
	log        logrus.FieldLogger
}

// NewBuilder creates a Builder for programID
func NewBuilder(programID address.Address, bh BlockhashSource, commitment rpc.Commitment, log logrus.FieldLogger) *Builder {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &Builder{
		PDAs:       PDAs{ProgramID: programID},
		blockhash:  bh,
		commitment: commitment,
		log:        logging.OrDiscard(log).WithField("component", "builder"),
	}
}

// ProgramID returns the program the builder targets
func (b *Builder) ProgramID() address.Address {
	return b.PDAs.ProgramID
}

// CreateCounter builds the initialize instruction, which creates both the
// poll counter and the registerations counter.
func (b *Builder) CreateCounter(ctx context.Context, payer address.Address) (*Envelope, error) {
	if err := validatePayer(KindCreateCounter, payer); err != nil {
		return nil, err
	}
	counter, err := b.PDAs.Counter()
	if err != nil {
		return nil, err
	}
	regs, err := b.PDAs.Registerations()
	if err != nil {
		return nil, err
	}

	ix := txn.Instruction{
		ProgramID: b.PDAs.ProgramID,
		Accounts: []txn.AccountMeta{
			{Address: payer, IsSigner: true, IsWritable: true},
			{Address: counter, IsWritable: true},
			{Address: regs, IsWritable: true},
			{Address: address.SystemProgram},
		},
		Data: encoding.EncodeInitialize(),
	}
	accounts := map[string]address.Address{
		RoleUser:           payer,
		RoleCounter:        counter,
		RoleRegisterations: regs,
	}
	return b.envelope(ctx, KindCreateCounter, payer, 0, accounts, ix)
}

// CreatePoll builds create_poll for the poll id following p.CurrentCount
func (b *Builder) CreatePoll(ctx context.Context, payer address.Address, p CreatePollParams) (*Envelope, error) {
	if err := validatePayer(KindCreatePoll, payer); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	counter, err := b.PDAs.Counter()
	if err != nil {
		return nil, err
	}
	poll, err := b.PDAs.Poll(p.PollID())
	if err != nil {
		return nil, err
	}
	data, err := encoding.EncodeCreatePoll(encoding.CreatePollArgs{
		Description: p.Description,
		Start:       p.Start,
		End:         p.End,
	})
	if err != nil {
		return nil, invalid(KindCreatePoll, "%v", err)
	}

	ix := txn.Instruction{
		ProgramID: b.PDAs.ProgramID,
		Accounts: []txn.AccountMeta{
			{Address: payer, IsSigner: true, IsWritable: true},
			{Address: counter, IsWritable: true},
			{Address: poll, IsWritable: true},
			{Address: address.SystemProgram},
		},
		Data: data,
	}
	accounts := map[string]address.Address{
		RoleUser:    payer,
		RoleCounter: counter,
		RolePoll:    poll,
	}
	return b.envelope(ctx, KindCreatePoll, payer, p.CurrentCount, accounts, ix)
}

// RegisterCandidate builds register_candidate for the candidate id following
// p.CurrentRegisterations
func (b *Builder) RegisterCandidate(ctx context.Context, payer address.Address, p RegisterCandidateParams) (*Envelope, error) {
	if err := validatePayer(KindRegisterCandidate, payer); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	poll, err := b.PDAs.Poll(p.PollID)
	if err != nil {
		return nil, err
	}
	regs, err := b.PDAs.Registerations()
	if err != nil {
		return nil, err
	}
	candidate, err := b.PDAs.Candidate(p.PollID, p.CandidateID())
	if err != nil {
		return nil, err
	}
	data, err := encoding.EncodeRegisterCandidate(encoding.RegisterCandidateArgs{
		PollID: p.PollID,
		Name:   p.Name,
	})
	if err != nil {
		return nil, invalid(KindRegisterCandidate, "%v", err)
	}

	ix := txn.Instruction{
		ProgramID: b.PDAs.ProgramID,
		Accounts: []txn.AccountMeta{
			{Address: payer, IsSigner: true, IsWritable: true},
			{Address: poll, IsWritable: true},
			{Address: regs, IsWritable: true},
			{Address: candidate, IsWritable: true},
			{Address: address.SystemProgram},
		},
		Data: data,
	}
	accounts := map[string]address.Address{
		RoleUser:           payer,
		RolePoll:           poll,
		RoleRegisterations: regs,
		RoleCandidate:      candidate,
	}
	return b.envelope(ctx, KindRegisterCandidate, payer, p.CurrentRegisterations, accounts, ix)
}

// Vote builds vote for candidate p.CandidateID in poll p.PollID, with payer
// as the voter
func (b *Builder) Vote(ctx context.Context, payer address.Address, p VoteParams) (*Envelope, error) {
	if err := validatePayer(KindVote, payer); err != nil {
		return nil, err
	}
	poll, err := b.PDAs.Poll(p.PollID)
	if err != nil {
		return nil, err
	}
	candidate, err := b.PDAs.Candidate(p.PollID, p.CandidateID)
	if err != nil {
		return nil, err
	}
	voter, err := b.PDAs.Voter(p.PollID, payer)
	if err != nil {
		return nil, err
	}

	ix := txn.Instruction{
		ProgramID: b.PDAs.ProgramID,
		Accounts: []txn.AccountMeta{
			{Address: payer, IsSigner: true, IsWritable: true},
			{Address: poll, IsWritable: true},
			{Address: candidate, IsWritable: true},
			{Address: voter, IsWritable: true},
			{Address: address.SystemProgram},
		},
		Data: encoding.EncodeVote(encoding.VoteArgs{PollID: p.PollID, CandidateID: p.CandidateID}),
	}
	accounts := map[string]address.Address{
		RoleUser:      payer,
		RolePoll:      poll,
		RoleCandidate: candidate,
		RoleVoter:     voter,
	}
	return b.envelope(ctx, KindVote, payer, 0, accounts, ix)
}

func (b *Builder) envelope(ctx context.Context, kind Kind, payer address.Address, precondition uint64, accounts map[string]address.Address, ix txn.Instruction) (*Envelope, error) {
	bh, err := b.blockhash.GetLatestBlockhash(ctx, b.commitment)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch blockhash: %w", kind, err)
	}
	tx, err := txn.New(payer, bh.Blockhash, ix)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}

	b.log.WithFields(logrus.Fields{
		"kind":         kind,
		"payer":        payer,
		"precondition": precondition,
		"blockhash":    bh.Blockhash,
	}).Debug("built operation")

	return &Envelope{
		Kind:                 kind,
		Transaction:          tx,
		Payer:                payer,
		Accounts:             accounts,
		Precondition:         precondition,
		LastValidBlockHeight: bh.LastValidBlockHeight,
	}, nil
}
