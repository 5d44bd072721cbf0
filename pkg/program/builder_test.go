package program

import (
	"context"
	"crypto/ed25519"
	"errors"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/clienterr"
	"github.com/yourusername/votesphere/pkg/encoding"
	"github.com/yourusername/votesphere/pkg/rpc"
	"github.com/yourusername/votesphere/pkg/tracker"
	"github.com/yourusername/votesphere/pkg/txn"
)

var testProgram = address.MustParse("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")

type fakeBlockhash struct {
	calls int
	err   error
}

func (f *fakeBlockhash) GetLatestBlockhash(ctx context.Context, c rpc.Commitment) (*rpc.Blockhash, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &rpc.Blockhash{Blockhash: txn.Hash{9, 9, 9}, LastValidBlockHeight: 150}, nil
}

func newPayer(t *testing.T) (address.Address, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	a, err := address.FromBytes(pub)
	require.NoError(t, err)
	return a, priv
}

func mustFind(t *testing.T, seeds ...[]byte) address.Address {
	t.Helper()
	a, _, err := address.FindProgramAddress(seeds, testProgram)
	require.NoError(t, err)
	return a
}

func TestCreatePollDerivesNextPollID(t *testing.T) {
	bh := &fakeBlockhash{}
	b := NewBuilder(testProgram, bh, "", nil)
	payer, priv := newPayer(t)

	env, err := b.CreatePoll(context.Background(), payer, CreatePollParams{
		Description:  "Q1",
		Start:        1000,
		End:          2000,
		CurrentCount: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, KindCreatePoll, env.Kind)
	assert.Equal(t, uint64(3), env.Precondition)
	assert.Equal(t, uint64(150), env.LastValidBlockHeight)
	assert.Equal(t, mustFind(t, address.U64Seed(4)), env.Accounts[RolePoll])
	assert.Equal(t, mustFind(t, []byte("counter")), env.Accounts[RoleCounter])
	assert.Equal(t, payer, env.Transaction.Payer())
	assert.Equal(t, txn.Hash{9, 9, 9}, env.Transaction.Message.RecentBlockhash)

	ix := env.Transaction.Message.Instruction(0)
	assert.Equal(t, testProgram, ix.ProgramID)
	require.Len(t, ix.Accounts, 4)
	assert.Equal(t, payer, ix.Accounts[0].Address)
	assert.True(t, ix.Accounts[0].IsSigner)
	assert.Equal(t, env.Accounts[RoleCounter], ix.Accounts[1].Address)
	assert.Equal(t, env.Accounts[RolePoll], ix.Accounts[2].Address)
	assert.Equal(t, address.SystemProgram, ix.Accounts[3].Address)
	assert.False(t, ix.Accounts[3].IsWritable)

	name, args, err := encoding.DecodeInstruction(ix.Data)
	require.NoError(t, err)
	assert.Equal(t, encoding.InstructionCreatePoll, name)
	assert.Equal(t, &encoding.CreatePollArgs{Description: "Q1", Start: 1000, End: 2000}, args)

	require.NoError(t, env.Transaction.Sign(priv))
	_, err = env.Transaction.Serialize()
	assert.NoError(t, err)
}

func TestRegisterCandidateDerivesNextCandidateID(t *testing.T) {
	b := NewBuilder(testProgram, &fakeBlockhash{}, rpc.CommitmentConfirmed, nil)
	payer, _ := newPayer(t)

	p := RegisterCandidateParams{PollID: 4, Name: "Alice", CurrentRegisterations: 10}
	assert.Equal(t, uint64(11), p.CandidateID())

	env, err := b.RegisterCandidate(context.Background(), payer, p)
	require.NoError(t, err)

	assert.Equal(t, mustFind(t, address.U64Seed(4), address.U64Seed(11)), env.Accounts[RoleCandidate])
	assert.Equal(t, mustFind(t, address.U64Seed(4)), env.Accounts[RolePoll])
	assert.Equal(t, mustFind(t, []byte("registerations")), env.Accounts[RoleRegisterations])
	assert.Equal(t, uint64(10), env.Precondition)

	ix := env.Transaction.Message.Instruction(0)
	name, args, err := encoding.DecodeInstruction(ix.Data)
	require.NoError(t, err)
	assert.Equal(t, encoding.InstructionRegisterCandidate, name)
	assert.Equal(t, &encoding.RegisterCandidateArgs{PollID: 4, Name: "Alice"}, args)
}

func TestVoteUsesVoterPDA(t *testing.T) {
	b := NewBuilder(testProgram, &fakeBlockhash{}, "", nil)
	payer, _ := newPayer(t)

	env, err := b.Vote(context.Background(), payer, VoteParams{PollID: 4, CandidateID: 11})
	require.NoError(t, err)

	want := mustFind(t, []byte("voter"), address.U64Seed(4), payer.Bytes())
	assert.Equal(t, want, env.Accounts[RoleVoter])
	assert.Equal(t, mustFind(t, address.U64Seed(4), address.U64Seed(11)), env.Accounts[RoleCandidate])

	ix := env.Transaction.Message.Instruction(0)
	require.Len(t, ix.Accounts, 5)
	assert.Equal(t, want, ix.Accounts[3].Address)
	assert.True(t, ix.Accounts[3].IsWritable)

	_, args, err := encoding.DecodeInstruction(ix.Data)
	require.NoError(t, err)
	assert.Equal(t, &encoding.VoteArgs{PollID: 4, CandidateID: 11}, args)
}

func TestVoterPDADiffersPerVoter(t *testing.T) {
	pdas := PDAs{ProgramID: testProgram}
	a, _ := newPayer(t)
	c, _ := newPayer(t)

	va, err := pdas.Voter(1, a)
	require.NoError(t, err)
	vc, err := pdas.Voter(1, c)
	require.NoError(t, err)
	assert.NotEqual(t, va, vc)

	other, err := pdas.Voter(2, a)
	require.NoError(t, err)
	assert.NotEqual(t, va, other)
}

func TestCreateCounterTouchesBothSingletons(t *testing.T) {
	b := NewBuilder(testProgram, &fakeBlockhash{}, "", nil)
	payer, _ := newPayer(t)

	env, err := b.CreateCounter(context.Background(), payer)
	require.NoError(t, err)

	ix := env.Transaction.Message.Instruction(0)
	require.Len(t, ix.Accounts, 4)
	assert.Equal(t, env.Accounts[RoleCounter], ix.Accounts[1].Address)
	assert.Equal(t, env.Accounts[RoleRegisterations], ix.Accounts[2].Address)
	assert.Equal(t, encoding.EncodeInitialize(), ix.Data)
}

func TestValidationFailsBeforeNetwork(t *testing.T) {
	payer, _ := newPayer(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		build func(b *Builder) error
	}{
		{"empty description", func(b *Builder) error {
			_, err := b.CreatePoll(ctx, payer, CreatePollParams{Start: 1, End: 2})
			return err
		}},
		{"long description", func(b *Builder) error {
			_, err := b.CreatePoll(ctx, payer, CreatePollParams{Description: strings.Repeat("x", MaxDescriptionLength+1), Start: 1, End: 2})
			return err
		}},
		{"start after end", func(b *Builder) error {
			_, err := b.CreatePoll(ctx, payer, CreatePollParams{Description: gofakeit.Question(), Start: 2000, End: 1000})
			return err
		}},
		{"start equals end", func(b *Builder) error {
			_, err := b.CreatePoll(ctx, payer, CreatePollParams{Description: "q", Start: 5, End: 5})
			return err
		}},
		{"empty name", func(b *Builder) error {
			_, err := b.RegisterCandidate(ctx, payer, RegisterCandidateParams{PollID: 1})
			return err
		}},
		{"long name", func(b *Builder) error {
			_, err := b.RegisterCandidate(ctx, payer, RegisterCandidateParams{PollID: 1, Name: strings.Repeat("n", MaxNameLength+1)})
			return err
		}},
		{"invalid utf8", func(b *Builder) error {
			_, err := b.RegisterCandidate(ctx, payer, RegisterCandidateParams{PollID: 1, Name: "\xff\xfe"})
			return err
		}},
		{"zero payer", func(b *Builder) error {
			_, err := b.Vote(ctx, address.Address{}, VoteParams{PollID: 1, CandidateID: 1})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bh := &fakeBlockhash{}
			b := NewBuilder(testProgram, bh, "", nil)
			err := tt.build(b)
			assert.ErrorIs(t, err, clienterr.ErrValidation)
			assert.Zero(t, bh.calls, "no network access on invalid input")
		})
	}
}

func TestLimitsAreInclusive(t *testing.T) {
	payer, _ := newPayer(t)
	b := NewBuilder(testProgram, &fakeBlockhash{}, "", nil)

	_, err := b.CreatePoll(context.Background(), payer, CreatePollParams{
		Description: strings.Repeat("d", MaxDescriptionLength), Start: 1, End: 2,
	})
	assert.NoError(t, err)

	_, err = b.RegisterCandidate(context.Background(), payer, RegisterCandidateParams{
		PollID: 1, Name: strings.Repeat("n", MaxNameLength),
	})
	assert.NoError(t, err)
}

func TestBlockhashFailurePropagates(t *testing.T) {
	payer, _ := newPayer(t)
	cause := clienterr.Network("getLatestBlockhash", errors.New("connection refused"))
	b := NewBuilder(testProgram, &fakeBlockhash{err: cause}, "", nil)

	_, err := b.Vote(context.Background(), payer, VoteParams{PollID: 1, CandidateID: 1})
	assert.ErrorIs(t, err, clienterr.ErrNetwork)
}

func TestReasons(t *testing.T) {
	assert.Equal(t, tracker.ReasonDuplicateEffect, Reasons()[ErrorCodeAlreadyVoted])
}
