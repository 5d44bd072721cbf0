package voting

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/cache"
	"github.com/yourusername/votesphere/pkg/clienterr"
	"github.com/yourusername/votesphere/pkg/keys"
	"github.com/yourusername/votesphere/pkg/ledgertest"
	"github.com/yourusername/votesphere/pkg/program"
	"github.com/yourusername/votesphere/pkg/retry"
	"github.com/yourusername/votesphere/pkg/rpc"
	"github.com/yourusername/votesphere/pkg/session"
	"github.com/yourusername/votesphere/pkg/storage"
	"github.com/yourusername/votesphere/pkg/tracker"
	"github.com/yourusername/votesphere/pkg/view"
)

var programID = address.MustParse("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")

type harness struct {
	ledger *ledgertest.Ledger
	client *Client
	store  *storage.Store
	wallet *keys.Keypair
	auth   *session.Authorizer
}

type harnessOption struct {
	maxWait time.Duration
	approve session.ApproveFunc
	opts    []Option
}

func newHarness(t *testing.T, ho harnessOption) *harness {
	t.Helper()
	l := ledgertest.New(programID, nil)
	srv := ledgertest.NewServer(l)
	t.Cleanup(srv.Close)

	kp, err := keys.Generate()
	require.NoError(t, err)
	l.Fund(kp.Address(), 10_000_000_000)

	if ho.maxWait == 0 {
		ho.maxWait = 2 * time.Second
	}
	if ho.approve == nil {
		ho.approve = session.AutoApprove
	}

	rpcClient := rpc.NewClient(rpc.Config{URL: srv.RPCURL()}, nil)
	tr := tracker.New(rpcClient, rpc.NewNotifier(srv.WSURL(), nil), tracker.Config{
		PollInterval:   5 * time.Millisecond,
		MaxWait:        ho.maxWait,
		SendRetry:      retry.None(),
		ProgramReasons: program.Reasons(),
	}, nil, nil)

	wallet, err := session.NewKeypairWallet(kp, tr, time.Hour, session.WithApprove(ho.approve))
	require.NoError(t, err)

	store, err := storage.NewStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	auth := session.NewAuthorizer(wallet, store, session.Config{
		Identity: session.Identity{Name: "votesphere", URI: "https://votesphere.test"},
		Cluster:  "localnet",
	}, nil)

	c := cache.New(cache.Config{StaleAfter: time.Minute, Retry: retry.None()}, nil, nil)
	builder := program.NewBuilder(programID, rpcClient, rpc.CommitmentConfirmed, nil)
	opts := append([]Option{WithJournal(store)}, ho.opts...)

	return &harness{
		ledger: l,
		client: New(rpcClient, builder, auth, tr, c, opts...),
		store:  store,
		wallet: kp,
		auth:   auth,
	}
}

func derive(t *testing.T, seeds ...[]byte) address.Address {
	t.Helper()
	addr, _, err := address.FindProgramAddress(seeds, programID)
	require.NoError(t, err)
	return addr
}

func TestCreatePollFromCounterThree(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()
	h.ledger.SetCounter(3)
	h.ledger.SetRegisterations(0)

	before, err := h.client.Polls(ctx)
	require.NoError(t, err)
	assert.Empty(t, before.Value)
	_, cached := h.client.Cache().Peek(KeyPolls)
	require.True(t, cached)

	res, err := h.client.CreatePoll(ctx, PollInput{Description: "Q1", Start: 1000, End: 2000})
	require.NoError(t, err)
	assert.False(t, res.Retried)
	assert.Equal(t, derive(t, address.U64Seed(4)), res.Accounts[program.RolePoll])

	_, cached = h.client.Cache().Peek(KeyPolls)
	assert.False(t, cached, "polls listing must be invalidated")
	_, cached = h.client.Cache().Peek(KeyCounter)
	assert.False(t, cached, "counter must be invalidated")

	after, err := h.client.Polls(ctx)
	require.NoError(t, err)
	require.Len(t, after.Value, 1)
	poll := after.Value[0]
	assert.Equal(t, int64(4), poll.ID)
	assert.Equal(t, "Q1", poll.Description)
	assert.Equal(t, int64(1_000_000), poll.StartMs)
	assert.Equal(t, int64(2_000_000), poll.EndMs)
	assert.Zero(t, poll.Candidates)
	assert.Equal(t, 2, h.ledger.Calls("getProgramAccounts"))

	counter, err := h.client.Counter(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), counter.Value.Count)

	rec, err := h.store.GetSubmission(res.Signature.String())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, string(tracker.StatusConfirmed), rec.Status)
	assert.Equal(t, uint64(3), rec.Precondition)
}

func TestRegisterCandidateFromRegisterationsTen(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()
	h.ledger.SetCounter(3)
	id, err := h.ledger.AddPoll("Q1", 1000, 2000)
	require.NoError(t, err)
	require.Equal(t, uint64(4), id)
	h.ledger.SetRegisterations(10)

	pollAddr := derive(t, address.U64Seed(4))
	poll, err := h.client.Poll(ctx, pollAddr)
	require.NoError(t, err)
	assert.Zero(t, poll.Value.Candidates)

	res, err := h.client.RegisterCandidate(ctx, CandidateInput{PollID: 4, Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, derive(t, address.U64Seed(4), address.U64Seed(11)), res.Accounts[program.RoleCandidate])

	candidates, err := h.client.Candidates(ctx, pollAddr)
	require.NoError(t, err)
	require.Len(t, candidates.Value, 1)
	assert.Equal(t, int64(11), candidates.Value[0].CID)
	assert.Equal(t, "Alice", candidates.Value[0].Name)
	assert.True(t, candidates.Value[0].HasRegistered)

	poll, err = h.client.Poll(ctx, pollAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(1), poll.Value.Candidates, "poll entry was invalidated")

	regs, err := h.client.Registerations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(11), regs.Value.Count)
}

func seedPollWithCandidate(t *testing.T, h *harness) {
	t.Helper()
	h.ledger.SetCounter(0)
	h.ledger.SetRegisterations(0)
	_, err := h.ledger.AddPoll("lunch", 1000, 2000)
	require.NoError(t, err)
	_, err = h.client.RegisterCandidate(context.Background(), CandidateInput{PollID: 1, Name: "tacos"})
	require.NoError(t, err)
}

func TestSecondVoteIsDuplicateAndNotRetried(t *testing.T) {
	retries := 0
	h := newHarness(t, harnessOption{opts: []Option{
		WithRetryHook(func(program.Kind, error) { retries++ }),
	}})
	ctx := context.Background()
	seedPollWithCandidate(t, h)

	voted, err := h.client.HasVoted(ctx, 1, h.wallet.Address())
	require.NoError(t, err)
	assert.False(t, voted.Value.HasVoted)

	_, err = h.client.Vote(ctx, VoteInput{PollID: 1, CandidateID: 1})
	require.NoError(t, err)

	voted, err = h.client.HasVoted(ctx, 1, h.wallet.Address())
	require.NoError(t, err)
	assert.True(t, voted.Value.HasVoted, "voter entry was invalidated")

	sends := h.ledger.Calls("sendTransaction")
	_, err = h.client.Vote(ctx, VoteInput{PollID: 1, CandidateID: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, clienterr.ErrDuplicateEffect)
	assert.Equal(t, sends+1, h.ledger.Calls("sendTransaction"), "a duplicate vote is sent once")
	assert.Zero(t, retries)

	cand, err := h.client.Candidate(ctx, derive(t, address.U64Seed(1), address.U64Seed(1)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), cand.Value.Votes)
}

func TestConcurrentMutationsQueueForTheWallet(t *testing.T) {
	var gated atomic.Bool
	release := make(chan struct{})
	h := newHarness(t, harnessOption{approve: func(ctx context.Context, req session.Request) error {
		if req.Kind == session.RequestSign && gated.CompareAndSwap(true, false) {
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}})
	ctx := context.Background()
	seedPollWithCandidate(t, h)
	_, err := h.ledger.AddPoll("dinner", 1000, 2000)
	require.NoError(t, err)
	_, err = h.client.RegisterCandidate(ctx, CandidateInput{PollID: 2, Name: "ramen"})
	require.NoError(t, err)

	gated.Store(true)
	first := make(chan error, 1)
	go func() {
		_, err := h.client.Vote(ctx, VoteInput{PollID: 1, CandidateID: 1})
		first <- err
	}()
	require.Eventually(t, func() bool { return h.auth.State() == session.StateSigning }, time.Second, time.Millisecond)

	// the second mutation starts while the wallet is busy and waits its turn
	blockhashes := h.ledger.Calls("getLatestBlockhash")
	second := make(chan error, 1)
	go func() {
		_, err := h.client.Vote(ctx, VoteInput{PollID: 2, CandidateID: 2})
		second <- err
	}()
	require.Eventually(t, func() bool { return h.ledger.Calls("getLatestBlockhash") > blockhashes }, time.Second, time.Millisecond)

	close(release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	for _, poll := range []uint64{1, 2} {
		voted, err := h.client.HasVoted(ctx, poll, h.wallet.Address())
		require.NoError(t, err)
		assert.True(t, voted.Value.HasVoted, "poll %d", poll)
	}
}

func TestConcurrentCreatePollsBothLand(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()
	h.ledger.SetCounter(0)
	_, err := h.auth.EnsureAuthorized(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.client.CreatePoll(ctx, PollInput{Description: gofakeit.Sentence(4), Start: 10, End: 20})
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	h.client.Cache().Invalidate(KeyPolls)
	polls, err := h.client.Polls(ctx)
	require.NoError(t, err)
	require.Len(t, polls.Value, 2)
	assert.Equal(t, int64(1), polls.Value[0].ID)
	assert.Equal(t, int64(2), polls.Value[1].ID)
}

func TestCandidatesAreFilteredByPoll(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()
	seedPollWithCandidate(t, h)
	_, err := h.ledger.AddPoll("dinner", 1000, 2000)
	require.NoError(t, err)
	for _, name := range []string{"ramen", "curry"} {
		_, err = h.client.RegisterCandidate(ctx, CandidateInput{PollID: 2, Name: name})
		require.NoError(t, err)
	}

	first, err := h.client.Candidates(ctx, derive(t, address.U64Seed(1)))
	require.NoError(t, err)
	require.Len(t, first.Value, 1)
	assert.Equal(t, "tacos", first.Value[0].Name)

	second, err := h.client.Candidates(ctx, derive(t, address.U64Seed(2)))
	require.NoError(t, err)
	require.Len(t, second.Value, 2)
	assert.Equal(t, []int64{2, 3}, []int64{second.Value[0].CID, second.Value[1].CID})
	for _, c := range second.Value {
		assert.Equal(t, int64(2), c.PollID)
	}
}

func TestCreatePollRetriesOnceAfterRace(t *testing.T) {
	var retried []program.Kind
	h := newHarness(t, harnessOption{opts: []Option{
		WithRetryHook(func(k program.Kind, err error) {
			assert.ErrorIs(t, err, clienterr.ErrPreconditionRace)
			retried = append(retried, k)
		}),
	}})
	h.ledger.SetCounter(3)
	h.ledger.BeforeNextExecute(func(l *ledgertest.Ledger) {
		_, err := l.AddPoll("someone else's", 1, 2)
		assert.NoError(t, err)
	})

	res, err := h.client.CreatePoll(context.Background(), PollInput{Description: "mine", Start: 10, End: 20})
	require.NoError(t, err)
	assert.True(t, res.Retried)
	assert.Equal(t, []program.Kind{program.KindCreatePoll}, retried)
	assert.Equal(t, derive(t, address.U64Seed(5)), res.Accounts[program.RolePoll])
	assert.Equal(t, 2, h.ledger.Calls("sendTransaction"))
}

func TestCreatePollSurfacesSecondRace(t *testing.T) {
	retries := 0
	h := newHarness(t, harnessOption{opts: []Option{
		WithRetryHook(func(program.Kind, error) { retries++ }),
	}})
	h.ledger.SetCounter(0)
	h.ledger.BeforeNextExecute(func(l *ledgertest.Ledger) {
		l.AddPoll("race 1", 1, 2)
		l.BeforeNextExecute(func(l *ledgertest.Ledger) {
			l.AddPoll("race 2", 1, 2)
		})
	})

	res, err := h.client.CreatePoll(context.Background(), PollInput{Description: "mine", Start: 10, End: 20})
	require.Error(t, err)
	assert.ErrorIs(t, err, clienterr.ErrPreconditionRace)
	assert.True(t, res.Retried)
	assert.Equal(t, 1, retries)
	assert.Equal(t, 2, h.ledger.Calls("sendTransaction"))
}

func TestRegisterCandidateRetriesOnceAfterRace(t *testing.T) {
	h := newHarness(t, harnessOption{})
	h.ledger.SetCounter(0)
	h.ledger.SetRegisterations(7)
	_, err := h.ledger.AddPoll("p", 1, 2)
	require.NoError(t, err)
	h.ledger.BeforeNextExecute(func(l *ledgertest.Ledger) {
		l.SetRegisterations(8)
	})

	res, err := h.client.RegisterCandidate(context.Background(), CandidateInput{PollID: 1, Name: "bob"})
	require.NoError(t, err)
	assert.True(t, res.Retried)
	assert.Equal(t, derive(t, address.U64Seed(1), address.U64Seed(9)), res.Accounts[program.RoleCandidate])
}

func TestCreateCounterIsCreateIfAbsent(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()

	_, err := h.client.Counter(ctx)
	assert.ErrorIs(t, err, clienterr.ErrNotFound)

	res, err := h.client.CreateCounter(ctx)
	require.NoError(t, err)
	assert.False(t, res.Existing)

	counter, err := h.client.Counter(ctx)
	require.NoError(t, err)
	assert.Zero(t, counter.Value.Count)
	regs, err := h.client.Registerations(ctx)
	require.NoError(t, err)
	assert.Zero(t, regs.Value.Count)

	sends := h.ledger.Calls("sendTransaction")
	res, err = h.client.CreateCounter(ctx)
	require.NoError(t, err)
	assert.True(t, res.Existing)
	assert.Equal(t, sends, h.ledger.Calls("sendTransaction"))
}

func TestValidationFailsBeforeAnyNetworkCall(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()

	_, err := h.client.CreatePoll(ctx, PollInput{Description: "", Start: 1, End: 2})
	assert.ErrorIs(t, err, clienterr.ErrValidation)
	_, err = h.client.CreatePoll(ctx, PollInput{Description: "backwards", Start: 2, End: 1})
	assert.ErrorIs(t, err, clienterr.ErrValidation)
	_, err = h.client.RegisterCandidate(ctx, CandidateInput{PollID: 1, Name: gofakeit.LetterN(33)})
	assert.ErrorIs(t, err, clienterr.ErrValidation)

	assert.Zero(t, h.ledger.Calls("getAccountInfo"))
	assert.Zero(t, h.ledger.Calls("getLatestBlockhash"))
	assert.Equal(t, session.StateIdle, h.auth.State(), "no wallet prompt for invalid input")
}

func TestDeclinedAuthorizationSendsNothing(t *testing.T) {
	h := newHarness(t, harnessOption{approve: func(context.Context, session.Request) error {
		return session.ErrUserDeclined
	}})
	h.ledger.SetCounter(0)

	_, err := h.client.CreatePoll(context.Background(), PollInput{Description: "q", Start: 1, End: 2})
	assert.ErrorIs(t, err, clienterr.ErrAuthorizationDenied)
	assert.Zero(t, h.ledger.Calls("sendTransaction"))
}

func TestTimedOutSubmissionCanBeRechecked(t *testing.T) {
	h := newHarness(t, harnessOption{maxWait: 40 * time.Millisecond})
	ctx := context.Background()
	h.ledger.SetCounter(0)
	h.ledger.Stall(true)

	res, err := h.client.CreatePoll(ctx, PollInput{Description: "slow", Start: 1, End: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, clienterr.ErrTimeout)
	assert.False(t, res.Signature.IsZero(), "the signature is kept for a recheck")

	rec, err := h.store.GetSubmission(res.Signature.String())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, string(tracker.StatusTimedOut), rec.Status)

	polls, err := h.client.Polls(ctx)
	require.NoError(t, err)
	require.Len(t, polls.Value, 1, "the poll landed even though confirmation was not observed")

	h.ledger.Stall(false)
	require.Eventually(t, func() bool {
		out, err := h.client.Recheck(ctx, res.Signature)
		return err == nil && out.Status == tracker.StatusConfirmed
	}, time.Second, 10*time.Millisecond)

	_, cached := h.client.Cache().Peek(KeyPolls)
	assert.False(t, cached)
	rec, err = h.store.GetSubmission(res.Signature.String())
	require.NoError(t, err)
	assert.Equal(t, string(tracker.StatusConfirmed), rec.Status)
}

func TestMissingAccounts(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()

	_, err := h.client.PollByID(ctx, 99)
	assert.ErrorIs(t, err, clienterr.ErrNotFound)

	other, err := keys.Generate()
	require.NoError(t, err)
	voted, err := h.client.HasVoted(ctx, 99, other.Address())
	require.NoError(t, err)
	assert.False(t, voted.Value.HasVoted)
}

func TestConcurrentReadsShareOneFetch(t *testing.T) {
	h := newHarness(t, harnessOption{})
	h.ledger.SetCounter(0)
	for i := 0; i < 3; i++ {
		_, err := h.ledger.AddPoll(gofakeit.Sentence(6), 1, 2)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	results := make([][]view.PollView, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			polls, err := h.client.Polls(context.Background())
			assert.NoError(t, err)
			results[i] = polls.Value
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, h.ledger.Calls("getProgramAccounts"))
	for _, r := range results {
		assert.Len(t, r, 3)
	}
}

func TestQueryAndMutationHooks(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()
	h.ledger.SetCounter(0)

	polls := NewQuery(h.client.Polls)
	st := polls.Load(ctx)
	require.False(t, st.IsError)
	assert.False(t, st.IsLoading)
	assert.Empty(t, st.Data)

	var succeeded []Result
	create := NewMutation(h.client.CreatePoll)
	create.OnSuccess = func(r Result) { succeeded = append(succeeded, r) }
	var failed []error
	create.OnError = func(err error) { failed = append(failed, err) }

	_, err := create.Mutate(ctx, PollInput{Description: "hooks", Start: 1, End: 2})
	require.NoError(t, err)
	assert.False(t, create.IsPending())
	assert.Len(t, succeeded, 1)

	_, err = create.Mutate(ctx, PollInput{Description: "", Start: 1, End: 2})
	require.Error(t, err)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0], clienterr.ErrValidation)

	st = polls.Load(ctx)
	require.False(t, st.IsError)
	require.Len(t, st.Data, 1)
	assert.Equal(t, "hooks", st.Data[0].Description)

	missing := NewQuery(func(ctx context.Context) (cache.Cached[view.PollView], error) {
		return h.client.PollByID(ctx, 42)
	})
	st2 := missing.Load(ctx)
	assert.True(t, st2.IsError)
	assert.ErrorIs(t, st2.Error, clienterr.ErrNotFound)
}

func TestAffectedKeys(t *testing.T) {
	poll := derive(t, address.U64Seed(1))
	cand := derive(t, address.U64Seed(1), address.U64Seed(2))
	voter := derive(t, []byte("voter"), address.U64Seed(1), poll.Bytes())

	assert.ElementsMatch(t, []cache.Key{KeyCounter, KeyRegisterations},
		AffectedKeys(program.KindCreateCounter, nil))
	assert.ElementsMatch(t, []cache.Key{KeyPolls, KeyCounter},
		AffectedKeys(program.KindCreatePoll, map[string]address.Address{program.RolePoll: poll}))
	assert.ElementsMatch(t, []cache.Key{KeyRegisterations, CandidatesKey(poll), PollKey(poll), KeyPolls},
		AffectedKeys(program.KindRegisterCandidate, map[string]address.Address{program.RolePoll: poll, program.RoleCandidate: cand}))
	assert.ElementsMatch(t, []cache.Key{CandidateKey(cand), CandidatesKey(poll), VoterKey(voter)},
		AffectedKeys(program.KindVote, map[string]address.Address{
			program.RolePoll: poll, program.RoleCandidate: cand, program.RoleVoter: voter,
		}))
}
