package voting

import (
	"context"
	"fmt"
	"sort"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/cache"
	"github.com/yourusername/votesphere/pkg/clienterr"
	"github.com/yourusername/votesphere/pkg/encoding"
	"github.com/yourusername/votesphere/pkg/rpc"
	"github.com/yourusername/votesphere/pkg/view"
)

// Counter returns the number of polls created
func (c *Client) Counter(ctx context.Context) (cache.Cached[view.CounterView], error) {
	return cache.Load(ctx, c.cache, KeyCounter, func(ctx context.Context) (view.CounterView, error) {
		counter, err := c.fetchCounter(ctx)
		if err != nil {
			return view.CounterView{}, err
		}
		if counter == nil {
			return view.CounterView{}, clienterr.NotFound("counter", "poll counter")
		}
		return c.normalizeCount(counter.Count)
	})
}

// Registerations returns the number of candidates registered across all polls
func (c *Client) Registerations(ctx context.Context) (cache.Cached[view.CounterView], error) {
	return cache.Load(ctx, c.cache, KeyRegisterations, func(ctx context.Context) (view.CounterView, error) {
		regs, err := c.fetchRegisterations(ctx)
		if err != nil {
			return view.CounterView{}, err
		}
		if regs == nil {
			return view.CounterView{}, clienterr.NotFound("registerations", "registerations counter")
		}
		return c.normalizeCount(regs.Count)
	})
}

// Polls lists every poll, ordered by id
func (c *Client) Polls(ctx context.Context) (cache.Cached[[]view.PollView], error) {
	return cache.Load(ctx, c.cache, KeyPolls, func(ctx context.Context) ([]view.PollView, error) {
		accounts, err := c.ledger.GetProgramAccounts(ctx, c.builder.ProgramID(), c.commitment,
			rpc.MemcmpFilter(0, encoding.PollDiscriminator[:]))
		if err != nil {
			return nil, err
		}
		polls := make([]view.PollView, 0, len(accounts))
		for _, a := range accounts {
			p, err := c.decodePoll(a.Pubkey, a.Account.Data)
			if err != nil {
				return nil, err
			}
			polls = append(polls, p)
		}
		sort.Slice(polls, func(i, j int) bool { return polls[i].ID < polls[j].ID })
		return polls, nil
	})
}

// Poll returns the poll at addr
func (c *Client) Poll(ctx context.Context, addr address.Address) (cache.Cached[view.PollView], error) {
	return cache.Load(ctx, c.cache, PollKey(addr), func(ctx context.Context) (view.PollView, error) {
		acct, err := c.ledger.GetAccountInfo(ctx, addr, c.commitment)
		if err != nil {
			return view.PollView{}, err
		}
		if acct == nil {
			return view.PollView{}, clienterr.NotFound("poll", "poll "+addr.String())
		}
		return c.decodePoll(addr, acct.Data)
	})
}

// PollByID returns the poll created under id
func (c *Client) PollByID(ctx context.Context, id uint64) (cache.Cached[view.PollView], error) {
	addr, err := c.builder.PDAs.Poll(id)
	if err != nil {
		return cache.Cached[view.PollView]{}, err
	}
	return c.Poll(ctx, addr)
}

// Candidates lists the candidates registered on the poll at pollAddr, ordered by id
func (c *Client) Candidates(ctx context.Context, pollAddr address.Address) (cache.Cached[[]view.CandidateView], error) {
	return cache.Load(ctx, c.cache, CandidatesKey(pollAddr), func(ctx context.Context) ([]view.CandidateView, error) {
		poll, err := c.Poll(ctx, pollAddr)
		if err != nil {
			return nil, err
		}
		pollID := address.U64Seed(uint64(poll.Value.ID))
		accounts, err := c.ledger.GetProgramAccounts(ctx, c.builder.ProgramID(), c.commitment,
			rpc.MemcmpFilter(0, encoding.CandidateDiscriminator[:]),
			rpc.MemcmpFilter(encoding.CandidatePollIDOffset, pollID))
		if err != nil {
			return nil, err
		}
		candidates := make([]view.CandidateView, 0, len(accounts))
		for _, a := range accounts {
			cand, err := c.decodeCandidate(a.Pubkey, a.Account.Data)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, cand)
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].CID < candidates[j].CID })
		return candidates, nil
	})
}

// Candidate returns the candidate at addr
func (c *Client) Candidate(ctx context.Context, addr address.Address) (cache.Cached[view.CandidateView], error) {
	return cache.Load(ctx, c.cache, CandidateKey(addr), func(ctx context.Context) (view.CandidateView, error) {
		acct, err := c.ledger.GetAccountInfo(ctx, addr, c.commitment)
		if err != nil {
			return view.CandidateView{}, err
		}
		if acct == nil {
			return view.CandidateView{}, clienterr.NotFound("candidate", "candidate "+addr.String())
		}
		return c.decodeCandidate(addr, acct.Data)
	})
}

// HasVoted reports whether voter has voted in poll pollID. A voter account
// that does not exist means no vote.
func (c *Client) HasVoted(ctx context.Context, pollID uint64, voter address.Address) (cache.Cached[view.VoterView], error) {
	addr, err := c.builder.PDAs.Voter(pollID, voter)
	if err != nil {
		return cache.Cached[view.VoterView]{}, err
	}
	return cache.Load(ctx, c.cache, VoterKey(addr), func(ctx context.Context) (view.VoterView, error) {
		acct, err := c.ledger.GetAccountInfo(ctx, addr, c.commitment)
		if err != nil {
			return view.VoterView{}, err
		}
		if acct == nil {
			return view.NormalizeVoter(addr, nil), nil
		}
		v, err := encoding.DecodeVoter(acct.Data)
		if err != nil {
			return view.VoterView{}, fmt.Errorf("voter %s: %w", addr, err)
		}
		return view.NormalizeVoter(addr, v), nil
	})
}

// fetchCounter reads the poll counter bypassing the cache. It returns nil
// when the counter does not exist yet.
func (c *Client) fetchCounter(ctx context.Context) (*encoding.Counter, error) {
	addr, err := c.builder.PDAs.Counter()
	if err != nil {
		return nil, err
	}
	acct, err := c.ledger.GetAccountInfo(ctx, addr, c.commitment)
	if err != nil || acct == nil {
		return nil, err
	}
	return encoding.DecodeCounter(acct.Data)
}

// fetchRegisterations reads the registerations counter bypassing the cache
func (c *Client) fetchRegisterations(ctx context.Context) (*encoding.Registerations, error) {
	addr, err := c.builder.PDAs.Registerations()
	if err != nil {
		return nil, err
	}
	acct, err := c.ledger.GetAccountInfo(ctx, addr, c.commitment)
	if err != nil || acct == nil {
		return nil, err
	}
	return encoding.DecodeRegisterations(acct.Data)
}

func (c *Client) normalizeCount(n uint64) (view.CounterView, error) {
	v, err := view.NormalizeCounter(n)
	if err != nil {
		c.log.WithError(err).Error("counter out of safe range")
	}
	return v, err
}

func (c *Client) decodePoll(addr address.Address, data []byte) (view.PollView, error) {
	raw, err := encoding.DecodePoll(data)
	if err != nil {
		return view.PollView{}, fmt.Errorf("poll %s: %w", addr, err)
	}
	p, err := view.NormalizePoll(addr, raw)
	if err != nil {
		c.log.WithError(err).WithField("poll", addr).Error("poll out of safe range")
	}
	return p, err
}

func (c *Client) decodeCandidate(addr address.Address, data []byte) (view.CandidateView, error) {
	raw, err := encoding.DecodeCandidate(data)
	if err != nil {
		return view.CandidateView{}, fmt.Errorf("candidate %s: %w", addr, err)
	}
	cand, err := view.NormalizeCandidate(addr, raw)
	if err != nil {
		c.log.WithError(err).WithField("candidate", addr).Error("candidate out of safe range")
	}
	return cand, err
}
