// Package view converts raw ledger accounts into the shapes the UI reads.
//
// Integers are narrowed to int64 only when they fit the safe integer range
// of a float64 (2^53-1), so a value that travels through a JSON number is
// never silently rounded. Poll timestamps are converted from seconds to
// milliseconds here and nowhere else.
package view

import (
	"math/big"
	"time"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/clienterr"
	"github.com/yourusername/votesphere/pkg/encoding"
)

// MaxSafeInteger is the largest integer a float64 represents exactly
const MaxSafeInteger = 1<<53 - 1

var (
	maxSafe      = new(big.Int).SetInt64(MaxSafeInteger)
	millisPerSec = big.NewInt(1000)
)

// SafeInt narrows a ledger u64 to int64, failing with PrecisionLoss when it
// exceeds MaxSafeInteger.
func SafeInt(field string, v uint64) (int64, error) {
	b := new(big.Int).SetUint64(v)
	if b.Cmp(maxSafe) > 0 {
		return 0, clienterr.PrecisionLoss(field, b)
	}
	return b.Int64(), nil
}

// SecondsToMillis converts a ledger timestamp in seconds to milliseconds,
// failing when the result exceeds MaxSafeInteger.
func SecondsToMillis(field string, secs uint64) (int64, error) {
	b := new(big.Int).SetUint64(secs)
	b.Mul(b, millisPerSec)
	if b.Cmp(maxSafe) > 0 {
		return 0, clienterr.PrecisionLoss(field, b)
	}
	return b.Int64(), nil
}

// CounterView is a normalized singleton counter
type CounterView struct {
	Count int64 `json:"count"`
}

// PollView is a normalized poll. StartMs and EndMs are unix milliseconds.
type PollView struct {
	Address     address.Address `json:"address"`
	ID          int64           `json:"id"`
	Description string          `json:"description"`
	StartMs     int64           `json:"start"`
	EndMs       int64           `json:"end"`
	Candidates  int64           `json:"candidates"`
}

// IsActive reports whether voting is open at t
func (p PollView) IsActive(t time.Time) bool {
	ms := t.UnixMilli()
	return ms >= p.StartMs && ms < p.EndMs
}

// CandidateView is a normalized candidate
type CandidateView struct {
	Address       address.Address `json:"address"`
	CID           int64           `json:"cid"`
	PollID        int64           `json:"pollId"`
	Name          string          `json:"name"`
	Votes         int64           `json:"votes"`
	HasRegistered bool            `json:"hasRegistered"`
}

// VoterView reports whether a voter has voted in a poll
type VoterView struct {
	Address  address.Address `json:"address"`
	HasVoted bool            `json:"hasVoted"`
}

// NormalizeCounter normalizes a Counter or Registerations count
func NormalizeCounter(count uint64) (CounterView, error) {
	n, err := SafeInt("count", count)
	if err != nil {
		return CounterView{}, err
	}
	return CounterView{Count: n}, nil
}

// NormalizePoll normalizes a poll account stored at addr
func NormalizePoll(addr address.Address, p *encoding.Poll) (PollView, error) {
	id, err := SafeInt("poll.id", p.ID)
	if err != nil {
		return PollView{}, err
	}
	start, err := SecondsToMillis("poll.start", p.Start)
	if err != nil {
		return PollView{}, err
	}
	end, err := SecondsToMillis("poll.end", p.End)
	if err != nil {
		return PollView{}, err
	}
	candidates, err := SafeInt("poll.candidates", p.Candidates)
	if err != nil {
		return PollView{}, err
	}
	return PollView{
		Address:     addr,
		ID:          id,
		Description: p.Description,
		StartMs:     start,
		EndMs:       end,
		Candidates:  candidates,
	}, nil
}

// Raw converts the view back to the ledger representation
func (p PollView) Raw() *encoding.Poll {
	return &encoding.Poll{
		ID:          uint64(p.ID),
		Description: p.Description,
		Start:       uint64(p.StartMs / 1000),
		End:         uint64(p.EndMs / 1000),
		Candidates:  uint64(p.Candidates),
	}
}

// NormalizeCandidate normalizes a candidate account stored at addr
func NormalizeCandidate(addr address.Address, c *encoding.Candidate) (CandidateView, error) {
	cid, err := SafeInt("candidate.cid", c.CID)
	if err != nil {
		return CandidateView{}, err
	}
	pollID, err := SafeInt("candidate.poll_id", c.PollID)
	if err != nil {
		return CandidateView{}, err
	}
	votes, err := SafeInt("candidate.votes", c.Votes)
	if err != nil {
		return CandidateView{}, err
	}
	return CandidateView{
		Address:       addr,
		CID:           cid,
		PollID:        pollID,
		Name:          c.Name,
		Votes:         votes,
		HasRegistered: c.HasRegistered,
	}, nil
}

// Raw converts the view back to the ledger representation
func (c CandidateView) Raw() *encoding.Candidate {
	return &encoding.Candidate{
		CID:           uint64(c.CID),
		PollID:        uint64(c.PollID),
		Name:          c.Name,
		Votes:         uint64(c.Votes),
		HasRegistered: c.HasRegistered,
	}
}

// NormalizeVoter normalizes a voter account; a nil account means the voter has not voted
func NormalizeVoter(addr address.Address, v *encoding.Voter) VoterView {
	return VoterView{Address: addr, HasVoted: v != nil && v.HasVoted}
}
