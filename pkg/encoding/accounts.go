package encoding

import (
	"fmt"

	"github.com/yourusername/votesphere/pkg/crypto"
)

// Account type names as declared by the program
const (
	AccountCounter        = "Counter"
	AccountRegisterations = "Registerations"
	AccountPoll           = "Poll"
	AccountCandidate      = "Candidate"
	AccountVoter          = "Voter"
)

// Byte offsets used for server-side memcmp filtering
const (
	// CandidatePollIDOffset is where Candidate.PollID starts in account data
	CandidatePollIDOffset = crypto.DiscriminatorSize + 8
)

// Discriminators for each account type
var (
	CounterDiscriminator        = crypto.AccountDiscriminator(AccountCounter)
	RegisterationsDiscriminator = crypto.AccountDiscriminator(AccountRegisterations)
	PollDiscriminator           = crypto.AccountDiscriminator(AccountPoll)
	CandidateDiscriminator      = crypto.AccountDiscriminator(AccountCandidate)
	VoterDiscriminator          = crypto.AccountDiscriminator(AccountVoter)
)

// Counter is the singleton holding the number of polls created
type Counter struct {
	Count uint64
}

// Registerations is the singleton holding the number of candidates registered
// across all polls. The spelling matches the program's account name.
type Registerations struct {
	Count uint64
}

// Poll is a poll account as stored on the ledger. Start and End are unix seconds.
type Poll struct {
	ID          uint64
	Description string
	Start       uint64
	End         uint64
	Candidates  uint64
}

// Candidate is a candidate account as stored on the ledger
type Candidate struct {
	CID           uint64
	PollID        uint64
	Name          string
	Votes         uint64
	HasRegistered bool
}

// Voter marks that a voter has voted in a poll
type Voter struct {
	HasVoted bool
}

// EncodeCounter encodes a Counter account
func EncodeCounter(c *Counter) []byte {
	e := NewEncoder()
	e.WriteDiscriminator(CounterDiscriminator)
	e.WriteU64(c.Count)
	return e.Bytes()
}

// DecodeCounter decodes a Counter account
func DecodeCounter(data []byte) (*Counter, error) {
	d := NewDecoder(data)
	d.ExpectDiscriminator(CounterDiscriminator)
	c := &Counter{Count: d.ReadU64()}
	if d.Error() != nil {
		return nil, fmt.Errorf("decode counter: %w", d.Error())
	}
	return c, nil
}

// EncodeRegisterations encodes a Registerations account
func EncodeRegisterations(r *Registerations) []byte {
	e := NewEncoder()
	e.WriteDiscriminator(RegisterationsDiscriminator)
	e.WriteU64(r.Count)
	return e.Bytes()
}

// DecodeRegisterations decodes a Registerations account
func DecodeRegisterations(data []byte) (*Registerations, error) {
	d := NewDecoder(data)
	d.ExpectDiscriminator(RegisterationsDiscriminator)
	r := &Registerations{Count: d.ReadU64()}
	if d.Error() != nil {
		return nil, fmt.Errorf("decode registerations: %w", d.Error())
	}
	return r, nil
}

// EncodePoll encodes a Poll account
func EncodePoll(p *Poll) ([]byte, error) {
	e := NewEncoder()
	e.WriteDiscriminator(PollDiscriminator)
	e.WriteU64(p.ID)
	if err := e.WriteString(p.Description); err != nil {
		return nil, fmt.Errorf("encode poll description: %w", err)
	}
	e.WriteU64(p.Start)
	e.WriteU64(p.End)
	e.WriteU64(p.Candidates)
	return e.Bytes(), nil
}

// DecodePoll decodes a Poll account. Bytes after the last field are
// allocation padding and are ignored.
func DecodePoll(data []byte) (*Poll, error) {
	d := NewDecoder(data)
	d.ExpectDiscriminator(PollDiscriminator)
	p := &Poll{
		ID:          d.ReadU64(),
		Description: d.ReadString(),
		Start:       d.ReadU64(),
		End:         d.ReadU64(),
		Candidates:  d.ReadU64(),
	}
	if d.Error() != nil {
		return nil, fmt.Errorf("decode poll: %w", d.Error())
	}
	return p, nil
}

// EncodeCandidate encodes a Candidate account
func EncodeCandidate(c *Candidate) ([]byte, error) {
	e := NewEncoder()
	e.WriteDiscriminator(CandidateDiscriminator)
	e.WriteU64(c.CID)
	e.WriteU64(c.PollID)
	if err := e.WriteString(c.Name); err != nil {
		return nil, fmt.Errorf("encode candidate name: %w", err)
	}
	e.WriteU64(c.Votes)
	e.WriteBool(c.HasRegistered)
	return e.Bytes(), nil
}

// DecodeCandidate decodes a Candidate account
func DecodeCandidate(data []byte) (*Candidate, error) {
	d := NewDecoder(data)
	d.ExpectDiscriminator(CandidateDiscriminator)
	c := &Candidate{
		CID:           d.ReadU64(),
		PollID:        d.ReadU64(),
		Name:          d.ReadString(),
		Votes:         d.ReadU64(),
		HasRegistered: d.ReadBool(),
	}
	if d.Error() != nil {
		return nil, fmt.Errorf("decode candidate: %w", d.Error())
	}
	return c, nil
}

// EncodeVoter encodes a Voter account
func EncodeVoter(v *Voter) []byte {
	e := NewEncoder()
	e.WriteDiscriminator(VoterDiscriminator)
	e.WriteBool(v.HasVoted)
	return e.Bytes()
}

// DecodeVoter decodes a Voter account
func DecodeVoter(data []byte) (*Voter, error) {
	d := NewDecoder(data)
	d.ExpectDiscriminator(VoterDiscriminator)
	v := &Voter{HasVoted: d.ReadBool()}
	if d.Error() != nil {
		return nil, fmt.Errorf("decode voter: %w", d.Error())
	}
	return v, nil
}
