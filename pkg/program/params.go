package program

import (
	"math"
	"unicode/utf8"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/clienterr"
)

// Length limits enforced by the program
const (
	MaxDescriptionLength = 280
	MaxNameLength        = 32
)

// CreatePollParams describes a new poll. Start and End are unix seconds.
// CurrentCount is the poll counter as last read from the ledger; the new
// poll takes id CurrentCount+1.
type CreatePollParams struct {
	Description  string
	Start        uint64
	End          uint64
	CurrentCount uint64
}

// PollID is the id the new poll will be created under
func (p CreatePollParams) PollID() uint64 {
	return p.CurrentCount + 1
}

// Validate checks the parameters against the program's limits
func (p CreatePollParams) Validate() error {
	if err := validateText(KindCreatePoll, "description", p.Description, MaxDescriptionLength); err != nil {
		return err
	}
	if p.Start >= p.End {
		return invalid(KindCreatePoll, "start %d must be before end %d", p.Start, p.End)
	}
	if p.CurrentCount == math.MaxUint64 {
		return invalid(KindCreatePoll, "poll counter is exhausted")
	}
	return nil
}

// RegisterCandidateParams describes a candidate registration.
// CurrentRegisterations is the registerations counter as last read from the
// ledger; the candidate takes id CurrentRegisterations+1.
type RegisterCandidateParams struct {
	PollID                uint64
	Name                  string
	CurrentRegisterations uint64
}

// CandidateID is the id the candidate will be registered under
func (p RegisterCandidateParams) CandidateID() uint64 {
	return p.CurrentRegisterations + 1
}

// Validate checks the parameters against the program's limits
func (p RegisterCandidateParams) Validate() error {
	if err := validateText(KindRegisterCandidate, "name", p.Name, MaxNameLength); err != nil {
		return err
	}
	if p.CurrentRegisterations == math.MaxUint64 {
		return invalid(KindRegisterCandidate, "registerations counter is exhausted")
	}
	return nil
}

// VoteParams selects the candidate to vote for
type VoteParams struct {
	PollID      uint64
	CandidateID uint64
}

func validateText(kind Kind, field, s string, max int) error {
	switch {
	case s == "":
		return invalid(kind, "%s is required", field)
	case len(s) > max:
		return invalid(kind, "%s is %d bytes, limit is %d", field, len(s), max)
	case !utf8.ValidString(s):
		return invalid(kind, "%s is not valid UTF-8", field)
	}
	return nil
}

func validatePayer(kind Kind, payer address.Address) error {
	if payer.IsZero() {
		return invalid(kind, "payer public key is required")
	}
	return nil
}

func invalid(kind Kind, format string, args ...any) error {
	return clienterr.Validation(string(kind), format, args...)
}
