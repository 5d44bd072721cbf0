package program

import (
	"fmt"

	"github.com/yourusername/votesphere/pkg/address"
)

// Seed tags used by the voting program
const (
	SeedCounter        = "counter"
	SeedRegisterations = "registerations"
	SeedVoter          = "voter"
)

// PDAs derives every program-owned address the voting program uses. It is
// the only place seeds are assembled.
type PDAs struct {
	ProgramID address.Address
}

func (p PDAs) find(what string, seeds [][]byte) (address.Address, error) {
	addr, _, err := address.FindProgramAddress(seeds, p.ProgramID)
	if err != nil {
		return address.Address{}, fmt.Errorf("derive %s: %w", what, err)
	}
	return addr, nil
}

// Counter is the singleton poll counter
func (p PDAs) Counter() (address.Address, error) {
	return p.find("counter", address.Seeds(address.StringSeed(SeedCounter)))
}

// Registerations is the singleton candidate counter
func (p PDAs) Registerations() (address.Address, error) {
	return p.find("registerations", address.Seeds(address.StringSeed(SeedRegisterations)))
}

// Poll is the account of poll pollID
func (p PDAs) Poll(pollID uint64) (address.Address, error) {
	return p.find("poll", address.Seeds(address.U64Seed(pollID)))
}

// Candidate is the account of candidate cid in poll pollID
func (p PDAs) Candidate(pollID, cid uint64) (address.Address, error) {
	return p.find("candidate", address.Seeds(address.U64Seed(pollID), address.U64Seed(cid)))
}

// Voter is the has-voted flag of voter in poll pollID
func (p PDAs) Voter(pollID uint64, voter address.Address) (address.Address, error) {
	return p.find("voter", address.Seeds(address.StringSeed(SeedVoter), address.U64Seed(pollID), voter.Bytes()))
}
