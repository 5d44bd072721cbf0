package encoding

import (
	"bytes"
	"fmt"

	"github.com/yourusername/votesphere/pkg/crypto"
)

// Instruction names as declared by the program
const (
	InstructionInitialize        = "initialize"
	InstructionCreatePoll        = "create_poll"
	InstructionRegisterCandidate = "register_candidate"
	InstructionVote              = "vote"
)

var instructionDiscriminators = map[string]crypto.Discriminator{
	InstructionInitialize:        crypto.InstructionDiscriminator(InstructionInitialize),
	InstructionCreatePoll:        crypto.InstructionDiscriminator(InstructionCreatePoll),
	InstructionRegisterCandidate: crypto.InstructionDiscriminator(InstructionRegisterCandidate),
	InstructionVote:              crypto.InstructionDiscriminator(InstructionVote),
}

// CreatePollArgs are the create_poll instruction arguments
type CreatePollArgs struct {
	Description string
	Start       uint64
	End         uint64
}

// RegisterCandidateArgs are the register_candidate instruction arguments
type RegisterCandidateArgs struct {
	PollID uint64
	Name   string
}

// VoteArgs are the vote instruction arguments
type VoteArgs struct {
	PollID      uint64
	CandidateID uint64
}

// EncodeInitialize encodes the argument-less initialize instruction
func EncodeInitialize() []byte {
	d := instructionDiscriminators[InstructionInitialize]
	return append([]byte(nil), d[:]...)
}

// EncodeCreatePoll encodes create_poll instruction data
func EncodeCreatePoll(a CreatePollArgs) ([]byte, error) {
	e := NewEncoder()
	e.WriteDiscriminator(instructionDiscriminators[InstructionCreatePoll])
	if err := e.WriteString(a.Description); err != nil {
		return nil, err
	}
	e.WriteU64(a.Start)
	e.WriteU64(a.End)
	return e.Bytes(), nil
}

// EncodeRegisterCandidate encodes register_candidate instruction data
func EncodeRegisterCandidate(a RegisterCandidateArgs) ([]byte, error) {
	e := NewEncoder()
	e.WriteDiscriminator(instructionDiscriminators[InstructionRegisterCandidate])
	e.WriteU64(a.PollID)
	if err := e.WriteString(a.Name); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// EncodeVote encodes vote instruction data
func EncodeVote(a VoteArgs) []byte {
	e := NewEncoder()
	e.WriteDiscriminator(instructionDiscriminators[InstructionVote])
	e.WriteU64(a.PollID)
	e.WriteU64(a.CandidateID)
	return e.Bytes()
}

// DecodeInstruction identifies instruction data and decodes its arguments.
// args is nil for initialize, otherwise one of *CreatePollArgs,
// *RegisterCandidateArgs or *VoteArgs.
func DecodeInstruction(data []byte) (name string, args any, err error) {
	if len(data) < crypto.DiscriminatorSize {
		return "", nil, fmt.Errorf("instruction data too short: %d bytes", len(data))
	}
	for n, disc := range instructionDiscriminators {
		if bytes.Equal(data[:crypto.DiscriminatorSize], disc[:]) {
			name = n
			break
		}
	}
	if name == "" {
		return "", nil, fmt.Errorf("%w: unknown instruction %x", ErrDiscriminator, data[:crypto.DiscriminatorSize])
	}

	d := NewDecoder(data[crypto.DiscriminatorSize:])
	switch name {
	case InstructionCreatePoll:
		args = &CreatePollArgs{
			Description: d.ReadString(),
			Start:       d.ReadU64(),
			End:         d.ReadU64(),
		}
	case InstructionRegisterCandidate:
		args = &RegisterCandidateArgs{
			PollID: d.ReadU64(),
			Name:   d.ReadString(),
		}
	case InstructionVote:
		args = &VoteArgs{
			PollID:      d.ReadU64(),
			CandidateID: d.ReadU64(),
		}
	}
	if d.Error() != nil {
		return "", nil, fmt.Errorf("decode %s: %w", name, d.Error())
	}
	return name, args, nil
}
