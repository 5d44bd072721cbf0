package ledgertest

import (
	"encoding/json"
	"fmt"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/encoding"
	"github.com/yourusername/votesphere/pkg/program"
	"github.com/yourusername/votesphere/pkg/txn"
)

// Error codes the program and runtime raise
const (
	codeAccountAlreadyInUse   uint32 = 0
	codeInsufficientLamports  uint32 = 1
	codeConstraintSeeds       uint32 = 2006
	codeAccountNotInitialized uint32 = 3012
)

// txError is a transaction error in the ledger's JSON form plus the
// program logs that explain it
type txError struct {
	value json.RawMessage
	logs  []string
}

func named(name string, logs ...string) *txError {
	raw, _ := json.Marshal(name)
	return &txError{value: raw, logs: logs}
}

func custom(ix int, code uint32, logs ...string) *txError {
	raw, _ := json.Marshal(map[string]any{"InstructionError": []any{ix, map[string]uint32{"Custom": code}}})
	return &txError{value: raw, logs: logs}
}

func instructionErr(ix int, name string, logs ...string) *txError {
	raw, _ := json.Marshal(map[string]any{"InstructionError": []any{ix, name}})
	return &txError{value: raw, logs: logs}
}

// state is a copy-on-write view over the ledger used while a transaction
// runs, so a failing instruction leaves no partial writes
type state struct {
	l        *Ledger
	accounts map[address.Address][]byte
	balances map[address.Address]uint64
}

func (s *state) get(addr address.Address) ([]byte, bool) {
	if data, ok := s.accounts[addr]; ok {
		return data, true
	}
	data, ok := s.l.accounts[addr]
	return data, ok
}

func (s *state) put(addr address.Address, data []byte, space int) {
	if len(data) < space {
		padded := make([]byte, space)
		copy(padded, data)
		data = padded
	}
	s.accounts[addr] = data
}

func (s *state) balance(addr address.Address) uint64 {
	if b, ok := s.balances[addr]; ok {
		return b
	}
	return s.l.balances[addr]
}

func (s *state) debit(ix int, payer address.Address, lamports uint64) *txError {
	b := s.balance(payer)
	if b < lamports {
		return custom(ix, codeInsufficientLamports,
			fmt.Sprintf("Transfer: insufficient lamports %d, need %d", b, lamports))
	}
	s.balances[payer] = b - lamports
	return nil
}

func (s *state) commit() {
	for addr, data := range s.accounts {
		s.l.accounts[addr] = data
	}
	for addr, b := range s.balances {
		s.l.balances[addr] = b
	}
}

// execute runs tx against the ledger. Called with mu held. State is only
// written when every instruction succeeds; chargeFailed also takes the fee
// from a failing transaction, as a landed transaction pays it.
func (l *Ledger) execute(tx *txn.Transaction, chargeFailed bool) *txError {
	if !l.blockhashes[tx.Message.RecentBlockhash] {
		return named("BlockhashNotFound")
	}
	payer := tx.Payer()
	if _, ok := l.balances[payer]; !ok {
		return named("AccountNotFound")
	}
	if l.balances[payer] < l.fee {
		return named("InsufficientFundsForFee")
	}

	st := &state{
		l:        l,
		accounts: make(map[address.Address][]byte),
		balances: map[address.Address]uint64{payer: l.balances[payer] - l.fee},
	}
	for i := range tx.Message.Instructions {
		ix := tx.Message.Instruction(i)
		if ix.ProgramID != l.programID {
			return instructionErr(i, "IncorrectProgramId")
		}
		if err := st.run(i, ix); err != nil {
			if chargeFailed {
				l.balances[payer] -= l.fee
			}
			return err
		}
	}
	st.commit()
	return nil
}

func (s *state) run(i int, ix txn.Instruction) *txError {
	name, args, err := encoding.DecodeInstruction(ix.Data)
	if err != nil {
		return custom(i, 101, "Program log: AnchorError occurred. Error Code: InstructionFallbackNotFound.")
	}
	accounts := make([]address.Address, len(ix.Accounts))
	for j, m := range ix.Accounts {
		accounts[j] = m.Address
	}
	want := map[string]int{
		encoding.InstructionInitialize:        4,
		encoding.InstructionCreatePoll:        4,
		encoding.InstructionRegisterCandidate: 5,
		encoding.InstructionVote:              5,
	}[name]
	if len(accounts) < want {
		return instructionErr(i, "NotEnoughAccountKeys")
	}
	if !ix.Accounts[0].IsSigner {
		return instructionErr(i, "MissingRequiredSignature")
	}

	s.l.log.WithField("instruction", name).Debug("executing")
	switch name {
	case encoding.InstructionInitialize:
		return s.initialize(i, accounts)
	case encoding.InstructionCreatePoll:
		return s.createPoll(i, accounts, args.(*encoding.CreatePollArgs))
	case encoding.InstructionRegisterCandidate:
		return s.registerCandidate(i, accounts, args.(*encoding.RegisterCandidateArgs))
	default:
		return s.vote(i, accounts, args.(*encoding.VoteArgs))
	}
}

func seedsMismatch(i int, account string) *txError {
	return custom(i, codeConstraintSeeds,
		fmt.Sprintf("Program log: AnchorError caused by account: %s. Error Code: ConstraintSeeds.", account))
}

func notInitialized(i int, account string) *txError {
	return custom(i, codeAccountNotInitialized,
		fmt.Sprintf("Program log: AnchorError caused by account: %s. Error Code: AccountNotInitialized.", account))
}

func alreadyInUse(i int, addr address.Address) *txError {
	return custom(i, codeAccountAlreadyInUse,
		fmt.Sprintf("Allocate: account Address { address: %s, base: None } already in use", addr))
}

// create allocates a new program account paid for by payer
func (s *state) create(i int, payer, addr address.Address, data []byte, space int) *txError {
	if _, exists := s.get(addr); exists {
		return alreadyInUse(i, addr)
	}
	if err := s.debit(i, payer, s.l.rent); err != nil {
		return err
	}
	s.put(addr, data, space)
	return nil
}

// accounts: user, counter, registerations, system
func (s *state) initialize(i int, acc []address.Address) *txError {
	counterAddr, _ := s.l.pdas.Counter()
	regsAddr, _ := s.l.pdas.Registerations()
	if acc[1] != counterAddr {
		return seedsMismatch(i, "counter")
	}
	if acc[2] != regsAddr {
		return seedsMismatch(i, "registerations")
	}
	if err := s.create(i, acc[0], counterAddr, encoding.EncodeCounter(&encoding.Counter{}), counterSpace); err != nil {
		return err
	}
	return s.create(i, acc[0], regsAddr, encoding.EncodeRegisterations(&encoding.Registerations{}), counterSpace)
}

// accounts: user, counter, poll, system
func (s *state) createPoll(i int, acc []address.Address, args *encoding.CreatePollArgs) *txError {
	counterAddr, _ := s.l.pdas.Counter()
	if acc[1] != counterAddr {
		return seedsMismatch(i, "counter")
	}
	data, ok := s.get(counterAddr)
	if !ok {
		return notInitialized(i, "counter")
	}
	counter, err := encoding.DecodeCounter(data)
	if err != nil {
		return instructionErr(i, "InvalidAccountData")
	}

	id := counter.Count + 1
	pollAddr, derr := s.l.pdas.Poll(id)
	if derr != nil || acc[2] != pollAddr {
		return seedsMismatch(i, "poll")
	}
	pollData, err := encoding.EncodePoll(&encoding.Poll{
		ID:          id,
		Description: args.Description,
		Start:       args.Start,
		End:         args.End,
	})
	if err != nil {
		return instructionErr(i, "InvalidInstructionData")
	}
	if e := s.create(i, acc[0], pollAddr, pollData, pollSpace); e != nil {
		return e
	}
	s.put(counterAddr, encoding.EncodeCounter(&encoding.Counter{Count: id}), counterSpace)
	return nil
}

// accounts: user, poll, registerations, candidate, system
func (s *state) registerCandidate(i int, acc []address.Address, args *encoding.RegisterCandidateArgs) *txError {
	pollAddr, derr := s.l.pdas.Poll(args.PollID)
	if derr != nil || acc[1] != pollAddr {
		return seedsMismatch(i, "poll")
	}
	pollData, ok := s.get(pollAddr)
	if !ok {
		return notInitialized(i, "poll")
	}
	poll, err := encoding.DecodePoll(pollData)
	if err != nil {
		return instructionErr(i, "InvalidAccountData")
	}

	regsAddr, _ := s.l.pdas.Registerations()
	if acc[2] != regsAddr {
		return seedsMismatch(i, "registerations")
	}
	regsData, ok := s.get(regsAddr)
	if !ok {
		return notInitialized(i, "registerations")
	}
	regs, err := encoding.DecodeRegisterations(regsData)
	if err != nil {
		return instructionErr(i, "InvalidAccountData")
	}

	cid := regs.Count + 1
	candAddr, derr := s.l.pdas.Candidate(args.PollID, cid)
	if derr != nil || acc[3] != candAddr {
		return seedsMismatch(i, "candidate")
	}
	candData, err := encoding.EncodeCandidate(&encoding.Candidate{
		CID:           cid,
		PollID:        args.PollID,
		Name:          args.Name,
		HasRegistered: true,
	})
	if err != nil {
		return instructionErr(i, "InvalidInstructionData")
	}
	if e := s.create(i, acc[0], candAddr, candData, candidateSpace); e != nil {
		return e
	}

	s.put(regsAddr, encoding.EncodeRegisterations(&encoding.Registerations{Count: cid}), counterSpace)
	poll.Candidates++
	updated, err := encoding.EncodePoll(poll)
	if err != nil {
		return instructionErr(i, "InvalidAccountData")
	}
	s.put(pollAddr, updated, pollSpace)
	return nil
}

// accounts: user, poll, candidate, voter, system
func (s *state) vote(i int, acc []address.Address, args *encoding.VoteArgs) *txError {
	pollAddr, derr := s.l.pdas.Poll(args.PollID)
	if derr != nil || acc[1] != pollAddr {
		return seedsMismatch(i, "poll")
	}
	if _, ok := s.get(pollAddr); !ok {
		return notInitialized(i, "poll")
	}

	candAddr, derr := s.l.pdas.Candidate(args.PollID, args.CandidateID)
	if derr != nil || acc[2] != candAddr {
		return seedsMismatch(i, "candidate")
	}
	candData, ok := s.get(candAddr)
	if !ok {
		return notInitialized(i, "candidate")
	}
	cand, err := encoding.DecodeCandidate(candData)
	if err != nil {
		return instructionErr(i, "InvalidAccountData")
	}

	voterAddr, derr := s.l.pdas.Voter(args.PollID, acc[0])
	if derr != nil || acc[3] != voterAddr {
		return seedsMismatch(i, "voter")
	}
	if data, exists := s.get(voterAddr); exists {
		if v, err := encoding.DecodeVoter(data); err == nil && v.HasVoted {
			return custom(i, program.ErrorCodeAlreadyVoted,
				"Program log: AnchorError occurred. Error Code: AlreadyVoted. Error Number: 6000.")
		}
	} else if e := s.debit(i, acc[0], s.l.rent); e != nil {
		return e
	}
	s.put(voterAddr, encoding.EncodeVoter(&encoding.Voter{HasVoted: true}), voterSpace)

	cand.Votes++
	updated, err := encoding.EncodeCandidate(cand)
	if err != nil {
		return instructionErr(i, "InvalidAccountData")
	}
	s.put(candAddr, updated, candidateSpace)
	return nil
}
