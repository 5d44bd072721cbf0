// Package ledgertest is an in-memory ledger running the voting program's
// state transitions, served over the same JSON-RPC and websocket surface as
// a real node. It exists for tests and local experiments.
package ledgertest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/algorand/go-deadlock"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/encoding"
	"github.com/yourusername/votesphere/pkg/logging"
	"github.com/yourusername/votesphere/pkg/program"
	"github.com/yourusername/votesphere/pkg/rpc"
	"github.com/yourusername/votesphere/pkg/txn"
)

// Costs charged to the fee payer
const (
	DefaultFee  uint64 = 5000
	DefaultRent uint64 = 1_000_000
)

// Account sizes allocated by the program, discriminator included
const (
	counterSpace   = 8 + 8
	pollSpace      = 8 + 8 + 4 + program.MaxDescriptionLength + 8 + 8 + 8
	candidateSpace = 8 + 8 + 8 + 4 + program.MaxNameLength + 8 + 1
	voterSpace     = 8 + 1
)

type sigRecord struct {
	slot  uint64
	err   json.RawMessage
	level rpc.Commitment
}

// Ledger is safe for concurrent use
type Ledger struct {
	mu        deadlock.Mutex
	programID address.Address
	pdas      program.PDAs

	accounts map[address.Address][]byte
	balances map[address.Address]uint64
	sigs     map[txn.Signature]*sigRecord

	slot        uint64
	height      uint64
	blockhashes map[txn.Hash]bool

	fee   uint64
	rent  uint64
	stall bool

	calls    map[string]int
	failNext map[string]int
	hooks    []func(*Ledger)
	subs     map[txn.Signature][]chan sigRecord

	log logrus.FieldLogger
}

// New creates an empty ledger hosting the voting program at programID
func New(programID address.Address, log logrus.FieldLogger) *Ledger {
	return &Ledger{
		programID:   programID,
		pdas:        program.PDAs{ProgramID: programID},
		accounts:    make(map[address.Address][]byte),
		balances:    make(map[address.Address]uint64),
		sigs:        make(map[txn.Signature]*sigRecord),
		blockhashes: make(map[txn.Hash]bool),
		fee:         DefaultFee,
		rent:        DefaultRent,
		calls:       make(map[string]int),
		failNext:    make(map[string]int),
		subs:        make(map[txn.Signature][]chan sigRecord),
		log:         logging.OrDiscard(log).WithField("component", "ledgertest"),
	}
}

// ProgramID returns the hosted program's address
func (l *Ledger) ProgramID() address.Address {
	return l.programID
}

// Fund credits lamports to a wallet
func (l *Ledger) Fund(addr address.Address, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] += lamports
}

// Balance returns a wallet's lamports
func (l *Ledger) Balance(addr address.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr]
}

// SetCounter creates or overwrites the poll counter
func (l *Ledger) SetCounter(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr, _ := l.pdas.Counter()
	l.store(addr, encoding.EncodeCounter(&encoding.Counter{Count: n}), counterSpace)
}

// SetRegisterations creates or overwrites the candidate counter
func (l *Ledger) SetRegisterations(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr, _ := l.pdas.Registerations()
	l.store(addr, encoding.EncodeRegisterations(&encoding.Registerations{Count: n}), counterSpace)
}

// AddPoll creates the next poll directly, as another client would, and
// returns its id
func (l *Ledger) AddPoll(description string, start, end uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	counterAddr, _ := l.pdas.Counter()
	counter, err := l.counter(counterAddr)
	if err != nil {
		return 0, err
	}
	id := counter.Count + 1
	pollAddr, err := l.pdas.Poll(id)
	if err != nil {
		return 0, err
	}
	data, err := encoding.EncodePoll(&encoding.Poll{ID: id, Description: description, Start: start, End: end})
	if err != nil {
		return 0, err
	}
	l.store(pollAddr, data, pollSpace)
	l.store(counterAddr, encoding.EncodeCounter(&encoding.Counter{Count: id}), counterSpace)
	return id, nil
}

// AccountData returns the raw data stored at addr
func (l *Ledger) AccountData(addr address.Address) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, ok := l.accounts[addr]
	return append([]byte(nil), data...), ok
}

// Stall stops the ledger from reporting statuses or pushing notifications,
// as if confirmation were slow. Transactions still execute.
func (l *Ledger) Stall(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stall = on
	if !on {
		for sig, rec := range l.sigs {
			l.notify(sig, *rec)
		}
	}
}

// FailNext makes the next n calls of method fail with HTTP 503
func (l *Ledger) FailNext(method string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext[method] = n
}

// Calls returns how many times method was called
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

// BeforeNextExecute runs fn once, just before the next transaction executes.
// fn may call the Ledger's exported methods.
func (l *Ledger) BeforeNextExecute(fn func(*Ledger)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, fn)
}

// SetFee changes the per-transaction fee
func (l *Ledger) SetFee(fee uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fee = fee
}

func (l *Ledger) store(addr address.Address, data []byte, space int) {
	if len(data) < space {
		padded := make([]byte, space)
		copy(padded, data)
		data = padded
	}
	l.accounts[addr] = data
}

func (l *Ledger) counter(addr address.Address) (*encoding.Counter, error) {
	data, ok := l.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("counter not initialized")
	}
	return encoding.DecodeCounter(data)
}

func (l *Ledger) newBlockhash() (txn.Hash, uint64) {
	l.height++
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], l.height)
	h := txn.Hash(sha256.Sum256(append([]byte("blockhash"), seed[:]...)))
	l.blockhashes[h] = true
	return h, l.height + 150
}

// notify is called with mu held
func (l *Ledger) notify(sig txn.Signature, rec sigRecord) {
	if l.stall {
		return
	}
	for _, ch := range l.subs[sig] {
		ch <- rec
	}
	delete(l.subs, sig)
}
