// Package txn builds, signs and serializes legacy ledger transactions.
package txn

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/mr-tron/base58"

	"github.com/yourusername/votesphere/pkg/address"
)

// account indexes in compiled instructions are a single byte
const maxAccounts = 256

// Hash is a 32-byte recent blockhash
type Hash [32]byte

// ParseHash decodes a base58 blockhash
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := base58.Decode(s)
	if err != nil {
		return h, fmt.Errorf("txn: invalid blockhash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("txn: blockhash must be 32 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// String returns the base58 form
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// MarshalText implements encoding.TextMarshaler
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// AccountMeta describes one account an instruction touches
type AccountMeta struct {
	Address    address.Address
	IsSigner   bool
	IsWritable bool
}

// Instruction is one program invocation before compilation
type Instruction struct {
	ProgramID address.Address
	Accounts  []AccountMeta
	Data      []byte
}

// MessageHeader counts signer and read-only accounts in the key list
type MessageHeader struct {
	NumRequiredSignatures uint8
	NumReadonlySigned     uint8
	NumReadonlyUnsigned   uint8
}

// CompiledInstruction references accounts by index into Message.AccountKeys
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// Message is the signed portion of a transaction
type Message struct {
	Header          MessageHeader
	AccountKeys     []address.Address
	RecentBlockhash Hash
	Instructions    []CompiledInstruction
}

// NewMessage compiles instructions into a message with payer as the first
// signer. Keys are ordered writable signers, read-only signers, writable
// non-signers, read-only non-signers, first appearance order within each group.
func NewMessage(payer address.Address, blockhash Hash, instructions ...Instruction) (*Message, error) {
	if payer.IsZero() {
		return nil, errors.New("txn: fee payer is required")
	}
	if len(instructions) == 0 {
		return nil, errors.New("txn: at least one instruction is required")
	}

	type flags struct{ signer, writable bool }
	order := []address.Address{payer}
	seen := map[address.Address]*flags{payer: {signer: true, writable: true}}

	add := func(a address.Address, signer, writable bool) {
		f, ok := seen[a]
		if !ok {
			f = &flags{}
			seen[a] = f
			order = append(order, a)
		}
		f.signer = f.signer || signer
		f.writable = f.writable || writable
	}
	for _, ix := range instructions {
		for _, m := range ix.Accounts {
			add(m.Address, m.IsSigner, m.IsWritable)
		}
		add(ix.ProgramID, false, false)
	}
	if len(order) > maxAccounts {
		return nil, fmt.Errorf("txn: %d accounts exceed the limit of %d", len(order), maxAccounts)
	}

	var ws, rs, wn, rn []address.Address
	for _, a := range order {
		f := seen[a]
		switch {
		case f.signer && f.writable:
			ws = append(ws, a)
		case f.signer:
			rs = append(rs, a)
		case f.writable:
			wn = append(wn, a)
		default:
			rn = append(rn, a)
		}
	}

	keys := make([]address.Address, 0, len(order))
	keys = append(keys, ws...)
	keys = append(keys, rs...)
	keys = append(keys, wn...)
	keys = append(keys, rn...)

	index := make(map[address.Address]uint8, len(keys))
	for i, k := range keys {
		index[k] = uint8(i)
	}

	msg := &Message{
		Header: MessageHeader{
			NumRequiredSignatures: uint8(len(ws) + len(rs)),
			NumReadonlySigned:     uint8(len(rs)),
			NumReadonlyUnsigned:   uint8(len(rn)),
		},
		AccountKeys:     keys,
		RecentBlockhash: blockhash,
	}
	for _, ix := range instructions {
		ci := CompiledInstruction{
			ProgramIDIndex: index[ix.ProgramID],
			Accounts:       make([]uint8, len(ix.Accounts)),
			Data:           append([]byte(nil), ix.Data...),
		}
		for i, m := range ix.Accounts {
			ci.Accounts[i] = index[m.Address]
		}
		msg.Instructions = append(msg.Instructions, ci)
	}
	return msg, nil
}

// Signers returns the keys that must sign, in signature order
func (m *Message) Signers() []address.Address {
	return m.AccountKeys[:m.Header.NumRequiredSignatures]
}

// IsWritable reports whether the key at index i is writable
func (m *Message) IsWritable(i int) bool {
	n := len(m.AccountKeys)
	signers := int(m.Header.NumRequiredSignatures)
	if i < signers {
		return i < signers-int(m.Header.NumReadonlySigned)
	}
	return i < n-int(m.Header.NumReadonlyUnsigned)
}

// IsSigner reports whether the key at index i must sign
func (m *Message) IsSigner(i int) bool {
	return i < int(m.Header.NumRequiredSignatures)
}

// Serialize encodes the message in wire format
func (m *Message) Serialize() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(m.Header.NumRequiredSignatures)
	buf.WriteByte(m.Header.NumReadonlySigned)
	buf.WriteByte(m.Header.NumReadonlyUnsigned)

	writeCompactU16(buf, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		buf.Write(k[:])
	}
	buf.Write(m.RecentBlockhash[:])

	writeCompactU16(buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf.WriteByte(ix.ProgramIDIndex)
		writeCompactU16(buf, len(ix.Accounts))
		buf.Write(ix.Accounts)
		writeCompactU16(buf, len(ix.Data))
		buf.Write(ix.Data)
	}
	return buf.Bytes()
}

func readMessage(r *bytes.Reader) (*Message, error) {
	var m Message
	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("txn: read header: %w", err)
	}
	m.Header = MessageHeader{hdr[0], hdr[1], hdr[2]}

	n, err := readCompactU16(r)
	if err != nil {
		return nil, fmt.Errorf("txn: read key count: %w", err)
	}
	m.AccountKeys = make([]address.Address, n)
	for i := range m.AccountKeys {
		if _, err := io.ReadFull(r, m.AccountKeys[i][:]); err != nil {
			return nil, fmt.Errorf("txn: read key %d: %w", i, err)
		}
	}
	if int(m.Header.NumRequiredSignatures) > n ||
		int(m.Header.NumReadonlySigned) > int(m.Header.NumRequiredSignatures) ||
		int(m.Header.NumReadonlyUnsigned) > n-int(m.Header.NumRequiredSignatures) {
		return nil, errors.New("txn: header inconsistent with key count")
	}
	if _, err := io.ReadFull(r, m.RecentBlockhash[:]); err != nil {
		return nil, fmt.Errorf("txn: read blockhash: %w", err)
	}

	count, err := readCompactU16(r)
	if err != nil {
		return nil, fmt.Errorf("txn: read instruction count: %w", err)
	}
	for i := 0; i < count; i++ {
		var ix CompiledInstruction
		if ix.ProgramIDIndex, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("txn: read instruction %d: %w", i, io.ErrUnexpectedEOF)
		}
		if int(ix.ProgramIDIndex) >= n {
			return nil, fmt.Errorf("txn: instruction %d program index out of range", i)
		}
		na, err := readCompactU16(r)
		if err != nil {
			return nil, err
		}
		ix.Accounts = make([]uint8, na)
		if _, err := io.ReadFull(r, ix.Accounts); err != nil {
			return nil, fmt.Errorf("txn: read instruction %d accounts: %w", i, err)
		}
		for _, a := range ix.Accounts {
			if int(a) >= n {
				return nil, fmt.Errorf("txn: instruction %d account index out of range", i)
			}
		}
		nd, err := readCompactU16(r)
		if err != nil {
			return nil, err
		}
		ix.Data = make([]byte, nd)
		if _, err := io.ReadFull(r, ix.Data); err != nil {
			return nil, fmt.Errorf("txn: read instruction %d data: %w", i, err)
		}
		m.Instructions = append(m.Instructions, ix)
	}
	return &m, nil
}

// Instruction resolves compiled instruction i back into addresses
func (m *Message) Instruction(i int) Instruction {
	ci := m.Instructions[i]
	ix := Instruction{
		ProgramID: m.AccountKeys[ci.ProgramIDIndex],
		Data:      ci.Data,
		Accounts:  make([]AccountMeta, len(ci.Accounts)),
	}
	for j, idx := range ci.Accounts {
		ix.Accounts[j] = AccountMeta{
			Address:    m.AccountKeys[idx],
			IsSigner:   m.IsSigner(int(idx)),
			IsWritable: m.IsWritable(int(idx)),
		}
	}
	return ix
}
