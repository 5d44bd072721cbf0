package txn

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"

	"github.com/mr-tron/base58"

	"github.com/yourusername/votesphere/pkg/address"
)

// SignatureSize is the length of an ed25519 signature
const SignatureSize = ed25519.SignatureSize

// MaxPacketSize is the largest serialized transaction the ledger accepts
const MaxPacketSize = 1232

var (
	// ErrMissingSigner is returned when Sign is not given a key for a required signer
	ErrMissingSigner = errors.New("txn: missing key for required signer")
	// ErrUnsigned is returned when a transaction still has an empty signature slot
	ErrUnsigned = errors.New("txn: transaction is not fully signed")
	// ErrBadSignature is returned by Verify for a signature that does not verify
	ErrBadSignature = errors.New("txn: signature verification failed")
	// ErrTooLarge is returned when the serialized transaction exceeds MaxPacketSize
	ErrTooLarge = errors.New("txn: transaction too large")
)

// Signature is an ed25519 transaction signature. The first signature of a
// transaction identifies it on the ledger.
type Signature [SignatureSize]byte

// String returns the base58 form used by the RPC
func (s Signature) String() string {
	return base58.Encode(s[:])
}

// IsZero reports whether the signature slot is empty
func (s Signature) IsZero() bool {
	return s == Signature{}
}

// MarshalText implements encoding.TextMarshaler
func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Signature) UnmarshalText(text []byte) error {
	parsed, err := ParseSignature(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSignature decodes a base58 signature
func ParseSignature(str string) (Signature, error) {
	var s Signature
	b, err := base58.Decode(str)
	if err != nil {
		return s, fmt.Errorf("txn: invalid signature %q: %w", str, err)
	}
	if len(b) != SignatureSize {
		return s, fmt.Errorf("txn: signature must be %d bytes, got %d", SignatureSize, len(b))
	}
	copy(s[:], b)
	return s, nil
}

// Transaction is a message plus one signature per required signer
type Transaction struct {
	Signatures []Signature
	Message    Message
}

// New compiles instructions into an unsigned transaction paid for by payer
func New(payer address.Address, blockhash Hash, instructions ...Instruction) (*Transaction, error) {
	msg, err := NewMessage(payer, blockhash, instructions...)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Signatures: make([]Signature, msg.Header.NumRequiredSignatures),
		Message:    *msg,
	}, nil
}

// Payer returns the fee payer, always the first account key
func (tx *Transaction) Payer() address.Address {
	return tx.Message.AccountKeys[0]
}

// Sign fills the signature slot of every required signer. Keys not required
// by the message are ignored; a required signer without a key is an error.
func (tx *Transaction) Sign(keys ...ed25519.PrivateKey) error {
	byAddr := make(map[address.Address]ed25519.PrivateKey, len(keys))
	for _, k := range keys {
		var a address.Address
		copy(a[:], k.Public().(ed25519.PublicKey))
		byAddr[a] = k
	}

	msg := tx.Message.Serialize()
	signers := tx.Message.Signers()
	if len(tx.Signatures) != len(signers) {
		tx.Signatures = make([]Signature, len(signers))
	}
	for i, s := range signers {
		k, ok := byAddr[s]
		if !ok {
			if tx.Signatures[i].IsZero() {
				return fmt.Errorf("%w: %s", ErrMissingSigner, s)
			}
			continue
		}
		copy(tx.Signatures[i][:], ed25519.Sign(k, msg))
	}
	return nil
}

// Verify checks every signature against its signer's key
func (tx *Transaction) Verify() error {
	msg := tx.Message.Serialize()
	signers := tx.Message.Signers()
	if len(tx.Signatures) != len(signers) {
		return fmt.Errorf("%w: %d signatures for %d signers", ErrUnsigned, len(tx.Signatures), len(signers))
	}
	for i, s := range signers {
		if tx.Signatures[i].IsZero() {
			return fmt.Errorf("%w: slot %d", ErrUnsigned, i)
		}
		if !ed25519.Verify(ed25519.PublicKey(s[:]), msg, tx.Signatures[i][:]) {
			return fmt.Errorf("%w: %s", ErrBadSignature, s)
		}
	}
	return nil
}

// Signature returns the transaction id, the fee payer's signature
func (tx *Transaction) Signature() Signature {
	if len(tx.Signatures) == 0 {
		return Signature{}
	}
	return tx.Signatures[0]
}

// Serialize encodes the transaction in wire format
func (tx *Transaction) Serialize() ([]byte, error) {
	for i, s := range tx.Signatures {
		if s.IsZero() {
			return nil, fmt.Errorf("%w: slot %d", ErrUnsigned, i)
		}
	}
	buf := new(bytes.Buffer)
	writeCompactU16(buf, len(tx.Signatures))
	for _, s := range tx.Signatures {
		buf.Write(s[:])
	}
	buf.Write(tx.Message.Serialize())
	if buf.Len() > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, buf.Len(), MaxPacketSize)
	}
	return buf.Bytes(), nil
}

// Deserialize decodes a wire-format transaction
func Deserialize(data []byte) (*Transaction, error) {
	r := bytes.NewReader(data)
	n, err := readCompactU16(r)
	if err != nil {
		return nil, fmt.Errorf("txn: read signature count: %w", err)
	}
	tx := &Transaction{Signatures: make([]Signature, n)}
	for i := range tx.Signatures {
		if _, err := io.ReadFull(r, tx.Signatures[i][:]); err != nil {
			return nil, fmt.Errorf("txn: read signature %d: %w", i, err)
		}
	}
	msg, err := readMessage(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("txn: %d trailing bytes", r.Len())
	}
	if int(msg.Header.NumRequiredSignatures) != n {
		return nil, fmt.Errorf("txn: %d signatures for %d required signers", n, msg.Header.NumRequiredSignatures)
	}
	tx.Message = *msg
	return tx, nil
}
