package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/crypto"
	"github.com/yourusername/votesphere/pkg/txn"
)

// Commitment is how settled a ledger state must be before it is reported
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Rank orders commitments; unknown values rank below processed
func (c Commitment) Rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether c is as settled as target
func (c Commitment) AtLeast(target Commitment) bool {
	return c.Rank() >= target.Rank() && c.Rank() > 0
}

// Account is the state of one ledger account
type Account struct {
	Lamports   uint64
	Owner      address.Address
	Data       []byte
	Executable bool
	RentEpoch  uint64
}

type accountJSON struct {
	Lamports   uint64    `json:"lamports"`
	Owner      string    `json:"owner"`
	Data       [2]string `json:"data"`
	Executable bool      `json:"executable"`
	RentEpoch  uint64    `json:"rentEpoch"`
	Space      int       `json:"space"`
}

// MarshalJSON emits the base64 account encoding the RPC uses
func (a Account) MarshalJSON() ([]byte, error) {
	return json.Marshal(accountJSON{
		Lamports:   a.Lamports,
		Owner:      a.Owner.String(),
		Data:       [2]string{crypto.EncodeBase64(a.Data), "base64"},
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
		Space:      len(a.Data),
	})
}

// UnmarshalJSON parses the base64 account encoding
func (a *Account) UnmarshalJSON(b []byte) error {
	var raw accountJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Data[1] != "base64" {
		return fmt.Errorf("rpc: unsupported account encoding %q", raw.Data[1])
	}
	owner, err := address.Parse(raw.Owner)
	if err != nil {
		return err
	}
	data, err := crypto.DecodeBase64(raw.Data[0])
	if err != nil {
		return fmt.Errorf("rpc: account data: %w", err)
	}
	*a = Account{
		Lamports:   raw.Lamports,
		Owner:      owner,
		Data:       data,
		Executable: raw.Executable,
		RentEpoch:  raw.RentEpoch,
	}
	return nil
}

// KeyedAccount is one result of getProgramAccounts
type KeyedAccount struct {
	Pubkey  address.Address `json:"pubkey"`
	Account Account         `json:"account"`
}

// Blockhash is a recent blockhash and the last block height it is valid for
type Blockhash struct {
	Blockhash            txn.Hash `json:"blockhash"`
	LastValidBlockHeight uint64   `json:"lastValidBlockHeight"`
}

// SignatureStatus is one entry of getSignatureStatuses
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus Commitment      `json:"confirmationStatus"`
}

// Failed reports whether the transaction executed with an error
func (s *SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// Commitment returns the settlement level. Older nodes omit
// confirmationStatus and report nil confirmations once rooted.
func (s *SignatureStatus) Commitment() Commitment {
	if s.ConfirmationStatus != "" {
		return s.ConfirmationStatus
	}
	if s.Confirmations == nil {
		return CommitmentFinalized
	}
	return CommitmentProcessed
}

// Filter restricts getProgramAccounts results
type Filter struct {
	Memcmp   *Memcmp `json:"memcmp,omitempty"`
	DataSize uint64  `json:"dataSize,omitempty"`
}

// Memcmp matches accounts whose data at Offset equals Bytes (base58)
type Memcmp struct {
	Offset uint64 `json:"offset"`
	Bytes  string `json:"bytes"`
}

// MemcmpFilter builds a memcmp filter for raw bytes
func MemcmpFilter(offset uint64, b []byte) Filter {
	return Filter{Memcmp: &Memcmp{Offset: offset, Bytes: base58.Encode(b)}}
}

// Match reports whether data satisfies the filter
func (f Filter) Match(data []byte) bool {
	if f.DataSize != 0 && uint64(len(data)) != f.DataSize {
		return false
	}
	if f.Memcmp != nil {
		want, err := base58.Decode(f.Memcmp.Bytes)
		if err != nil {
			return false
		}
		end := f.Memcmp.Offset + uint64(len(want))
		if end > uint64(len(data)) {
			return false
		}
		if string(data[f.Memcmp.Offset:end]) != string(want) {
			return false
		}
	}
	return true
}

// SendOptions control sendTransaction
type SendOptions struct {
	SkipPreflight       bool       `json:"skipPreflight"`
	PreflightCommitment Commitment `json:"preflightCommitment,omitempty"`
	Encoding            string     `json:"encoding"`
	MaxRetries          *uint      `json:"maxRetries,omitempty"`
}

type contextResult[T any] struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value T `json:"value"`
}
