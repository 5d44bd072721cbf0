// Package address derives and formats ledger account addresses.
//
// Program-derived addresses are computed exactly as the ledger runtime does:
// sha256 over the seeds, the program id and a fixed marker, rejecting any
// result that decodes as an ed25519 public key. Every other package derives
// addresses through this package and never inline.
package address

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"github.com/yourusername/votesphere/pkg/crypto"
)

const (
	// Size is the byte length of an address
	Size = 32
	// MaxSeedLength is the longest single seed the runtime accepts
	MaxSeedLength = 32
	// MaxSeeds is the maximum seed count, including the bump byte
	MaxSeeds = 16

	pdaMarker = "ProgramDerivedAddress"
)

var (
	// ErrMaxSeedLength is returned when a seed is longer than MaxSeedLength
	ErrMaxSeedLength = errors.New("address: seed longer than 32 bytes")
	// ErrTooManySeeds is returned when more than MaxSeeds seeds are supplied
	ErrTooManySeeds = errors.New("address: too many seeds")
	// ErrOnCurve is returned by CreateProgramAddress when the hash is a valid
	// ed25519 point and therefore could have a private key.
	ErrOnCurve = errors.New("address: derived address is on the ed25519 curve")
	// ErrNoViableBump is returned by FindProgramAddress when every bump
	// from 255 down to 1 lands on the curve.
	ErrNoViableBump = errors.New("address: no viable bump seed")
)

// SystemProgram is the address of the ledger's account-creation program
var SystemProgram = Address{}

// Address is a 32-byte account identifier
type Address [Size]byte

// FromBytes copies a 32-byte slice into an Address
func FromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != Size {
		return a, fmt.Errorf("address: expected %d bytes, got %d", Size, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Parse decodes the base58 text form of an address
func Parse(s string) (Address, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("address: invalid base58 %q: %w", s, err)
	}
	return FromBytes(b)
}

// MustParse is Parse for compile-time constants; it panics on bad input.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the base58 text form
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns a copy of the address bytes
func (a Address) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, a[:])
	return b
}

// IsZero reports whether a is the all-zero address
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText implements encoding.TextMarshaler
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// IsOnCurve reports whether b decodes as a point on the ed25519 curve.
// Non-canonical encodings of valid points count as on-curve, matching the runtime.
func IsOnCurve(b []byte) bool {
	if len(b) != Size {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress computes the address for an exact seed list, bump included.
func CreateProgramAddress(seeds [][]byte, programID Address) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, ErrTooManySeeds
	}

	parts := make([][]byte, 0, len(seeds)+2)
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Address{}, ErrMaxSeedLength
		}
		parts = append(parts, seed)
	}
	parts = append(parts, programID[:], []byte(pdaMarker))

	hash := crypto.SHA256Parts(parts...)
	if IsOnCurve(hash[:]) {
		return Address{}, ErrOnCurve
	}
	return Address(hash), nil
}

// FindProgramAddress searches bumps from 255 downward and returns the first
// off-curve address together with the bump that produced it.
func FindProgramAddress(seeds [][]byte, programID Address) (Address, uint8, error) {
	if len(seeds) > MaxSeeds-1 {
		return Address{}, 0, ErrTooManySeeds
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	bump := []byte{0}

	for b := 255; b > 0; b-- {
		bump[0] = uint8(b)
		withBump[len(seeds)] = bump

		addr, err := CreateProgramAddress(withBump, programID)
		switch {
		case err == nil:
			return addr, uint8(b), nil
		case errors.Is(err, ErrOnCurve):
			continue
		default:
			return Address{}, 0, err
		}
	}
	return Address{}, 0, ErrNoViableBump
}
