package crypto

import (
	"crypto/sha256"
	"encoding/base64"
)

// DiscriminatorSize is the length of an account or instruction discriminator
const DiscriminatorSize = 8

// Discriminator identifies an account type or instruction in the program's binary layout
type Discriminator [DiscriminatorSize]byte

// SHA256 computes SHA-256 hash of data
func SHA256(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:]
}

// SHA256Parts hashes the concatenation of parts without building the joined slice
func SHA256Parts(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// AccountDiscriminator returns the 8-byte prefix the program writes at the
// start of every account of the named type.
func AccountDiscriminator(name string) Discriminator {
	return namespaced("account", name)
}

// InstructionDiscriminator returns the 8-byte selector of a program instruction.
// name is the snake_case instruction name, e.g. "create_poll".
func InstructionDiscriminator(name string) Discriminator {
	return namespaced("global", name)
}

func namespaced(namespace, name string) Discriminator {
	var d Discriminator
	copy(d[:], SHA256([]byte(namespace+":"+name)))
	return d
}

// EncodeBase64 encodes bytes with standard padded base64, the RPC wire encoding
// for account data and transactions.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes standard padded base64
func DecodeBase64(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}
