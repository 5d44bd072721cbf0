// Package signing issues and verifies the EdDSA-signed session tokens a
// wallet hands out on authorization.
package signing

import "crypto/ed25519"

// AlgEdDSA is the only JWS algorithm accepted for session tokens
const AlgEdDSA = "EdDSA"

// Signer creates JWS signatures
type Signer interface {
	// Sign creates a JWS compact serialization for the given payload
	Sign(payload []byte) (string, error)
	// PublicKey returns the key signatures verify against
	PublicKey() ed25519.PublicKey
}

// Verifier verifies JWS signatures
type Verifier interface {
	// Verify checks a JWS compact serialization and returns its payload
	Verify(jws string) ([]byte, error)
}
