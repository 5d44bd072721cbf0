package signing

import (
	"crypto/ed25519"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

var (
	_ Signer   = (*EdDSASigner)(nil)
	_ Verifier = (*EdDSAVerifier)(nil)
)

// EdDSASigner implements Signer for Ed25519
type EdDSASigner struct {
	privateKey ed25519.PrivateKey
	signer     jose.Signer
}

// NewEdDSASigner creates a new EdDSA signer from an Ed25519 private key
func NewEdDSASigner(privateKey ed25519.PrivateKey) (*EdDSASigner, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid Ed25519 private key size: %d", len(privateKey))
	}

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.EdDSA,
		Key:       privateKey,
	}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, fmt.Errorf("failed to create jose signer: %w", err)
	}

	return &EdDSASigner{
		privateKey: privateKey,
		signer:     signer,
	}, nil
}

// Sign creates a JWS compact serialization for the given payload
func (s *EdDSASigner) Sign(payload []byte) (string, error) {
	jws, err := s.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}

	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize: %w", err)
	}

	return compact, nil
}

// PublicKey returns the signer's public key
func (s *EdDSASigner) PublicKey() ed25519.PublicKey {
	return s.privateKey.Public().(ed25519.PublicKey)
}

// EdDSAVerifier implements Verifier for Ed25519
type EdDSAVerifier struct {
	publicKey ed25519.PublicKey
}

// NewEdDSAVerifier creates a new EdDSA verifier from an Ed25519 public key
func NewEdDSAVerifier(publicKey ed25519.PublicKey) (*EdDSAVerifier, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid Ed25519 public key size: %d", len(publicKey))
	}

	return &EdDSAVerifier{
		publicKey: publicKey,
	}, nil
}

// Verify verifies a JWS compact serialization and returns its payload
func (v *EdDSAVerifier) Verify(compact string) ([]byte, error) {
	jws, err := jose.ParseSigned(compact, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWS: %w", err)
	}

	payload, err := jws.Verify(v.publicKey)
	if err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}

	return payload, nil
}
