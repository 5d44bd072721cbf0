// Package keys manages ed25519 keypairs stored in the ledger CLI's keypair
// file format: a JSON array of the 64 private key bytes.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yourusername/votesphere/pkg/address"
)

// Keypair is a wallet-controlled signing key
type Keypair struct {
	PrivateKey ed25519.PrivateKey
}

// Generate creates a new random keypair
func Generate() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &Keypair{PrivateKey: priv}, nil
}

// FromSeed derives a keypair from a 32-byte seed
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed size: %d", len(seed))
	}
	return &Keypair{PrivateKey: ed25519.NewKeyFromSeed(seed)}, nil
}

// PublicKey returns the ed25519 public key
func (k *Keypair) PublicKey() ed25519.PublicKey {
	return k.PrivateKey.Public().(ed25519.PublicKey)
}

// Address returns the wallet address of the keypair
func (k *Keypair) Address() address.Address {
	var a address.Address
	copy(a[:], k.PublicKey())
	return a
}

// SaveKeyFile writes the keypair to path
func SaveKeyFile(path string, kp *Keypair) error {
	ints := make([]int, len(kp.PrivateKey))
	for i, b := range kp.PrivateKey {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return fmt.Errorf("failed to marshal key file: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Write with restricted permissions (owner read/write only)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}

	return nil
}

// LoadKeyFile reads a keypair from path
func LoadKeyFile(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("key file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key file has %d bytes, want %d", len(ints), ed25519.PrivateKeySize)
	}

	priv := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("key file byte %d out of range: %d", i, v)
		}
		priv[i] = byte(v)
	}

	// The trailing half must be the public key of the leading seed
	kp, err := FromSeed(priv[:ed25519.SeedSize])
	if err != nil {
		return nil, err
	}
	if !kp.PrivateKey.Equal(priv) {
		return nil, fmt.Errorf("key file public key does not match its seed")
	}
	return kp, nil
}

// KeyFileExists checks if a key file exists at path
func KeyFileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
