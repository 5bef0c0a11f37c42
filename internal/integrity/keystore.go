package integrity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ComputeHeavy/gonk/internal/gonk"
)

// KeyStore holds per-author Ed25519 key material for signature mode. Each
// author has a <name>.key file under the key directory containing the
// hex-encoded 32-byte seed. Public keys are derived from the seed.
type KeyStore struct {
	dir string
}

func NewKeyStore(dir string) (*KeyStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	return &KeyStore{dir: dir}, nil
}

func (ks *KeyStore) keyPath(author string) string {
	return filepath.Join(ks.dir, author+".key")
}

// Generate creates a new keypair for author. Generating over an existing key
// is an error; rotate by removing the old key file first.
func (ks *KeyStore) Generate(author string) error {
	path := ks.keyPath(author)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("key already exists for %s", author)
	}
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return fmt.Errorf("generating key seed: %w", err)
	}
	data := hex.EncodeToString(seed) + "\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

// ImportSeed installs an externally generated hex seed for author.
func (ks *KeyStore) ImportSeed(author, seedHex string) error {
	seed, err := hex.DecodeString(strings.TrimSpace(seedHex))
	if err != nil {
		return fmt.Errorf("parsing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	path := ks.keyPath(author)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("key already exists for %s", author)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)+"\n"), 0600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

// Has reports whether a key exists for author.
func (ks *KeyStore) Has(author string) bool {
	_, err := os.Stat(ks.keyPath(author))
	return err == nil
}

func (ks *KeyStore) seed(author string) ([]byte, error) {
	data, err := os.ReadFile(ks.keyPath(author))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gonk.NotFoundf("key", "%s", author)
		}
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing key file for %s: %w", author, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key file for %s has wrong seed length %d", author, len(seed))
	}
	return seed, nil
}

// SigningKey returns the author's private key.
func (ks *KeyStore) SigningKey(author string) (ed25519.PrivateKey, error) {
	seed, err := ks.seed(author)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// PublicKey returns the author's public key.
func (ks *KeyStore) PublicKey(author string) (ed25519.PublicKey, error) {
	priv, err := ks.SigningKey(author)
	if err != nil {
		return nil, err
	}
	return priv.Public().(ed25519.PublicKey), nil
}
