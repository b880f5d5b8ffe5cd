package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Keyring owns the server's signing keypair. It is created once at startup
// and is read-only afterwards, so it is safe for concurrent use.
type Keyring struct {
	private ed25519.PrivateKey
	public  PublicKey
}

// NewKeyring wraps an existing private key.
func NewKeyring(priv ed25519.PrivateKey) (*Keyring, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length %d", len(priv))
	}
	pub, err := PublicKeyFromBytes(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Keyring{private: priv, public: pub}, nil
}

// GenerateKeyring creates a keyring with a fresh random keypair.
func GenerateKeyring() (*Keyring, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}
	return NewKeyring(priv)
}

// LoadOrCreateKeyring loads the PEM (PKCS8) key at path, generating and
// persisting a new one with 0600 permissions when the file is missing or
// empty.
func LoadOrCreateKeyring(path string) (*Keyring, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && info.Size() == 0) {
		kr, err := GenerateKeyring()
		if err != nil {
			return nil, err
		}
		if err := kr.Save(path); err != nil {
			return nil, err
		}
		return kr, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat signing key: %w", err)
	}
	return LoadKeyring(path)
}

// LoadKeyring reads a PEM encoded PKCS8 Ed25519 private key.
func LoadKeyring(path string) (*Keyring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block from key file")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing signing key: %w", err)
	}

	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("key is not an ed25519 private key")
	}

	return NewKeyring(priv)
}

// Save writes the private key to path as PEM encoded PKCS8.
func (k *Keyring) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}

	der, err := x509.MarshalPKCS8PrivateKey(k.private)
	if err != nil {
		return fmt.Errorf("encoding signing key: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening key file: %w", err)
	}
	defer f.Close()

	return pem.Encode(f, &pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// ServerPublicKey returns the public half of the server keypair.
func (k *Keyring) ServerPublicKey() PublicKey {
	return k.public
}

// Sign signs message with the server private key.
func (k *Keyring) Sign(message []byte) []byte {
	return ed25519.Sign(k.private, message)
}
