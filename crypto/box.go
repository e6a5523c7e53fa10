package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const (
	// KeySize is the raw size of X25519 public and private keys.
	KeySize = 32

	seedSalt    = "meshchat/key-seed/v1"
	seedTime    = 1
	seedMemory  = 64 * 1024
	seedThreads = 4
)

var (
	// ErrDecryptionFailed indicates the ciphertext could not be opened with the given key.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
	// ErrInvalidKey indicates a key blob is not a valid encoded X25519 key.
	ErrInvalidKey = errors.New("crypto: invalid key")
)

// KeyPair is a node identity. Both halves are opaque text blobs to callers.
type KeyPair struct {
	Private string
	Public  string
}

// KeyProvider produces key pairs and encrypts addressed payloads.
type KeyProvider interface {
	GenerateKeyPair(seed string) (KeyPair, error)
	Encrypt(publicKey string, plaintext []byte) ([]byte, error)
	Decrypt(privateKey string, ciphertext []byte) ([]byte, error)
}

// BoxProvider implements KeyProvider with X25519 keys and NaCl anonymous sealed boxes.
type BoxProvider struct {
	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
}

// NewBoxProvider returns a provider backed by crypto/rand.
func NewBoxProvider() *BoxProvider {
	return &BoxProvider{Rand: rand.Reader}
}

func (p *BoxProvider) random() io.Reader {
	if p == nil || p.Rand == nil {
		return rand.Reader
	}
	return p.Rand
}

// GenerateKeyPair creates a key pair. A non-empty seed derives the private key
// deterministically, so the same password always yields the same identity.
func (p *BoxProvider) GenerateKeyPair(seed string) (KeyPair, error) {
	if seed == "" {
		public, private, err := box.GenerateKey(p.random())
		if err != nil {
			return KeyPair{}, fmt.Errorf("generate X25519 keypair: %w", err)
		}
		return KeyPair{Private: encodeKey(private[:]), Public: encodeKey(public[:])}, nil
	}

	private := argon2.IDKey([]byte(seed), []byte(seedSalt), seedTime, seedMemory, seedThreads, KeySize)
	return keyPairFromPrivate(private)
}

// Encrypt seals plaintext so only the holder of the matching private key can open it.
func (p *BoxProvider) Encrypt(publicKey string, plaintext []byte) ([]byte, error) {
	recipient, err := decodeKey(publicKey)
	if err != nil {
		return nil, err
	}

	sealed, err := box.SealAnonymous(nil, plaintext, recipient, p.random())
	if err != nil {
		return nil, fmt.Errorf("seal message: %w", err)
	}
	return sealed, nil
}

// Decrypt opens a sealed box with privateKey.
func (p *BoxProvider) Decrypt(privateKey string, ciphertext []byte) ([]byte, error) {
	private, err := decodeKey(privateKey)
	if err != nil {
		return nil, err
	}
	publicRaw, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	var public [KeySize]byte
	copy(public[:], publicRaw)

	if len(ciphertext) < box.AnonymousOverhead {
		return nil, ErrDecryptionFailed
	}
	plaintext, ok := box.OpenAnonymous(nil, ciphertext, &public, private)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// PublicKeyFor returns the encoded public key matching an encoded private key.
func PublicKeyFor(privateKey string) (string, error) {
	private, err := decodeKey(privateKey)
	if err != nil {
		return "", err
	}
	pair, err := keyPairFromPrivate(private[:])
	if err != nil {
		return "", err
	}
	return pair.Public, nil
}

func keyPairFromPrivate(private []byte) (KeyPair, error) {
	if len(private) != KeySize {
		return KeyPair{}, fmt.Errorf("%w: private key size %d", ErrInvalidKey, len(private))
	}
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return KeyPair{Private: encodeKey(private), Public: encodeKey(public)}, nil
}

func encodeKey(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

func decodeKey(encoded string) (*[KeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes want %d", ErrInvalidKey, len(raw), KeySize)
	}
	var key [KeySize]byte
	copy(key[:], raw)
	return &key, nil
}
