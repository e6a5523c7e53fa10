package crypto

import (
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const privateKeyPEMType = "X25519 PRIVATE KEY"

// EnsureKeyPair loads the private key at path, generating and saving a new one if absent.
func EnsureKeyPair(path string, provider KeyProvider) (KeyPair, error) {
	pair, err := LoadKeyPair(path)
	if err == nil {
		return pair, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return KeyPair{}, err
	}

	pair, err = provider.GenerateKeyPair("")
	if err != nil {
		return KeyPair{}, err
	}
	if err := SavePrivateKey(path, pair.Private); err != nil {
		return KeyPair{}, err
	}

	return pair, nil
}

// LoadKeyPair reads a PEM private key file and derives its public half.
func LoadKeyPair(path string) (KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return KeyPair{}, fmt.Errorf("read private key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return KeyPair{}, fmt.Errorf("decode private key PEM: no PEM block")
	}
	if block.Type != privateKeyPEMType {
		return KeyPair{}, fmt.Errorf("decode private key PEM: unexpected type %q", block.Type)
	}
	if len(block.Bytes) != KeySize {
		return KeyPair{}, fmt.Errorf("decode private key PEM: invalid private key size %d", len(block.Bytes))
	}

	return keyPairFromPrivate(block.Bytes)
}

// SavePrivateKey writes an encoded private key as a PEM file with 0600 permissions.
func SavePrivateKey(path, privateKey string) error {
	key, err := decodeKey(privateKey)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	block := &pem.Block{
		Type:  privateKeyPEMType,
		Bytes: key[:],
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}

	return nil
}
