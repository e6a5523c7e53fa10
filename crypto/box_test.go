package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	provider := NewBoxProvider()
	pair, err := provider.GenerateKeyPair("")
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	plaintext := []byte("hello over the mesh")
	ciphertext, err := provider.Encrypt(pair.Public, plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatalf("ciphertext leaks plaintext")
	}

	decrypted, err := provider.Decrypt(pair.Private, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("decrypted plaintext does not match original")
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	provider := NewBoxProvider()
	alice, err := provider.GenerateKeyPair("")
	if err != nil {
		t.Fatalf("generate alice keypair: %v", err)
	}
	bob, err := provider.GenerateKeyPair("")
	if err != nil {
		t.Fatalf("generate bob keypair: %v", err)
	}

	ciphertext, err := provider.Encrypt(alice.Public, []byte("for alice only"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err := provider.Decrypt(bob.Private, ciphertext); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecryptRejectsCorruptedCiphertext(t *testing.T) {
	provider := NewBoxProvider()
	pair, err := provider.GenerateKeyPair("")
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	ciphertext, err := provider.Encrypt(pair.Public, []byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xff

	if _, err := provider.Decrypt(pair.Private, ciphertext); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
	if _, err := provider.Decrypt(pair.Private, []byte("short")); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed for truncated ciphertext, got %v", err)
	}
}

func TestSeededKeyPairIsDeterministic(t *testing.T) {
	provider := NewBoxProvider()

	first, err := provider.GenerateKeyPair("correct horse")
	if err != nil {
		t.Fatalf("first GenerateKeyPair failed: %v", err)
	}
	second, err := provider.GenerateKeyPair("correct horse")
	if err != nil {
		t.Fatalf("second GenerateKeyPair failed: %v", err)
	}
	other, err := provider.GenerateKeyPair("battery staple")
	if err != nil {
		t.Fatalf("other GenerateKeyPair failed: %v", err)
	}

	if first != second {
		t.Fatalf("expected same seed to produce the same key pair")
	}
	if first.Public == other.Public {
		t.Fatalf("expected different seeds to produce different keys")
	}

	public, err := PublicKeyFor(first.Private)
	if err != nil {
		t.Fatalf("PublicKeyFor failed: %v", err)
	}
	if public != first.Public {
		t.Fatalf("PublicKeyFor mismatch: got %q want %q", public, first.Public)
	}
}

func TestEncryptRejectsInvalidKey(t *testing.T) {
	provider := NewBoxProvider()

	if _, err := provider.Encrypt("not base64!", []byte("x")); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := provider.Encrypt("c2hvcnQ=", []byte("x")); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for short key, got %v", err)
	}
}
