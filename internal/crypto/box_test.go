package crypto

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/overseer/internal/domain"
)

func testBox(t *testing.T) *Box {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, KeySize)
	box, err := NewBox(key)
	if err != nil {
		t.Fatalf("failed to create box: %v", err)
	}
	return box
}

func TestNewBoxRejectsShortKey(t *testing.T) {
	if _, err := NewBox([]byte("too-short")); err == nil {
		t.Error("expected error for short key")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box := testBox(t)
	plaintext := []byte("postgres://u:p@h/d")

	iv, ciphertext, tag, err := box.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	if len(iv) != NonceSize {
		t.Errorf("expected %d-byte nonce, got %d", NonceSize, len(iv))
	}
	if len(tag) != TagSize {
		t.Errorf("expected %d-byte tag, got %d", TagSize, len(tag))
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Error("ciphertext must not contain the plaintext")
	}

	decrypted, err := box.Decrypt(iv, ciphertext, tag)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("round trip mismatch: got %q", decrypted)
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	box := testBox(t)

	iv, ciphertext, tag, err := box.Encrypt([]byte("sk-ant-api03-sensitive"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	tampered := make([]byte, len(ciphertext))
	copy(tampered, ciphertext)
	tampered[0] ^= 0xff

	_, err = box.Decrypt(iv, tampered, tag)
	if !errors.Is(err, domain.ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptTamperedTag(t *testing.T) {
	box := testBox(t)

	iv, ciphertext, tag, err := box.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	tag[TagSize-1] ^= 0x01
	if _, err := box.Decrypt(iv, ciphertext, tag); !errors.Is(err, domain.ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptWrongNonceLength(t *testing.T) {
	box := testBox(t)
	if _, err := box.Decrypt([]byte{1, 2, 3}, []byte("x"), bytes.Repeat([]byte{0}, TagSize)); !errors.Is(err, domain.ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed, got %v", err)
	}
}

func TestEncryptEmptyPayload(t *testing.T) {
	box := testBox(t)
	if _, _, _, err := box.Encrypt(nil); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestNoncesAreUnique(t *testing.T) {
	box := testBox(t)
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		iv, _, _, err := box.Encrypt([]byte("same plaintext"))
		if err != nil {
			t.Fatal(err)
		}
		if seen[string(iv)] {
			t.Fatal("nonce reuse detected")
		}
		seen[string(iv)] = true
	}
}

func TestLoadKeyFromHexFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	hexKey := "4242424242424242424242424242424242424242424242424242424242424242"
	if err := os.WriteFile(path, []byte(hexKey+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	key, err := LoadKey(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != KeySize {
		t.Errorf("expected %d-byte key, got %d", KeySize, len(key))
	}
}

func TestLoadKeyFromRawFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x7}, KeySize), 0600); err != nil {
		t.Fatal(err)
	}

	key, err := LoadKey(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != KeySize {
		t.Errorf("expected %d-byte key, got %d", KeySize, len(key))
	}
}

func TestLoadKeyMissing(t *testing.T) {
	_, err := LoadKey("", "")
	if !errors.Is(err, domain.ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed for missing key, got %v", err)
	}
}
