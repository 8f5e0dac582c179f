package crypto

import (
	"encoding/base64"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBox_EncryptDecryptRoundTrip(t *testing.T) {
	box := NewBox("a-test-secret", discardLogger())

	ciphertext, err := box.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ciphertext == "hunter2" {
		t.Fatal("ciphertext must not equal plaintext")
	}

	plaintext, err := box.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plaintext != "hunter2" {
		t.Fatalf("plaintext = %q, want %q", plaintext, "hunter2")
	}
}

func TestBox_DecryptRejectsTamperedCiphertext(t *testing.T) {
	box := NewBox("a-test-secret", discardLogger())

	ciphertext, err := box.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		t.Fatalf("decoding ciphertext: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(sealed)

	if _, err := box.Decrypt(tampered); err == nil {
		t.Fatal("expected tampered ciphertext to fail authentication")
	}
}

func TestBox_DifferentSecretsProduceDifferentKeys(t *testing.T) {
	a := NewBox("secret-a", discardLogger())
	b := NewBox("secret-b", discardLogger())

	ciphertext, err := a.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(ciphertext); err == nil {
		t.Fatal("expected decryption under a different secret to fail")
	}
}
