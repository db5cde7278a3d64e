package encryption

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"wsync-go/internal/config"
)

func newTestAgeKeys(t *testing.T) *AgeKeys {
	t.Helper()
	dir := t.TempDir()
	return NewAgeKeys(config.EncryptionConfig{
		Type:           "age",
		PublicKeyPath:  filepath.Join(dir, "keys", "wsync.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "wsync.key"),
	})
}

func TestAgeKeys_IsConfigured(t *testing.T) {
	t.Parallel()
	k := newTestAgeKeys(t)
	if k.IsConfigured() {
		t.Error("IsConfigured() = true before Setup, want false")
	}
	if err := k.Setup(""); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !k.IsConfigured() {
		t.Error("IsConfigured() = false after Setup, want true")
	}

	recipient, err := k.Recipient()
	if err != nil {
		t.Fatalf("Recipient() error = %v", err)
	}
	if !strings.HasPrefix(recipient, "age1") {
		t.Errorf("Recipient() = %q, want an age1 public key", recipient)
	}
}

func TestAgeKeys_EncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		passphrase string
		input      []byte
	}{
		{name: "unprotected key", input: []byte("hello world")},
		{name: "protected key", passphrase: "build-farm", input: []byte("hello world")},
		{name: "empty", input: []byte{}},
		{name: "large data", input: bytes.Repeat([]byte("abcdef"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			k := newTestAgeKeys(t)
			if err := k.Setup(tt.passphrase); err != nil {
				t.Fatalf("Setup() error = %v", err)
			}

			var encrypted bytes.Buffer
			if err := k.Encrypt(bytes.NewReader(tt.input), &encrypted); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(tt.input) > 0 && bytes.Equal(encrypted.Bytes(), tt.input) {
				t.Error("encrypted output is identical to plaintext")
			}

			dec, err := k.Unlock(tt.passphrase)
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			var decrypted bytes.Buffer
			if err := dec.Decrypt(bytes.NewReader(encrypted.Bytes()), &decrypted); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted.Bytes(), tt.input) {
				t.Errorf("round-trip failed: got %d bytes, want %d bytes", decrypted.Len(), len(tt.input))
			}
		})
	}
}

func TestAgeKeys_Unlock(t *testing.T) {
	t.Parallel()

	t.Run("wrong passphrase", func(t *testing.T) {
		k := newTestAgeKeys(t)
		if err := k.Setup("correct-passphrase"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if _, err := k.Unlock("wrong-passphrase"); err == nil {
			t.Error("Unlock() with wrong passphrase should return error")
		}
		if _, err := k.Unlock(""); err == nil {
			t.Error("Unlock() without passphrase should return error for a protected key")
		}
	})

	t.Run("before setup", func(t *testing.T) {
		k := newTestAgeKeys(t)
		if _, err := k.Unlock("passphrase"); err == nil {
			t.Error("Unlock() before Setup should return error")
		}
		var buf bytes.Buffer
		if err := k.Encrypt(strings.NewReader("data"), &buf); err == nil {
			t.Error("Encrypt() before Setup should return error")
		}
	})
}

func TestRecipientEncryptor(t *testing.T) {
	t.Parallel()

	k := newTestAgeKeys(t)
	if err := k.Setup(""); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	recipient, err := k.Recipient()
	if err != nil {
		t.Fatalf("Recipient() error = %v", err)
	}

	enc, err := NewRecipientEncryptor(recipient)
	if err != nil {
		t.Fatalf("NewRecipientEncryptor() error = %v", err)
	}
	var encrypted bytes.Buffer
	if err := enc.Encrypt(strings.NewReader("editor binaries"), &encrypted); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	dec, err := k.Unlock("")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var decrypted bytes.Buffer
	if err := dec.Decrypt(&encrypted, &decrypted); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if decrypted.String() != "editor binaries" {
		t.Errorf("Decrypt() = %q, want %q", decrypted.String(), "editor binaries")
	}

	if _, err := NewRecipientEncryptor("not-a-key"); err == nil {
		t.Error("NewRecipientEncryptor() expected error for an invalid key")
	}
}

func TestNewKeysFromConfig(t *testing.T) {
	tests := []struct {
		typ     string
		wantNil bool
		wantErr bool
	}{
		{typ: "", wantNil: true},
		{typ: "none", wantNil: true},
		{typ: "age"},
		{typ: "test"},
		{typ: "rot13", wantNil: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			keys, err := NewKeysFromConfig(config.EncryptionConfig{Type: tt.typ})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewKeysFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (keys == nil) != tt.wantNil {
				t.Errorf("NewKeysFromConfig() = %v, wantNil %v", keys, tt.wantNil)
			}
		})
	}
}
