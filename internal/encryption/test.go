package encryption

import (
	"bytes"
	"fmt"
	"io"
)

// testHeader is prepended to data by TestKeys so encrypted output differs
// from plaintext while staying deterministic and reversible.
var testHeader = []byte("WSENC\x00\x00\x00")

// TestKeys is a deterministic stand-in for AgeKeys that needs no key files.
type TestKeys struct {
	setupCalled bool
}

var _ Keys = (*TestKeys)(nil)

func NewTestKeys() *TestKeys {
	return &TestKeys{}
}

func (k *TestKeys) Setup(passphrase string) error {
	k.setupCalled = true
	return nil
}

func (k *TestKeys) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (k *TestKeys) Unlock(passphrase string) (Decrypter, error) {
	return TestDecrypter{}, nil
}

func (k *TestKeys) IsConfigured() bool {
	return true
}

// TestDecrypter strips the header added by TestKeys.
type TestDecrypter struct{}

var _ Decrypter = TestDecrypter{}

func (TestDecrypter) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("invalid test encryption header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
