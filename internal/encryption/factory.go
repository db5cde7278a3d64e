package encryption

import (
	"fmt"
	"io"

	"wsync-go/internal/config"
)

// Encryptor encrypts archive bytes before they are published.
type Encryptor interface {
	Encrypt(r io.Reader, w io.Writer) error
}

// Decrypter decrypts archive bytes during install.
type Decrypter interface {
	Decrypt(r io.Reader, w io.Writer) error
}

// Keys is the key pair archives are encrypted to.
type Keys interface {
	Encryptor
	Setup(passphrase string) error
	Unlock(passphrase string) (Decrypter, error)
	IsConfigured() bool
}

// NewKeysFromConfig creates Keys based on the configuration type. It returns
// nil, nil when archives are not encrypted.
func NewKeysFromConfig(cfg config.EncryptionConfig) (Keys, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeKeys(cfg), nil
	case "test":
		return NewTestKeys(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
