package encryption

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"wsync-go/internal/config"
)

// ageHeader starts every age-encrypted file, including a private key
// protected with a passphrase.
const ageHeader = "age-encryption.org/v1"

// AgeKeys implements Keys using filippo.io/age with X25519 keys. The public
// key is stored in plaintext. The private key is either stored in the clear
// with 0600 permissions, for unattended build machines, or encrypted with a
// passphrase using age's scrypt recipient.
type AgeKeys struct {
	publicKeyPath  string
	privateKeyPath string
}

var _ Keys = (*AgeKeys)(nil)

// NewAgeKeys creates AgeKeys from configuration.
func NewAgeKeys(cfg config.EncryptionConfig) *AgeKeys {
	return &AgeKeys{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// Setup generates a new X25519 key pair. An empty passphrase leaves the
// private key unencrypted.
func (k *AgeKeys) Setup(passphrase string) error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(k.publicKeyPath), 0700); err != nil {
		return fmt.Errorf("creating public key directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(k.privateKeyPath), 0700); err != nil {
		return fmt.Errorf("creating private key directory: %w", err)
	}

	if err := os.WriteFile(k.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	privFile, err := os.OpenFile(k.privateKeyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating private key file: %w", err)
	}
	defer privFile.Close()

	if passphrase == "" {
		if _, err := io.WriteString(privFile, identity.String()+"\n"); err != nil {
			return fmt.Errorf("writing private key: %w", err)
		}
		return nil
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	w, err := age.Encrypt(privFile, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted private key: %w", err)
	}
	return nil
}

// Encrypt encrypts r to the stored public key.
func (k *AgeKeys) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := k.loadRecipient()
	if err != nil {
		return fmt.Errorf("loading public key: %w", err)
	}
	return encryptTo(recipient, r, w)
}

// Unlock loads the private key. The passphrase is only used when the key
// file is passphrase protected.
func (k *AgeKeys) Unlock(passphrase string) (Decrypter, error) {
	privData, err := os.ReadFile(k.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	keyData := privData
	if bytes.HasPrefix(privData, []byte(ageHeader)) {
		if passphrase == "" {
			return nil, fmt.Errorf("private key %s is passphrase protected", k.privateKeyPath)
		}
		scrypt, err := age.NewScryptIdentity(passphrase)
		if err != nil {
			return nil, fmt.Errorf("creating scrypt identity: %w", err)
		}
		decReader, err := age.Decrypt(bytes.NewReader(privData), scrypt)
		if err != nil {
			return nil, fmt.Errorf("decrypting private key: %w", err)
		}
		if keyData, err = io.ReadAll(decReader); err != nil {
			return nil, fmt.Errorf("reading decrypted private key: %w", err)
		}
	}

	identities, err := age.ParseIdentities(bytes.NewReader(keyData))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in private key")
	}
	return &AgeDecrypter{identity: identities[0]}, nil
}

// IsConfigured returns true if both key files exist.
func (k *AgeKeys) IsConfigured() bool {
	if _, err := os.Stat(k.publicKeyPath); err != nil {
		return false
	}
	if _, err := os.Stat(k.privateKeyPath); err != nil {
		return false
	}
	return true
}

// Recipient returns the public key in its age1... form.
func (k *AgeKeys) Recipient() (string, error) {
	data, err := os.ReadFile(k.publicKeyPath)
	if err != nil {
		return "", fmt.Errorf("reading public key: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (k *AgeKeys) loadRecipient() (age.Recipient, error) {
	pubData, err := os.ReadFile(k.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}

	recipients, err := age.ParseRecipients(bytes.NewReader(pubData))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in public key file")
	}
	return recipients[0], nil
}

func encryptTo(recipient age.Recipient, r io.Reader, w io.Writer) error {
	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// RecipientEncryptor encrypts to a public key given on the command line, so
// archives can be published for machines whose key is not stored locally.
type RecipientEncryptor struct {
	recipient age.Recipient
}

var _ Encryptor = (*RecipientEncryptor)(nil)

// NewRecipientEncryptor parses an age1... public key.
func NewRecipientEncryptor(publicKey string) (*RecipientEncryptor, error) {
	recipient, err := age.ParseX25519Recipient(strings.TrimSpace(publicKey))
	if err != nil {
		return nil, fmt.Errorf("parsing recipient: %w", err)
	}
	return &RecipientEncryptor{recipient: recipient}, nil
}

func (e *RecipientEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	return encryptTo(e.recipient, r, w)
}

// AgeDecrypter holds an unlocked age identity.
type AgeDecrypter struct {
	identity age.Identity
}

var _ Decrypter = (*AgeDecrypter)(nil)

// Decrypt reads age ciphertext from r and writes plaintext to w.
func (d *AgeDecrypter) Decrypt(r io.Reader, w io.Writer) error {
	decReader, err := age.Decrypt(r, d.identity)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}
