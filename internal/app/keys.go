package app

import (
	"fmt"

	"wsync-go/internal/config"
	"wsync-go/internal/encryption"
)

// InitKeys creates the archive key pair and returns its public key.
func InitKeys(cfg *config.Config, passphrase string) (string, error) {
	if cfg.Encryption.Type != "age" {
		return "", fmt.Errorf("encryption.type is %q, set it to \"age\" to use archive keys", cfg.Encryption.Type)
	}
	keys := encryption.NewAgeKeys(cfg.Encryption)
	if keys.IsConfigured() {
		return "", fmt.Errorf("archive keys already exist at %s", cfg.Encryption.PublicKeyPath)
	}
	if err := keys.Setup(passphrase); err != nil {
		return "", fmt.Errorf("creating archive keys: %w", err)
	}
	return keys.Recipient()
}
