package security

import (
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used for keyring entries.
const KeyringService = "sshdrive"

// KeyringStore stores per-host SSH passwords in the OS keyring (macOS
// Keychain, Linux Secret Service, Windows Credential Manager).
type KeyringStore struct {
	enabled bool
}

// NewKeyringStore probes keyring availability with a throwaway entry; on
// headless machines without a secret service the store stays disabled and
// callers fall back to env vars or interactive entry.
func NewKeyringStore() *KeyringStore {
	const testKey = "__sshdrive_probe__"
	if err := keyring.Set(KeyringService, testKey, "probe"); err != nil {
		slog.Debug("keyring not available", slog.String("error", err.Error()))
		return &KeyringStore{}
	}
	_ = keyring.Delete(KeyringService, testKey)
	return &KeyringStore{enabled: true}
}

// IsEnabled reports whether the keyring is usable.
func (ks *KeyringStore) IsEnabled() bool { return ks.enabled }

// StorePassword saves the SSH password for a named host.
func (ks *KeyringStore) StorePassword(hostName string, password []byte) error {
	if !ks.enabled {
		return fmt.Errorf("keyring not available")
	}
	encoded := base64.StdEncoding.EncodeToString(password)
	if err := keyring.Set(KeyringService, passwordKey(hostName), encoded); err != nil {
		return fmt.Errorf("store password for %s: %w", hostName, err)
	}
	slog.Debug("stored host password in keyring", slog.String("host", hostName))
	return nil
}

// Password retrieves the stored SSH password for a named host.
func (ks *KeyringStore) Password(hostName string) ([]byte, error) {
	if !ks.enabled {
		return nil, fmt.Errorf("keyring not available")
	}
	encoded, err := keyring.Get(KeyringService, passwordKey(hostName))
	if err != nil {
		return nil, fmt.Errorf("get password for %s: %w", hostName, err)
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode password for %s: %w", hostName, err)
	}
	return decoded, nil
}

// DeletePassword removes the stored password for a named host.
func (ks *KeyringStore) DeletePassword(hostName string) error {
	if !ks.enabled {
		return fmt.Errorf("keyring not available")
	}
	return keyring.Delete(KeyringService, passwordKey(hostName))
}

func passwordKey(hostName string) string {
	return "ssh-password:" + hostName
}
