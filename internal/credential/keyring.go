package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/99designs/keyring"
)

const (
	serviceName = "mailmirror"
	tokenKey    = "access_token"
)

// ErrNotStored is returned by TokenStore.Load when nothing is saved.
var ErrNotStored = errors.New("no stored credential")

// TokenStore persists a token and its acquisition time.
type TokenStore interface {
	Load() (token string, acquired time.Time, err error)
	Save(token string, acquired time.Time) error
	Delete() error
}

// KeyringStore keeps the token in the OS keyring (or an encrypted file).
type KeyringStore struct {
	ring keyring.Keyring
}

// NewKeyringStore wraps an open keyring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

// OpenKeyring opens the keyring. backend "file" restricts storage to an
// encrypted file under dir; anything else lets the platform pick.
func OpenKeyring(dir, backend string) (*KeyringStore, error) {
	allowed := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	if backend == "file" {
		allowed = []keyring.BackendType{keyring.FileBackend}
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		AllowedBackends:          allowed,
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(serviceName + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringStore(ring), nil
}

type storedToken struct {
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Load returns the stored token, or ErrNotStored.
func (k *KeyringStore) Load() (string, time.Time, error) {
	item, err := k.ring.Get(tokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", time.Time{}, ErrNotStored
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("getting credential: %w", err)
	}
	var st storedToken
	if err := json.Unmarshal(item.Data, &st); err != nil {
		return "", time.Time{}, fmt.Errorf("decoding stored credential: %w", err)
	}
	return st.Token, st.AcquiredAt, nil
}

// Save stores token with its acquisition time.
func (k *KeyringStore) Save(token string, acquired time.Time) error {
	data, err := json.Marshal(storedToken{Token: token, AcquiredAt: acquired})
	if err != nil {
		return err
	}
	err = k.ring.Set(keyring.Item{
		Key:   tokenKey,
		Data:  data,
		Label: "mailmirror access token",
	})
	if err != nil {
		return fmt.Errorf("setting credential: %w", err)
	}
	return nil
}

// Delete removes the stored token. Deleting an absent token is a no-op.
func (k *KeyringStore) Delete() error {
	err := k.ring.Remove(tokenKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}
