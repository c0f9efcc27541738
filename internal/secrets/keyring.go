package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/99designs/keyring"
)

const (
	DefaultServiceName = "querypilot"
	// APIKeyItem is the keyring item holding the model API key.
	APIKeyItem = "model_api_key"
)

type KeyringConfig struct {
	ServiceName  string
	Backend      string
	FileDir      string
	FilePassword string
}

// Keyring stores the model API key in an OS credential store.
type Keyring struct {
	mu   sync.RWMutex
	ring keyring.Keyring
}

func OpenKeyring(cfg KeyringConfig) (*Keyring, error) {
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = DefaultServiceName
	}
	ringCfg := keyring.Config{
		ServiceName: service,
		PassPrefix:  service,
	}
	if backend := strings.TrimSpace(cfg.Backend); backend != "" {
		ringCfg.AllowedBackends = []keyring.BackendType{keyring.BackendType(backend)}
	}
	if cfg.FileDir != "" {
		ringCfg.FileDir = cfg.FileDir
		ringCfg.FilePasswordFunc = keyring.FixedStringPrompt(cfg.FilePassword)
	}

	ring, err := keyring.Open(ringCfg)
	if err != nil {
		return nil, fmt.Errorf("open keyring %q: %w", service, err)
	}
	return NewKeyring(ring), nil
}

// NewKeyring wraps an opened keyring, e.g. keyring.NewArrayKeyring in tests.
func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

func (k *Keyring) APIKey(context.Context) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	item, err := k.ring.Get(APIKeyItem)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("read %s from keyring: %w", APIKeyItem, err)
	}
	key := strings.TrimSpace(string(item.Data))
	if key == "" {
		return "", ErrNoCredential
	}
	return key, nil
}

func (k *Keyring) SetAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("api key is empty")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ring.Set(keyring.Item{
		Key:         APIKeyItem,
		Data:        []byte(key),
		Label:       "querypilot model API key",
		Description: "API key for the OpenAI-compatible model backend",
	})
}

func (k *Keyring) DeleteAPIKey() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	err := k.ring.Remove(APIKeyItem)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}
