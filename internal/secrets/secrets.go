// Package secrets supplies the model credential to the pipeline. Providers
// are injected at construction; nothing here reads or writes process-wide
// environment state.
package secrets

import (
	"context"
	"errors"
	"strings"
)

// ErrNoCredential reports that no provider holds a usable API key.
var ErrNoCredential = errors.New("no model credential configured")

type CredentialProvider interface {
	APIKey(ctx context.Context) (string, error)
}

// Static is a credential known at construction, e.g. from config or a
// connect request.
type Static string

func (s Static) APIKey(context.Context) (string, error) {
	key := strings.TrimSpace(string(s))
	if key == "" {
		return "", ErrNoCredential
	}
	return key, nil
}

type chain []CredentialProvider

// Chain returns the first key any provider yields. Providers reporting
// ErrNoCredential are skipped; any other error stops the search.
func Chain(providers ...CredentialProvider) CredentialProvider {
	filtered := make(chain, 0, len(providers))
	for _, provider := range providers {
		if provider != nil {
			filtered = append(filtered, provider)
		}
	}
	return filtered
}

func (c chain) APIKey(ctx context.Context) (string, error) {
	for _, provider := range c {
		key, err := provider.APIKey(ctx)
		if errors.Is(err, ErrNoCredential) {
			continue
		}
		if err != nil {
			return "", err
		}
		return key, nil
	}
	return "", ErrNoCredential
}
