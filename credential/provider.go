// Package credential holds the api key used to authenticate every call to the
// generation service.
package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrMissing is returned when no usable key is configured.
var ErrMissing = errors.New("credential: no api key configured")

// Provider supplies the api key and can be told the key stopped working.
type Provider interface {
	// APIKey returns the current key or ErrMissing.
	APIKey(ctx context.Context) (string, error)
	// Invalidate marks the current key unusable until it is set again.
	Invalidate(ctx context.Context) error
}

// Store is a Provider whose key can be (re)acquired at runtime.
type Store interface {
	Provider
	Set(ctx context.Context, key string) error
}

// Present reports whether p currently has a usable key.
func Present(ctx context.Context, p Provider) bool {
	_, err := p.APIKey(ctx)
	return err == nil
}

// Static keeps the key in memory.
type Static struct {
	mu    sync.RWMutex
	key   string
	valid bool
}

func NewStatic(key string) *Static {
	s := &Static{}
	_ = s.Set(context.Background(), key)
	return s
}

func (s *Static) APIKey(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.valid {
		return "", ErrMissing
	}
	return s.key, nil
}

func (s *Static) Invalidate(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = false
	return nil
}

// Set replaces the key. An empty key leaves the store without a credential.
func (s *Static) Set(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
	s.valid = key != ""
	return nil
}

var _ Store = (*Static)(nil)
