// Package secrets keeps provider API keys out of configuration values.
// Components hold an opaque reference and resolve it when they build a
// client.
package secrets

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned for an unknown reference.
var ErrNotFound = errors.New("secret not found")

// Store saves secrets under opaque reference ids.
type Store interface {
	// Put stores secret for refKey and returns its reference id. Putting
	// the same refKey again replaces the secret and keeps the id.
	Put(ctx context.Context, refKey, secret string) (string, error)
	Get(ctx context.Context, refID string) (string, error)
	Delete(ctx context.Context, refID string) error
}

// KeyRef points at a secret in a Store. The zero value means no key.
type KeyRef string

// Resolve returns the secret behind r, or "" for the zero ref.
func (r KeyRef) Resolve(ctx context.Context, s Store) (string, error) {
	if r == "" {
		return "", nil
	}
	return s.Get(ctx, string(r))
}

// MemoryStore is a process-local Store. Secrets never leave memory.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]string
	idsFor map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]string),
		idsFor: make(map[string]string),
	}
}

func (m *MemoryStore) Put(ctx context.Context, refKey, secret string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.idsFor[refKey]
	if !ok {
		id = uuid.NewString()
		m.idsFor[refKey] = id
	}
	m.byID[id] = secret
	return id, nil
}

func (m *MemoryStore) Get(ctx context.Context, refID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[refID]
	if !ok {
		return "", ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) Delete(ctx context.Context, refID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, refID)
	for k, id := range m.idsFor {
		if id == refID {
			delete(m.idsFor, k)
		}
	}
	return nil
}
