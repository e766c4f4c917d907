package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/johnwmail/vanish/models"
)

var errStoreClosed = errors.New("store is closed")

// MemoryStore implements PasteStore in process memory. It is meant for
// development and tests; nothing survives a restart.
type MemoryStore struct {
	mu      sync.Mutex
	pastes  map[string]*models.Paste
	retired map[string]struct{}
	closed  bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pastes:  make(map[string]*models.Paste),
		retired: make(map[string]struct{}),
	}
}

func (m *MemoryStore) Put(ctx context.Context, id string, paste *models.Paste) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if paste == nil {
		return errors.New("paste cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errStoreClosed
	}
	m.pastes[id] = paste.Clone()
	delete(m.retired, id)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errStoreClosed
	}
	// Return a copy to prevent external modifications
	return m.pastes[id].Clone(), nil
}

// Consume runs under the store lock. Only ids with a stored record can be
// retired, so the retired set never outgrows the record map.
func (m *MemoryStore) Consume(ctx context.Context, id string, now time.Time) (*models.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errStoreClosed
	}
	if _, gone := m.retired[id]; gone {
		return nil, ErrUnavailable
	}

	current := m.pastes[id]
	switch judge(current, now) {
	case retire:
		m.retired[id] = struct{}{}
		return nil, ErrUnavailable
	case serve:
		return current.Clone(), nil
	case spend:
		current.RemainingViews = models.Int64(*current.RemainingViews - 1)
		return current.Clone(), nil
	default:
		return nil, ErrUnavailable
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errStoreClosed
	}
	return ctx.Err()
}

func (m *MemoryStore) Backend() string { return "memory" }

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len reports how many records are stored
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pastes)
}
