package storage

import (
	"context"
	"errors"
	"time"

	"github.com/johnwmail/vanish/models"
)

// OpObserver receives the latency and result of each store call
type OpObserver interface {
	ObserveStoreOp(backend, op string, d time.Duration, err error)
}

type instrumentedStore struct {
	PasteStore
	observer OpObserver
}

// Instrument wraps store so every call is reported to observer. A nil
// observer returns store unchanged.
func Instrument(store PasteStore, observer OpObserver) PasteStore {
	if observer == nil {
		return store
	}
	return &instrumentedStore{PasteStore: store, observer: observer}
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	s.observer.ObserveStoreOp(s.Backend(), op, time.Since(start), err)
}

func (s *instrumentedStore) Put(ctx context.Context, id string, paste *models.Paste) error {
	start := time.Now()
	err := s.PasteStore.Put(ctx, id, paste)
	s.observe("put", start, err)
	return err
}

func (s *instrumentedStore) Get(ctx context.Context, id string) (*models.Paste, error) {
	start := time.Now()
	p, err := s.PasteStore.Get(ctx, id)
	s.observe("get", start, err)
	return p, err
}

// Consume reports only backend failures; a refusal is a policy outcome,
// not a store fault.
func (s *instrumentedStore) Consume(ctx context.Context, id string, now time.Time) (*models.Paste, error) {
	start := time.Now()
	p, err := s.PasteStore.Consume(ctx, id, now)
	if errors.Is(err, ErrUnavailable) {
		s.observe("consume", start, nil)
	} else {
		s.observe("consume", start, err)
	}
	return p, err
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.PasteStore.Ping(ctx)
	s.observe("ping", start, err)
	return err
}
