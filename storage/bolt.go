package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/johnwmail/vanish/models"
)

var (
	pasteBucket   = []byte("pastes")
	retiredBucket = []byte("retired")
)

// BoltStore implements PasteStore on an embedded bbolt file. bbolt allows a
// single writer at a time, which serializes every Consume.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the database file at path
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{pasteBucket, retiredBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Put(ctx context.Context, id string, paste *models.Paste) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putPaste(tx, id, paste); err != nil {
			return err
		}
		if retired := tx.Bucket(retiredBucket); retired != nil {
			return retired.Delete([]byte(id))
		}
		return nil
	})
}

func (s *BoltStore) Get(ctx context.Context, id string) (*models.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *models.Paste
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = getPaste(tx, id)
		return err
	})
	return out, err
}

// Consume decides and writes inside one read-write transaction. The
// retire marker lives in its own bucket so the record bytes never change
// on refusal.
func (s *BoltStore) Consume(ctx context.Context, id string, now time.Time) (*models.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *models.Paste
	err := s.db.Update(func(tx *bolt.Tx) error {
		retired := tx.Bucket(retiredBucket)
		if retired == nil {
			return errors.New("retired bucket missing")
		}
		if retired.Get([]byte(id)) != nil {
			return nil
		}
		current, err := getPaste(tx, id)
		if err != nil {
			return err
		}
		switch judge(current, now) {
		case retire:
			return retired.Put([]byte(id), []byte{1})
		case serve:
			out = current
		case spend:
			current.RemainingViews = models.Int64(*current.RemainingViews - 1)
			if err := putPaste(tx, id, current); err != nil {
				return err
			}
			out = current
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrUnavailable
	}
	return out, nil
}

func getPaste(tx *bolt.Tx, id string) (*models.Paste, error) {
	bucket := tx.Bucket(pasteBucket)
	if bucket == nil {
		return nil, errors.New("pastes bucket missing")
	}
	raw := bucket.Get([]byte(id))
	if raw == nil {
		return nil, nil
	}
	var paste models.Paste
	if err := json.Unmarshal(raw, &paste); err != nil {
		return nil, fmt.Errorf("unmarshal paste: %w", err)
	}
	return &paste, nil
}

func putPaste(tx *bolt.Tx, id string, paste *models.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	bucket := tx.Bucket(pasteBucket)
	if bucket == nil {
		return errors.New("pastes bucket missing")
	}
	data, err := json.Marshal(paste)
	if err != nil {
		return fmt.Errorf("marshal paste: %w", err)
	}
	if err := bucket.Put([]byte(id), data); err != nil {
		return fmt.Errorf("save paste: %w", err)
	}
	return nil
}

// Ping runs an empty read transaction, which fails once the file is closed
func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(pasteBucket) == nil {
			return errors.New("pastes bucket missing")
		}
		return nil
	})
}

func (s *BoltStore) Backend() string { return "bolt" }

// Close closes the underlying database
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
