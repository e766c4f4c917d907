package storage

import (
	"context"
	"errors"
	"time"

	"github.com/johnwmail/vanish/models"
)

// ErrUnavailable is returned by Consume when the id is absent, retired,
// time-expired at the given instant or out of views.
var ErrUnavailable = errors.New("storage: paste unavailable")

// PasteStore defines the interface for paste storage backends
type PasteStore interface {
	// Put writes the full record under id, overwriting any prior value
	Put(ctx context.Context, id string, paste *models.Paste) error

	// Get retrieves a paste by its ID. It returns (nil, nil) when absent.
	Get(ctx context.Context, id string) (*models.Paste, error)

	// Consume checks availability at now and spends one view of a
	// view-limited record, as a single atomic step per key. It returns the
	// record as served. A refused call never modifies the record; refusing a
	// time-expired record retires the id, after which Consume reports
	// ErrUnavailable whatever now it is given.
	Consume(ctx context.Context, id string, now time.Time) (*models.Paste, error)

	// Ping checks the backend connection
	Ping(ctx context.Context) error

	// Backend names the implementation for logs and metrics
	Backend() string

	// Close closes the storage connection
	Close() error
}

// Options holds settings shared by the network backends
type Options struct {
	// Timeout bounds every backend call; zero disables the bound
	Timeout time.Duration
	// RetentionGrace is added to expires_at to form the backend's
	// garbage-collection hint. Negative disables the hint.
	RetentionGrace time.Duration
}

// purgeAt returns when the backend may drop the record, if ever
func (o Options) purgeAt(paste *models.Paste) (time.Time, bool) {
	if paste.ExpiresAt == nil || o.RetentionGrace < 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(*paste.ExpiresAt).Add(o.RetentionGrace), true
}

func (o Options) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.Timeout)
}

// verdict is the outcome of one consume against a stored record
type verdict int

const (
	refuse verdict = iota // absent or out of views
	retire                // time-expired: refuse and retire the id
	serve                 // unlimited views: serve without writing
	spend                 // serve after writing the decremented record
)

func judge(p *models.Paste, now time.Time) verdict {
	switch {
	case p == nil:
		return refuse
	case p.IsExpiredAt(now):
		return retire
	case p.RemainingViews == nil:
		return serve
	case p.IsExhausted():
		return refuse
	default:
		return spend
	}
}
