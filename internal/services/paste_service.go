package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/johnwmail/vanish/config"
	"github.com/johnwmail/vanish/internal/metrics"
	"github.com/johnwmail/vanish/models"
	"github.com/johnwmail/vanish/storage"
	"github.com/johnwmail/vanish/utils"
)

var (
	// ErrInvalidInput marks create parameters that fail validation
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable covers absent, time-expired and view-exhausted pastes alike
	ErrUnavailable = errors.New("unavailable")
	// ErrStoreUnavailable wraps any backend failure
	ErrStoreUnavailable = errors.New("store unavailable")
)

// PasteService handles paste business logic
type PasteService struct {
	store           storage.PasteStore
	maxContentBytes int64
	logger          *slog.Logger
	metrics         *metrics.Metrics
	now             func() time.Time
	newID           func() string
}

// Option customizes a PasteService
type Option func(*PasteService)

// WithLogger sets the service logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *PasteService) { s.logger = logger }
}

// WithMetrics enables create and consume counters
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *PasteService) { s.metrics = m }
}

// WithClock replaces the clock used to stamp expires_at at creation
func WithClock(now func() time.Time) Option {
	return func(s *PasteService) { s.now = now }
}

// WithIDGenerator replaces the id source
func WithIDGenerator(newID func() string) Option {
	return func(s *PasteService) { s.newID = newID }
}

// NewPasteService creates a new paste service
func NewPasteService(store storage.PasteStore, cfg *config.Config, opts ...Option) *PasteService {
	s := &PasteService{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		newID:  utils.NewID,
	}
	if cfg != nil {
		s.maxContentBytes = cfg.MaxContentBytes
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePasteRequest represents a request to create a paste. Nil policy
// fields mean unlimited.
type CreatePasteRequest struct {
	Content    string
	TTLSeconds *int64
	MaxViews   *int64
}

// CreatePasteResponse represents the response from creating a paste
type CreatePasteResponse struct {
	ID string
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// CreatePaste validates the request and stores a fresh record
func (s *PasteService) CreatePaste(ctx context.Context, req CreatePasteRequest) (*CreatePasteResponse, error) {
	if req.Content == "" {
		return nil, invalid("content is required")
	}
	if s.maxContentBytes > 0 && int64(len(req.Content)) > s.maxContentBytes {
		return nil, invalid("content exceeds %d bytes", s.maxContentBytes)
	}
	if req.MaxViews != nil && *req.MaxViews < 1 {
		return nil, invalid("max_views must be a positive integer")
	}
	if req.MaxViews != nil && *req.MaxViews > models.MaxViews {
		return nil, invalid("max_views must be at most %d", models.MaxViews)
	}

	nowMs := s.now().UnixMilli()
	paste := &models.Paste{Content: req.Content}
	if req.TTLSeconds != nil {
		ttl := *req.TTLSeconds
		if ttl < 1 {
			return nil, invalid("ttl_seconds must be a positive integer")
		}
		// Also rules out int64 overflow
		if ttl > (models.MaxExpiresAt-nowMs)/1000 {
			return nil, invalid("ttl_seconds is too large")
		}
		paste.ExpiresAt = models.Int64(nowMs + ttl*1000)
	}
	if req.MaxViews != nil {
		paste.RemainingViews = models.Int64(*req.MaxViews)
	}

	id := s.newID()
	if err := s.store.Put(ctx, id, paste); err != nil {
		s.logger.Error("Failed to store paste", "id", id, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.metrics.ObserveCreate(paste.ExpiresAt != nil, paste.RemainingViews != nil)
	s.logger.Debug("Paste created", "id", id, "expires_at", paste.ExpiresAt, "max_views", paste.RemainingViews)
	return &CreatePasteResponse{ID: id}, nil
}

// ConsumePaste returns the paste if it is available at now, spending one
// view when the paste is view-limited. The availability check and the
// decrement run as one atomic store step, so a paste created with
// max_views=N is served at most N times. A rejected consume never alters
// the record, and once refused for expiry a paste stays unavailable for any
// later now.
func (s *PasteService) ConsumePaste(ctx context.Context, id string, now time.Time) (*models.Paste, error) {
	if !utils.IsValidID(id) {
		s.metrics.ObserveConsume(metrics.OutcomeUnavailable)
		return nil, ErrUnavailable
	}

	paste, err := s.store.Consume(ctx, id, now)
	switch {
	case errors.Is(err, storage.ErrUnavailable):
		s.metrics.ObserveConsume(metrics.OutcomeUnavailable)
		return nil, ErrUnavailable
	case err != nil:
		s.metrics.ObserveConsume(metrics.OutcomeError)
		s.logger.Error("Failed to consume paste", "id", id, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.metrics.ObserveConsume(metrics.OutcomeServed)
	return paste, nil
}

// Health pings the record store
func (s *PasteService) Health(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("Store health check failed", "backend", s.store.Backend(), "error", err)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Backend names the storage backend in use
func (s *PasteService) Backend() string {
	return s.store.Backend()
}
