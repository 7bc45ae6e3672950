// Package cookie provides best-effort storage for a single string value per
// name with an absolute expiry. Backends may fail at any time; the Store
// swallows those failures and remembers that storage is unavailable.
package cookie

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Backend persists named values. Get reports found=false for missing or
// expired values.
type Backend interface {
	Get(ctx context.Context, name string) (value string, found bool, err error)
	Set(ctx context.Context, name, value string, expires time.Time) error
	Delete(ctx context.Context, name string) error
}

// Store wraps a Backend with the enabled flag.
type Store struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	enabled bool
}

type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a Store. Cookies start disabled until consent is recorded
// or a get/set succeeds.
func NewStore(backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("cookie: backend must not be nil")
	}
	s := &Store{backend: backend, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Enabled reports whether cookie storage is currently usable.
func (s *Store) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetEnabled records an explicit decision, e.g. the visitor's consent.
func (s *Store) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// Set writes value under name, expiring ttl from now.
func (s *Store) Set(ctx context.Context, name, value string, ttl time.Duration) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if err := s.backend.Set(ctx, name, value, s.now().Add(ttl)); err != nil {
		s.fail("set", name, err)
		return false
	}
	s.SetEnabled(true)
	return true
}

// Get returns the value stored under name.
func (s *Store) Get(ctx context.Context, name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	v, found, err := s.backend.Get(ctx, name)
	if err != nil {
		s.fail("get", name, err)
		return "", false
	}
	if !found {
		return "", false
	}
	s.SetEnabled(true)
	return v, true
}

// Delete expires the value immediately.
func (s *Store) Delete(ctx context.Context, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if err := s.backend.Delete(ctx, name); err != nil {
		s.logger.Warn("cookie delete failed", zap.String("name", name), zap.Error(err))
		return false
	}
	return true
}

func (s *Store) fail(op, name string, err error) {
	s.logger.Warn("cookies not accessible",
		zap.String("op", op),
		zap.String("name", name),
		zap.Error(err))
	s.SetEnabled(false)
}
