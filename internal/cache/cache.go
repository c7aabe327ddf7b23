// Package cache defines the response cache store protocol and its backends.
// Stores hold the raw transport output of one invocation under a derived key;
// the client never retains entries itself.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Aslarex/go-curl2/internal/config"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("cache: store closed")

// SetOptions controls a single write.
type SetOptions struct {
	// OnlyIfAbsent skips the write when an unexpired value exists.
	OnlyIfAbsent bool
	// TTL overrides the store default when positive.
	TTL time.Duration
}

// Store is an expiring key-value store for raw responses.
type Store interface {
	// Get returns the value for key. Expired values are absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value and reports whether it was stored.
	Set(ctx context.Context, key, value string, opts SetOptions) (bool, error)
	Connect(ctx context.Context) error
	Close() error
	DefaultTTL() time.Duration
}

// Open builds and connects the store selected by cfg.Backend. It returns a nil
// Store for the "none" backend.
func Open(ctx context.Context, cfg config.CacheConfig) (Store, error) {
	var s Store
	switch cfg.Backend {
	case "", config.BackendNone:
		return nil, nil
	case config.BackendMemory:
		s = NewMemory(cfg.TTL, WithSweepInterval(cfg.Memory.SweepInterval))
	case config.BackendRedis:
		s = NewRedis(cfg.Redis, cfg.TTL)
	case config.BackendSQLite:
		s = NewSQLite(cfg.SQLite, cfg.TTL)
	case config.BackendPostgres:
		s = NewPostgres(cfg.Postgres, cfg.TTL)
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
	if err := s.Connect(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("cache: connect %s: %w", cfg.Backend, err)
	}
	return s, nil
}

func effectiveTTL(opts SetOptions, def time.Duration) time.Duration {
	if opts.TTL > 0 {
		return opts.TTL
	}
	return def
}
