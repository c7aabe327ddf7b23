package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aslarex/go-curl2/internal/config"
	log "github.com/Aslarex/go-curl2/internal/logging"
	_ "modernc.org/sqlite"
)

const defaultSQLiteSweep = 10 * time.Minute

// SQLite stores entries in a local SQLite database in WAL mode.
// Expired rows are invisible to Get and removed by a periodic sweep.
type SQLite struct {
	db    *sql.DB
	path  string
	ttl   time.Duration
	sweep time.Duration
	now   func() time.Time

	mu       sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSQLite creates a SQLite store. The database is opened by Connect.
func NewSQLite(cfg config.SQLiteCacheConfig, ttl time.Duration) *SQLite {
	if ttl <= 0 {
		ttl = config.DefaultCacheTTL
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = defaultSQLiteSweep
	}
	return &SQLite{
		path:     cfg.Path,
		ttl:      ttl,
		sweep:    sweep,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// DefaultTTL implements Store.
func (s *SQLite) DefaultTTL() time.Duration { return s.ttl }

// Connect opens the database, creates the schema and starts the sweeper.
func (s *SQLite) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	if s.path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	dbPath, err := config.ExpandPath(s.path)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err = initSchema(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.db = db
	s.path = dbPath
	s.wg.Add(1)
	go s.cleanupLoop()
	return nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

func (s *SQLite) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	db, err := s.handle()
	if err != nil {
		return "", false, err
	}
	var value string
	err = db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixNano(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set implements Store. An only-if-absent write replaces a row only once it
// has expired.
func (s *SQLite) Set(ctx context.Context, key, value string, opts SetOptions) (bool, error) {
	db, err := s.handle()
	if err != nil {
		return false, err
	}
	now := s.now()
	expiresAt := now.Add(effectiveTTL(opts, s.ttl)).UnixNano()

	var result sql.Result
	if opts.OnlyIfAbsent {
		result, err = db.ExecContext(ctx, `
			INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
			WHERE cache_entries.expires_at <= ?
		`, key, value, expiresAt, now.UnixNano())
	} else {
		result, err = db.ExecContext(ctx, `
			INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		`, key, value, expiresAt)
	}
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.cleanup(); err != nil {
				log.Errorf("Failed to sweep expired cache entries: %v", err)
			}
		case <-s.stopChan:
			return
		}
	}
}

// cleanup removes expired rows.
func (s *SQLite) cleanup() error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n > 0 {
		log.Debugf("Swept %d expired cache entries", n)
	}
	return nil
}

// Close stops the sweeper and closes the database.
func (s *SQLite) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.db != nil {
			err = s.db.Close()
			s.db = nil
		}
	})
	return err
}

// Path returns the filesystem path of the database.
func (s *SQLite) Path() string { return s.path }
