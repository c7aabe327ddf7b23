package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/Aslarex/go-curl2/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Postgres stores entries in a PostgreSQL table through a pgx pool.
type Postgres struct {
	dsn   string
	table string
	ttl   time.Duration

	mu   sync.Mutex
	pool *pgxpool.Pool

	getSQL, setSQL, setNXSQL string
}

// NewPostgres creates a PostgreSQL store. The pool is opened by Connect.
func NewPostgres(cfg config.PostgresCacheConfig, ttl time.Duration) *Postgres {
	if ttl <= 0 {
		ttl = config.DefaultCacheTTL
	}
	table := cfg.Table
	if table == "" {
		table = "curl2_cache"
	}
	return &Postgres{dsn: cfg.DSN, table: table, ttl: ttl}
}

// DefaultTTL implements Store.
func (p *Postgres) DefaultTTL() time.Duration { return p.ttl }

// Connect opens the pool and creates the table.
func (p *Postgres) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		return nil
	}
	if p.dsn == "" {
		return fmt.Errorf("postgres dsn cannot be empty")
	}
	if !tableNamePattern.MatchString(p.table) {
		return fmt.Errorf("invalid table name %q", p.table)
	}

	pool, err := pgxpool.New(ctx, p.dsn)
	if err != nil {
		return fmt.Errorf("failed to open pool: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to reach database: %w", err)
	}

	table := pgx.Identifier{p.table}.Sanitize()
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`, table)
	if _, err = pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	p.getSQL = fmt.Sprintf(`SELECT value FROM %s WHERE key = $1 AND expires_at > now()`, table)
	p.setSQL = fmt.Sprintf(`
		INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, table)
	p.setNXSQL = p.setSQL + fmt.Sprintf(` WHERE %s.expires_at <= now()`, table)
	p.pool = pool
	return nil
}

func (p *Postgres) handle() (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool == nil {
		return nil, ErrClosed
	}
	return p.pool, nil
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	pool, err := p.handle()
	if err != nil {
		return "", false, err
	}
	var value string
	err = pool.QueryRow(ctx, p.getSQL, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set implements Store.
func (p *Postgres) Set(ctx context.Context, key, value string, opts SetOptions) (bool, error) {
	pool, err := p.handle()
	if err != nil {
		return false, err
	}
	query := p.setSQL
	if opts.OnlyIfAbsent {
		query = p.setNXSQL
	}
	expiresAt := time.Now().Add(effectiveTTL(opts, p.ttl))
	tag, err := pool.Exec(ctx, query, key, value, expiresAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}
