package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/staffdesk/gatekeeper/internal/config"
)

// SharedPool manages a single shared PostgreSQL connection pool.
// The audit sink and any collaborator repositories mounted on the app share it.
type SharedPool struct {
	db *sql.DB
}

// NewSharedPool opens a pool, verifies connectivity within 10s and applies pool settings.
func NewSharedPool(ctx context.Context, connectionString string, poolConfig config.PostgresPoolConfig) (*SharedPool, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	return &SharedPool{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (p *SharedPool) DB() *sql.DB {
	return p.db
}

// Close closes the shared connection pool. Call once on shutdown.
func (p *SharedPool) Close() error {
	return p.db.Close()
}
