// Package db opens the databases the server depends on and runs the
// periodic sweep of expired data.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/atinyakov/ozon/internal/docstore"
	"github.com/atinyakov/ozon/internal/registry"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
    uid TEXT PRIMARY KEY,
    password TEXT NOT NULL,
    token TEXT UNIQUE,
    full_name TEXT NOT NULL DEFAULT '',
    mail TEXT NOT NULL DEFAULT '',
    is_admin BOOLEAN NOT NULL DEFAULT FALSE,
    divisione_uo TEXT NOT NULL DEFAULT '',
    divisione_uo_id BIGINT NOT NULL DEFAULT 0,
    tipo_personale TEXT NOT NULL DEFAULT '',
    qualifica TEXT NOT NULL DEFAULT '',
    user_function TEXT NOT NULL DEFAULT '',
    allowed_users TEXT[] NOT NULL DEFAULT '{}'
);
`

// InitPostgres opens the PostgreSQL user directory database and creates
// the users table when missing.
func InitPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.Exec(usersSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}

// Store backend names.
const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// StoreOptions configure the document store backends.
type StoreOptions struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Stores returns the document store backends selectable by name.
func Stores(ctx context.Context, opts StoreOptions, log *zap.Logger) *registry.Registry[docstore.Store] {
	r := registry.New[docstore.Store]("document store")
	r.MustRegister(BackendMongo, func() (docstore.Store, error) {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout(opts.Timeout))
		defer cancel()
		return docstore.ConnectMongo(connectCtx, opts.URI, opts.Database, opts.Timeout, log)
	})
	r.MustRegister(BackendMemory, func() (docstore.Store, error) {
		log.Warn("using the in-memory document store; data is lost on exit")
		return docstore.NewMemoryStore(), nil
	})
	return r
}

func connectTimeout(op time.Duration) time.Duration {
	if op <= 0 || op < 10*time.Second {
		return 10 * time.Second
	}
	return op
}
