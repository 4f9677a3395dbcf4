package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"devicemirror/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const DefaultPath = "./data/devicemirror.db"

// Config configures Open.
type Config struct {
	Path        string
	BusyTimeout time.Duration
	Retry       RetryPolicy
	Logger      *slog.Logger
}

// Store persists the device table and the settings documents in SQLite.
// The connection is probed before each use and reopened if it went bad.
type Store struct {
	path   string
	dsn    string
	retry  RetryPolicy
	logger *slog.Logger

	mu sync.Mutex
	db *sql.DB
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// Open creates the database file if needed, applies migrations and seeds
// the default settings documents.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	s := &Store{
		path:   cfg.Path,
		dsn:    fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate", cfg.Path, cfg.BusyTimeout.Milliseconds()),
		retry:  cfg.Retry,
		logger: cfg.Logger.With("component", "store"),
	}

	if err := s.migrate(); err != nil {
		return nil, err
	}
	if _, err := s.handle(ctx); err != nil {
		return nil, err
	}
	if err := s.seedDefaults(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.logger.Info("💾 Database initialized", "path", cfg.Path)
	return s, nil
}

// migrate runs on its own connection: the migrate driver closes the
// database it was given.
func (s *Store) migrate() error {
	db, err := sql.Open("sqlite3", s.dsn)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		driver.Close()
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	migration, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		driver.Close()
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer migration.Close()

	if err := migration.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			s.logger.Debug("No migration changes needed")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Store) seedDefaults(ctx context.Context) error {
	docs := map[string]any{
		models.MirroringDocument:     models.DefaultMirroringSettings(),
		models.RefreshPolicyDocument: models.DefaultRefreshPolicy(),
	}
	return s.run(ctx, "seed defaults", func(ctx context.Context, q querier) error {
		now := time.Now().Unix()
		for id, doc := range docs {
			value, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			if _, err := q.ExecContext(ctx,
				`INSERT OR IGNORE INTO settings (id, value, created_at, updated_at) VALUES (?, ?, ?, ?)`,
				id, string(value), now, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// handle returns a healthy connection, reopening it when the ping fails.
func (s *Store) handle(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		err := s.db.PingContext(ctx)
		if err == nil {
			return s.db, nil
		}
		s.logger.Warn("⚠️ Database connection unhealthy, reopening", "error", err)
		s.db.Close()
		s.db = nil
	}

	db, err := sql.Open("sqlite3", s.dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s.db = db
	return db, nil
}

// Close releases the connection. The store reopens lazily if used again.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// run executes fn with the retry policy. Inside an open transaction fn
// runs once against that transaction; the outer call owns retries.
func (s *Store) run(ctx context.Context, op string, fn func(ctx context.Context, q querier) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx, tx)
	}
	err := s.retry.DoWithRetry(ctx, func() error {
		db, err := s.handle(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, db)
	})
	return classify(op, err)
}

// inTx runs fn inside a transaction, reusing one already carried by ctx
// instead of nesting.
func (s *Store) inTx(ctx context.Context, op string, fn func(ctx context.Context, q querier) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx, tx)
	}
	err := s.retry.DoWithRetry(ctx, func() error {
		db, err := s.handle(ctx)
		if err != nil {
			return err
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	return classify(op, err)
}
