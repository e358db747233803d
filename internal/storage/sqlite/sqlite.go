package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"autopost/internal/storage"
)

type SQLiteStore struct {
	conn      *sql.DB
	raw       storage.RawStore
	processed storage.ProcessedStore
	decisions storage.DecisionStore
	posts     storage.PostStore
	sources   storage.SourceStore
	links     storage.LinkStore
}

func New(dbPath string) (storage.Store, error) {
	slog.Info("Initializing SQLite content store", "path", dbPath)

	dbPath = fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath)
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("Content store initialized successfully")

	return &SQLiteStore{
		conn:      conn,
		raw:       newRawStore(conn),
		processed: newProcessedStore(conn),
		decisions: newDecisionStore(conn),
		posts:     newPostStore(conn),
		sources:   newSourceStore(conn),
		links:     newLinkStore(conn),
	}, nil
}

func runMigrations(conn *sql.DB) error {
	slog.Debug("Running database migrations")

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationsDir := filepath.Join("db", "migrations")
	if _, err := os.Stat(migrationsDir); err != nil {
		if os.IsNotExist(err) {
			slog.Debug("Migrations directory not found, skipping migrations", "path", migrationsDir)
			return nil
		}
		return fmt.Errorf("failed to access migrations directory: %w", err)
	}

	if err := goose.Up(conn, migrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Debug("Migrations completed successfully")
	return nil
}

func (s *SQLiteStore) GetConnection() *sql.DB {
	return s.conn
}

func (s *SQLiteStore) Raw() storage.RawStore {
	return s.raw
}

func (s *SQLiteStore) Processed() storage.ProcessedStore {
	return s.processed
}

func (s *SQLiteStore) Decisions() storage.DecisionStore {
	return s.decisions
}

func (s *SQLiteStore) Posts() storage.PostStore {
	return s.posts
}

func (s *SQLiteStore) Sources() storage.SourceStore {
	return s.sources
}

func (s *SQLiteStore) Links() storage.LinkStore {
	return s.links
}

func (s *SQLiteStore) Close(ctx context.Context) error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
