// Package store provides the non-Postgres implementations of the queue and
// credential stores and picks a backend from configuration.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/onnwee/slack-scheduler/config"
	"github.com/onnwee/slack-scheduler/crypto"
	"github.com/onnwee/slack-scheduler/db"
	"github.com/onnwee/slack-scheduler/schedule"
)

// SQLiteFileName is the database file the sqlite backend keeps in DATA_DIR.
const SQLiteFileName = "slack-scheduler.db"

// Backend is a durable home for both records.
type Backend interface {
	schedule.QueueStore
	schedule.CredentialStore
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*Memory)(nil)
	_ Backend = (*File)(nil)
	_ Backend = (*SQLite)(nil)
	_ Backend = (*db.Store)(nil)
)

// Open returns the backend named by cfg.StoreBackend.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	enc, err := encryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	log := slog.With(slog.String("component", "store"), slog.String("backend", cfg.StoreBackend))

	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Warn("memory store selected, queue and credential are lost on restart")
		return NewMemory(), nil
	case config.BackendFile, "":
		log.Info("using file store", slog.String("dir", cfg.DataDir))
		f, err := NewFile(cfg.DataDir, enc)
		if err != nil {
			return nil, err
		}
		return f, nil
	case config.BackendSQLite:
		path := filepath.Join(cfg.DataDir, SQLiteFileName)
		log.Info("using sqlite store", slog.String("path", path))
		s, err := OpenSQLite(ctx, path, enc)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		return openPostgres(ctx, cfg.DBDsn, enc, log)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func openPostgres(ctx context.Context, dsn string, enc crypto.Encryptor, log *slog.Logger) (Backend, error) {
	database, err := db.Connect(dsn)
	if err != nil {
		return nil, err
	}
	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	log.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		log.Warn("versioned migrations failed, falling back to idempotent schema statements",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return db.NewStore(database, enc), nil
}

// encryptor returns nil (an untyped nil interface) when no key is set.
func encryptor(key string) (crypto.Encryptor, error) {
	if key == "" {
		return nil, nil
	}
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

func rawOrNil(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}

func nullRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
