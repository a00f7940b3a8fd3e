// Package db provides the Postgres connection, schema migrations, and the
// Postgres-backed queue and credential stores.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/slack-scheduler/crypto"
	"github.com/onnwee/slack-scheduler/schedule"
)

// Connect opens a Postgres connection pool for dsn.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty (set DB_DSN)")
	}
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent schema statements. It is the fallback for
// databases where versioned migrations cannot run.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scheduled_messages (
			position INTEGER NOT NULL,
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			text TEXT NOT NULL,
			send_at TIMESTAMPTZ NOT NULL,
			sent BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS slack_credentials (
			singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			team JSONB,
			authed_user JSONB,
			encryption_version INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_messages_position ON scheduled_messages(position)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_messages_due ON scheduled_messages(sent, send_at)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// Store implements the queue and credential stores on Postgres. With a nil
// Encryptor tokens are stored in plaintext (encryption_version = 0).
type Store struct {
	DB        *sql.DB
	Encryptor crypto.Encryptor
}

// NewStore wraps an open, migrated database.
func NewStore(db *sql.DB, enc crypto.Encryptor) *Store {
	if enc == nil {
		slog.Warn("ENCRYPTION_KEY not set, slack tokens will be stored in plaintext (not recommended for production)", slog.String("component", "db_encryption"))
	}
	return &Store{DB: db, Encryptor: enc}
}

func (s *Store) LoadQueue(ctx context.Context) ([]schedule.Message, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, channel, text, send_at, sent FROM scheduled_messages ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()

	out := []schedule.Message{}
	for rows.Next() {
		var m schedule.Message
		if err := rows.Scan(&m.ID, &m.Channel, &m.Text, &m.SendAt, &m.Sent); err != nil {
			return nil, err
		}
		m.SendAt = m.SendAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveQueue replaces the table contents in one transaction; other sessions
// see the old or the new snapshot, never a mix.
func (s *Store) SaveQueue(ctx context.Context, msgs []schedule.Message) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_messages`); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	for i, m := range msgs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scheduled_messages(position, id, channel, text, send_at, sent, updated_at)
			 VALUES($1,$2,$3,$4,$5,$6,NOW())`,
			i, m.ID, m.Channel, m.Text, m.SendAt.UTC(), m.Sent,
		); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// LoadCredential returns nil, nil when no credential row exists. Rows written
// in plaintext (encryption_version = 0) stay readable after a key is set.
func (s *Store) LoadCredential(ctx context.Context) (*schedule.Credential, error) {
	var c schedule.Credential
	var team, user []byte
	var version int
	err := s.DB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, team, authed_user, COALESCE(encryption_version, 0)
		 FROM slack_credentials WHERE singleton`,
	).Scan(&c.AccessToken, &c.RefreshToken, &team, &user, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.AccessToken, c.RefreshToken, err = crypto.OpenTokens(s.Encryptor, c.AccessToken, c.RefreshToken, version); err != nil {
		return nil, err
	}
	if len(team) > 0 {
		c.Team = json.RawMessage(team)
	}
	if len(user) > 0 {
		c.AuthedUser = json.RawMessage(user)
	}
	return &c, nil
}

// SaveCredential upserts the singleton credential row.
func (s *Store) SaveCredential(ctx context.Context, c schedule.Credential) error {
	access, refresh, version, err := crypto.SealTokens(s.Encryptor, c.AccessToken, c.RefreshToken)
	if err != nil {
		return err
	}
	q := `INSERT INTO slack_credentials(singleton, access_token, refresh_token, team, authed_user, encryption_version, updated_at)
		  VALUES(TRUE,$1,$2,$3,$4,$5,NOW())
		  ON CONFLICT(singleton) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    team=EXCLUDED.team,
		    authed_user=EXCLUDED.authed_user,
		    encryption_version=EXCLUDED.encryption_version,
		    updated_at=NOW()`
	_, err = s.DB.ExecContext(ctx, q, access, refresh, jsonbArg(c.Team), jsonbArg(c.AuthedUser), version)
	return err
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) Close() error { return s.DB.Close() }

// jsonbArg passes raw JSON as text so pgx does not re-encode it; empty
// values become NULL.
func jsonbArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
