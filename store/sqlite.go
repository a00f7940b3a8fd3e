package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/onnwee/slack-scheduler/crypto"
	"github.com/onnwee/slack-scheduler/schedule"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLite keeps both records in a single SQLite database file.
type SQLite struct {
	db  *sql.DB
	enc crypto.Encryptor
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(ctx context.Context, path string, enc crypto.Encryptor) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLite{db: db, enc: enc}, nil
}

func (s *SQLite) LoadQueue(ctx context.Context) ([]schedule.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, channel, text, send_at, sent FROM scheduled_messages ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []schedule.Message{}
	for rows.Next() {
		var m schedule.Message
		var sendAt string
		if err := rows.Scan(&m.ID, &m.Channel, &m.Text, &sendAt, &m.Sent); err != nil {
			return nil, err
		}
		if m.SendAt, err = time.Parse(time.RFC3339Nano, sendAt); err != nil {
			return nil, fmt.Errorf("message %s: bad send_at %q: %w", m.ID, sendAt, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveQueue rewrites the table inside one transaction.
func (s *SQLite) SaveQueue(ctx context.Context, msgs []schedule.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_messages`); err != nil {
		return err
	}
	for i, m := range msgs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO scheduled_messages(position, id, channel, text, send_at, sent) VALUES(?,?,?,?,?,?)`,
			i, m.ID, m.Channel, m.Text, m.SendAt.UTC().Format(time.RFC3339Nano), m.Sent,
		)
		if err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) LoadCredential(ctx context.Context) (*schedule.Credential, error) {
	var c schedule.Credential
	var team, user sql.NullString
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, team, authed_user, encryption_version FROM slack_credential WHERE singleton = 1`,
	).Scan(&c.AccessToken, &c.RefreshToken, &team, &user, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.AccessToken, c.RefreshToken, err = crypto.OpenTokens(s.enc, c.AccessToken, c.RefreshToken, version); err != nil {
		return nil, err
	}
	c.Team = rawOrNil(team)
	c.AuthedUser = rawOrNil(user)
	return &c, nil
}

func (s *SQLite) SaveCredential(ctx context.Context, c schedule.Credential) error {
	access, refresh, version, err := crypto.SealTokens(s.enc, c.AccessToken, c.RefreshToken)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO slack_credential(singleton, access_token, refresh_token, team, authed_user, encryption_version, updated_at)
		 VALUES(1,?,?,?,?,?,?)
		 ON CONFLICT(singleton) DO UPDATE SET
		   access_token=excluded.access_token,
		   refresh_token=excluded.refresh_token,
		   team=excluded.team,
		   authed_user=excluded.authed_user,
		   encryption_version=excluded.encryption_version,
		   updated_at=excluded.updated_at`,
		access, refresh, nullRaw(c.Team), nullRaw(c.AuthedUser), version, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
