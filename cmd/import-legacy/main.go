// Package main imports the JSON files written by the legacy scheduler
// (scheduled_messages.json and slack_token.json) into the configured store
// backend.
//
// Messages are merged by id: ids already present in the destination are left
// alone. The credential is only written when the destination has none, unless
// --force is given.
//
// Usage:
//
//	import-legacy --dir DIR [--dry-run] [--force]
//
// Flags:
//
//	--dir: directory holding the legacy JSON files (required)
//	--dry-run: report what would be imported without writing
//	--force: overwrite an existing credential in the destination
//
// The destination is chosen exactly as the server chooses it (STORE_BACKEND,
// DATA_DIR, DB_DSN, ENCRYPTION_KEY; a .env file is honoured).
//
// Example:
//
//	STORE_BACKEND=postgres DB_DSN=postgres://... ./import-legacy --dir ./old-backend/dist --dry-run
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/onnwee/slack-scheduler/config"
	"github.com/onnwee/slack-scheduler/schedule"
	"github.com/onnwee/slack-scheduler/store"
)

type summary struct {
	Messages          int // found in the legacy file
	Imported          int
	Skipped           int // id already present
	CredentialWritten bool
}

func main() {
	dir := flag.String("dir", "", "Directory holding scheduled_messages.json and slack_token.json")
	dryRun := flag.Bool("dry-run", false, "Show what would be imported without making changes")
	force := flag.Bool("force", false, "Overwrite an existing credential in the destination")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *dir == "" {
		slog.Error("--dir is required")
		os.Exit(2)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", slog.Any("err", err))
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.StoreBackend == config.BackendFile && sameDir(*dir, cfg.DataDir) {
		slog.Error("source and destination are the same directory", slog.String("dir", *dir))
		os.Exit(1)
	}

	ctx := context.Background()
	// Legacy files were never encrypted.
	src, err := store.NewFile(*dir, nil)
	if err != nil {
		slog.Error("failed to open legacy directory", slog.Any("error", err))
		os.Exit(1)
	}
	dst, err := store.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open destination store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dst.Close(); err != nil {
			slog.Warn("failed to close store", slog.Any("error", err))
		}
	}()

	sum, err := importLegacy(ctx, src, dst, *dryRun, *force)
	if err != nil {
		slog.Error("import failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("import summary",
		slog.String("backend", cfg.StoreBackend),
		slog.Int("messages", sum.Messages),
		slog.Int("imported", sum.Imported),
		slog.Int("skipped", sum.Skipped),
		slog.Bool("credential_written", sum.CredentialWritten),
		slog.Bool("dry_run", *dryRun))
}

// importLegacy copies the queue and credential held by src into dst.
func importLegacy(ctx context.Context, src *store.File, dst store.Backend, dryRun, force bool) (summary, error) {
	var sum summary

	legacy, err := src.LoadQueue(ctx)
	if err != nil {
		return sum, fmt.Errorf("read legacy queue: %w", err)
	}
	sum.Messages = len(legacy)

	err = schedule.NewQueue(dst).Update(ctx, func(msgs []schedule.Message) ([]schedule.Message, bool, error) {
		have := make(map[string]struct{}, len(msgs))
		for _, m := range msgs {
			have[m.ID] = struct{}{}
		}
		for _, m := range legacy {
			if _, dup := have[m.ID]; dup || m.ID == "" {
				sum.Skipped++
				continue
			}
			m.SendAt = m.SendAt.UTC()
			msgs = append(msgs, m)
			have[m.ID] = struct{}{}
			sum.Imported++
			slog.Info("importing message", slog.String("id", m.ID), slog.String("channel", m.Channel), slog.Bool("sent", m.Sent))
		}
		return msgs, sum.Imported > 0 && !dryRun, nil
	})
	if err != nil {
		return sum, fmt.Errorf("write queue: %w", err)
	}

	cred, err := src.LoadCredential(ctx)
	if err != nil {
		return sum, fmt.Errorf("read legacy credential: %w", err)
	}
	if cred == nil {
		slog.Info("no legacy credential found")
		return sum, nil
	}
	existing, err := dst.LoadCredential(ctx)
	if err != nil {
		return sum, fmt.Errorf("read destination credential: %w", err)
	}
	if existing != nil && !force {
		slog.Warn("destination already has a credential; use --force to overwrite")
		return sum, nil
	}
	if dryRun {
		slog.Info("would import credential (dry-run)", slog.Bool("refresh_token", cred.RefreshToken != ""))
		return sum, nil
	}
	if err := dst.SaveCredential(ctx, *cred); err != nil {
		return sum, fmt.Errorf("write credential: %w", err)
	}
	sum.CredentialWritten = true
	return sum, nil
}

func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
