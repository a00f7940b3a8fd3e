package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/onnwee/slack-scheduler/crypto"
	"github.com/onnwee/slack-scheduler/schedule"
)

// File names inside the data directory. They match the layout of the
// legacy service so its data directory can be reused as-is.
const (
	QueueFileName      = "scheduled_messages.json"
	CredentialFileName = "slack_token.json"
)

// File persists each record as a pretty-printed JSON snapshot. Writes go to a
// temp file in the same directory which is then renamed over the target, so
// readers see either the old or the new snapshot.
type File struct {
	dir string
	enc crypto.Encryptor

	mu sync.Mutex // serialises writers of the same file
}

// fileCredential adds the encryption marker to the stored credential.
type fileCredential struct {
	schedule.Credential
	EncryptionVersion int `json:"encryption_version,omitempty"`
}

// NewFile opens (creating if needed) dir. A nil enc stores tokens in
// plaintext.
func NewFile(dir string, enc crypto.Encryptor) (*File, error) {
	if dir == "" {
		return nil, errors.New("data dir is required for file store")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &File{dir: dir, enc: enc}, nil
}

// Dir returns the directory the snapshots live in.
func (f *File) Dir() string { return f.dir }

func (f *File) LoadQueue(_ context.Context) ([]schedule.Message, error) {
	msgs := []schedule.Message{}
	ok, err := f.readJSON(QueueFileName, &msgs)
	if err != nil || !ok {
		return []schedule.Message{}, err
	}
	if msgs == nil {
		msgs = []schedule.Message{}
	}
	return msgs, nil
}

func (f *File) SaveQueue(_ context.Context, msgs []schedule.Message) error {
	if msgs == nil {
		msgs = []schedule.Message{}
	}
	return f.writeJSON(QueueFileName, msgs)
}

func (f *File) LoadCredential(_ context.Context) (*schedule.Credential, error) {
	var fc fileCredential
	ok, err := f.readJSON(CredentialFileName, &fc)
	if err != nil || !ok {
		return nil, err
	}
	if fc.AccessToken == "" {
		return nil, nil
	}
	access, refresh, err := crypto.OpenTokens(f.enc, fc.AccessToken, fc.RefreshToken, fc.EncryptionVersion)
	if err != nil {
		return nil, err
	}
	c := fc.Credential
	c.AccessToken, c.RefreshToken = access, refresh
	return &c, nil
}

func (f *File) SaveCredential(_ context.Context, c schedule.Credential) error {
	access, refresh, version, err := crypto.SealTokens(f.enc, c.AccessToken, c.RefreshToken)
	if err != nil {
		return err
	}
	fc := fileCredential{Credential: c, EncryptionVersion: version}
	fc.AccessToken, fc.RefreshToken = access, refresh
	return f.writeJSON(CredentialFileName, fc)
}

// Ping checks the data directory is still reachable.
func (f *File) Ping(context.Context) error {
	_, err := os.Stat(f.dir)
	return err
}

func (f *File) Close() error { return nil }

// readJSON decodes name into v. It reports false when the file is missing or
// empty.
func (f *File) readJSON(name string, v any) (bool, error) {
	b, err := os.ReadFile(filepath.Join(f.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if len(b) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

func (f *File) writeJSON(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(f.dir, name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
