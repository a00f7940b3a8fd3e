// Package schedule holds the scheduled-message domain: the records queued for
// future delivery, the single Slack credential used to deliver them, and the
// storage contracts both are persisted through.
package schedule

import (
	"context"
	"encoding/json"
	"time"
)

// Message is one queued send. Sent flips to true exactly once, after Slack
// acknowledges delivery; sent records stay in storage but are never delivered
// or listed again.
type Message struct {
	ID      string    `json:"id"`
	Channel string    `json:"channel"`
	Text    string    `json:"text"`
	SendAt  time.Time `json:"sendAt"`
	Sent    bool      `json:"sent"`
}

// Due reports whether m should be attempted at now.
func (m Message) Due(now time.Time) bool {
	return !m.Sent && !m.SendAt.After(now)
}

// Credential is the access/refresh pair obtained from Slack's OAuth flow.
// Team and AuthedUser are carried through untouched.
type Credential struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	Team         json.RawMessage `json:"team,omitempty"`
	AuthedUser   json.RawMessage `json:"authed_user,omitempty"`
}

// CanRefresh reports whether an expired access token can be replaced without
// sending the user through OAuth again.
func (c Credential) CanRefresh() bool { return c.RefreshToken != "" }

// QueueStore persists the whole queue as one snapshot. LoadQueue returns the
// messages in insertion order and an empty slice when nothing was saved yet.
// SaveQueue replaces the stored collection; readers never observe a partial
// write.
type QueueStore interface {
	LoadQueue(ctx context.Context) ([]Message, error)
	SaveQueue(ctx context.Context, msgs []Message) error
}

// CredentialStore holds at most one credential. LoadCredential returns nil,
// nil when none has been stored.
type CredentialStore interface {
	LoadCredential(ctx context.Context) (*Credential, error)
	SaveCredential(ctx context.Context, c Credential) error
}

// Pending filters msgs down to the ones not yet sent, keeping queue order.
func Pending(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Sent {
			out = append(out, m)
		}
	}
	return out
}
