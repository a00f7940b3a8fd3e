package server

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/slack-scheduler/schedule"
	"github.com/onnwee/slack-scheduler/slack"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	// How long an issued OAuth state stays valid
	oauthStateTTL = 10 * time.Minute
)

// Storage is the part of the store backend the handlers touch directly.
type Storage interface {
	schedule.CredentialStore
	Ping(ctx context.Context) error
}

// Sender delivers a message immediately (dispatch.Deliverer).
type Sender interface {
	SendNow(ctx context.Context, channel, text string) (string, error)
}

// Authorizer runs the Slack side of the OAuth flow (slack.OAuth).
type Authorizer interface {
	AuthCodeURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (*slack.ExchangeResult, error)
}

// Deps are the collaborators the HTTP surface is built on.
type Deps struct {
	Store    Storage
	Messages *schedule.Service
	Sender   Sender
	OAuth    Authorizer
	OAuthOK  bool // client id, secret and redirect URI are configured
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps       Deps
	stateStore map[string]time.Time
	stateMu    sync.Mutex
	now        func() time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		deps:       deps,
		stateStore: make(map[string]time.Time),
		now:        time.Now,
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := h.now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState records state until expiry. It reports false when the store
// is full even after cleanup.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState removes state and reports whether it was issued and is
// still valid. A state can be used once.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return !h.now().After(exp)
}
