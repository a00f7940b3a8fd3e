package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// PostedMessage is one chat.postMessage call seen by the mock.
type PostedMessage struct {
	Token   string
	Channel string
	Text    string
}

// MockSlackServer fakes the Slack Web API endpoints the service calls.
// Handlers are keyed by path (for example "/chat.postMessage"); unknown paths
// return 404.
type MockSlackServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu    sync.Mutex
	posts []PostedMessage
}

// NewMockSlackServer starts a mock whose URL can be used as the API base.
func NewMockSlackServer(t *testing.T) *MockSlackServer {
	t.Helper()
	m := &MockSlackServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Posts returns the chat.postMessage calls recorded so far.
func (m *MockSlackServer) Posts() []PostedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PostedMessage(nil), m.posts...)
}

// MockPostMessage answers chat.postMessage. Calls whose bearer token equals
// validToken succeed with ts; any other token gets invalid_auth.
func (m *MockSlackServer) MockPostMessage(validToken, ts string) {
	m.Handlers["/chat.postMessage"] = func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Channel string `json:"channel"`
			Text    string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // test mock request
		token := bearer(r)

		m.mu.Lock()
		m.posts = append(m.posts, PostedMessage{Token: token, Channel: body.Channel, Text: body.Text})
		m.mu.Unlock()

		if token != validToken {
			writeJSON(w, map[string]any{"ok": false, "error": "invalid_auth"})
			return
		}
		writeJSON(w, map[string]any{"ok": true, "channel": body.Channel, "ts": ts})
	}
}

// MockPostMessageError makes every chat.postMessage call fail with code.
func (m *MockSlackServer) MockPostMessageError(code string) {
	m.Handlers["/chat.postMessage"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": false, "error": code})
	}
}

// MockOAuthAccess answers oauth.v2.access for both the code exchange and the
// refresh grant with the given tokens.
func (m *MockSlackServer) MockOAuthAccess(accessToken, refreshToken string) {
	m.Handlers["/oauth.v2.access"] = func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := map[string]any{
			"ok":           true,
			"access_token": accessToken,
			"token_type":   "bot",
			"scope":        "chat:write",
			"expires_in":   43200,
		}
		if refreshToken != "" {
			resp["refresh_token"] = refreshToken
		}
		if r.Form.Get("grant_type") != "refresh_token" {
			resp["team"] = map[string]string{"id": "T123", "name": "Acme"}
			resp["authed_user"] = map[string]string{"id": "U123"}
		}
		writeJSON(w, resp)
	}
}

// MockOAuthError makes oauth.v2.access reply ok:false with code.
func (m *MockSlackServer) MockOAuthError(code string) {
	m.Handlers["/oauth.v2.access"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": false, "error": code})
	}
}

func bearer(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
