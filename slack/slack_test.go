package slack_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onnwee/slack-scheduler/slack"
	"github.com/onnwee/slack-scheduler/testutil"
)

func TestPostMessageOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    slack.Outcome
		ts      string
		reason  string
	}{
		{
			name: "delivered",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`))
			},
			want: slack.Delivered, ts: "1700000000.000100",
		},
		{
			name: "invalid_auth",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"ok":false,"error":"invalid_auth"}`))
			},
			want: slack.AuthExpired, reason: "invalid_auth",
		},
		{
			name: "token_expired",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"ok":false,"error":"token_expired"}`))
			},
			want: slack.AuthExpired, reason: "token_expired",
		},
		{
			name: "channel_not_found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
			},
			want: slack.RemoteRejected, reason: "channel_not_found",
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			want: slack.TransportFailure,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
			want: slack.TransportFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockSlackServer(t)
			srv.Handlers["/chat.postMessage"] = tt.handler
			c := slack.NewClient(srv.URL, 2*time.Second)

			res := c.PostMessage(context.Background(), "xoxb-1", "#general", "hi")
			require.Equal(t, tt.want, res.Outcome, "outcome %s", res.Outcome)
			require.Equal(t, tt.ts, res.TS)
			require.Equal(t, tt.reason, res.Reason)
			if tt.want == slack.TransportFailure {
				require.Error(t, res.Err)
			} else {
				require.NoError(t, res.Err)
			}
		})
	}
}

func TestPostMessageSendsBearerAndBody(t *testing.T) {
	srv := testutil.NewMockSlackServer(t)
	srv.MockPostMessage("xoxb-good", "1.0")
	c := slack.NewClient(srv.URL+"/", time.Second)

	res := c.PostMessage(context.Background(), "xoxb-good", "#general", "hello")
	require.Equal(t, slack.Delivered, res.Outcome)

	posts := srv.Posts()
	require.Len(t, posts, 1)
	require.Equal(t, testutil.PostedMessage{Token: "xoxb-good", Channel: "#general", Text: "hello"}, posts[0])
}

func TestPostMessageTransportError(t *testing.T) {
	c := slack.NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	res := c.PostMessage(context.Background(), "t", "c", "x")
	require.Equal(t, slack.TransportFailure, res.Outcome)
	require.Error(t, res.Err)
}

func TestPostMessageHonoursContext(t *testing.T) {
	srv := testutil.NewMockSlackServer(t)
	srv.Handlers["/chat.postMessage"] = func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}
	c := slack.NewClient(srv.URL, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := c.PostMessage(ctx, "t", "c", "x")
	require.Equal(t, slack.TransportFailure, res.Outcome)
}

func TestClassifyError(t *testing.T) {
	require.Equal(t, slack.AuthExpired, slack.ClassifyError("invalid_auth"))
	require.Equal(t, slack.AuthExpired, slack.ClassifyError("token_expired"))
	require.Equal(t, slack.RemoteRejected, slack.ClassifyError("not_in_channel"))
	require.Equal(t, slack.RemoteRejected, slack.ClassifyError(""))
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "delivered", slack.Delivered.String())
	require.Equal(t, "auth_expired", slack.AuthExpired.String())
	require.Equal(t, "remote_rejected", slack.RemoteRejected.String())
	require.Equal(t, "transport_failure", slack.TransportFailure.String())
	require.Equal(t, "unknown", slack.Outcome(42).String())
}

func TestAuthCodeURL(t *testing.T) {
	o := &slack.OAuth{
		ClientID:    "123.456",
		RedirectURI: "https://app.example/slack/oauth_redirect",
		Scopes:      []string{"channels:read", "chat:write"},
	}
	raw, err := o.AuthCodeURL("st4te")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "slack.com", u.Host)
	require.Equal(t, "/oauth/v2/authorize", u.Path)
	q := u.Query()
	require.Equal(t, "123.456", q.Get("client_id"))
	require.Equal(t, "channels:read,chat:write", q.Get("scope"))
	require.Equal(t, "https://app.example/slack/oauth_redirect", q.Get("redirect_uri"))
	require.Equal(t, "st4te", q.Get("state"))

	_, err = (&slack.OAuth{RedirectURI: "x"}).AuthCodeURL("s")
	require.Error(t, err)
}

func TestExchange(t *testing.T) {
	srv := testutil.NewMockSlackServer(t)
	var form url.Values
	srv.Handlers["/oauth.v2.access"] = func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		_, _ = w.Write([]byte(`{"ok":true,"access_token":"xoxb-new","refresh_token":"xoxe-new","team":{"id":"T1","name":"Acme"},"authed_user":{"id":"U1"}}`))
	}
	o := &slack.OAuth{ClientID: "id", ClientSecret: "secret", RedirectURI: "https://r", APIURL: srv.URL}

	res, err := o.Exchange(context.Background(), "the-code")
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, "xoxb-new", res.AccessToken)
	require.Equal(t, "xoxe-new", res.RefreshToken)
	require.JSONEq(t, `{"id":"T1","name":"Acme"}`, string(res.Team))
	require.JSONEq(t, `{"id":"U1"}`, string(res.AuthedUser))

	require.Equal(t, "the-code", form.Get("code"))
	require.Equal(t, "secret", form.Get("client_secret"))
	require.Equal(t, "https://r", form.Get("redirect_uri"))
}

func TestExchangeNotOK(t *testing.T) {
	srv := testutil.NewMockSlackServer(t)
	srv.MockOAuthError("invalid_code")
	o := &slack.OAuth{ClientID: "id", ClientSecret: "secret", APIURL: srv.URL}

	res, err := o.Exchange(context.Background(), "bad")
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, "invalid_code", res.Error)
}

func TestExchangeHTTPError(t *testing.T) {
	srv := testutil.NewMockSlackServer(t)
	srv.Handlers["/oauth.v2.access"] = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}
	o := &slack.OAuth{ClientID: "id", ClientSecret: "secret", APIURL: srv.URL}

	_, err := o.Exchange(context.Background(), "code")
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestRefresh(t *testing.T) {
	srv := testutil.NewMockSlackServer(t)
	var form url.Values
	srv.Handlers["/oauth.v2.access"] = func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true, "access_token": "xoxb-fresh", "refresh_token": "xoxe-rotated", "expires_in": 43200, "token_type": "bot",
		})
	}
	o := &slack.OAuth{ClientID: "id", ClientSecret: "secret", APIURL: srv.URL}

	tok, err := o.Refresh(context.Background(), "xoxe-old")
	require.NoError(t, err)
	require.Equal(t, "xoxb-fresh", tok.AccessToken)
	require.Equal(t, "xoxe-rotated", tok.RefreshToken)
	require.WithinDuration(t, time.Now().Add(12*time.Hour), tok.Expiry, time.Minute)

	require.Equal(t, "refresh_token", form.Get("grant_type"))
	require.Equal(t, "xoxe-old", form.Get("refresh_token"))
	require.Equal(t, "id", form.Get("client_id"))
	require.Equal(t, "secret", form.Get("client_secret"))
}

func TestRefreshKeepsRefreshTokenWhenOmitted(t *testing.T) {
	srv := testutil.NewMockSlackServer(t)
	srv.MockOAuthAccess("xoxb-fresh", "")
	o := &slack.OAuth{ClientID: "id", ClientSecret: "secret", APIURL: srv.URL}

	tok, err := o.Refresh(context.Background(), "xoxe-keep")
	require.NoError(t, err)
	require.Equal(t, "xoxe-keep", tok.RefreshToken)
}

func TestRefreshFailure(t *testing.T) {
	srv := testutil.NewMockSlackServer(t)
	srv.MockOAuthError("invalid_refresh_token")
	o := &slack.OAuth{ClientID: "id", ClientSecret: "secret", APIURL: srv.URL}

	_, err := o.Refresh(context.Background(), "xoxe-bad")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "refresh failed"), err.Error())

	_, err = (&slack.OAuth{}).Refresh(context.Background(), "x")
	require.Error(t, err)
	_, err = o.Refresh(context.Background(), "")
	require.Error(t, err)
}
