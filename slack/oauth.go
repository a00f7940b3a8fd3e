package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultAuthorizeURL is Slack's v2 authorize page.
const DefaultAuthorizeURL = "https://slack.com/oauth/v2/authorize"

// OAuth holds the Slack app credentials for the v2 OAuth flow.
type OAuth struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AuthorizeURL string // defaults to DefaultAuthorizeURL
	APIURL       string // defaults to DefaultAPIURL
	HTTPClient   *http.Client
}

// ExchangeResult is the oauth.v2.access answer to an authorization-code
// grant. Team and AuthedUser are kept verbatim.
type ExchangeResult struct {
	OK           bool            `json:"ok"`
	Error        string          `json:"error"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type"`
	Scope        string          `json:"scope"`
	ExpiresIn    int             `json:"expires_in"`
	Team         json.RawMessage `json:"team"`
	AuthedUser   json.RawMessage `json:"authed_user"`
}

// Token is a refreshed access token.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

func (o *OAuth) apiURL() string {
	if o.APIURL == "" {
		return DefaultAPIURL
	}
	return strings.TrimRight(o.APIURL, "/")
}

func (o *OAuth) config() *oauth2.Config {
	authURL := o.AuthorizeURL
	if authURL == "" {
		authURL = DefaultAuthorizeURL
	}
	return &oauth2.Config{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		RedirectURL:  o.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  o.apiURL() + "/oauth.v2.access",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthCodeURL builds the authorize redirect carrying state.
func (o *OAuth) AuthCodeURL(state string) (string, error) {
	if o.ClientID == "" || o.RedirectURI == "" {
		return "", errors.New("missing slack client id or redirect uri")
	}
	// Slack wants comma separated scopes; oauth2 would join them with spaces.
	return o.config().AuthCodeURL(state, oauth2.SetAuthURLParam("scope", strings.Join(o.Scopes, ","))), nil
}

// Exchange trades an authorization code for tokens. An ok:false answer is
// returned as a result with OK false, not as an error; errors mean the call
// itself failed.
func (o *OAuth) Exchange(ctx context.Context, code string) (*ExchangeResult, error) {
	if o.ClientID == "" || o.ClientSecret == "" || code == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	form := url.Values{}
	form.Set("client_id", o.ClientID)
	form.Set("client_secret", o.ClientSecret)
	form.Set("code", code)
	if o.RedirectURI != "" {
		form.Set("redirect_uri", o.RedirectURI)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiURL()+"/oauth.v2.access", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := o.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("slack auth code exchange failed: %s: %s", resp.Status, string(b))
	}
	var res ExchangeResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode oauth.v2.access response: %w", err)
	}
	return &res, nil
}

// Refresh runs the refresh-token grant. When Slack omits a new refresh
// token the returned Token carries the one passed in.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	if o.ClientID == "" || o.ClientSecret == "" {
		return nil, errors.New("missing slack client id/secret for token refresh")
	}
	if refreshToken == "" {
		return nil, errors.New("missing refresh token")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient())
	tok, err := o.config().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode != "" {
			return nil, fmt.Errorf("slack refresh failed: %s", re.ErrorCode)
		}
		return nil, fmt.Errorf("slack refresh failed: %w", err)
	}
	out := &Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

func (o *OAuth) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}
