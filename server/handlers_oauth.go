package server

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/onnwee/slack-scheduler/schedule"
	"github.com/onnwee/slack-scheduler/telemetry"
)

// HandleSlackOAuthStart initiates the Slack OAuth flow by redirecting to the
// v2 authorize page.
func (h *Handlers) HandleSlackOAuthStart(w http.ResponseWriter, r *http.Request) {
	if !h.deps.OAuthOK {
		writeError(w, http.StatusBadRequest, "oauth not configured (need SLACK_CLIENT_ID, SLACK_CLIENT_SECRET and SLACK_REDIRECT_URI)")
		return
	}
	st := uuid.NewString()
	if !h.addOAuthState(st, h.now().Add(oauthStateTTL)) {
		writeError(w, http.StatusServiceUnavailable, "too many pending authorizations, try again later")
		return
	}
	authURL, err := h.deps.OAuth.AuthCodeURL(st)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleSlackOAuthCallback exchanges the authorization code and stores the
// resulting credential.
func (h *Handlers) HandleSlackOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "No code provided", http.StatusBadRequest)
		return
	}
	if !h.consumeOAuthState(r.URL.Query().Get("state")) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "oauth"))
	res, err := h.deps.OAuth.Exchange(ctx, code)
	if err != nil {
		log.Error("slack token exchange failed", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Token exchange failed", "details": err.Error()})
		return
	}
	if !res.OK {
		writeError(w, http.StatusBadRequest, res.Error)
		return
	}

	cred := schedule.Credential{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		Team:         res.Team,
		AuthedUser:   res.AuthedUser,
	}
	if err := h.deps.Store.SaveCredential(ctx, cred); err != nil {
		log.Error("store slack credential failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to store slack token")
		return
	}
	log.Info("slack credential stored",
		slog.String("access_token", telemetry.MaskToken(res.AccessToken)),
		slog.Bool("refresh_token", res.RefreshToken != ""))

	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Slack authentication successful and token stored!",
		"team":        res.Team,
		"authed_user": res.AuthedUser,
	})
}
