// Package dispatch delivers queued messages when they fall due and sends
// immediate messages, refreshing an expired Slack token and retrying once.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/slack-scheduler/oauth"
	"github.com/onnwee/slack-scheduler/schedule"
	"github.com/onnwee/slack-scheduler/slack"
	"github.com/onnwee/slack-scheduler/telemetry"
)

// Delivery paths, used as the metric label.
const (
	PathScheduled = "scheduled"
	PathImmediate = "immediate"
)

// Poster abstracts chat.postMessage (for tests/mocks).
type Poster interface {
	PostMessage(ctx context.Context, token, channel, text string) slack.Result
}

// Refresher abstracts the refresh-token exchange.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (oauth.Refreshed, error)
}

// Deliverer owns the post, refresh-on-expiry, retry-once sequence shared by
// the dispatcher and immediate sends. One Deliverer must be shared by both so
// refreshes are serialised.
type Deliverer struct {
	Poster      Poster
	Refresher   Refresher
	Credentials schedule.CredentialStore
	// Timeout bounds each chat.postMessage call; zero means no extra bound.
	Timeout time.Duration

	refreshMu sync.Mutex
}

// Deliver posts text to channel with cred. On AuthExpired with a refresh
// token it refreshes, persists the new credential, and retries exactly once.
// It returns the final result and the credential to use from now on.
func (d *Deliverer) Deliver(ctx context.Context, path string, cred schedule.Credential, channel, text string) (slack.Result, schedule.Credential) {
	res := d.post(ctx, path, cred.AccessToken, channel, text)
	if res.Outcome != slack.AuthExpired {
		return res, cred
	}

	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "dispatch"), slog.String("path", path))
	if !cred.CanRefresh() {
		log.Warn("access token rejected and no refresh token stored; re-authenticate", slog.String("reason", res.Reason))
		return res, cred
	}

	next, ok := d.refresh(ctx, cred)
	if !ok {
		return res, cred
	}
	return d.post(ctx, path, next.AccessToken, channel, text), next
}

// SendNow delivers a message immediately, bypassing the queue. It returns the
// Slack message timestamp on success.
func (d *Deliverer) SendNow(ctx context.Context, channel, text string) (string, error) {
	cred, err := d.Credentials.LoadCredential(ctx)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return "", schedule.ErrNoCredential
	}
	if err := schedule.RequireMessage(channel, text); err != nil {
		return "", err
	}
	res, _ := d.Deliver(ctx, PathImmediate, *cred, channel, text)
	if err := resultError(res); err != nil {
		return "", err
	}
	return res.TS, nil
}

func (d *Deliverer) post(ctx context.Context, path, token, channel, text string) slack.Result {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	res := d.Poster.PostMessage(ctx, token, channel, text)
	telemetry.RecordDelivery(path, res.Outcome.String())
	return res
}

// refresh replaces the access token in stale. Under the lock it re-reads the
// stored credential: if someone else already refreshed, that token is reused
// instead of spending the refresh token a second time.
func (d *Deliverer) refresh(ctx context.Context, stale schedule.Credential) (schedule.Credential, bool) {
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "dispatch"))

	base := stale
	latest, err := d.Credentials.LoadCredential(ctx)
	if err != nil {
		log.Error("load credential before refresh failed", slog.Any("err", err))
		return stale, false
	}
	if latest != nil {
		if latest.AccessToken != "" && latest.AccessToken != stale.AccessToken {
			telemetry.RecordRefresh(telemetry.RefreshReused)
			log.Debug("access token already refreshed, reusing it")
			return *latest, true
		}
		base = *latest
	}
	if !base.CanRefresh() {
		return stale, false
	}

	r, err := d.Refresher.Refresh(ctx, base.RefreshToken)
	if err != nil {
		// Refresher already logged and counted the failure.
		return stale, false
	}
	next := base
	next.AccessToken = r.AccessToken
	next.RefreshToken = r.RefreshToken
	if err := d.Credentials.SaveCredential(ctx, next); err != nil {
		log.Error("persist refreshed credential failed", slog.Any("err", err))
	}
	return next, true
}
