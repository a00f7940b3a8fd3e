// Package oauth exchanges a refresh token for a new Slack access token. The
// exchange is bounded by a timeout and every failure, panics included, comes
// back as an error wrapping ErrRefreshFailed.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/slack-scheduler/slack"
	"github.com/onnwee/slack-scheduler/telemetry"
)

// ErrRefreshFailed marks every failure returned by Refresher.Refresh.
var ErrRefreshFailed = errors.New("token refresh failed")

// DefaultTimeout bounds a refresh call when Refresher.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// RefreshFunc performs the provider-specific refresh and returns (access, refresh, expiry).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, error)

// Refreshed is a successful refresh. RefreshToken is never empty: when the
// provider does not rotate it, the token that was spent is carried over.
type Refreshed struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Refresher wraps a RefreshFunc. It does not persist anything; callers store
// the result.
type Refresher struct {
	Fn      RefreshFunc
	Timeout time.Duration
}

// New returns a Refresher around fn.
func New(fn RefreshFunc, timeout time.Duration) *Refresher {
	return &Refresher{Fn: fn, Timeout: timeout}
}

// SlackRefreshFunc adapts the Slack refresh-token grant.
func SlackRefreshFunc(o *slack.OAuth) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (string, string, time.Time, error) {
		tok, err := o.Refresh(ctx, refreshToken)
		if err != nil {
			return "", "", time.Time{}, err
		}
		return tok.AccessToken, tok.RefreshToken, tok.Expiry, nil
	}
}

// Refresh exchanges rt for a new access token.
func (r *Refresher) Refresh(ctx context.Context, rt string) (out Refreshed, err error) {
	ctx, span := telemetry.StartSpan(ctx, "oauth.refresh")
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "oauth"))

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrRefreshFailed, p)
			out = Refreshed{}
		}
		if err != nil {
			telemetry.RecordRefresh(telemetry.RefreshFailed)
			telemetry.RecordError(span, err)
			log.Warn("token refresh failed", slog.Any("err", err))
			return
		}
		telemetry.RecordRefresh(telemetry.RefreshOK)
		telemetry.SetSpanSuccess(span)
		log.Info("token refreshed", slog.String("access_tail", telemetry.MaskToken(out.AccessToken)))
	}()

	if r == nil || r.Fn == nil {
		return Refreshed{}, fmt.Errorf("%w: no refresh function configured", ErrRefreshFailed)
	}
	if rt == "" {
		return Refreshed{}, fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx2, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	newAT, newRT, exp, ferr := r.Fn(ctx2, rt)
	if ferr != nil {
		return Refreshed{}, fmt.Errorf("%w: %w", ErrRefreshFailed, ferr)
	}
	if newAT == "" {
		return Refreshed{}, fmt.Errorf("%w: empty access token in response", ErrRefreshFailed)
	}
	if newRT == "" {
		newRT = rt
	}
	return Refreshed{AccessToken: newAT, RefreshToken: newRT, Expiry: exp}, nil
}
