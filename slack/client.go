// Package slack talks to the Slack Web API: chat.postMessage for delivery and
// oauth.v2.access for the authorization-code and refresh-token grants.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/slack-scheduler/telemetry"
)

// DefaultAPIURL is the Slack Web API base.
const DefaultAPIURL = "https://slack.com/api"

// Client posts messages. It never retries; callers decide what to do with a
// non-Delivered Result.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a Client for baseURL (DefaultAPIURL when empty) whose
// calls time out after timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type postMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

// PostMessage sends text to channel with token.
func (c *Client) PostMessage(ctx context.Context, token, channel, text string) Result {
	ctx, span := telemetry.StartSpan(ctx, "slack.post_message", attribute.String("channel", channel))
	defer span.End()

	var res Result
	telemetry.TimeFunc(telemetry.DeliveryDuration, func() {
		res = c.postMessage(ctx, token, channel, text)
	})

	span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
	switch res.Outcome {
	case Delivered:
		telemetry.SetSpanSuccess(span)
	case TransportFailure:
		telemetry.RecordError(span, res.Err)
	default:
		telemetry.RecordError(span, fmt.Errorf("slack error: %s", res.Reason))
	}
	return res
}

func (c *Client) postMessage(ctx context.Context, token, channel, text string) Result {
	body, err := json.Marshal(postMessageRequest{Channel: channel, Text: text})
	if err != nil {
		return Result{Outcome: TransportFailure, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return Result{Outcome: TransportFailure, Err: err}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Result{Outcome: TransportFailure, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Result{Outcome: TransportFailure, Err: fmt.Errorf("chat.postMessage: %s: %s", resp.Status, string(b))}
	}

	var pr postMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return Result{Outcome: TransportFailure, Err: fmt.Errorf("decode chat.postMessage response: %w", err)}
	}
	if pr.OK {
		return Result{Outcome: Delivered, TS: pr.TS}
	}
	return Result{Outcome: ClassifyError(pr.Error), Reason: pr.Error}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
