package dispatch

import (
	"errors"
	"fmt"

	"github.com/onnwee/slack-scheduler/slack"
)

var (
	// ErrAuthExpired means Slack still rejected the token after any refresh
	// that was possible.
	ErrAuthExpired = errors.New("slack access token expired or invalid")
	// ErrRemoteRejected means Slack refused the message itself.
	ErrRemoteRejected = errors.New("slack rejected the message")
	// ErrTransport means the call to Slack did not complete.
	ErrTransport = errors.New("slack request failed")
)

// DeliveryError is returned by SendNow when the final attempt was not
// delivered. It matches exactly one of the sentinels above via errors.Is.
type DeliveryError struct {
	Kind   slack.Outcome
	Reason string // Slack error code, when Slack answered
	Cause  error  // transport error, when it did not
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.sentinel(), e.Reason)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.sentinel(), e.Cause)
	default:
		return e.sentinel().Error()
	}
}

func (e *DeliveryError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.sentinel(), e.Cause}
	}
	return []error{e.sentinel()}
}

func (e *DeliveryError) sentinel() error {
	switch e.Kind {
	case slack.AuthExpired:
		return ErrAuthExpired
	case slack.RemoteRejected:
		return ErrRemoteRejected
	default:
		return ErrTransport
	}
}

// resultError converts a non-delivered result into a *DeliveryError.
func resultError(res slack.Result) error {
	if res.Outcome == slack.Delivered {
		return nil
	}
	return &DeliveryError{Kind: res.Outcome, Reason: res.Reason, Cause: res.Err}
}
