package slack

// Outcome is the classified result of one chat.postMessage call.
type Outcome int

const (
	// Delivered means Slack acknowledged the message.
	Delivered Outcome = iota
	// AuthExpired means Slack rejected the access token itself.
	AuthExpired
	// RemoteRejected means Slack answered ok:false for any other reason
	// (unknown channel, not in channel, rate limited and so on).
	RemoteRejected
	// TransportFailure means no usable answer came back: network error,
	// timeout, non-200 status or an undecodable body.
	TransportFailure
)

// String returns the metric/log label for the outcome.
func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case AuthExpired:
		return "auth_expired"
	case RemoteRejected:
		return "remote_rejected"
	case TransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// Result is what PostMessage reports. TS is set for Delivered, Reason holds
// Slack's error code for AuthExpired and RemoteRejected, Err holds the cause
// of a TransportFailure.
type Result struct {
	Outcome Outcome
	TS      string
	Reason  string
	Err     error
}

// authErrorCodes are the chat.postMessage error codes that mean the access
// token can no longer be used and a refresh may help.
var authErrorCodes = map[string]bool{
	"invalid_auth":  true,
	"token_expired": true,
}

// ClassifyError maps an ok:false error code to AuthExpired or RemoteRejected.
func ClassifyError(code string) Outcome {
	if authErrorCodes[code] {
		return AuthExpired
	}
	return RemoteRejected
}
