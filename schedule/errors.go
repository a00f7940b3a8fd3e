package schedule

import (
	"errors"
	"strings"
)

var (
	// ErrValidation marks a request rejected for missing or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when cancelling an unknown or already sent message.
	ErrNotFound = errors.New("message not found or already sent")
	// ErrNoCredential means no Slack credential has been stored yet.
	ErrNoCredential = errors.New("no slack token found, authenticate first")
)

// ValidationError lists the required fields a request was missing.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Fields, ", ") + " required"
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// requireFields returns a *ValidationError naming every empty field, or nil.
// Pairs are name, value.
func requireFields(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &ValidationError{Fields: missing}
}

// RequireMessage validates the fields an immediate send needs.
func RequireMessage(channel, text string) error {
	return requireFields("channel", channel, "text", text)
}
