package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateRequest is what a caller supplies to queue a message.
type CreateRequest struct {
	Channel string
	Text    string
	SendAt  time.Time
}

func (r CreateRequest) validate() error {
	err := RequireMessage(r.Channel, r.Text)
	if !r.SendAt.IsZero() {
		return err
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		ve.Fields = append(ve.Fields, "sendAt")
		return ve
	}
	return &ValidationError{Fields: []string{"sendAt"}}
}

// Service implements the create, list and cancel operations exposed to the
// HTTP layer.
type Service struct {
	Queue *Queue
	// NewID generates message ids; defaults to NewID.
	NewID func() string
}

// NewService returns a Service over q.
func NewService(q *Queue) *Service {
	return &Service{Queue: q, NewID: NewID}
}

// NewID returns a time-ordered id (UUIDv7: millisecond timestamp followed by
// random bits).
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Create validates req and appends a new unsent message to the queue.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Message, error) {
	if err := req.validate(); err != nil {
		return Message{}, err
	}

	var created Message
	err := s.Queue.Update(ctx, func(msgs []Message) ([]Message, bool, error) {
		id, err := s.uniqueID(msgs)
		if err != nil {
			return nil, false, err
		}
		created = Message{
			ID:      id,
			Channel: req.Channel,
			Text:    req.Text,
			SendAt:  req.SendAt.UTC(),
		}
		return append(msgs, created), true, nil
	})
	if err != nil {
		return Message{}, err
	}
	return created, nil
}

func (s *Service) uniqueID(msgs []Message) (string, error) {
	gen := s.NewID
	if gen == nil {
		gen = NewID
	}
	taken := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		taken[m.ID] = struct{}{}
	}
	for range 8 {
		id := gen()
		if _, dup := taken[id]; !dup && id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique message id")
}

// List returns the unsent messages in queue order. The result is never nil.
func (s *Service) List(ctx context.Context) ([]Message, error) {
	msgs, err := s.Queue.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return Pending(msgs), nil
}

// Cancel removes the unsent message with id. It returns ErrNotFound, and
// leaves storage untouched, when no such unsent message exists.
func (s *Service) Cancel(ctx context.Context, id string) error {
	found := false
	err := s.Queue.Update(ctx, func(msgs []Message) ([]Message, bool, error) {
		for i, m := range msgs {
			if m.ID == id && !m.Sent {
				found = true
				return append(msgs[:i:i], msgs[i+1:]...), true, nil
			}
		}
		return msgs, false, nil
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}
