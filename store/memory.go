package store

import (
	"context"
	"sync"

	"github.com/onnwee/slack-scheduler/schedule"
)

// Memory keeps both records in process memory. Nothing survives a restart;
// it backs tests and STORE_BACKEND=memory.
type Memory struct {
	mu          sync.RWMutex
	queue       []schedule.Message
	cred        *schedule.Credential
	queueWrites int
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) LoadQueue(_ context.Context) ([]schedule.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]schedule.Message{}, m.queue...), nil
}

func (m *Memory) SaveQueue(_ context.Context, msgs []schedule.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append([]schedule.Message{}, msgs...)
	m.queueWrites++
	return nil
}

// QueueWrites reports how many times SaveQueue has been called.
func (m *Memory) QueueWrites() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queueWrites
}

func (m *Memory) LoadCredential(_ context.Context) (*schedule.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cred == nil {
		return nil, nil
	}
	c := *m.cred
	return &c, nil
}

func (m *Memory) SaveCredential(_ context.Context, c schedule.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = &c
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
