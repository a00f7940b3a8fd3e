package schedule

import (
	"context"
	"fmt"
	"sync"

	"github.com/onnwee/slack-scheduler/telemetry"
)

// Queue serialises every writer in this process behind one
// read-modify-write section so a create, a cancel and the dispatcher's
// sent-marking can never overwrite each other's snapshot.
type Queue struct {
	store QueueStore
	mu    sync.Mutex
}

// NewQueue wraps store.
func NewQueue(store QueueStore) *Queue {
	return &Queue{store: store}
}

// Snapshot returns the current stored queue without taking the write lock.
func (q *Queue) Snapshot(ctx context.Context) ([]Message, error) {
	msgs, err := q.store.LoadQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	return msgs, nil
}

// Update loads the latest snapshot, passes it to fn and saves the result when
// fn reports a change. No write happens when fn returns changed=false or an
// error.
func (q *Queue) Update(ctx context.Context, fn func(msgs []Message) (out []Message, changed bool, err error)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs, err := q.store.LoadQueue(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	out, changed, err := fn(msgs)
	if err != nil || !changed {
		return err
	}
	if err := q.store.SaveQueue(ctx, out); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	telemetry.RecordQueueWrite()
	return nil
}

// MarkSent flags every listed id that is still queued and unsent. It returns
// how many records changed; ids cancelled in the meantime are ignored.
func (q *Queue) MarkSent(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	marked := 0
	err := q.Update(ctx, func(msgs []Message) ([]Message, bool, error) {
		for i := range msgs {
			if _, ok := want[msgs[i].ID]; ok && !msgs[i].Sent {
				msgs[i].Sent = true
				marked++
			}
		}
		return msgs, marked > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return marked, nil
}
