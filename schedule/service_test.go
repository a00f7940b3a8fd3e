package schedule_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onnwee/slack-scheduler/schedule"
	"github.com/onnwee/slack-scheduler/store"
)

func newService(t *testing.T) (*schedule.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return schedule.NewService(schedule.NewQueue(mem)), mem
}

func TestCreateValidation(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name   string
		req    schedule.CreateRequest
		fields []string
	}{
		{name: "all missing", req: schedule.CreateRequest{}, fields: []string{"channel", "text", "sendAt"}},
		{name: "no channel", req: schedule.CreateRequest{Text: "hi", SendAt: now}, fields: []string{"channel"}},
		{name: "no text", req: schedule.CreateRequest{Channel: "#general", SendAt: now}, fields: []string{"text"}},
		{name: "no sendAt", req: schedule.CreateRequest{Channel: "#general", Text: "hi"}, fields: []string{"sendAt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.req)
			require.ErrorIs(t, err, schedule.ErrValidation)
			var ve *schedule.ValidationError
			require.True(t, errors.As(err, &ve))
			require.Equal(t, tt.fields, ve.Fields)
		})
	}
	require.Equal(t, 0, mem.QueueWrites(), "rejected creates must not write")
}

func TestCreateAssignsUniqueIDsAndUTC(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	loc := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2025, 5, 1, 10, 0, 0, 0, loc)

	seen := map[string]bool{}
	for i := range 50 {
		m, err := svc.Create(ctx, schedule.CreateRequest{Channel: "#general", Text: strconv.Itoa(i), SendAt: at})
		require.NoError(t, err)
		require.NotEmpty(t, m.ID)
		require.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
		require.Equal(t, time.UTC, m.SendAt.Location())
		require.True(t, m.SendAt.Equal(at))
		require.False(t, m.Sent)
	}

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 50)
	for i, m := range list {
		require.Equal(t, strconv.Itoa(i), m.Text, "list keeps creation order")
	}
}

func TestCreateRetriesCollidingIDs(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	ids := []string{"same", "same", "same", "other"}
	svc.NewID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := svc.Create(ctx, schedule.CreateRequest{Channel: "c", Text: "1", SendAt: time.Now()})
	require.NoError(t, err)
	require.Equal(t, "same", first.ID)

	second, err := svc.Create(ctx, schedule.CreateRequest{Channel: "c", Text: "2", SendAt: time.Now()})
	require.NoError(t, err)
	require.Equal(t, "other", second.ID)

	svc.NewID = func() string { return "same" }
	_, err = svc.Create(ctx, schedule.CreateRequest{Channel: "c", Text: "3", SendAt: time.Now()})
	require.Error(t, err)
}

func TestListExcludesSent(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	at := time.Now().UTC()
	require.NoError(t, mem.SaveQueue(ctx, []schedule.Message{
		{ID: "1", Channel: "c", Text: "a", SendAt: at, Sent: true},
		{ID: "2", Channel: "c", Text: "b", SendAt: at},
	}))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "2", list[0].ID)

	fresh, _ := newService(t)
	empty, err := fresh.List(ctx)
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestCancel(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	at := time.Now().UTC()
	require.NoError(t, mem.SaveQueue(ctx, []schedule.Message{
		{ID: "sent", Channel: "c", Text: "a", SendAt: at, Sent: true},
		{ID: "keep", Channel: "c", Text: "b", SendAt: at},
		{ID: "drop", Channel: "c", Text: "c", SendAt: at},
	}))
	writes := mem.QueueWrites()

	t.Run("unknown id", func(t *testing.T) {
		require.ErrorIs(t, svc.Cancel(ctx, "nope"), schedule.ErrNotFound)
		require.Equal(t, writes, mem.QueueWrites())
	})

	t.Run("already sent", func(t *testing.T) {
		require.ErrorIs(t, svc.Cancel(ctx, "sent"), schedule.ErrNotFound)
		require.Equal(t, writes, mem.QueueWrites())
		msgs, err := mem.LoadQueue(ctx)
		require.NoError(t, err)
		require.Len(t, msgs, 3, "sent record stays in storage")
	})

	t.Run("pending id", func(t *testing.T) {
		require.NoError(t, svc.Cancel(ctx, "drop"))
		msgs, err := mem.LoadQueue(ctx)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		require.Equal(t, "sent", msgs[0].ID)
		require.Equal(t, "keep", msgs[1].ID)

		require.ErrorIs(t, svc.Cancel(ctx, "drop"), schedule.ErrNotFound, "second cancel is not-found")
	})
}

func TestQueueMarkSentIgnoresCancelledAndSent(t *testing.T) {
	mem := store.NewMemory()
	q := schedule.NewQueue(mem)
	ctx := context.Background()
	require.NoError(t, mem.SaveQueue(ctx, []schedule.Message{
		{ID: "a"}, {ID: "b", Sent: true}, {ID: "c"},
	}))

	n, err := q.MarkSent(ctx, []string{"a", "b", "gone"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	msgs, err := mem.LoadQueue(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 3, "MarkSent never adds records")
	require.True(t, msgs[0].Sent)
	require.False(t, msgs[2].Sent)

	writes := mem.QueueWrites()
	n, err = q.MarkSent(ctx, []string{"b", "gone"})
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, writes, mem.QueueWrites(), "no write when nothing changed")
}

func TestQueueConcurrentCreatesAreNotLost(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, schedule.CreateRequest{Channel: "c", Text: strconv.Itoa(i), SendAt: time.Now()})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs, err := mem.LoadQueue(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 20)
}

func TestMessageDue(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.True(t, schedule.Message{SendAt: now}.Due(now))
	require.True(t, schedule.Message{SendAt: now.Add(-time.Second)}.Due(now))
	require.False(t, schedule.Message{SendAt: now.Add(time.Second)}.Due(now))
	require.False(t, schedule.Message{SendAt: now.Add(-time.Hour), Sent: true}.Due(now))
}
