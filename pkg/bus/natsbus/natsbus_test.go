package natsbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/lapcounter-go/pkg/model"
	"github.com/mpapenbr/lapcounter-go/testsupport/tcnats"
)

type collector struct {
	mu   sync.Mutex
	msgs []string
}

func (c *collector) handle(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, string(data))
}

func (c *collector) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.msgs...)
}

func connect(t *testing.T) *Bus {
	t.Helper()
	if testing.Short() {
		t.Skip("needs a nats server")
	}
	b, err := Connect(tcnats.NatsURL())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestPublishSubscribe(t *testing.T) {
	b := connect(t)
	var c collector
	sub, err := b.Subscribe("status.natsbus-test", c.handle)
	require.NoError(t, err)
	require.NoError(t, b.Conn().Flush())

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "status.natsbus-test", []byte("one")))
	require.NoError(t, b.Publish(ctx, "status.natsbus-test", []byte("two")))
	assert.Eventually(t, func() bool { return len(c.get()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"one", "two"}, c.get())

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
}

func TestPublish_Cancelled(t *testing.T) {
	b := connect(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Publish(ctx, "status.natsbus-test", []byte("x")), context.Canceled)
}

func TestSnapshotCache(t *testing.T) {
	b := connect(t)
	ctx := context.Background()
	cache, err := NewSnapshotCache(ctx, b.Conn(), "cache-test-"+time.Now().Format("150405.000"))
	require.NoError(t, err)

	_, err = cache.Latest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	s := model.NewSnapshot().Next(time.UnixMilli(1_700_000_000_000).UTC())
	s.StatusMessage = "cached"
	require.NoError(t, cache.PutLatest(ctx, s))

	got, err := cache.Latest(ctx)
	require.NoError(t, err)
	assert.True(t, s.Equal(got))
}

func TestUpdateStream_Follow(t *testing.T) {
	b := connect(t)
	ctx := context.Background()
	update := "update.stream-test-" + time.Now().Format("150405")
	stream, err := NewUpdateStream(ctx, b.Conn(), update)
	require.NoError(t, err)

	conn := b.Conn()
	// published before anybody follows
	require.NoError(t, conn.Publish(update+".1", []byte("early")))
	require.NoError(t, conn.Publish(update+".2", []byte("other reader")))
	require.NoError(t, conn.Flush())

	var c collector
	sub, err := stream.Follow(ctx, update+".1", c.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(ctx, update+".1", []byte("late")))
	assert.Eventually(t, func() bool { return len(c.get()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"early", "late"}, c.get())
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "UPDATE_TRACK1", StreamName("update.track1"))
	assert.Equal(t, "UPDATE", StreamName("update"))
}
