package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryQueueFIFOOrder(t *testing.T) {
	q := NewInMemoryQueue()
	var got []string
	var mu sync.Mutex
	done := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = q.ConsumeActions(ctx, func(ctx context.Context, msg Message) error {
			mu.Lock()
			got = append(got, msg.ActionDefinitionID)
			if len(got) == 3 {
				close(done)
			}
			mu.Unlock()
			return nil
		})
	}()

	require.NoError(t, q.EnqueueAction(ctx, Message{ActionDefinitionID: "a"}))
	require.NoError(t, q.EnqueueAction(ctx, Message{ActionDefinitionID: "b"}))
	require.NoError(t, q.EnqueueAction(ctx, Message{ActionDefinitionID: "c"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestInMemoryQueueStopUnblocksConsumer(t *testing.T) {
	q := NewInMemoryQueue()
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.ConsumeActions(context.Background(), func(ctx context.Context, msg Message) error { return nil })
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Stop(context.Background()))

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("consumer did not unblock on stop")
	}
}

func TestInMemoryQueueEnqueueAfterStopFails(t *testing.T) {
	q := NewInMemoryQueue()
	require.NoError(t, q.Stop(context.Background()))
	err := q.EnqueueAction(context.Background(), Message{ActionDefinitionID: "a"})
	require.ErrorIs(t, err, ErrStopped)
}

func TestInMemoryQueueContextCancelUnblocksConsumer(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.ConsumeActions(ctx, func(ctx context.Context, msg Message) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consumer did not unblock on context cancel")
	}
}
