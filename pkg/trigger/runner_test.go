package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latchflow/core/pkg/queue"
)

type memStore struct {
	events   []Event
	mappings map[string][]Mapping
}

func (m *memStore) InsertEvent(ctx context.Context, event Event) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memStore) EnabledMappings(ctx context.Context, triggerDefinitionID string) ([]Mapping, error) {
	return m.mappings[triggerDefinitionID], nil
}

func TestFireOnceInsertsEventAndEnqueuesMappedActions(t *testing.T) {
	store := &memStore{
		mappings: map[string][]Mapping{
			"trig-1": {
				{ActionDefinitionID: "act-2", SortOrder: 2},
				{ActionDefinitionID: "act-1", SortOrder: 1},
			},
		},
	}
	q := queue.NewInMemoryQueue()
	runner := New(store, q)

	event, err := runner.FireOnce(context.Background(), "trig-1", nil)
	require.NoError(t, err)
	require.NotEmpty(t, event.ID)
	require.Len(t, store.events, 1)
	require.Equal(t, 2, q.Len())
}

func TestFireOnceIsNotIdempotent(t *testing.T) {
	store := &memStore{mappings: map[string][]Mapping{"trig-1": nil}}
	q := queue.NewInMemoryQueue()
	runner := New(store, q)

	e1, err := runner.FireOnce(context.Background(), "trig-1", nil)
	require.NoError(t, err)
	e2, err := runner.FireOnce(context.Background(), "trig-1", nil)
	require.NoError(t, err)

	require.NotEqual(t, e1.ID, e2.ID)
	require.Len(t, store.events, 2)
}

func TestFireOnceNoMappingsStillRecordsEvent(t *testing.T) {
	store := &memStore{}
	q := queue.NewInMemoryQueue()
	runner := New(store, q)

	_, err := runner.FireOnce(context.Background(), "trig-unknown", nil)
	require.NoError(t, err)
	require.Len(t, store.events, 1)
	require.Equal(t, 0, q.Len())
}
