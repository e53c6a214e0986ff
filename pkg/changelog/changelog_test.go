package changelog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func serializerFor(states map[int]string) (Serializer, *int) {
	call := 0
	return func(entityType, entityID string) (json.RawMessage, error) {
		call++
		return json.RawMessage(states[call]), nil
	}, &call
}

func TestAppend_FirstVersionIsAlwaysSnapshot(t *testing.T) {
	store := NewInMemoryStore()
	serialize, _ := serializerFor(map[int]string{1: `{"name":"a"}`})
	log := NewLog(store, serialize, Config{SnapshotInterval: 20, MaxChainDepth: 20}, func() time.Time { return time.Unix(0, 0) })

	entry, err := log.Append("bundle", "b1", Actor{Type: ActorSystem}, AppendOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, entry.Version)
	require.True(t, entry.IsSnapshot)
	require.NotEmpty(t, entry.Hash)
}

func TestAppend_VersionsAreDenseAndSequential(t *testing.T) {
	store := NewInMemoryStore()
	states := map[int]string{1: `{"v":1}`, 2: `{"v":2}`, 3: `{"v":3}`}
	serialize, _ := serializerFor(states)
	log := NewLog(store, serialize, Config{SnapshotInterval: 20, MaxChainDepth: 20}, nil)

	for i := 0; i < 3; i++ {
		entry, err := log.Append("bundle", "b1", Actor{Type: ActorSystem}, AppendOptions{})
		require.NoError(t, err)
		require.Equal(t, i+1, entry.Version)
	}
}

func TestAppend_SnapshotAtConfiguredInterval(t *testing.T) {
	store := NewInMemoryStore()
	states := map[int]string{1: `{"v":1}`, 2: `{"v":2}`, 3: `{"v":3}`}
	serialize, _ := serializerFor(states)
	log := NewLog(store, serialize, Config{SnapshotInterval: 2, MaxChainDepth: 20}, nil)

	first, err := log.Append("bundle", "b1", Actor{Type: ActorSystem}, AppendOptions{})
	require.NoError(t, err)
	require.True(t, first.IsSnapshot)

	second, err := log.Append("bundle", "b1", Actor{Type: ActorSystem}, AppendOptions{})
	require.NoError(t, err)
	require.False(t, second.IsSnapshot, "(next-1) mod SnapshotInterval == 0 is false at version 2 for interval 2")

	third, err := log.Append("bundle", "b1", Actor{Type: ActorSystem}, AppendOptions{})
	require.NoError(t, err)
	require.True(t, third.IsSnapshot, "(next-1) mod SnapshotInterval == 0 forces a snapshot at version 3 for interval 2")
}

func TestAppend_NonIntervalVersionIsAPatch(t *testing.T) {
	store := NewInMemoryStore()
	states := map[int]string{1: `{"v":1}`, 2: `{"v":2}`, 3: `{"v":3}`}
	serialize, _ := serializerFor(states)
	log := NewLog(store, serialize, Config{SnapshotInterval: 20, MaxChainDepth: 20}, nil)

	_, err := log.Append("bundle", "b1", Actor{Type: ActorSystem}, AppendOptions{})
	require.NoError(t, err)
	second, err := log.Append("bundle", "b1", Actor{Type: ActorSystem}, AppendOptions{})
	require.NoError(t, err)

	require.False(t, second.IsSnapshot)
	require.Len(t, second.Diff, 1)
	require.Equal(t, "replace", second.Diff[0].Op)
}

func TestMaterialize_FoldsSnapshotThenPatches(t *testing.T) {
	store := NewInMemoryStore()
	states := map[int]string{1: `{"v":1}`, 2: `{"v":2}`, 3: `{"v":3}`}
	serialize, _ := serializerFor(states)
	log := NewLog(store, serialize, Config{SnapshotInterval: 20, MaxChainDepth: 20}, nil)

	for i := 0; i < 3; i++ {
		_, err := log.Append("bundle", "b1", Actor{Type: ActorSystem}, AppendOptions{})
		require.NoError(t, err)
	}

	state, err := log.Materialize("bundle", "b1", 3)
	require.NoError(t, err)
	require.JSONEq(t, `{"v":3}`, string(state))

	state2, err := log.Materialize("bundle", "b1", 1)
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(state2))
}

func TestAppend_ForceSnapshotAtMaxChainDepth(t *testing.T) {
	store := NewInMemoryStore()
	states := map[int]string{1: `{"v":1}`, 2: `{"v":2}`, 3: `{"v":3}`}
	serialize, _ := serializerFor(states)
	log := NewLog(store, serialize, Config{SnapshotInterval: 100, MaxChainDepth: 1}, nil)

	_, err := log.Append("bundle", "b1", Actor{Type: ActorSystem}, AppendOptions{})
	require.NoError(t, err)
	second, err := log.Append("bundle", "b1", Actor{Type: ActorSystem}, AppendOptions{})
	require.NoError(t, err)
	require.False(t, second.IsSnapshot)

	third, err := log.Append("bundle", "b1", Actor{Type: ActorSystem}, AppendOptions{})
	require.NoError(t, err)
	require.True(t, third.IsSnapshot, "chain depth reached MaxChainDepth, must force a snapshot")
}

func TestAppend_SkipsNoOpPatchWhenStateUnchanged(t *testing.T) {
	store := NewInMemoryStore()
	states := map[int]string{1: `{"v":1}`, 2: `{"v":1}`}
	serialize, _ := serializerFor(states)
	log := NewLog(store, serialize, Config{SnapshotInterval: 100, MaxChainDepth: 100}, nil)

	_, err := log.Append("bundle", "b1", Actor{Type: ActorSystem}, AppendOptions{})
	require.NoError(t, err)
	second, err := log.Append("bundle", "b1", Actor{Type: ActorSystem}, AppendOptions{})
	require.NoError(t, err)
	require.False(t, second.IsSnapshot)
	require.Empty(t, second.Diff)
}
