// Package changelog implements Latchflow's versioned change log: a dense
// per-(entityType, entityId) version sequence where version 1 is always a
// full snapshot and later versions are either snapshots or patches against
// the nearest prior snapshot.
package changelog

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/latchflow/core/pkg/canonicalize"
)

// ActorType identifies who/what produced a change-log entry.
type ActorType string

const (
	ActorUser   ActorType = "USER"
	ActorAction ActorType = "ACTION"
	ActorSystem ActorType = "SYSTEM"
)

// Actor attributes a change to its originator.
type Actor struct {
	Type               ActorType
	UserID             string
	InvocationID       string
	ActionDefinitionID string
	OnBehalfOfUserID   string
}

// PatchOp is a single JSON-patch-shaped operation. Only root-replace ops
// are emitted today; richer path-scoped diffing is left to a future
// revision.
type PatchOp struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Entry is a single persisted change-log row.
type Entry struct {
	EntityType  string
	EntityID    string
	Version     int
	IsSnapshot  bool
	State       json.RawMessage
	Diff        []PatchOp
	Hash        string
	Actor       Actor
	ChangeNote  string
	ChangedPath string
	ChangeKind  string
	CreatedAt   time.Time
}

// Store is the persistence boundary Log depends on. A Postgres-backed
// implementation satisfies this interface in production; InMemoryStore
// satisfies it for tests and lite-mode deployments.
type Store interface {
	// HighestVersion returns the highest persisted version for the entity,
	// or 0 if none exist.
	HighestVersion(entityType, entityID string) (int, error)
	// AppendEntry persists entry atomically. entry.Version is already set.
	AppendEntry(entry *Entry) error
	// ListUpTo returns entries with version <= maxVersion in ascending order.
	ListUpTo(entityType, entityID string, maxVersion int) ([]*Entry, error)
}

// Serializer produces the current state of an entity as canonical-ready JSON.
type Serializer func(entityType, entityID string) (json.RawMessage, error)

// Log is the versioned change log service.
type Log struct {
	store            Store
	serialize        Serializer
	snapshotInterval int
	maxChainDepth    int
	clock            func() time.Time
}

// Config tunes snapshot cadence and patch-chain depth.
type Config struct {
	SnapshotInterval int // isSnapshot when (next-1) % SnapshotInterval == 0
	MaxChainDepth    int // force a snapshot once the patch chain reaches this depth
}

// DefaultConfig matches the deployment defaults: a snapshot every 20
// versions, with a 200-deep patch-chain ceiling as the backstop.
func DefaultConfig() Config {
	return Config{SnapshotInterval: 20, MaxChainDepth: 200}
}

// NewLog constructs a Log. clock defaults to time.Now.
func NewLog(store Store, serialize Serializer, cfg Config, clock func() time.Time) *Log {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultConfig().SnapshotInterval
	}
	if cfg.MaxChainDepth <= 0 {
		cfg.MaxChainDepth = DefaultConfig().MaxChainDepth
	}
	if clock == nil {
		clock = time.Now
	}
	return &Log{store: store, serialize: serialize, snapshotInterval: cfg.SnapshotInterval, maxChainDepth: cfg.MaxChainDepth, clock: clock}
}

// AppendOptions carries optional annotation fields for an Append call.
type AppendOptions struct {
	ChangeNote  string
	ChangedPath string
	ChangeKind  string
}

// Append computes and persists the next version for (entityType, entityID).
func (l *Log) Append(entityType, entityID string, actor Actor, opts AppendOptions) (*Entry, error) {
	highest, err := l.store.HighestVersion(entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("changelog: highest version: %w", err)
	}
	next := highest + 1

	state, err := l.serialize(entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("changelog: serialize: %w", err)
	}

	isSnapshot, diff, materializeErr := l.decideSnapshot(entityType, entityID, highest, next, state)
	if materializeErr != nil {
		isSnapshot = true
		diff = nil
	}

	hash, err := hashState(state)
	if err != nil {
		return nil, fmt.Errorf("changelog: hash state: %w", err)
	}

	entry := &Entry{
		EntityType:  entityType,
		EntityID:    entityID,
		Version:     next,
		IsSnapshot:  isSnapshot,
		Hash:        hash,
		Actor:       actor,
		ChangeNote:  opts.ChangeNote,
		ChangedPath: opts.ChangedPath,
		ChangeKind:  opts.ChangeKind,
		CreatedAt:   l.clock(),
	}
	if isSnapshot {
		entry.State = state
	} else {
		entry.Diff = diff
	}

	if err := l.store.AppendEntry(entry); err != nil {
		return nil, fmt.Errorf("changelog: append: %w", err)
	}
	return entry, nil
}

// decideSnapshot implements the isSnapshot decision tree: version 1, every
// SnapshotInterval-th version, a failed materialization of the prior
// version, or a patch chain at MaxChainDepth all force a snapshot.
// Otherwise a minimal root-replace patch is computed against the prior
// materialized state.
func (l *Log) decideSnapshot(entityType, entityID string, highest, next int, state json.RawMessage) (bool, []PatchOp, error) {
	if next == 1 {
		return true, nil, nil
	}
	if (next-1)%l.snapshotInterval == 0 {
		return true, nil, nil
	}

	priorEntries, err := l.store.ListUpTo(entityType, entityID, highest)
	if err != nil || len(priorEntries) == 0 {
		return true, nil, fmt.Errorf("changelog: no prior entries to chain from")
	}

	depth := chainDepthSinceSnapshot(priorEntries)
	if depth >= l.maxChainDepth {
		return true, nil, nil
	}

	priorState, err := foldEntries(priorEntries)
	if err != nil || priorState == nil {
		return true, nil, fmt.Errorf("changelog: materialize prior failed: %w", err)
	}

	if statesEqual(priorState, state) {
		return false, nil, nil
	}
	return false, []PatchOp{{Op: "replace", Path: "", Value: state}}, nil
}

// Materialize reconstructs the entity state at version:
// load all entries with version <= v ascending, fold snapshots and patches.
func (l *Log) Materialize(entityType, entityID string, version int) (json.RawMessage, error) {
	entries, err := l.store.ListUpTo(entityType, entityID, version)
	if err != nil {
		return nil, fmt.Errorf("changelog: list: %w", err)
	}
	return foldEntries(entries)
}

func foldEntries(entries []*Entry) (json.RawMessage, error) {
	var state json.RawMessage
	for _, e := range entries {
		if e.IsSnapshot {
			state = e.State
			continue
		}
		for _, op := range e.Diff {
			if op.Op == "replace" && op.Path == "" {
				state = op.Value
			}
		}
	}
	return state, nil
}

func chainDepthSinceSnapshot(entries []*Entry) int {
	depth := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsSnapshot {
			break
		}
		depth++
	}
	return depth
}

func hashState(state json.RawMessage) (string, error) {
	var generic interface{}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &generic); err != nil {
			return "", err
		}
	}
	return canonicalize.Hash(generic)
}

func statesEqual(a, b json.RawMessage) bool {
	var av, bv interface{}
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
