// Package scheduler implements Latchflow's debounced per-bundle rebuild
// scheduler: idle→queued→running state machine with a
// latent queued-again bit, single-flight per bundle, and parallel rebuilds
// across distinct bundles.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is a bundle's rebuild lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateQueued  State = "queued"
	StateRunning State = "running"
)

// BuildStatus is the terminal outcome of the most recent build,
// reported by GetStatus.
type BuildStatus string

const (
	BuildStatusBuilt   BuildStatus = "built"
	BuildStatusSkipped BuildStatus = "skipped"
)

// LastResult records the outcome of the most recently completed build.
type LastResult struct {
	When   time.Time
	Status BuildStatus
	Error  error
}

// Status is the externally observable state for a bundle.
type Status struct {
	State State
	Last  *LastResult
}

// DefaultDebounce is the default schedule debounce window.
const DefaultDebounce = 2000 * time.Millisecond

// Builder performs the actual bundle build; implemented by
// *bundle.Builder.BuildArtifact in production.
type Builder interface {
	// BuildArtifact returns (skipped, error). skipped=true means the build
	// was a no-op because the digest had not changed.
	BuildArtifact(ctx context.Context, bundleID string, force bool) (skipped bool, err error)
}

type bundleState struct {
	mu          sync.Mutex
	state       State
	forceSticky bool
	queuedAgain bool
	queuedForce bool
	timer       *time.Timer
	last        *LastResult
}

// Scheduler debounces rebuild requests per bundle and enforces single-flight
// execution.
type Scheduler struct {
	mu       sync.RWMutex
	bundles  map[string]*bundleState
	debounce time.Duration
	builder  Builder
	log      *slog.Logger

	// FileToBundles resolves the distinct bundleIds containing any of a set
	// of fileIds, for scheduleForFiles. An external collaborator supplies it.
	FileToBundles func(ctx context.Context, fileIDs []string) ([]string, error)

	wg sync.WaitGroup
}

// New constructs a Scheduler. debounce<=0 uses DefaultDebounce.
func New(builder Builder, debounce time.Duration, log *slog.Logger) *Scheduler {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		bundles:  make(map[string]*bundleState),
		debounce: debounce,
		builder:  builder,
		log:      log,
	}
}

func (s *Scheduler) stateFor(bundleID string) *bundleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	bs, ok := s.bundles[bundleID]
	if !ok {
		bs = &bundleState{state: StateIdle}
		s.bundles[bundleID] = bs
	}
	return bs
}

// Schedule resets bundleID's debounce timer and sets a sticky force flag if
// requested. If a build is already running, it instead sets the
// queued-again bit so a follow-up build runs on completion.
func (s *Scheduler) Schedule(bundleID string, force bool) {
	bs := s.stateFor(bundleID)

	bs.mu.Lock()
	defer bs.mu.Unlock()

	if force {
		bs.forceSticky = true
	}

	switch bs.state {
	case StateRunning:
		bs.queuedAgain = true
		if force {
			bs.queuedForce = true
		}
		return
	case StateQueued:
		if bs.timer != nil {
			bs.timer.Stop()
		}
	}

	bs.state = StateQueued
	bs.timer = time.AfterFunc(s.debounce, func() {
		s.fire(bundleID)
	})
}

// ScheduleForFiles resolves distinct bundles containing any of fileIDs and
// schedules each.
func (s *Scheduler) ScheduleForFiles(ctx context.Context, fileIDs []string, force bool) error {
	if s.FileToBundles == nil {
		return nil
	}
	bundleIDs, err := s.FileToBundles(ctx, fileIDs)
	if err != nil {
		return err
	}
	for _, id := range bundleIDs {
		s.Schedule(id, force)
	}
	return nil
}

// GetStatus returns the current lifecycle state and last build outcome.
func (s *Scheduler) GetStatus(bundleID string) Status {
	bs := s.stateFor(bundleID)
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return Status{State: bs.state, Last: bs.last}
}

func (s *Scheduler) fire(bundleID string) {
	bs := s.stateFor(bundleID)

	bs.mu.Lock()
	force := bs.forceSticky
	bs.forceSticky = false
	bs.state = StateRunning
	bs.timer = nil
	bs.mu.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()

	skipped, err := s.builder.BuildArtifact(context.Background(), bundleID, force)

	bs.mu.Lock()
	result := &LastResult{When: time.Now(), Error: err}
	if err != nil {
		s.log.Error("scheduler: bundle rebuild failed", "bundleId", bundleID, "error", err)
	} else if skipped {
		result.Status = BuildStatusSkipped
	} else {
		result.Status = BuildStatusBuilt
	}
	bs.last = result

	queuedAgain := bs.queuedAgain
	queuedForce := bs.queuedForce
	bs.queuedAgain = false
	bs.queuedForce = false
	bs.state = StateIdle
	bs.mu.Unlock()

	if queuedAgain {
		s.Schedule(bundleID, queuedForce)
	}
}

// Shutdown cancels all pending debounce timers and waits for in-flight
// builds to drain.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for _, bs := range s.bundles {
		bs.mu.Lock()
		if bs.timer != nil {
			bs.timer.Stop()
		}
		bs.mu.Unlock()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
