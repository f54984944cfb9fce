package store

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/corralhq/corral/pkg/log"
	"github.com/corralhq/corral/pkg/metrics"
	"github.com/corralhq/corral/pkg/types"
)

// Document file names inside the coordination directory
const (
	ActiveClaimsFile  = "active-claims.json"
	AgentRegistryFile = "agent-registry.json"
	CompletedLogFile  = "completed-log.json"
)

// Scope names the documents an operation reads or writes
type Scope uint8

const (
	ScopeClaims Scope = 1 << iota
	ScopeAgents
	ScopeCompleted
)

// ScopeAll covers every document
const ScopeAll = ScopeClaims | ScopeAgents | ScopeCompleted

// State is the in-memory image of the scoped documents. Update hands a
// mutable copy to its callback; nothing is visible on disk until the
// callback returns nil and every document commits.
type State struct {
	Claims    []*types.WorkItem
	Agents    map[string]*types.Agent
	Completed []*types.CompletedWorkRecord
}

// FindClaim returns the active-claims entry with the given work ID
func (st *State) FindClaim(workID string) *types.WorkItem {
	for _, w := range st.Claims {
		if w.WorkID == workID {
			return w
		}
	}
	return nil
}

// RemoveClaim deletes the entry with the given work ID from Claims
func (st *State) RemoveClaim(workID string) {
	for i, w := range st.Claims {
		if w.WorkID == workID {
			st.Claims = append(st.Claims[:i], st.Claims[i+1:]...)
			return
		}
	}
}

// Mode selects the lock implementation
type Mode string

const (
	// ModeFast uses OS advisory file locks (flock)
	ModeFast Mode = "fast"
	// ModeSafe uses a PID lock file with O_CREAT|O_EXCL rendezvous;
	// correct for single-host use only
	ModeSafe Mode = "safe"
)

// Options configures a Store
type Options struct {
	// Mode forces fast or safe locking; empty probes the platform
	Mode Mode
	// LockWait bounds lock acquisition; default 5s
	LockWait time.Duration
	// LockStale is the age after which a safe-path lock file from a
	// dead process is broken; default 30s
	LockStale time.Duration
}

// Store owns the three JSON state documents. Every mutation runs under
// the combined exclusive lock; commits are write-temp-then-rename so
// readers never observe partial state.
type Store struct {
	dir       string
	mode      Mode
	locker    locker
	lockWait  time.Duration
	validator *validator.Validate
	logger    zerolog.Logger
}

// Open prepares the coordination directory, runs crash recovery, and
// selects the lock path once for the process lifetime.
func Open(dir string, opts Options) (*Store, error) {
	logger := log.WithComponent("store")

	if err := ensureDir(dir); err != nil {
		return nil, types.WrapError(types.ErrIO, err, "creating coordination dir %s", dir)
	}
	if err := recoverDir(dir, logger); err != nil {
		return nil, err
	}

	lockWait := opts.LockWait
	if lockWait == 0 {
		lockWait = 5 * time.Second
	}
	lockStale := opts.LockStale
	if lockStale == 0 {
		lockStale = 30 * time.Second
	}

	mode := opts.Mode
	if mode == "" {
		mode = probeLockSupport(dir)
	}

	var lk locker
	switch mode {
	case ModeFast:
		lk = newFlockLocker(dir)
	case ModeSafe:
		lk = newPIDLocker(dir, lockStale)
	default:
		return nil, types.NewError(types.ErrInvalidArg, "unknown coordination mode %q", mode)
	}

	logger.Info().
		Str("mode", string(mode)).
		Bool("single_host_only", mode == ModeSafe).
		Msg("state store opened")

	return &Store{
		dir:       dir,
		mode:      mode,
		locker:    lk,
		lockWait:  lockWait,
		validator: validator.New(),
		logger:    logger,
	}, nil
}

// Dir returns the coordination directory
func (s *Store) Dir() string {
	return s.dir
}

// Mode returns the lock path selected at startup
func (s *Store) Mode() Mode {
	return s.mode
}

// Update acquires the exclusive lock, reads the scoped documents,
// applies fn to a mutable state, validates, and atomically replaces
// the documents. If fn returns an error the mutation is discarded and
// nothing is written.
func (s *Store) Update(ctx context.Context, scope Scope, fn func(*State) error) error {
	timer := metrics.NewTimer()
	if err := s.locker.Acquire(ctx, s.lockWait); err != nil {
		metrics.LockTimeoutsTotal.Inc()
		return err
	}
	metrics.LockWaitDuration.Observe(timer.Elapsed().Seconds())
	defer s.release()

	st, err := s.read(scope)
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return s.write(scope, st)
}

// Snapshot acquires the lock, reads the scoped documents, and releases.
// The returned state is a private copy safe to read without the lock;
// it may be momentarily stale by the time the caller looks at it.
func (s *Store) Snapshot(ctx context.Context, scope Scope) (*State, error) {
	timer := metrics.NewTimer()
	if err := s.locker.Acquire(ctx, s.lockWait); err != nil {
		metrics.LockTimeoutsTotal.Inc()
		return nil, err
	}
	metrics.LockWaitDuration.Observe(timer.Elapsed().Seconds())
	defer s.release()

	return s.read(scope)
}

func (s *Store) release() {
	if err := s.locker.Release(); err != nil {
		s.logger.Error().Err(err).Msg("lock release failed")
	}
}

func (s *Store) read(scope Scope) (*State, error) {
	st := &State{Agents: map[string]*types.Agent{}}
	if scope&ScopeClaims != 0 {
		if err := readDocument(s.dir, ActiveClaimsFile, &st.Claims); err != nil {
			return nil, err
		}
	}
	if scope&ScopeAgents != 0 {
		if err := readDocument(s.dir, AgentRegistryFile, &st.Agents); err != nil {
			return nil, err
		}
		if st.Agents == nil {
			st.Agents = map[string]*types.Agent{}
		}
	}
	if scope&ScopeCompleted != 0 {
		if err := readDocument(s.dir, CompletedLogFile, &st.Completed); err != nil {
			return nil, err
		}
	}
	// Parseable-but-tampered documents fail here rather than flowing
	// into the engine
	if err := s.validateState(scope, st); err != nil {
		return nil, err
	}
	return st, nil
}

// write validates then commits the scoped documents in a fixed order.
// Validation failure aborts before any rename reaches disk.
func (s *Store) write(scope Scope, st *State) error {
	if err := s.validateState(scope, st); err != nil {
		return err
	}
	if scope&ScopeClaims != 0 {
		if err := writeDocument(s.dir, ActiveClaimsFile, emptySlice(st.Claims)); err != nil {
			return err
		}
	}
	if scope&ScopeAgents != 0 {
		if err := writeDocument(s.dir, AgentRegistryFile, st.Agents); err != nil {
			return err
		}
	}
	if scope&ScopeCompleted != 0 {
		if err := writeDocument(s.dir, CompletedLogFile, emptySlice(st.Completed)); err != nil {
			return err
		}
	}
	return nil
}

// validateState is the cheap schema check run on every read and
// before every commit. Deep invariant verification belongs to
// maintenance reality_verify.
func (s *Store) validateState(scope Scope, st *State) error {
	if scope&ScopeClaims != 0 {
		for _, w := range st.Claims {
			if err := s.validator.Struct(w); err != nil {
				return types.WrapError(types.ErrCorruptState, err, "work item %s fails schema", w.WorkID)
			}
			if w.Status.Terminal() {
				return types.NewError(types.ErrCorruptState, "terminal item %s in active-claims", w.WorkID)
			}
		}
	}
	if scope&ScopeAgents != 0 {
		for id, a := range st.Agents {
			if err := s.validator.Struct(a); err != nil {
				return types.WrapError(types.ErrCorruptState, err, "agent %s fails schema", id)
			}
			if a.CurrentWorkload > a.CapacityMax {
				return types.NewError(types.ErrCorruptState, "agent %s workload %d exceeds capacity %d",
					id, a.CurrentWorkload, a.CapacityMax)
			}
		}
	}
	if scope&ScopeCompleted != 0 {
		for _, r := range st.Completed {
			if err := s.validator.Struct(r); err != nil {
				return types.WrapError(types.ErrCorruptState, err, "completed record %s fails schema", r.WorkID)
			}
		}
	}
	return nil
}

// emptySlice keeps empty documents as [] rather than null on disk
func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
