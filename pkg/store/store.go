// Package store tracks plan runs: it launches them on the engine, keeps a
// queryable snapshot of every run, and owns cancellation.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/calegria/roboplan/pkg/engine"
	"github.com/calegria/roboplan/pkg/plan"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// record is the store's private view of one run. The engine mutates its own
// Run struct freely; the store copies into the snapshot at observer
// callbacks, so readers never race with the executing goroutine.
type record struct {
	snapshot engine.Run
	cancel   context.CancelFunc
	done     chan struct{}
}

// Store launches runs asynchronously and serves snapshots of their state.
// It implements engine.Observer, so the engine it is built with must not be
// shared with another observer.
type Store struct {
	mu    sync.Mutex
	runs  map[string]*record
	order []string // insertion order, oldest first
	eng   *engine.Engine
	log   zerolog.Logger
}

// New wires the store to eng as its observer.
func New(eng *engine.Engine, log zerolog.Logger) *Store {
	s := &Store{
		runs: make(map[string]*record),
		eng:  eng,
		log:  log,
	}
	eng.Observer = s
	return s
}

// Start validates nothing itself: the engine fail-fasts on a bad plan and
// the run surfaces as aborted. The returned id is usable immediately.
func (s *Store) Start(ctx context.Context, p *plan.Plan) string {
	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	rec := &record{
		cancel: cancel,
		done:   make(chan struct{}),
		snapshot: engine.Run{
			RunID:     id,
			Status:    engine.StatusRunning,
			Plan:      p,
			StartedAt: time.Now().UTC(),
		},
	}
	if p != nil {
		rec.snapshot.GoalType = p.GoalType
	}

	s.mu.Lock()
	s.runs[id] = rec
	s.order = append(s.order, id)
	s.mu.Unlock()

	s.log.Info().Str("run_id", id).Msg("run started")
	go func() {
		defer cancel()
		s.eng.RunWithID(runCtx, id, p)
	}()
	return id
}

// Get returns a snapshot of the run.
func (s *Store) Get(id string) (engine.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[id]
	if !ok {
		return engine.Run{}, ErrNotFound
	}
	return copyRun(&rec.snapshot), nil
}

// List returns up to limit run snapshots, newest first. limit <= 0 means
// all runs.
func (s *Store) List(limit int) []engine.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, copyRun(&s.runs[s.order[i]].snapshot))
	}
	return out
}

// Cancel requests cancellation. The run keeps its running snapshot until
// the engine observes the cancel at the next step or poll boundary.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	rec, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.log.Info().Str("run_id", id).Msg("cancel requested")
	rec.cancel()
	return nil
}

// Wait blocks until the run finishes or ctx expires, then returns the
// final snapshot.
func (s *Store) Wait(ctx context.Context, id string) (engine.Run, error) {
	s.mu.Lock()
	rec, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return engine.Run{}, ErrNotFound
	}
	select {
	case <-rec.done:
		return s.Get(id)
	case <-ctx.Done():
		return engine.Run{}, ctx.Err()
	}
}

// StepDone implements engine.Observer.
func (s *Store) StepDone(run *engine.Run, rec *engine.StepRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[run.RunID]
	if !ok {
		return
	}
	step := *rec
	r.snapshot.Trace = append(r.snapshot.Trace, &step)
	r.snapshot.Env = run.Env.Clone()
}

// RunFinished implements engine.Observer.
func (s *Store) RunFinished(run *engine.Run) {
	s.mu.Lock()
	r, ok := s.runs[run.RunID]
	if ok {
		r.snapshot.OK = run.OK
		r.snapshot.Status = run.Status
		r.snapshot.FailureKind = run.FailureKind
		r.snapshot.Error = run.Error
		r.snapshot.Env = run.Env.Clone()
		r.snapshot.StartedAt = run.StartedAt
		r.snapshot.EndedAt = run.EndedAt
		close(r.done)
	}
	s.mu.Unlock()
	if ok {
		s.log.Info().
			Str("run_id", run.RunID).
			Str("status", string(run.Status)).
			Int("steps", len(run.Trace)).
			Msg("run finished")
	}
}

func copyRun(r *engine.Run) engine.Run {
	out := *r
	out.Trace = make([]*engine.StepRecord, len(r.Trace))
	for i, rec := range r.Trace {
		step := *rec
		out.Trace[i] = &step
	}
	out.Env = r.Env.Clone()
	return out
}
