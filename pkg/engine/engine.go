package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/calegria/roboplan/pkg/plan"
)

// ToolInvoker is the engine's sole boundary to external collaborators:
// perception queries, actuation commands, notifications, knowledge-base
// lookups. Invoke is synchronous, must honor ctx cancellation/deadline, and
// never returns a nil map; failures (including timeouts) are expressed as
// {"ok": false, "error": ...}. Names reports the invocable tool names used
// for fail-fast plan validation.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) map[string]any
	Names() []string
}

// Defaults applied by New. Plans may tighten these via policy but never
// widen them.
const (
	DefaultMaxSteps       = 20
	DefaultPerStepTimeout = 20 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultWaitTimeout    = 60 * time.Second
)

// Engine executes plans. One Engine may serve many concurrent runs; each
// run owns its own environment and trace, so the only shared resource is
// the tool invoker.
type Engine struct {
	Tools          ToolInvoker
	Clock          Clock
	MaxSteps       int
	PerStepTimeout time.Duration
	PollInterval   time.Duration
	Trace          *TraceWriter // optional JSONL event stream
	Observer       Observer
	Log            zerolog.Logger
}

// New creates an engine with default limits and a real clock.
func New(tools ToolInvoker) *Engine {
	return &Engine{
		Tools:          tools,
		Clock:          RealClock(),
		MaxSteps:       DefaultMaxSteps,
		PerStepTimeout: DefaultPerStepTimeout,
		PollInterval:   DefaultPollInterval,
		Observer:       nopObserver{},
		Log:            zerolog.Nop(),
	}
}

// runState threads the mutable pieces of one in-flight run through the
// step executor. It is confined to the single run goroutine.
type runState struct {
	run            *Run
	env            Env
	maxSteps       int
	perStepTimeout time.Duration
}

// Run executes a plan under a fresh run ID and returns the completed Run
// record. It always returns a record, whatever the outcome.
func (e *Engine) Run(ctx context.Context, p *plan.Plan) *Run {
	return e.RunWithID(ctx, uuid.NewString(), p)
}

// RunWithID executes a plan under a caller-chosen run ID (the run store
// allocates IDs before launching the run goroutine).
func (e *Engine) RunWithID(ctx context.Context, runID string, p *plan.Plan) *Run {
	run := &Run{
		RunID:     runID,
		Status:    StatusRunning,
		Plan:      p,
		StartedAt: e.Clock.Now(),
	}
	defer func() {
		run.EndedAt = e.Clock.Now()
		run.OK = run.Status == StatusSucceeded
		e.Trace.Emit(run.RunID, EventRunComplete, map[string]any{
			"status":   string(run.Status),
			"ok":       run.OK,
			"steps":    len(run.Trace),
			"duration": run.EndedAt.Sub(run.StartedAt).String(),
		})
		e.Observer.RunFinished(run)
	}()

	if p == nil {
		e.abort(run, FailPlanDefinition, "plan is nil")
		return run
	}
	run.GoalType = p.GoalType

	// Fail fast on structurally invalid plans: nothing executes.
	allowed := e.allowedTools()
	if errs := plan.Validate(p, allowed); plan.HasErrors(errs) {
		e.abort(run, FailPlanDefinition, firstError(errs))
		return run
	}

	st := &runState{
		run:            run,
		env:            seedEnv(p.Vars),
		maxSteps:       e.MaxSteps,
		perStepTimeout: e.PerStepTimeout,
	}
	if p.Policy != nil {
		if p.Policy.MaxSteps > 0 && p.Policy.MaxSteps < st.maxSteps {
			st.maxSteps = p.Policy.MaxSteps
		}
		if t := secondsToDuration(p.Policy.PerStepTimeoutS); t > 0 && t < st.perStepTimeout {
			st.perStepTimeout = t
		}
	}

	e.Trace.Emit(run.RunID, EventRunStart, map[string]any{
		"goal_type": p.GoalType,
		"steps":     len(p.Steps),
		"vars":      p.Vars,
	})
	e.Log.Debug().Str("run_id", run.RunID).Str("goal_type", p.GoalType).Msg("run start")

	if e.execSteps(ctx, st, p.Steps, "steps") {
		run.Status = StatusSucceeded
	}
	run.Env = st.env
	return run
}

// execSteps executes a step sequence in declared order. It returns false
// when the run must unwind (an aborting tool failure, a structural error,
// a policy bound, or cancellation) with the run's terminal state already
// recorded. No further steps, including siblings and enclosing branches,
// execute after a false return.
func (e *Engine) execSteps(ctx context.Context, st *runState, steps []*plan.Step, path string) bool {
	for i, s := range steps {
		stepPath := fmt.Sprintf("%s[%d]", path, i)

		// Cancellation is observed at step boundaries: never start a new
		// step once the run is cancelled.
		if ctx.Err() != nil {
			e.abort(st.run, FailCancelled, "run cancelled")
			return false
		}

		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case plan.StepTool:
			if !e.execToolStep(ctx, st, s, stepPath) {
				return false
			}
		case plan.StepIf:
			if !e.execIfStep(ctx, st, s, stepPath) {
				return false
			}
		case plan.StepWait:
			if !e.execWaitStep(ctx, st, s, stepPath) {
				return false
			}
		default:
			// Validation rejects these up front; a plan built in code can
			// still reach here.
			e.abort(st.run, FailPlanDefinition, fmt.Sprintf("unknown step type %q at %s", s.Type, stepPath))
			return false
		}
	}
	return true
}

// execToolStep binds args, invokes the tool, records the trace entry, and
// applies the step's failure policy.
func (e *Engine) execToolStep(ctx context.Context, st *runState, s *plan.Step, path string) bool {
	if len(st.run.Trace) >= st.maxSteps {
		e.abort(st.run, FailMaxSteps, fmt.Sprintf("max_steps exceeded (%d)", st.maxSteps))
		return false
	}

	args := ResolveArgs(s.Args, st.env)

	rec := &StepRecord{
		Index:     len(st.run.Trace),
		Name:      s.Name,
		Path:      path,
		Args:      args,
		StartedAt: e.Clock.Now(),
	}

	callCtx, cancel := context.WithTimeout(ctx, st.perStepTimeout)
	result := e.Tools.Invoke(callCtx, s.Name, args)
	cancel()

	rec.EndedAt = e.Clock.Now()
	rec.Result = result
	rec.OK = resultOK(result)
	if !rec.OK {
		rec.Error = resultError(result)
	}
	st.run.Trace = append(st.run.Trace, rec)
	e.Trace.Emit(st.run.RunID, EventStepComplete, map[string]any{
		"path": path, "name": s.Name, "ok": rec.OK, "error": rec.Error,
	})
	e.Observer.StepDone(st.run, rec)
	e.Log.Debug().Str("run_id", st.run.RunID).Str("tool", s.Name).Str("path", path).Bool("ok", rec.OK).Msg("tool step")

	if rec.OK {
		if s.SaveAs != "" {
			// The full result is bound, ok field included, replacing any
			// prior binding.
			st.env[s.SaveAs] = result
		}
		return true
	}

	if s.OnFailMode() == plan.OnFailStop {
		st.run.Status = StatusFailed
		st.run.FailureKind = FailToolFailure
		st.run.Error = fmt.Sprintf("step %s (%s) failed: %s", path, s.Name, rec.Error)
		return false
	}

	// on_fail: continue: the failure stays in the trace and execution
	// proceeds, optionally through a fallback sequence first.
	if len(s.Fallback) > 0 {
		if !e.execSteps(ctx, st, s.Fallback, path+".fallback") {
			return false
		}
	}
	return true
}

// execIfStep evaluates the condition once, against the environment as it
// stood immediately prior to the conditional, then executes exactly one
// branch. Branches share the parent environment, so a variable saved inside
// a branch remains visible afterwards. The conditional itself contributes
// no trace entry.
func (e *Engine) execIfStep(ctx context.Context, st *runState, s *plan.Step, path string) bool {
	take, err := EvalCond(s.Cond, st.env)
	if err != nil {
		e.abort(st.run, FailPlanDefinition, fmt.Sprintf("%s: %v", path, err))
		return false
	}

	branch, branchPath := s.Else, path+".else"
	if take {
		branch, branchPath = s.Then, path+".then"
	}
	e.Trace.Emit(st.run.RunID, EventBranchTaken, map[string]any{"path": path, "then": take})
	return e.execSteps(ctx, st, branch, branchPath)
}

// execWaitStep polls a condition under a wall-clock bound. The condition is
// checked before the first refresh pass (a satisfied wait never refreshes)
// and re-checked immediately after each refresh pass rather than waiting
// out the poll interval. A timed-out wait is not a failure: the run
// proceeds to the next step and lets downstream steps deal with the
// still-missing value.
func (e *Engine) execWaitStep(ctx context.Context, st *runState, s *plan.Step, path string) bool {
	timeout := secondsToDuration(s.TimeoutS)
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	poll := secondsToDuration(s.PollS)
	if poll <= 0 {
		poll = e.PollInterval
	}
	deadline := e.Clock.Now().Add(timeout)

	e.Trace.Emit(st.run.RunID, EventWaitStart, map[string]any{
		"path": path, "timeout_s": timeout.Seconds(), "poll_s": poll.Seconds(),
	})

	satisfied, err := EvalCond(s.Cond, st.env)
	if err != nil {
		e.abort(st.run, FailPlanDefinition, fmt.Sprintf("%s: %v", path, err))
		return false
	}
	if satisfied {
		e.Trace.Emit(st.run.RunID, EventWaitSatisfied, map[string]any{"path": path, "refreshed": false})
		return true
	}

	for {
		// Cancellation is observed at every poll-loop iteration boundary.
		if ctx.Err() != nil {
			e.abort(st.run, FailCancelled, "run cancelled")
			return false
		}

		if len(s.Tick) > 0 {
			if !e.execSteps(ctx, st, s.Tick, path+".tick") {
				return false
			}
		}
		if len(s.Refresh) > 0 {
			if !e.execSteps(ctx, st, s.Refresh, path+".refresh") {
				return false
			}
		}

		satisfied, err = EvalCond(s.Cond, st.env)
		if err != nil {
			e.abort(st.run, FailPlanDefinition, fmt.Sprintf("%s: %v", path, err))
			return false
		}
		if satisfied {
			e.Trace.Emit(st.run.RunID, EventWaitSatisfied, map[string]any{"path": path, "refreshed": true})
			return true
		}

		remaining := deadline.Sub(e.Clock.Now())
		if remaining <= 0 {
			e.Trace.Emit(st.run.RunID, EventWaitTimeout, map[string]any{"path": path, "timeout_s": timeout.Seconds()})
			return true
		}
		if poll < remaining {
			e.Clock.Sleep(ctx, poll)
		} else {
			e.Clock.Sleep(ctx, remaining)
		}
	}
}

func (e *Engine) abort(run *Run, kind, msg string) {
	run.Status = StatusAborted
	run.FailureKind = kind
	run.Error = msg
	e.Log.Warn().Str("run_id", run.RunID).Str("kind", kind).Msg(msg)
}

func (e *Engine) allowedTools() map[string]bool {
	if e.Tools == nil {
		return nil
	}
	names := e.Tools.Names()
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	return allowed
}

// resultOK mirrors the tool result contract: a result is a failure only
// when it carries an explicit ok:false.
func resultOK(result map[string]any) bool {
	v, present := result["ok"]
	if !present {
		return true
	}
	b, isBool := v.(bool)
	return !isBool || b
}

func resultError(result map[string]any) string {
	if v, ok := result["error"]; ok {
		return fmt.Sprint(v)
	}
	return "tool reported failure"
}

func seedEnv(vars map[string]any) Env {
	env := make(Env, len(vars))
	for k, v := range vars {
		env[k] = v
	}
	return env
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func firstError(errs []*plan.ValidationError) string {
	for _, e := range errs {
		if e.Severity == "error" {
			return e.Error()
		}
	}
	return "invalid plan"
}
