package engine

import (
	"time"

	"github.com/calegria/roboplan/pkg/plan"
)

// Status is the terminal (or in-flight) state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded" // ran to the end without an aborting failure
	StatusFailed    Status = "failed"    // an on_fail:stop tool step failed
	StatusAborted   Status = "aborted"   // structural error, policy bound, or cancellation
)

// Failure kinds recorded on failed and aborted runs.
const (
	FailToolFailure    = "tool_failure"
	FailPlanDefinition = "plan_definition"
	FailCancelled      = "cancelled"
	FailMaxSteps       = "max_steps"
)

// StepRecord is one trace entry: a tool invocation the engine actually
// performed, with its resolved args and result. Conditionals and waits
// contribute no entries of their own; only the tool steps on the path
// taken appear, in execution order.
type StepRecord struct {
	Index     int            `json:"i"`
	Name      string         `json:"name"`
	Path      string         `json:"path"` // e.g. "steps[1].then[0]"
	Args      map[string]any `json:"args,omitempty"`
	OK        bool           `json:"ok"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
}

// Run is the complete record of one plan execution. The engine always
// returns one, whatever the outcome; it is immutable once returned.
type Run struct {
	RunID       string        `json:"run_id"`
	OK          bool          `json:"ok"` // true iff Status == succeeded
	Status      Status        `json:"status"`
	GoalType    string        `json:"goal_type"`
	Plan        *plan.Plan    `json:"plan"`
	Trace       []*StepRecord `json:"trace"`
	Env         Env           `json:"env,omitempty"` // final variable bindings
	FailureKind string        `json:"failure_kind,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
}

// Observer receives engine progress. Implementations must be cheap; they
// are called synchronously from the run loop.
type Observer interface {
	StepDone(run *Run, rec *StepRecord)
	RunFinished(run *Run)
}

type nopObserver struct{}

func (nopObserver) StepDone(*Run, *StepRecord) {}
func (nopObserver) RunFinished(*Run)           {}
