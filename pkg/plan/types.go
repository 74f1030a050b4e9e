// Package plan defines the declarative plan document model: an ordered
// sequence of typed steps (tool calls, conditionals, bounded waits) produced
// by the planner and consumed by the execution engine. A plan is data, not
// code; the engine executes it literally.
package plan

// FormatVersion is the only plan document version this engine accepts.
const FormatVersion = "mcp.plan.v1"

// Step type tags.
const (
	StepTool = "tool"
	StepIf   = "if"
	StepWait = "wait"
)

// OnFail policies for tool steps.
const (
	OnFailStop     = "stop"
	OnFailContinue = "continue"
)

// Condition operators.
const (
	OpExists = "exists"
	OpEq     = "=="
	OpNe     = "!="
	OpGt     = ">"
	OpLt     = "<"
	OpGe     = ">="
	OpLe     = "<="
	OpAnd    = "and"
	OpOr     = "or"
	OpNot    = "not"
)

// Plan is a complete plan document. Immutable once a run starts.
type Plan struct {
	Version  string         `yaml:"version"             json:"version"`
	GoalType string         `yaml:"goal_type"           json:"goal_type"`
	Notes    string         `yaml:"notes,omitempty"     json:"notes,omitempty"`
	Vars     map[string]any `yaml:"vars,omitempty"      json:"vars,omitempty"`
	Policy   *Policy        `yaml:"policy,omitempty"    json:"policy,omitempty"`
	Steps    []*Step        `yaml:"steps"               json:"steps"`
}

// Policy bounds a single run. Values are clamped by the executor's own
// configured maxima; a plan can tighten limits, never widen them.
type Policy struct {
	MaxSteps        int     `yaml:"max_steps,omitempty"          json:"max_steps,omitempty"`
	PerStepTimeoutS float64 `yaml:"per_step_timeout_s,omitempty" json:"per_step_timeout_s,omitempty"`
}

// Step is one unit of plan execution. The Type tag selects which field
// group is meaningful; Validate rejects mixed or incomplete shapes.
type Step struct {
	Type string `yaml:"type" json:"type"`

	// tool
	Name     string         `yaml:"name,omitempty"     json:"name,omitempty"`
	Args     map[string]any `yaml:"args,omitempty"     json:"args,omitempty"`
	SaveAs   string         `yaml:"save_as,omitempty"  json:"save_as,omitempty"`
	OnFail   string         `yaml:"on_fail,omitempty"  json:"on_fail,omitempty"`
	Fallback []*Step        `yaml:"fallback,omitempty" json:"fallback,omitempty"`

	// if
	Cond *Condition `yaml:"cond,omitempty" json:"cond,omitempty"`
	Then []*Step    `yaml:"then,omitempty" json:"then,omitempty"`
	Else []*Step    `yaml:"else,omitempty" json:"else,omitempty"`

	// wait (shares Cond with if)
	TimeoutS float64 `yaml:"timeout_s,omitempty" json:"timeout_s,omitempty"`
	PollS    float64 `yaml:"poll_s,omitempty"    json:"poll_s,omitempty"`
	Refresh  []*Step `yaml:"refresh,omitempty"   json:"refresh,omitempty"`
	Tick     []*Step `yaml:"tick,omitempty"      json:"tick,omitempty"`
}

// OnFailMode returns the effective failure policy for a tool step.
// Anything other than an explicit "continue" means stop.
func (s *Step) OnFailMode() string {
	if s.OnFail == OnFailContinue {
		return OnFailContinue
	}
	return OnFailStop
}

// Condition is a boolean predicate over the run environment. Exactly one
// shape is populated depending on the operator's arity: exists uses Value,
// comparisons use Left/Right, and/or use Conds, not uses Cond.
type Condition struct {
	Op    string       `yaml:"op"              json:"op"`
	Value any          `yaml:"value,omitempty" json:"value,omitempty"`
	Left  any          `yaml:"left,omitempty"  json:"left,omitempty"`
	Right any          `yaml:"right,omitempty" json:"right,omitempty"`
	Conds []*Condition `yaml:"conds,omitempty" json:"conds,omitempty"`
	Cond  *Condition   `yaml:"cond,omitempty"  json:"cond,omitempty"`
}
