package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError is a single validation finding with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // e.g. "steps[1].then[0]"
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// comparisonOps are the binary left/right operators.
var comparisonOps = map[string]bool{
	OpEq: true, OpNe: true, OpGt: true, OpLt: true, OpGe: true, OpLe: true,
}

// ValidateFile loads a plan file and runs the full validation pipeline.
// Phase 1: structural (strict decode). Phase 2: semantic (JSON Schema).
// Phase 3: domain (step and condition rules).
func ValidateFile(path string, allowedTools map[string]bool) (*Plan, []*ValidationError) {
	p, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return p, Validate(p, allowedTools)
}

// Validate runs the semantic and domain phases on a decoded plan.
// allowedTools is the set of invocable tool names; nil skips the
// tool-existence check (useful when validating a plan in isolation).
// An empty slice means the plan is runnable.
func Validate(p *Plan, allowedTools map[string]bool) []*ValidationError {
	var errs []*ValidationError
	errs = append(errs, validateSemantic(p)...)
	errs = append(errs, validateDomain(p, allowedTools)...)
	return errs
}

// validateSemantic validates the plan document against the generated
// JSON Schema.
func validateSemantic(p *Plan) []*ValidationError {
	data, err := json.Marshal(p)
	if err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("marshal for schema validation: %v", err), Severity: "error"}}
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("generate schema: %v", err), Severity: "error"}}
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("unmarshal schema: %v", err), Severity: "error"}}
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("plan-v1.json", schemaDoc); err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("add schema resource: %v", err), Severity: "error"}}
	}
	sch, err := c.Compile("plan-v1.json")
	if err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("compile schema: %v", err), Severity: "error"}}
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("unmarshal document: %v", err), Severity: "error"}}
	}

	if err := sch.Validate(doc); err != nil {
		var out []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				out = append(out, &ValidationError{
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			out = append(out, &ValidationError{Phase: "semantic", Message: err.Error(), Severity: "error"})
		}
		return out
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// validateDomain checks the rules the schema cannot express: version match,
// step shapes, operator arity, and tool existence. All violations are
// detected here, before any step executes.
func validateDomain(p *Plan, allowedTools map[string]bool) []*ValidationError {
	var errs []*ValidationError

	if p.Version != FormatVersion {
		errs = append(errs, domainErr("version",
			fmt.Sprintf("missing or invalid version %q (expected %q)", p.Version, FormatVersion)))
	}
	if strings.TrimSpace(p.GoalType) == "" {
		errs = append(errs, domainErr("goal_type", "goal_type is required"))
	}
	if len(p.Steps) == 0 {
		errs = append(errs, domainErr("steps", "steps must be a non-empty sequence"))
	}
	if p.Policy != nil {
		if p.Policy.MaxSteps < 0 {
			errs = append(errs, domainErr("policy.max_steps", "max_steps must be non-negative"))
		}
		if p.Policy.PerStepTimeoutS < 0 {
			errs = append(errs, domainErr("policy.per_step_timeout_s", "per_step_timeout_s must be non-negative"))
		}
	}

	errs = append(errs, validateSteps(p.Steps, allowedTools, "steps")...)
	return errs
}

func validateSteps(steps []*Step, allowedTools map[string]bool, path string) []*ValidationError {
	var errs []*ValidationError
	for i, s := range steps {
		p := fmt.Sprintf("%s[%d]", path, i)
		if s == nil {
			errs = append(errs, domainErr(p, "step must be an object"))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case StepTool:
			errs = append(errs, validateToolStep(s, allowedTools, p)...)
		case StepIf:
			if s.Cond == nil {
				errs = append(errs, domainErr(p, "if step missing cond"))
			} else {
				errs = append(errs, validateCond(s.Cond, p+".cond")...)
			}
			errs = append(errs, validateSteps(s.Then, allowedTools, p+".then")...)
			errs = append(errs, validateSteps(s.Else, allowedTools, p+".else")...)
		case StepWait:
			if s.Cond == nil {
				errs = append(errs, domainErr(p, "wait step missing cond"))
			} else {
				errs = append(errs, validateCond(s.Cond, p+".cond")...)
			}
			if s.TimeoutS < 0 {
				errs = append(errs, domainErr(p+".timeout_s", "timeout_s must be non-negative"))
			}
			if s.PollS < 0 {
				errs = append(errs, domainErr(p+".poll_s", "poll_s must be non-negative"))
			}
			errs = append(errs, validateSteps(s.Refresh, allowedTools, p+".refresh")...)
			errs = append(errs, validateSteps(s.Tick, allowedTools, p+".tick")...)
		default:
			errs = append(errs, domainErr(p, fmt.Sprintf("unknown step type %q", s.Type)))
		}
	}
	return errs
}

func validateToolStep(s *Step, allowedTools map[string]bool, path string) []*ValidationError {
	var errs []*ValidationError

	name := strings.TrimSpace(s.Name)
	if name == "" {
		errs = append(errs, domainErr(path, "tool step missing name"))
	} else if allowedTools != nil && !allowedTools[name] {
		errs = append(errs, domainErr(path, fmt.Sprintf("tool %q is not registered", name)))
	}

	if s.OnFail != "" && s.OnFail != OnFailStop && s.OnFail != OnFailContinue {
		errs = append(errs, domainErr(path+".on_fail",
			fmt.Sprintf("on_fail must be %q or %q", OnFailStop, OnFailContinue)))
	}
	if len(s.Fallback) > 0 && s.OnFailMode() != OnFailContinue {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     path + ".fallback",
			Message:  "fallback only runs when on_fail is \"continue\"",
			Severity: "warning",
		})
	}
	errs = append(errs, validateSteps(s.Fallback, allowedTools, path+".fallback")...)
	return errs
}

// validateCond enforces operator arity so the evaluator never sees a
// malformed condition at run time.
func validateCond(c *Condition, path string) []*ValidationError {
	var errs []*ValidationError
	op := strings.ToLower(strings.TrimSpace(c.Op))

	switch {
	case op == OpExists:
		if c.Value == nil {
			errs = append(errs, domainErr(path, "exists requires value"))
		}
	case comparisonOps[op]:
		// left/right may legitimately be null literals; nothing to check
		// beyond the unused composite fields below.
	case op == OpAnd || op == OpOr:
		if len(c.Conds) == 0 {
			errs = append(errs, domainErr(path, fmt.Sprintf("%s requires a non-empty conds list", op)))
		}
		for i, sub := range c.Conds {
			if sub == nil {
				errs = append(errs, domainErr(fmt.Sprintf("%s.conds[%d]", path, i), "condition must be an object"))
				continue
			}
			errs = append(errs, validateCond(sub, fmt.Sprintf("%s.conds[%d]", path, i))...)
		}
	case op == OpNot:
		if c.Cond == nil {
			errs = append(errs, domainErr(path, "not requires cond"))
		} else {
			errs = append(errs, validateCond(c.Cond, path+".cond")...)
		}
	default:
		errs = append(errs, domainErr(path, fmt.Sprintf("unknown condition op %q", c.Op)))
	}
	return errs
}

func domainErr(path, msg string) *ValidationError {
	return &ValidationError{Phase: "domain", Path: path, Message: msg, Severity: "error"}
}

// HasErrors reports whether any finding is a hard error (not a warning).
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}
