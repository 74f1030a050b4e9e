package plan

import (
	"path/filepath"
	"strings"
	"testing"
)

var testTools = map[string]bool{
	"kb_query":         true,
	"kb_last_seen":     true,
	"detic_set_labels": true,
	"approach_object":  true,
	"notify_say":       true,
}

func errorPaths(errs []*ValidationError) []string {
	var out []string
	for _, e := range errs {
		if e.Severity == "error" {
			out = append(out, e.Path)
		}
	}
	return out
}

func TestValidateGoodPlans(t *testing.T) {
	for _, name := range []string{"find_and_approach.yaml", "wait_for_person.yaml"} {
		_, errs := ValidateFile(filepath.Join("testdata", name), testTools)
		if HasErrors(errs) {
			t.Errorf("%s: unexpected errors: %v", name, errorPaths(errs))
		}
	}
}

func TestValidateVersionMismatch(t *testing.T) {
	p := &Plan{Version: "mcp.plan.v2", GoalType: "x", Steps: []*Step{
		{Type: StepTool, Name: "notify_say"},
	}}
	errs := Validate(p, testTools)
	if !HasErrors(errs) {
		t.Fatal("wrong version must fail")
	}
	if !hasErrorAt(errs, "version") {
		t.Errorf("errors = %v", errorPaths(errs))
	}
}

func TestValidateRequiresGoalTypeAndSteps(t *testing.T) {
	p := &Plan{Version: FormatVersion}
	errs := Validate(p, nil)
	if !hasErrorAt(errs, "goal_type") || !hasErrorAt(errs, "steps") {
		t.Errorf("errors = %v", errorPaths(errs))
	}
}

func TestValidateUnregisteredTool(t *testing.T) {
	p := &Plan{Version: FormatVersion, GoalType: "x", Steps: []*Step{
		{Type: StepTool, Name: "teleport"},
	}}
	errs := Validate(p, testTools)
	if !hasErrorAt(errs, "steps[0]") {
		t.Errorf("errors = %v", errorPaths(errs))
	}

	// nil allowedTools skips the existence check.
	if errs := Validate(p, nil); HasErrors(errs) {
		t.Errorf("isolated validation must not need a registry: %v", errorPaths(errs))
	}
}

func TestValidateNestedPaths(t *testing.T) {
	p := &Plan{Version: FormatVersion, GoalType: "x", Steps: []*Step{
		{
			Type: StepIf,
			Cond: &Condition{Op: OpEq, Left: "$a", Right: 1},
			Then: []*Step{
				{Type: StepTool}, // missing name
			},
			Else: []*Step{
				{Type: "warp"}, // unknown type
			},
		},
	}}
	errs := Validate(p, testTools)
	if !hasErrorAt(errs, "steps[0].then[0]") {
		t.Errorf("missing nested path, errors = %v", errorPaths(errs))
	}
	if !hasErrorAt(errs, "steps[0].else[0]") {
		t.Errorf("missing else path, errors = %v", errorPaths(errs))
	}
}

func TestValidateCondArity(t *testing.T) {
	base := func(c *Condition) *Plan {
		return &Plan{Version: FormatVersion, GoalType: "x", Steps: []*Step{
			{Type: StepIf, Cond: c, Then: []*Step{{Type: StepTool, Name: "notify_say"}}},
		}}
	}

	bad := []*Condition{
		{Op: "matches", Left: "$a", Right: "b"}, // unknown op
		{Op: OpExists},                          // exists without value
		{Op: OpAnd},                             // empty composite
		{Op: OpNot},                             // not without cond
	}
	for i, c := range bad {
		if errs := Validate(base(c), testTools); !HasErrors(errs) {
			t.Errorf("case %d: expected arity error", i)
		}
	}

	good := &Condition{Op: OpAnd, Conds: []*Condition{
		{Op: OpExists, Value: "$a"},
		{Op: OpNot, Cond: &Condition{Op: OpGt, Left: "$a.conf", Right: 0.5}},
	}}
	if errs := Validate(base(good), testTools); HasErrors(errs) {
		t.Errorf("nested composite should pass: %v", errorPaths(errs))
	}
}

func TestValidateOnFail(t *testing.T) {
	p := &Plan{Version: FormatVersion, GoalType: "x", Steps: []*Step{
		{Type: StepTool, Name: "notify_say", OnFail: "retry"},
	}}
	if errs := Validate(p, testTools); !hasErrorAt(errs, "steps[0].on_fail") {
		t.Errorf("errors = %v", errorPaths(Validate(p, testTools)))
	}
}

func TestValidateFallbackWithoutContinueWarns(t *testing.T) {
	p := &Plan{Version: FormatVersion, GoalType: "x", Steps: []*Step{
		{Type: StepTool, Name: "approach_object", Fallback: []*Step{
			{Type: StepTool, Name: "notify_say"},
		}},
	}}
	errs := Validate(p, testTools)
	if HasErrors(errs) {
		t.Fatalf("warning must not block: %v", errorPaths(errs))
	}
	found := false
	for _, e := range errs {
		if e.Severity == "warning" && strings.Contains(e.Path, "fallback") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a fallback warning, got %v", errs)
	}
}

func TestGenerateJSONSchema(t *testing.T) {
	data, err := GenerateJSONSchema()
	if err != nil {
		t.Fatalf("GenerateJSONSchema: %v", err)
	}
	s := string(data)
	for _, want := range []string{"Robot Plan v1", "goal_type", "steps"} {
		if !strings.Contains(s, want) {
			t.Errorf("schema missing %q", want)
		}
	}
}

func hasErrorAt(errs []*ValidationError, path string) bool {
	for _, e := range errs {
		if e.Severity == "error" && e.Path == path {
			return true
		}
	}
	return false
}
