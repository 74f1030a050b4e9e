package plan

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFileYAML(t *testing.T) {
	p, err := LoadFile(filepath.Join("testdata", "find_and_approach.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if p.Version != FormatVersion {
		t.Errorf("version = %q", p.Version)
	}
	if p.GoalType != "find_and_approach" {
		t.Errorf("goal_type = %q", p.GoalType)
	}
	if p.Vars["target"] != "cup" {
		t.Errorf("vars = %v", p.Vars)
	}
	if p.Policy == nil || p.Policy.MaxSteps != 10 || p.Policy.PerStepTimeoutS != 5 {
		t.Errorf("policy = %+v", p.Policy)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("steps = %d", len(p.Steps))
	}

	tool := p.Steps[0]
	if tool.Type != StepTool || tool.Name != "kb_query" || tool.SaveAs != "kb" {
		t.Errorf("step 0 = %+v", tool)
	}
	if tool.Args["entity"] != "$target" {
		t.Errorf("args kept as written, got %v", tool.Args)
	}

	cond := p.Steps[1]
	if cond.Type != StepIf || cond.Cond == nil || cond.Cond.Op != OpEq {
		t.Fatalf("step 1 = %+v", cond)
	}
	if len(cond.Then) != 1 || len(cond.Else) != 1 {
		t.Errorf("branches then=%d else=%d", len(cond.Then), len(cond.Else))
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	_, err := LoadFile(filepath.Join("testdata", "bad_unknown_field.yaml"))
	if err == nil {
		t.Fatal("unknown field must be a structural error")
	}
	if !strings.Contains(err.Error(), "structural decode") {
		t.Errorf("error = %v", err)
	}
}

func TestParseJSON(t *testing.T) {
	data := []byte(`{
		"version": "mcp.plan.v1",
		"goal_type": "say_hello",
		"steps": [
			{"type": "tool", "name": "notify_say", "args": {"text": "hi"}}
		]
	}`)
	p, err := ParseJSON(data)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if p.GoalType != "say_hello" || len(p.Steps) != 1 {
		t.Errorf("plan = %+v", p)
	}

	if _, err := ParseJSON([]byte(`{"version":"mcp.plan.v1","stepz":[]}`)); err == nil {
		t.Error("unknown JSON field must be rejected")
	}
}
