package replay

import (
	"context"
	"path/filepath"
	"testing"
)

func TestRunFileFound(t *testing.T) {
	res, err := RunFile(filepath.Join("testdata", "found.scenario.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed {
		t.Fatalf("failures: %v", res.Failures)
	}
	if res.Name != "approaches when the target is known" {
		t.Errorf("name = %q", res.Name)
	}
}

func TestRunFileMissing(t *testing.T) {
	res, err := RunFile(filepath.Join("testdata", "missing.scenario.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed {
		t.Fatalf("failures: %v", res.Failures)
	}
}

func TestRunFileWaitPoll(t *testing.T) {
	res, err := RunFile(filepath.Join("testdata", "wait_poll.scenario.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed {
		t.Fatalf("failures: %v", res.Failures)
	}
	// The virtual clock replays the poll loop without real sleeping.
	if res.Run.EndedAt.Sub(res.Run.StartedAt) <= 0 {
		t.Error("virtual time must advance across polls")
	}
}

func TestRunAll(t *testing.T) {
	results, err := RunAll("testdata")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("%s: %v", r.Name, r.Failures)
		}
	}
}

func TestFailedExpectationIsNotAnError(t *testing.T) {
	sc, err := LoadScenarioFile(filepath.Join("testdata", "found.scenario.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	sc.Expect = append(sc.Expect, `run.status == "failed"`)

	res, err := Run(sc, "testdata")
	if err != nil {
		t.Fatal(err)
	}
	if res.Passed || len(res.Failures) != 1 {
		t.Errorf("passed = %v failures = %v", res.Passed, res.Failures)
	}
}

func TestVarsOverride(t *testing.T) {
	sc, err := LoadScenarioFile(filepath.Join("testdata", "found.scenario.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	sc.Vars = map[string]any{"target": "bottle"}
	sc.Expect = []string{`trace[0].args.entity == "bottle"`}

	res, err := Run(sc, "testdata")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed {
		t.Errorf("failures: %v", res.Failures)
	}
}

func TestScriptedInvokerQueue(t *testing.T) {
	inv := NewScriptedInvoker(map[string][]map[string]any{
		"kb_query": {
			{"ok": true, "found": false},
			{"ok": true, "found": true},
		},
	})

	ctx := context.Background()
	if res := inv.Invoke(ctx, "kb_query", nil); res["found"] != false {
		t.Errorf("first = %v", res)
	}
	if res := inv.Invoke(ctx, "kb_query", nil); res["found"] != true {
		t.Errorf("second = %v", res)
	}
	// Exhausted queues repeat the last entry.
	if res := inv.Invoke(ctx, "kb_query", nil); res["found"] != true {
		t.Errorf("third = %v", res)
	}
	if inv.Calls("kb_query") != 3 {
		t.Errorf("calls = %d", inv.Calls("kb_query"))
	}

	if res := inv.Invoke(ctx, "unscripted", nil); res["ok"] != true {
		t.Errorf("unscripted = %v", res)
	}
}
