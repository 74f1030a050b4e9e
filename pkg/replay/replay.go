// Package replay runs plans against scripted tool results so plan behavior
// can be asserted without a robot. A scenario file names a plan, scripts
// each tool's result queue, and states expectations as expressions over the
// finished run.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"gopkg.in/yaml.v3"

	"github.com/calegria/roboplan/pkg/engine"
	"github.com/calegria/roboplan/pkg/plan"
)

// Scenario is one replay case.
type Scenario struct {
	Name string `yaml:"name"`
	// Plan is a path to the plan document, relative to the scenario file.
	Plan string `yaml:"plan"`
	// Vars overrides the plan's declared vars for this scenario.
	Vars map[string]any `yaml:"vars,omitempty"`
	// Tools scripts each tool's results in invocation order. An exhausted
	// queue repeats its last entry, which keeps poll loops scriptable.
	Tools map[string][]map[string]any `yaml:"tools"`
	// Expect holds boolean expressions evaluated against the finished run:
	// `run`, `env`, and `trace` are in scope.
	Expect []string `yaml:"expect"`
}

// Result is the outcome of one scenario.
type Result struct {
	Name     string
	Passed   bool
	Failures []string
	Run      *engine.Run
}

// LoadScenarioFile reads a scenario with strict decoding.
func LoadScenarioFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()

	var sc Scenario
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &sc, nil
}

// RunFile loads and runs the scenario at path. Relative plan paths resolve
// against the scenario file's directory.
func RunFile(path string) (*Result, error) {
	sc, err := LoadScenarioFile(path)
	if err != nil {
		return nil, err
	}
	return Run(sc, filepath.Dir(path))
}

// RunAll runs every *.scenario.yaml under dir, sorted by name.
func RunAll(dir string) ([]*Result, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.scenario.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no scenario files under %s", dir)
	}

	var results []*Result
	for _, m := range matches {
		res, err := RunFile(m)
		if err != nil {
			return results, fmt.Errorf("%s: %w", filepath.Base(m), err)
		}
		results = append(results, res)
	}
	return results, nil
}

// Run executes the scenario's plan on a virtual clock and checks the
// expectations. A failed expectation is a failed result, not an error;
// errors mean the scenario itself is unusable.
func Run(sc *Scenario, baseDir string) (*Result, error) {
	if sc.Plan == "" {
		return nil, fmt.Errorf("scenario %q names no plan", sc.Name)
	}
	planPath := sc.Plan
	if !filepath.IsAbs(planPath) {
		planPath = filepath.Join(baseDir, planPath)
	}
	p, err := plan.LoadFile(planPath)
	if err != nil {
		return nil, err
	}
	if len(sc.Vars) > 0 {
		if p.Vars == nil {
			p.Vars = make(map[string]any, len(sc.Vars))
		}
		for k, v := range sc.Vars {
			p.Vars[k] = v
		}
	}

	inv := NewScriptedInvoker(sc.Tools)
	eng := engine.New(inv)
	eng.Clock = newVirtualClock()

	run := eng.Run(context.Background(), p)

	res := &Result{Name: sc.Name, Passed: true, Run: run}
	scope, err := runScope(run)
	if err != nil {
		return nil, err
	}
	for _, src := range sc.Expect {
		ok, err := evalExpect(src, scope)
		if err != nil {
			res.Passed = false
			res.Failures = append(res.Failures, fmt.Sprintf("%s: %v", src, err))
			continue
		}
		if !ok {
			res.Passed = false
			res.Failures = append(res.Failures, src)
		}
	}
	return res, nil
}

// runScope projects the run record into plain maps so expectations read
// the same field names as the wire format.
func runScope(run *engine.Run) (map[string]any, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("encode run for assertions: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	scope := map[string]any{"run": m}
	scope["env"], _ = m["env"].(map[string]any)
	scope["trace"], _ = m["trace"].([]any)
	if scope["trace"] == nil {
		scope["trace"] = []any{}
	}
	return scope, nil
}

func evalExpect(src string, scope map[string]any) (bool, error) {
	program, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, scope)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expectation is not boolean")
	}
	return b, nil
}

// ScriptedInvoker serves canned results per tool in invocation order.
type ScriptedInvoker struct {
	mu      sync.Mutex
	queues  map[string][]map[string]any
	served  map[string]int
	Unknown map[string]any // result for unscripted tools; defaults to ok:true
}

// NewScriptedInvoker copies the scripts so a scenario can be rerun.
func NewScriptedInvoker(scripts map[string][]map[string]any) *ScriptedInvoker {
	queues := make(map[string][]map[string]any, len(scripts))
	for name, q := range scripts {
		queues[name] = append([]map[string]any(nil), q...)
	}
	return &ScriptedInvoker{
		queues: queues,
		served: make(map[string]int),
	}
}

// Names returns the scripted tool names.
func (s *ScriptedInvoker) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.queues))
	for n := range s.queues {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke pops the tool's next scripted result. An exhausted queue repeats
// the final entry.
func (s *ScriptedInvoker) Invoke(_ context.Context, name string, _ map[string]any) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, scripted := s.queues[name]
	if !scripted || len(q) == 0 {
		s.served[name]++
		if s.Unknown != nil {
			return s.Unknown
		}
		return map[string]any{"ok": true}
	}
	i := s.served[name]
	if i >= len(q) {
		i = len(q) - 1
	}
	s.served[name] = i + 1
	return q[i]
}

// Calls reports how many times name was invoked.
func (s *ScriptedInvoker) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served[name]
}

// virtualClock advances instantly on every sleep so wait steps replay
// without wall-clock delay.
type virtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newVirtualClock() *virtualClock {
	return &virtualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Sleep(_ context.Context, d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
