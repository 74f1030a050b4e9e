// Package debugger implements an interactive REPL for stepping through a
// plan run one tool invocation at a time.
package debugger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/calegria/roboplan/pkg/engine"
	"github.com/calegria/roboplan/pkg/plan"
)

// Debugger pauses the run before every tool invocation and hands control
// to the REPL. Conditionals and waits run freely; only the tool boundary
// gates.
type Debugger struct {
	plan   *plan.Plan
	eng    *engine.Engine
	gate   *gatedInvoker
	output io.Writer

	mu   sync.Mutex
	run  *engine.Run
	done chan struct{}
}

// New wraps the engine's tool invoker with the step gate. The engine must
// not be shared with other runs while the debugger owns it.
func New(p *plan.Plan, eng *engine.Engine) *Debugger {
	d := &Debugger{
		plan:   p,
		eng:    eng,
		output: os.Stdout,
		done:   make(chan struct{}),
	}
	d.gate = newGatedInvoker(eng.Tools)
	eng.Tools = d.gate
	eng.Observer = d
	return d
}

// StepDone implements engine.Observer.
func (d *Debugger) StepDone(run *engine.Run, rec *engine.StepRecord) {
	d.mu.Lock()
	d.run = run
	d.mu.Unlock()

	glyph := "✓"
	if !rec.OK {
		glyph = "✗"
	}
	fmt.Fprintf(d.output, "  %s [%d] %s at %s", glyph, rec.Index, rec.Name, rec.Path)
	if rec.Error != "" {
		fmt.Fprintf(d.output, ": %s", rec.Error)
	}
	fmt.Fprintln(d.output)
}

// RunFinished implements engine.Observer.
func (d *Debugger) RunFinished(run *engine.Run) {
	d.mu.Lock()
	d.run = run
	d.mu.Unlock()
	close(d.done)
}

// Run launches the plan and enters the REPL loop. It returns the finished
// run record.
func (d *Debugger) Run(ctx context.Context) (*engine.Run, error) {
	completer := readline.NewPrefixCompleter(
		readline.PcItem("next"),
		readline.PcItem("continue"),
		readline.PcItem("env"),
		readline.PcItem("trace"),
		readline.PcItem("plan"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "(roboplan) ",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return nil, fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		d.eng.Run(runCtx, d.plan)
	}()

	fmt.Fprintf(d.output, "roboplan debugger: goal %q, %d top-level steps\n", d.plan.GoalType, len(d.plan.Steps))
	fmt.Fprintf(d.output, "Type 'next' to run one tool step, 'help' for commands.\n\n")

	for {
		select {
		case <-d.done:
			d.printSummary()
			return d.snapshot(), nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				cancel()
				d.gate.Release()
				<-d.done
				return d.snapshot(), nil
			}
			return nil, err
		}

		switch strings.TrimSpace(line) {
		case "":
		case "next", "n":
			d.gate.Step()
		case "continue", "c":
			d.gate.Release()
			<-d.done
			d.printSummary()
			return d.snapshot(), nil
		case "env", "e":
			d.printEnv()
		case "trace", "t":
			d.printTrace()
		case "plan":
			d.printPlan()
		case "help", "h":
			d.printHelp()
		case "quit", "q":
			cancel()
			d.gate.Release()
			<-d.done
			d.printSummary()
			return d.snapshot(), nil
		default:
			fmt.Fprintf(d.output, "unknown command %q, try 'help'\n", strings.TrimSpace(line))
		}
	}
}

func (d *Debugger) snapshot() *engine.Run {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.run
}

func (d *Debugger) printEnv() {
	run := d.snapshot()
	if run == nil || len(run.Env) == 0 {
		fmt.Fprintln(d.output, "environment is empty")
		return
	}
	data, _ := json.MarshalIndent(run.Env, "", "  ")
	fmt.Fprintln(d.output, string(data))
}

func (d *Debugger) printTrace() {
	run := d.snapshot()
	if run == nil || len(run.Trace) == 0 {
		fmt.Fprintln(d.output, "no tool steps executed yet")
		return
	}
	for _, rec := range run.Trace {
		status := "ok"
		if !rec.OK {
			status = "failed"
		}
		fmt.Fprintf(d.output, "  [%d] %s at %s: %s\n", rec.Index, rec.Name, rec.Path, status)
	}
}

func (d *Debugger) printPlan() {
	data, _ := json.MarshalIndent(d.plan, "", "  ")
	fmt.Fprintln(d.output, string(data))
}

func (d *Debugger) printSummary() {
	run := d.snapshot()
	if run == nil {
		return
	}
	fmt.Fprintf(d.output, "\nrun %s: %s", run.RunID, run.Status)
	if run.Error != "" {
		fmt.Fprintf(d.output, " (%s)", run.Error)
	}
	fmt.Fprintf(d.output, ", %d tool steps\n", len(run.Trace))
}

func (d *Debugger) printHelp() {
	fmt.Fprint(d.output, `Commands:
  next, n      run the next tool step
  continue, c  run to completion
  env, e       show the variable environment
  trace, t     show executed tool steps
  plan         show the plan document
  quit, q      cancel the run and exit
`)
}
