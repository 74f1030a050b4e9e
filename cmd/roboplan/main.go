package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mark3labs/mcp-go/server"

	"github.com/calegria/roboplan/pkg/debugger"
	"github.com/calegria/roboplan/pkg/engine"
	"github.com/calegria/roboplan/pkg/mcpserver"
	"github.com/calegria/roboplan/pkg/plan"
	"github.com/calegria/roboplan/pkg/planner"
	"github.com/calegria/roboplan/pkg/replay"
	"github.com/calegria/roboplan/pkg/serve"
	"github.com/calegria/roboplan/pkg/store"
	"github.com/calegria/roboplan/pkg/tools"
	"github.com/calegria/roboplan/pkg/tui"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	loadDotEnv() // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file from the working directory and sets any
// variables that aren't already set in the environment. Lines are KEY=VALUE
// (or KEY="VALUE"). Comments (#) and blanks are skipped. The .env file is
// gitignored so backend URLs and tokens never end up in source control.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return // no .env file, that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "roboplan",
	Short: "Robot plan execution engine",
	Long:  "roboplan validates and executes declarative robot plans: typed tool, branch, and wait steps over a knowledge-base and actuation backend.",
}

// newLogger builds the process logger. Services log structured lines to
// stderr; CLI verbs keep stdout for their own output.
func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// newRegistry wires the robot tool catalog against the perception and
// actuation bridges named by the environment. Unset URLs leave the
// corresponding tools registered but failing, which keeps validation and
// dry runs usable on a workstation with no robot attached.
func newRegistry(log zerolog.Logger) *tools.Registry {
	backend := tools.NewBridge(os.Getenv("ROBOPLAN_BACKEND_URL"), tools.DefaultBridgeTimeout)
	actuation := tools.NewBridge(os.Getenv("ROBOPLAN_PI_URL"), tools.DefaultBridgeTimeout)

	reg := tools.NewRegistry(tools.DefaultSafetyPolicy(), log)
	tools.RegisterRobotTools(reg, backend, actuation)
	return reg
}

// parseVars turns repeated --var key=value flags into plan variable
// overrides. Values decode as YAML scalars so numbers and booleans come
// through typed.
func parseVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(parts[1]), &v); err != nil {
			v = parts[1]
		}
		vars[strings.TrimSpace(parts[0])] = v
	}
	return vars, nil
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [plan.yaml]",
	Short: "Validate a plan file against the schema and tool catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	log := newLogger(false)
	reg := newRegistry(log)
	allowed := make(map[string]bool)
	for _, n := range reg.Names() {
		allowed[n] = true
	}

	p, errs := plan.ValidateFile(args[0], allowed)
	printWarnings(errs)
	if plan.HasErrors(errs) {
		fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n", countErrors(errs))
		for i, e := range errs {
			if e.Severity != "warning" {
				fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
				if e.Path != "" {
					fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
				}
			}
		}
		return fmt.Errorf("validation failed with %d error(s)", countErrors(errs))
	}
	fmt.Printf("✓ %s is valid (%d steps)\n", p.GoalType, len(p.Steps))
	return nil
}

func printWarnings(errs []*plan.ValidationError) {
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "    at: %s\n", e.Path)
			}
		}
	}
}

func countErrors(errs []*plan.ValidationError) int {
	n := 0
	for _, e := range errs {
		if e.Severity != "warning" {
			n++
		}
	}
	return n
}

// --- exec ---

var (
	execVars  []string
	execTrace string
	execJSON  bool
)

var execCmd = &cobra.Command{
	Use:   "exec [plan.yaml]",
	Short: "Execute a plan against the configured robot backend",
	Args:  cobra.ExactArgs(1),
	RunE:  runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	log := newLogger(os.Getenv("ROBOPLAN_DEBUG") != "")
	reg := newRegistry(log)

	p, err := loadPlanWithVars(args[0], execVars)
	if err != nil {
		return err
	}

	eng := engine.New(reg)
	eng.Log = log
	if execTrace != "" {
		tw, err := engine.NewFileTraceWriter(execTrace)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer tw.Close()
		eng.Trace = tw
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := eng.Run(ctx, p)

	if execJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(run)
	} else {
		printRun(run)
	}
	if !run.OK {
		return fmt.Errorf("run %s: %s", run.Status, run.Error)
	}
	return nil
}

// loadPlanWithVars loads a plan and applies --var overrides to its declared
// vars.
func loadPlanWithVars(path string, pairs []string) (*plan.Plan, error) {
	p, err := plan.LoadFile(path)
	if err != nil {
		return nil, err
	}
	overrides, err := parseVars(pairs)
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if p.Vars == nil {
			p.Vars = make(map[string]any, len(overrides))
		}
		for k, v := range overrides {
			p.Vars[k] = v
		}
	}
	return p, nil
}

func printRun(run *engine.Run) {
	for _, rec := range run.Trace {
		glyph := "✓"
		if !rec.OK {
			glyph = "✗"
		}
		line := fmt.Sprintf("  %s %s (%s)", glyph, rec.Name, rec.Path)
		if rec.Error != "" {
			line += ": " + rec.Error
		}
		fmt.Println(line)
	}
	fmt.Printf("\nrun %s: %s, %d tool steps\n", run.RunID, run.Status, len(run.Trace))
	if run.Error != "" {
		fmt.Printf("  %s: %s\n", run.FailureKind, run.Error)
	}
}

// --- debug ---

var debugVars []string

var debugCmd = &cobra.Command{
	Use:   "debug [plan.yaml]",
	Short: "Step through a plan interactively, one tool call at a time",
	Args:  cobra.ExactArgs(1),
	RunE:  runDebug,
}

func runDebug(cmd *cobra.Command, args []string) error {
	log := newLogger(false)
	reg := newRegistry(log)

	p, err := loadPlanWithVars(args[0], debugVars)
	if err != nil {
		return err
	}

	eng := engine.New(reg)
	eng.Log = log

	d := debugger.New(p, eng)
	run, err := d.Run(context.Background())
	if err != nil {
		return err
	}
	if run != nil && !run.OK {
		os.Exit(1)
	}
	return nil
}

// --- serve ---

var (
	serveAddr    string
	serveTrace   string
	serveVerbose bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP plan execution service",
	Long: `Start the REST service: plan validation and execution, run inspection,
and cancellation. Backends are named by environment variables:

  ROBOPLAN_BACKEND_URL   perception and knowledge-base bridge
  ROBOPLAN_PI_URL        actuation bridge
  ROBOPLAN_PLANNER_URL   LLM planner service (optional)
  ROBOPLAN_PLANNER_TOKEN planner shared secret`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger(serveVerbose)

	reg := newRegistry(log)
	eng := engine.New(reg)
	eng.Log = log
	if serveTrace != "" {
		tw, err := engine.NewFileTraceWriter(serveTrace)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer tw.Close()
		eng.Trace = tw
	}

	st := store.New(eng, log)
	srv := serve.New(serveAddr, st, reg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", serveAddr).Str("version", version).Msg("serving")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server on stdio for AI agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger(false)
		reg := newRegistry(log)
		eng := engine.New(reg)
		eng.Log = log
		st := store.New(eng, log)

		allowed := make(map[string]bool)
		for _, n := range reg.Names() {
			allowed[n] = true
		}

		s := mcpserver.NewServer(version, st, allowed)
		return server.ServeStdio(s)
	},
}

// --- test ---

var testJSON bool

var testCmd = &cobra.Command{
	Use:   "test [scenario-dir]",
	Short: "Replay scenario files against scripted tool results",
	Long: `Run every *.scenario.yaml under the directory on a virtual clock and
check its expectations against the finished run.

Exit codes:
  0 — all scenarios passed
  1 — at least one expectation failed
  2 — a scenario could not run at all`,
	Args: cobra.ExactArgs(1),
	RunE: runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	results, err := replay.RunAll(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "  ✗ %v\n", err)
		os.Exit(2)
	}

	if testJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(results)
	}

	passed, failed := 0, 0
	for _, res := range results {
		if res.Passed {
			passed++
			if !testJSON {
				fmt.Printf("  ✓ %s (%s)\n", res.Name, res.Run.Status)
			}
			continue
		}
		failed++
		if !testJSON {
			fmt.Printf("  ✗ %s (%s)\n", res.Name, res.Run.Status)
			for _, f := range res.Failures {
				fmt.Printf("      %s\n", f)
			}
		}
	}
	if !testJSON {
		fmt.Printf("\n  %d scenarios, %d passed, %d failed\n", len(results), passed, failed)
	}
	if failed > 0 {
		os.Exit(1)
	}
	return nil
}

// --- watch ---

var watchURL string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Terminal UI over a running plan service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tui.NewApp(watchURL).Run()
	},
}

// --- plan (LLM planner) ---

var (
	planExec       bool
	planContext    []string
	planTranscript string
)

var planCmd = &cobra.Command{
	Use:   "plan [transcript]",
	Short: "Ask the LLM planner service for a plan from a transcript",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	transcript := planTranscript
	if len(args) == 1 {
		transcript = args[0]
	}
	if strings.TrimSpace(transcript) == "" {
		return fmt.Errorf("a transcript is required, as an argument or via --transcript")
	}

	goalContext, err := parseVars(planContext)
	if err != nil {
		return err
	}

	log := newLogger(false)
	reg := newRegistry(log)
	client := planner.New(os.Getenv("ROBOPLAN_PLANNER_URL"), os.Getenv("ROBOPLAN_PLANNER_TOKEN"), log)
	if !client.Configured() {
		return fmt.Errorf("ROBOPLAN_PLANNER_URL is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := client.Plan(ctx, transcript, goalContext, reg.Names())
	if err != nil {
		return err
	}

	if !planExec {
		out, err := yaml.Marshal(p)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	}

	eng := engine.New(reg)
	eng.Log = log
	run := eng.Run(ctx, p)
	printRun(run)
	if !run.OK {
		return fmt.Errorf("run %s: %s", run.Status, run.Error)
	}
	return nil
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Schema operations",
}

var schemaExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the plan JSON Schema to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := plan.GenerateJSONSchema()
		if err != nil {
			return fmt.Errorf("generate schema: %w", err)
		}
		var out json.RawMessage = data
		formatted, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Println(string(data))
			return nil
		}
		fmt.Println(string(formatted))
		return nil
	},
}

// --- tools ---

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the invocable tool catalog",
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger(false)
		for _, n := range newRegistry(log).Names() {
			fmt.Println(n)
		}
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("roboplan %s (build: %s)\n", version, commit)
	},
}

func init() {
	execCmd.Flags().StringArrayVar(&execVars, "var", nil, "Set a plan variable (key=value), repeatable")
	execCmd.Flags().StringVar(&execTrace, "trace", "", "Append run events as JSONL to this file")
	execCmd.Flags().BoolVar(&execJSON, "json", false, "Print the full run record as JSON")

	debugCmd.Flags().StringArrayVar(&debugVars, "var", nil, "Set a plan variable (key=value), repeatable")

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8089", "Listen address")
	serveCmd.Flags().StringVar(&serveTrace, "trace", "", "Append run events as JSONL to this file")
	serveCmd.Flags().BoolVar(&serveVerbose, "verbose", false, "Debug-level logging")

	testCmd.Flags().BoolVar(&testJSON, "json", false, "Output results as structured JSON")

	watchCmd.Flags().StringVar(&watchURL, "url", "http://127.0.0.1:8089", "Base URL of the plan service")

	planCmd.Flags().BoolVar(&planExec, "exec", false, "Execute the generated plan immediately")
	planCmd.Flags().StringArrayVar(&planContext, "context", nil, "Goal context entry (key=value), repeatable")
	planCmd.Flags().StringVar(&planTranscript, "transcript", "", "Transcript text (alternative to the positional argument)")

	schemaCmd.AddCommand(schemaExportCmd)

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(versionCmd)
}
