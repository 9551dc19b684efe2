package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/anishkny/attractor/internal/attractor/cond"
	"github.com/anishkny/attractor/internal/attractor/events"
	"github.com/anishkny/attractor/internal/attractor/model"
	"github.com/anishkny/attractor/internal/attractor/runtime"
)

// Hooks bundles the external collaborators a handler may need. Concrete
// LLM backends and human-interview front-ends are supplied by the caller
// of Run; the engine itself only knows their contracts.
type Hooks struct {
	RunID       string
	Graph       *model.Graph
	Interviewer Interviewer
	LLMClient   LLMClient
	ToolRunner  ToolRunner
	Emit        func(events.Event)
	PromptDir   string
	RunDir      string

	// RunBranch executes a forked sub-pipeline starting at startNodeID
	// against its own context copy, returning the branch's terminal
	// outcome. Supplied by the engine so the Parallel handler can run each
	// branch through the engine's own branch runner (Engine.runBranch).
	RunBranch func(ctx context.Context, startNodeID string, forked *runtime.Context) (runtime.Outcome, error)
}

// Handler executes a single node and reports what happened.
type Handler interface {
	Execute(ctx context.Context, n *model.Node, rc *runtime.Context, h Hooks) (runtime.Outcome, error)
}

// Interviewer is the pluggable human-in-the-loop front-end used by the
// wait-for-human handler.
type Interviewer interface {
	Ask(ctx context.Context, q Question) (Answer, error)
}

type Question struct {
	NodeID  string
	Prompt  string
	Options []Option
}

type Option struct {
	Label       string
	Value       string
	Accelerator string
}

type Answer struct {
	Value string
}

// AutoApproveInterviewer answers every question with its first option (or
// "approved" if none are declared). Useful for tests and for pipelines
// that expect a human but are run non-interactively.
type AutoApproveInterviewer struct{}

func (AutoApproveInterviewer) Ask(_ context.Context, q Question) (Answer, error) {
	if len(q.Options) > 0 {
		return Answer{Value: q.Options[0].Value}, nil
	}
	return Answer{Value: "approved"}, nil
}

// LLMClient is the pluggable completion backend used by the codergen
// handler. Concrete providers live outside this module.
type LLMClient interface {
	Complete(ctx context.Context, prompt string, model, provider, reasoningEffort string) (string, error)
}

// ToolRunner executes a command for the tool handler. The default
// implementation shells out via os/exec; tests may substitute a fake.
type ToolRunner interface {
	Run(ctx context.Context, command string, args []string, cwd string, timeout time.Duration) (stdout string, exitCode int, err error)
}

type execToolRunner struct{}

func (execToolRunner) Run(ctx context.Context, command string, args []string, cwd string, timeout time.Duration) (string, int, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = cwd
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		exitCode = -1
	}
	return out.String(), exitCode, err
}

func DefaultToolRunner() ToolRunner { return execToolRunner{} }

// shapeToType maps a node's DOT shape to a built-in handler type. An
// explicit type= attribute always overrides this mapping.
var shapeToType = map[string]string{
	"Mdiamond":      "start",
	"Msquare":       "exit",
	"box":           "codergen",
	"diamond":       "conditional",
	"parallelogram": "tool",
	"hexagon":       "wait_human",
	"component":     "parallel",
	"tripleoctagon": "fan_in",
	"house":         "manager_loop",
}

// ResolveType returns the handler type for a node: its explicit type=
// override if set, otherwise the shape-derived default.
func ResolveType(n *model.Node) string {
	if t := n.TypeOverride(); t != "" {
		return t
	}
	if t, ok := shapeToType[n.Shape()]; ok {
		return t
	}
	return "codergen"
}

// HandlerRegistry maps handler type names to implementations. Callers may
// register additional types before running a pipeline.
type HandlerRegistry struct {
	handlers map[string]Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	r := &HandlerRegistry{handlers: map[string]Handler{}}
	r.Register("start", StartHandler{})
	r.Register("exit", ExitHandler{})
	r.Register("codergen", CodergenHandler{})
	r.Register("conditional", ConditionalHandler{})
	r.Register("tool", ToolHandler{})
	r.Register("wait_human", WaitHumanHandler{})
	r.Register("parallel", ParallelHandler{})
	r.Register("fan_in", FanInHandler{})
	r.Register("manager_loop", ManagerLoopHandler{})
	return r
}

func (r *HandlerRegistry) Register(handlerType string, h Handler) {
	r.handlers[handlerType] = h
}

func (r *HandlerRegistry) Lookup(handlerType string) (Handler, bool) {
	h, ok := r.handlers[handlerType]
	return h, ok
}

// KnownTypes returns every registered handler type name, used to build
// validate.TypeKnownRule against the registry actually in use.
func (r *HandlerRegistry) KnownTypes() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// --- Start / Exit -----------------------------------------------------

type StartHandler struct{}

func (StartHandler) Execute(_ context.Context, _ *model.Node, _ *runtime.Context, _ Hooks) (runtime.Outcome, error) {
	return runtime.Outcome{Status: runtime.StatusSuccess}, nil
}

type ExitHandler struct{}

func (ExitHandler) Execute(_ context.Context, _ *model.Node, _ *runtime.Context, _ Hooks) (runtime.Outcome, error) {
	return runtime.Outcome{Status: runtime.StatusSuccess}, nil
}

// --- Conditional --------------------------------------------------------

// ConditionalHandler is a pure router: it never runs a prompt or command,
// it just passes the incoming context through unchanged so the engine's
// edge-selection algorithm can route on outcome/context conditions.
type ConditionalHandler struct{}

func (ConditionalHandler) Execute(_ context.Context, _ *model.Node, _ *runtime.Context, _ Hooks) (runtime.Outcome, error) {
	return runtime.Outcome{Status: runtime.StatusSuccess}, nil
}

// --- Codergen (LLM) -------------------------------------------------------

// CodergenHandler runs a node's prompt through the pluggable LLMClient,
// applying $goal/$context.<k> expansion first.
type CodergenHandler struct{}

func (CodergenHandler) Execute(ctx context.Context, n *model.Node, rc *runtime.Context, h Hooks) (runtime.Outcome, error) {
	if h.LLMClient == nil {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: "no llm client configured"}, nil
	}
	prompt := ExpandVariables(n.Prompt(), n, rc)
	if prompt == "" {
		prompt = ExpandVariables(n.Label(), n, rc)
	}
	model := n.Attr("llm_model", "")
	provider := n.Attr("llm_provider", "")
	effort := n.Attr("reasoning_effort", "")

	stageDir := ""
	if h.RunDir != "" {
		stageDir = filepath.Join(h.RunDir, n.ID)
		if err := os.MkdirAll(stageDir, 0o755); err == nil {
			_ = os.WriteFile(filepath.Join(stageDir, "prompt.md"), []byte(prompt), 0o644)
		}
	}

	out, err := h.LLMClient.Complete(ctx, prompt, model, provider, effort)
	if err != nil {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: err.Error()}, nil
	}
	if stageDir != "" {
		_ = os.WriteFile(filepath.Join(stageDir, "response.md"), []byte(out), 0o644)
	}
	status, note := parseTrailingOutcome(out)
	return runtime.Outcome{Status: status, Notes: note}, nil
}

// parseTrailingOutcome looks for a line of the form "outcome=<status>" in
// the completion text and uses it to determine the stage status,
// defaulting to success when none is present.
func parseTrailingOutcome(text string) (runtime.StageStatus, string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToLower(line), "outcome=") {
			continue
		}
		raw := strings.TrimSpace(line[len("outcome="):])
		raw = strings.Trim(raw, "\"'")
		if st, err := runtime.ParseStageStatus(raw); err == nil {
			return st, text
		}
	}
	return runtime.StatusSuccess, text
}

// --- Tool ---------------------------------------------------------------

type ToolHandler struct{}

func (ToolHandler) Execute(ctx context.Context, n *model.Node, rc *runtime.Context, h Hooks) (runtime.Outcome, error) {
	command := ExpandVariables(n.Command(), n, rc)
	if command == "" {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: "tool node missing command"}, nil
	}
	var args []string
	for _, a := range n.Args() {
		args = append(args, ExpandVariables(a, n, rc))
	}
	cwd := ExpandVariables(n.Cwd(), n, rc)

	runner := h.ToolRunner
	if runner == nil {
		runner = DefaultToolRunner()
	}
	stdout, exitCode, err := runner.Run(ctx, command, args, cwd, n.Timeout())
	updates := map[string]any{
		"tool_exit_code": exitCode,
	}
	if store := n.Store(); store != "" {
		updates[store] = stdout
	}
	if err != nil || exitCode != 0 {
		reason := fmt.Sprintf("tool command exited %d", exitCode)
		if err != nil {
			reason = fmt.Sprintf("tool command failed: %v", err)
		}
		return runtime.Outcome{
			Status:         runtime.StatusFail,
			FailureReason:  reason,
			Notes:          stdout,
			ContextUpdates: updates,
		}, nil
	}
	return runtime.Outcome{Status: runtime.StatusSuccess, Notes: stdout, ContextUpdates: updates}, nil
}

// --- Wait for human -------------------------------------------------------

type WaitHumanHandler struct{}

func (WaitHumanHandler) Execute(ctx context.Context, n *model.Node, rc *runtime.Context, h Hooks) (runtime.Outcome, error) {
	var outgoing []*model.Edge
	if h.Graph != nil {
		outgoing = h.Graph.Outgoing(n.ID)
	}
	if len(outgoing) == 0 {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: "wait_human node has no outgoing edges to offer as choices"}, nil
	}

	interviewer := h.Interviewer
	if interviewer == nil {
		interviewer = AutoApproveInterviewer{}
	}
	q := Question{NodeID: n.ID, Prompt: ExpandVariables(n.Prompt(), n, rc)}
	for _, e := range outgoing {
		label := e.Label()
		if label == "" {
			label = e.To
		}
		q.Options = append(q.Options, parseAcceleratorOption(label))
	}

	if h.Emit != nil {
		h.Emit(events.Event{Type: events.InterviewStarted, RunID: h.RunID, NodeID: n.ID, Fields: map[string]any{"prompt": q.Prompt}})
	}
	answer, err := interviewer.Ask(ctx, q)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			if h.Emit != nil {
				h.Emit(events.Event{Type: events.InterviewTimeout, RunID: h.RunID, NodeID: n.ID})
			}
			return runtime.Outcome{Status: runtime.StatusSkipped, Notes: "timeout"}, nil
		}
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: err.Error()}, nil
	}
	if h.Emit != nil {
		h.Emit(events.Event{Type: events.InterviewCompleted, RunID: h.RunID, NodeID: n.ID, Fields: map[string]any{"answer": answer.Value}})
	}
	return runtime.Outcome{
		Status:         runtime.StatusSuccess,
		PreferredLabel: answer.Value,
		ContextUpdates: map[string]any{"human_answer": answer.Value},
	}, nil
}

// parseAcceleratorOption turns an edge label like "&Yes" into an Option
// whose displayed value is "Yes" and whose Accelerator is "Y".
func parseAcceleratorOption(label string) Option {
	idx := strings.Index(label, "&")
	if idx < 0 || idx+1 >= len(label) {
		return Option{Label: label, Value: label}
	}
	accel := string(label[idx+1])
	value := label[:idx] + label[idx+1:]
	return Option{Label: value, Value: value, Accelerator: accel}
}

// --- Parallel / Fan-in ----------------------------------------------------

// ParallelHandler identifies its branch targets as its outgoing edges,
// executes each against a forked copy of the context, then merges results
// according to join_policy (wait_all|first_success) and error_policy
// (fail_fast|continue|ignore).
type ParallelHandler struct{}

func (ParallelHandler) Execute(ctx context.Context, n *model.Node, rc *runtime.Context, h Hooks) (runtime.Outcome, error) {
	var outgoing []*model.Edge
	if h.Graph != nil {
		outgoing = h.Graph.Outgoing(n.ID)
	}
	if len(outgoing) == 0 {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: "parallel node has no outgoing edges to branch into"}, nil
	}
	if h.RunBranch == nil {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: "parallel node has no branch runner configured"}, nil
	}
	branches := make([]string, len(outgoing))
	for i, e := range outgoing {
		branches[i] = e.To
	}

	joinPolicy := n.Attr("join_policy", "wait_all")
	errorPolicy := n.Attr("error_policy", "fail_fast")

	if h.Emit != nil {
		h.Emit(events.Event{Type: events.ParallelStarted, RunID: h.RunID, NodeID: n.ID, Fields: map[string]any{"branches": branches}})
	}

	type branchResult struct {
		id      string
		outcome runtime.Outcome
		err     error
	}
	results := make([]branchResult, len(branches))
	done := make(chan int, len(branches))
	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, b := range branches {
		if h.Emit != nil {
			h.Emit(events.Event{Type: events.ParallelBranchStarted, RunID: h.RunID, NodeID: n.ID, Fields: map[string]any{"branch": b, "index": i}})
		}
		go func(i int, branchID string) {
			forked := runtime.NewContext()
			forked.Restore(rc.SnapshotValues())
			outcome, err := h.RunBranch(branchCtx, branchID, forked)
			results[i] = branchResult{id: branchID, outcome: outcome, err: err}
			done <- i
		}(i, b)
	}

	successCount, failCount := 0, 0
	merged := map[string]any{}
	remaining := len(branches)
	for remaining > 0 {
		i := <-done
		remaining--
		r := results[i]
		ok := r.err == nil && (r.outcome.Status == runtime.StatusSuccess || r.outcome.Status == runtime.StatusPartialSuccess)
		if h.Emit != nil {
			h.Emit(events.Event{Type: events.ParallelBranchCompleted, RunID: h.RunID, NodeID: n.ID, Fields: map[string]any{"branch": r.id, "success": ok}})
		}
		if ok {
			successCount++
			for k, v := range r.outcome.ContextUpdates {
				merged[fmt.Sprintf("%s.%s", r.id, k)] = v
			}
		} else {
			failCount++
			if errorPolicy == "fail_fast" {
				cancel()
			}
		}
		if joinPolicy == "first_success" && successCount > 0 {
			cancel()
			break
		}
		if errorPolicy == "fail_fast" && failCount > 0 {
			break
		}
	}

	if h.Emit != nil {
		h.Emit(events.Event{Type: events.ParallelCompleted, RunID: h.RunID, NodeID: n.ID, Fields: map[string]any{"success_count": successCount, "fail_count": failCount}})
	}

	if joinPolicy == "first_success" {
		if successCount > 0 {
			return runtime.Outcome{Status: runtime.StatusSuccess, ContextUpdates: merged}, nil
		}
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: "no parallel branch succeeded", ContextUpdates: merged}, nil
	}

	// wait_all: every branch must succeed, unless error_policy=ignore maps
	// failures away.
	if failCount > 0 && errorPolicy != "ignore" {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: "one or more parallel branches failed", ContextUpdates: merged}, nil
	}
	return runtime.Outcome{Status: runtime.StatusSuccess, ContextUpdates: merged}, nil
}

// FanInHandler is the synchronization point paired with a Parallel node.
// It is a pass-through: by the time the engine reaches it, ParallelHandler
// has already merged branch results into the context.
type FanInHandler struct{}

func (FanInHandler) Execute(_ context.Context, _ *model.Node, _ *runtime.Context, _ Hooks) (runtime.Outcome, error) {
	return runtime.Outcome{Status: runtime.StatusSuccess}, nil
}

// --- Manager loop ---------------------------------------------------------

// ManagerLoopHandler supervises a child pipeline process: it spawns the
// child's dotfile as a subprocess of this binary, then cycles
// observe (poll the child's newest checkpoint into context) / steer (log a
// supervision note) / wait (sleep poll_interval) until the child exits, a
// stop_condition expression is satisfied, or max_cycles is reached.
type ManagerLoopHandler struct{}

func (ManagerLoopHandler) Execute(ctx context.Context, n *model.Node, rc *runtime.Context, h Hooks) (runtime.Outcome, error) {
	childDotfile := n.ChildDotfile()
	if childDotfile == "" {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: "manager_loop node missing child_dotfile"}, nil
	}

	childLogsDir := filepath.Join(h.RunDir, n.ID, "child_logs")
	if h.RunDir == "" {
		var err error
		childLogsDir, err = os.MkdirTemp("", "attractor-manager-"+n.ID+"-")
		if err != nil {
			return runtime.Outcome{Status: runtime.StatusFail, FailureReason: fmt.Sprintf("creating child logs dir: %v", err)}, nil
		}
	} else if err := os.MkdirAll(childLogsDir, 0o755); err != nil {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: fmt.Sprintf("creating child logs dir: %v", err)}, nil
	}

	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}
	child := exec.CommandContext(ctx, self, "run", childDotfile, "--logs-root", childLogsDir)
	if err := child.Start(); err != nil {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: fmt.Sprintf("starting child pipeline: %v", err)}, nil
	}
	rc.Set("manager_child_pid", child.Process.Pid)

	childDone := make(chan error, 1)
	go func() { childDone <- child.Wait() }()

	pollInterval := n.PollInterval()
	stopCondition := n.StopCondition()
	maxCycles := n.MaxCycles()

	defer func() {
		if child.Process != nil {
			_ = child.Process.Kill()
		}
	}()

	for cycle := 1; cycle <= maxCycles; cycle++ {
		ingestChildTelemetry(rc, childLogsDir)
		rc.Log(fmt.Sprintf("manager_loop[%s] cycle=%d observing child", n.ID, cycle))

		select {
		case werr := <-childDone:
			if werr != nil {
				return runtime.Outcome{Status: runtime.StatusFail, FailureReason: fmt.Sprintf("child pipeline failed: %v", werr)}, nil
			}
			return runtime.Outcome{Status: runtime.StatusSuccess, Notes: "child pipeline completed successfully"}, nil
		default:
		}

		if stopCondition != "" {
			if ok, cerr := cond.Evaluate(stopCondition, runtime.Outcome{Status: runtime.StatusSuccess}, rc); cerr == nil && ok {
				return runtime.Outcome{Status: runtime.StatusSuccess, Notes: "stop condition satisfied"}, nil
			}
		}

		select {
		case <-ctx.Done():
			return runtime.Outcome{Status: runtime.StatusFail, FailureReason: ctx.Err().Error()}, nil
		case werr := <-childDone:
			if werr != nil {
				return runtime.Outcome{Status: runtime.StatusFail, FailureReason: fmt.Sprintf("child pipeline failed: %v", werr)}, nil
			}
			return runtime.Outcome{Status: runtime.StatusSuccess, Notes: "child pipeline completed successfully"}, nil
		case <-time.After(pollInterval):
		}
	}
	return runtime.Outcome{Status: runtime.StatusFail, FailureReason: fmt.Sprintf("max_cycles (%d) exceeded", maxCycles)}, nil
}

// ingestChildTelemetry reads the child's most recently written checkpoint
// (the newest run_* directory under childLogsDir) and copies its current
// node and visited-node count into the parent context.
func ingestChildTelemetry(rc *runtime.Context, childLogsDir string) {
	entries, err := os.ReadDir(childLogsDir)
	if err != nil {
		return
	}
	var latest string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "run_") && e.Name() > latest {
			latest = e.Name()
		}
	}
	if latest == "" {
		return
	}
	cp, err := runtime.LoadCheckpoint(filepath.Join(childLogsDir, latest, "checkpoint.json"))
	if err != nil {
		return
	}
	rc.Set("manager_child_current_node", cp.CurrentNodeID)
	rc.Set("manager_child_visited_count", len(cp.Visited))
}
