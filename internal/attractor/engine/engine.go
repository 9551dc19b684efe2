// Package engine runs a parsed pipeline graph to completion: it walks
// nodes via the deterministic edge-selection algorithm, retries failed
// nodes with backoff, enforces goal gates, checkpoints progress after
// every step, and emits a typed event stream as it goes.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/anishkny/attractor/internal/attractor/events"
	"github.com/anishkny/attractor/internal/attractor/model"
	"github.com/anishkny/attractor/internal/attractor/runtime"
	"github.com/anishkny/attractor/internal/attractor/validate"
)

// Engine runs one graph. A single Engine is reused across concurrent runs
// of the same parsed graph; all mutable per-run state lives in runState.
type Engine struct {
	Graph    *model.Graph
	Registry *HandlerRegistry
	Backoff  BackoffPolicy
	Metrics  *Metrics
	Emitter  *events.Emitter

	mu       sync.Mutex
	warnings []string
}

func New(g *model.Graph, registry *HandlerRegistry, backoff BackoffPolicy) *Engine {
	if registry == nil {
		registry = NewHandlerRegistry()
	}
	return &Engine{
		Graph:    g,
		Registry: registry,
		Backoff:  backoff,
		Emitter:  events.NewEmitter(),
	}
}

// RunOptions configures a single Run call.
type RunOptions struct {
	RunID     string
	LogsRoot  string
	Resume    bool
	PromptDir string

	Interviewer Interviewer
	LLMClient   LLMClient
	ToolRunner  ToolRunner
}

// Result is a run's terminal outcome.
type Result struct {
	RunID         string
	Status        runtime.FinalStatus
	FailureReason string
	Context       *runtime.Context
	Visited       []string
	Warnings      []string
}

// runState carries the mutable progress of a single Run call, separate
// from the Engine so concurrent runs of the same graph don't interfere.
type runState struct {
	runID        string
	runDir       string
	currentNode  string
	retryCounts  map[string]int
	visited      []string
	gateFailures map[string]int
	context      *runtime.Context
	startTime    time.Time

	// nodeOutcomes records the last outcome for every visited node, keyed
	// by node ID, so goal-gate enforcement can scan it as a deferred batch
	// check when the run is about to terminate rather than gating inline.
	nodeOutcomes map[string]runtime.Outcome

	interviewer Interviewer
	llmClient   LLMClient
	toolRunner  ToolRunner
}

func (e *Engine) warn(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.warnings = append(e.warnings, msg)
}

// WarningsCopy returns a snapshot of warnings accumulated across all runs
// of this Engine.
func (e *Engine) WarningsCopy() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.warnings))
	copy(out, e.warnings)
	return out
}

// Run executes the graph from its unique start node (or resumes from a
// checkpoint) until it reaches an exit node, a goal-gate abort, or ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	if err := validate.ValidateOrError(e.Graph, validate.NewTypeKnownRule(e.Registry.KnownTypes())); err != nil {
		return nil, err
	}
	if opts.PromptDir != "" {
		if err := ResolvePromptFiles(e.Graph, opts.PromptDir); err != nil {
			return nil, err
		}
	}

	rs, err := e.initRunState(opts)
	if err != nil {
		return nil, err
	}

	if e.Metrics != nil {
		e.Metrics.PipelinesInFlight.Inc()
		defer e.Metrics.PipelinesInFlight.Dec()
	}

	e.Emitter.Emit(events.Event{Type: events.PipelineStarted, RunID: rs.runID, Timestamp: time.Now(), NodeID: rs.currentNode})

	for {
		select {
		case <-ctx.Done():
			e.Emitter.Emit(events.Event{Type: events.PipelineCancelled, RunID: rs.runID, Timestamp: time.Now()})
			e.Emitter.Emit(events.Event{Type: events.PipelineFailed, RunID: rs.runID, Timestamp: time.Now(), Fields: map[string]any{"reason": "cancelled"}})
			return &Result{RunID: rs.runID, Status: runtime.FinalFail, FailureReason: "cancelled: " + ctx.Err().Error(), Context: rs.context, Visited: rs.visited, Warnings: e.WarningsCopy()}, nil
		default:
		}

		n := e.Graph.Nodes[rs.currentNode]
		if n == nil {
			e.Emitter.Emit(events.Event{Type: events.PipelineFailed, RunID: rs.runID, Timestamp: time.Now(), Fields: map[string]any{"reason": "missing node"}})
			return nil, fmt.Errorf("engine: current node %q no longer exists in graph", rs.currentNode)
		}

		handlerType := ResolveType(n)
		if handlerType == "exit" {
			redirect, failureReason := e.checkGoalGates(rs)
			if redirect != "" {
				rs.currentNode = redirect
				rs.visited = append(rs.visited, redirect)
				if err := e.writeCheckpoint(rs); err != nil {
					return nil, err
				}
				continue
			}
			if failureReason != "" {
				e.Emitter.Emit(events.Event{Type: events.GoalGateFailed, RunID: rs.runID, NodeID: n.ID, Timestamp: time.Now(), Fields: map[string]any{"reason": failureReason}})
				e.Emitter.Emit(events.Event{Type: events.PipelineFailed, RunID: rs.runID, NodeID: n.ID, Timestamp: time.Now(), Fields: map[string]any{"reason": failureReason}})
				return &Result{RunID: rs.runID, Status: runtime.FinalFail, FailureReason: failureReason, Context: rs.context, Visited: rs.visited, Warnings: e.WarningsCopy()}, nil
			}
			e.Emitter.Emit(events.Event{Type: events.PipelineCompleted, RunID: rs.runID, NodeID: n.ID, Timestamp: time.Now(), Fields: map[string]any{"status": "success"}})
			return &Result{RunID: rs.runID, Status: runtime.FinalSuccess, Context: rs.context, Visited: rs.visited, Warnings: e.WarningsCopy()}, nil
		}

		outcome, err := e.executeWithRetry(ctx, rs, n, handlerType)
		if err != nil {
			e.Emitter.Emit(events.Event{Type: events.PipelineFailed, RunID: rs.runID, NodeID: n.ID, Timestamp: time.Now(), Fields: map[string]any{"reason": err.Error()}})
			return nil, err
		}
		rs.nodeOutcomes[n.ID] = outcome

		next, err := selectNextEdge(e.Graph, n.ID, outcome, rs.context)
		if err != nil {
			e.Emitter.Emit(events.Event{Type: events.PipelineFailed, RunID: rs.runID, NodeID: n.ID, Timestamp: time.Now(), Fields: map[string]any{"reason": err.Error()}})
			return nil, err
		}
		rs.currentNode = next.To
		rs.visited = append(rs.visited, next.To)
		if err := e.writeCheckpoint(rs); err != nil {
			return nil, err
		}
	}
}

func (e *Engine) initRunState(opts RunOptions) (*runState, error) {
	runID := opts.RunID
	if runID == "" && opts.Resume && opts.LogsRoot != "" {
		// With no RunID, resume the most recent run under LogsRoot: Glob
		// returns names in lexical order and ULIDs sort by creation time.
		matches, _ := filepath.Glob(filepath.Join(opts.LogsRoot, "run_*", "checkpoint.json"))
		if len(matches) > 0 {
			runID = filepath.Base(filepath.Dir(matches[len(matches)-1]))[len("run_"):]
		}
	}
	if runID == "" {
		runID = ulid.Make().String()
	}
	runDir := ""
	if opts.LogsRoot != "" {
		runDir = filepath.Join(opts.LogsRoot, "run_"+runID)
	}

	if opts.Resume && runDir != "" {
		cp, err := runtime.LoadCheckpoint(filepath.Join(runDir, "checkpoint.json"))
		if err != nil {
			return nil, fmt.Errorf("engine: resume: %w", err)
		}
		rc := runtime.NewContext()
		rc.Restore(cp.ContextSnapshot)
		return &runState{
			runID:        cp.RunID,
			runDir:       runDir,
			currentNode:  cp.CurrentNodeID,
			retryCounts:  cp.RetryCounts,
			visited:      cp.Visited,
			gateFailures: map[string]int{},
			context:      rc,
			startTime:    cp.Timestamp,
			nodeOutcomes: map[string]runtime.Outcome{},
			interviewer:  opts.Interviewer,
			llmClient:    opts.LLMClient,
			toolRunner:   opts.ToolRunner,
		}, nil
	}

	start := findStartNodeID(e.Graph)
	if start == "" {
		return nil, fmt.Errorf("engine: graph has no start node")
	}
	return &runState{
		runID:        runID,
		runDir:       runDir,
		currentNode:  start,
		retryCounts:  map[string]int{},
		visited:      []string{start},
		gateFailures: map[string]int{},
		context:      runtime.NewContextWithGraphAttrs(e.Graph.Attrs),
		startTime:    time.Now(),
		nodeOutcomes: map[string]runtime.Outcome{},
		interviewer:  opts.Interviewer,
		llmClient:    opts.LLMClient,
		toolRunner:   opts.ToolRunner,
	}, nil
}

func findStartNodeID(g *model.Graph) string {
	for id, n := range g.Nodes {
		if n != nil && n.Shape() == "Mdiamond" {
			return id
		}
	}
	return ""
}

// executeWithRetry runs a node's handler, retrying on StatusFail and
// StatusRetry outcomes up to the node's max_retries, backing off deterministically between
// attempts.
func (e *Engine) executeWithRetry(ctx context.Context, rs *runState, n *model.Node, handlerType string) (runtime.Outcome, error) {
	handler, ok := e.Registry.Lookup(handlerType)
	if !ok {
		return runtime.Outcome{}, fmt.Errorf("engine: no handler registered for type %q (node %q)", handlerType, n.ID)
	}

	hooks := Hooks{
		RunID:       rs.runID,
		Graph:       e.Graph,
		RunDir:      rs.runDir,
		Interviewer: rs.interviewer,
		LLMClient:   rs.llmClient,
		ToolRunner:  rs.toolRunner,
		Emit:        e.Emitter.Emit,
		RunBranch: func(ctx context.Context, startNodeID string, forked *runtime.Context) (runtime.Outcome, error) {
			return e.runBranch(ctx, rs, startNodeID, forked)
		},
	}

	attempt := rs.retryCounts[n.ID] + 1
	maxAttempts := n.MaxRetries() + 1

	for {
		nodeCtx := ctx
		var cancel context.CancelFunc
		if timeout := n.Timeout(); timeout > 0 {
			nodeCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		e.Emitter.Emit(events.Event{Type: events.StageStarted, RunID: rs.runID, NodeID: n.ID, Timestamp: time.Now(), Fields: map[string]any{"attempt": attempt}})
		start := time.Now()
		outcome, err := e.safeExecute(nodeCtx, handler, n, rs.context, hooks)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			return runtime.Outcome{}, err
		}
		outcome, canonErr := outcome.Canonicalize()
		if canonErr != nil {
			return runtime.Outcome{}, fmt.Errorf("engine: node %q returned invalid outcome: %w", n.ID, canonErr)
		}
		if verr := ValidateOutcomeSchema(n, outcome); verr != nil {
			e.warn(verr.Error())
		}

		if e.Metrics != nil {
			e.Metrics.StageDuration.WithLabelValues(n.ID, string(outcome.Status)).Observe(time.Since(start).Seconds())
		}
		stageEvent := events.StageCompleted
		if outcome.Status == runtime.StatusFail {
			stageEvent = events.StageFailed
		}
		e.Emitter.Emit(events.Event{Type: stageEvent, RunID: rs.runID, NodeID: n.ID, Timestamp: time.Now(), Fields: map[string]any{"status": string(outcome.Status), "attempt": attempt}})

		rs.context.SetAll(outcome.ContextUpdates)

		if (outcome.Status != runtime.StatusRetry && outcome.Status != runtime.StatusFail) || attempt >= maxAttempts {
			rs.retryCounts[n.ID] = attempt
			if rs.runDir != "" {
				if err := outcome.Save(filepath.Join(rs.runDir, n.ID, "status.json")); err != nil {
					e.warn(fmt.Sprintf("engine: writing status.json for node %q: %v", n.ID, err))
				}
			}
			return outcome, nil
		}

		if e.Metrics != nil {
			e.Metrics.StageRetries.WithLabelValues(n.ID).Inc()
		}
		delay := e.Backoff.Delay(attempt, RetrySeed(rs.runID, n.ID, attempt))
		e.Emitter.Emit(events.Event{Type: events.StageRetrying, RunID: rs.runID, NodeID: n.ID, Timestamp: time.Now(), Fields: map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds()}})
		select {
		case <-ctx.Done():
			return runtime.Outcome{}, ctx.Err()
		case <-time.After(delay):
		}
		attempt++
	}
}

// safeExecute recovers a panicking handler and converts it into a FAIL
// outcome, so a buggy or misbehaving handler can never unwind the engine
// loop.
func (e *Engine) safeExecute(ctx context.Context, h Handler, n *model.Node, rc *runtime.Context, hooks Hooks) (outcome runtime.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = runtime.Outcome{Status: runtime.StatusFail, FailureReason: fmt.Sprintf("handler panic: %v", r)}
			err = nil
		}
	}()
	return h.Execute(ctx, n, rc, hooks)
}

// checkGoalGates runs only when the engine is about to terminate at an
// exit node. It scans visited nodes, in visit order, for the first one
// marked goal_gate=true whose last recorded outcome didn't succeed. A
// redirect target (retry_target, falling back to fallback_retry_target)
// sends the run back instead of letting it exit; two consecutive failures
// of the same gate, or a gate with no target to redirect to, is fatal.
func (e *Engine) checkGoalGates(rs *runState) (redirect string, failureReason string) {
	for _, id := range rs.visited {
		n := e.Graph.Nodes[id]
		if n == nil || !n.GoalGate() {
			continue
		}
		outcome, ok := rs.nodeOutcomes[id]
		if !ok {
			continue
		}
		if outcome.Status == runtime.StatusSuccess || outcome.Status == runtime.StatusPartialSuccess {
			rs.gateFailures[id] = 0
			continue
		}
		rs.gateFailures[id]++
		if rs.gateFailures[id] >= 2 {
			return "", fmt.Sprintf("goal gate %q failed twice consecutively", id)
		}
		target := n.RetryTarget()
		if target == "" {
			target = n.FallbackRetryTarget()
		}
		if target == "" {
			return "", fmt.Sprintf("goal gate %q unmet with no retry target", id)
		}
		return target, ""
	}
	return "", ""
}

func (e *Engine) writeCheckpoint(rs *runState) error {
	if rs.runDir == "" {
		return nil
	}
	cp := &runtime.Checkpoint{
		GraphName:       e.Graph.Name,
		CurrentNodeID:   rs.currentNode,
		ContextSnapshot: rs.context.SnapshotValues(),
		RetryCounts:     rs.retryCounts,
		Visited:         rs.visited,
		RunID:           rs.runID,
		Timestamp:       time.Now(),
	}
	path := filepath.Join(rs.runDir, "checkpoint.json")
	if err := cp.Save(path); err != nil {
		return fmt.Errorf("engine: writing checkpoint: %w", err)
	}

	hash, err := cp.ContentHash()
	if err != nil {
		return fmt.Errorf("engine: hashing checkpoint: %w", err)
	}
	manifest := &runtime.Manifest{
		GraphName:      e.Graph.Name,
		Goal:           e.Graph.Attr("goal", e.Graph.Name),
		RunID:          rs.runID,
		StartTime:      rs.startTime,
		CheckpointHash: hash,
	}
	if err := manifest.Save(filepath.Join(rs.runDir, "manifest.json")); err != nil {
		return fmt.Errorf("engine: writing manifest: %w", err)
	}

	e.Emitter.Emit(events.Event{Type: events.CheckpointSaved, RunID: rs.runID, NodeID: rs.currentNode, Timestamp: time.Now()})
	return nil
}

// runBranch executes a forked sub-pipeline for the Parallel handler,
// starting at startNodeID and running to an exit node using the same
// handler registry and backoff policy as the parent run, but against an
// isolated context and without its own checkpointing (the parent records
// the merged result).
func (e *Engine) runBranch(ctx context.Context, parent *runState, startNodeID string, forked *runtime.Context) (runtime.Outcome, error) {
	n := e.Graph.Nodes[startNodeID]
	if n == nil {
		return runtime.Outcome{}, fmt.Errorf("engine: branch start node %q does not exist", startNodeID)
	}
	retryCounts := map[string]int{}
	current := startNodeID
	var last runtime.Outcome
	for {
		select {
		case <-ctx.Done():
			return runtime.Outcome{}, ctx.Err()
		default:
		}
		node := e.Graph.Nodes[current]
		if node == nil {
			return runtime.Outcome{}, fmt.Errorf("engine: branch node %q does not exist", current)
		}
		handlerType := ResolveType(node)
		if handlerType == "exit" {
			return last, nil
		}
		branchRS := &runState{runID: parent.runID, retryCounts: retryCounts, context: forked}
		outcome, err := e.executeWithRetry(ctx, branchRS, node, handlerType)
		if err != nil {
			return runtime.Outcome{}, err
		}
		last = outcome
		if outcome.Status == runtime.StatusFail {
			return outcome, nil
		}
		next, err := selectNextEdge(e.Graph, current, outcome, forked)
		if err != nil {
			return runtime.Outcome{}, err
		}
		current = next.To
	}
}
