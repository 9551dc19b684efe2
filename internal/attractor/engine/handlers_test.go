package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anishkny/attractor/internal/attractor/events"
	"github.com/anishkny/attractor/internal/attractor/model"
	"github.com/anishkny/attractor/internal/attractor/runtime"
)

func TestResolveTypeUsesExplicitOverride(t *testing.T) {
	n := model.NewNode("a")
	n.Attrs["shape"] = "box"
	n.Attrs["type"] = "tool"
	if got := ResolveType(n); got != "tool" {
		t.Errorf("ResolveType() = %q, want tool", got)
	}
}

func TestResolveTypeFallsBackToShape(t *testing.T) {
	cases := map[string]string{
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
	for shape, want := range cases {
		n := model.NewNode("a")
		n.Attrs["shape"] = shape
		if got := ResolveType(n); got != want {
			t.Errorf("ResolveType(shape=%s) = %q, want %q", shape, got, want)
		}
	}
}

func TestResolveTypeUnknownShapeDefaultsToCodergen(t *testing.T) {
	n := model.NewNode("a")
	n.Attrs["shape"] = "triangle"
	if got := ResolveType(n); got != "codergen" {
		t.Errorf("ResolveType() = %q, want codergen", got)
	}
}

func TestHandlerRegistryKnownTypes(t *testing.T) {
	r := NewHandlerRegistry()
	known := r.KnownTypes()
	want := []string{"start", "exit", "codergen", "conditional", "tool", "wait_human", "parallel", "fan_in", "manager_loop"}
	if len(known) != len(want) {
		t.Fatalf("KnownTypes() = %v, want %d entries", known, len(want))
	}
	set := map[string]bool{}
	for _, typ := range known {
		set[typ] = true
	}
	for _, w := range want {
		if !set[w] {
			t.Errorf("KnownTypes() missing %q", w)
		}
	}
}

func TestHandlerRegistryLookup(t *testing.T) {
	r := NewHandlerRegistry()
	if _, ok := r.Lookup("codergen"); !ok {
		t.Error("expected codergen handler to be registered")
	}
	if _, ok := r.Lookup("nonexistent"); ok {
		t.Error("did not expect a handler for an unregistered type")
	}
}

type fakeLLMClient struct {
	response string
	err      error
	gotPrompt string
}

func (f *fakeLLMClient) Complete(_ context.Context, prompt, _, _, _ string) (string, error) {
	f.gotPrompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestCodergenHandlerExpandsVariablesAndParsesOutcome(t *testing.T) {
	n := model.NewNode("gen")
	n.Attrs["prompt"] = "goal is $goal, owner is $context.owner"
	n.Attrs["goal"] = "ship it"
	rc := runtime.NewContext()
	rc.Set("owner", "alice")

	llm := &fakeLLMClient{response: "did the work\noutcome=partial_success"}
	out, err := CodergenHandler{}.Execute(context.Background(), n, rc, Hooks{LLMClient: llm})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if llm.gotPrompt != "goal is ship it, owner is alice" {
		t.Errorf("expanded prompt = %q", llm.gotPrompt)
	}
	if out.Status != runtime.StatusPartialSuccess {
		t.Errorf("Status = %q, want partial_success", out.Status)
	}
}

func TestCodergenHandlerNoClientConfigured(t *testing.T) {
	n := model.NewNode("gen")
	out, err := CodergenHandler{}.Execute(context.Background(), n, runtime.NewContext(), Hooks{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Status != runtime.StatusFail {
		t.Errorf("Status = %q, want fail when no LLMClient is configured", out.Status)
	}
}

func TestCodergenHandlerLLMErrorBecomesFailOutcome(t *testing.T) {
	n := model.NewNode("gen")
	n.Attrs["prompt"] = "go"
	llm := &fakeLLMClient{err: errors.New("rate limited")}
	out, err := CodergenHandler{}.Execute(context.Background(), n, runtime.NewContext(), Hooks{LLMClient: llm})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Status != runtime.StatusFail || out.FailureReason == "" {
		t.Errorf("out = %+v, want a fail outcome with failure_reason set", out)
	}
}

type fakeToolRunner struct {
	stdout   string
	exitCode int
	err      error
	gotCmd   string
	gotArgs  []string
	gotCwd   string
}

func (f *fakeToolRunner) Run(_ context.Context, command string, args []string, cwd string, _ time.Duration) (string, int, error) {
	f.gotCmd = command
	f.gotArgs = args
	f.gotCwd = cwd
	return f.stdout, f.exitCode, f.err
}

func TestToolHandlerRunsExpandedCommand(t *testing.T) {
	n := model.NewNode("tool")
	n.Attrs["command"] = "echo"
	n.Attrs["args"] = "$context.msg"
	n.Attrs["cwd"] = "/tmp"
	rc := runtime.NewContext()
	rc.Set("msg", "hello")

	runner := &fakeToolRunner{stdout: "hello\n", exitCode: 0}
	out, err := ToolHandler{}.Execute(context.Background(), n, rc, Hooks{ToolRunner: runner})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if runner.gotCmd != "echo" {
		t.Errorf("gotCmd = %q, want echo", runner.gotCmd)
	}
	if len(runner.gotArgs) != 1 || runner.gotArgs[0] != "hello" {
		t.Errorf("gotArgs = %v, want expanded [hello]", runner.gotArgs)
	}
	if runner.gotCwd != "/tmp" {
		t.Errorf("gotCwd = %q, want /tmp", runner.gotCwd)
	}
	if out.Status != runtime.StatusSuccess {
		t.Errorf("Status = %q, want success", out.Status)
	}
	if out.Notes != "hello\n" {
		t.Errorf("Notes = %q, want stdout", out.Notes)
	}
}

func TestToolHandlerStoresStdoutUnderContextKey(t *testing.T) {
	n := model.NewNode("tool")
	n.Attrs["command"] = "echo"
	n.Attrs["store"] = "tool_result"

	runner := &fakeToolRunner{stdout: "42\n", exitCode: 0}
	out, err := ToolHandler{}.Execute(context.Background(), n, runtime.NewContext(), Hooks{ToolRunner: runner})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.ContextUpdates["tool_result"] != "42\n" {
		t.Errorf("tool_result context update = %v", out.ContextUpdates["tool_result"])
	}
}

func TestToolHandlerMissingCommand(t *testing.T) {
	n := model.NewNode("tool")
	out, err := ToolHandler{}.Execute(context.Background(), n, runtime.NewContext(), Hooks{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Status != runtime.StatusFail {
		t.Errorf("Status = %q, want fail for a tool node with no command", out.Status)
	}
}

func TestToolHandlerNonZeroExitIsFailure(t *testing.T) {
	n := model.NewNode("tool")
	n.Attrs["command"] = "false"
	runner := &fakeToolRunner{exitCode: 1, err: errors.New("exit status 1")}
	out, err := ToolHandler{}.Execute(context.Background(), n, runtime.NewContext(), Hooks{ToolRunner: runner})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Status != runtime.StatusFail {
		t.Errorf("Status = %q, want fail", out.Status)
	}
}

func newWaitHumanGraph(t *testing.T, labels ...string) (*model.Graph, *model.Node) {
	t.Helper()
	g := model.NewGraph("g")
	n := model.NewNode("wait")
	n.Attrs["prompt"] = "approve?"
	if err := g.AddNode(n); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	for i, label := range labels {
		to := "target" + string(rune('a'+i))
		if err := g.AddNode(model.NewNode(to)); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		e := model.NewEdge("wait", to)
		e.Attrs["label"] = label
		if err := g.AddEdge(e); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
	}
	return g, n
}

func TestWaitHumanHandlerUsesAutoApproveByDefault(t *testing.T) {
	g, n := newWaitHumanGraph(t, "yes", "no")
	out, err := WaitHumanHandler{}.Execute(context.Background(), n, runtime.NewContext(), Hooks{Graph: g})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.PreferredLabel != "yes" {
		t.Errorf("PreferredLabel = %q, want the first option", out.PreferredLabel)
	}
	if out.ContextUpdates["human_answer"] != "yes" {
		t.Errorf("human_answer context update = %v", out.ContextUpdates["human_answer"])
	}
}

func TestWaitHumanHandlerDerivesAcceleratorFromEdgeLabel(t *testing.T) {
	g, n := newWaitHumanGraph(t, "&Yes", "&No")
	out, err := WaitHumanHandler{}.Execute(context.Background(), n, runtime.NewContext(), Hooks{Graph: g})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.PreferredLabel != "Yes" {
		t.Errorf("PreferredLabel = %q, want Yes (accelerator stripped)", out.PreferredLabel)
	}
}

func TestWaitHumanHandlerFailsWithNoOutgoingEdges(t *testing.T) {
	g, n := newWaitHumanGraph(t)
	out, err := WaitHumanHandler{}.Execute(context.Background(), n, runtime.NewContext(), Hooks{Graph: g})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Status != runtime.StatusFail {
		t.Errorf("Status = %q, want fail when there are no outgoing edges to offer as choices", out.Status)
	}
}

func TestWaitHumanHandlerEmitsInterviewEvents(t *testing.T) {
	g, n := newWaitHumanGraph(t, "yes", "no")
	var types []string
	_, err := WaitHumanHandler{}.Execute(context.Background(), n, runtime.NewContext(), Hooks{
		Graph: g,
		Emit:  func(ev events.Event) { types = append(types, string(ev.Type)) },
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(types) != 2 || types[0] != string(events.InterviewStarted) || types[1] != string(events.InterviewCompleted) {
		t.Errorf("emitted event types = %v, want [interview_started interview_completed]", types)
	}
}

func TestManagerLoopHandlerMissingChildDotfileFails(t *testing.T) {
	n := model.NewNode("loop")
	out, err := ManagerLoopHandler{}.Execute(context.Background(), n, runtime.NewContext(), Hooks{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Status != runtime.StatusFail {
		t.Errorf("Status = %q, want fail for a manager_loop node with no child_dotfile", out.Status)
	}
}

func TestIngestChildTelemetryReadsLatestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "run_001")
	newer := filepath.Join(dir, "run_002")
	if err := os.MkdirAll(older, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.MkdirAll(newer, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	oldCp := &runtime.Checkpoint{CurrentNodeID: "stale", Visited: []string{"a"}}
	if err := oldCp.Save(filepath.Join(older, "checkpoint.json")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	newCp := &runtime.Checkpoint{CurrentNodeID: "fresh", Visited: []string{"a", "b", "c"}}
	if err := newCp.Save(filepath.Join(newer, "checkpoint.json")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rc := runtime.NewContext()
	ingestChildTelemetry(rc, dir)

	snap := rc.SnapshotValues()
	if snap["manager_child_current_node"] != "fresh" {
		t.Errorf("manager_child_current_node = %v, want fresh", snap["manager_child_current_node"])
	}
	if snap["manager_child_visited_count"] != 3 {
		t.Errorf("manager_child_visited_count = %v, want 3", snap["manager_child_visited_count"])
	}
}

func TestIngestChildTelemetryNoRunsIsNoop(t *testing.T) {
	rc := runtime.NewContext()
	ingestChildTelemetry(rc, t.TempDir())
	if len(rc.SnapshotValues()) != 0 {
		t.Errorf("expected no context updates when no run directories exist")
	}
}

func TestFanInHandlerIsPassThrough(t *testing.T) {
	out, err := FanInHandler{}.Execute(context.Background(), model.NewNode("fi"), runtime.NewContext(), Hooks{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Status != runtime.StatusSuccess {
		t.Errorf("Status = %q, want success", out.Status)
	}
}

func newParallelGraph(t *testing.T, branchIDs ...string) *model.Graph {
	t.Helper()
	g := model.NewGraph("g")
	n := model.NewNode("par")
	if err := g.AddNode(n); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	for _, id := range branchIDs {
		if err := g.AddNode(model.NewNode(id)); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		if err := g.AddEdge(model.NewEdge("par", id)); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
	}
	return g
}

func TestParallelHandlerWaitAllMergesNamespacedContext(t *testing.T) {
	g := newParallelGraph(t, "b1", "b2")
	n := g.Nodes["par"]

	runBranch := func(_ context.Context, branchID string, _ *runtime.Context) (runtime.Outcome, error) {
		return runtime.Outcome{Status: runtime.StatusSuccess, ContextUpdates: map[string]any{"result": branchID + "-done"}}, nil
	}

	out, err := ParallelHandler{}.Execute(context.Background(), n, runtime.NewContext(), Hooks{Graph: g, RunBranch: runBranch})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Status != runtime.StatusSuccess {
		t.Errorf("Status = %q, want success", out.Status)
	}
	if out.ContextUpdates["b1.result"] != "b1-done" || out.ContextUpdates["b2.result"] != "b2-done" {
		t.Errorf("ContextUpdates = %v", out.ContextUpdates)
	}
}

func TestParallelHandlerFailFastFailsOnAnyBranchFailure(t *testing.T) {
	g := newParallelGraph(t, "b1", "b2")
	n := g.Nodes["par"]
	n.Attrs["error_policy"] = "fail_fast"

	runBranch := func(_ context.Context, branchID string, _ *runtime.Context) (runtime.Outcome, error) {
		if branchID == "b2" {
			return runtime.Outcome{Status: runtime.StatusFail, FailureReason: "boom"}, nil
		}
		return runtime.Outcome{Status: runtime.StatusSuccess}, nil
	}

	out, err := ParallelHandler{}.Execute(context.Background(), n, runtime.NewContext(), Hooks{Graph: g, RunBranch: runBranch})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Status != runtime.StatusFail {
		t.Errorf("Status = %q, want fail", out.Status)
	}
}

func TestParallelHandlerIgnoreErrorPolicyToleratesFailure(t *testing.T) {
	g := newParallelGraph(t, "b1", "b2")
	n := g.Nodes["par"]
	n.Attrs["error_policy"] = "ignore"

	runBranch := func(_ context.Context, branchID string, _ *runtime.Context) (runtime.Outcome, error) {
		if branchID == "b2" {
			return runtime.Outcome{Status: runtime.StatusFail, FailureReason: "boom"}, nil
		}
		return runtime.Outcome{Status: runtime.StatusSuccess}, nil
	}

	out, err := ParallelHandler{}.Execute(context.Background(), n, runtime.NewContext(), Hooks{Graph: g, RunBranch: runBranch})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Status != runtime.StatusSuccess {
		t.Errorf("Status = %q, want success when error_policy=ignore", out.Status)
	}
}

func TestParallelHandlerFirstSuccessJoinSucceedsOnFirstSuccess(t *testing.T) {
	g := newParallelGraph(t, "b1", "b2")
	n := g.Nodes["par"]
	n.Attrs["join_policy"] = "first_success"

	runBranch := func(_ context.Context, branchID string, _ *runtime.Context) (runtime.Outcome, error) {
		return runtime.Outcome{Status: runtime.StatusSuccess, ContextUpdates: map[string]any{"x": 1}}, nil
	}

	out, err := ParallelHandler{}.Execute(context.Background(), n, runtime.NewContext(), Hooks{Graph: g, RunBranch: runBranch})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Status != runtime.StatusSuccess {
		t.Errorf("Status = %q, want success", out.Status)
	}
}

func TestParallelHandlerNoOutgoingEdges(t *testing.T) {
	g := newParallelGraph(t)
	n := g.Nodes["par"]
	out, err := ParallelHandler{}.Execute(context.Background(), n, runtime.NewContext(), Hooks{Graph: g, RunBranch: func(context.Context, string, *runtime.Context) (runtime.Outcome, error) {
		return runtime.Outcome{}, nil
	}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Status != runtime.StatusFail {
		t.Errorf("Status = %q, want fail when there are no outgoing edges to branch into", out.Status)
	}
}

func TestParallelHandlerNoRunBranchConfigured(t *testing.T) {
	g := newParallelGraph(t, "b1")
	n := g.Nodes["par"]
	out, err := ParallelHandler{}.Execute(context.Background(), n, runtime.NewContext(), Hooks{Graph: g})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Status != runtime.StatusFail {
		t.Errorf("Status = %q, want fail when no branch runner is configured", out.Status)
	}
}
