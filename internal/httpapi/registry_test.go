package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anishkny/attractor/internal/attractor/engine"
	"github.com/anishkny/attractor/internal/attractor/events"
	"github.com/anishkny/attractor/internal/attractor/runtime"
)

func TestPipelineRegistryRegisterRejectsDuplicateID(t *testing.T) {
	r := NewPipelineRegistry()
	ps := &PipelineState{RunID: "run-1"}
	if err := r.Register("run-1", ps); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("run-1", ps); err == nil {
		t.Error("expected a duplicate registration to error")
	}
}

func TestPipelineRegistryGetAndList(t *testing.T) {
	r := NewPipelineRegistry()
	_ = r.Register("run-1", &PipelineState{RunID: "run-1"})
	_ = r.Register("run-2", &PipelineState{RunID: "run-2"})

	if _, ok := r.Get("missing"); ok {
		t.Error("expected Get of an unknown id to return false")
	}
	ps, ok := r.Get("run-1")
	if !ok || ps.RunID != "run-1" {
		t.Errorf("Get(run-1) = %+v, %v", ps, ok)
	}

	ids := r.List()
	if len(ids) != 2 {
		t.Fatalf("List() = %v, want 2 entries", ids)
	}
}

func TestPipelineRegistryCancelAllCancelsEveryPipeline(t *testing.T) {
	r := NewPipelineRegistry()
	_, cancel1 := context.WithCancel(context.Background())
	_, cancel2 := context.WithCancel(context.Background())
	canceled1, canceled2 := false, false
	ps1 := &PipelineState{RunID: "run-1", Cancel: func() { canceled1 = true; cancel1() }, Interviewer: NewWebInterviewer(time.Minute)}
	ps2 := &PipelineState{RunID: "run-2", Cancel: func() { canceled2 = true; cancel2() }, Interviewer: NewWebInterviewer(time.Minute)}
	_ = r.Register("run-1", ps1)
	_ = r.Register("run-2", ps2)

	r.CancelAll()

	if !canceled1 || !canceled2 {
		t.Errorf("canceled1=%v canceled2=%v, want both true", canceled1, canceled2)
	}
	select {
	case <-ps1.Interviewer.cancelCh:
	default:
		t.Error("expected ps1's interviewer to be cancelled too")
	}
}

func TestPipelineStateStatusRunning(t *testing.T) {
	ps := &PipelineState{RunID: "run-1", Broadcaster: NewBroadcaster()}
	st := ps.Status()
	if st.State != "running" {
		t.Errorf("State = %q, want running", st.State)
	}
}

func TestPipelineStateStatusReflectsEngineError(t *testing.T) {
	ps := &PipelineState{RunID: "run-1"}
	ps.SetResult(nil, errors.New("boom"))

	st := ps.Status()
	if st.State != string(runtime.FinalFail) {
		t.Errorf("State = %q, want %q", st.State, runtime.FinalFail)
	}
	if st.FailureReason != "boom" {
		t.Errorf("FailureReason = %q", st.FailureReason)
	}
}

func TestPipelineStateStatusReflectsSuccessfulResult(t *testing.T) {
	ps := &PipelineState{RunID: "run-1"}
	ps.SetResult(&engine.Result{Status: runtime.FinalSuccess, Warnings: []string{"w1"}}, nil)

	st := ps.Status()
	if st.State != string(runtime.FinalSuccess) {
		t.Errorf("State = %q, want %q", st.State, runtime.FinalSuccess)
	}
	if len(st.Warnings) != 1 || st.Warnings[0] != "w1" {
		t.Errorf("Warnings = %v", st.Warnings)
	}
}

func TestPipelineStateStatusReportsLastEventWhileRunning(t *testing.T) {
	b := NewBroadcaster()
	b.send(events.Event{Type: events.StageStarted, NodeID: "work", Timestamp: time.Now().UTC()})
	b.send(events.Event{Type: events.StageCompleted, NodeID: "work", Timestamp: time.Now().UTC()})

	ps := &PipelineState{RunID: "run-1", Broadcaster: b}
	st := ps.Status()
	if st.CurrentNodeID != "work" {
		t.Errorf("CurrentNodeID = %q, want work", st.CurrentNodeID)
	}
	if st.LastEvent != string(events.StageCompleted) {
		t.Errorf("LastEvent = %q, want %q", st.LastEvent, events.StageCompleted)
	}
	if st.LastEventAt == nil {
		t.Error("expected LastEventAt to be set")
	}
}

func TestPipelineStateContextValuesEmptyBeforeCompletion(t *testing.T) {
	ps := &PipelineState{RunID: "run-1"}
	vals := ps.ContextValues()
	if len(vals) != 0 {
		t.Errorf("ContextValues() = %v, want empty", vals)
	}
}

func TestPipelineStateContextValuesAfterCompletion(t *testing.T) {
	rc := runtime.NewContext()
	rc.Set("owner", "alice")
	ps := &PipelineState{RunID: "run-1"}
	ps.SetResult(&engine.Result{Status: runtime.FinalSuccess, Context: rc}, nil)

	vals := ps.ContextValues()
	if vals["owner"] != "alice" {
		t.Errorf("ContextValues() = %v, want owner=alice", vals)
	}
}
