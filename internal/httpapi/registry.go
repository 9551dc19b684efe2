package httpapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anishkny/attractor/internal/attractor/engine"
	"github.com/anishkny/attractor/internal/attractor/runtime"
)

// PipelineState tracks one submitted run, live or finished.
type PipelineState struct {
	RunID       string
	Broadcaster *Broadcaster
	Interviewer *WebInterviewer
	Cancel      context.CancelFunc
	StartedAt   time.Time

	mu     sync.Mutex
	result *engine.Result
	err    error
	done   bool
}

// SetResult records a run's terminal outcome.
func (ps *PipelineState) SetResult(res *engine.Result, err error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.result = res
	ps.err = err
	ps.done = true
}

// Status renders the pipeline's current state for GET /pipelines/{id}.
func (ps *PipelineState) Status() PipelineStatus {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	status := PipelineStatus{RunID: ps.RunID, State: "running"}
	if ps.done {
		if ps.err != nil {
			status.State = string(runtime.FinalFail)
			status.FailureReason = ps.err.Error()
		} else if ps.result != nil {
			status.State = string(ps.result.Status)
			status.FailureReason = ps.result.FailureReason
			status.Warnings = ps.result.Warnings
		}
	}

	if !ps.done && ps.Broadcaster != nil {
		history := ps.Broadcaster.history
		for i := len(history) - 1; i >= 0; i-- {
			ev := history[i]
			if ev.NodeID != "" {
				status.CurrentNodeID = ev.NodeID
				break
			}
		}
		if len(history) > 0 {
			last := history[len(history)-1]
			status.LastEvent = string(last.Type)
			ts := last.Timestamp
			status.LastEventAt = &ts
		}
	}
	return status
}

// ContextValues returns the run's latest known context snapshot, or an
// empty map if the run hasn't produced one yet.
func (ps *PipelineState) ContextValues() map[string]any {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.result != nil && ps.result.Context != nil {
		return ps.result.Context.SnapshotValues()
	}
	return map[string]any{}
}

// PipelineRegistry tracks every pipeline this server instance has started.
type PipelineRegistry struct {
	mu        sync.RWMutex
	pipelines map[string]*PipelineState
}

func NewPipelineRegistry() *PipelineRegistry {
	return &PipelineRegistry{pipelines: make(map[string]*PipelineState)}
}

func (r *PipelineRegistry) Register(runID string, ps *PipelineState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pipelines[runID]; exists {
		return fmt.Errorf("pipeline %s already exists", runID)
	}
	r.pipelines[runID] = ps
	return nil
}

func (r *PipelineRegistry) Get(runID string) (*PipelineState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.pipelines[runID]
	return ps, ok
}

func (r *PipelineRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.pipelines))
	for id := range r.pipelines {
		ids = append(ids, id)
	}
	return ids
}

// CancelAll cancels every still-running pipeline, e.g. on server shutdown.
func (r *PipelineRegistry) CancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ps := range r.pipelines {
		if ps.Cancel != nil {
			ps.Cancel()
		}
		if ps.Interviewer != nil {
			ps.Interviewer.Cancel()
		}
	}
}
