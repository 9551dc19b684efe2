package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/anishkny/attractor/internal/attractor/dot"
	"github.com/anishkny/attractor/internal/attractor/engine"
)

// validRunID matches ULIDs and other safe identifiers: alphanumeric plus
// dash/underscore, 1-128 chars.
var validRunID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,127}$`)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"pipelines": len(s.registry.List()),
	})
}

func (s *Server) handleSubmitPipeline(w http.ResponseWriter, r *http.Request) {
	var req SubmitPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.DotSource == "" && req.DotSourcePath == "" {
		writeError(w, http.StatusBadRequest, "dot_source or dot_source_path is required")
		return
	}
	if req.DotSource != "" && req.DotSourcePath != "" {
		writeError(w, http.StatusBadRequest, "provide dot_source or dot_source_path, not both")
		return
	}

	var dotSource []byte
	if req.DotSource != "" {
		dotSource = []byte(req.DotSource)
	} else {
		b, err := os.ReadFile(req.DotSourcePath)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot read dot file: %v", err))
			return
		}
		dotSource = b
	}

	graph, err := dot.Parse(dotSource)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse error: %v", err))
		return
	}

	// Pipeline IDs submitted over HTTP are uuids, distinct from the ulid
	// engine.Run generates internally when no RunID is supplied at all
	// (e.g. from the CLI).
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	if !validRunID.MatchString(runID) {
		writeError(w, http.StatusBadRequest, "run_id must be alphanumeric with dashes/underscores, 1-128 chars")
		return
	}

	broadcaster := NewBroadcaster()
	interviewer := NewWebInterviewer(0)
	ctx, cancel := context.WithCancel(s.baseCtx)

	ps := &PipelineState{
		RunID:       runID,
		Broadcaster: broadcaster,
		Interviewer: interviewer,
		Cancel:      cancel,
		StartedAt:   time.Now().UTC(),
	}
	if err := s.registry.Register(runID, ps); err != nil {
		cancel()
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	eng := engine.New(graph, s.handlers(), engine.DefaultBackoffPolicy())
	eng.Metrics = s.metrics
	eng.Emitter.Subscribe(broadcaster.Observer())

	go func() {
		defer broadcaster.Close()
		res, err := eng.Run(ctx, engine.RunOptions{
			RunID:       runID,
			LogsRoot:    s.logsRoot,
			PromptDir:   s.promptDir,
			Interviewer: interviewer,
			LLMClient:   s.llmClient,
			ToolRunner:  s.toolRun,
		})
		ps.SetResult(res, err)
	}()

	writeJSON(w, http.StatusAccepted, SubmitPipelineResponse{ID: runID, Status: "accepted"})
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ps.Status())
}

func (s *Server) handlePipelineEvents(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.lookup(w, r)
	if !ok {
		return
	}
	WriteSSE(w, r, ps.Broadcaster)
}

func (s *Server) handleCancelPipeline(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ps.Cancel()
	ps.Interviewer.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "canceling"})
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ps.ContextValues())
}

func (s *Server) handleGetQuestions(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ps.Interviewer.Pending())
}

func (s *Server) handleAnswerQuestion(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.lookup(w, r)
	if !ok {
		return
	}
	qid := chi.URLParam(r, "qid")
	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if !ps.Interviewer.Answer(qid, engine.Answer{Value: req.Value}) {
		writeError(w, http.StatusNotFound, "question not found or already answered")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "answered"})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*PipelineState, bool) {
	id := chi.URLParam(r, "id")
	ps, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("pipeline %s not found", id))
		return nil, false
	}
	return ps, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
