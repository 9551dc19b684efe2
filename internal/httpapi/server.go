// Package httpapi exposes a running attractor engine over HTTP: submit a
// pipeline, poll its status, stream its event log over SSE, answer
// wait-for-human questions, and cancel it. It is a transport shell only —
// it carries no LLM client or tool runner of its own, those are supplied by
// the process embedding it.
package httpapi

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anishkny/attractor/internal/attractor/engine"
)

// Config holds server configuration.
type Config struct {
	Addr string // listen address, e.g. ":8080"
}

// Server is the HTTP front-end for submitting and observing pipeline runs.
type Server struct {
	config    Config
	registry  *PipelineRegistry
	baseCtx   context.Context
	cancel    context.CancelFunc
	httpSrv   *http.Server
	logger    *log.Logger
	registerr *engine.HandlerRegistry
	promReg   *prometheus.Registry
	metrics   *engine.Metrics
	llmClient engine.LLMClient
	toolRun   engine.ToolRunner
	promptDir string
	logsRoot  string
}

// New creates a Server. handlers/llmClient/toolRunner may be nil to fall
// back to the engine's built-in defaults.
func New(cfg Config, handlers *engine.HandlerRegistry, llmClient engine.LLMClient, toolRunner engine.ToolRunner, promptDir, logsRoot string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	promReg := prometheus.NewRegistry()
	s := &Server{
		config:    cfg,
		registry:  NewPipelineRegistry(),
		baseCtx:   ctx,
		cancel:    cancel,
		logger:    log.New(os.Stderr, "[attractor-http] ", log.LstdFlags),
		registerr: handlers,
		promReg:   promReg,
		metrics:   engine.NewMetrics(promReg),
		llmClient: llmClient,
		toolRun:   toolRunner,
		promptDir: promptDir,
		logsRoot:  logsRoot,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	r.Post("/pipelines", s.handleSubmitPipeline)
	r.Get("/pipelines/{id}", s.handleGetPipeline)
	r.Get("/pipelines/{id}/events", s.handlePipelineEvents)
	r.Post("/pipelines/{id}/cancel", s.handleCancelPipeline)
	r.Get("/pipelines/{id}/context", s.handleGetContext)
	r.Get("/pipelines/{id}/questions", s.handleGetQuestions)
	r.Post("/pipelines/{id}/questions/{qid}/answer", s.handleAnswerQuestion)

	s.httpSrv = &http.Server{
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE needs no write deadline
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s
}

// ListenAndServe starts the server and blocks until it stops.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("listening on %s", s.config.Addr)
	s.httpSrv.Addr = s.config.Addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server and cancels every running pipeline.
func (s *Server) Shutdown() {
	s.registry.CancelAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)
	s.cancel()
}

func (s *Server) handlers() *engine.HandlerRegistry {
	if s.registerr != nil {
		return s.registerr
	}
	return engine.NewHandlerRegistry()
}
