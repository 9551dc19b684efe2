package httpapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anishkny/attractor/internal/attractor/engine"
)

// WebInterviewer satisfies engine.Interviewer by parking questions until an
// HTTP client answers them, via POST /pipelines/{id}/questions/{qid}/answer.
// The engine goroutine running Ask blocks until an answer is posted or the
// timeout expires. Multiple questions can be pending concurrently when
// parallel branches each hit a wait_human node at once.
type WebInterviewer struct {
	mu       sync.Mutex
	pending  map[string]*pendingQuestion
	timeout  time.Duration
	qidSeq   uint64
	cancelCh chan struct{}
}

type pendingQuestion struct {
	id       string
	question engine.Question
	askedAt  time.Time
	answerCh chan engine.Answer
}

// NewWebInterviewer creates a WebInterviewer with the given timeout. A
// non-positive timeout defaults to 30 minutes.
func NewWebInterviewer(timeout time.Duration) *WebInterviewer {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &WebInterviewer{
		timeout:  timeout,
		cancelCh: make(chan struct{}),
		pending:  make(map[string]*pendingQuestion),
	}
}

// Ask implements engine.Interviewer.
func (wi *WebInterviewer) Ask(ctx context.Context, q engine.Question) (engine.Answer, error) {
	wi.mu.Lock()
	wi.qidSeq++
	qid := fmt.Sprintf("q-%d", wi.qidSeq)
	ch := make(chan engine.Answer, 1)
	wi.pending[qid] = &pendingQuestion{id: qid, question: q, askedAt: time.Now().UTC(), answerCh: ch}
	wi.mu.Unlock()

	defer func() {
		wi.mu.Lock()
		delete(wi.pending, qid)
		wi.mu.Unlock()
	}()

	timer := time.NewTimer(wi.timeout)
	defer timer.Stop()

	select {
	case ans := <-ch:
		return ans, nil
	case <-timer.C:
		return engine.Answer{}, fmt.Errorf("question %s timed out after %s", qid, wi.timeout)
	case <-wi.cancelCh:
		return engine.Answer{}, fmt.Errorf("question %s cancelled", qid)
	case <-ctx.Done():
		return engine.Answer{}, ctx.Err()
	}
}

// Pending returns every currently outstanding question.
func (wi *WebInterviewer) Pending() []PendingQuestion {
	wi.mu.Lock()
	defer wi.mu.Unlock()
	out := make([]PendingQuestion, 0, len(wi.pending))
	for _, pq := range wi.pending {
		opts := make([]QuestionOption, len(pq.question.Options))
		for i, o := range pq.question.Options {
			opts[i] = QuestionOption{Label: o.Label, Value: o.Value}
		}
		out = append(out, PendingQuestion{
			QuestionID: pq.id,
			NodeID:     pq.question.NodeID,
			Prompt:     pq.question.Prompt,
			Options:    opts,
			AskedAt:    pq.askedAt,
		})
	}
	return out
}

// Answer delivers an answer to a pending question by ID, returning false if
// qid is unknown or already answered.
func (wi *WebInterviewer) Answer(qid string, ans engine.Answer) bool {
	wi.mu.Lock()
	defer wi.mu.Unlock()
	pq, ok := wi.pending[qid]
	if !ok {
		return false
	}
	select {
	case pq.answerCh <- ans:
		delete(wi.pending, qid)
		return true
	default:
		return false
	}
}

// Cancel unblocks every in-flight Ask call. Safe to call more than once.
func (wi *WebInterviewer) Cancel() {
	wi.mu.Lock()
	defer wi.mu.Unlock()
	select {
	case <-wi.cancelCh:
	default:
		close(wi.cancelCh)
	}
}
