package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anishkny/attractor/internal/attractor/events"
)

func TestBroadcasterSubscribeReplaysHistory(t *testing.T) {
	b := NewBroadcaster()
	b.send(events.Event{Type: events.PipelineStarted})
	b.send(events.Event{Type: events.StageStarted, NodeID: "work"})

	stream, _, unsub := b.Subscribe()
	defer unsub()

	first := <-stream
	second := <-stream
	if first.Type != events.PipelineStarted || second.Type != events.StageStarted {
		t.Errorf("got %v, %v", first.Type, second.Type)
	}
}

func TestBroadcasterSubscribeThenSendDeliversLive(t *testing.T) {
	b := NewBroadcaster()
	stream, _, unsub := b.Subscribe()
	defer unsub()

	b.send(events.Event{Type: events.StageCompleted, NodeID: "work"})

	select {
	case ev := <-stream:
		if ev.Type != events.StageCompleted {
			t.Errorf("Type = %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event")
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	stream, _, unsub := b.Subscribe()
	unsub()

	if _, ok := <-stream; ok {
		t.Error("expected the stream channel to be closed after unsubscribe")
	}
}

func TestBroadcasterCloseClosesAllClientsAndDoneCh(t *testing.T) {
	b := NewBroadcaster()
	stream, doneCh, unsub := b.Subscribe()
	defer unsub()

	b.Close()

	if _, ok := <-stream; ok {
		t.Error("expected stream to be closed after Close")
	}
	select {
	case <-doneCh:
	default:
		t.Error("expected doneCh to be closed after Close")
	}
}

func TestBroadcasterSendAfterCloseIsNoop(t *testing.T) {
	b := NewBroadcaster()
	b.Close()
	b.send(events.Event{Type: events.PipelineCompleted})

	if len(b.history) != 0 {
		t.Errorf("history = %v, want empty after Close", b.history)
	}
}

func TestBroadcasterSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	b := NewBroadcaster()
	b.send(events.Event{Type: events.PipelineStarted})
	b.Close()

	stream, _, _ := b.Subscribe()
	ev, ok := <-stream
	if !ok || ev.Type != events.PipelineStarted {
		t.Errorf("expected replayed history before close, got %v, %v", ev, ok)
	}
	if _, ok := <-stream; ok {
		t.Error("expected channel closed after replaying history")
	}
}

func TestBroadcasterSlowClientIsDroppedNotBlocked(t *testing.T) {
	b := NewBroadcaster()
	stream, _, unsub := b.Subscribe()
	defer unsub()

	// Fill the buffered channel past capacity without ever draining it.
	for i := 0; i < 300; i++ {
		b.send(events.Event{Type: events.StageStarted, NodeID: "work"})
	}

	b.mu.Lock()
	_, stillConnected := b.clients[0]
	b.mu.Unlock()
	if stillConnected {
		t.Error("expected the slow client to have been dropped")
	}
	// Draining what's buffered should not deadlock.
	for range stream {
	}
}

func TestWriteSSEStreamsHistoryThenClosesOnDone(t *testing.T) {
	b := NewBroadcaster()
	b.send(events.Event{Type: events.PipelineStarted})

	req := httptest.NewRequest("GET", "/pipelines/run-1/events", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.Close()
		close(done)
	}()
	WriteSSE(rec, req, b)
	<-done

	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: "+string(events.PipelineStarted)) {
		t.Errorf("body missing replayed event: %q", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Errorf("body missing final done event: %q", body)
	}
}
