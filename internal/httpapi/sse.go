package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/anishkny/attractor/internal/attractor/events"
)

// Broadcaster fans out one pipeline run's event stream to any number of
// SSE clients. One Broadcaster per run; thread-safe.
type Broadcaster struct {
	mu      sync.Mutex
	history []events.Event
	clients map[uint64]chan events.Event
	nextID  uint64
	closed  bool
	doneCh  chan struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[uint64]chan events.Event),
		doneCh:  make(chan struct{}),
	}
}

// Observer returns an events.Observer suitable for events.Emitter.Subscribe.
func (b *Broadcaster) Observer() events.Observer {
	return b.send
}

func (b *Broadcaster) send(ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, ev)
	for id, ch := range b.clients {
		select {
		case ch <- ev:
		default:
			// Slow client: drop rather than block the engine.
			close(ch)
			delete(b.clients, id)
		}
	}
}

// Subscribe returns a replay-then-live event channel, a done channel closed
// only when the broadcaster itself closes, and an unsubscribe function.
func (b *Broadcaster) Subscribe() (<-chan events.Event, <-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan events.Event, len(b.history)+256)
	id := b.nextID
	b.nextID++

	for _, ev := range b.history {
		ch <- ev
	}
	if b.closed {
		close(ch)
		return ch, b.doneCh, func() {}
	}

	b.clients[id] = ch
	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[id]; ok {
			delete(b.clients, id)
			close(ch)
		}
	}
	return ch, b.doneCh, unsub
}

// Close signals that no more events will arrive; every client channel is
// closed and WriteSSE emits a final "done" event to listeners still attached.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.doneCh)
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}

// WriteSSE streams a Broadcaster's events to w as Server-Sent Events.
func WriteSSE(w http.ResponseWriter, r *http.Request, b *Broadcaster) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream, doneCh, unsub := b.Subscribe()
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				select {
				case <-doneCh:
					fmt.Fprint(w, "event: done\ndata: {}\n\n")
					flusher.Flush()
				default:
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
