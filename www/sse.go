package www

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mvnigro/monitor-produtos/engine"
)

// SSE event names sent to browsers.
const (
	sseViewReload    = "view-reload"
	sseRefreshError  = "refresh-error"
	ssePromptOpened  = "employee-prompt"
	ssePromptClosed  = "employee-prompt-closed"
	sseCompletion    = "completion-result"
	sseKeepaliveRate = 30 * time.Second
	sseRetryMillis   = 5000
)

// SSEEvent is one named event for browsers. Data is sent as JSON.
type SSEEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type sseFrame struct {
	id   uint64
	name string
	data []byte
}

type sseClient struct {
	frames  chan sseFrame
	dropped int
}

// EventHub manages SSE client connections and broadcasts.
type EventHub struct {
	log *zap.Logger

	mu        sync.RWMutex
	clients   map[*sseClient]struct{}
	broadcast chan SSEEvent
	seq       atomic.Uint64
	stopOnce  sync.Once
	stopChan  chan struct{}
	keepalive time.Duration
}

// NewEventHub creates a new EventHub.
func NewEventHub(logger *zap.Logger) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHub{
		log:       logger,
		clients:   make(map[*sseClient]struct{}),
		broadcast: make(chan SSEEvent, 256),
		stopChan:  make(chan struct{}),
		keepalive: sseKeepaliveRate,
	}
}

// Start begins the event fan-out loop.
func (h *EventHub) Start() {
	go h.run()
}

// Stop shuts down the event hub and ends open streams.
func (h *EventHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

// Broadcast queues an event for all connected clients. Events are dropped
// when the queue is full.
func (h *EventHub) Broadcast(evt SSEEvent) {
	select {
	case h.broadcast <- evt:
	default:
		h.log.Warn("sse broadcast queue full, dropping event", zap.String("type", evt.Type))
	}
}

// Clients returns the number of connected streams.
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) register(c *sseClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) unregister(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	if c.dropped > 0 {
		h.log.Debug("sse client left with dropped events", zap.Int("dropped", c.dropped))
	}
}

// run encodes each event once and fans the frame out. A client whose
// buffer is full misses the frame; the next view-reload resyncs it.
func (h *EventHub) run() {
	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			data, err := json.Marshal(evt.Data)
			if err != nil {
				h.log.Warn("sse marshal", zap.String("type", evt.Type), zap.Error(err))
				continue
			}
			f := sseFrame{id: h.seq.Add(1), name: evt.Type, data: data}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.frames <- f:
				default:
					c.dropped++
				}
			}
			h.mu.Unlock()
		}
	}
}

// HandleSSE is the HTTP handler for SSE connections.
func (h *EventHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &sseClient{frames: make(chan sseFrame, 64)}
	h.register(client)
	defer h.unregister(client)

	fmt.Fprintf(w, "retry: %d\nevent: connected\ndata: {}\n\n", sseRetryMillis)
	flusher.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stopChan:
			return
		case f := <-client.frames:
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", f.id, f.name, f.data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// SetupEngineListeners wires engine events to SSE broadcasts.
func (h *EventHub) SetupEngineListeners(bus *engine.EventBus) engine.SubscriberID {
	id := bus.Subscribe(func(evt engine.Event) {
		var sseEvt SSEEvent

		switch evt.Type {
		case engine.EventViewRefreshed:
			sseEvt = SSEEvent{Type: sseViewReload, Data: evt.Payload}
		case engine.EventRefreshFailed:
			p := evt.Payload.(engine.RefreshFailedEvent)
			sseEvt = SSEEvent{Type: sseRefreshError, Data: map[string]interface{}{
				"generation": p.Generation, "message": p.Message,
			}}
		case engine.EventPromptOpened:
			sseEvt = SSEEvent{Type: ssePromptOpened, Data: evt.Payload}
		case engine.EventPromptClosed:
			sseEvt = SSEEvent{Type: ssePromptClosed, Data: evt.Payload}
		case engine.EventBatchCompleted, engine.EventBatchFailed:
			sseEvt = SSEEvent{Type: sseCompletion, Data: evt.Payload}
		default:
			return
		}

		h.Broadcast(sseEvt)
	})

	h.log.Debug("sse listeners wired to engine events")
	return id
}
