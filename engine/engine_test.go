package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mvnigro/monitor-produtos/backend"
	"github.com/mvnigro/monitor-produtos/config"
)

type fakeBackend struct {
	mu        sync.Mutex
	failReads bool
	completed []backend.CompletionRequest
	reject    map[string]string // client -> error
	refreshes atomic.Int32
}

func (f *fakeBackend) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		fail := f.failReads
		f.mu.Unlock()

		switch r.URL.Path {
		case "/api/pending-orders":
			if fail {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{
				"orders": [
					{"produto": "Widget A (W123)", "codigo": "W123", "clientes": ["Loja 1", "Loja 2"]},
					{"produto": "Parafuso (P9)", "codigo": "P9", "clientes": ["Loja 3"]}
				],
				"is_cache": false,
				"last_update": "19/10/2026, 10:00:00",
				"connection_status": "connected"
			}`))
		case "/api/stats":
			if fail {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"stats": {
				"product_labels": ["Parafuso (P9)", "Widget A (W123)", "Caixa (C1)"],
				"product_counts": [1, 2, 2]
			}}`))
		case "/api/complete-order":
			var req backend.CompletionRequest
			json.NewDecoder(r.Body).Decode(&req)
			f.mu.Lock()
			f.completed = append(f.completed, req)
			msg, bad := f.reject[req.ClientName]
			f.mu.Unlock()
			if bad {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"success": true})
		case "/api/refresh":
			f.refreshes.Add(1)
			w.Write([]byte(`{"success": true, "connection_status": "connected"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeBackend) requests() []backend.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.CompletionRequest(nil), f.completed...)
}

func newTestEngine(t *testing.T, fb *fakeBackend) *Engine {
	t.Helper()
	srv := httptest.NewServer(fb.handler(t))
	t.Cleanup(srv.Close)

	cfg := config.Defaults()
	cfg.PromptTimeout = 0
	cfg.Stats.TopN = 2
	eng := New(Config{AppConfig: cfg, Backend: backend.NewClient(srv.URL, 5*time.Second)})
	t.Cleanup(eng.Stop)
	return eng
}

func collect(bus *EventBus, types ...EventType) chan Event {
	ch := make(chan Event, 16)
	bus.SubscribeTypes(func(evt Event) { ch <- evt }, types...)
	return ch
}

func next(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestRefreshBuildsView(t *testing.T) {
	eng := newTestEngine(t, &fakeBackend{})
	events := collect(eng.Events, EventViewRefreshed)

	if err := eng.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}
	v := eng.View()
	if v.TotalProducts != 2 || v.TotalClients != 3 {
		t.Errorf("totals = %d/%d, want 2/3", v.TotalProducts, v.TotalClients)
	}
	if v.Orders[0].Name != "Widget A" || v.Orders[0].Code != "W123" {
		t.Errorf("order row = %+v", v.Orders[0])
	}
	if v.Stats.Products != 3 || v.Stats.Clients != 5 {
		t.Errorf("stats totals = %d/%d", v.Stats.Products, v.Stats.Clients)
	}
	if len(v.Stats.Top) != 2 || v.Stats.Top[0].Name != "Widget A" || v.Stats.Top[1].Name != "Caixa" {
		t.Errorf("top = %+v", v.Stats.Top)
	}
	if len(v.All) != 3 {
		t.Errorf("all = %d", len(v.All))
	}
	if !v.Ready() || v.ConnectionStatus != backend.StatusConnected {
		t.Errorf("view = %+v", v)
	}

	evt := next(t, events)
	if p := evt.Payload.(ViewRefreshedEvent); p.Generation != v.Generation || p.TotalClients != 3 {
		t.Errorf("event = %+v", p)
	}

	if top := eng.TopProducts(1); len(top) != 1 || top[0].Rank != 1 {
		t.Errorf("TopProducts(1) = %+v", top)
	}
	if top := eng.TopProducts(50); len(top) != 3 {
		t.Errorf("TopProducts(50) = %d rows", len(top))
	}
}

func TestRefreshFailureKeepsLastView(t *testing.T) {
	fb := &fakeBackend{}
	eng := newTestEngine(t, fb)
	if err := eng.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}

	events := collect(eng.Events, EventRefreshFailed)
	fb.mu.Lock()
	fb.failReads = true
	fb.mu.Unlock()

	if err := eng.RefreshNow(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	v := eng.View()
	if v.TotalProducts != 2 {
		t.Errorf("previous data lost: %+v", v)
	}
	if v.LastError != RefreshErrorMessage {
		t.Errorf("LastError = %q", v.LastError)
	}
	if p := next(t, events).Payload.(RefreshFailedEvent); p.Message != RefreshErrorMessage || p.Error == "" {
		t.Errorf("event = %+v", p)
	}
}

func TestViewStoreDiscardsStale(t *testing.T) {
	var s viewStore
	older := s.issue()
	newer := s.issue()

	if !s.apply(newer, View{TotalProducts: 2}) {
		t.Fatal("newer view rejected")
	}
	if s.apply(older, View{TotalProducts: 1}) {
		t.Error("older view applied over newer")
	}
	if s.fail(older, "x") {
		t.Error("older failure applied over newer view")
	}
	if got := s.current(); got.TotalProducts != 2 || got.Generation != newer || got.LastError != "" {
		t.Errorf("current = %+v", got)
	}
}

func TestCompletionFlow(t *testing.T) {
	fb := &fakeBackend{}
	eng := newTestEngine(t, fb)
	eng.RefreshNow(context.Background())

	prompts := collect(eng.Events, EventPromptOpened, EventPromptClosed)
	batches := collect(eng.Events, EventBatchCompleted, EventBatchFailed)

	prompt, err := eng.StartCompletion("W123", "", []string{"Loja 1", "Loja 2"})
	if err != nil {
		t.Fatalf("StartCompletion: %v", err)
	}
	if len(prompt.Candidates) != 4 {
		t.Errorf("candidates = %v", prompt.Candidates)
	}
	opened := next(t, prompts)
	if opened.Type != EventPromptOpened || opened.Payload.(PromptOpenedEvent).SelectionID != prompt.ID {
		t.Fatalf("opened = %+v", opened)
	}

	if err := eng.ResolveSelection(prompt.ID, "Matheus"); err != nil {
		t.Fatalf("ResolveSelection: %v", err)
	}
	if closed := next(t, prompts); closed.Type != EventPromptClosed {
		t.Errorf("closed = %+v", closed)
	}

	evt := next(t, batches)
	if evt.Type != EventBatchCompleted {
		t.Fatalf("event type = %v", evt.Type)
	}
	b := evt.Payload.(BatchEvent)
	if !b.Reload || !b.Result.AllSucceeded {
		t.Errorf("batch = %+v", b)
	}

	reqs := fb.requests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	for _, r := range reqs {
		if r.ProductName != "Widget A" || r.CompletedBy != "Matheus" {
			t.Errorf("request = %+v", r)
		}
	}
}

func TestCompletionPartialFailure(t *testing.T) {
	fb := &fakeBackend{reject: map[string]string{"Loja 2": "Pedido já concluído"}}
	eng := newTestEngine(t, fb)
	batches := collect(eng.Events, EventBatchCompleted, EventBatchFailed)

	prompt, err := eng.StartCompletion("W123", "Widget A", []string{"Loja 1", "Loja 2"})
	if err != nil {
		t.Fatalf("StartCompletion: %v", err)
	}
	eng.ResolveSelection(prompt.ID, "Richard")

	evt := next(t, batches)
	if evt.Type != EventBatchFailed {
		t.Fatalf("event type = %v", evt.Type)
	}
	b := evt.Payload.(BatchEvent)
	if b.Reload || b.Transport {
		t.Errorf("batch = %+v", b)
	}
	if b.Message != CompletionPartialMessage+"Pedido já concluído" {
		t.Errorf("Message = %q", b.Message)
	}
}

func TestCompletionCancelledRunsNothing(t *testing.T) {
	fb := &fakeBackend{}
	eng := newTestEngine(t, fb)
	prompts := collect(eng.Events, EventPromptClosed)
	batches := collect(eng.Events, EventBatchCompleted, EventBatchFailed)

	prompt, _ := eng.StartCompletion("W123", "Widget A", []string{"Loja 1"})
	if err := eng.CancelSelection(prompt.ID); err != nil {
		t.Fatalf("CancelSelection: %v", err)
	}
	if p := next(t, prompts).Payload.(PromptClosedEvent); p.Reason != "cancelled" {
		t.Errorf("reason = %q", p.Reason)
	}

	select {
	case evt := <-batches:
		t.Fatalf("batch ran after cancel: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
	if n := len(fb.requests()); n != 0 {
		t.Errorf("requests = %d, want 0", n)
	}
}

func TestStartCompletionRequiresClients(t *testing.T) {
	eng := newTestEngine(t, &fakeBackend{})
	if _, err := eng.StartCompletion("W123", "Widget A", nil); err == nil {
		t.Fatal("expected error")
	}
	if len(eng.OpenPrompts()) != 0 {
		t.Error("prompt opened for empty batch")
	}
}

func TestStartCompletionDuringStop(t *testing.T) {
	fb := &fakeBackend{}
	eng := newTestEngine(t, fb)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.StartCompletion("W123", "Widget A", []string{"Loja 1"})
			if err != nil && !errors.Is(err, ErrStopped) {
				t.Errorf("StartCompletion: %v", err)
			}
		}()
	}
	eng.Stop()
	wg.Wait()

	if _, err := eng.StartCompletion("W123", "Widget A", []string{"Loja 1"}); !errors.Is(err, ErrStopped) {
		t.Errorf("after Stop: err = %v, want ErrStopped", err)
	}
	if n := len(fb.requests()); n != 0 {
		t.Errorf("requests = %d, want 0 (no employee was chosen)", n)
	}
}

func TestReloadBackend(t *testing.T) {
	fb := &fakeBackend{}
	eng := newTestEngine(t, fb)
	if _, err := eng.ReloadBackend(context.Background()); err != nil {
		t.Fatalf("ReloadBackend: %v", err)
	}
	if fb.refreshes.Load() != 1 {
		t.Errorf("backend refreshes = %d", fb.refreshes.Load())
	}
	if !eng.View().Ready() {
		t.Error("view not refreshed after reload")
	}
}

func TestStartRunsInitialRefresh(t *testing.T) {
	eng := newTestEngine(t, &fakeBackend{})
	events := collect(eng.Events, EventViewRefreshed)
	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	next(t, events)
	if !eng.Poller().Running() {
		t.Error("poller not running")
	}
}

func TestEventBusFilterAndUnsubscribe(t *testing.T) {
	bus := NewEventBus(nil)
	var all, filtered []EventType
	id := bus.Subscribe(func(e Event) { all = append(all, e.Type) })
	bus.SubscribeTypes(func(e Event) { filtered = append(filtered, e.Type) }, EventBatchFailed)
	bus.Subscribe(func(Event) { panic("boom") })

	bus.Emit(Event{Type: EventViewRefreshed})
	bus.Emit(Event{Type: EventBatchFailed})
	bus.Unsubscribe(id)
	bus.Emit(Event{Type: EventBatchFailed})

	if len(all) != 2 {
		t.Errorf("all = %v", all)
	}
	if len(filtered) != 2 {
		t.Errorf("filtered = %v", filtered)
	}
	if !strings.Contains(EventBatchFailed.String(), "batch") {
		t.Errorf("String = %q", EventBatchFailed.String())
	}
}
