package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mvnigro/monitor-produtos/backend"
)

type mockSubmitter struct {
	mu       sync.Mutex
	requests []backend.CompletionRequest
	respond  func(req backend.CompletionRequest) (backend.CompletionOutcome, error)
}

func (m *mockSubmitter) CompleteOrder(_ context.Context, req backend.CompletionRequest) (backend.CompletionOutcome, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.respond == nil {
		return backend.CompletionOutcome{Success: true}, nil
	}
	return m.respond(req)
}

func TestCompleteAllSucceed(t *testing.T) {
	sub := &mockSubmitter{}
	job := NewJob(sub, nil)

	clients := []string{"Loja 1", "Loja 2", "Loja 3"}
	res, err := job.Complete(context.Background(), "W123", "Widget A", clients, "Richard")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(sub.requests) != len(clients) {
		t.Errorf("requests = %d, want %d", len(sub.requests), len(clients))
	}
	if !res.AllSucceeded {
		t.Error("AllSucceeded = false")
	}
	if len(res.FailedErrors) != 0 {
		t.Errorf("FailedErrors = %v", res.FailedErrors)
	}
	for _, req := range sub.requests {
		if req.ProductCode != "W123" || req.ProductName != "Widget A" || req.CompletedBy != "Richard" {
			t.Errorf("request = %+v", req)
		}
		if req.Separador != DefaultSeparador {
			t.Errorf("Separador = %q", req.Separador)
		}
	}
}

func TestCompleteSingleClientSamePath(t *testing.T) {
	sub := &mockSubmitter{respond: func(backend.CompletionRequest) (backend.CompletionOutcome, error) {
		return backend.CompletionOutcome{Success: false, Error: "Pedido não encontrado"}, nil
	}}
	res, err := NewJob(sub, nil).Complete(context.Background(), "P9", "Parafuso", []string{"Loja 1"}, "Cassio")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(sub.requests) != 1 {
		t.Errorf("requests = %d, want 1", len(sub.requests))
	}
	if res.AllSucceeded {
		t.Error("AllSucceeded = true")
	}
	if !reflect.DeepEqual(res.FailedErrors, []string{"Pedido não encontrado"}) {
		t.Errorf("FailedErrors = %v", res.FailedErrors)
	}
	if res.Message() != "Pedido não encontrado" {
		t.Errorf("Message = %q", res.Message())
	}
}

func TestFailedErrorsKeepClientOrder(t *testing.T) {
	// Later clients answer first; the result must still follow input order.
	delays := map[string]time.Duration{"a": 30 * time.Millisecond, "b": 0, "c": 15 * time.Millisecond, "d": 0}
	sub := &mockSubmitter{respond: func(req backend.CompletionRequest) (backend.CompletionOutcome, error) {
		time.Sleep(delays[req.ClientName])
		if req.ClientName == "b" {
			return backend.CompletionOutcome{Success: true}, nil
		}
		return backend.CompletionOutcome{Success: false, Error: "erro " + req.ClientName}, nil
	}}

	res, err := NewJob(sub, nil).Complete(context.Background(), "X", "X", []string{"a", "b", "c", "d"}, "Matheus")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	want := []string{"erro a", "erro c", "erro d"}
	if !reflect.DeepEqual(res.FailedErrors, want) {
		t.Errorf("FailedErrors = %v, want %v", res.FailedErrors, want)
	}
	if res.Message() != "erro a, erro c, erro d" {
		t.Errorf("Message = %q", res.Message())
	}
	if res.AllSucceeded {
		t.Error("AllSucceeded = true with failures")
	}
	if len(res.Outcomes) != 4 || !res.Outcomes[1].Success || res.Outcomes[0].Client != "a" {
		t.Errorf("Outcomes = %+v", res.Outcomes)
	}
}

func TestAllSucceededIffNoFailedErrors(t *testing.T) {
	for mask := 0; mask < 8; mask++ {
		sub := &mockSubmitter{respond: func(req backend.CompletionRequest) (backend.CompletionOutcome, error) {
			idx := int(req.ClientName[0] - '0')
			if mask&(1<<idx) != 0 {
				return backend.CompletionOutcome{Success: false, Error: "x"}, nil
			}
			return backend.CompletionOutcome{Success: true}, nil
		}}
		res, err := NewJob(sub, nil).Complete(context.Background(), "X", "X", []string{"0", "1", "2"}, "Marlon")
		if err != nil {
			t.Fatalf("mask %d: %v", mask, err)
		}
		failures := 0
		for i := 0; i < 3; i++ {
			if mask&(1<<i) != 0 {
				failures++
			}
		}
		if len(res.FailedErrors) != failures {
			t.Errorf("mask %d: FailedErrors = %d, want %d", mask, len(res.FailedErrors), failures)
		}
		if res.AllSucceeded != (len(res.FailedErrors) == 0) {
			t.Errorf("mask %d: AllSucceeded = %v with %d failures", mask, res.AllSucceeded, len(res.FailedErrors))
		}
	}
}

func TestTransportFailureReportedDistinctly(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req backend.CompletionRequest
		json.NewDecoder(r.Body).Decode(&req)
		switch req.ClientName {
		case "Loja 2":
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("<html>bad gateway</html>"))
		case "Loja 3":
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Dados incompletos."})
		default:
			json.NewEncoder(w).Encode(map[string]any{"success": true})
		}
	}))
	defer srv.Close()

	job := NewJob(backend.NewClient(srv.URL, 5*time.Second), nil)
	res, err := job.Complete(context.Background(), "W123", "Widget A", []string{"Loja 1", "Loja 2", "Loja 3"}, "Richard")

	if calls.Load() != 3 {
		t.Errorf("requests = %d, want 3", calls.Load())
	}
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if !reflect.DeepEqual(terr.Clients, []string{"Loja 2"}) {
		t.Errorf("transport clients = %v", terr.Clients)
	}
	var se *backend.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Errorf("cause = %v, want StatusError 502", err)
	}
	if !reflect.DeepEqual(res.FailedErrors, []string{"Dados incompletos."}) {
		t.Errorf("FailedErrors = %v, transport failure must not be folded in", res.FailedErrors)
	}
	if res.AllSucceeded {
		t.Error("AllSucceeded = true")
	}
	if !res.Outcomes[1].Transport || res.Outcomes[0].Transport {
		t.Errorf("Outcomes = %+v", res.Outcomes)
	}
}

func TestFailureDoesNotCancelSiblings(t *testing.T) {
	release := make(chan struct{})
	sub := &mockSubmitter{respond: func(req backend.CompletionRequest) (backend.CompletionOutcome, error) {
		if req.ClientName == "fast" {
			defer close(release)
			return backend.CompletionOutcome{}, errors.New("connection refused")
		}
		<-release
		return backend.CompletionOutcome{Success: true}, nil
	}}

	res, err := NewJob(sub, nil).Complete(context.Background(), "X", "X", []string{"slow", "fast"}, "Richard")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !res.Outcomes[0].Success {
		t.Errorf("slow request outcome = %+v, want success", res.Outcomes[0])
	}
}

func TestCompleteValidation(t *testing.T) {
	job := NewJob(&mockSubmitter{}, nil)
	if _, err := job.Complete(context.Background(), "X", "X", nil, "Richard"); !errors.Is(err, ErrNoClients) {
		t.Errorf("err = %v, want ErrNoClients", err)
	}
	if _, err := job.Complete(context.Background(), "X", "X", []string{"a"}, " "); !errors.Is(err, ErrNoEmployee) {
		t.Errorf("err = %v, want ErrNoEmployee", err)
	}
}

func TestWithSeparador(t *testing.T) {
	sub := &mockSubmitter{}
	NewJob(sub, nil).WithSeparador("João").Complete(context.Background(), "X", "X", []string{"a"}, "Richard")
	if sub.requests[0].Separador != "João" {
		t.Errorf("Separador = %q", sub.requests[0].Separador)
	}
}
