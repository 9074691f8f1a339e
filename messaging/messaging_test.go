package messaging

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mvnigro/monitor-produtos/completion"
	"github.com/mvnigro/monitor-produtos/config"
	"github.com/mvnigro/monitor-produtos/engine"
	"github.com/mvnigro/monitor-produtos/protocol"
)

type published struct {
	topic string
	env   *protocol.Envelope
}

type mockPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (m *mockPublisher) PublishEnvelope(topic string, env interface{ Encode() ([]byte, error) }) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, published{topic: topic, env: env.(*protocol.Envelope)})
	return nil
}

func (m *mockPublisher) all() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.msgs...)
}

func TestNewClientBackends(t *testing.T) {
	if _, err := NewClient(config.MessagingConfig{}, "id", nil); !errors.Is(err, ErrDisabled) {
		t.Errorf("empty backend: err = %v, want ErrDisabled", err)
	}
	if _, err := NewClient(config.MessagingConfig{Backend: "amqp"}, "id", nil); err == nil {
		t.Error("expected error for unknown backend")
	}
	c, err := NewClient(config.MessagingConfig{Backend: BackendKafka}, "id", nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected before Connect")
	}
	if err := c.Connect(); err == nil {
		t.Error("expected error for kafka without brokers")
	}
	if err := c.Publish("t", []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("publish without writer: err = %v, want ErrNotConnected", err)
	}
	c.Close()

	m, err := NewClient(config.MessagingConfig{Backend: BackendMQTT}, "id", nil)
	if err != nil {
		t.Fatalf("NewClient mqtt: %v", err)
	}
	if err := m.Subscribe("t", func([]byte) {}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("subscribe before connect: err = %v, want ErrNotConnected", err)
	}
}

func TestPublisherForwardsEvents(t *testing.T) {
	pub := &mockPublisher{}
	bus := engine.NewEventBus(nil)
	p := NewPublisher(pub, "separacao-1", "monitor/events", nil)
	p.Attach(bus)

	bus.Emit(engine.Event{Type: engine.EventViewRefreshed, Payload: engine.ViewRefreshedEvent{
		Generation: 3, TotalProducts: 2, TotalClients: 5,
	}})
	bus.Emit(engine.Event{Type: engine.EventBatchFailed, Payload: engine.BatchEvent{
		Result: completion.BatchResult{
			ID:           "b-1",
			ProductCode:  "W123",
			CompletedBy:  "Richard",
			FailedErrors: []string{"erro"},
			Outcomes: []completion.Outcome{
				{Client: "Loja 1", Success: true},
				{Client: "Loja 2", Error: "erro"},
			},
		},
	}})
	bus.Emit(engine.Event{Type: engine.EventPromptOpened, Payload: engine.PromptOpenedEvent{}})

	msgs := pub.all()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}
	if msgs[0].topic != "monitor/events" || msgs[0].env.Type != protocol.TypeViewRefreshed {
		t.Errorf("msg[0] = %s %s", msgs[0].topic, msgs[0].env.Type)
	}
	if msgs[1].env.Type != protocol.TypeBatchFailed {
		t.Errorf("msg[1] type = %s", msgs[1].env.Type)
	}
	var outcome protocol.BatchOutcome
	if err := msgs[1].env.DecodePayload(&outcome); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if len(outcome.Clients) != 2 || len(outcome.Succeeded) != 1 || outcome.Succeeded[0] != "Loja 1" {
		t.Errorf("outcome = %+v", outcome)
	}
	if msgs[1].env.Src.Station != "separacao-1" {
		t.Errorf("src = %+v", msgs[1].env.Src)
	}

	p.Detach()
	bus.Emit(engine.Event{Type: engine.EventViewRefreshed, Payload: engine.ViewRefreshedEvent{}})
	if len(pub.all()) != 2 {
		t.Error("published after Detach")
	}
}

func TestPublisherSurvivesPublishError(t *testing.T) {
	pub := &mockPublisher{err: errors.New("broker down")}
	bus := engine.NewEventBus(nil)
	NewPublisher(pub, "s", "t", nil).Attach(bus)
	bus.Emit(engine.Event{Type: engine.EventViewRefreshed, Payload: engine.ViewRefreshedEvent{}})
}

type staticView struct{ v engine.View }

func (s staticView) View() engine.View { return s.v }

func TestHeartbeater(t *testing.T) {
	pub := &mockPublisher{}
	hb := NewHeartbeater(pub, staticView{engine.View{Generation: 9}}, "separacao-1", "dev", "monitor/events", 10*time.Millisecond, nil)
	hb.Start()

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.all()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hb.Stop()

	msgs := pub.all()
	if len(msgs) < 3 {
		t.Fatalf("heartbeats = %d, want >= 3", len(msgs))
	}
	var p protocol.StationHeartbeat
	msgs[0].env.DecodePayload(&p)
	if msgs[0].env.Type != protocol.TypeStationHeartbeat || p.StationID != "separacao-1" || p.Generation != 9 {
		t.Errorf("heartbeat = %s %+v", msgs[0].env.Type, p)
	}
}

type countingRefresher struct{ n atomic.Int32 }

func (c *countingRefresher) Refresh() bool {
	c.n.Add(1)
	return true
}

func TestFollower(t *testing.T) {
	r := &countingRefresher{}
	f := NewFollower(r, nil)
	ing := protocol.NewIngestor(f, protocol.FromOthers("me"), nil)

	send := func(msgType, from string, payload any) {
		env, err := protocol.NewBroadcast(msgType, from, payload)
		if err != nil {
			t.Fatalf("NewBroadcast: %v", err)
		}
		data, _ := env.Encode()
		ing.HandleRaw(data)
	}

	send(protocol.TypeBatchCompleted, "other", &protocol.BatchOutcome{Succeeded: []string{"a"}})
	send(protocol.TypeBatchCompleted, "me", &protocol.BatchOutcome{Succeeded: []string{"a"}})
	send(protocol.TypeBatchFailed, "other", &protocol.BatchOutcome{})
	send(protocol.TypeBatchFailed, "other", &protocol.BatchOutcome{Succeeded: []string{"b"}})
	send(protocol.TypeStationHeartbeat, "other", &protocol.StationHeartbeat{StationID: "other", Generation: 4})

	if got := r.n.Load(); got != 2 {
		t.Errorf("refreshes = %d, want 2", got)
	}
	peers := f.Peers()
	if len(peers) != 1 || peers[0].StationID != "other" || peers[0].Generation != 4 {
		t.Errorf("peers = %+v", peers)
	}
}
