package messaging

import (
	"go.uber.org/zap"

	"github.com/mvnigro/monitor-produtos/engine"
	"github.com/mvnigro/monitor-produtos/protocol"
)

// EnvelopePublisher is the part of Client the publisher and heartbeater use.
type EnvelopePublisher interface {
	PublishEnvelope(topic string, env interface{ Encode() ([]byte, error) }) error
}

// Publisher forwards engine events to the events topic.
type Publisher struct {
	client    EnvelopePublisher
	stationID string
	topic     string
	log       *zap.Logger

	bus *engine.EventBus
	sub engine.SubscriberID
}

// NewPublisher creates a publisher for stationID.
func NewPublisher(client EnvelopePublisher, stationID, topic string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, stationID: stationID, topic: topic, log: logger}
}

// Attach subscribes the publisher to bus.
func (p *Publisher) Attach(bus *engine.EventBus) {
	p.bus = bus
	p.sub = bus.SubscribeTypes(p.handle,
		engine.EventViewRefreshed, engine.EventBatchCompleted, engine.EventBatchFailed)
}

// Detach removes the subscription.
func (p *Publisher) Detach() {
	if p.bus != nil {
		p.bus.Unsubscribe(p.sub)
		p.bus = nil
	}
}

func (p *Publisher) handle(evt engine.Event) {
	var (
		msgType string
		payload any
	)
	switch evt.Type {
	case engine.EventViewRefreshed:
		v := evt.Payload.(engine.ViewRefreshedEvent)
		msgType = protocol.TypeViewRefreshed
		payload = &protocol.ViewRefreshed{
			StationID:     p.stationID,
			Generation:    v.Generation,
			TotalProducts: v.TotalProducts,
			TotalClients:  v.TotalClients,
			IsCache:       v.IsCache,
		}
	case engine.EventBatchCompleted, engine.EventBatchFailed:
		b := evt.Payload.(engine.BatchEvent)
		msgType = protocol.TypeBatchFailed
		if evt.Type == engine.EventBatchCompleted {
			msgType = protocol.TypeBatchCompleted
		}
		payload = batchOutcome(p.stationID, b)
	default:
		return
	}

	env, err := protocol.NewBroadcast(msgType, p.stationID, payload)
	if err != nil {
		p.log.Error("build envelope", zap.String("type", msgType), zap.Error(err))
		return
	}
	if err := p.client.PublishEnvelope(p.topic, env); err != nil {
		p.log.Warn("publish failed", zap.String("type", msgType), zap.Error(err))
		return
	}
	p.log.Debug("published", zap.String("type", msgType), zap.String("id", env.ID))
}

func batchOutcome(stationID string, b engine.BatchEvent) *protocol.BatchOutcome {
	r := b.Result
	out := &protocol.BatchOutcome{
		StationID:    stationID,
		BatchID:      r.ID,
		ProductCode:  r.ProductCode,
		ProductName:  r.ProductName,
		CompletedBy:  r.CompletedBy,
		Clients:      make([]string, 0, len(r.Outcomes)),
		Succeeded:    []string{},
		FailedErrors: r.FailedErrors,
		Transport:    b.Transport,
	}
	for _, o := range r.Outcomes {
		out.Clients = append(out.Clients, o.Client)
		if o.Success {
			out.Succeeded = append(out.Succeeded, o.Client)
		}
	}
	return out
}
