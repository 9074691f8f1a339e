package protocol

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// FilterFunc returns true if the message should be processed.
type FilterFunc func(hdr *Header) bool

// MessageHandler receives decoded messages. Embed NoOpHandler and override
// only the methods you need.
type MessageHandler interface {
	HandleStationHeartbeat(env *Envelope, p *StationHeartbeat)
	HandleViewRefreshed(env *Envelope, p *ViewRefreshed)
	HandleBatchCompleted(env *Envelope, p *BatchOutcome)
	HandleBatchFailed(env *Envelope, p *BatchOutcome)
}

// NoOpHandler implements MessageHandler with no-op methods.
type NoOpHandler struct{}

func (NoOpHandler) HandleStationHeartbeat(*Envelope, *StationHeartbeat) {}
func (NoOpHandler) HandleViewRefreshed(*Envelope, *ViewRefreshed)       {}
func (NoOpHandler) HandleBatchCompleted(*Envelope, *BatchOutcome)       {}
func (NoOpHandler) HandleBatchFailed(*Envelope, *BatchOutcome)          {}

var _ MessageHandler = NoOpHandler{}

// Ingestor performs two-phase decode and dispatches to a MessageHandler.
type Ingestor struct {
	handler MessageHandler
	filter  FilterFunc
	log     *zap.Logger
}

// NewIngestor creates an ingestor with the given handler and filter.
func NewIngestor(handler MessageHandler, filter FilterFunc, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{handler: handler, filter: filter, log: logger}
}

// FromOthers accepts messages addressed to station or broadcast, except the
// ones station sent itself.
func FromOthers(station string) FilterFunc {
	return func(hdr *Header) bool {
		if hdr.Src.Station == station {
			return false
		}
		return hdr.Dst.Station == station || hdr.Dst.Station == StationBroadcast
	}
}

// HandleRaw decodes one message from the messaging layer and dispatches it.
// Expired and filtered messages are dropped before their payload is decoded.
func (ing *Ingestor) HandleRaw(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		ing.log.Warn("envelope decode failed", zap.Error(err))
		return
	}
	if env.Expired(time.Now()) {
		ing.log.Debug("dropping expired message", zap.String("id", env.ID), zap.String("type", env.Type))
		return
	}
	if ing.filter != nil && !ing.filter(&env.Header) {
		return
	}

	switch env.Type {
	case TypeStationHeartbeat:
		decodeAndCall(ing, ing.handler.HandleStationHeartbeat, &env)
	case TypeViewRefreshed:
		decodeAndCall(ing, ing.handler.HandleViewRefreshed, &env)
	case TypeBatchCompleted:
		decodeAndCall(ing, ing.handler.HandleBatchCompleted, &env)
	case TypeBatchFailed:
		decodeAndCall(ing, ing.handler.HandleBatchFailed, &env)
	default:
		ing.log.Debug("unknown message type", zap.String("type", env.Type))
	}
}

func decodeAndCall[T any](ing *Ingestor, fn func(*Envelope, *T), env *Envelope) {
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		ing.log.Warn("payload decode failed", zap.String("type", env.Type), zap.Error(err))
		return
	}
	fn(env, &p)
}
