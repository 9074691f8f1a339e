package messaging

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mvnigro/monitor-produtos/engine"
	"github.com/mvnigro/monitor-produtos/protocol"
)

// ViewSource supplies the current dashboard view.
type ViewSource interface {
	View() engine.View
}

// Heartbeater publishes station.heartbeat on start and then periodically.
type Heartbeater struct {
	client    EnvelopePublisher
	views     ViewSource
	stationID string
	version   string
	topic     string
	interval  time.Duration
	startTime time.Time
	log       *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewHeartbeater creates a heartbeater for the given station.
func NewHeartbeater(client EnvelopePublisher, views ViewSource, stationID, version, topic string, interval time.Duration, logger *zap.Logger) *Heartbeater {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Heartbeater{
		client:    client,
		views:     views,
		stationID: stationID,
		version:   version,
		topic:     topic,
		interval:  interval,
		log:       logger,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start sends an initial heartbeat and begins the loop.
func (h *Heartbeater) Start() {
	h.startTime = time.Now()
	h.send()
	go h.loop()
}

// Stop halts the heartbeat loop and waits for it to exit.
func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	if !h.startTime.IsZero() {
		<-h.done
	}
}

func (h *Heartbeater) send() {
	hostname, _ := os.Hostname()
	v := h.views.View()
	env, err := protocol.NewBroadcast(protocol.TypeStationHeartbeat, h.stationID, &protocol.StationHeartbeat{
		StationID:  h.stationID,
		Hostname:   hostname,
		Version:    h.version,
		Uptime:     int64(time.Since(h.startTime).Seconds()),
		Generation: v.Generation,
		LastError:  v.LastError,
	})
	if err != nil {
		h.log.Error("build heartbeat", zap.Error(err))
		return
	}
	if err := h.client.PublishEnvelope(h.topic, env); err != nil {
		h.log.Warn("send heartbeat", zap.Error(err))
	}
}

func (h *Heartbeater) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.send()
		}
	}
}
