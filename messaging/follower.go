package messaging

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mvnigro/monitor-produtos/protocol"
)

// Refresher triggers a dashboard refresh.
type Refresher interface {
	Refresh() bool
}

// Peer is the last known state of another station.
type Peer struct {
	StationID  string    `json:"station_id"`
	Hostname   string    `json:"hostname,omitempty"`
	Version    string    `json:"version,omitempty"`
	Generation uint64    `json:"generation"`
	LastError  string    `json:"last_error,omitempty"`
	LastSeen   time.Time `json:"last_seen"`
}

// Follower reacts to other stations' events. A batch finished elsewhere
// changes the backend's pending orders, so it triggers a local refresh.
type Follower struct {
	protocol.NoOpHandler

	refresher Refresher
	log       *zap.Logger

	mu    sync.RWMutex
	peers map[string]Peer
}

// NewFollower creates a follower that refreshes through r.
func NewFollower(r Refresher, logger *zap.Logger) *Follower {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Follower{refresher: r, log: logger, peers: make(map[string]Peer)}
}

func (f *Follower) HandleStationHeartbeat(env *protocol.Envelope, p *protocol.StationHeartbeat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers[p.StationID] = Peer{
		StationID:  p.StationID,
		Hostname:   p.Hostname,
		Version:    p.Version,
		Generation: p.Generation,
		LastError:  p.LastError,
		LastSeen:   env.Timestamp,
	}
}

func (f *Follower) HandleBatchCompleted(env *protocol.Envelope, p *protocol.BatchOutcome) {
	f.batchElsewhere(env, p)
}

func (f *Follower) HandleBatchFailed(env *protocol.Envelope, p *protocol.BatchOutcome) {
	if len(p.Succeeded) == 0 {
		return
	}
	f.batchElsewhere(env, p)
}

func (f *Follower) batchElsewhere(env *protocol.Envelope, p *protocol.BatchOutcome) {
	f.log.Info("batch finished on another station",
		zap.String("station", env.Src.Station),
		zap.String("product", p.ProductCode),
		zap.Int("succeeded", len(p.Succeeded)))
	f.refresher.Refresh()
}

// Peers returns the stations heard from, sorted by ID.
func (f *Follower) Peers() []Peer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Peer, 0, len(f.peers))
	for _, p := range f.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationID < out[j].StationID })
	return out
}

// PeerStatus returns Peers for status endpoints.
func (f *Follower) PeerStatus() any { return f.Peers() }
