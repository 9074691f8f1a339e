package protocol

import "time"

// Heartbeats go stale quickly; batch outcomes stay useful to late joiners.
var ttls = map[string]time.Duration{
	TypeStationHeartbeat: 90 * time.Second,
	TypeViewRefreshed:    5 * time.Minute,
	TypeBatchCompleted:   30 * time.Minute,
	TypeBatchFailed:      30 * time.Minute,
}

// FallbackTTL applies to message types without their own TTL.
const FallbackTTL = 10 * time.Minute

// TTLFor returns how long a message of msgType stays deliverable.
func TTLFor(msgType string) time.Duration {
	if ttl, ok := ttls[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}

// Expired reports whether the message had expired at now. A header without
// an expiry never expires.
func (h *Header) Expired(now time.Time) bool {
	return !h.ExpiresAt.IsZero() && now.After(h.ExpiresAt)
}
