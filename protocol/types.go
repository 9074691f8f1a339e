package protocol

// Message type constants. Every station publishes and subscribes on the same
// events topic.
const (
	TypeStationHeartbeat = "station.heartbeat"
	TypeViewRefreshed    = "view.refreshed"
	TypeBatchCompleted   = "batch.completed"
	TypeBatchFailed      = "batch.failed"
)

// Roles for Address.Role.
const (
	RoleMonitor = "monitor"
)

// StationBroadcast addresses every station.
const StationBroadcast = "*"

// Protocol version.
const Version = 1
