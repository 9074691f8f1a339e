package protocol

// StationHeartbeat is published periodically by each running dashboard.
type StationHeartbeat struct {
	StationID  string `json:"station_id"`
	Hostname   string `json:"hostname"`
	Version    string `json:"version"`
	Uptime     int64  `json:"uptime_s"`
	Generation uint64 `json:"generation"`
	LastError  string `json:"last_error,omitempty"`
}

// ViewRefreshed announces a new dashboard view.
type ViewRefreshed struct {
	StationID     string `json:"station_id"`
	Generation    uint64 `json:"generation"`
	TotalProducts int    `json:"total_products"`
	TotalClients  int    `json:"total_clients"`
	IsCache       bool   `json:"is_cache"`
}

// BatchOutcome reports a finished completion batch. It is published as
// batch.completed when every client succeeded and batch.failed otherwise.
type BatchOutcome struct {
	StationID    string   `json:"station_id"`
	BatchID      string   `json:"batch_id"`
	ProductCode  string   `json:"product_code"`
	ProductName  string   `json:"product_name"`
	CompletedBy  string   `json:"completed_by"`
	Clients      []string `json:"clients"`
	Succeeded    []string `json:"succeeded"`
	FailedErrors []string `json:"failed_errors,omitempty"`
	Transport    bool     `json:"transport,omitempty"`
}
