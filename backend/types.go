package backend

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Connection status values reported by the backend.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusOffline      = "offline"
	StatusFailed       = "error"
	StatusUnknown      = "unknown"
)

// Code is a product code. The backend sends it as either a JSON string or a
// bare number depending on the source column, so both are accepted.
type Code string

func (c *Code) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Code(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = Code(n.String())
	return nil
}

// ClientDetail is one waiting client for a product.
type ClientDetail struct {
	Name           string `json:"nome"`
	OccurrenceDate string `json:"data_ocorrencia"`
	Separador      string `json:"separador"`
	OccurrenceText string `json:"texto_ocorrencia"`
}

// PendingOrder is a product waiting on stock, grouped with its clients.
type PendingOrder struct {
	Product        string         `json:"produto"` // "Name (CODE)"
	Code           Code           `json:"codigo"`
	Clients        []string       `json:"clientes"`
	ClientDetails  []ClientDetail `json:"clientes_detalhes"`
	ClientSummary  string         `json:"cliente"`
	OccurrenceType string         `json:"tipo_ocorrencia"`
	Status         string         `json:"status"`
	OccurrenceDate string         `json:"data_ocorrencia"`
}

// DisplayName returns the product name without the trailing "(CODE)".
func (o PendingOrder) DisplayName() string {
	if i := strings.Index(o.Product, "("); i >= 0 {
		return strings.TrimSpace(o.Product[:i])
	}
	return strings.TrimSpace(o.Product)
}

// Freshness is the cache/connection metadata the backend attaches to reads.
type Freshness struct {
	IsCache          bool   `json:"is_cache"`
	LastUpdate       string `json:"last_update"`
	ConnectionStatus string `json:"connection_status"`
}

// PendingOrdersResponse is the reply of GET /api/pending-orders.
type PendingOrdersResponse struct {
	Orders []PendingOrder `json:"orders"`
	Freshness
}

// ProductStats holds the parallel label/count arrays of GET /api/stats.
// ProductLabels[i] pairs with ProductCounts[i].
type ProductStats struct {
	ProductLabels []string `json:"product_labels"`
	ProductCounts []int    `json:"product_counts"`
}

// StatsResponse is the reply of GET /api/stats.
type StatsResponse struct {
	Stats *ProductStats `json:"stats"`
	Error string        `json:"error,omitempty"`
	Freshness
}

// CompletionRequest marks one (product, client) pair as complete.
type CompletionRequest struct {
	ProductCode string `json:"product_code"`
	ProductName string `json:"product_name"`
	ClientName  string `json:"client_name"`
	CompletedBy string `json:"completed_by"`
	Separador   string `json:"separador"`
}

// CompletionOutcome is the backend's answer to one CompletionRequest.
type CompletionOutcome struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// RefreshResponse is the reply of GET /api/refresh.
type RefreshResponse struct {
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Freshness
}

// ReportDate is a day for which completed-order reports exist.
type ReportDate struct {
	Date          string `json:"date"`
	FormattedDate string `json:"formatted_date"`
}

type reportDatesResponse struct {
	Success bool         `json:"success"`
	Dates   []ReportDate `json:"dates"`
	Error   string       `json:"error,omitempty"`
}

// ConnectionTest is the reply of GET /api/connection/test.
type ConnectionTest struct {
	Success     bool           `json:"success"`
	Message     string         `json:"message"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
	Timestamp   string         `json:"timestamp"`
}
