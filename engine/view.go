package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mvnigro/monitor-produtos/backend"
	"github.com/mvnigro/monitor-produtos/stats"
)

// RefreshErrorMessage is shown to users when a refresh fails in transport.
const RefreshErrorMessage = "Erro ao atualizar os dados. Por favor, tente novamente."

// OrderRow is one product line of the dashboard table.
type OrderRow struct {
	Name           string                 `json:"name"`
	Code           string                 `json:"code"`
	Product        string                 `json:"product"`
	Clients        []string               `json:"clients"`
	ClientDetails  []backend.ClientDetail `json:"client_details,omitempty"`
	OccurrenceType string                 `json:"occurrence_type,omitempty"`
	OccurrenceDate string                 `json:"occurrence_date,omitempty"`
	Status         string                 `json:"status,omitempty"`
}

// View is the immutable dashboard model produced by one refresh. Readers get
// a copy and must not mutate shared slices.
type View struct {
	Generation uint64     `json:"generation"`
	Orders     []OrderRow `json:"orders"`

	TotalProducts int `json:"total_products"`
	TotalClients  int `json:"total_clients"`

	Stats stats.Summary  `json:"stats"`
	All   []stats.Ranked `json:"all_products"`

	IsCache          bool      `json:"is_cache"`
	LastUpdate       string    `json:"last_update"`
	ConnectionStatus string    `json:"connection_status"`
	RefreshedAt      time.Time `json:"refreshed_at"`

	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// Ready reports whether at least one refresh has succeeded.
func (v View) Ready() bool { return !v.RefreshedAt.IsZero() }

// buildView turns the backend replies into a View.
func buildView(orders *backend.PendingOrdersResponse, st *backend.StatsResponse, records []stats.Record, topN int) View {
	v := View{
		Orders:           make([]OrderRow, 0, len(orders.Orders)),
		IsCache:          orders.IsCache || st.IsCache,
		LastUpdate:       orders.LastUpdate,
		ConnectionStatus: orders.ConnectionStatus,
		RefreshedAt:      time.Now(),
	}
	if v.LastUpdate == "" {
		v.LastUpdate = st.LastUpdate
	}
	if v.ConnectionStatus == "" {
		v.ConnectionStatus = backend.StatusUnknown
	}

	for _, o := range orders.Orders {
		code := string(o.Code)
		if code == "" {
			_, code = stats.ParseLabel(o.Product)
		}
		v.Orders = append(v.Orders, OrderRow{
			Name:           o.DisplayName(),
			Code:           code,
			Product:        o.Product,
			Clients:        o.Clients,
			ClientDetails:  o.ClientDetails,
			OccurrenceType: o.OccurrenceType,
			OccurrenceDate: o.OccurrenceDate,
			Status:         o.Status,
		})
		v.TotalClients += len(o.Clients)
	}
	v.TotalProducts = len(v.Orders)

	v.Stats = stats.Summarize(records, topN)
	v.All = stats.Rank(records, len(records))
	return v
}

// viewStore holds the latest view. Each refresh takes a generation when it
// is issued; a result older than the last one applied is discarded.
type viewStore struct {
	issued atomic.Uint64

	mu      sync.RWMutex
	applied uint64
	view    View
}

func (s *viewStore) issue() uint64 {
	return s.issued.Add(1)
}

// apply installs v if gen is not older than the last applied generation.
func (s *viewStore) apply(gen uint64, v View) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen < s.applied {
		return false
	}
	s.applied = gen
	v.Generation = gen
	s.view = v
	return true
}

// fail records a refresh error on the current view, keeping its data.
func (s *viewStore) fail(gen uint64, msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen < s.applied {
		return false
	}
	s.applied = gen
	s.view.LastError = msg
	s.view.LastErrorAt = time.Now()
	return true
}

func (s *viewStore) current() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}
