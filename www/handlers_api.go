package www

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mvnigro/monitor-produtos/completion"
	"github.com/mvnigro/monitor-produtos/employee"
	"github.com/mvnigro/monitor-produtos/engine"
	"github.com/mvnigro/monitor-produtos/stats"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}

// --- View ---

func (h *Handlers) apiView(w http.ResponseWriter, r *http.Request) {
	v := h.engine.View()
	if q := r.URL.Query().Get("q"); q != "" {
		v.Orders = stats.Filter(v.Orders, q, orderFields)
	}
	writeJSON(w, v)
}

func (h *Handlers) apiStats(w http.ResponseWriter, r *http.Request) {
	limit := h.engine.AppConfig().Stats.TopN
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	v := h.engine.View()
	top := h.engine.TopProducts(limit)
	chart := stats.Chart{Labels: make([]string, len(top)), Data: make([]int, len(top))}
	for i, p := range top {
		chart.Labels[i] = p.Name
		chart.Data[i] = p.Count
	}
	writeJSON(w, map[string]interface{}{
		"total_products": v.Stats.Products,
		"total_clients":  v.Stats.Clients,
		"top":            top,
		"chart":          chart,
		"is_cache":       v.IsCache,
		"last_update":    v.LastUpdate,
		"generation":     v.Generation,
	})
}

func (h *Handlers) apiRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReloadBackend bool `json:"reload_backend"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if req.ReloadBackend {
		resp, err := h.engine.ReloadBackend(r.Context())
		if err != nil {
			h.log.Warn("backend reload failed", zap.Error(err))
			body := map[string]interface{}{"error": engine.RefreshErrorMessage}
			if resp != nil {
				body["connection_status"] = resp.ConnectionStatus
			}
			writeJSONStatus(w, http.StatusBadGateway, body)
			return
		}
		writeJSONStatus(w, http.StatusAccepted, map[string]interface{}{
			"status":            "refreshing",
			"connection_status": resp.ConnectionStatus,
		})
		return
	}

	if !h.engine.Refresh() {
		if err := h.engine.RefreshNow(r.Context()); err != nil {
			writeError(w, http.StatusBadGateway, engine.RefreshErrorMessage)
			return
		}
		writeJSON(w, map[string]string{"status": "refreshed"})
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
}

// --- Completion ---

func (h *Handlers) apiEmployees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"employees": h.engine.Employees(),
		"preferred": h.prefs.employee(r),
	})
}

func (h *Handlers) apiComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductCode string   `json:"product_code"`
		ProductName string   `json:"product_name"`
		Clients     []string `json:"clients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.ProductCode = strings.TrimSpace(req.ProductCode)
	if req.ProductCode == "" {
		writeError(w, http.StatusBadRequest, "product_code is required")
		return
	}

	prompt, err := h.engine.StartCompletion(req.ProductCode, req.ProductName, req.Clients)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, completion.ErrNoClients), errors.Is(err, employee.ErrNoCandidates):
			status = http.StatusBadRequest
		case errors.Is(err, engine.ErrStopped):
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]interface{}{
		"selection_id": prompt.ID,
		"candidates":   prompt.Candidates,
		"preferred":    h.prefs.employee(r),
	})
}

func (h *Handlers) apiListSelections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.OpenPrompts())
}

func (h *Handlers) apiResolveSelection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Employee string `json:"employee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.ResolveSelection(id, req.Employee); err != nil {
		writeError(w, selectionStatus(err), err.Error())
		return
	}
	h.prefs.setEmployee(w, r, req.Employee)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiCancelSelection(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CancelSelection(chi.URLParam(r, "id")); err != nil {
		writeError(w, selectionStatus(err), err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "cancelled"})
}

func selectionStatus(err error) int {
	switch {
	case errors.Is(err, employee.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, employee.ErrUnknownCandidate):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// --- Backend passthrough ---

func (h *Handlers) apiReportDates(w http.ResponseWriter, r *http.Request) {
	dates, err := h.engine.ReportDates(r.Context())
	if err != nil {
		h.log.Warn("report dates", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"success": true, "dates": dates})
}

func (h *Handlers) apiHealth(w http.ResponseWriter, r *http.Request) {
	v := h.engine.View()
	p := h.engine.Poller()
	cfg := h.engine.AppConfig()

	resp := map[string]interface{}{
		"station":           cfg.StationID,
		"ready":             v.Ready(),
		"generation":        v.Generation,
		"connection_status": v.ConnectionStatus,
		"is_cache":          v.IsCache,
		"last_update":       v.LastUpdate,
		"last_error":        v.LastError,
		"sse_clients":       h.eventHub.Clients(),
		"poller": map[string]interface{}{
			"running":  p.Running(),
			"interval": p.Interval().String(),
			"runs":     p.Runs(),
			"failures": p.Failures(),
		},
	}
	if h.peers != nil {
		resp["peers"] = h.peers.PeerStatus()
	}
	if r.URL.Query().Get("deep") != "" {
		test, err := h.engine.TestConnection(r.Context())
		if err != nil {
			resp["backend"] = map[string]interface{}{"success": false, "error": err.Error()}
		} else {
			resp["backend"] = test
		}
	}
	writeJSON(w, resp)
}
