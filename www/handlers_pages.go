package www

import (
	"net/http"

	"github.com/mvnigro/monitor-produtos/engine"
	"github.com/mvnigro/monitor-produtos/stats"
)

func orderFields(o engine.OrderRow) (string, string) { return o.Name, o.Code }

func (h *Handlers) handleDashboard(w http.ResponseWriter, r *http.Request) {
	v := h.engine.View()
	q := r.URL.Query().Get("q")
	cfg := h.engine.AppConfig()

	data := map[string]interface{}{
		"Page":      "dashboard",
		"View":      v,
		"Rows":      stats.Filter(v.Orders, q, orderFields),
		"Query":     q,
		"Employees": h.engine.Employees(),
		"Preferred": h.prefs.employee(r),
		"Station":   cfg.StationID,
		"PollMs":    cfg.PollRate.Milliseconds(),
	}
	h.renderTemplate(w, "index.html", data)
}

func (h *Handlers) handleProducts(w http.ResponseWriter, r *http.Request) {
	v := h.engine.View()
	cfg := h.engine.AppConfig()

	data := map[string]interface{}{
		"Page":    "products",
		"View":    v,
		"Summary": v.Stats,
		"Station": cfg.StationID,
		"PollMs":  cfg.PollRate.Milliseconds(),
	}
	h.renderTemplate(w, "products.html", data)
}
