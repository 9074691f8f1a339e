// Package www serves the dashboard pages, its JSON API and the SSE stream.
package www

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mvnigro/monitor-produtos/engine"
)

// buildVer busts static asset caches once per restart.
var buildVer = time.Now().Format("20060102150405")

// PeerSource reports other stations for the health endpoint.
type PeerSource interface {
	PeerStatus() any
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine   *engine.Engine
	prefs    *prefStore
	tmpl     *template.Template
	eventHub *EventHub
	peers    PeerSource
	log      *zap.Logger
}

// Options configures optional router collaborators.
type Options struct {
	Logger *zap.Logger
	Peers  PeerSource
}

// NewRouter creates the chi router and returns it along with a stop function.
func NewRouter(eng *engine.Engine, opts Options) (http.Handler, func()) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handlers{
		engine:   eng,
		prefs:    newPrefStore(eng.AppConfig().Web.SessionSecret, logger.Named("prefs")),
		eventHub: NewEventHub(logger.Named("sse")),
		peers:    opts.Peers,
		log:      logger,
	}

	funcMap := template.FuncMap{
		"join": strings.Join,
		"json": func(v interface{}) (template.JS, error) {
			b, err := json.Marshal(v)
			return template.JS(b), err
		},
		"pct": func(a, b int) float64 {
			if b == 0 {
				return 0
			}
			return float64(a) / float64(b) * 100
		},
		"buildVer": func() string { return buildVer },
	}
	h.tmpl = template.Must(parseTemplates(funcMap))

	h.eventHub.Start()
	sub := h.eventHub.SetupEngineListeners(eng.Events)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(StaticFS()))))
	r.Get("/events", h.eventHub.HandleSSE)

	r.Get("/", h.handleDashboard)
	r.Get("/products", h.handleProducts)

	r.Route("/api", func(r chi.Router) {
		r.Get("/view", h.apiView)
		r.Get("/stats", h.apiStats)
		r.Post("/refresh", h.apiRefresh)
		r.Get("/employees", h.apiEmployees)
		r.Post("/complete", h.apiComplete)
		r.Get("/selections", h.apiListSelections)
		r.Post("/selections/{id}", h.apiResolveSelection)
		r.Delete("/selections/{id}", h.apiCancelSelection)
		r.Get("/reports/dates", h.apiReportDates)
		r.Get("/health", h.apiHealth)
	})

	return r, func() {
		eng.Events.Unsubscribe(sub)
		h.eventHub.Stop()
	}
}

func (h *Handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/events" || strings.HasPrefix(r.URL.Path, "/static/") {
			return
		}
		h.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (h *Handlers) renderTemplate(w http.ResponseWriter, name string, data interface{}) {
	if err := h.tmpl.ExecuteTemplate(w, name, data); err != nil {
		h.log.Error("render template", zap.String("template", name), zap.Error(err))
		http.Error(w, fmt.Sprintf("render %s: %v", name, err), http.StatusInternalServerError)
	}
}
