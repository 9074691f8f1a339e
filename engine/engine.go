package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mvnigro/monitor-produtos/backend"
	"github.com/mvnigro/monitor-produtos/completion"
	"github.com/mvnigro/monitor-produtos/config"
	"github.com/mvnigro/monitor-produtos/employee"
	"github.com/mvnigro/monitor-produtos/poller"
	"github.com/mvnigro/monitor-produtos/stats"
)

// User-facing completion messages.
const (
	CompletionErrorMessage   = "Erro ao marcar como concluído. Por favor, tente novamente."
	CompletionPartialMessage = "Alguns pedidos não puderam ser concluídos: "
)

// ErrStopped is returned when a completion is requested after Stop.
var ErrStopped = errors.New("engine stopped")

// Backend is the slice of the order backend the engine depends on.
type Backend interface {
	completion.Submitter
	PendingOrders(ctx context.Context) (*backend.PendingOrdersResponse, error)
	Stats(ctx context.Context) (*backend.StatsResponse, error)
	Refresh(ctx context.Context) (*backend.RefreshResponse, error)
	ReportDates(ctx context.Context) ([]backend.ReportDate, error)
	TestConnection(ctx context.Context) (*backend.ConnectionTest, error)
}

// Engine owns the refresh schedule, the current view and the completion flow.
type Engine struct {
	cfg *config.Config
	log *zap.Logger
	api Backend

	poller   *poller.Poller
	selector *employee.Selector
	job      *completion.Job
	views    viewStore

	Events *EventBus

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex // guards stopped and wg.Add against Stop's Wait
	stopped bool
	wg      sync.WaitGroup
}

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig *config.Config
	Backend   Backend
	Logger    *zap.Logger
}

// New creates a new Engine. Call Start to begin polling.
func New(c Config) *Engine {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:    c.AppConfig,
		log:    logger,
		api:    c.Backend,
		Events: NewEventBus(logger.Named("events")),
		ctx:    ctx,
		cancel: cancel,
	}
	e.poller = poller.New("dashboard", logger.Named("poller"))
	e.selector = employee.NewSelector(&promptEmitter{bus: e.Events}, c.AppConfig.PromptTimeout, logger.Named("employee"))
	e.job = completion.NewJob(c.Backend, logger.Named("completion"))
	return e
}

// Start begins the refresh schedule and loads the first view right away.
func (e *Engine) Start() error {
	if err := e.poller.Start(e.cfg.PollRate, e.refresh); err != nil {
		return err
	}
	e.poller.Trigger()
	e.log.Info("engine started",
		zap.String("station", e.cfg.StationID),
		zap.Duration("poll_rate", e.cfg.PollRate),
		zap.Int("employees", len(e.cfg.Employees)))
	return nil
}

// Stop abandons open selections, stops polling and waits for running batches.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.cancel()
	for _, p := range e.selector.OpenPrompts() {
		e.selector.Cancel(p.ID)
	}
	e.poller.Stop()
	e.wg.Wait()
	e.log.Info("engine stopped")
}

// AppConfig returns the app config.
func (e *Engine) AppConfig() *config.Config { return e.cfg }

// Poller returns the refresh poller.
func (e *Engine) Poller() *poller.Poller { return e.poller }

// View returns the latest applied view.
func (e *Engine) View() View { return e.views.current() }

// TopProducts returns up to limit products ranked by waiting clients.
func (e *Engine) TopProducts(limit int) []stats.Ranked {
	all := e.views.current().All
	if limit <= 0 || len(all) == 0 {
		return []stats.Ranked{}
	}
	if limit > len(all) {
		limit = len(all)
	}
	return append([]stats.Ranked(nil), all[:limit]...)
}

// Employees returns the staff who can complete orders.
func (e *Engine) Employees() []string {
	e.cfg.Lock()
	defer e.cfg.Unlock()
	return append([]string(nil), e.cfg.Employees...)
}

// Refresh runs a refresh now, alongside the schedule. It returns false when
// the engine is not running.
func (e *Engine) Refresh() bool {
	return e.poller.Trigger()
}

// RefreshNow runs one refresh synchronously.
func (e *Engine) RefreshNow(ctx context.Context) error {
	return e.refresh(ctx)
}

// ReloadBackend asks the backend to rebuild its cache, then refreshes.
func (e *Engine) ReloadBackend(ctx context.Context) (*backend.RefreshResponse, error) {
	resp, err := e.api.Refresh(ctx)
	if err != nil {
		return resp, err
	}
	if !e.Refresh() {
		return resp, e.refresh(ctx)
	}
	return resp, nil
}

// ReportDates lists the days with completion reports.
func (e *Engine) ReportDates(ctx context.Context) ([]backend.ReportDate, error) {
	return e.api.ReportDates(ctx)
}

// TestConnection runs the backend's connectivity check.
func (e *Engine) TestConnection(ctx context.Context) (*backend.ConnectionTest, error) {
	return e.api.TestConnection(ctx)
}

func (e *Engine) refresh(ctx context.Context) error {
	gen := e.views.issue()

	var orders *backend.PendingOrdersResponse
	var st *backend.StatsResponse
	var g errgroup.Group
	g.Go(func() (err error) {
		orders, err = e.api.PendingOrders(ctx)
		return err
	})
	g.Go(func() (err error) {
		st, err = e.api.Stats(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		if e.views.fail(gen, RefreshErrorMessage) {
			e.Events.Emit(Event{Type: EventRefreshFailed, Payload: RefreshFailedEvent{
				Generation: gen, Message: RefreshErrorMessage, Error: err.Error(),
			}})
		}
		return fmt.Errorf("refresh: %w", err)
	}

	records, dropped := stats.Pair(st.Stats.ProductLabels, st.Stats.ProductCounts)
	if dropped > 0 {
		e.log.Warn("stats arrays differ in length",
			zap.Int("labels", len(st.Stats.ProductLabels)),
			zap.Int("counts", len(st.Stats.ProductCounts)),
			zap.Int("dropped", dropped))
	}

	v := buildView(orders, st, records, e.cfg.Stats.TopN)
	if !e.views.apply(gen, v) {
		e.log.Debug("discarding stale refresh", zap.Uint64("generation", gen))
		return nil
	}
	e.log.Debug("view refreshed",
		zap.Uint64("generation", gen),
		zap.Int("products", v.TotalProducts),
		zap.Int("clients", v.TotalClients))
	e.Events.Emit(Event{Type: EventViewRefreshed, Payload: ViewRefreshedEvent{
		Generation:    gen,
		TotalProducts: v.TotalProducts,
		TotalClients:  v.TotalClients,
		IsCache:       v.IsCache,
	}})
	return nil
}

// StartCompletion opens an employee prompt for completing productCode for
// clients and returns it. Once an employee is chosen the batch runs in the
// background and its result is emitted as EventBatchCompleted or
// EventBatchFailed. An abandoned prompt runs nothing.
func (e *Engine) StartCompletion(productCode, productName string, clients []string) (employee.Prompt, error) {
	if len(clients) == 0 {
		return employee.Prompt{}, completion.ErrNoClients
	}
	if productName == "" {
		productName = e.productName(productCode)
	}
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return employee.Prompt{}, ErrStopped
	}
	e.wg.Add(1)
	e.mu.Unlock()

	p, err := e.selector.Open(e.Employees())
	if err != nil {
		e.wg.Done()
		return employee.Prompt{}, err
	}
	clients = append([]string(nil), clients...)

	go func() {
		defer e.wg.Done()
		e.runBatch(p, productCode, productName, clients)
	}()
	return p.Prompt, nil
}

// ResolveSelection records the employee chosen for an open prompt.
func (e *Engine) ResolveSelection(id, name string) error {
	return e.selector.Resolve(id, name)
}

// CancelSelection abandons an open prompt.
func (e *Engine) CancelSelection(id string) error {
	return e.selector.Cancel(id)
}

// OpenPrompts lists the prompts waiting for a choice.
func (e *Engine) OpenPrompts() []employee.Prompt {
	return e.selector.OpenPrompts()
}

func (e *Engine) runBatch(p *employee.Pending, productCode, productName string, clients []string) {
	name, err := p.Wait(e.ctx)
	if err != nil {
		e.log.Info("completion abandoned",
			zap.String("selection", p.ID), zap.String("product", productCode), zap.Error(err))
		return
	}

	res, err := e.job.Complete(e.ctx, productCode, productName, clients, name)
	evt := BatchEvent{SelectionID: p.ID, Result: res}

	var terr *completion.TransportError
	switch {
	case errors.As(err, &terr):
		evt.Transport = true
		evt.Message = CompletionErrorMessage
	case err != nil:
		evt.Message = CompletionErrorMessage
	case !res.AllSucceeded:
		evt.Message = CompletionPartialMessage + res.Message()
	default:
		evt.Reload = true
		evt.Message = fmt.Sprintf("%d pedido(s) concluído(s) por %s", len(clients), name)
	}

	if evt.Reload {
		e.Events.Emit(Event{Type: EventBatchCompleted, Payload: evt})
		e.Refresh()
		return
	}
	e.Events.Emit(Event{Type: EventBatchFailed, Payload: evt})
}

func (e *Engine) productName(code string) string {
	for _, o := range e.views.current().Orders {
		if o.Code == code {
			return o.Name
		}
	}
	return ""
}
