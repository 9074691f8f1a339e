// Package completion marks one product complete for a set of clients.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mvnigro/monitor-produtos/backend"
)

// DefaultSeparador is sent in every request; the backend stores it verbatim.
const DefaultSeparador = "N/A"

var (
	// ErrNoClients is returned for a batch without clients.
	ErrNoClients = errors.New("completion: no clients")
	// ErrNoEmployee is returned when completedBy is empty.
	ErrNoEmployee = errors.New("completion: no employee")
)

// Submitter sends one completion request to the backend. A nil error means the
// backend answered with a readable outcome, successful or not.
type Submitter interface {
	CompleteOrder(ctx context.Context, req backend.CompletionRequest) (backend.CompletionOutcome, error)
}

// Outcome is the settled state of one client's request.
type Outcome struct {
	Client  string `json:"client"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	// Transport is set when the request never produced a backend outcome.
	Transport bool `json:"transport,omitempty"`
}

// BatchResult aggregates the outcomes of one batch.
type BatchResult struct {
	ID           string    `json:"id"`
	ProductCode  string    `json:"product_code"`
	ProductName  string    `json:"product_name"`
	CompletedBy  string    `json:"completed_by"`
	AllSucceeded bool      `json:"all_succeeded"`
	FailedErrors []string  `json:"failed_errors"`
	Outcomes     []Outcome `json:"outcomes"`
	Finished     time.Time `json:"finished"`
}

// Message joins the application failures for display.
func (r BatchResult) Message() string {
	return strings.Join(r.FailedErrors, ", ")
}

// TransportError reports the clients whose requests did not reach a backend
// outcome. Application failures of other clients stay in the BatchResult.
type TransportError struct {
	Clients []string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("completion: %d request(s) failed in transport (%s): %v",
		len(e.Clients), strings.Join(e.Clients, ", "), e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Job submits completion batches.
type Job struct {
	submit    Submitter
	separador string
	log       *zap.Logger
}

// NewJob creates a job that submits through s.
func NewJob(s Submitter, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{submit: s, separador: DefaultSeparador, log: logger}
}

// WithSeparador overrides the separador passthrough value.
func (j *Job) WithSeparador(v string) *Job {
	j.separador = v
	return j
}

// Complete issues one request per client concurrently and waits for every
// one of them to settle. One client failing never cancels the others.
//
// AllSucceeded is true only if every outcome succeeded. FailedErrors holds
// the backend messages of unsuccessful outcomes in client order. When any
// request fails in transport, Complete returns a *TransportError together
// with the BatchResult; those clients are not counted in FailedErrors.
func (j *Job) Complete(ctx context.Context, productCode, productName string, clients []string, completedBy string) (BatchResult, error) {
	if len(clients) == 0 {
		return BatchResult{}, ErrNoClients
	}
	if strings.TrimSpace(completedBy) == "" {
		return BatchResult{}, ErrNoEmployee
	}

	result := BatchResult{
		ID:          uuid.New().String(),
		ProductCode: productCode,
		ProductName: productName,
		CompletedBy: completedBy,
	}

	outcomes := make([]backend.CompletionOutcome, len(clients))
	errs := make([]error, len(clients))

	// No derived context: a failed request must not cancel its siblings.
	var g errgroup.Group
	for i, client := range clients {
		req := backend.CompletionRequest{
			ProductCode: productCode,
			ProductName: productName,
			ClientName:  client,
			CompletedBy: completedBy,
			Separador:   j.separador,
		}
		i := i // per-iteration copy (module targets go1.21 loop semantics)
		g.Go(func() error {
			outcomes[i], errs[i] = j.submit.CompleteOrder(ctx, req)
			return nil
		})
	}
	g.Wait()

	result.AllSucceeded = true
	result.FailedErrors = []string{}
	result.Outcomes = make([]Outcome, len(clients))
	var terr TransportError
	var causes []error

	for i, client := range clients {
		o := Outcome{Client: client}
		switch {
		case errs[i] != nil:
			o.Transport = true
			o.Error = errs[i].Error()
			terr.Clients = append(terr.Clients, client)
			causes = append(causes, fmt.Errorf("%s: %w", client, errs[i]))
			result.AllSucceeded = false
		case outcomes[i].Success:
			o.Success = true
		default:
			o.Error = outcomes[i].Error
			result.FailedErrors = append(result.FailedErrors, outcomes[i].Error)
			result.AllSucceeded = false
		}
		result.Outcomes[i] = o
	}
	result.Finished = time.Now()

	log := j.log.With(
		zap.String("batch", result.ID),
		zap.String("product", productCode),
		zap.String("completed_by", completedBy),
		zap.Int("clients", len(clients)),
	)
	if len(causes) > 0 {
		terr.Err = errors.Join(causes...)
		log.Warn("completion transport failure", zap.Strings("failed_clients", terr.Clients), zap.Error(terr.Err))
		return result, &terr
	}
	if !result.AllSucceeded {
		log.Info("completion rejected by backend", zap.Strings("errors", result.FailedErrors))
	} else {
		log.Info("completion succeeded")
	}
	return result, nil
}
