// Package employee resolves which staff member is completing a batch.
//
// A selection is opened with a fixed candidate list, surfaced to the browser,
// and resolved later by an HTTP request carrying the chosen name. A selection
// that is cancelled, times out, or whose waiter gives up is abandoned, and an
// abandoned selection never yields a name.
package employee

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrAbandoned is returned when a selection ends without a choice.
	ErrAbandoned = errors.New("employee selection abandoned")
	// ErrUnknownCandidate is returned when a name outside the presented list is chosen.
	ErrUnknownCandidate = errors.New("employee is not one of the presented candidates")
	// ErrNotFound is returned for an unknown or already closed selection.
	ErrNotFound = errors.New("employee selection not found")
	// ErrNoCandidates is returned when a selection is opened with an empty list.
	ErrNoCandidates = errors.New("no employee candidates")
)

// Prompt describes an open selection as shown to the browser.
type Prompt struct {
	ID         string    `json:"id"`
	Candidates []string  `json:"candidates"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Closed describes how a selection ended.
type Closed struct {
	ID       string `json:"id"`
	Employee string `json:"employee,omitempty"`
	Reason   string `json:"reason"` // "selected", "cancelled", "timeout" or "abandoned"
}

// Emitter receives prompt lifecycle notifications.
type Emitter interface {
	EmitPromptOpened(p Prompt)
	EmitPromptClosed(c Closed)
}

// Pending is one open selection.
type Pending struct {
	Prompt

	sel    *Selector
	done   chan struct{}
	once   sync.Once
	choice string
	err    error
	timer  *time.Timer
}

// Wait blocks until the selection is resolved or abandoned. Giving up on ctx
// abandons the selection.
func (p *Pending) Wait(ctx context.Context) (string, error) {
	select {
	case <-p.done:
		return p.choice, p.err
	case <-ctx.Done():
		p.sel.finish(p, "", ErrAbandoned, "abandoned")
		<-p.done
		return p.choice, p.err
	}
}

// Done is closed once the selection reaches a terminal state.
func (p *Pending) Done() <-chan struct{} { return p.done }

func (p *Pending) valid(name string) bool {
	for _, c := range p.Candidates {
		if c == name {
			return true
		}
	}
	return false
}

// Selector tracks open selections.
type Selector struct {
	log     *zap.Logger
	emit    Emitter
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*Pending
}

// NewSelector creates a selector. A zero timeout keeps prompts open until
// they are resolved or cancelled. emit may be nil.
func NewSelector(emit Emitter, timeout time.Duration, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		log:     logger,
		emit:    emit,
		timeout: timeout,
		pending: make(map[string]*Pending),
	}
}

// Open registers a new selection over candidates and announces it.
func (s *Selector) Open(candidates []string) (*Pending, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	p := &Pending{
		Prompt: Prompt{
			ID:         uuid.New().String(),
			Candidates: append([]string(nil), candidates...),
			OpenedAt:   time.Now(),
		},
		sel:  s,
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.pending[p.ID] = p
	if s.timeout > 0 {
		p.timer = time.AfterFunc(s.timeout, func() {
			s.finish(p, "", ErrAbandoned, "timeout")
		})
	}
	s.mu.Unlock()

	s.log.Debug("employee prompt opened", zap.String("selection", p.ID), zap.Int("candidates", len(candidates)))
	if s.emit != nil {
		s.emit.EmitPromptOpened(p.Prompt)
	}
	return p, nil
}

// Select opens a selection and waits for it.
func (s *Selector) Select(ctx context.Context, candidates []string) (string, error) {
	p, err := s.Open(candidates)
	if err != nil {
		return "", err
	}
	return p.Wait(ctx)
}

// Resolve picks name for selection id. A name that was not presented leaves
// the selection open.
func (s *Selector) Resolve(id, name string) error {
	p, ok := s.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !p.valid(name) {
		return fmt.Errorf("%w: %q", ErrUnknownCandidate, name)
	}
	if !s.finish(p, name, nil, "selected") {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Cancel abandons selection id.
func (s *Selector) Cancel(id string) error {
	p, ok := s.get(id)
	if !ok || !s.finish(p, "", ErrAbandoned, "cancelled") {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// OpenPrompts returns the prompts still waiting for a choice.
func (s *Selector) OpenPrompts() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Prompt, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p.Prompt)
	}
	return out
}

func (s *Selector) get(id string) (*Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	return p, ok
}

// finish moves p to its terminal state exactly once. It reports whether this
// call was the one that closed it.
func (s *Selector) finish(p *Pending, name string, err error, reason string) bool {
	closed := false
	p.once.Do(func() {
		s.mu.Lock()
		delete(s.pending, p.ID)
		if p.timer != nil {
			p.timer.Stop()
		}
		s.mu.Unlock()

		p.choice, p.err = name, err
		close(p.done)
		closed = true
	})
	if !closed {
		return false
	}

	s.log.Debug("employee prompt closed",
		zap.String("selection", p.ID), zap.String("reason", reason), zap.String("employee", name))
	if s.emit != nil {
		s.emit.EmitPromptClosed(Closed{ID: p.ID, Employee: name, Reason: reason})
	}
	return true
}
