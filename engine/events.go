package engine

import (
	"time"

	"github.com/mvnigro/monitor-produtos/completion"
)

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// View events
	EventViewRefreshed EventType = iota + 1
	EventRefreshFailed

	// Employee prompt events
	EventPromptOpened
	EventPromptClosed

	// Batch events
	EventBatchCompleted
	EventBatchFailed
)

func (t EventType) String() string {
	switch t {
	case EventViewRefreshed:
		return "view-refreshed"
	case EventRefreshFailed:
		return "refresh-failed"
	case EventPromptOpened:
		return "prompt-opened"
	case EventPromptClosed:
		return "prompt-closed"
	case EventBatchCompleted:
		return "batch-completed"
	case EventBatchFailed:
		return "batch-failed"
	default:
		return "unknown"
	}
}

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// ViewRefreshedEvent is emitted when a newer view replaces the current one.
type ViewRefreshedEvent struct {
	Generation    uint64 `json:"generation"`
	TotalProducts int    `json:"total_products"`
	TotalClients  int    `json:"total_clients"`
	IsCache       bool   `json:"is_cache"`
}

// RefreshFailedEvent is emitted when a refresh could not reach the backend.
type RefreshFailedEvent struct {
	Generation uint64 `json:"generation"`
	Message    string `json:"message"`
	Error      string `json:"error"`
}

// PromptOpenedEvent asks browsers to show the employee chooser.
type PromptOpenedEvent struct {
	SelectionID string   `json:"selection_id"`
	Candidates  []string `json:"candidates"`
}

// PromptClosedEvent asks browsers to remove the chooser.
type PromptClosedEvent struct {
	SelectionID string `json:"selection_id"`
	Employee    string `json:"employee,omitempty"`
	Reason      string `json:"reason"`
}

// BatchEvent carries the result of one completion batch. Message is the
// text shown to the user; Transport is set when some requests never reached
// the backend.
type BatchEvent struct {
	SelectionID string                 `json:"selection_id"`
	Result      completion.BatchResult `json:"result"`
	Message     string                 `json:"message"`
	Transport   bool                   `json:"transport"`
	Reload      bool                   `json:"reload"`
}
