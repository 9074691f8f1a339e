package engine

import "github.com/mvnigro/monitor-produtos/employee"

// promptEmitter adapts the engine's EventBus to the employee.Emitter interface.
type promptEmitter struct {
	bus *EventBus
}

func (p *promptEmitter) EmitPromptOpened(pr employee.Prompt) {
	p.bus.Emit(Event{Type: EventPromptOpened, Payload: PromptOpenedEvent{
		SelectionID: pr.ID, Candidates: pr.Candidates,
	}})
}

func (p *promptEmitter) EmitPromptClosed(c employee.Closed) {
	p.bus.Emit(Event{Type: EventPromptClosed, Payload: PromptClosedEvent{
		SelectionID: c.ID, Employee: c.Employee, Reason: c.Reason,
	}})
}
