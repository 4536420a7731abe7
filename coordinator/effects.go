package coordinator

import "fmt"

// effectsQueue holds the deferred side effects of one commit: three
// independently drained event queues, the auxiliary message queue and
// the custom work queue. Entries are enqueued during registration,
// never mutated, and dispatched at most once.
type effectsQueue struct {
	events   map[EventPhase][]Event
	messages []Message
	work     []WorkUnit
}

func newEffectsQueue() *effectsQueue {
	return &effectsQueue{events: make(map[EventPhase][]Event)}
}

func validateEvent(event Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.EventName() == "" {
		return fmt.Errorf("event name cannot be empty")
	}
	if event.OccurredOn().IsZero() {
		return fmt.Errorf("event occurred-on time cannot be zero")
	}
	return nil
}

func (q *effectsQueue) addEvent(phase EventPhase, event Event) error {
	switch phase {
	case PhaseBeforeTransaction, PhaseAfterSuccess, PhaseAfterFailure:
	default:
		return newConfigurationError("unknown event phase %d", int(phase))
	}
	if err := validateEvent(event); err != nil {
		return newConfigurationError("invalid event: %v", err)
	}
	q.events[phase] = append(q.events[phase], event)
	return nil
}

func (q *effectsQueue) addMessage(msg Message) error {
	if msg.Topic == "" {
		return newConfigurationError("message topic cannot be empty")
	}
	q.messages = append(q.messages, msg)
	return nil
}

func (q *effectsQueue) addWork(unit WorkUnit) error {
	if unit == nil {
		return newConfigurationError("cannot register a nil work unit")
	}
	q.work = append(q.work, unit)
	return nil
}

// drainEvents returns and discards the queue for one phase.
func (q *effectsQueue) drainEvents(phase EventPhase) []Event {
	events := q.events[phase]
	q.events[phase] = nil
	return events
}
