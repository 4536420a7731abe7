package coordinator

import (
	"context"
	"time"
)

// AccessMode selects how the write strategy enforces permissions.
type AccessMode int

const (
	// AsSystem bypasses field and object level permission checks.
	AsSystem AccessMode = iota
	// AsUser applies the acting user's effective permissions.
	AsUser
)

func (m AccessMode) String() string {
	if m == AsUser {
		return "user"
	}
	return "system"
}

// Strictness tunes user-mode enforcement.
type Strictness int

const (
	StrictnessStandard Strictness = iota
	StrictnessStrict
)

// ExecRequest describes one batch handed to the bulk write executor.
// Records are all of the same entity type and operation kind.
type ExecRequest struct {
	EntityType string
	Kind       OpKind
	Records    []Record
	// FieldMask restricts an update to the named fields. Nil means all.
	FieldMask []string
	Mode      AccessMode
	// ActingUser identifies the user whose permissions apply in AsUser
	// mode. Ignored in AsSystem mode.
	ActingUser string
	Strictness Strictness
}

// RowResult reports the outcome of one record within a batch. The
// executor must return one result per input record, in input order.
type RowResult struct {
	Record  Record
	Success bool
	Message string
}

// BulkWriteExecutor executes a batch of operations of one kind against
// one entity type. Row-level failures are reported in the results, not
// as an error; a non-nil error means the whole batch could not run.
type BulkWriteExecutor interface {
	Execute(ctx context.Context, req ExecRequest) ([]RowResult, error)
}

// LookupService resolves external identifiers to durable identities.
// The coordinator calls it at most once per distinct (entityType,
// field) pair per commit, batched over all requested values. Values
// with no match are simply absent from the returned map.
type LookupService interface {
	FindByExternalID(ctx context.Context, entityType, field string, values []any) (map[any]string, error)
}

// Event is a domain event staged for dispatch at one lifecycle phase.
type Event interface {
	EventName() string
	AggregateID() string
	OccurredOn() time.Time
}

// EventPhase selects when a staged event is dispatched.
type EventPhase int

const (
	// PhaseBeforeTransaction dispatches before any write runs.
	PhaseBeforeTransaction EventPhase = iota
	// PhaseAfterSuccess dispatches only after a fully successful commit.
	PhaseAfterSuccess
	// PhaseAfterFailure dispatches only after a failed commit.
	PhaseAfterFailure
)

func (p EventPhase) String() string {
	switch p {
	case PhaseBeforeTransaction:
		return "before_transaction"
	case PhaseAfterSuccess:
		return "after_success"
	case PhaseAfterFailure:
		return "after_failure"
	default:
		return "unknown"
	}
}

// BasicEvent is a ready-made Event implementation.
type BasicEvent struct {
	Name      string
	Aggregate string
	At        time.Time
	Data      any
}

// NewEvent creates a BasicEvent stamped with the current time.
func NewEvent(name, aggregateID string, data any) BasicEvent {
	return BasicEvent{Name: name, Aggregate: aggregateID, At: time.Now(), Data: data}
}

func (e BasicEvent) EventName() string     { return e.Name }
func (e BasicEvent) AggregateID() string   { return e.Aggregate }
func (e BasicEvent) OccurredOn() time.Time { return e.At }

// EventData exposes the payload to transports that persist it.
func (e BasicEvent) EventData() any { return e.Data }

var _ Event = BasicEvent{}

// EventTransport publishes one event. Called once per staged event, in
// enqueue order.
type EventTransport interface {
	Publish(ctx context.Context, event Event) error
}

// Message is an auxiliary message flushed after custom work.
type Message struct {
	Topic   string
	Payload any
}

// MessageTransport sends auxiliary messages, flushed once per commit
// after work units, in enqueue order.
type MessageTransport interface {
	Send(ctx context.Context, msg Message) error
}

// WorkUnit is a single unit of custom logic invoked exactly once per
// commit, after all DML phases, in registration order.
type WorkUnit interface {
	Perform(ctx context.Context) error
}

// WorkFunc adapts a function to the WorkUnit interface.
type WorkFunc func(ctx context.Context) error

func (f WorkFunc) Perform(ctx context.Context) error { return f(ctx) }

// Savepoint is a resumable rollback point within the ambient storage
// transaction. It is released implicitly when the ambient transaction
// proceeds; Rollback is only called on DML-phase failure.
type Savepoint interface {
	Rollback(ctx context.Context) error
}

// SavepointProvider opens a savepoint at the start of the DML phase.
type SavepointProvider interface {
	Open(ctx context.Context) (Savepoint, error)
}
