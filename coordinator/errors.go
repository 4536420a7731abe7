package coordinator

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks. The structured types below wrap
// these and carry the context needed to build a diagnostic without
// re-querying storage.
var (
	// ErrConfiguration marks misuse of the coordinator itself:
	// unregistered entity types, missing collaborators, nil records.
	ErrConfiguration = errors.New("coordinator configuration error")

	// ErrAlreadyCommitted marks a second commit attempt on the same
	// coordinator instance.
	ErrAlreadyCommitted = errors.New("coordinator already committed")

	// ErrRelationshipResolution marks a pending link that could not be
	// rewritten to a real identity before its owner's batch executed.
	ErrRelationshipResolution = errors.New("relationship resolution failed")

	// ErrRowLevelWrite marks a per-record failure reported by the bulk
	// write executor.
	ErrRowLevelWrite = errors.New("row-level write failed")

	// ErrDispatch marks an event or message transport failure.
	ErrDispatch = errors.New("dispatch failed")

	// ErrCustomWork marks a work unit failure after the DML phase.
	ErrCustomWork = errors.New("custom work failed")
)

// ConfigurationError reports coordinator misuse.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

func newConfigurationError(format string, args ...any) error {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// AlreadyCommittedError reports reuse of a one-shot coordinator.
type AlreadyCommittedError struct{}

func (e *AlreadyCommittedError) Error() string {
	return "coordinator instance has already committed and cannot be reused"
}

func (e *AlreadyCommittedError) Unwrap() error { return ErrAlreadyCommitted }

// RelationshipError reports a link that stayed unresolved, or an
// external identifier with no match in storage.
type RelationshipError struct {
	OwnerType       string
	OwnerField      string
	TargetType      string
	ExternalIDField string
	ExternalIDValue any
	Message         string
}

func (e *RelationshipError) Error() string { return e.Message }

func (e *RelationshipError) Unwrap() error { return ErrRelationshipResolution }

// RowError reports one failed record inside a batch, identified by
// entity type, operation kind and position within the batch.
type RowError struct {
	EntityType string
	Kind       OpKind
	Index      int
	RecordID   string
	Message    string
}

func (e *RowError) Error() string {
	id := e.RecordID
	if id == "" {
		id = fmt.Sprintf("#%d", e.Index)
	}
	return fmt.Sprintf("%s %s row %s: %s", e.EntityType, e.Kind, id, e.Message)
}

func (e *RowError) Unwrap() error { return ErrRowLevelWrite }

// DispatchError reports an event or message transport failure in a
// given commit phase.
type DispatchError struct {
	Phase string
	Cause error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed in %s phase: %v", e.Phase, e.Cause)
}

func (e *DispatchError) Unwrap() []error { return []error{ErrDispatch, e.Cause} }

// CustomWorkError reports a work unit failure, identified by its
// registration position.
type CustomWorkError struct {
	Index int
	Cause error
}

func (e *CustomWorkError) Error() string {
	return fmt.Sprintf("work unit %d failed: %v", e.Index, e.Cause)
}

func (e *CustomWorkError) Unwrap() []error { return []error{ErrCustomWork, e.Cause} }
