package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"
)

var fakeIDCounter atomic.Int64

func nextFakeID() string {
	return fmt.Sprintf("id-%03d", fakeIDCounter.Add(1))
}

// fakeExecutor is an in-memory bulk write executor. It keeps one row
// slice per entity type and records every request for assertions.
type fakeExecutor struct {
	store    map[string][]map[string]any
	requests []ExecRequest

	// failType/failKind force a row-level failure for one batch.
	failType string
	failKind OpKind
	// batchErr, when set, is returned as a whole-batch error instead.
	batchErr error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{store: make(map[string][]map[string]any)}
}

func (e *fakeExecutor) failOn(entityType string, kind OpKind) {
	e.failType = entityType
	e.failKind = kind
}

func (e *fakeExecutor) rows(entityType string) []map[string]any {
	return e.store[entityType]
}

func (e *fakeExecutor) findRow(entityType, id string) map[string]any {
	for _, row := range e.store[entityType] {
		if row["id"] == id {
			return row
		}
	}
	return nil
}

func (e *fakeExecutor) snapshot() map[string][]map[string]any {
	snap := make(map[string][]map[string]any, len(e.store))
	for t, rows := range e.store {
		copied := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			rowCopy := make(map[string]any, len(row))
			for k, v := range row {
				rowCopy[k] = v
			}
			copied = append(copied, rowCopy)
		}
		snap[t] = copied
	}
	return snap
}

func (e *fakeExecutor) restore(snap map[string][]map[string]any) {
	e.store = snap
}

func (e *fakeExecutor) Execute(ctx context.Context, req ExecRequest) ([]RowResult, error) {
	e.requests = append(e.requests, req)
	if e.batchErr != nil {
		return nil, e.batchErr
	}

	results := make([]RowResult, 0, len(req.Records))
	for _, r := range req.Records {
		rec := r.(*GenericRecord)
		if req.EntityType == e.failType && req.Kind == e.failKind {
			results = append(results, RowResult{Record: rec, Success: false, Message: "forced failure"})
			continue
		}
		var err error
		switch req.Kind {
		case OpInsert:
			if rec.ID() == "" {
				rec.SetID(nextFakeID())
			}
			e.store[req.EntityType] = append(e.store[req.EntityType], rec.Fields())
		case OpUpdate:
			err = e.applyUpdate(req, rec)
		case OpDelete:
			err = e.applyDelete(req.EntityType, rec, false)
		case OpPermanentDelete:
			err = e.applyDelete(req.EntityType, rec, true)
		default:
			return nil, fmt.Errorf("fake executor does not support %s batches", req.Kind)
		}
		result := RowResult{Record: rec, Success: err == nil}
		if err != nil {
			result.Message = err.Error()
		}
		results = append(results, result)
	}
	return results, nil
}

func (e *fakeExecutor) applyUpdate(req ExecRequest, rec *GenericRecord) error {
	row := e.findRow(req.EntityType, rec.ID())
	if row == nil || row["deleted_at"] != nil {
		return fmt.Errorf("no %s row with id %s", req.EntityType, rec.ID())
	}
	fields := rec.Fields()
	if len(req.FieldMask) > 0 {
		for _, f := range req.FieldMask {
			if v, ok := fields[f]; ok {
				row[f] = v
			}
		}
		return nil
	}
	for k, v := range fields {
		row[k] = v
	}
	return nil
}

func (e *fakeExecutor) applyDelete(entityType string, rec *GenericRecord, permanent bool) error {
	rows := e.store[entityType]
	for i, row := range rows {
		if row["id"] != rec.ID() {
			continue
		}
		if permanent {
			e.store[entityType] = append(rows[:i], rows[i+1:]...)
		} else {
			row["deleted_at"] = "deleted"
		}
		return nil
	}
	return fmt.Errorf("no %s row with id %s", entityType, rec.ID())
}

// fakeSavepoints snapshots the fake executor's store so a rollback can
// restore it, mirroring the storage layer's savepoint discipline.
type fakeSavepoints struct {
	exec      *fakeExecutor
	opened    int
	rollbacks int
}

func (s *fakeSavepoints) Open(ctx context.Context) (Savepoint, error) {
	s.opened++
	return &fakeSavepoint{provider: s, snap: s.exec.snapshot()}, nil
}

type fakeSavepoint struct {
	provider *fakeSavepoints
	snap     map[string][]map[string]any
}

func (s *fakeSavepoint) Rollback(ctx context.Context) error {
	s.provider.rollbacks++
	s.provider.exec.restore(s.snap)
	return nil
}

type lookupCall struct {
	entityType string
	field      string
	values     []any
}

// fakeLookup resolves external ids from a seeded table and records
// every call for batching assertions.
type fakeLookup struct {
	calls []lookupCall
	// data is entityType -> field -> externalValue -> id
	data map[string]map[string]map[any]string
	err  error
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{data: make(map[string]map[string]map[any]string)}
}

func (l *fakeLookup) seed(entityType, field string, value any, id string) {
	if l.data[entityType] == nil {
		l.data[entityType] = make(map[string]map[any]string)
	}
	if l.data[entityType][field] == nil {
		l.data[entityType][field] = make(map[any]string)
	}
	l.data[entityType][field][value] = id
}

func (l *fakeLookup) FindByExternalID(ctx context.Context, entityType, field string, values []any) (map[any]string, error) {
	l.calls = append(l.calls, lookupCall{entityType: entityType, field: field, values: values})
	if l.err != nil {
		return nil, l.err
	}
	found := make(map[any]string)
	byField, ok := l.data[entityType]
	if !ok {
		return found, nil
	}
	byValue, ok := byField[field]
	if !ok {
		return found, nil
	}
	for _, v := range values {
		if id, ok := byValue[v]; ok {
			found[v] = id
		}
	}
	return found, nil
}

// fakeEvents captures published events; it can be told to fail on a
// specific event name.
type fakeEvents struct {
	published []Event
	failOn    string
}

func (t *fakeEvents) Publish(ctx context.Context, event Event) error {
	if t.failOn != "" && event.EventName() == t.failOn {
		return fmt.Errorf("transport rejected event %s", event.EventName())
	}
	t.published = append(t.published, event)
	return nil
}

func (t *fakeEvents) names() []string {
	out := make([]string, 0, len(t.published))
	for _, ev := range t.published {
		out = append(out, ev.EventName())
	}
	return out
}

type fakeMessages struct {
	sent []Message
	err  error
}

func (t *fakeMessages) Send(ctx context.Context, msg Message) error {
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, msg)
	return nil
}

// testRig bundles a coordinator with its fakes.
type testRig struct {
	exec       *fakeExecutor
	savepoints *fakeSavepoints
	lookup     *fakeLookup
	events     *fakeEvents
	messages   *fakeMessages
}

func newTestRig() *testRig {
	exec := newFakeExecutor()
	return &testRig{
		exec:       exec,
		savepoints: &fakeSavepoints{exec: exec},
		lookup:     newFakeLookup(),
		events:     &fakeEvents{},
		messages:   &fakeMessages{},
	}
}

func (r *testRig) deps() Deps {
	return Deps{
		Strategy:   NewSystemStrategy(r.exec),
		Savepoints: r.savepoints,
		Lookup:     r.lookup,
		Events:     r.events,
		Messages:   r.messages,
	}
}

func (r *testRig) coordinator(entityTypes []string, opts ...Option) (*Coordinator, error) {
	return New(entityTypes, r.deps(), opts...)
}
