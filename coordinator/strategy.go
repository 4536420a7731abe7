package coordinator

import "context"

// WriteStrategy applies one execution policy uniformly to every batch.
// Each method operates on a single entity type's batch and returns one
// result per input record, in input order; row-level failures are data,
// never panics.
type WriteStrategy interface {
	Insert(ctx context.Context, entityType string, records []Record) ([]RowResult, error)
	Update(ctx context.Context, entityType string, records []Record, fieldMask []string) ([]RowResult, error)
	Delete(ctx context.Context, entityType string, records []Record) ([]RowResult, error)
	PermanentlyDelete(ctx context.Context, entityType string, records []Record) ([]RowResult, error)
	Upsert(ctx context.Context, entityType string, records []Record) ([]RowResult, error)
}

// execStrategy is the shared core of both concrete strategies: a thin
// policy layer over the bulk write executor.
type execStrategy struct {
	exec       BulkWriteExecutor
	mode       AccessMode
	actingUser string
	strictness Strictness
}

// NewSystemStrategy returns a strategy that executes every batch with
// system-level enforcement, bypassing permission checks.
func NewSystemStrategy(exec BulkWriteExecutor) WriteStrategy {
	return &execStrategy{exec: exec, mode: AsSystem}
}

// NewUserStrategy returns a strategy that executes every batch with the
// acting user's effective permissions at the given strictness.
func NewUserStrategy(exec BulkWriteExecutor, actingUser string, strictness Strictness) WriteStrategy {
	return &execStrategy{exec: exec, mode: AsUser, actingUser: actingUser, strictness: strictness}
}

func (s *execStrategy) run(ctx context.Context, entityType string, kind OpKind, records []Record, mask []string) ([]RowResult, error) {
	return s.exec.Execute(ctx, ExecRequest{
		EntityType: entityType,
		Kind:       kind,
		Records:    records,
		FieldMask:  mask,
		Mode:       s.mode,
		ActingUser: s.actingUser,
		Strictness: s.strictness,
	})
}

func (s *execStrategy) Insert(ctx context.Context, entityType string, records []Record) ([]RowResult, error) {
	return s.run(ctx, entityType, OpInsert, records, nil)
}

func (s *execStrategy) Update(ctx context.Context, entityType string, records []Record, fieldMask []string) ([]RowResult, error) {
	return s.run(ctx, entityType, OpUpdate, records, fieldMask)
}

func (s *execStrategy) Delete(ctx context.Context, entityType string, records []Record) ([]RowResult, error) {
	return s.run(ctx, entityType, OpDelete, records, nil)
}

func (s *execStrategy) PermanentlyDelete(ctx context.Context, entityType string, records []Record) ([]RowResult, error) {
	return s.run(ctx, entityType, OpPermanentDelete, records, nil)
}

// Upsert classifies each record at the moment of execution: identity
// present means update, absent means insert. Classification cannot
// happen earlier because prior batches in the same commit may have
// assigned identities dynamically. Results are merged back into input
// order.
func (s *execStrategy) Upsert(ctx context.Context, entityType string, records []Record) ([]RowResult, error) {
	var inserts, updates []Record
	var insertPos, updatePos []int
	for i, rec := range records {
		if rec.ID() == "" {
			inserts = append(inserts, rec)
			insertPos = append(insertPos, i)
		} else {
			updates = append(updates, rec)
			updatePos = append(updatePos, i)
		}
	}

	results := make([]RowResult, len(records))
	if len(inserts) > 0 {
		sub, err := s.run(ctx, entityType, OpInsert, inserts, nil)
		if err != nil {
			return nil, err
		}
		for i, r := range sub {
			results[insertPos[i]] = r
		}
	}
	if len(updates) > 0 {
		sub, err := s.run(ctx, entityType, OpUpdate, updates, nil)
		if err != nil {
			return nil, err
		}
		for i, r := range sub {
			results[updatePos[i]] = r
		}
	}
	return results, nil
}

var _ WriteStrategy = (*execStrategy)(nil)
