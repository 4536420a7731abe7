package mysql

import (
	"context"
	"fmt"

	"uow/coordinator"
	"uow/infrastructure/persistence"

	"gorm.io/gorm"
)

// Lookup resolves external identifiers with a single IN query per
// (entity type, field) pair, matching the batching contract of the
// coordinator's lookup service.
type Lookup struct {
	db *gorm.DB
}

func NewLookup(db *gorm.DB) *Lookup {
	return &Lookup{db: db}
}

func (l *Lookup) getDB(ctx context.Context) *gorm.DB {
	if tx := persistence.TxFromContext(ctx); tx != nil {
		return tx
	}
	return l.db.WithContext(ctx)
}

func (l *Lookup) FindByExternalID(ctx context.Context, entityType, field string, values []any) (map[any]string, error) {
	if len(values) == 0 {
		return map[any]string{}, nil
	}

	var rows []map[string]any
	// Soft-deleted rows are not valid link targets.
	err := l.getDB(ctx).Table(entityType).
		Select("id", field).
		Where(fmt.Sprintf("`%s` IN ?", field), values).
		Where("deleted_at IS NULL").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("external-id lookup on %s.%s: %w", entityType, field, err)
	}

	// The driver may hand back []byte or integer column values; match
	// on normalized string form so the caller's map keys stay the
	// values it asked for.
	byNorm := make(map[string]string, len(rows))
	for _, row := range rows {
		id := normalize(row["id"])
		if id == "" {
			continue
		}
		byNorm[normalize(row[field])] = id
	}

	found := make(map[any]string, len(values))
	for _, v := range values {
		if id, ok := byNorm[normalize(v)]; ok {
			found[v] = id
		}
	}
	return found, nil
}

func normalize(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

var _ coordinator.LookupService = (*Lookup)(nil)
