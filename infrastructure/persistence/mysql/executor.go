package mysql

import (
	"context"
	"fmt"
	"time"

	"uow/coordinator"
	"uow/infrastructure/persistence"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Executor is the MySQL/GORM bulk write executor. It treats the entity
// type as the table name and requires GenericRecord so fields can be
// written without per-entity schema mapping. Soft deletes set the
// deleted_at column; permanent deletes remove the row.
type Executor struct {
	db *gorm.DB
}

func NewExecutor(db *gorm.DB) *Executor {
	return &Executor{db: db}
}

// getDB returns the transaction from context if available, otherwise
// the default db. Inside a commit the ambient transaction is always
// present, so every batch shares one transaction boundary.
func (e *Executor) getDB(ctx context.Context) *gorm.DB {
	if tx := persistence.TxFromContext(ctx); tx != nil {
		return tx
	}
	return e.db.WithContext(ctx)
}

func (e *Executor) Execute(ctx context.Context, req coordinator.ExecRequest) ([]coordinator.RowResult, error) {
	db := e.getDB(ctx)

	results := make([]coordinator.RowResult, 0, len(req.Records))
	for _, r := range req.Records {
		rec, ok := r.(*coordinator.GenericRecord)
		if !ok {
			return nil, fmt.Errorf("mysql executor requires *coordinator.GenericRecord, got %T", r)
		}
		var err error
		switch req.Kind {
		case coordinator.OpInsert:
			err = e.insert(db, req.EntityType, rec)
		case coordinator.OpUpdate:
			err = e.update(db, req.EntityType, rec, req.FieldMask)
		case coordinator.OpDelete:
			err = e.softDelete(db, req.EntityType, rec)
		case coordinator.OpPermanentDelete:
			err = e.hardDelete(db, req.EntityType, rec)
		default:
			return nil, fmt.Errorf("mysql executor does not support %s batches", req.Kind)
		}
		result := coordinator.RowResult{Record: rec, Success: err == nil}
		if err != nil {
			result.Message = err.Error()
		}
		results = append(results, result)
	}
	return results, nil
}

func (e *Executor) insert(db *gorm.DB, table string, rec *coordinator.GenericRecord) error {
	if rec.ID() == "" {
		rec.SetID(uuid.New().String())
	}
	fields := rec.Fields()
	return db.Table(table).Create(fields).Error
}

func (e *Executor) update(db *gorm.DB, table string, rec *coordinator.GenericRecord, fieldMask []string) error {
	if rec.ID() == "" {
		return fmt.Errorf("cannot update a record with no identity")
	}
	fields := rec.Fields()
	delete(fields, "id")
	if len(fieldMask) > 0 {
		masked := make(map[string]any, len(fieldMask))
		for _, f := range fieldMask {
			if v, ok := fields[f]; ok {
				masked[f] = v
			}
		}
		fields = masked
	}
	if len(fields) == 0 {
		return nil
	}
	result := db.Table(table).
		Where("id = ? AND deleted_at IS NULL", rec.ID()).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no %s row with id %s", table, rec.ID())
	}
	return nil
}

func (e *Executor) softDelete(db *gorm.DB, table string, rec *coordinator.GenericRecord) error {
	if rec.ID() == "" {
		return fmt.Errorf("cannot delete a record with no identity")
	}
	result := db.Table(table).Where("id = ?", rec.ID()).
		Update("deleted_at", time.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no %s row with id %s", table, rec.ID())
	}
	return nil
}

func (e *Executor) hardDelete(db *gorm.DB, table string, rec *coordinator.GenericRecord) error {
	if rec.ID() == "" {
		return fmt.Errorf("cannot delete a record with no identity")
	}
	result := db.Exec(fmt.Sprintf("DELETE FROM `%s` WHERE id = ?", table), rec.ID())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no %s row with id %s", table, rec.ID())
	}
	return nil
}

var _ coordinator.BulkWriteExecutor = (*Executor)(nil)
