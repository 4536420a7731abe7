package mysql

import (
	"context"
	"fmt"
	"strings"

	"uow/coordinator"
	"uow/infrastructure/persistence"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Savepoints provides savepoints within the ambient GORM transaction.
// The transaction must already be in context: savepoints are rollback
// points inside it, not transactions of their own.
type Savepoints struct{}

func NewSavepoints() *Savepoints {
	return &Savepoints{}
}

func (s *Savepoints) Open(ctx context.Context) (coordinator.Savepoint, error) {
	tx := persistence.TxFromContext(ctx)
	if tx == nil {
		return nil, fmt.Errorf("savepoint requires an ambient transaction in context")
	}
	name := "sp_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	if err := tx.SavePoint(name).Error; err != nil {
		return nil, fmt.Errorf("failed to create savepoint %s: %w", name, err)
	}
	return &savepoint{tx: tx, name: name}, nil
}

type savepoint struct {
	tx   *gorm.DB
	name string
}

func (s *savepoint) Rollback(ctx context.Context) error {
	if err := s.tx.RollbackTo(s.name).Error; err != nil {
		return fmt.Errorf("failed to roll back to savepoint %s: %w", s.name, err)
	}
	return nil
}

var _ coordinator.SavepointProvider = (*Savepoints)(nil)
