// Package writer provides item writers used by chunk steps.
package writer

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// GormBulkWriter is a [port.ItemWriter] that upserts each chunk into a table in one
// transaction, split into statements of at most BulkSize rows.
type GormBulkWriter[T any] struct {
	name            string   // name is used in logs and errors.
	db              *gorm.DB // db is the target database.
	bulkSize        int      // bulkSize is the maximum number of rows per INSERT statement.
	conflictColumns []string // conflictColumns identify an existing row (usually the primary key).
	updateColumns   []string // updateColumns are overwritten on conflict. Empty means DO NOTHING.
}

var _ port.ItemWriter[any] = (*GormBulkWriter[any])(nil)

// NewGormBulkWriter creates a [GormBulkWriter].
//
// Parameters:
//
//	name: A name for this writer instance.
//	db: The target database. The table is the one gorm derives for T.
//	bulkSize: The maximum number of rows per statement.
//	conflictColumns: The columns used for conflict resolution. Empty means plain INSERT.
//	updateColumns: The columns to update on conflict (empty for DO NOTHING).
func NewGormBulkWriter[T any](name string, db *gorm.DB, bulkSize int, conflictColumns []string, updateColumns []string) (*GormBulkWriter[T], error) {
	if db == nil {
		return nil, exception.NewConfigError("GormBulkWriter", "db", "must not be nil")
	}
	if bulkSize <= 0 {
		return nil, exception.NewConfigError("GormBulkWriter", "bulkSize", "must be greater than zero")
	}
	return &GormBulkWriter[T]{
		name:            name,
		db:              db,
		bulkSize:        bulkSize,
		conflictColumns: conflictColumns,
		updateColumns:   updateColumns,
	}, nil
}

// Write implements [port.ItemWriter]. The chunk is written atomically.
func (w *GormBulkWriter[T]) Write(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}

	db := w.db.WithContext(ctx)
	if len(w.conflictColumns) > 0 {
		onConflict := clause.OnConflict{DoNothing: len(w.updateColumns) == 0}
		for _, c := range w.conflictColumns {
			onConflict.Columns = append(onConflict.Columns, clause.Column{Name: c})
		}
		if len(w.updateColumns) > 0 {
			onConflict.DoUpdates = clause.AssignmentColumns(w.updateColumns)
		}
		db = db.Clauses(onConflict)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(items, w.bulkSize).Error
	})
	if err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("GormBulkWriter '%s' failed to write %d items", w.name, len(items)), err, false, true)
	}
	logger.Debugf("GormBulkWriter '%s': wrote %d items.", w.name, len(items))
	return nil
}
