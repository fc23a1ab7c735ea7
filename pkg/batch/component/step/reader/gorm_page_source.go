package reader

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
)

// GormPageSource pages over a GORM query with OFFSET/LIMIT. Page pageIndex is
// Offset(pageIndex*pageSize).Limit(pageSize) under a fixed ORDER BY.
//
// Offsets are recomputed from the absolute item count on restart, so no extra
// state is saved. Inserts or deletes ahead of the read position between attempts
// shift the offsets.
type GormPageSource[T any] struct {
	db     *gorm.DB
	order  string
	scopes []func(*gorm.DB) *gorm.DB
}

// NewGormPageSource creates a page source. order must give a total ordering, e.g. "id ASC".
// scopes narrow the query (where clauses, joins, preloads).
func NewGormPageSource[T any](db *gorm.DB, order string, scopes ...func(*gorm.DB) *gorm.DB) (*GormPageSource[T], error) {
	if db == nil {
		return nil, exception.NewConfigError("GormPageSource", "DB", "must not be nil")
	}
	if strings.TrimSpace(order) == "" {
		return nil, exception.NewConfigError("GormPageSource", "Order", "must be specified for stable paging")
	}
	return &GormPageSource[T]{db: db, order: order, scopes: scopes}, nil
}

// NewGormPagingReader creates a PagingReader backed by a GormPageSource.
func NewGormPagingReader[T any](cfg PagingReaderConfig, db *gorm.DB, order string, scopes ...func(*gorm.DB) *gorm.DB) (*PagingReader[T], error) {
	source, err := NewGormPageSource[T](db, order, scopes...)
	if err != nil {
		return nil, err
	}
	return NewPagingReader[T](cfg, source)
}

// FetchPage implements PageSource.
func (s *GormPageSource[T]) FetchPage(ctx context.Context, pageIndex, pageSize int) ([]T, error) {
	var items []T
	result := s.db.WithContext(ctx).
		Scopes(s.scopes...).
		Order(s.order).
		Offset(pageIndex * pageSize).
		Limit(pageSize).
		Find(&items)
	if result.Error != nil {
		return nil, fmt.Errorf("fetch page %d: %w", pageIndex, result.Error)
	}
	return items, nil
}
