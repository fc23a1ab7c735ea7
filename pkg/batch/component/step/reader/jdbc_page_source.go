package reader

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tigerroll/pagebatch/pkg/batch/component/step/reader/query"
	"github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

const (
	startAfterKey      = "start.after"
	startAfterCountKey = "start.after.count"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Row is one result row keyed by column name. []byte values are converted to string.
type Row map[string]interface{}

// Get returns the value of column, matching the name case-insensitively when there
// is no exact match.
func (r Row) Get(column string) (interface{}, bool) {
	if v, ok := r[column]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

// String returns column as a string.
func (r Row) String(column string) string {
	v, ok := r.Get(column)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int64 returns column as an int64.
func (r Row) Int64(column string) (int64, error) {
	v, ok := r.Get(column)
	if !ok {
		return 0, fmt.Errorf("column %s not found", column)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("column %s has type %T, not an integer", column, v)
	}
}

// Float64 returns column as a float64.
func (r Row) Float64(column string) (float64, error) {
	v, ok := r.Get(column)
	if !ok {
		return 0, fmt.Errorf("column %s not found", column)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("column %s has type %T, not a number", column, v)
	}
}

// RowMapper maps a result row to an item.
type RowMapper[T any] func(row Row) (T, error)

// JdbcPageSource pages over a SQL query using keyset pagination: each page after the
// first selects the rows strictly after the sort-key values of the last row read.
//
// Restart state is the map of start-after values under "<name>.start.after" and the
// number of items that precede them under "<name>.start.after.count". The values are
// taken at the last page boundary, so a restart in the middle of a page re-reads that
// page and skips the items already returned. Values captured at a different boundary
// (the page size changed) are discarded and the jump query positions the source.
type JdbcPageSource[T any] struct {
	db         Querier
	provider   query.PagingQueryProvider
	mapper     RowMapper[T]
	parameters map[string]interface{}
	keys       query.SortKeys

	mu                 sync.Mutex
	startAfter         []interface{}
	previousStartAfter []interface{}
	// startAfterCount and previousStartAfterCount are the item counts the values follow.
	startAfterCount         int64
	previousStartAfterCount int64
}

// NewJdbcPageSource creates a page source. parameters bind the placeholders of the
// where clause. Positional parameters are bound in key order, numerically when the keys
// are integers; PositionalParameters builds such a map from ordered values.
func NewJdbcPageSource[T any](db Querier, provider query.PagingQueryProvider, mapper RowMapper[T], parameters map[string]interface{}) (*JdbcPageSource[T], error) {
	const component = "JdbcPageSource"
	if db == nil {
		return nil, exception.NewConfigError(component, "DB", "must not be nil")
	}
	if provider == nil {
		return nil, exception.NewConfigError(component, "QueryProvider", "must not be nil")
	}
	if mapper == nil {
		return nil, exception.NewConfigError(component, "RowMapper", "must not be nil")
	}
	if len(parameters) < provider.ParameterCount() && !provider.IsUsingNamedParameters() {
		return nil, exception.NewConfigError(component, "Parameters",
			fmt.Sprintf("has %d values but the where clause has %d placeholders", len(parameters), provider.ParameterCount()))
	}
	return &JdbcPageSource[T]{
		db:         db,
		provider:   provider,
		mapper:     mapper,
		parameters: parameters,
		keys:       provider.SortKeysWithoutAliases(),
	}, nil
}

// NewJdbcPagingReader creates a PagingReader backed by a JdbcPageSource.
func NewJdbcPagingReader[T any](cfg PagingReaderConfig, db Querier, provider query.PagingQueryProvider, mapper RowMapper[T], parameters map[string]interface{}) (*PagingReader[T], error) {
	source, err := NewJdbcPageSource(db, provider, mapper, parameters)
	if err != nil {
		return nil, err
	}
	return NewPagingReader[T](cfg, source)
}

// FetchPage implements PageSource.
func (s *JdbcPageSource[T]) FetchPage(ctx context.Context, pageIndex, pageSize int) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sqlText string
	var args []any
	switch {
	case pageIndex == 0:
		sqlText = s.provider.GenerateFirstPageQuery(pageSize)
		args = s.userArgs()
	case s.startAfter != nil:
		s.previousStartAfter = s.startAfter
		s.previousStartAfterCount = s.startAfterCount
		sqlText = s.provider.GenerateRemainingPagesQuery(pageSize)
		args = append(s.userArgs(), s.sortKeyArgs(s.startAfter)...)
	default:
		// a later page without a position means the jump found no row
		return nil, nil
	}

	logger.Debugf("JdbcPageSource: page %d query: %s", pageIndex, sqlText)
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query page %d: %w", pageIndex, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	base := int64(pageIndex) * int64(pageSize)
	var items []T
	for rows.Next() {
		row, err := scanRow(rows, columns)
		if err != nil {
			return nil, fmt.Errorf("scan page %d: %w", pageIndex, err)
		}
		values, err := s.sortKeyValues(row)
		if err != nil {
			return nil, err
		}
		item, err := s.mapper(row)
		if err != nil {
			return nil, fmt.Errorf("map row of page %d: %w", pageIndex, err)
		}
		s.startAfter = values
		items = append(items, item)
		s.startAfterCount = base + int64(len(items))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page %d: %w", pageIndex, err)
	}
	return items, nil
}

// JumpToItem implements PageJumper. Restored start-after values are kept only when they
// were taken at the first item of the target page; otherwise the jump query finds the
// sort keys of the row before that page.
func (s *JdbcPageSource[T]) JumpToItem(ctx context.Context, itemIndex, pageSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	page := itemIndex / pageSize
	if page == 0 {
		return nil
	}
	boundary := int64(page) * int64(pageSize)
	if s.startAfter != nil {
		if s.startAfterCount == boundary {
			return nil
		}
		logger.Debugf("JdbcPageSource: saved start-after values follow item %d, page starts at %d; using the jump query.", s.startAfterCount, boundary)
		s.startAfter = nil
	}
	sqlText := s.provider.GenerateJumpToItemQuery(itemIndex, pageSize)
	logger.Debugf("JdbcPageSource: jump query for item %d: %s", itemIndex, sqlText)
	rows, err := s.db.QueryContext(ctx, sqlText, s.userArgs()...)
	if err != nil {
		return fmt.Errorf("jump to item %d: %w", itemIndex, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return err
	}
	if rows.Next() {
		row, err := scanRow(rows, columns)
		if err != nil {
			return err
		}
		values, err := s.sortKeyValues(row)
		if err != nil {
			return err
		}
		s.startAfter = values
		s.startAfterCount = boundary
	}
	return rows.Err()
}

// OpenSource implements PageSourceOpener.
func (s *JdbcPageSource[T]) OpenSource(ctx context.Context, ec *model.ExecutionContext, keyPrefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.startAfter = nil
	s.previousStartAfter = nil
	s.startAfterCount = 0
	s.previousStartAfterCount = 0
	saved, ok := ec.GetMap(keyPrefix + startAfterKey)
	if !ok {
		return nil
	}
	// -1 never matches a page boundary, so values without a count are re-derived.
	count := ec.GetLongOrDefault(keyPrefix+startAfterCountKey, -1)
	values := make([]interface{}, len(s.keys))
	for i, k := range s.keys {
		v, found := saved[k.Column]
		if !found {
			return fmt.Errorf("saved start-after values have no entry for sort key %s", k.Column)
		}
		values[i] = restoreValue(v)
	}
	s.startAfter = values
	s.startAfterCount = count
	return nil
}

// UpdateSource implements PageSourceUpdater. At a page boundary it saves the values of
// the last row read, otherwise the values the current page started after.
func (s *JdbcPageSource[T]) UpdateSource(ec *model.ExecutionContext, keyPrefix string, itemCount int64, pageSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyPrefix + startAfterKey
	if itemCount%int64(pageSize) == 0 && s.startAfter != nil {
		ec.Put(key, s.valuesMap(s.startAfter))
		ec.PutLong(keyPrefix+startAfterCountKey, s.startAfterCount)
	} else if s.previousStartAfter != nil {
		ec.Put(key, s.valuesMap(s.previousStartAfter))
		ec.PutLong(keyPrefix+startAfterCountKey, s.previousStartAfterCount)
	}
}

// CloseSource implements PageSourceCloser.
func (s *JdbcPageSource[T]) CloseSource(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startAfter = nil
	s.previousStartAfter = nil
	s.startAfterCount = 0
	s.previousStartAfterCount = 0
	return nil
}

func (s *JdbcPageSource[T]) valuesMap(values []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(values))
	for i, k := range s.keys {
		m[k.Column] = values[i]
	}
	return m
}

func (s *JdbcPageSource[T]) sortKeyValues(row Row) ([]interface{}, error) {
	values := make([]interface{}, len(s.keys))
	for i, k := range s.keys {
		v, ok := row.Get(k.Column)
		if !ok {
			return nil, fmt.Errorf("sort key %s is not in the select clause", k.Column)
		}
		values[i] = v
	}
	return values, nil
}

// PositionalParameters keys values by their 1-based position, for where clauses with
// "?" placeholders.
func PositionalParameters(values ...interface{}) map[string]interface{} {
	params := make(map[string]interface{}, len(values))
	for i, v := range values {
		params[strconv.Itoa(i+1)] = v
	}
	return params
}

// parameterNames orders parameter keys: integer keys numerically and before the
// others, the rest lexically.
func parameterNames(parameters map[string]interface{}) []string {
	names := make([]string, 0, len(parameters))
	for name := range parameters {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, errA := strconv.Atoi(names[i])
		b, errB := strconv.Atoi(names[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return names[i] < names[j]
		}
	})
	return names
}

// userArgs returns the where clause parameters.
func (s *JdbcPageSource[T]) userArgs() []any {
	names := parameterNames(s.parameters)

	args := make([]any, 0, len(names))
	for _, name := range names {
		if s.provider.IsUsingNamedParameters() {
			args = append(args, sql.Named(name, s.parameters[name]))
		} else {
			args = append(args, s.parameters[name])
		}
	}
	return args
}

// sortKeyArgs expands start-after values in placeholder order: for key i the values of
// keys 0..i-1 followed by key i.
func (s *JdbcPageSource[T]) sortKeyArgs(values []interface{}) []any {
	if s.provider.IsUsingNamedParameters() {
		args := make([]any, len(values))
		for i, k := range s.keys {
			args[i] = sql.Named("_"+k.Column, values[i])
		}
		return args
	}
	var args []any
	for i := range values {
		for j := 0; j < i; j++ {
			args = append(args, values[j])
		}
		args = append(args, values[i])
	}
	return args
}

func scanRow(rows *sql.Rows, columns []string) (Row, error) {
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(Row, len(columns))
	for i, c := range columns {
		if b, ok := values[i].([]byte); ok {
			row[c] = string(b)
		} else {
			row[c] = values[i]
		}
	}
	return row, nil
}

// restoreValue converts a value read back from a serialized ExecutionContext.
func restoreValue(v interface{}) interface{} {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
		return n
	default:
		return v
	}
}
