// Package query generates the SQL used by keyset paging readers.
//
// A provider produces three statements for a configured select/from/where and an
// ordered list of sort keys:
//
//   - the first page query, limited to pageSize rows;
//   - the remaining pages query, selecting rows strictly after the composite
//     sort-key tuple of the last row read ((k1 > ?) OR (k1 = ? AND k2 > ?) ...);
//   - the jump-to-item query, selecting the sort-key tuple of the row just before
//     the page that contains a given item, used on restart.
//
// Placeholders appear in sort key order, so arguments must be supplied in the same
// order (see JdbcPageSource). The sort keys must identify a row uniquely; with
// duplicate tuples rows can be skipped or repeated across pages and on restart.
package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
)

// Order is the direction of a sort key.
type Order string

const (
	Ascending  Order = "ASC"
	Descending Order = "DESC"
)

// SortKey is one column of the paging order.
type SortKey struct {
	Column string `yaml:"column"`
	Order  Order  `yaml:"order"`
}

// SortKeys is the ordered list of sort keys. The order is significant.
type SortKeys []SortKey

// Columns returns the column names in order.
func (s SortKeys) Columns() []string {
	cols := make([]string, len(s))
	for i, k := range s {
		cols[i] = k.Column
	}
	return cols
}

// WithoutAliases returns a copy with table aliases stripped ("t.id" -> "id").
func (s SortKeys) WithoutAliases() SortKeys {
	out := make(SortKeys, len(s))
	for i, k := range s {
		out[i] = SortKey{Column: StripAlias(k.Column), Order: k.Order}
	}
	return out
}

// StripAlias removes a leading table alias from a column reference.
func StripAlias(column string) string {
	if idx := strings.LastIndex(column, "."); idx != -1 {
		return column[idx+1:]
	}
	return column
}

// ParseSortKeys parses "id ASC, t.name desc, created" into SortKeys.
// A missing direction means ascending.
func ParseSortKeys(expr string) (SortKeys, error) {
	var keys SortKeys
	for _, part := range strings.Split(expr, ",") {
		fields := strings.Fields(part)
		switch len(fields) {
		case 0:
			continue
		case 1:
			keys = append(keys, SortKey{Column: fields[0], Order: Ascending})
		case 2:
			order := Order(strings.ToUpper(fields[1]))
			if order != Ascending && order != Descending {
				return nil, fmt.Errorf("invalid sort order %q for column %s", fields[1], fields[0])
			}
			keys = append(keys, SortKey{Column: fields[0], Order: order})
		default:
			return nil, fmt.Errorf("invalid sort key %q", strings.TrimSpace(part))
		}
	}
	return keys, nil
}

// PagingQueryProvider generates paging SQL for one dialect.
type PagingQueryProvider interface {
	// GenerateFirstPageQuery returns the query for the first page.
	GenerateFirstPageQuery(pageSize int) string

	// GenerateRemainingPagesQuery returns the query for pages after the first.
	// Its sort-key placeholders follow SortKeys order.
	GenerateRemainingPagesQuery(pageSize int) string

	// GenerateJumpToItemQuery returns a query selecting the sort keys of the last row
	// before the page containing itemIndex.
	GenerateJumpToItemQuery(itemIndex, pageSize int) string

	// SortKeys returns the configured sort keys.
	SortKeys() SortKeys

	// SortKeysWithoutAliases returns the sort keys with table aliases stripped.
	// These are the column names found in result rows.
	SortKeysWithoutAliases() SortKeys

	// ParameterCount returns the number of placeholders in the user where clause.
	ParameterCount() int

	// IsUsingNamedParameters reports whether placeholders are named (":_id") instead of positional.
	IsUsingNamedParameters() bool

	// NamedParameterPrefix returns the marker of named placeholders (":" or "@").
	NamedParameterPrefix() string
}

// Config describes the query a provider pages over.
type Config struct {
	SelectClause       string   `yaml:"select"`
	FromClause         string   `yaml:"from"`
	WhereClause        string   `yaml:"where"`
	GroupClause        string   `yaml:"group_by"`
	SortKeys           SortKeys `yaml:"sort_keys"`
	UseNamedParameters bool     `yaml:"use_named_parameters"`
}

// Validate checks the mandatory clauses.
func (c Config) Validate() error {
	const component = "PagingQueryProvider"
	if strings.TrimSpace(c.SelectClause) == "" {
		return exception.NewConfigError(component, "SelectClause", "must be specified")
	}
	if strings.TrimSpace(c.FromClause) == "" {
		return exception.NewConfigError(component, "FromClause", "must be specified")
	}
	if len(c.SortKeys) == 0 {
		return exception.NewConfigError(component, "SortKeys", "must contain at least one key")
	}
	for _, k := range c.SortKeys {
		if strings.TrimSpace(k.Column) == "" {
			return exception.NewConfigError(component, "SortKeys", "contains an empty column")
		}
		if k.Order != "" && k.Order != Ascending && k.Order != Descending {
			return exception.NewConfigError(component, "SortKeys", fmt.Sprintf("has invalid order %q", k.Order))
		}
	}
	return nil
}

var (
	selectKeyword = regexp.MustCompile(`(?i)^\s*select\s+`)
	fromKeyword   = regexp.MustCompile(`(?i)^\s*from\s+`)
	whereKeyword  = regexp.MustCompile(`(?i)^\s*where\s+`)
	groupKeyword  = regexp.MustCompile(`(?i)^\s*group\s+by\s+`)
	namedParam    = regexp.MustCompile(`[:@][A-Za-z_][A-Za-z0-9_]*`)
	dollarParam   = regexp.MustCompile(`\$[0-9]+`)
)

func removeKeyword(re *regexp.Regexp, clause string) string {
	return strings.TrimSpace(re.ReplaceAllString(clause, ""))
}

// countParameters counts placeholders in a clause, ignoring quoted literals.
func countParameters(clause string) int {
	var unquoted strings.Builder
	inQuote := false
	for _, r := range clause {
		if r == '\'' {
			inQuote = !inQuote
			continue
		}
		if !inQuote {
			unquoted.WriteRune(r)
		}
	}
	s := unquoted.String()
	return strings.Count(s, "?") + len(namedParam.FindAllString(s, -1)) + len(dollarParam.FindAllString(s, -1))
}
