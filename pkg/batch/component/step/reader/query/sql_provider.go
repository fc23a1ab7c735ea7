package query

import (
	"fmt"
	"strings"
)

// SqlPagingQueryProvider is the PagingQueryProvider for all supported dialects.
// It is created by NewProvider or Build.
type SqlPagingQueryProvider struct {
	dialect        Dialect
	selectClause   string
	fromClause     string
	whereClause    string
	groupClause    string
	sortKeys       SortKeys
	usingNamed     bool
	parameterCount int
}

var _ PagingQueryProvider = (*SqlPagingQueryProvider)(nil)

// Dialect returns the dialect of the provider.
func (p *SqlPagingQueryProvider) Dialect() Dialect { return p.dialect }

// SortKeys implements PagingQueryProvider.
func (p *SqlPagingQueryProvider) SortKeys() SortKeys {
	return append(SortKeys(nil), p.sortKeys...)
}

// SortKeysWithoutAliases implements PagingQueryProvider.
func (p *SqlPagingQueryProvider) SortKeysWithoutAliases() SortKeys {
	return p.sortKeys.WithoutAliases()
}

// ParameterCount implements PagingQueryProvider.
func (p *SqlPagingQueryProvider) ParameterCount() int { return p.parameterCount }

// IsUsingNamedParameters implements PagingQueryProvider.
func (p *SqlPagingQueryProvider) IsUsingNamedParameters() bool { return p.usingNamed }

// NamedParameterPrefix implements PagingQueryProvider.
func (p *SqlPagingQueryProvider) NamedParameterPrefix() string {
	if p.dialect == SQLServer {
		return "@"
	}
	return ":"
}

// placeholder returns the placeholder of the seq-th (1-based) sort-key parameter.
func (p *SqlPagingQueryProvider) placeholder(column string, seq int) string {
	if p.usingNamed {
		return p.NamedParameterPrefix() + "_" + StripAlias(column)
	}
	if p.dialect == Postgres {
		return fmt.Sprintf("$%d", p.parameterCount+seq)
	}
	return "?"
}

// sortClause renders "k1 ASC, k2 DESC".
func (p *SqlPagingQueryProvider) sortClause(withoutAliases bool) string {
	keys := p.sortKeys
	if withoutAliases {
		keys = keys.WithoutAliases()
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.Column + " " + string(k.Order)
	}
	return strings.Join(parts, ", ")
}

// sortConditions renders "((k1 > ?) OR (k1 = ? AND k2 > ?))", using "<" for descending keys.
func (p *SqlPagingQueryProvider) sortConditions(withoutAliases bool) string {
	keys := p.sortKeys
	if withoutAliases {
		keys = keys.WithoutAliases()
	}
	seq := 0
	clauses := make([]string, len(keys))
	for i, k := range keys {
		var clause strings.Builder
		for j := 0; j < i; j++ {
			seq++
			clause.WriteString(keys[j].Column)
			clause.WriteString(" = ")
			clause.WriteString(p.placeholder(keys[j].Column, seq))
			clause.WriteString(" AND ")
		}
		seq++
		clause.WriteString(k.Column)
		if k.Order == Descending {
			clause.WriteString(" < ")
		} else {
			clause.WriteString(" > ")
		}
		clause.WriteString(p.placeholder(k.Column, seq))
		clauses[i] = "(" + clause.String() + ")"
	}
	return "(" + strings.Join(clauses, " OR ") + ")"
}

// where renders the WHERE clause of an ungrouped query.
func (p *SqlPagingQueryProvider) where(remaining bool) string {
	if remaining {
		if p.whereClause != "" {
			return " WHERE (" + p.whereClause + ") AND " + p.sortConditions(false)
		}
		return " WHERE " + p.sortConditions(false)
	}
	if p.whereClause != "" {
		return " WHERE " + p.whereClause
	}
	return ""
}

func (p *SqlPagingQueryProvider) groupBy() string {
	if p.groupClause != "" {
		return " GROUP BY " + p.groupClause
	}
	return ""
}

// groupedInner renders the inner query used when a GROUP BY is configured.
func (p *SqlPagingQueryProvider) groupedInner(remaining bool) string {
	sql := "(SELECT " + p.selectClause + " FROM " + p.fromClause + p.where(false) + p.groupBy() + ") AS MAIN_QRY"
	if remaining {
		sql += " WHERE " + p.sortConditions(true)
	}
	return sql
}

func (p *SqlPagingQueryProvider) limitQuery(remaining bool, limitClause string) string {
	if p.groupClause != "" {
		return "SELECT * FROM " + p.groupedInner(remaining) + " ORDER BY " + p.sortClause(true) + " " + limitClause
	}
	return "SELECT " + p.selectClause + " FROM " + p.fromClause + p.where(remaining) +
		" ORDER BY " + p.sortClause(false) + " " + limitClause
}

func (p *SqlPagingQueryProvider) topQuery(remaining bool, topClause string) string {
	if p.groupClause != "" {
		return "SELECT " + topClause + " * FROM " + p.groupedInner(remaining) + " ORDER BY " + p.sortClause(true)
	}
	return "SELECT " + topClause + " " + p.selectClause + " FROM " + p.fromClause + p.where(remaining) +
		" ORDER BY " + p.sortClause(false)
}

func (p *SqlPagingQueryProvider) rowNumQuery(remaining bool, rowNumClause string) string {
	return "SELECT * FROM (SELECT " + p.selectClause + " FROM " + p.fromClause + p.where(remaining) + p.groupBy() +
		" ORDER BY " + p.sortClause(false) + ") WHERE " + rowNumClause
}

func (p *SqlPagingQueryProvider) sortKeysSelect(withoutAliases bool) string {
	keys := p.sortKeys
	if withoutAliases {
		keys = keys.WithoutAliases()
	}
	return strings.Join(keys.Columns(), ", ")
}

func (p *SqlPagingQueryProvider) limitJumpQuery(limitClause string) string {
	return "SELECT " + p.sortKeysSelect(false) + " FROM " + p.fromClause + p.where(false) + p.groupBy() +
		" ORDER BY " + p.sortClause(false) + " " + limitClause
}

func (p *SqlPagingQueryProvider) rowNumberJumpQuery(rowNumber int) string {
	return fmt.Sprintf("SELECT %s FROM (SELECT %s, ROW_NUMBER() OVER (ORDER BY %s) AS ROW_NUMBER FROM %s%s%s) AS TMP_SUB WHERE TMP_SUB.ROW_NUMBER = %d",
		p.sortKeysSelect(true), p.sortKeysSelect(false), p.sortClause(false), p.fromClause, p.where(false), p.groupBy(), rowNumber)
}

func (p *SqlPagingQueryProvider) rowNumJumpQuery(rowNum int) string {
	return fmt.Sprintf("SELECT %s FROM (SELECT %s, ROWNUM as TMP_ROW_NUM FROM (SELECT %s FROM %s%s%s ORDER BY %s)) WHERE TMP_ROW_NUM = %d",
		p.sortKeysSelect(true), p.sortKeysSelect(true), p.sortKeysSelect(false), p.fromClause, p.where(false), p.groupBy(), p.sortClause(false), rowNum)
}
