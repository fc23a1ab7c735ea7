package query

import (
	"fmt"
	"strings"

	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
)

// Dialect names the SQL flavour a provider generates.
type Dialect string

const (
	MySQL     Dialect = "mysql"
	MariaDB   Dialect = "mariadb"
	SQLite    Dialect = "sqlite"
	Postgres  Dialect = "postgres"
	SQLServer Dialect = "sqlserver"
	Oracle    Dialect = "oracle"
)

// ParseDialect maps a database type from configuration (e.g. "postgresql", "sqlite3")
// to a Dialect.
func ParseDialect(dbType string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "mysql":
		return MySQL, nil
	case "mariadb":
		return MariaDB, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "redshift":
		return Postgres, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	case "oracle":
		return Oracle, nil
	default:
		return "", exception.NewConfigError("PagingQueryProvider", "Dialect", fmt.Sprintf("%q is not supported", dbType))
	}
}

// Build validates cfg and returns the provider for dbType.
func Build(dbType string, cfg Config) (PagingQueryProvider, error) {
	d, err := ParseDialect(dbType)
	if err != nil {
		return nil, err
	}
	return NewProvider(d, cfg)
}

// NewProvider validates cfg and returns the provider for dialect d.
func NewProvider(d Dialect, cfg Config) (PagingQueryProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &SqlPagingQueryProvider{
		dialect:      d,
		selectClause: removeKeyword(selectKeyword, cfg.SelectClause),
		fromClause:   removeKeyword(fromKeyword, cfg.FromClause),
		whereClause:  removeKeyword(whereKeyword, cfg.WhereClause),
		groupClause:  removeKeyword(groupKeyword, cfg.GroupClause),
		usingNamed:   cfg.UseNamedParameters,
	}
	p.sortKeys = make(SortKeys, len(cfg.SortKeys))
	for i, k := range cfg.SortKeys {
		if k.Order == "" {
			k.Order = Ascending
		}
		p.sortKeys[i] = SortKey{Column: strings.TrimSpace(k.Column), Order: k.Order}
	}
	p.parameterCount = countParameters(p.whereClause)

	switch d {
	case MySQL, MariaDB, SQLite, Postgres, SQLServer, Oracle:
	default:
		return nil, exception.NewConfigError("PagingQueryProvider", "Dialect", fmt.Sprintf("%q is not supported", d))
	}
	return p, nil
}

// GenerateFirstPageQuery implements PagingQueryProvider.
func (p *SqlPagingQueryProvider) GenerateFirstPageQuery(pageSize int) string {
	switch p.dialect {
	case SQLServer:
		return p.topQuery(false, fmt.Sprintf("TOP %d", pageSize))
	case Oracle:
		return p.rowNumQuery(false, fmt.Sprintf("ROWNUM <= %d", pageSize))
	default:
		return p.limitQuery(false, fmt.Sprintf("LIMIT %d", pageSize))
	}
}

// GenerateRemainingPagesQuery implements PagingQueryProvider.
func (p *SqlPagingQueryProvider) GenerateRemainingPagesQuery(pageSize int) string {
	switch p.dialect {
	case SQLServer:
		return p.topQuery(true, fmt.Sprintf("TOP %d", pageSize))
	case Oracle:
		return p.rowNumQuery(true, fmt.Sprintf("ROWNUM <= %d", pageSize))
	default:
		return p.limitQuery(true, fmt.Sprintf("LIMIT %d", pageSize))
	}
}

// GenerateJumpToItemQuery implements PagingQueryProvider.
func (p *SqlPagingQueryProvider) GenerateJumpToItemQuery(itemIndex, pageSize int) string {
	page := itemIndex / pageSize
	switch p.dialect {
	case SQLServer:
		return p.rowNumberJumpQuery(page * pageSize)
	case Oracle:
		return p.rowNumJumpQuery(page * pageSize)
	case Postgres:
		return p.limitJumpQuery(fmt.Sprintf("LIMIT 1 OFFSET %d", lastRowOffset(page, pageSize)))
	default:
		return p.limitJumpQuery(fmt.Sprintf("LIMIT %d, 1", lastRowOffset(page, pageSize)))
	}
}

// lastRowOffset is the 0-based offset of the last row of the page before page.
func lastRowOffset(page, pageSize int) int {
	offset := page*pageSize - 1
	if offset < 0 {
		return 0
	}
	return offset
}
