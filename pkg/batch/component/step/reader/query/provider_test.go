package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/pagebatch/pkg/batch/component/step/reader/query"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
)

func customerConfig() query.Config {
	return query.Config{
		SelectClause: "SELECT id, name, amount",
		FromClause:   "FROM customer",
		WhereClause:  "WHERE status = ?",
		SortKeys:     query.SortKeys{{Column: "id", Order: query.Ascending}},
	}
}

func compositeConfig() query.Config {
	return query.Config{
		SelectClause: "id, name, amount",
		FromClause:   "customer",
		SortKeys: query.SortKeys{
			{Column: "last_name", Order: query.Ascending},
			{Column: "id", Order: query.Descending},
		},
	}
}

func TestLimitDialect_SingleKey(t *testing.T) {
	p, err := query.NewProvider(query.MySQL, customerConfig())
	require.NoError(t, err)

	assert.Equal(t, "SELECT id, name, amount FROM customer WHERE status = ? ORDER BY id ASC LIMIT 10", p.GenerateFirstPageQuery(10))
	assert.Equal(t, "SELECT id, name, amount FROM customer WHERE (status = ?) AND ((id > ?)) ORDER BY id ASC LIMIT 10", p.GenerateRemainingPagesQuery(10))
	assert.Equal(t, 1, p.ParameterCount())
}

func TestLimitDialect_CompositeKeys(t *testing.T) {
	p, err := query.NewProvider(query.SQLite, compositeConfig())
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT id, name, amount FROM customer WHERE ((last_name > ?) OR (last_name = ? AND id < ?)) ORDER BY last_name ASC, id DESC LIMIT 10",
		p.GenerateRemainingPagesQuery(10))
	assert.Equal(t,
		"SELECT last_name, id FROM customer ORDER BY last_name ASC, id DESC LIMIT 19, 1",
		p.GenerateJumpToItemQuery(25, 10))
	assert.Equal(t,
		"SELECT last_name, id FROM customer ORDER BY last_name ASC, id DESC LIMIT 0, 1",
		p.GenerateJumpToItemQuery(5, 10))
}

func TestPostgresDialect_NumberedPlaceholders(t *testing.T) {
	cfg := customerConfig()
	cfg.WhereClause = "status = $1"
	p, err := query.Build("postgresql", cfg)
	require.NoError(t, err)

	assert.Equal(t, "SELECT id, name, amount FROM customer WHERE (status = $1) AND ((id > $2)) ORDER BY id ASC LIMIT 10", p.GenerateRemainingPagesQuery(10))
	assert.Equal(t, "SELECT id FROM customer WHERE status = $1 ORDER BY id ASC LIMIT 1 OFFSET 19", p.GenerateJumpToItemQuery(25, 10))

	composite, err := query.NewProvider(query.Postgres, compositeConfig())
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT id, name, amount FROM customer WHERE ((last_name > $1) OR (last_name = $2 AND id < $3)) ORDER BY last_name ASC, id DESC LIMIT 5",
		composite.GenerateRemainingPagesQuery(5))
}

func TestSQLServerDialect_Top(t *testing.T) {
	p, err := query.Build("mssql", customerConfig())
	require.NoError(t, err)

	assert.Equal(t, "SELECT TOP 10 id, name, amount FROM customer WHERE status = ? ORDER BY id ASC", p.GenerateFirstPageQuery(10))
	assert.Equal(t, "SELECT TOP 10 id, name, amount FROM customer WHERE (status = ?) AND ((id > ?)) ORDER BY id ASC", p.GenerateRemainingPagesQuery(10))
	assert.Equal(t,
		"SELECT id FROM (SELECT id, ROW_NUMBER() OVER (ORDER BY id ASC) AS ROW_NUMBER FROM customer WHERE status = ?) AS TMP_SUB WHERE TMP_SUB.ROW_NUMBER = 20",
		p.GenerateJumpToItemQuery(25, 10))
}

func TestOracleDialect_RowNum(t *testing.T) {
	p, err := query.NewProvider(query.Oracle, customerConfig())
	require.NoError(t, err)

	assert.Equal(t, "SELECT * FROM (SELECT id, name, amount FROM customer WHERE status = ? ORDER BY id ASC) WHERE ROWNUM <= 10", p.GenerateFirstPageQuery(10))
	assert.Equal(t, "SELECT * FROM (SELECT id, name, amount FROM customer WHERE (status = ?) AND ((id > ?)) ORDER BY id ASC) WHERE ROWNUM <= 10", p.GenerateRemainingPagesQuery(10))
	assert.Equal(t,
		"SELECT id FROM (SELECT id, ROWNUM as TMP_ROW_NUM FROM (SELECT id FROM customer WHERE status = ? ORDER BY id ASC)) WHERE TMP_ROW_NUM = 20",
		p.GenerateJumpToItemQuery(20, 10))
}

func TestNamedParameters_UseUnaliasedColumn(t *testing.T) {
	cfg := query.Config{
		SelectClause:       "t.id, t.name",
		FromClause:         "customer t",
		SortKeys:           query.SortKeys{{Column: "t.id"}},
		UseNamedParameters: true,
	}
	p, err := query.NewProvider(query.SQLite, cfg)
	require.NoError(t, err)

	assert.True(t, p.IsUsingNamedParameters())
	assert.Equal(t, "SELECT t.id, t.name FROM customer t WHERE ((t.id > :_id)) ORDER BY t.id ASC LIMIT 3", p.GenerateRemainingPagesQuery(3))
	assert.Equal(t, query.SortKeys{{Column: "id", Order: query.Ascending}}, p.SortKeysWithoutAliases())

	ss, err := query.NewProvider(query.SQLServer, cfg)
	require.NoError(t, err)
	assert.Equal(t, "@", ss.NamedParameterPrefix())
}

func TestGroupByIsWrapped(t *testing.T) {
	cfg := query.Config{
		SelectClause: "dept, SUM(amount) AS total",
		FromClause:   "sales",
		GroupClause:  "GROUP BY dept",
		SortKeys:     query.SortKeys{{Column: "dept", Order: query.Ascending}},
	}
	p, err := query.NewProvider(query.MySQL, cfg)
	require.NoError(t, err)

	assert.Equal(t, "SELECT * FROM (SELECT dept, SUM(amount) AS total FROM sales GROUP BY dept) AS MAIN_QRY ORDER BY dept ASC LIMIT 10", p.GenerateFirstPageQuery(10))
	assert.Equal(t, "SELECT * FROM (SELECT dept, SUM(amount) AS total FROM sales GROUP BY dept) AS MAIN_QRY WHERE ((dept > ?)) ORDER BY dept ASC LIMIT 10", p.GenerateRemainingPagesQuery(10))
}

func TestConfigValidation(t *testing.T) {
	cfg := customerConfig()
	cfg.SortKeys = nil
	_, err := query.NewProvider(query.MySQL, cfg)
	require.Error(t, err)
	assert.True(t, exception.IsConfigError(err))

	cfg = customerConfig()
	cfg.FromClause = "  "
	_, err = query.NewProvider(query.MySQL, cfg)
	assert.True(t, exception.IsConfigError(err))

	_, err = query.Build("db2", customerConfig())
	assert.True(t, exception.IsConfigError(err))
}

func TestParseSortKeys(t *testing.T) {
	keys, err := query.ParseSortKeys("id ASC, t.name desc, created")
	require.NoError(t, err)
	assert.Equal(t, query.SortKeys{
		{Column: "id", Order: query.Ascending},
		{Column: "t.name", Order: query.Descending},
		{Column: "created", Order: query.Ascending},
	}, keys)

	_, err = query.ParseSortKeys("id sideways")
	assert.Error(t, err)
}

func TestParameterCountIgnoresQuotedLiterals(t *testing.T) {
	cfg := customerConfig()
	cfg.WhereClause = "status = ? AND region = :region AND note <> '?'"
	p, err := query.NewProvider(query.MySQL, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, p.ParameterCount())
}
