package mysql_test

import (
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/pagebatch/pkg/batch/adapter/database"
	"github.com/tigerroll/pagebatch/pkg/batch/adapter/database/gorm/mysql"
)

func TestDSN(t *testing.T) {
	dsn := mysql.DSN(database.DatabaseConfig{
		Type:     "mysql",
		Host:     "db.internal",
		User:     "batch",
		Password: "secret",
		Database: "orders",
		Params:   map[string]string{"charset": "utf8mb4"},
	})

	parsed, err := mysqldriver.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "db.internal:3306", parsed.Addr)
	assert.Equal(t, "batch", parsed.User)
	assert.Equal(t, "secret", parsed.Passwd)
	assert.Equal(t, "orders", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.True(t, parsed.MultiStatements)
	assert.Equal(t, "utf8mb4", parsed.Params["charset"])
}
