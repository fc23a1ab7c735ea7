package sqlite_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/pagebatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/pagebatch/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/pagebatch/pkg/batch/core/config"
)

func TestProvider_OpensAndClosesNamedConnection(t *testing.T) {
	cfg := config.NewConfig()
	cfg.PageBatch.AdapterConfigs["metadata"] = map[string]interface{}{
		"type":     "sqlite",
		"database": "file::memory:?cache=shared",
		"pool":     map[string]interface{}{"max_open_conns": "1"},
	}
	p := gorm.NewProvider(cfg)

	db, err := p.GetConnection("metadata")
	require.NoError(t, err)
	again, err := p.GetConnection("metadata")
	require.NoError(t, err)
	assert.Same(t, db, again, "connections are cached by name")

	dbType, err := p.DatabaseType("metadata")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", dbType)

	sqlDB, err := p.GetSQLDB("metadata")
	require.NoError(t, err)
	require.NoError(t, sqlDB.Ping())
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)

	require.NoError(t, p.CloseAll())
}

func TestProvider_UnknownConnection(t *testing.T) {
	p := gorm.NewProvider(config.NewConfig())
	_, err := p.GetConnection("missing")
	assert.Error(t, err)
}
