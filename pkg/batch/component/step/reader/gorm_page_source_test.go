package reader_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	reader "github.com/tigerroll/pagebatch/pkg/batch/component/step/reader"
	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
)

type order struct {
	ID     int64 `gorm:"primaryKey"`
	Amount int64
	Region string
}

func openOrderDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&order{}))
	for i := int64(1); i <= 12; i++ {
		region := "east"
		if i%3 == 0 {
			region = "west"
		}
		require.NoError(t, db.Create(&order{ID: i, Amount: i * 100, Region: region}).Error)
	}
	return db
}

func eastOnly(db *gorm.DB) *gorm.DB { return db.Where("region = ?", "east") }

func TestGormPagingReader_ReadsAndRestarts(t *testing.T) {
	ctx := context.Background()
	db := openOrderDB(t)
	cfg := reader.NewPagingReaderConfig("orderReader")
	cfg.PageSize = 3

	first, err := reader.NewGormPagingReader[order](cfg, db, "id ASC", eastOnly)
	require.NoError(t, err)
	ec := model.NewExecutionContext()
	require.NoError(t, first.Open(ctx, ec))

	var ids []int64
	for i := 0; i < 4; i++ {
		o, err := first.Read(ctx)
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}
	require.NoError(t, first.Update(ctx, ec))
	require.NoError(t, first.Close(ctx))

	second, err := reader.NewGormPagingReader[order](cfg, db, "id ASC", eastOnly)
	require.NoError(t, err)
	require.NoError(t, second.Open(ctx, ec))
	for {
		o, err := second.Read(ctx)
		if err != nil {
			require.ErrorIs(t, err, port.ErrNoMoreItems)
			break
		}
		ids = append(ids, o.ID)
	}

	assert.Equal(t, []int64{1, 2, 4, 5, 7, 8, 10, 11}, ids)
}

func TestNewGormPageSource_RequiresOrder(t *testing.T) {
	_, err := reader.NewGormPageSource[order](openOrderDB(t), " ")
	assert.Error(t, err)
}
