package partitioner_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/pagebatch/pkg/batch/component/partitioner"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
)

func TestSimplePartitioner(t *testing.T) {
	p := partitioner.NewSimplePartitioner()
	parts, err := p.Partition(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, parts, 3)
	for _, name := range []string{"partition0", "partition1", "partition2"} {
		require.Contains(t, parts, name)
		assert.Equal(t, 0, parts[name].Size())
	}
	assert.Equal(t, []string{"partition0", "partition1"}, p.PartitionNames(2))
}

func TestColumnRangePartitioner_SplitsRange(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT MIN(id), MAX(id) FROM customer")).
		WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(1, 100))

	p, err := partitioner.NewColumnRangePartitioner(db, "customer", "id")
	require.NoError(t, err)
	parts, err := p.Partition(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, parts, 4)

	bounds := map[string][2]int64{
		"partition0": {1, 25},
		"partition1": {26, 50},
		"partition2": {51, 75},
		"partition3": {76, 100},
	}
	for name, want := range bounds {
		ec := parts[name]
		require.NotNil(t, ec, name)
		assert.EqualValues(t, want[0], ec.GetLongOrDefault(partitioner.MinValueKey, -1), name)
		assert.EqualValues(t, want[1], ec.GetLongOrDefault(partitioner.MaxValueKey, -1), name)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestColumnRangePartitioner_SmallRangeYieldsFewerPartitions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT MIN").WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(5, 6))

	p, err := partitioner.NewColumnRangePartitioner(db, "customer", "id")
	require.NoError(t, err)
	parts, err := p.Partition(context.Background(), 4)
	require.NoError(t, err)
	assert.Len(t, parts, 2)
}

func TestColumnRangePartitioner_EmptyTableAndErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT MIN").WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(nil, nil))
	mock.ExpectQuery("SELECT MIN").WillReturnError(errors.New("connection reset"))

	p, err := partitioner.NewColumnRangePartitioner(db, "customer", "id")
	require.NoError(t, err)

	parts, err := p.Partition(context.Background(), 4)
	require.NoError(t, err)
	assert.Empty(t, parts)

	_, err = p.Partition(context.Background(), 4)
	require.Error(t, err)
	assert.True(t, exception.IsBatchError(err))

	_, err = partitioner.NewColumnRangePartitioner(db, "customer; drop table x", "id")
	assert.True(t, exception.IsConfigError(err))
}
