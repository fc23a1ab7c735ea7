// Package step provides the worker step of the customer-copy job.
package step

import (
	"context"
	"time"

	"go.uber.org/fx"

	appconfig "github.com/tigerroll/pagebatch/example/customer-copy/internal/config"
	"github.com/tigerroll/pagebatch/example/customer-copy/internal/domain"
	gormadapter "github.com/tigerroll/pagebatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/pagebatch/pkg/batch/component/partitioner"
	"github.com/tigerroll/pagebatch/pkg/batch/component/step/reader"
	"github.com/tigerroll/pagebatch/pkg/batch/component/step/reader/query"
	"github.com/tigerroll/pagebatch/pkg/batch/component/step/writer"
	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/pagebatch/pkg/batch/core/config"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/pagebatch/pkg/batch/core/metrics"
	"github.com/tigerroll/pagebatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/pagebatch/pkg/batch/engine/step/partition"
	"github.com/tigerroll/pagebatch/pkg/batch/engine/step/retry"
)

// WorkerStepName is the step the manager step sends partition requests for.
const WorkerStepName = "copyCustomersWorker"

// ReaderName prefixes the reader's restart keys.
const ReaderName = "customerReader"

// Write failures are retried this often before the partition fails.
const (
	writeAttempts = 3
	writeBackoff  = 200 * time.Millisecond
)

// CustomerQuery selects the customers of one id range. The bounds come from the
// partition context, see RangeParameters.
var CustomerQuery = query.Config{
	SelectClause: "SELECT id, name, email, region",
	FromClause:   "FROM customer",
	WhereClause:  "id >= ? AND id <= ?",
	SortKeys:     query.SortKeys{{Column: "id", Order: query.Ascending}},
}

// MapCustomerCopy maps a customer row to the row written to customer_copy.
func MapCustomerCopy(row reader.Row) (domain.CustomerCopy, error) {
	id, err := row.Int64("id")
	if err != nil {
		return domain.CustomerCopy{}, err
	}
	return domain.CustomerCopy{
		CustomerID: id,
		Name:       row.String("name"),
		Email:      row.String("email"),
		Region:     row.String("region"),
		CopiedAt:   time.Now().UTC(),
	}, nil
}

// RangeParameters returns the where clause parameters of a partition.
func RangeParameters(ec *model.ExecutionContext) map[string]interface{} {
	return reader.PositionalParameters(
		ec.GetLongOrDefault(partitioner.MinValueKey, 0),
		ec.GetLongOrDefault(partitioner.MaxValueKey, -1),
	)
}

// Params defines the dependencies of the worker step.
type Params struct {
	fx.In
	Batch         *config.BatchConfig
	App           *appconfig.Config
	Provider      *gormadapter.Provider
	JobRepository repository.JobRepository
	Recorder      metrics.MetricRecorder
	Tracer        metrics.Tracer
}

// NewCopyCustomersStep builds the worker step. Every partition execution gets its own
// paging reader over its id range and a chunk step writing to customer_copy.
func NewCopyCustomersStep(p Params) (port.Step, error) {
	source, err := p.Provider.GetSQLDB(p.App.SourceDBRef)
	if err != nil {
		return nil, err
	}
	dbType, err := p.Provider.DatabaseType(p.App.SourceDBRef)
	if err != nil {
		return nil, err
	}
	provider, err := query.Build(dbType, CustomerQuery)
	if err != nil {
		return nil, err
	}
	target, err := p.Provider.GetConnection(p.App.TargetDBRef)
	if err != nil {
		return nil, err
	}
	w, err := writer.NewGormBulkWriter[domain.CustomerCopy]("customerCopyWriter", target, p.Batch.ChunkSize,
		[]string{"customer_id"}, []string{"name", "email", "region", "copied_at"})
	if err != nil {
		return nil, err
	}
	policy := retry.NewRetryPolicy(writeAttempts, writeBackoff)

	step, err := item.NewScopedStep(WorkerStepName, func(ctx context.Context, se *model.StepExecution) (port.Step, error) {
		rc := reader.PagingReaderConfig{
			Name:         ReaderName,
			PageSize:     p.Batch.Reader.PageSize,
			MaxItemCount: p.Batch.Reader.MaxItemCount,
			SaveState:    true,
		}
		r, err := reader.NewJdbcPagingReader(rc, source, provider, MapCustomerCopy, RangeParameters(se.ExecutionContext))
		if err != nil {
			return nil, err
		}
		r.SetMetricRecorder(p.Recorder)

		chunk, err := item.NewChunkStep[domain.CustomerCopy](se.StepName, r, w, p.Batch.ChunkSize, p.JobRepository)
		if err != nil {
			return nil, err
		}
		chunk.SetRetryPolicy(policy)
		chunk.SetMetricRecorder(p.Recorder)
		chunk.SetTracer(p.Tracer)
		return chunk, nil
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

// Module registers the worker step with the partition worker.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewCopyCustomersStep,
		fx.ResultTags(partition.WorkerStepsGroup),
	)),
)
