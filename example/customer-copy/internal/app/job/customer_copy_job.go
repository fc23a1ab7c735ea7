// Package job assembles the customer-copy job.
package job

import (
	"go.uber.org/fx"

	appconfig "github.com/tigerroll/pagebatch/example/customer-copy/internal/config"
	copystep "github.com/tigerroll/pagebatch/example/customer-copy/internal/step"
	gormadapter "github.com/tigerroll/pagebatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/pagebatch/pkg/batch/component/partitioner"
	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/pagebatch/pkg/batch/core/config"
	"github.com/tigerroll/pagebatch/pkg/batch/engine/step/partition"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// DefaultJobName is used when batch.job_name is not configured.
const DefaultJobName = "customerCopyJob"

// ManagerStepName is the partitioned step of the job.
const ManagerStepName = "copyCustomers"

// CustomerCopyJob is the named sequence of steps handed to the launcher.
type CustomerCopyJob struct {
	Name  string
	Steps []port.Step
}

// Params defines the dependencies of the job.
type Params struct {
	fx.In
	Batch    *config.BatchConfig
	App      *appconfig.Config
	Provider *gormadapter.Provider
	Builder  *partition.StepBuilder
}

// NewCustomerCopyJob builds the manager step. It splits the customer id range into
// batch.partition.grid_size partitions, each copied by the worker step.
func NewCustomerCopyJob(p Params) (*CustomerCopyJob, error) {
	source, err := p.Provider.GetSQLDB(p.App.SourceDBRef)
	if err != nil {
		return nil, err
	}
	ranges, err := partitioner.NewColumnRangePartitioner(source, "customer", "id")
	if err != nil {
		return nil, err
	}
	manager, err := p.Builder.Build(ManagerStepName, copystep.WorkerStepName, ranges)
	if err != nil {
		return nil, err
	}

	name := p.Batch.JobName
	if name == "" {
		name = DefaultJobName
	}
	logger.Debugf("Job '%s' built with partitioned step '%s' (%s mode, grid size %d).",
		name, ManagerStepName, p.Batch.Partition.Mode, p.Batch.Partition.GridSize)
	return &CustomerCopyJob{Name: name, Steps: []port.Step{manager}}, nil
}

// Module provides *CustomerCopyJob.
var Module = fx.Options(
	fx.Provide(NewCustomerCopyJob),
)
