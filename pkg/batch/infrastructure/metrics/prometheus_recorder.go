package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/pagebatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of metrics.MetricRecorder.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Step metrics
	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec
	stepReadCount       *prometheus.CounterVec
	stepWriteCount      *prometheus.CounterVec
	stepRollbackCount   *prometheus.CounterVec

	// Reader metrics
	pageFetchSeconds *prometheus.HistogramVec
	pageRowsCount    *prometheus.CounterVec
	itemReadCount    *prometheus.CounterVec

	// Chunk metrics
	chunkCommitCount *prometheus.CounterVec
	chunkItemCount   *prometheus.CounterVec

	// Partition metrics
	partitionsDispatched *prometheus.CounterVec
	partitionResults     *prometheus.CounterVec

	durationSeconds *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a PrometheusRecorder with its own registry.
// An empty namespace leaves metric names unprefixed.
func NewPrometheusRecorder(namespace string) *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Go runtime and process metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_step_duration_seconds",
			Help:      "Duration of batch step executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step_name", "status", "exit_status"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_step_status_total",
			Help:      "Total number of batch step executions by status.",
		}, []string{"step_name", "status"}),
		stepReadCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_step_read_total",
			Help:      "Items read by finished step executions.",
		}, []string{"step_name"}),
		stepWriteCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_step_write_total",
			Help:      "Items written by finished step executions.",
		}, []string{"step_name"}),
		stepRollbackCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_step_rollback_total",
			Help:      "Chunk rollbacks of finished step executions.",
		}, []string{"step_name"}),
		pageFetchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_reader_page_fetch_seconds",
			Help:      "Duration of page queries issued by paging readers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"reader"}),
		pageRowsCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_reader_page_rows_total",
			Help:      "Rows returned by page queries.",
		}, []string{"reader"}),
		itemReadCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_reader_items_total",
			Help:      "Items handed out by readers.",
		}, []string{"reader"}),
		chunkCommitCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_chunk_commit_total",
			Help:      "Committed chunks by step.",
		}, []string{"step_name"}),
		chunkItemCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_chunk_items_total",
			Help:      "Items in committed chunks by step.",
		}, []string{"step_name"}),
		partitionsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_partitions_dispatched_total",
			Help:      "Partition requests sent by manager steps.",
		}, []string{"step_name"}),
		partitionResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_partition_results_total",
			Help:      "Partition results received by manager steps, by status.",
		}, []string{"step_name", "status"}),
		durationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_operation_duration_seconds",
			Help:      "Duration of named batch operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	registry.MustRegister(
		r.stepDurationSeconds,
		r.stepStatusCounter,
		r.stepReadCount,
		r.stepWriteCount,
		r.stepRollbackCount,
		r.pageFetchSeconds,
		r.pageRowsCount,
		r.itemReadCount,
		r.chunkCommitCount,
		r.chunkItemCount,
		r.partitionsDispatched,
		r.partitionResults,
		r.durationSeconds,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordStepStart records the start of a StepExecution.
func (r *PrometheusRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.stepStatusCounter.WithLabelValues(execution.StepName, execution.Status.String()).Inc()
	logger.Debugf("Metrics: Step '%s' started.", execution.StepName)
}

// RecordStepEnd records the final status, duration and counters of a StepExecution.
func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	r.stepStatusCounter.WithLabelValues(execution.StepName, execution.Status.String()).Inc()
	r.stepReadCount.WithLabelValues(execution.StepName).Add(float64(execution.ReadCount))
	r.stepWriteCount.WithLabelValues(execution.StepName).Add(float64(execution.WriteCount))
	r.stepRollbackCount.WithLabelValues(execution.StepName).Add(float64(execution.RollbackCount))

	if execution.EndTime == nil || execution.StartTime.IsZero() {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()
	r.stepDurationSeconds.WithLabelValues(
		execution.StepName,
		execution.Status.String(),
		execution.ExitStatus.String(),
	).Observe(duration)
	logger.Debugf("Metrics: Step '%s' ended. Duration: %.3fs", execution.StepName, duration)
}

// RecordPageFetch records one page query.
func (r *PrometheusRecorder) RecordPageFetch(ctx context.Context, readerName string, pageSize int, rows int, duration time.Duration) {
	r.pageFetchSeconds.WithLabelValues(readerName).Observe(duration.Seconds())
	r.pageRowsCount.WithLabelValues(readerName).Add(float64(rows))
}

// RecordItemRead records one item handed out by a reader.
func (r *PrometheusRecorder) RecordItemRead(ctx context.Context, readerName string) {
	r.itemReadCount.WithLabelValues(readerName).Inc()
}

// RecordChunkCommit records a committed chunk.
func (r *PrometheusRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.chunkCommitCount.WithLabelValues(stepName).Inc()
	r.chunkItemCount.WithLabelValues(stepName).Add(float64(count))
}

// RecordPartitionsDispatched records the partition requests sent for a manager step.
func (r *PrometheusRecorder) RecordPartitionsDispatched(ctx context.Context, stepName string, count int) {
	r.partitionsDispatched.WithLabelValues(stepName).Add(float64(count))
}

// RecordPartitionResult records the status one partition finished with.
func (r *PrometheusRecorder) RecordPartitionResult(ctx context.Context, stepName string, status model.JobStatus) {
	r.partitionResults.WithLabelValues(stepName, status.String()).Inc()
}

// RecordDuration records the duration of a named operation. Tags are not used as
// labels to keep the label set bounded.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.durationSeconds.WithLabelValues(name).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
