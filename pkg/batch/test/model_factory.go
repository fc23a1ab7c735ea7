// Package test holds fixtures and mocks shared by the package tests.
package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
)

// NewTestExecutionContext creates an ExecutionContext for testing.
func NewTestExecutionContext(data map[string]interface{}) *model.ExecutionContext {
	ec := model.NewExecutionContext()
	for k, v := range data {
		ec.Put(k, v)
	}
	ec.ClearDirtyFlag()
	return ec
}

// NewTestJobExecution creates and saves a started JobExecution of a new JobInstance.
func NewTestJobExecution(t testing.TB, repo repository.JobRepository, jobName string) *model.JobExecution {
	t.Helper()
	ctx := context.Background()
	instance, err := repo.CreateJobInstance(ctx, jobName, t.Name())
	require.NoError(t, err)

	je := model.NewJobExecution(instance.ID, jobName)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	je.MarkAsStarted()
	require.NoError(t, repo.UpdateJobExecution(ctx, je))
	return je
}

// NewTestStepExecution creates and saves a StepExecution of jobExecution.
func NewTestStepExecution(t testing.TB, repo repository.JobRepository, jobExecution *model.JobExecution, stepName string) *model.StepExecution {
	t.Helper()
	se := model.NewStepExecution(stepName, jobExecution)
	require.NoError(t, repo.SaveStepExecution(context.Background(), se))
	return se
}

// MarkStepAs sets a terminal status on se and persists it.
func MarkStepAs(t testing.TB, repo repository.JobRepository, se *model.StepExecution, status model.JobStatus) {
	t.Helper()
	switch status {
	case model.BatchStatusCompleted:
		se.MarkAsCompleted()
	case model.BatchStatusStopped:
		se.MarkAsStopped()
	case model.BatchStatusFailed:
		se.MarkAsFailed(nil)
	default:
		se.Status = status
	}
	require.NoError(t, repo.UpdateStepExecution(context.Background(), se))
}
