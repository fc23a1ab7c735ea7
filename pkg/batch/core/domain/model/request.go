package model

import "fmt"

// StepExecutionRequest is the payload a manager sends to a worker for one partition.
// It only identifies the work; the worker loads the StepExecution from the shared repository.
type StepExecutionRequest struct {
	StepName        string `json:"stepName"`
	JobExecutionID  int64  `json:"jobExecutionId"`
	StepExecutionID int64  `json:"stepExecutionId"`
}

// NewStepExecutionRequest creates a request for the given step execution.
func NewStepExecutionRequest(stepName string, jobExecutionID, stepExecutionID int64) StepExecutionRequest {
	return StepExecutionRequest{
		StepName:        stepName,
		JobExecutionID:  jobExecutionID,
		StepExecutionID: stepExecutionID,
	}
}

// String implements fmt.Stringer.
func (r StepExecutionRequest) String() string {
	return fmt.Sprintf("StepExecutionRequest: [jobExecutionId=%d, stepExecutionId=%d, stepName=%s]",
		r.JobExecutionID, r.StepExecutionID, r.StepName)
}
