package batch

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// TaskStatus enumerates the states a backend task may report.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskSucceeded TaskStatus = "SUCCEEDED"
	TaskFailed    TaskStatus = "FAILED"
)

// Terminal reports whether the task will make no further progress.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// ErrDefinitionNotFound is returned when a definition reference is
// unknown to the backend.
var ErrDefinitionNotFound = errors.New("job definition not found")

// DefinitionSpec is the caller-supplied half of a definition
// registration: the template name and the container recipe the backend
// needs to execute it.
type DefinitionSpec struct {
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	Command []string          `json:"command,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// RegisteredDefinition is the backend's record of a registration.
type RegisteredDefinition struct {
	Name     string            `json:"name"`
	Ref      string            `json:"ref"`
	Revision int               `json:"revision"`
	Image    string            `json:"image"`
	Command  []string          `json:"command,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
}

// DefinitionPage is one page of a describe call. A non-empty NextToken
// means further pages remain.
type DefinitionPage struct {
	Definitions []RegisteredDefinition
	NextToken   string
}

// DispatchParams carries everything the backend needs to start the
// tasks of one analysis.
type DispatchParams struct {
	JobName       string            `json:"job_name"`
	DefinitionRef string            `json:"definition_ref"`
	AnalysisID    string            `json:"analysis_id"`
	DatasetHash   string            `json:"dataset_hash"`
	SnapshotID    string            `json:"snapshot_id"`
	Parameters    map[string]string `json:"parameters,omitempty"`
}

// TaskAttempt records one execution attempt of a task.
type TaskAttempt struct {
	ContainerRef string
	Environment  map[string]string
	ExitCode     int
}

// TaskDetail is the backend's view of one task belonging to an
// analysis, including its attempt history.
type TaskDetail struct {
	ID       string
	Name     string
	Status   TaskStatus
	Attempts []TaskAttempt
}

// TaskRef identifies a task created by a dispatch.
type TaskRef struct {
	ID   string
	Name string
}

// Backend is the compute backend contract: definition management,
// dispatch, and per-task status and log queries.
type Backend interface {
	RegisterDefinition(ctx context.Context, spec DefinitionSpec) (*RegisteredDefinition, error)
	DeregisterDefinition(ctx context.Context, ref string) error
	DescribeDefinitions(ctx context.Context, refs []string, nextToken string) (*DefinitionPage, error)

	Submit(ctx context.Context, params DispatchParams) ([]TaskRef, error)
	AnalysisTasks(ctx context.Context, analysisID string) ([]TaskDetail, error)
	Logs(ctx context.Context, containerRef string) (io.ReadCloser, error)
}
