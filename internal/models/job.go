package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Status enumerates the lifecycle states of an analysis job.
type Status string

const (
	StatusUploading  Status = "UPLOADING"
	StatusRunning    Status = "RUNNING"
	StatusFinalizing Status = "FINALIZING"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
	StatusRejected   Status = "REJECTED"
	StatusRetrying   Status = "RETRYING"
)

// Terminal reports whether no further automatic transition occurs
// without an explicit retry.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusRejected
}

// FailureTerminal reports whether the status is a dead end that an
// explicit retry may resurrect.
func (s Status) FailureTerminal() bool {
	return s == StatusFailed || s == StatusRejected
}

// NonTerminalStatuses are the states a job may still move out of on
// its own. Used for conditional status transitions.
var NonTerminalStatuses = []Status{
	StatusUploading,
	StatusRunning,
	StatusFinalizing,
	StatusRetrying,
}

// TaskRef identifies one backend task belonging to an analysis, as
// observed on the most recent reconciliation.
type TaskRef struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

type TaskRefs []TaskRef

// LogStream describes one execution log stream captured from a task
// attempt. Streams are deduplicated by Name.
type LogStream struct {
	Name        string            `json:"name"`
	Environment map[string]string `json:"environment,omitempty"`
	ExitCode    int               `json:"exit_code"`
}

type LogStreams []LogStream

// Contains reports whether a stream with the given derived name has
// already been recorded.
func (l LogStreams) Contains(name string) bool {
	for _, stream := range l {
		if stream.Name == name {
			return true
		}
	}
	return false
}

// ResultObject references one output object in durable storage.
type ResultObject struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

type ResultObjects []ResultObject

// Job is the persisted record of one analysis submitted against a
// dataset snapshot. The dedup tuple (DefinitionRef, DatasetHash,
// ParametersHash, SnapshotID) must be unique among jobs in a
// non-failure-terminal state.
type Job struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	DefinitionRef  string            `gorm:"index;not null" json:"definition_ref"`
	DefinitionName string            `gorm:"type:text" json:"definition_name"`
	DatasetID      string            `gorm:"index;not null" json:"dataset_id"`
	DatasetLabel   string            `gorm:"type:text" json:"dataset_label"`
	SnapshotID     string            `gorm:"index;not null" json:"snapshot_id"`
	DatasetHash    string            `gorm:"index" json:"dataset_hash"`
	ParametersHash string            `gorm:"index" json:"parameters_hash"`
	Parameters     datatypes.JSONMap `gorm:"type:json" json:"parameters,omitempty"`

	AnalysisID string     `gorm:"type:uuid;uniqueIndex;not null" json:"analysis_id"`
	Status     Status     `gorm:"type:text;index;not null" json:"status"`
	Created    time.Time  `gorm:"not null" json:"created"`
	Attempts   int        `gorm:"not null;default:0" json:"attempts"`
	Notified   bool       `gorm:"not null;default:false" json:"notified"`
	Tasks      TaskRefs   `gorm:"serializer:json" json:"tasks,omitempty"`
	LogStreams LogStreams `gorm:"serializer:json" json:"logstreams,omitempty"`

	Results ResultObjects `gorm:"serializer:json" json:"results,omitempty"`

	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

type Jobs []*Job

// OutputPrefix is the object-store prefix under which all of the
// analysis output lives.
func (j *Job) OutputPrefix() string {
	return j.DatasetHash + "/" + j.AnalysisID + "/"
}
