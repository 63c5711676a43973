package reconcile

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/crn-cloud/crn/internal/batch"
	"github.com/crn-cloud/crn/internal/event"
	"github.com/crn-cloud/crn/internal/jobstore"
	"github.com/crn-cloud/crn/internal/metrics"
	"github.com/crn-cloud/crn/internal/models"
	"github.com/crn-cloud/crn/internal/objectstore"
	"github.com/crn-cloud/crn/pkg/log"
)

// Snapshot is what a status query returns to the caller: the job-level
// view, never the raw backend task payload.
type Snapshot struct {
	Status     models.Status `json:"status"`
	AnalysisID string        `json:"analysis_id"`
	Created    time.Time     `json:"created"`
	DatasetID  string        `json:"dataset_id"`
	SnapshotID string        `json:"snapshot_id"`
}

// FromJob builds a snapshot from a persisted record.
func FromJob(job *models.Job) *Snapshot {
	return &Snapshot{
		Status:     job.Status,
		AnalysisID: job.AnalysisID,
		Created:    job.Created,
		DatasetID:  job.DatasetID,
		SnapshotID: job.SnapshotID,
	}
}

// ShouldReconcile reports whether a status query needs to contact the
// compute backend. A success with results already recorded, a failure
// terminal, or a job whose tasks have not appeared yet are all served
// from the cached record.
func ShouldReconcile(job *models.Job) bool {
	if job.Status == models.StatusSucceeded && len(job.Results) > 0 {
		return false
	}
	if job.Status == models.StatusFailed || job.Status == models.StatusRejected {
		return false
	}
	return len(job.Tasks) > 0
}

// Reconciler folds per-task backend state into one job-level status.
type Reconciler struct {
	store   *jobstore.Store
	backend batch.Backend
	objects objectstore.Store
	bus     event.Bus
}

func New(store *jobstore.Store, backend batch.Backend, objects objectstore.Store, bus event.Bus) *Reconciler {
	return &Reconciler{
		store:   store,
		backend: backend,
		objects: objects,
		bus:     bus,
	}
}

// Reconcile queries the backend for the job's task statuses, derives
// the aggregate status, persists it together with the authoritative
// result listing and any newly observed log streams, and returns the
// status snapshot. A backend or listing error aborts the attempt with
// no state change; the next poll tries again.
func (r *Reconciler) Reconcile(ctx context.Context, job *models.Job) (*Snapshot, error) {
	tasks, err := r.backend.AnalysisTasks(ctx, job.AnalysisID)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues("backend_error").Inc()
		return nil, err
	}

	finished := allFinished(tasks)
	status := models.StatusRunning
	if finished {
		status = finalStatus(tasks)
	}

	results, err := r.listResults(ctx, job)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues("listing_error").Inc()
		return nil, err
	}

	won, err := r.store.UpdateStatusIf(ctx, job.ID, models.NonTerminalStatuses, status)
	if err != nil {
		return nil, err
	}
	if won {
		metrics.JobTransitionsTotal.WithLabelValues(string(status)).Inc()
	}

	// The completion hook must fire for exactly one reconciliation:
	// the one whose conditional update moved the status into the
	// terminal state.
	if finished && won {
		r.complete(job, status, results)
	}

	if err := r.store.AppendLogStreams(ctx, job.ID, buildLogStreams(tasks)); err != nil {
		log.Error("failed to merge log streams", "job_id", job.ID, "error", err)
	}

	if err := r.store.SetResults(ctx, job.ID, results); err != nil {
		log.Error("failed to record results", "job_id", job.ID, "error", err)
	}

	metrics.ReconciliationsTotal.WithLabelValues("ok").Inc()

	if !won {
		// Another writer moved the status first; the persisted record
		// is the truth, not this reconciliation's view.
		current, err := r.store.Get(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		return FromJob(current), nil
	}

	snapshot := FromJob(job)
	snapshot.Status = status
	return snapshot, nil
}

// allFinished reports whether every task reached a terminal status. An
// empty task list is not finished; emptiness is judged again at
// finalize time as a failure.
func allFinished(tasks []batch.TaskDetail) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, task := range tasks {
		if !task.Status.Terminal() {
			return false
		}
	}
	return true
}

// finalStatus folds terminal task statuses into the job outcome: any
// failed task, or no tasks at all, fails the job.
func finalStatus(tasks []batch.TaskDetail) models.Status {
	if len(tasks) == 0 {
		return models.StatusFailed
	}
	for _, task := range tasks {
		if task.Status == batch.TaskFailed {
			return models.StatusFailed
		}
	}
	return models.StatusSucceeded
}

func (r *Reconciler) complete(job *models.Job, status models.Status, results models.ResultObjects) {
	if r.bus == nil {
		return
	}

	completed := *job
	completed.Status = status
	completed.Results = results

	payload, err := json.Marshal(&completed)
	if err != nil {
		log.Error("failed to marshal job completed event", "job_id", job.ID, "error", err)
		return
	}

	r.bus.Publish(event.Event{
		Type:       event.TypeJobCompleted,
		JobID:      job.ID,
		AnalysisID: job.AnalysisID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	})
}

// listResults pages through the job's output prefix; the listing is
// the authoritative result set. Directory markers are skipped.
func (r *Reconciler) listResults(ctx context.Context, job *models.Job) (models.ResultObjects, error) {
	var (
		prefix  = job.OutputPrefix()
		results = models.ResultObjects{}
		token   string
	)

	for {
		page, err := r.objects.List(ctx, objectstore.ListRequest{
			Prefix:            prefix,
			StartAfter:        prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}

		for _, obj := range page.Objects {
			if strings.HasSuffix(obj.Key, "/") {
				continue
			}
			results = append(results, models.ResultObject{Key: obj.Key, Size: obj.Size})
		}

		if page.NextToken == "" {
			return results, nil
		}
		token = page.NextToken
	}
}

// buildLogStreams derives a stream descriptor for every recorded task
// attempt, named by task name, task id, and the last path segment of
// the attempt's execution-container reference.
func buildLogStreams(tasks []batch.TaskDetail) models.LogStreams {
	streams := models.LogStreams{}
	for _, task := range tasks {
		for _, attempt := range task.Attempts {
			segments := strings.Split(attempt.ContainerRef, "/")
			streams = append(streams, models.LogStream{
				Name:        task.Name + "/" + task.ID + "/" + segments[len(segments)-1],
				Environment: attempt.Environment,
				ExitCode:    attempt.ExitCode,
			})
		}
	}
	return streams
}
