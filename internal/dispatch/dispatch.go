package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/crn-cloud/crn/internal/batch"
	"github.com/crn-cloud/crn/internal/event"
	"github.com/crn-cloud/crn/internal/jobstore"
	"github.com/crn-cloud/crn/internal/metrics"
	"github.com/crn-cloud/crn/internal/models"
	"github.com/crn-cloud/crn/internal/objectstore"
	"github.com/crn-cloud/crn/internal/snapshot"
	"github.com/crn-cloud/crn/pkg/jsonmap"
	"github.com/crn-cloud/crn/pkg/log"
)

// StartedPayload is the body of a job-started event.
type StartedPayload struct {
	Job         batch.DispatchParams `json:"job"`
	CreatedDate time.Time            `json:"created_date"`
	Retry       bool                 `json:"retry,omitempty"`
}

// Dispatcher runs the post-response continuation of a submission or
// retry: upload the content-addressed bundle, build backend dispatch
// parameters, submit, and record the outcome. The caller has already
// been answered by the time any of this runs, so every failure is
// recorded in persisted state rather than surfaced.
type Dispatcher struct {
	store   *jobstore.Store
	backend batch.Backend
	objects objectstore.Store
	bus     event.Bus
}

func New(store *jobstore.Store, backend batch.Backend, objects objectstore.Store, bus event.Bus) *Dispatcher {
	return &Dispatcher{
		store:   store,
		backend: backend,
		objects: objects,
		bus:     bus,
	}
}

// BuildParams constructs backend dispatch parameters from a persisted
// job, so a retry reuses exactly what the original submission ran with.
func BuildParams(job *models.Job) batch.DispatchParams {
	return batch.DispatchParams{
		JobName:       job.DefinitionName,
		DefinitionRef: job.DefinitionRef,
		AnalysisID:    job.AnalysisID,
		DatasetHash:   job.DatasetHash,
		SnapshotID:    job.SnapshotID,
		Parameters:    jsonmap.ToStringMap(job.Parameters),
	}
}

// Dispatch uploads the bundle (when one is supplied) and submits the
// job to the compute backend. On success the observed task refs are
// recorded and a job-started event is emitted; the status itself is
// left for the reconciler to advance. On failure the job is rejected.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.Job, bundle *snapshot.Bundle, retry bool) {
	if bundle != nil {
		if err := d.upload(ctx, bundle); err != nil {
			log.Error("bundle upload failure", "job_id", job.ID, "dataset_hash", bundle.Hash, "error", err)
			d.reject(ctx, job)
			return
		}
	}

	params := BuildParams(job)

	refs, err := d.backend.Submit(ctx, params)
	if err != nil {
		log.Error("backend dispatch failure", "job_id", job.ID, "analysis_id", job.AnalysisID, "error", err)
		d.reject(ctx, job)
		return
	}

	tasks := make(models.TaskRefs, len(refs))
	for i, ref := range refs {
		tasks[i] = models.TaskRef{ID: ref.ID, Name: ref.Name}
	}

	if err := d.store.SetTasks(ctx, job.ID, tasks); err != nil {
		log.Error("failed to record task refs", "job_id", job.ID, "error", err)
	}

	d.emitStarted(job, params, retry)
}

func (d *Dispatcher) upload(ctx context.Context, bundle *snapshot.Bundle) error {
	for _, file := range bundle.Files {
		if err := ctx.Err(); err != nil {
			return err
		}

		src, err := file.Open()
		if err != nil {
			return err
		}

		err = d.objects.Upload(ctx, "bundles/"+bundle.Hash+"/"+file.Key, src)
		src.Close()
		if err != nil {
			return err
		}
	}

	return nil
}

func (d *Dispatcher) reject(ctx context.Context, job *models.Job) {
	metrics.DispatchFailuresTotal.Inc()

	moved, err := d.store.UpdateStatusIf(ctx, job.ID, models.NonTerminalStatuses, models.StatusRejected)
	if err != nil {
		log.Error("failed to reject job", "job_id", job.ID, "error", err)
		return
	}
	if !moved {
		return
	}

	metrics.JobTransitionsTotal.WithLabelValues(string(models.StatusRejected)).Inc()

	if d.bus != nil {
		d.bus.Publish(event.Event{
			Type:       event.TypeJobRejected,
			JobID:      job.ID,
			AnalysisID: job.AnalysisID,
			Timestamp:  time.Now().UTC(),
		})
	}
}

func (d *Dispatcher) emitStarted(job *models.Job, params batch.DispatchParams, retry bool) {
	if d.bus == nil {
		return
	}

	payload, err := json.Marshal(StartedPayload{
		Job:         params,
		CreatedDate: job.Created,
		Retry:       retry,
	})
	if err != nil {
		log.Error("failed to marshal job started event", "job_id", job.ID, "error", err)
		return
	}

	d.bus.Publish(event.Event{
		Type:       event.TypeJobStarted,
		JobID:      job.ID,
		AnalysisID: job.AnalysisID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	})
}
