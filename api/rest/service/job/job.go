package job

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/crn-cloud/crn/internal/archive"
	"github.com/crn-cloud/crn/internal/batch"
	"github.com/crn-cloud/crn/internal/dispatch"
	"github.com/crn-cloud/crn/internal/event"
	"github.com/crn-cloud/crn/internal/jobstore"
	"github.com/crn-cloud/crn/internal/logs"
	"github.com/crn-cloud/crn/internal/metrics"
	"github.com/crn-cloud/crn/internal/models"
	"github.com/crn-cloud/crn/internal/objectstore"
	"github.com/crn-cloud/crn/internal/reconcile"
	"github.com/crn-cloud/crn/internal/snapshot"
	"github.com/crn-cloud/crn/pkg/jsonmap"
	"github.com/crn-cloud/crn/pkg/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrAlreadySucceeded rejects a retry of a finished job.
	ErrAlreadySucceeded = errors.New("a job with the same dataset and parameters has already successfully finished")
	// ErrCurrentlyRunning rejects a retry of a job that is not dead.
	ErrCurrentlyRunning = errors.New("a job with the same dataset and parameters is currently running")
)

// Job is the job lifecycle service: submission with content-based
// deduplication, lazy status reconciliation, retry, and log access.
type Job interface {
	Submit(*SubmitRequest) (*models.Job, error)
	Get(uuid.UUID) (*GetResponse, error)
	Record(uuid.UUID) (*models.Job, error)
	List(*ListRequest) (models.Jobs, error)
	Retry(uuid.UUID) (*models.Job, error)
	Logs(uuid.UUID) (map[string]string, error)
	StreamLogs(appName, jobID, taskRef string) (map[string]string, error)
	Archive(job *models.Job, kind archive.Kind, w io.Writer) error
}

// Deps wires the service's collaborators at startup. Objects holds
// uploaded snapshot bundles; Results holds analysis outputs and may be
// a separate store, defaulting to Objects when unset.
type Deps struct {
	Store    *jobstore.Store
	Backend  batch.Backend
	Objects  objectstore.Store
	Results  objectstore.Store
	Resolver snapshot.Resolver
	Bus      event.Bus
}

var (
	defaultDeps Deps
	defaultMu   sync.RWMutex
)

// Configure sets the process-wide service dependencies.
func Configure(deps Deps) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultDeps = deps
}

// Service returns a request-scoped job service.
func Service(ctx context.Context) Job {
	defaultMu.RLock()
	deps := defaultDeps
	defaultMu.RUnlock()
	return NewService(ctx, deps)
}

// NewService builds a job service from explicit dependencies.
func NewService(ctx context.Context, deps Deps) Job {
	results := deps.Results
	if results == nil {
		results = deps.Objects
	}

	return &jobService{
		ctx:        ctx,
		deps:       deps,
		dispatcher: dispatch.New(deps.Store, deps.Backend, deps.Objects, deps.Bus),
		reconciler: reconcile.New(deps.Store, deps.Backend, results, deps.Bus),
		retriever:  logs.New(deps.Backend),
		exporter:   archive.New(results),
		async:      true,
	}
}

type jobService struct {
	ctx        context.Context
	deps       Deps
	dispatcher *dispatch.Dispatcher
	reconciler *reconcile.Reconciler
	retriever  *logs.Retriever
	exporter   *archive.Exporter

	// async controls whether the post-response upload+dispatch
	// continuation runs on its own goroutine. Tests disable it.
	async bool
}

// SubmitRequest is a job submission: a definition reference, the
// dataset snapshot to analyze, and the parameter map.
type SubmitRequest struct {
	DefinitionRef  string                 `json:"definition_ref"`
	DefinitionName string                 `json:"definition_name"`
	DatasetID      string                 `json:"dataset_id"`
	DatasetLabel   string                 `json:"dataset_label"`
	SnapshotID     string                 `json:"snapshot_id"`
	Parameters     map[string]interface{} `json:"parameters"`
}

// Submit validates and deduplicates the request, persists the job, and
// kicks off the asynchronous upload and dispatch. The returned job is
// already answerable to the caller; dispatch failures surface only on
// later status queries.
func (s *jobService) Submit(req *SubmitRequest) (*models.Job, error) {
	if req.DefinitionRef == "" || req.DatasetID == "" || req.SnapshotID == "" {
		return nil, errors.New("definition_ref, dataset_id and snapshot_id are required")
	}

	parametersHash, err := snapshot.HashParameters(req.Parameters)
	if err != nil {
		return nil, err
	}

	bundle, err := s.deps.Resolver.Resolve(s.ctx, req.DatasetID, req.SnapshotID)
	if err != nil {
		return nil, err
	}

	tuple := jobstore.Tuple{
		DefinitionRef:  req.DefinitionRef,
		DatasetHash:    bundle.Hash,
		ParametersHash: parametersHash,
		SnapshotID:     req.SnapshotID,
	}

	existing, err := s.deps.Store.FindByTuple(s.ctx, tuple)
	if err != nil && !errors.Is(err, jobstore.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		// Submitting an identical request against a dead job is an
		// implicit retry.
		if existing.Status.FailureTerminal() {
			return s.Retry(existing.ID)
		}
		metrics.JobSubmissionsTotal.WithLabelValues("duplicate").Inc()
		return nil, jobstore.ErrDuplicateJob
	}

	job := &models.Job{
		ID:             uuid.New(),
		DefinitionRef:  req.DefinitionRef,
		DefinitionName: req.DefinitionName,
		DatasetID:      req.DatasetID,
		DatasetLabel:   req.DatasetLabel,
		SnapshotID:     req.SnapshotID,
		DatasetHash:    bundle.Hash,
		ParametersHash: parametersHash,
		Parameters:     jsonmap.FromMap(req.Parameters),
		AnalysisID:     uuid.NewString(),
		Status:         models.StatusUploading,
		Created:        time.Now().UTC(),
	}

	if err := s.deps.Store.Insert(s.ctx, job); err != nil {
		if errors.Is(err, jobstore.ErrDuplicateJob) {
			metrics.JobSubmissionsTotal.WithLabelValues("duplicate").Inc()
		}
		return nil, err
	}

	metrics.JobSubmissionsTotal.WithLabelValues("accepted").Inc()
	s.publishSubmitted(job)

	s.continueWith(func() {
		s.dispatcher.Dispatch(context.Background(), job, bundle, false)
	})

	return job, nil
}

// GetResponse is either the cached job record or, when the backend was
// consulted, a freshly reconciled status snapshot.
type GetResponse struct {
	Job      *models.Job
	Snapshot *reconcile.Snapshot
}

// Get returns the job's current view, reconciling against the compute
// backend when the persisted status can still change and tasks have
// been observed.
func (s *jobService) Get(id uuid.UUID) (*GetResponse, error) {
	job, err := s.deps.Store.Get(s.ctx, id)
	if err != nil {
		return nil, err
	}

	if !reconcile.ShouldReconcile(job) {
		return &GetResponse{Job: job}, nil
	}

	snap, err := s.reconciler.Reconcile(s.ctx, job)
	if err != nil {
		return nil, err
	}

	return &GetResponse{Snapshot: snap}, nil
}

// ListRequest filters the job listing.
type ListRequest struct {
	DatasetID string
	Status    string
	Limit     int
}

func (s *jobService) List(req *ListRequest) (models.Jobs, error) {
	return s.deps.Store.List(s.ctx, jobstore.ListRequest{
		DatasetID: req.DatasetID,
		Status:    models.Status(req.Status),
		Limit:     req.Limit,
	})
}

// Retry re-dispatches a dead job with its original parameters. Only
// FAILED and REJECTED jobs qualify.
func (s *jobService) Retry(id uuid.UUID) (*models.Job, error) {
	job, err := s.deps.Store.Get(s.ctx, id)
	if err != nil {
		return nil, err
	}

	if job.Status == models.StatusSucceeded {
		return nil, ErrAlreadySucceeded
	}
	if !job.Status.FailureTerminal() {
		return nil, ErrCurrentlyRunning
	}

	moved, err := s.deps.Store.MarkRetrying(s.ctx, id)
	if err != nil {
		return nil, err
	}
	if !moved {
		// Another caller moved the job first.
		return nil, ErrCurrentlyRunning
	}

	metrics.JobTransitionsTotal.WithLabelValues(string(models.StatusRetrying)).Inc()

	job, err = s.deps.Store.Get(s.ctx, id)
	if err != nil {
		return nil, err
	}

	// The bundle is already in durable storage; only dispatch runs.
	s.continueWith(func() {
		s.dispatcher.Dispatch(context.Background(), job, nil, true)
	})

	return job, nil
}

// Record returns the persisted job without reconciling.
func (s *jobService) Record(id uuid.UUID) (*models.Job, error) {
	return s.deps.Store.Get(s.ctx, id)
}

// Archive streams the job's export objects into a zip written to w.
func (s *jobService) Archive(job *models.Job, kind archive.Kind, w io.Writer) error {
	return s.exporter.Write(s.ctx, job, kind, w)
}

// Logs returns every recorded log stream of the job, keyed by name.
func (s *jobService) Logs(id uuid.UUID) (map[string]string, error) {
	job, err := s.deps.Store.Get(s.ctx, id)
	if err != nil {
		return nil, err
	}
	return s.retriever.JobLogs(s.ctx, job)
}

// StreamLogs returns one execution attempt's log by composite key.
func (s *jobService) StreamLogs(appName, jobID, taskRef string) (map[string]string, error) {
	return s.retriever.StreamLogs(s.ctx, appName, jobID, taskRef)
}

func (s *jobService) continueWith(fn func()) {
	if s.async {
		go fn()
		return
	}
	fn()
}

func (s *jobService) publishSubmitted(job *models.Job) {
	if s.deps.Bus == nil {
		return
	}

	payload, err := json.Marshal(job)
	if err != nil {
		log.Error("failed to marshal job submitted event", "job_id", job.ID, "error", err)
		return
	}

	s.deps.Bus.Publish(event.Event{
		Type:       event.TypeJobSubmitted,
		JobID:      job.ID,
		AnalysisID: job.AnalysisID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	})
}
