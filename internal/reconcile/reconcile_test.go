package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/crn-cloud/crn/internal/batch"
	"github.com/crn-cloud/crn/internal/batch/batchtest"
	"github.com/crn-cloud/crn/internal/event"
	"github.com/crn-cloud/crn/internal/jobstore"
	"github.com/crn-cloud/crn/internal/models"
	"github.com/crn-cloud/crn/internal/objectstore/memory"
	"github.com/crn-cloud/crn/internal/testutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *jobstore.Store
	backend *batchtest.Fake
	objects *memory.Store
	bus     event.Bus
	r       *Reconciler
}

func newFixture(t *testing.T) *fixture {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })

	f := &fixture{
		store:   jobstore.New(db),
		backend: batchtest.New(),
		objects: memory.New(),
		bus:     event.New(),
	}
	f.r = New(f.store, f.backend, f.objects, f.bus)
	return f
}

func (f *fixture) insertRunning(t *testing.T) *models.Job {
	t.Helper()
	job := &models.Job{
		ID:             uuid.New(),
		DefinitionRef:  "crn:test:definition/mriqc:1",
		DefinitionName: "mriqc",
		DatasetID:      "ds000001",
		SnapshotID:     "1.0.0",
		DatasetHash:    "abc123",
		ParametersHash: "def456",
		AnalysisID:     uuid.NewString(),
		Status:         models.StatusRunning,
		Created:        time.Now().UTC(),
		Tasks:          models.TaskRefs{{ID: "task-1"}},
	}
	require.NoError(t, f.store.Insert(context.Background(), job))
	return job
}

func TestShouldReconcile(t *testing.T) {
	cases := []struct {
		name string
		job  models.Job
		want bool
	}{
		{"running with tasks", models.Job{Status: models.StatusRunning, Tasks: models.TaskRefs{{ID: "t"}}}, true},
		{"uploading without tasks", models.Job{Status: models.StatusUploading}, false},
		{"failed", models.Job{Status: models.StatusFailed, Tasks: models.TaskRefs{{ID: "t"}}}, false},
		{"rejected", models.Job{Status: models.StatusRejected, Tasks: models.TaskRefs{{ID: "t"}}}, false},
		{"succeeded with results", models.Job{Status: models.StatusSucceeded, Tasks: models.TaskRefs{{ID: "t"}}, Results: models.ResultObjects{{Key: "k"}}}, false},
		{"succeeded without results", models.Job{Status: models.StatusSucceeded, Tasks: models.TaskRefs{{ID: "t"}}}, true},
		{"retrying without tasks", models.Job{Status: models.StatusRetrying}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ShouldReconcile(&tc.job))
		})
	}
}

func TestReconcileKeepsRunningWhileTasksActive(t *testing.T) {
	f := newFixture(t)
	job := f.insertRunning(t)
	f.backend.SetTasks(job.AnalysisID, []batch.TaskDetail{
		{ID: "task-1", Name: "mriqc", Status: batch.TaskSucceeded},
		{ID: "task-2", Name: "mriqc", Status: batch.TaskRunning},
	})

	snapshot, err := f.r.Reconcile(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, models.StatusRunning, snapshot.Status)

	reloaded, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusRunning, reloaded.Status)
}

func TestReconcileSucceedsWhenAllTasksSucceed(t *testing.T) {
	f := newFixture(t)
	job := f.insertRunning(t)
	f.backend.SetTasks(job.AnalysisID, []batch.TaskDetail{
		{ID: "task-1", Name: "mriqc", Status: batch.TaskSucceeded},
	})
	f.objects.Put(job.OutputPrefix()+"report.html", []byte("<html>"))
	f.objects.Put(job.OutputPrefix()+"derived/", nil)

	snapshot, err := f.r.Reconcile(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, models.StatusSucceeded, snapshot.Status)

	reloaded, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSucceeded, reloaded.Status)
	require.Len(t, reloaded.Results, 1)
	require.Equal(t, job.OutputPrefix()+"report.html", reloaded.Results[0].Key)
}

func TestReconcileFailsOnAnyFailedTask(t *testing.T) {
	f := newFixture(t)
	job := f.insertRunning(t)
	f.backend.SetTasks(job.AnalysisID, []batch.TaskDetail{
		{ID: "task-1", Name: "mriqc", Status: batch.TaskSucceeded},
		{ID: "task-2", Name: "mriqc", Status: batch.TaskFailed},
	})

	snapshot, err := f.r.Reconcile(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, snapshot.Status)
}

func TestReconcileEmptyTaskListIsNotFinished(t *testing.T) {
	f := newFixture(t)
	job := f.insertRunning(t)

	// The job recorded tasks, but the backend reports none yet.
	snapshot, err := f.r.Reconcile(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, models.StatusRunning, snapshot.Status)
}

func TestReconcileAbortsOnBackendError(t *testing.T) {
	f := newFixture(t)
	job := f.insertRunning(t)
	f.backend.TasksErr = errors.New("backend unavailable")

	_, err := f.r.Reconcile(context.Background(), job)
	require.Error(t, err)

	reloaded, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusRunning, reloaded.Status)
}

func TestReconcileAbortsOnListingError(t *testing.T) {
	f := newFixture(t)
	job := f.insertRunning(t)
	f.backend.SetTasks(job.AnalysisID, []batch.TaskDetail{
		{ID: "task-1", Name: "mriqc", Status: batch.TaskSucceeded},
	})
	f.objects.ListErr = errors.New("listing unavailable")

	_, err := f.r.Reconcile(context.Background(), job)
	require.Error(t, err)

	reloaded, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusRunning, reloaded.Status)
	require.Empty(t, reloaded.Results)
}

func TestReconcileEmitsCompletionExactlyOnce(t *testing.T) {
	f := newFixture(t)
	job := f.insertRunning(t)
	f.backend.SetTasks(job.AnalysisID, []batch.TaskDetail{
		{ID: "task-1", Name: "mriqc", Status: batch.TaskSucceeded},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := f.bus.Subscribe(ctx, event.Filter{Types: []event.Type{event.TypeJobCompleted}})
	require.NoError(t, err)

	_, err = f.r.Reconcile(context.Background(), job)
	require.NoError(t, err)

	// Replay with stale state: the conditional transition already
	// happened, so no second completion may fire. Results are gone,
	// so ShouldReconcile would route here again.
	stale, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.SetResults(context.Background(), job.ID, nil))
	_, err = f.r.Reconcile(context.Background(), stale)
	require.NoError(t, err)

	select {
	case e := <-events:
		require.Equal(t, job.ID, e.JobID)
	case <-time.After(time.Second):
		t.Fatal("expected one completion event")
	}
	require.Empty(t, events)
}

func TestReconcileLostUpdateReturnsPersistedStatus(t *testing.T) {
	f := newFixture(t)
	job := f.insertRunning(t)
	f.objects.Put(job.OutputPrefix()+"report.html", []byte("<html>"))

	// A concurrent reconciliation already saw the tasks finish; this
	// caller still holds a backend view where they run.
	f.backend.SetTasks(job.AnalysisID, []batch.TaskDetail{
		{ID: "task-1", Name: "mriqc", Status: batch.TaskRunning},
	})
	won, err := f.store.UpdateStatusIf(context.Background(), job.ID, models.NonTerminalStatuses, models.StatusSucceeded)
	require.NoError(t, err)
	require.True(t, won)

	snapshot, err := f.r.Reconcile(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, models.StatusSucceeded, snapshot.Status)
}

func TestReconcileRecordsLogStreamsOnce(t *testing.T) {
	f := newFixture(t)
	job := f.insertRunning(t)

	tasks := []batch.TaskDetail{{
		ID:     "task-1",
		Name:   "mriqc",
		Status: batch.TaskRunning,
		Attempts: []batch.TaskAttempt{{
			ContainerRef: "containers/attempt-a",
			Environment:  map[string]string{"CRN_ANALYSIS_ID": job.AnalysisID},
			ExitCode:     0,
		}},
	}}
	f.backend.SetTasks(job.AnalysisID, tasks)

	_, err := f.r.Reconcile(context.Background(), job)
	require.NoError(t, err)
	_, err = f.r.Reconcile(context.Background(), job)
	require.NoError(t, err)

	reloaded, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.LogStreams, 1)
	require.Equal(t, "mriqc/task-1/attempt-a", reloaded.LogStreams[0].Name)
}
