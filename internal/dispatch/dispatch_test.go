package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crn-cloud/crn/internal/batch/batchtest"
	"github.com/crn-cloud/crn/internal/event"
	"github.com/crn-cloud/crn/internal/jobstore"
	"github.com/crn-cloud/crn/internal/models"
	"github.com/crn-cloud/crn/internal/objectstore"
	"github.com/crn-cloud/crn/internal/objectstore/memory"
	"github.com/crn-cloud/crn/internal/snapshot"
	"github.com/crn-cloud/crn/internal/testutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type fixture struct {
	store   *jobstore.Store
	backend *batchtest.Fake
	objects *memory.Store
	bus     event.Bus
	d       *Dispatcher
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
	f.d = New(f.store, f.backend, f.objects, f.bus)
	return f
}

func (f *fixture) insertUploading(t *testing.T) *models.Job {
	t.Helper()
	job := &models.Job{
		ID:             uuid.New(),
		DefinitionRef:  "crn:test:definition/mriqc:1",
		DefinitionName: "mriqc",
		DatasetID:      "ds000001",
		SnapshotID:     "1.0.0",
		DatasetHash:    "abc123",
		ParametersHash: "def456",
		Parameters:     datatypes.JSONMap{"n_procs": "4"},
		AnalysisID:     uuid.NewString(),
		Status:         models.StatusUploading,
		Created:        time.Now().UTC(),
	}
	require.NoError(t, f.store.Insert(context.Background(), job))
	return job
}

func testBundle(t *testing.T) *snapshot.Bundle {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "participants.tsv")
	require.NoError(t, os.WriteFile(path, []byte("participant_id\nsub-01"), 0o644))

	return &snapshot.Bundle{
		Hash:  "abc123",
		Files: []snapshot.File{{Key: "participants.tsv", Path: path}},
	}
}

func TestDispatchUploadsAndSubmits(t *testing.T) {
	f := newFixture(t)
	job := f.insertUploading(t)

	f.d.Dispatch(context.Background(), job, testBundle(t), false)

	require.Len(t, f.backend.Submitted, 1)
	require.Equal(t, job.AnalysisID, f.backend.Submitted[0].AnalysisID)
	require.Equal(t, "mriqc", f.backend.Submitted[0].JobName)
	require.Equal(t, map[string]string{"n_procs": "4"}, f.backend.Submitted[0].Parameters)

	_, err := f.objects.Get(context.Background(), "bundles/abc123/participants.tsv")
	require.NoError(t, err)

	reloaded, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusUploading, reloaded.Status)
	require.Len(t, reloaded.Tasks, 1)
}

func TestDispatchWithoutBundleSkipsUpload(t *testing.T) {
	f := newFixture(t)
	job := f.insertUploading(t)

	f.d.Dispatch(context.Background(), job, nil, true)

	require.Len(t, f.backend.Submitted, 1)

	page, err := f.objects.List(context.Background(), listAll())
	require.NoError(t, err)
	require.Empty(t, page.Objects)
}

func listAll() objectstore.ListRequest {
	return objectstore.ListRequest{}
}

func TestDispatchRejectsOnSubmitFailure(t *testing.T) {
	f := newFixture(t)
	job := f.insertUploading(t)
	f.backend.SubmitErr = errors.New("backend unavailable")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := f.bus.Subscribe(ctx, event.Filter{Types: []event.Type{event.TypeJobRejected}})
	require.NoError(t, err)

	f.d.Dispatch(context.Background(), job, testBundle(t), false)

	reloaded, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, reloaded.Status)
	require.Empty(t, reloaded.Tasks)

	select {
	case e := <-events:
		require.Equal(t, job.ID, e.JobID)
	case <-time.After(time.Second):
		t.Fatal("expected a rejection event")
	}
}

func TestDispatchRejectsOnUploadFailure(t *testing.T) {
	f := newFixture(t)
	job := f.insertUploading(t)

	missing := &snapshot.Bundle{
		Hash:  "abc123",
		Files: []snapshot.File{{Key: "gone.txt", Path: filepath.Join(t.TempDir(), "gone.txt")}},
	}

	f.d.Dispatch(context.Background(), job, missing, false)

	require.Empty(t, f.backend.Submitted)

	reloaded, err := f.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, reloaded.Status)
}

func TestBuildParamsFromPersistedJob(t *testing.T) {
	job := &models.Job{
		DefinitionRef:  "crn:test:definition/mriqc:2",
		DefinitionName: "mriqc",
		DatasetHash:    "abc123",
		SnapshotID:     "1.0.0",
		AnalysisID:     "analysis-1",
		Parameters:     datatypes.JSONMap{"modality": "T1w"},
	}

	params := BuildParams(job)
	require.Equal(t, "mriqc", params.JobName)
	require.Equal(t, "crn:test:definition/mriqc:2", params.DefinitionRef)
	require.Equal(t, "analysis-1", params.AnalysisID)
	require.Equal(t, "abc123", params.DatasetHash)
	require.Equal(t, "1.0.0", params.SnapshotID)
	require.Equal(t, map[string]string{"modality": "T1w"}, params.Parameters)
}
