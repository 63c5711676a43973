package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crn-cloud/crn/internal/event"
	"github.com/crn-cloud/crn/internal/jobstore"
	"github.com/crn-cloud/crn/internal/models"
	"github.com/crn-cloud/crn/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func insertSucceeded(t *testing.T, store *jobstore.Store) *models.Job {
	t.Helper()
	job := &models.Job{
		ID:             uuid.New(),
		DefinitionRef:  "crn:test:definition/mriqc:1",
		DatasetID:      "ds000001",
		SnapshotID:     "1.0.0",
		DatasetHash:    "abc123",
		ParametersHash: "def456",
		AnalysisID:     uuid.NewString(),
		Status:         models.StatusSucceeded,
		Created:        time.Now().UTC(),
	}
	require.NoError(t, store.Insert(context.Background(), job))
	return job
}

func completedEvent(job *models.Job) event.Event {
	payload, _ := json.Marshal(job)
	return event.Event{
		Type:       event.TypeJobCompleted,
		JobID:      job.ID,
		AnalysisID: job.AnalysisID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
}

func TestNotifyDeliversOnce(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })

	store := jobstore.New(db)
	job := insertSucceeded(t, store)

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var received models.Job
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		require.Equal(t, job.ID, received.ID)
	}))
	defer server.Close()

	subscriber := NewSubscriber(store, server.URL, time.Second)

	e := completedEvent(job)
	require.NoError(t, subscriber.notify(context.Background(), e))

	// Duplicate completion events must not double-send.
	require.NoError(t, subscriber.notify(context.Background(), e))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNotifyReportsWebhookFailure(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })

	store := jobstore.New(db)
	job := insertSucceeded(t, store)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	subscriber := NewSubscriber(store, server.URL, time.Second)
	require.Error(t, subscriber.notify(context.Background(), completedEvent(job)))
}

func TestRunDeliversSubscribedEvents(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })

	store := jobstore.New(db)
	job := insertSucceeded(t, store)

	delivered := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered <- struct{}{}
	}))
	defer server.Close()

	bus := event.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subscriber := NewSubscriber(store, server.URL, time.Second)
	done := make(chan error, 1)
	go func() { done <- subscriber.Run(ctx, bus) }()

	// Give the subscription a moment to attach.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(completedEvent(job))

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not called")
	}

	cancel()
	require.NoError(t, <-done)
}
