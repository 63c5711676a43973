package notification

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/crn-cloud/crn/internal/event"
	"github.com/crn-cloud/crn/internal/jobstore"
	"github.com/crn-cloud/crn/pkg/log"
	"github.com/pkg/errors"
)

// Subscriber consumes job-completed events and posts them to a webhook
// endpoint. Delivery is at most once per job: the persisted notified
// flag is flipped with a conditional update before the webhook fires,
// so duplicate completion events (or competing subscribers sharing the
// store) cannot double-send.
type Subscriber struct {
	store  *jobstore.Store
	url    string
	client *http.Client
}

func NewSubscriber(store *jobstore.Store, url string, timeout time.Duration) *Subscriber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Subscriber{
		store:  store,
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Run subscribes to completion events and delivers notifications until
// the context is cancelled.
func (s *Subscriber) Run(ctx context.Context, bus event.Bus) error {
	if s.url == "" {
		log.Info("notification webhook not configured, skipping subscriber")
		return nil
	}

	events, err := bus.Subscribe(ctx, event.Filter{
		Types: []event.Type{event.TypeJobCompleted},
	})
	if err != nil {
		return err
	}

	for e := range events {
		if err := s.notify(ctx, e); err != nil {
			log.Error("notification delivery failure", "job_id", e.JobID, "error", err)
		}
	}

	return nil
}

func (s *Subscriber) notify(ctx context.Context, e event.Event) error {
	first, err := s.store.MarkNotified(ctx, e.JobID)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(e.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Errorf("webhook returned status %d", resp.StatusCode)
	}

	log.Info("job completion notification sent", "job_id", e.JobID, "analysis_id", e.AnalysisID)
	return nil
}
