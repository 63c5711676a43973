package sweep

import (
	"context"
	"time"

	"github.com/crn-cloud/crn/internal/jobstore"
	"github.com/crn-cloud/crn/internal/metrics"
	"github.com/crn-cloud/crn/internal/models"
	"github.com/crn-cloud/crn/pkg/log"
	"github.com/robfig/cron"
)

// Sweeper rejects jobs stranded in UPLOADING. A crash between content
// upload and backend dispatch otherwise leaves a job in UPLOADING
// forever with nothing left to advance it; once the deadline passes,
// the sweeper moves it to REJECTED so an explicit retry can
// re-dispatch it.
type Sweeper struct {
	store    *jobstore.Store
	deadline time.Duration
}

func New(store *jobstore.Store, deadline time.Duration) *Sweeper {
	if deadline <= 0 {
		deadline = time.Hour
	}
	return &Sweeper{store: store, deadline: deadline}
}

// Start runs the sweep on the given cron schedule until the context is
// cancelled.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	if err := c.AddFunc(schedule, func() { s.Sweep(ctx) }); err != nil {
		return err
	}

	c.Start()
	<-ctx.Done()
	c.Stop()

	return nil
}

// Sweep rejects every job whose upload has been pending longer than
// the deadline. The status move is conditional, so a job that advanced
// between the listing and the update is left alone.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.deadline)

	jobs, err := s.store.StaleUploads(ctx, cutoff)
	if err != nil {
		log.Error("stale upload query failure", "error", err)
		return
	}

	for _, job := range jobs {
		moved, err := s.store.UpdateStatusIf(
			ctx,
			job.ID,
			[]models.Status{models.StatusUploading},
			models.StatusRejected,
		)
		if err != nil {
			log.Error("failed to reject stale upload", "job_id", job.ID, "error", err)
			continue
		}
		if moved {
			metrics.JobTransitionsTotal.WithLabelValues(string(models.StatusRejected)).Inc()
			log.Warn(
				"rejected job with stale upload",
				"job_id", job.ID,
				"analysis_id", job.AnalysisID,
				"updated_at", job.UpdatedAt,
			)
		}
	}
}
