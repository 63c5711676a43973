package jobstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/crn-cloud/crn/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no job matches the identity.
	ErrNotFound = errors.New("job not found")
	// ErrDuplicateJob is returned when an insert would violate the
	// active-job uniqueness of the dedup tuple.
	ErrDuplicateJob = errors.New("a job with the same dataset and parameters is already active")
)

// Tuple is the uniqueness key for active jobs.
type Tuple struct {
	DefinitionRef  string
	DatasetHash    string
	ParametersHash string
	SnapshotID     string
}

// Store persists Job documents. Status transitions and log-stream
// merges are exposed as conditional primitives because callers rely on
// them for correctness, not convenience.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	if db == nil {
		panic("job store requires a database connection")
	}
	return &Store{db: db}
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Get loads one job by identity.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job := &models.Job{}
	err := s.db.WithContext(ctx).First(job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return job, err
}

// ListRequest filters the job listing.
type ListRequest struct {
	DatasetID string
	Status    models.Status
	Limit     int
}

// List returns jobs ordered by creation time, newest first.
func (s *Store) List(ctx context.Context, req ListRequest) (models.Jobs, error) {
	var (
		jobs = make(models.Jobs, 0)
		q    = s.db.WithContext(ctx).Order("created DESC")
	)

	if req.DatasetID != "" {
		q = q.Where("dataset_id = ?", req.DatasetID)
	}
	if req.Status != "" {
		q = q.Where("status = ?", req.Status)
	}
	if req.Limit > 0 {
		q = q.Limit(req.Limit)
	}

	return jobs, q.Find(&jobs).Error
}

// FindByTuple returns the job matching the dedup tuple, or ErrNotFound.
func (s *Store) FindByTuple(ctx context.Context, t Tuple) (*models.Job, error) {
	job := &models.Job{}
	err := s.db.WithContext(ctx).
		Where(
			"definition_ref = ? AND dataset_hash = ? AND parameters_hash = ? AND snapshot_id = ?",
			t.DefinitionRef, t.DatasetHash, t.ParametersHash, t.SnapshotID,
		).
		First(job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return job, err
}

// Insert persists a new job. The dedup tuple is re-validated inside
// the insert transaction so two concurrent submissions cannot both
// pass the duplicate check.
func (s *Store) Insert(ctx context.Context, job *models.Job) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		err := tx.Model(&models.Job{}).
			Where(
				"definition_ref = ? AND dataset_hash = ? AND parameters_hash = ? AND snapshot_id = ?",
				job.DefinitionRef, job.DatasetHash, job.ParametersHash, job.SnapshotID,
			).
			Where("status NOT IN ?", []models.Status{models.StatusFailed, models.StatusRejected}).
			Count(&active).Error
		if err != nil {
			return err
		}
		if active > 0 {
			return ErrDuplicateJob
		}

		return tx.Create(job).Error
	})
}

// UpdateStatusIf performs a compare-and-set on the job status. It
// reports whether this caller won the transition; a false return with
// a nil error means another writer moved the status first.
func (s *Store) UpdateStatusIf(ctx context.Context, id uuid.UUID, from []models.Status, to models.Status) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	return result.RowsAffected == 1, result.Error
}

// MarkRetrying atomically moves a failure-terminal job to RETRYING,
// increments the attempt counter, and clears the observed task list.
func (s *Store) MarkRetrying(ctx context.Context, id uuid.UUID) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, []models.Status{models.StatusFailed, models.StatusRejected}).
		Updates(map[string]interface{}{
			"status":   models.StatusRetrying,
			"attempts": gorm.Expr("attempts + 1"),
			"tasks":    models.TaskRefs{},
		})
	return result.RowsAffected == 1, result.Error
}

// SetTasks records the backend task descriptors for the analysis.
// Serialized columns only go through the model serializer on the
// Updates form, so single-column Update is avoided here.
func (s *Store) SetTasks(ctx context.Context, id uuid.UUID, tasks models.TaskRefs) error {
	return s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"tasks": tasks}).Error
}

// SetResults replaces the job's result listing.
func (s *Store) SetResults(ctx context.Context, id uuid.UUID, results models.ResultObjects) error {
	return s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"results": results}).Error
}

// AppendLogStreams merges streams into the job's log-stream set,
// skipping names already present. The merge is an optimistic
// compare-and-set on the serialized column, retried on contention, so
// concurrent reconciliations cannot duplicate entries.
func (s *Store) AppendLogStreams(ctx context.Context, id uuid.UUID, streams models.LogStreams) error {
	if len(streams) == 0 {
		return nil
	}

	for attempt := 0; attempt < appendRetries; attempt++ {
		job, err := s.Get(ctx, id)
		if err != nil {
			return err
		}

		merged := job.LogStreams
		for _, stream := range streams {
			if merged.Contains(stream.Name) {
				continue
			}
			merged = append(merged, stream)
		}
		if len(merged) == len(job.LogStreams) {
			return nil
		}

		current, err := json.Marshal(job.LogStreams)
		if err != nil {
			return err
		}

		q := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id)
		if len(job.LogStreams) == 0 {
			q = q.Where("log_streams IS NULL OR log_streams IN ?", []string{"", "[]", "null"})
		} else {
			q = q.Where("log_streams = ?", string(current))
		}

		result := q.Updates(map[string]interface{}{"log_streams": merged})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			return nil
		}
	}

	return errors.New("log stream merge contention")
}

const appendRetries = 5

// MarkNotified flips the at-most-once notification guard. It reports
// whether this caller is the one allowed to notify.
func (s *Store) MarkNotified(ctx context.Context, id uuid.UUID) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND notified = ?", id, false).
		Update("notified", true)
	return result.RowsAffected == 1, result.Error
}

// StaleUploads returns jobs still in UPLOADING whose last update is
// older than the cutoff and whose dispatch never recorded any tasks.
// A dispatched job stays in UPLOADING until its first poll; unpolled
// is not stuck.
func (s *Store) StaleUploads(ctx context.Context, cutoff time.Time) (models.Jobs, error) {
	var candidates models.Jobs
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.StatusUploading, cutoff).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	jobs := make(models.Jobs, 0, len(candidates))
	for _, job := range candidates {
		if len(job.Tasks) == 0 {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}
