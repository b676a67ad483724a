package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
)

// ErrJobNotFound is returned by Get/UpdateFields/Delete when the job id
// does not exist (or no longer exists).
var ErrJobNotFound = errors.New("job not found")

// JobStore is the only write path to a Job. UpdateFields merges exactly
// the provided fields: a key that is absent leaves the column
// untouched, a key present with a nil value clears it.
type JobStore interface {
	Create(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type gormJobStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGormJobStore(db *gorm.DB, log *logger.Logger) (JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &gormJobStore{db: db, log: log.With("repo", "JobStore")}, nil
}

func (r *gormJobStore) Create(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	job := newQueuedJob(id)
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("create job %s: %w", id, err)
	}
	return job, nil
}

func (r *gormJobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &job, nil
}

func (r *gormJobStore) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	patch := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		patch[k] = v
	}
	patch["updated_at"] = time.Now().UTC()

	res := r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Updates(patch)
	if res.Error != nil {
		return fmt.Errorf("update job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

func (r *gormJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&domain.Job{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

func newQueuedJob(id uuid.UUID) *domain.Job {
	now := time.Now().UTC()
	return &domain.Job{
		ID:           id,
		Status:       domain.JobStatusQueued,
		Progress:     0,
		Round1Status: domain.RoundStatusPending,
		Round2Status: domain.RoundStatusPending,
		Round3Status: domain.RoundStatusPending,
		Round4Status: domain.RoundStatusPending,
		Round5Status: domain.RoundStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
