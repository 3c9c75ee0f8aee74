package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sreeram-v/crashdeck/internal/cache"
	"github.com/sreeram-v/crashdeck/internal/store"
	"github.com/sreeram-v/crashdeck/pkg/models"
)

const jobStatusTTL = 30 * time.Minute

// JobRunner runs reconciliation as polled background jobs. Trigger
// returns a pending job immediately; the run happens in a goroutine
// and the job row (plus a Redis status mirror) tracks progress.
type JobRunner struct {
	store      store.Store
	cache      cache.Cache
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewJobRunner creates a JobRunner. cache may be nil.
func NewJobRunner(st store.Store, c cache.Cache, rec *Reconciler, logger *slog.Logger) *JobRunner {
	return &JobRunner{store: st, cache: c, reconciler: rec, logger: logger}
}

// Trigger creates a pending reconcile job for the application and
// dispatches the run in a background goroutine.
func (j *JobRunner) Trigger(ctx context.Context, appID uuid.UUID) (*models.Job, error) {
	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		AppID:     appID,
		Type:      models.JobTypeReconcile,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := j.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	j.setCachedStatus(ctx, job.ID, models.JobStatusPending)

	go j.run(job.ID, appID)

	return job, nil
}

// GetJob returns the job row for polling.
func (j *JobRunner) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return j.store.GetJob(ctx, jobID)
}

// run executes reconciliation in a goroutine. It recovers from panics
// and always marks the job completed or failed.
func (j *JobRunner) run(jobID, appID uuid.UUID) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("panic in reconcile run", "error", r, "job_id", jobID)
			_ = j.store.UpdateJobStatus(ctx, jobID, models.JobStatusFailed,
				store.WithJobError(fmt.Sprintf("panic: %v", r)))
			j.setCachedStatus(ctx, jobID, models.JobStatusFailed)
		}
	}()

	_ = j.store.UpdateJobStatus(ctx, jobID, models.JobStatusRunning)
	j.setCachedStatus(ctx, jobID, models.JobStatusRunning)

	summary, err := j.reconciler.Run(ctx, appID)
	if err != nil {
		// Partitions that committed before the failure stay committed,
		// so the partial counts are recorded next to the error.
		_ = j.store.UpdateJobStatus(ctx, jobID, models.JobStatusFailed,
			store.WithJobError(err.Error()),
			store.WithJobSummary(store.JobSummary{
				GroupsProcessed:   summary.GroupsProcessed,
				GroupsMerged:      summary.GroupsMerged,
				CrashesReassigned: summary.CrashesReassigned,
			}))
		j.setCachedStatus(ctx, jobID, models.JobStatusFailed)
		return
	}

	_ = j.store.UpdateJobStatus(ctx, jobID, models.JobStatusCompleted,
		store.WithJobSummary(store.JobSummary{
			GroupsProcessed:   summary.GroupsProcessed,
			GroupsMerged:      summary.GroupsMerged,
			CrashesReassigned: summary.CrashesReassigned,
		}))
	j.setCachedStatus(ctx, jobID, models.JobStatusCompleted)

	j.logger.Info("reconcile completed",
		"job_id", jobID,
		"app_id", appID,
		"groups_processed", summary.GroupsProcessed,
		"groups_merged", summary.GroupsMerged,
		"crashes_reassigned", summary.CrashesReassigned)
}

func (j *JobRunner) setCachedStatus(ctx context.Context, jobID uuid.UUID, status string) {
	if j.cache == nil {
		return
	}
	_ = j.cache.SetJobStatus(ctx, jobID, status, jobStatusTTL)
}
