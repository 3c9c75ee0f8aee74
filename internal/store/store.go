package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sreeram-v/crashdeck/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go
// through here; the Postgres implementation is the production backend
// and MemoryStore backs unit tests.
//
// IngestCrash is the find-or-create protocol of the grouping engine:
// the (app_id, fingerprint) pair is the atomicity unit, and the crash
// insert referencing the resolved group commits in the same unit of
// work, so a crash is never visible without a valid group reference.
type Store interface {
	Ping(ctx context.Context) error

	// Application registry.
	CreateApplication(ctx context.Context, app *models.Application) error
	GetApplication(ctx context.Context, id uuid.UUID) (*models.Application, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error

	// Version registry: mapping files and mute flags per released build.
	GetAppVersion(ctx context.Context, appID uuid.UUID, versionCode int64) (*models.AppVersion, error)
	PutVersionMapping(ctx context.Context, appID uuid.UUID, versionCode int64, versionName string, mapping []byte) error
	SetVersionMuted(ctx context.Context, appID uuid.UUID, versionCode int64, muted bool) error

	// Crash groups and crash records.
	IngestCrash(ctx context.Context, group *models.CrashGroup, crash *models.Crash) (*models.CrashGroup, error)
	GetGroup(ctx context.Context, appID, id uuid.UUID) (*models.CrashGroup, error)
	ListGroups(ctx context.Context, filter GroupFilter) ([]*models.CrashGroup, int, error)
	UpdateGroupStatus(ctx context.Context, appID, id uuid.UUID, status models.GroupStatus) error
	UpdateGroupSignature(ctx context.Context, id uuid.UUID, class, message *string) error
	DeleteGroup(ctx context.Context, appID, id uuid.UUID) error
	GetCrash(ctx context.Context, appID, id uuid.UUID) (*models.Crash, error)
	ListGroupCrashes(ctx context.Context, appID, groupID uuid.UUID, page, limit int) ([]*models.Crash, int, error)
	UpdateCrashDecode(ctx context.Context, id uuid.UUID, decoded *string, decodedAt *time.Time, decodeError *string) error

	// Reconciliation support.
	ListAppGroups(ctx context.Context, appID uuid.UUID) ([]*models.CrashGroup, error)
	GetRepresentativeCrash(ctx context.Context, groupID uuid.UUID) (*models.Crash, error)
	RebucketGroup(ctx context.Context, id uuid.UUID, fingerprint string, class, message *string) error
	MergeGroups(ctx context.Context, merge Merge) (int64, error)

	// Maintenance jobs.
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
}

// GroupFilter selects crash groups for listing. Status empty means all.
type GroupFilter struct {
	AppID  uuid.UUID
	Status models.GroupStatus
	Page   int
	Limit  int
}

// Merge describes one reconciliation collision partition: the surviving
// target group's merged field values and the duplicate groups to absorb.
// Applying it reassigns every crash of the duplicates to the target and
// deletes the duplicates as a single unit of work, returning the number
// of crash records moved.
type Merge struct {
	TargetID         uuid.UUID
	DuplicateIDs     []uuid.UUID
	Fingerprint      string
	ExceptionClass   *string
	ExceptionMessage *string
	FirstSeen        time.Time
	LastSeen         time.Time
	Occurrences      int64
	Status           models.GroupStatus
}

type jobUpdateParams struct {
	ErrorMessage *string
	Summary      *JobSummary
}

// JobSummary holds the reconciliation counts recorded on a completed job.
type JobSummary struct {
	GroupsProcessed   int
	GroupsMerged      int
	CrashesReassigned int
}

type JobUpdateOption func(*jobUpdateParams)

func WithJobError(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithJobSummary(s JobSummary) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Summary = &s
	}
}
