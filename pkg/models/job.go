package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

const JobTypeReconcile = "reconcile"

// Job tracks an async maintenance operation. POST /api/v1/admin/reconcile
// returns a job id; the client polls it until status is completed or failed.
// The three count columns hold the reconciliation summary once completed.
type Job struct {
	ID                uuid.UUID  `db:"id"                 json:"id"`
	AppID             uuid.UUID  `db:"app_id"             json:"app_id"`
	Type              string     `db:"type"               json:"type"`
	Status            string     `db:"status"             json:"status"`
	ErrorMessage      *string    `db:"error_message"      json:"error_message,omitempty"`
	GroupsProcessed   *int       `db:"groups_processed"   json:"groups_processed,omitempty"`
	GroupsMerged      *int       `db:"groups_merged"      json:"groups_merged,omitempty"`
	CrashesReassigned *int       `db:"crashes_reassigned" json:"crashes_reassigned,omitempty"`
	StartedAt         *time.Time `db:"started_at"         json:"started_at,omitempty"`
	CompletedAt       *time.Time `db:"completed_at"       json:"completed_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at"         json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"         json:"updated_at"`
}
