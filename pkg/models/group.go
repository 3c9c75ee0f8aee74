package models

import (
	"time"

	"github.com/google/uuid"
)

// GroupStatus is the triage state of a crash group.
type GroupStatus string

const (
	GroupStatusOpen     GroupStatus = "open"
	GroupStatusResolved GroupStatus = "resolved"
	GroupStatusIgnored  GroupStatus = "ignored"
)

// ValidGroupStatus reports whether s is a known triage state.
func ValidGroupStatus(s GroupStatus) bool {
	switch s {
	case GroupStatusOpen, GroupStatusResolved, GroupStatusIgnored:
		return true
	}
	return false
}

// CrashGroup is the deduplicated bucket for one logical defect. Exactly
// one group exists per (app_id, fingerprint) pair; every crash with
// that fingerprint attributes to it.
type CrashGroup struct {
	ID               uuid.UUID   `db:"id"                json:"id"`
	AppID            uuid.UUID   `db:"app_id"            json:"app_id"`
	Fingerprint      string      `db:"fingerprint"       json:"fingerprint"`
	ExceptionClass   *string     `db:"exception_class"   json:"exception_class,omitempty"`
	ExceptionMessage *string     `db:"exception_message" json:"exception_message,omitempty"`
	FirstSeen        time.Time   `db:"first_seen"        json:"first_seen"`
	LastSeen         time.Time   `db:"last_seen"         json:"last_seen"`
	Occurrences      int64       `db:"occurrences"       json:"occurrences"`
	Status           GroupStatus `db:"status"            json:"status"`
	CreatedAt        time.Time   `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"        json:"updated_at"`
}
