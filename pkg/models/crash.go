package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Breadcrumb is one entry of the client-side event trail leading up to
// a crash. The list is stored in submission order.
type Breadcrumb struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Category  string    `json:"category,omitempty"`
}

// Crash is a single crash occurrence as submitted by a client. The raw
// stack trace is immutable; only the decode fields and the group
// reference (during reconciliation) ever change after insert.
//
// OccurredAt is the client's own event timestamp, not server receipt
// time. DeviceInfo is passed through opaquely so that future client
// fields survive a round trip without a schema change.
type Crash struct {
	ID                uuid.UUID         `db:"id"                 json:"id"`
	AppID             uuid.UUID         `db:"app_id"             json:"app_id"`
	GroupID           uuid.UUID         `db:"group_id"           json:"group_id"`
	VersionCode       *int64            `db:"version_code"       json:"version_code,omitempty"`
	VersionName       string            `db:"version_name"       json:"version_name,omitempty"`
	StacktraceRaw     string            `db:"stacktrace_raw"     json:"stacktrace_raw"`
	StacktraceDecoded *string           `db:"stacktrace_decoded" json:"stacktrace_decoded,omitempty"`
	DecodedAt         *time.Time        `db:"decoded_at"         json:"decoded_at,omitempty"`
	DecodeError       *string           `db:"decode_error"       json:"decode_error,omitempty"`
	Thread            string            `db:"thread"             json:"thread,omitempty"`
	IsFatal           bool              `db:"is_fatal"           json:"is_fatal"`
	Context           map[string]string `db:"context"            json:"context,omitempty"`
	Breadcrumbs       []Breadcrumb      `db:"breadcrumbs"        json:"breadcrumbs,omitempty"`
	DeviceInfo        json.RawMessage   `db:"device_info"        json:"device_info,omitempty"`
	OccurredAt        time.Time         `db:"occurred_at"        json:"occurred_at"`
	CreatedAt         time.Time         `db:"created_at"         json:"created_at"`
}

// BestTrace returns the decoded stack trace when decoding succeeded,
// falling back to the raw trace otherwise.
func (c *Crash) BestTrace() string {
	if c.StacktraceDecoded != nil {
		return *c.StacktraceDecoded
	}
	return c.StacktraceRaw
}
