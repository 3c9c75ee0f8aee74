package models

import (
	"time"

	"github.com/google/uuid"
)

// Application is an instrumented app registered with crashdeck. Every
// crash group and crash record belongs to exactly one application.
type Application struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	Name        string    `db:"name"         json:"name"`
	PackageName string    `db:"package_name" json:"package_name"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"   json:"updated_at"`
}

// APIKey authenticates a client as an application. Raw keys are shown
// once at creation; only the bcrypt hash is stored.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	AppID      uuid.UUID  `db:"app_id"       json:"app_id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}

// AppVersion is one released build of an application. It optionally
// carries the obfuscation mapping file used to retrace stack traces,
// and a mute flag that drops crash submissions for that build.
type AppVersion struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	AppID       uuid.UUID `db:"app_id"       json:"app_id"`
	VersionCode int64     `db:"version_code" json:"version_code"`
	VersionName string    `db:"version_name" json:"version_name"`
	MappingFile []byte    `db:"mapping_file" json:"-"`
	MuteCrashes bool      `db:"mute_crashes" json:"mute_crashes"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"   json:"updated_at"`
}

// HasMapping reports whether a mapping file has been uploaded for this version.
func (v *AppVersion) HasMapping() bool {
	return len(v.MappingFile) > 0
}
