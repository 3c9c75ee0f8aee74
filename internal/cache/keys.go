package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// NoMappingKey marks an (app, version) pair known to have no mapping
// file uploaded. Ingestion checks it to skip the mapping fetch on the
// hot path; a mapping upload deletes it.
func NoMappingKey(appID uuid.UUID, versionCode int64) string {
	return fmt.Sprintf("nomapping:%s:%d", appID, versionCode)
}

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
