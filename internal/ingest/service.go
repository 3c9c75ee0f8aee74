package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sreeram-v/crashdeck/internal/cache"
	"github.com/sreeram-v/crashdeck/internal/fingerprint"
	"github.com/sreeram-v/crashdeck/internal/retrace"
	"github.com/sreeram-v/crashdeck/internal/store"
	"github.com/sreeram-v/crashdeck/pkg/models"
)

// Sentinel errors for the ingestion pipeline.
var (
	ErrEmptyStacktrace = errors.New("stacktrace is required")
	ErrNoMapping       = errors.New("no mapping file for this version")
)

// noMappingTTL bounds how long a missing mapping is remembered. Mapping
// uploads delete the marker eagerly, so the TTL only covers crashes of
// the uploading process.
const noMappingTTL = 10 * time.Minute

// Report is one crash submission from a client SDK.
type Report struct {
	Stacktrace  string
	Thread      string
	IsFatal     bool
	VersionCode *int64
	VersionName string
	Context     map[string]string
	Breadcrumbs []models.Breadcrumb
	DeviceInfo  []byte
	OccurredAt  time.Time
}

// Result is the outcome of one ingestion. Muted means the report was
// accepted and dropped because the build is muted; no crash or group
// was written.
type Result struct {
	CrashID     uuid.UUID
	GroupID     uuid.UUID
	Fingerprint string
	Muted       bool
}

// Service runs the ingestion pipeline: resolve the version, decode the
// trace when a mapping exists, fingerprint, and find-or-create the
// crash group.
type Service struct {
	store   store.Store
	cache   cache.Cache
	decoder *retrace.Coordinator
	logger  *slog.Logger
}

// NewService creates an ingest Service. cache may be nil to disable the
// no-mapping fast path.
func NewService(st store.Store, c cache.Cache, decoder *retrace.Coordinator, logger *slog.Logger) *Service {
	return &Service{store: st, cache: c, decoder: decoder, logger: logger}
}

// Ingest processes one crash report for the given application. Decode
// failures never reject a report; the raw trace is grouped instead and
// the failure is recorded on the crash.
func (s *Service) Ingest(ctx context.Context, appID uuid.UUID, report Report) (*Result, error) {
	if report.Stacktrace == "" {
		return nil, ErrEmptyStacktrace
	}

	version, err := s.lookupVersion(ctx, appID, report.VersionCode)
	if err != nil {
		return nil, err
	}
	if version != nil && version.MuteCrashes {
		s.logger.Debug("dropping crash for muted version",
			"app_id", appID, "version_code", version.VersionCode)
		return &Result{Muted: true}, nil
	}

	var mapping []byte
	if version != nil {
		mapping = version.MappingFile
	}
	outcome := s.decoder.Process(ctx, report.Stacktrace, mapping)

	// Grouping always runs over the best available text: the decoded
	// trace when decoding succeeded, the raw trace otherwise.
	groupingTrace := report.Stacktrace
	if outcome.Decoded != nil {
		groupingTrace = *outcome.Decoded
	}

	fp := fingerprint.Compute(groupingTrace)
	sig := fingerprint.Extract(groupingTrace)
	if sig.Message != nil {
		truncated := fingerprint.TruncateMessage(*sig.Message)
		sig.Message = &truncated
	}

	group := &models.CrashGroup{
		ID:               uuid.New(),
		AppID:            appID,
		Fingerprint:      fp,
		ExceptionClass:   sig.Class,
		ExceptionMessage: sig.Message,
		FirstSeen:        report.OccurredAt,
		LastSeen:         report.OccurredAt,
		Status:           models.GroupStatusOpen,
	}
	crash := &models.Crash{
		ID:                uuid.New(),
		AppID:             appID,
		VersionCode:       report.VersionCode,
		VersionName:       report.VersionName,
		StacktraceRaw:     report.Stacktrace,
		StacktraceDecoded: outcome.Decoded,
		DecodedAt:         outcome.DecodedAt,
		DecodeError:       outcome.DecodeError,
		Thread:            report.Thread,
		IsFatal:           report.IsFatal,
		Context:           report.Context,
		Breadcrumbs:       report.Breadcrumbs,
		DeviceInfo:        report.DeviceInfo,
		OccurredAt:        report.OccurredAt,
	}

	resolved, err := s.store.IngestCrash(ctx, group, crash)
	if err != nil {
		return nil, fmt.Errorf("ingesting crash: %w", err)
	}

	s.logger.Info("crash ingested",
		"app_id", appID,
		"crash_id", crash.ID,
		"group_id", resolved.ID,
		"fingerprint", fp,
		"occurrences", resolved.Occurrences,
		"decoded", outcome.Decoded != nil)

	return &Result{
		CrashID:     crash.ID,
		GroupID:     resolved.ID,
		Fingerprint: fp,
	}, nil
}

// Redecode re-runs the decode step for a stored crash, refreshing its
// decode fields and the owning group's display signature. The group's
// fingerprint is never touched here; regrouping is reconciliation's job.
func (s *Service) Redecode(ctx context.Context, appID, crashID uuid.UUID) (*models.Crash, error) {
	crash, err := s.store.GetCrash(ctx, appID, crashID)
	if err != nil {
		return nil, err
	}
	if crash.VersionCode == nil {
		return nil, ErrNoMapping
	}

	version, err := s.store.GetAppVersion(ctx, appID, *crash.VersionCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoMapping
		}
		return nil, fmt.Errorf("looking up version: %w", err)
	}
	if !version.HasMapping() {
		return nil, ErrNoMapping
	}

	outcome, decodeErr := s.decoder.Decode(ctx, crash.StacktraceRaw, version.MappingFile)
	if !outcome.Attempted() {
		return nil, ErrNoMapping
	}

	if err := s.store.UpdateCrashDecode(ctx, crash.ID, outcome.Decoded, outcome.DecodedAt, outcome.DecodeError); err != nil {
		return nil, fmt.Errorf("updating crash decode: %w", err)
	}
	crash.StacktraceDecoded = outcome.Decoded
	crash.DecodedAt = outcome.DecodedAt
	crash.DecodeError = outcome.DecodeError

	if decodeErr != nil {
		return nil, fmt.Errorf("decoding stack trace: %w", decodeErr)
	}

	if outcome.Decoded != nil {
		sig := fingerprint.Extract(*outcome.Decoded)
		if sig.Message != nil {
			truncated := fingerprint.TruncateMessage(*sig.Message)
			sig.Message = &truncated
		}
		if err := s.store.UpdateGroupSignature(ctx, crash.GroupID, sig.Class, sig.Message); err != nil {
			s.logger.Warn("refreshing group signature failed",
				"group_id", crash.GroupID, "error", err)
		}
	}

	return crash, nil
}

// lookupVersion fetches the version row for the report, or nil when the
// report carries no version code or the version is unknown. A cache
// marker short-circuits the fetch for versions known to have neither a
// mapping nor a mute flag; cache failures fall through to the store.
func (s *Service) lookupVersion(ctx context.Context, appID uuid.UUID, versionCode *int64) (*models.AppVersion, error) {
	if versionCode == nil {
		return nil, nil
	}

	if s.cache != nil {
		if _, found, err := s.cache.Get(ctx, cache.NoMappingKey(appID, *versionCode)); err == nil && found {
			return nil, nil
		}
	}

	version, err := s.store.GetAppVersion(ctx, appID, *versionCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.markNoMapping(ctx, appID, *versionCode)
			return nil, nil
		}
		return nil, fmt.Errorf("looking up version: %w", err)
	}

	if !version.HasMapping() && !version.MuteCrashes {
		s.markNoMapping(ctx, appID, *versionCode)
	}
	return version, nil
}

func (s *Service) markNoMapping(ctx context.Context, appID uuid.UUID, versionCode int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cache.NoMappingKey(appID, versionCode), []byte("1"), noMappingTTL); err != nil {
		s.logger.Debug("caching no-mapping marker failed", "error", err)
	}
}
