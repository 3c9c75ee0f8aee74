package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	mw "github.com/sreeram-v/crashdeck/internal/api/middleware"
	"github.com/sreeram-v/crashdeck/internal/api/response"
	"github.com/sreeram-v/crashdeck/internal/ingest"
	"github.com/sreeram-v/crashdeck/pkg/models"
)

// crashPayload is the wire format of one crash submission.
type crashPayload struct {
	Stacktrace  string              `json:"stacktrace"`
	Thread      string              `json:"thread"`
	IsFatal     *bool               `json:"is_fatal"`
	VersionCode *int64              `json:"version_code"`
	VersionName string              `json:"version_name"`
	Context     map[string]string   `json:"context"`
	Breadcrumbs []models.Breadcrumb `json:"breadcrumbs"`
	DeviceInfo  json.RawMessage     `json:"device_info"`
	OccurredAt  string              `json:"occurred_at"`
}

// defaultMaxBodyBytes bounds crash submissions when no limit is configured.
const defaultMaxBodyBytes = 1 << 20

// NewIngestHandler returns an http.HandlerFunc for POST /api/v1/crashes.
// maxBodyBytes caps the request body; 0 selects the default.
func NewIngestHandler(svc *ingest.Service, maxBodyBytes int64) http.HandlerFunc {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := mw.GetAppID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing application", nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

		var req crashPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
					"Crash payload exceeds the size limit", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.Stacktrace == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "stacktrace is required", nil)
			return
		}
		if req.OccurredAt == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "occurred_at is required", nil)
			return
		}
		occurredAt, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "occurred_at must be a valid RFC3339 timestamp", nil)
			return
		}

		isFatal := true
		if req.IsFatal != nil {
			isFatal = *req.IsFatal
		}

		result, err := svc.Ingest(r.Context(), appID, ingest.Report{
			Stacktrace:  req.Stacktrace,
			Thread:      req.Thread,
			IsFatal:     isFatal,
			VersionCode: req.VersionCode,
			VersionName: req.VersionName,
			Context:     req.Context,
			Breadcrumbs: req.Breadcrumbs,
			DeviceInfo:  req.DeviceInfo,
			OccurredAt:  occurredAt.UTC(),
		})
		if err != nil {
			if errors.Is(err, ingest.ErrEmptyStacktrace) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "stacktrace is required", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		if result.Muted {
			response.Accepted(w, mutedResponse{Muted: true})
			return
		}

		response.Created(w, ingestResponse{
			CrashID:     result.CrashID,
			GroupID:     result.GroupID,
			Fingerprint: result.Fingerprint,
		})
	}
}

type ingestResponse struct {
	CrashID     uuid.UUID `json:"crash_id"`
	GroupID     uuid.UUID `json:"group_id"`
	Fingerprint string    `json:"fingerprint"`
}

type mutedResponse struct {
	Muted bool `json:"muted"`
}
