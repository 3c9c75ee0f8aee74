package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	mw "github.com/sreeram-v/crashdeck/internal/api/middleware"
	"github.com/sreeram-v/crashdeck/internal/api/response"
	"github.com/sreeram-v/crashdeck/internal/cache"
	"github.com/sreeram-v/crashdeck/internal/reconcile"
	"github.com/sreeram-v/crashdeck/internal/store"
)

// maxMappingBytes caps mapping file uploads. ProGuard mapping files for
// large apps run tens of megabytes.
const maxMappingBytes = 64 << 20

func urlVersionCode(w http.ResponseWriter, r *http.Request) (int64, bool) {
	code, err := strconv.ParseInt(chi.URLParam(r, "versionCode"), 10, 64)
	if err != nil || code < 0 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"versionCode must be a non-negative integer", nil)
		return 0, false
	}
	return code, true
}

// NewUploadMappingHandler returns an http.HandlerFunc for
// PUT /api/v1/admin/versions/{versionCode}/mapping. The request body is
// the raw mapping file; version_name may be passed as a query param.
func NewUploadMappingHandler(st store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := mw.GetAppID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing application", nil)
			return
		}
		code, ok := urlVersionCode(w, r)
		if !ok {
			return
		}

		mapping, err := io.ReadAll(io.LimitReader(r.Body, maxMappingBytes+1))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body", nil)
			return
		}
		if len(mapping) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Mapping file body is required", nil)
			return
		}
		if len(mapping) > maxMappingBytes {
			response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
				"Mapping file exceeds the size limit", nil)
			return
		}

		versionName := r.URL.Query().Get("version_name")
		if err := st.PutVersionMapping(r.Context(), appID, code, versionName, mapping); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		// Drop the stale no-mapping marker so the next crash decodes.
		if c != nil {
			_ = c.Delete(r.Context(), cache.NoMappingKey(appID, code))
		}

		version, err := st.GetAppVersion(r.Context(), appID, code)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		response.JSON(w, version)
	}
}

// NewUpdateVersionHandler returns an http.HandlerFunc for
// PATCH /api/v1/admin/versions/{versionCode}. It toggles the mute flag.
func NewUpdateVersionHandler(st store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := mw.GetAppID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing application", nil)
			return
		}
		code, ok := urlVersionCode(w, r)
		if !ok {
			return
		}

		var req struct {
			MuteCrashes *bool `json:"mute_crashes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.MuteCrashes == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "mute_crashes is required", nil)
			return
		}

		if err := st.SetVersionMuted(r.Context(), appID, code, *req.MuteCrashes); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		// The mute flag changed, so the no-mapping fast path is stale.
		if c != nil {
			_ = c.Delete(r.Context(), cache.NoMappingKey(appID, code))
		}

		version, err := st.GetAppVersion(r.Context(), appID, code)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		response.JSON(w, version)
	}
}

// NewTriggerReconcileHandler returns an http.HandlerFunc for
// POST /api/v1/admin/reconcile. It starts an async reconciliation job
// and returns 202 with the job for polling.
func NewTriggerReconcileHandler(runner *reconcile.JobRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := mw.GetAppID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing application", nil)
			return
		}

		job, err := runner.Trigger(r.Context(), appID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.Accepted(w, job)
	}
}

// NewPollJobHandler returns an http.HandlerFunc for
// GET /api/v1/admin/reconcile/{jobID}.
func NewPollJobHandler(runner *reconcile.JobRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := mw.GetAppID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing application", nil)
			return
		}
		jobID, ok := urlUUID(w, r, "jobID")
		if !ok {
			return
		}

		job, err := runner.GetJob(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		if job.AppID != appID {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		response.JSON(w, job)
	}
}
