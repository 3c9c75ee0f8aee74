package handler

import (
	"errors"
	"net/http"

	mw "github.com/sreeram-v/crashdeck/internal/api/middleware"
	"github.com/sreeram-v/crashdeck/internal/api/response"
	"github.com/sreeram-v/crashdeck/internal/ingest"
	"github.com/sreeram-v/crashdeck/internal/retrace"
	"github.com/sreeram-v/crashdeck/internal/store"
)

// NewGetCrashHandler returns an http.HandlerFunc for GET /api/v1/crashes/{crashID}.
func NewGetCrashHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := mw.GetAppID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing application", nil)
			return
		}
		crashID, ok := urlUUID(w, r, "crashID")
		if !ok {
			return
		}

		crash, err := st.GetCrash(r.Context(), appID, crashID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Crash not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.JSON(w, crash)
	}
}

// NewRetraceCrashHandler returns an http.HandlerFunc for
// POST /api/v1/crashes/{crashID}/retrace. It re-runs decoding for one
// crash, typically after a mapping file was uploaded late.
func NewRetraceCrashHandler(svc *ingest.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := mw.GetAppID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing application", nil)
			return
		}
		crashID, ok := urlUUID(w, r, "crashID")
		if !ok {
			return
		}

		crash, err := svc.Redecode(r.Context(), appID, crashID)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Crash not found", nil)
			case errors.Is(err, ingest.ErrNoMapping):
				response.Error(w, http.StatusConflict, "NO_MAPPING",
					"No mapping file is available for this crash's version", nil)
			case errors.Is(err, retrace.ErrRetraceUnavailable):
				response.Error(w, http.StatusBadGateway, "RETRACE_UNAVAILABLE",
					"The retrace service is not available", nil)
			case errors.Is(err, retrace.ErrRetraceTimeout):
				response.Error(w, http.StatusGatewayTimeout, "RETRACE_TIMEOUT",
					"Retracing took too long and was cancelled", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, crash)
	}
}
