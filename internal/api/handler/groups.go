package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/sreeram-v/crashdeck/internal/api/middleware"
	"github.com/sreeram-v/crashdeck/internal/api/response"
	"github.com/sreeram-v/crashdeck/internal/store"
	"github.com/sreeram-v/crashdeck/pkg/models"
)

// urlUUID parses a UUID path parameter, writing a 400 on failure.
func urlUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// NewListGroupsHandler returns an http.HandlerFunc for GET /api/v1/groups.
func NewListGroupsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := mw.GetAppID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing application", nil)
			return
		}

		status := models.GroupStatus(r.URL.Query().Get("status"))
		if status != "" && !models.ValidGroupStatus(status) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be one of open, resolved, ignored", nil)
			return
		}

		filter := store.GroupFilter{
			AppID:  appID,
			Status: status,
			Page:   queryInt(r, "page", 1),
			Limit:  queryInt(r, "limit", 20),
		}

		groups, total, err := st.ListGroups(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.Collection(w, groups, response.PaginationMeta{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: filter.Page*filter.Limit < total,
		})
	}
}

// NewGetGroupHandler returns an http.HandlerFunc for GET /api/v1/groups/{groupID}.
func NewGetGroupHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := mw.GetAppID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing application", nil)
			return
		}
		groupID, ok := urlUUID(w, r, "groupID")
		if !ok {
			return
		}

		group, err := st.GetGroup(r.Context(), appID, groupID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Crash group not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.JSON(w, group)
	}
}

// NewUpdateGroupStatusHandler returns an http.HandlerFunc for
// PATCH /api/v1/groups/{groupID}.
func NewUpdateGroupStatusHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := mw.GetAppID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing application", nil)
			return
		}
		groupID, ok := urlUUID(w, r, "groupID")
		if !ok {
			return
		}

		var req struct {
			Status models.GroupStatus `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if !models.ValidGroupStatus(req.Status) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be one of open, resolved, ignored", nil)
			return
		}

		if err := st.UpdateGroupStatus(r.Context(), appID, groupID, req.Status); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Crash group not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		group, err := st.GetGroup(r.Context(), appID, groupID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		response.JSON(w, group)
	}
}

// NewDeleteGroupHandler returns an http.HandlerFunc for
// DELETE /api/v1/groups/{groupID}. Deleting a group removes its crashes.
func NewDeleteGroupHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := mw.GetAppID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing application", nil)
			return
		}
		groupID, ok := urlUUID(w, r, "groupID")
		if !ok {
			return
		}

		if err := st.DeleteGroup(r.Context(), appID, groupID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Crash group not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.NoContent(w)
	}
}

// NewListGroupCrashesHandler returns an http.HandlerFunc for
// GET /api/v1/groups/{groupID}/crashes.
func NewListGroupCrashesHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := mw.GetAppID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing application", nil)
			return
		}
		groupID, ok := urlUUID(w, r, "groupID")
		if !ok {
			return
		}

		if _, err := st.GetGroup(r.Context(), appID, groupID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Crash group not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		page := queryInt(r, "page", 1)
		limit := queryInt(r, "limit", 20)
		crashes, total, err := st.ListGroupCrashes(r.Context(), appID, groupID, page, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.Collection(w, crashes, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}
