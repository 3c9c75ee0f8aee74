package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sreeram-v/crashdeck/internal/reconcile"
	"github.com/sreeram-v/crashdeck/internal/store"
	"github.com/sreeram-v/crashdeck/pkg/models"
)

func newTestRunner(st store.Store) *reconcile.JobRunner {
	logger := discardLogger()
	rec := reconcile.NewReconciler(st, reconcile.DefaultPolicy(), 2, logger)
	return reconcile.NewJobRunner(st, nil, rec, logger)
}

func TestUploadMappingHandler(t *testing.T) {
	st := store.NewMemoryStore()
	h := NewUploadMappingHandler(st, nil)
	appID := uuid.New()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodPut,
		"/api/v1/admin/versions/42/mapping?version_name=1.4.2",
		"a.b.c -> com.example.real.Widget", appID,
		map[string]string{"versionCode": "42"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["version_code"] != float64(42) {
		t.Errorf("unexpected version_code: %v", data["version_code"])
	}
	if data["version_name"] != "1.4.2" {
		t.Errorf("unexpected version_name: %v", data["version_name"])
	}

	version, err := st.GetAppVersion(context.Background(), appID, 42)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if !version.HasMapping() {
		t.Error("expected stored mapping")
	}
}

func TestUploadMappingHandler_EmptyBody(t *testing.T) {
	h := NewUploadMappingHandler(store.NewMemoryStore(), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodPut, "/api/v1/admin/versions/42/mapping",
		nil, uuid.New(), map[string]string{"versionCode": "42"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUploadMappingHandler_BadVersionCode(t *testing.T) {
	h := NewUploadMappingHandler(store.NewMemoryStore(), nil)

	for _, code := range []string{"abc", "-1", ""} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, appRequest(http.MethodPut, "/api/v1/admin/versions/x/mapping",
			"mapping", uuid.New(), map[string]string{"versionCode": code}))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("versionCode %q: expected 400, got %d", code, rec.Code)
		}
	}
}

func TestUpdateVersionHandler_Mute(t *testing.T) {
	st := store.NewMemoryStore()
	h := NewUpdateVersionHandler(st, nil)
	appID := uuid.New()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodPatch, "/api/v1/admin/versions/7",
		map[string]any{"mute_crashes": true}, appID,
		map[string]string{"versionCode": "7"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if decodeData(t, rec)["mute_crashes"] != true {
		t.Error("expected mute_crashes=true")
	}
}

func TestUpdateVersionHandler_MissingField(t *testing.T) {
	h := NewUpdateVersionHandler(store.NewMemoryStore(), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodPatch, "/api/v1/admin/versions/7",
		map[string]any{}, uuid.New(), map[string]string{"versionCode": "7"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTriggerReconcileHandler(t *testing.T) {
	st := store.NewMemoryStore()
	runner := newTestRunner(st)
	appID := uuid.New()

	rec := httptest.NewRecorder()
	NewTriggerReconcileHandler(runner).ServeHTTP(rec,
		appRequest(http.MethodPost, "/api/v1/admin/reconcile", nil, appID, nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	jobID, err := uuid.Parse(data["id"].(string))
	if err != nil {
		t.Fatalf("job id is not a UUID: %v", data["id"])
	}
	if data["type"] != models.JobTypeReconcile {
		t.Errorf("unexpected job type: %v", data["type"])
	}

	// The job runs async; poll until it settles.
	poll := NewPollJobHandler(runner)
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = httptest.NewRecorder()
		poll.ServeHTTP(rec, appRequest(http.MethodGet, "/api/v1/admin/reconcile/"+jobID.String(),
			nil, appID, map[string]string{"jobID": jobID.String()}))
		if rec.Code != http.StatusOK {
			t.Fatalf("poll: expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		status := decodeData(t, rec)["status"].(string)
		if status == models.JobStatusCompleted {
			break
		}
		if status == models.JobStatusFailed {
			t.Fatalf("job failed: %s", rec.Body.String())
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not complete, last status %q", status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPollJobHandler_WrongApp(t *testing.T) {
	st := store.NewMemoryStore()
	runner := newTestRunner(st)

	job, err := runner.Trigger(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	rec := httptest.NewRecorder()
	NewPollJobHandler(runner).ServeHTTP(rec,
		appRequest(http.MethodGet, "/api/v1/admin/reconcile/"+job.ID.String(),
			nil, uuid.New(), map[string]string{"jobID": job.ID.String()}))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another app's job, got %d", rec.Code)
	}
}
