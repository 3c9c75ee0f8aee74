package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/sreeram-v/crashdeck/internal/api/middleware"
	"github.com/sreeram-v/crashdeck/internal/ingest"
	"github.com/sreeram-v/crashdeck/internal/retrace"
	"github.com/sreeram-v/crashdeck/internal/retrace/mock"
	"github.com/sreeram-v/crashdeck/internal/store"
)

const obfuscatedTrace = `java.lang.NullPointerException: Attempt to invoke virtual method on a null object reference
	at a.b.c.a(SourceFile:42)
	at a.b.c.b(SourceFile:101)
	at android.os.Handler.handleCallback(Handler.java:938)`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(st store.Store, client retrace.Client) *ingest.Service {
	logger := discardLogger()
	var coord *retrace.Coordinator
	if client != nil {
		coord = retrace.NewCoordinator(client, logger)
	} else {
		coord = retrace.NewCoordinator(nil, logger)
	}
	return ingest.NewService(st, nil, coord, logger)
}

// appRequest builds a request carrying the app id the way the auth
// middleware would, with optional chi URL params.
func appRequest(method, target string, body any, appID uuid.UUID, params map[string]string) *http.Request {
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		buf, _ := json.Marshal(b)
		rdr = bytes.NewReader(buf)
	}
	r := httptest.NewRequest(method, target, rdr)
	ctx := mw.SetAppID(r.Context(), appID)
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return r.WithContext(ctx)
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

func decodeErrCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Error.Code
}

func ingestOne(t *testing.T, h http.HandlerFunc, appID uuid.UUID, trace string) map[string]any {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodPost, "/api/v1/crashes", map[string]any{
		"stacktrace":  trace,
		"occurred_at": "2026-03-01T10:00:00Z",
	}, appID, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decodeData(t, rec)
}

// --- ingest handler ---

func TestIngestHandler_Success(t *testing.T) {
	st := store.NewMemoryStore()
	h := NewIngestHandler(newTestService(st, nil), 0)
	appID := uuid.New()

	data := ingestOne(t, h, appID, obfuscatedTrace)

	fp, _ := data["fingerprint"].(string)
	if len(fp) != 32 {
		t.Errorf("expected 32-char fingerprint, got %q", fp)
	}
	if _, err := uuid.Parse(data["crash_id"].(string)); err != nil {
		t.Errorf("crash_id is not a UUID: %v", data["crash_id"])
	}
	if _, err := uuid.Parse(data["group_id"].(string)); err != nil {
		t.Errorf("group_id is not a UUID: %v", data["group_id"])
	}
}

func TestIngestHandler_DuplicateCrashSharesGroup(t *testing.T) {
	st := store.NewMemoryStore()
	h := NewIngestHandler(newTestService(st, nil), 0)
	appID := uuid.New()

	first := ingestOne(t, h, appID, obfuscatedTrace)
	second := ingestOne(t, h, appID, obfuscatedTrace)

	if first["group_id"] != second["group_id"] {
		t.Errorf("expected same group, got %v and %v", first["group_id"], second["group_id"])
	}
	if first["crash_id"] == second["crash_id"] {
		t.Error("expected distinct crash ids")
	}
}

func TestIngestHandler_ValidationErrors(t *testing.T) {
	st := store.NewMemoryStore()
	h := NewIngestHandler(newTestService(st, nil), 0)
	appID := uuid.New()

	tests := []struct {
		name string
		body any
	}{
		{"invalid json", "{not json"},
		{"missing stacktrace", map[string]any{"occurred_at": "2026-03-01T10:00:00Z"}},
		{"missing occurred_at", map[string]any{"stacktrace": obfuscatedTrace}},
		{"bad occurred_at", map[string]any{"stacktrace": obfuscatedTrace, "occurred_at": "yesterday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, appRequest(http.MethodPost, "/api/v1/crashes", tt.body, appID, nil))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if code := decodeErrCode(t, rec); code != "INVALID_REQUEST" {
				t.Errorf("expected INVALID_REQUEST, got %q", code)
			}
		})
	}
}

func TestIngestHandler_MutedVersion(t *testing.T) {
	st := store.NewMemoryStore()
	h := NewIngestHandler(newTestService(st, nil), 0)
	appID := uuid.New()

	if err := st.SetVersionMuted(context.Background(), appID, 7, true); err != nil {
		t.Fatalf("mute version: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodPost, "/api/v1/crashes", map[string]any{
		"stacktrace":   obfuscatedTrace,
		"occurred_at":  "2026-03-01T10:00:00Z",
		"version_code": 7,
	}, appID, nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["muted"] != true {
		t.Errorf("expected muted response, got %v", data)
	}
}

func TestIngestHandler_PayloadTooLarge(t *testing.T) {
	st := store.NewMemoryStore()
	h := NewIngestHandler(newTestService(st, nil), 256)
	appID := uuid.New()

	big := map[string]any{
		"stacktrace":  obfuscatedTrace + strings.Repeat("x", 512),
		"occurred_at": "2026-03-01T10:00:00Z",
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodPost, "/api/v1/crashes", big, appID, nil))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if code := decodeErrCode(t, rec); code != "PAYLOAD_TOO_LARGE" {
		t.Errorf("expected PAYLOAD_TOO_LARGE, got %q", code)
	}
}

// --- group handlers ---

func TestListGroupsHandler(t *testing.T) {
	st := store.NewMemoryStore()
	ih := NewIngestHandler(newTestService(st, nil), 0)
	appID := uuid.New()

	ingestOne(t, ih, appID, obfuscatedTrace)
	ingestOne(t, ih, appID, "java.io.IOException: disk full\n\tat com.example.Writer.flush(Writer.java:12)")

	h := NewListGroupsHandler(st)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodGet, "/api/v1/groups", nil, appID, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Total   int  `json:"total"`
			HasNext bool `json:"has_next"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Meta.Total != 2 || len(env.Data) != 2 {
		t.Errorf("expected 2 groups, got total=%d len=%d", env.Meta.Total, len(env.Data))
	}
	if env.Meta.HasNext {
		t.Error("expected has_next=false")
	}
}

func TestListGroupsHandler_InvalidStatus(t *testing.T) {
	h := NewListGroupsHandler(store.NewMemoryStore())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodGet, "/api/v1/groups?status=bogus", nil, uuid.New(), nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetGroupHandler_NotFound(t *testing.T) {
	h := NewGetGroupHandler(store.NewMemoryStore())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodGet, "/api/v1/groups/x", nil, uuid.New(),
		map[string]string{"groupID": uuid.NewString()}))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := decodeErrCode(t, rec); code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %q", code)
	}
}

func TestGetGroupHandler_BadUUID(t *testing.T) {
	h := NewGetGroupHandler(store.NewMemoryStore())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodGet, "/api/v1/groups/x", nil, uuid.New(),
		map[string]string{"groupID": "not-a-uuid"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateGroupStatusHandler(t *testing.T) {
	st := store.NewMemoryStore()
	ih := NewIngestHandler(newTestService(st, nil), 0)
	appID := uuid.New()
	groupID := ingestOne(t, ih, appID, obfuscatedTrace)["group_id"].(string)

	h := NewUpdateGroupStatusHandler(st)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodPatch, "/api/v1/groups/"+groupID,
		map[string]any{"status": "resolved"}, appID,
		map[string]string{"groupID": groupID}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeData(t, rec)["status"]; got != "resolved" {
		t.Errorf("expected resolved, got %v", got)
	}
}

func TestUpdateGroupStatusHandler_InvalidStatus(t *testing.T) {
	h := NewUpdateGroupStatusHandler(store.NewMemoryStore())
	id := uuid.NewString()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodPatch, "/api/v1/groups/"+id,
		map[string]any{"status": "closed"}, uuid.New(),
		map[string]string{"groupID": id}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteGroupHandler(t *testing.T) {
	st := store.NewMemoryStore()
	ih := NewIngestHandler(newTestService(st, nil), 0)
	appID := uuid.New()
	groupID := ingestOne(t, ih, appID, obfuscatedTrace)["group_id"].(string)

	h := NewDeleteGroupHandler(st)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodDelete, "/api/v1/groups/"+groupID, nil, appID,
		map[string]string{"groupID": groupID}))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	gh := NewGetGroupHandler(st)
	rec = httptest.NewRecorder()
	gh.ServeHTTP(rec, appRequest(http.MethodGet, "/api/v1/groups/"+groupID, nil, appID,
		map[string]string{"groupID": groupID}))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestListGroupCrashesHandler(t *testing.T) {
	st := store.NewMemoryStore()
	ih := NewIngestHandler(newTestService(st, nil), 0)
	appID := uuid.New()
	groupID := ingestOne(t, ih, appID, obfuscatedTrace)["group_id"].(string)
	ingestOne(t, ih, appID, obfuscatedTrace)

	h := NewListGroupCrashesHandler(st)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodGet, "/api/v1/groups/"+groupID+"/crashes", nil, appID,
		map[string]string{"groupID": groupID}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Meta.Total != 2 {
		t.Errorf("expected 2 crashes, got %d", env.Meta.Total)
	}
}

func TestListGroupCrashesHandler_UnknownGroup(t *testing.T) {
	h := NewListGroupCrashesHandler(store.NewMemoryStore())
	id := uuid.NewString()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodGet, "/api/v1/groups/"+id+"/crashes", nil, uuid.New(),
		map[string]string{"groupID": id}))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// --- crash handlers ---

func TestGetCrashHandler(t *testing.T) {
	st := store.NewMemoryStore()
	ih := NewIngestHandler(newTestService(st, nil), 0)
	appID := uuid.New()
	crashID := ingestOne(t, ih, appID, obfuscatedTrace)["crash_id"].(string)

	h := NewGetCrashHandler(st)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodGet, "/api/v1/crashes/"+crashID, nil, appID,
		map[string]string{"crashID": crashID}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["stacktrace_raw"] != obfuscatedTrace {
		t.Error("raw stacktrace not returned verbatim")
	}
}

func TestGetCrashHandler_WrongApp(t *testing.T) {
	st := store.NewMemoryStore()
	ih := NewIngestHandler(newTestService(st, nil), 0)
	crashID := ingestOne(t, ih, uuid.New(), obfuscatedTrace)["crash_id"].(string)

	h := NewGetCrashHandler(st)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodGet, "/api/v1/crashes/"+crashID, nil, uuid.New(),
		map[string]string{"crashID": crashID}))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another app's crash, got %d", rec.Code)
	}
}

func TestRetraceCrashHandler_NoMapping(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newTestService(st, mock.NewMockClient())
	ih := NewIngestHandler(svc, 0)
	appID := uuid.New()
	crashID := ingestOne(t, ih, appID, obfuscatedTrace)["crash_id"].(string)

	h := NewRetraceCrashHandler(svc)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodPost, "/api/v1/crashes/"+crashID+"/retrace", nil, appID,
		map[string]string{"crashID": crashID}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if code := decodeErrCode(t, rec); code != "NO_MAPPING" {
		t.Errorf("expected NO_MAPPING, got %q", code)
	}
}

func TestRetraceCrashHandler_DecodesAfterUpload(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newTestService(st, mock.NewMockClient())
	ih := NewIngestHandler(svc, 0)
	appID := uuid.New()

	rec := httptest.NewRecorder()
	ih.ServeHTTP(rec, appRequest(http.MethodPost, "/api/v1/crashes", map[string]any{
		"stacktrace":   obfuscatedTrace,
		"occurred_at":  "2026-03-01T10:00:00Z",
		"version_code": 12,
	}, appID, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	crashID := decodeData(t, rec)["crash_id"].(string)

	if err := st.PutVersionMapping(context.Background(), appID, 12, "1.2.0", []byte("a.b.c -> com.example.real.Widget")); err != nil {
		t.Fatalf("upload mapping: %v", err)
	}

	h := NewRetraceCrashHandler(svc)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodPost, "/api/v1/crashes/"+crashID+"/retrace", nil, appID,
		map[string]string{"crashID": crashID}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	decoded, _ := data["stacktrace_decoded"].(string)
	if !strings.Contains(decoded, "com.example.real.Widget") {
		t.Errorf("expected decoded trace, got %q", decoded)
	}
}

func TestRetraceCrashHandler_ServiceUnavailable(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newTestService(st, mock.NewFailingClient(retrace.ErrRetraceUnavailable))
	ih := NewIngestHandler(svc, 0)
	appID := uuid.New()

	rec := httptest.NewRecorder()
	ih.ServeHTTP(rec, appRequest(http.MethodPost, "/api/v1/crashes", map[string]any{
		"stacktrace":   obfuscatedTrace,
		"occurred_at":  "2026-03-01T10:00:00Z",
		"version_code": 12,
	}, appID, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	crashID := decodeData(t, rec)["crash_id"].(string)

	if err := st.PutVersionMapping(context.Background(), appID, 12, "", []byte("mapping")); err != nil {
		t.Fatalf("upload mapping: %v", err)
	}

	h := NewRetraceCrashHandler(svc)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, appRequest(http.MethodPost, "/api/v1/crashes/"+crashID+"/retrace", nil, appID,
		map[string]string{"crashID": crashID}))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	if code := decodeErrCode(t, rec); code != "RETRACE_UNAVAILABLE" {
		t.Errorf("expected RETRACE_UNAVAILABLE, got %q", code)
	}
}
