package ingest_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sreeram-v/crashdeck/internal/ingest"
	"github.com/sreeram-v/crashdeck/internal/retrace"
	"github.com/sreeram-v/crashdeck/internal/retrace/mock"
	"github.com/sreeram-v/crashdeck/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawTrace = "java.lang.NullPointerException: Attempt to invoke method on null object 0x7f8a2c\n" +
	"\tat a.b.c.d(SourceFile:1)\n" +
	"\tat a.b.c.e(SourceFile:2)"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T, client retrace.Client) (*ingest.Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	coord := retrace.NewCoordinator(client, discardLogger())
	return ingest.NewService(st, nil, coord, discardLogger()), st
}

func report(at time.Time) ingest.Report {
	return ingest.Report{
		Stacktrace: rawTrace,
		Thread:     "main",
		IsFatal:    true,
		OccurredAt: at,
	}
}

func TestIngest_EmptyStacktrace(t *testing.T) {
	svc, _ := newService(t, nil)

	_, err := svc.Ingest(context.Background(), uuid.New(), ingest.Report{OccurredAt: time.Now()})
	assert.ErrorIs(t, err, ingest.ErrEmptyStacktrace)
}

func TestIngest_GroupsIdenticalReports(t *testing.T) {
	svc, _ := newService(t, nil)
	appID := uuid.New()
	now := time.Now().UTC()

	first, err := svc.Ingest(context.Background(), appID, report(now))
	require.NoError(t, err)
	assert.False(t, first.Muted)
	assert.Len(t, first.Fingerprint, 32)

	second, err := svc.Ingest(context.Background(), appID, report(now.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, first.GroupID, second.GroupID)
	assert.NotEqual(t, first.CrashID, second.CrashID)
}

func TestIngest_VolatileMessageSameGroup(t *testing.T) {
	svc, _ := newService(t, nil)
	appID := uuid.New()
	now := time.Now().UTC()

	r1 := report(now)
	r1.Stacktrace = "java.lang.OutOfMemoryError: Failed to allocate 1057544 bytes\n\tat com.example.Foo.bar(Foo.java:10)"
	r2 := report(now)
	r2.Stacktrace = "java.lang.OutOfMemoryError: Failed to allocate 2048 bytes\n\tat com.example.Foo.bar(Foo.java:10)"

	first, err := svc.Ingest(context.Background(), appID, r1)
	require.NoError(t, err)
	second, err := svc.Ingest(context.Background(), appID, r2)
	require.NoError(t, err)
	assert.Equal(t, first.GroupID, second.GroupID)
}

func TestIngest_GroupSignatureNormalized(t *testing.T) {
	svc, st := newService(t, nil)
	appID := uuid.New()
	now := time.Now().UTC()

	r := report(now)
	r.Stacktrace = "java.lang.IllegalStateException: worker 42 died\n\tat com.example.Foo.bar(Foo.java:10)"
	res, err := svc.Ingest(context.Background(), appID, r)
	require.NoError(t, err)

	group, err := st.GetGroup(context.Background(), appID, res.GroupID)
	require.NoError(t, err)
	require.NotNil(t, group.ExceptionClass)
	assert.Equal(t, "java.lang.IllegalStateException", *group.ExceptionClass)
	require.NotNil(t, group.ExceptionMessage)
	assert.Equal(t, "worker <N> died", *group.ExceptionMessage)
}

func TestIngest_DecodedTraceDrivesGrouping(t *testing.T) {
	svc, st := newService(t, mock.NewMockClient())
	appID := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, st.PutVersionMapping(context.Background(), appID, 7, "1.0", []byte("mapping")))

	code := int64(7)
	r := report(now)
	r.VersionCode = &code
	res, err := svc.Ingest(context.Background(), appID, r)
	require.NoError(t, err)

	crash, err := st.GetCrash(context.Background(), appID, res.CrashID)
	require.NoError(t, err)
	require.NotNil(t, crash.StacktraceDecoded)
	assert.Contains(t, *crash.StacktraceDecoded, "com.example.real.Widget")
	assert.Equal(t, rawTrace, crash.StacktraceRaw)
	assert.NotNil(t, crash.DecodedAt)

	// Same raw trace without a mapping lands in a different group: the
	// decoded frames differ from the obfuscated ones.
	plain, err := svc.Ingest(context.Background(), appID, report(now))
	require.NoError(t, err)
	assert.NotEqual(t, res.GroupID, plain.GroupID)
}

func TestIngest_DecodeFailureFallsBackToRaw(t *testing.T) {
	svc, st := newService(t, mock.NewFailingClient(errors.New("bad mapping")))
	appID := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, st.PutVersionMapping(context.Background(), appID, 7, "1.0", []byte("mapping")))

	code := int64(7)
	r := report(now)
	r.VersionCode = &code
	res, err := svc.Ingest(context.Background(), appID, r)
	require.NoError(t, err) // decode failure never rejects ingestion

	crash, err := st.GetCrash(context.Background(), appID, res.CrashID)
	require.NoError(t, err)
	assert.Nil(t, crash.StacktraceDecoded)
	require.NotNil(t, crash.DecodeError)
	assert.Contains(t, *crash.DecodeError, "bad mapping")

	// Grouped by the raw trace, same as an unversioned report.
	plain, err := svc.Ingest(context.Background(), appID, report(now))
	require.NoError(t, err)
	assert.Equal(t, res.GroupID, plain.GroupID)
}

func TestIngest_MutedVersionDropped(t *testing.T) {
	svc, st := newService(t, nil)
	appID := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, st.SetVersionMuted(context.Background(), appID, 3, true))

	code := int64(3)
	r := report(now)
	r.VersionCode = &code
	res, err := svc.Ingest(context.Background(), appID, r)
	require.NoError(t, err)
	assert.True(t, res.Muted)
	assert.Equal(t, uuid.Nil, res.CrashID)

	_, total, err := st.ListGroups(context.Background(), store.GroupFilter{AppID: appID, Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestIngest_UnknownVersionStillGrouped(t *testing.T) {
	svc, _ := newService(t, mock.NewMockClient())
	appID := uuid.New()
	now := time.Now().UTC()

	code := int64(99)
	r := report(now)
	r.VersionCode = &code
	res, err := svc.Ingest(context.Background(), appID, r)
	require.NoError(t, err)
	assert.False(t, res.Muted)
	assert.NotEqual(t, uuid.Nil, res.GroupID)
}

func TestRedecode_RefreshesCrashAndSignature(t *testing.T) {
	svc, st := newService(t, mock.NewMockClient())
	appID := uuid.New()
	now := time.Now().UTC()

	// Ingested before the mapping existed, so it grouped raw.
	code := int64(5)
	r := report(now)
	r.VersionCode = &code
	res, err := svc.Ingest(context.Background(), appID, r)
	require.NoError(t, err)

	groupBefore, err := st.GetGroup(context.Background(), appID, res.GroupID)
	require.NoError(t, err)

	require.NoError(t, st.PutVersionMapping(context.Background(), appID, 5, "1.0", []byte("mapping")))

	crash, err := svc.Redecode(context.Background(), appID, res.CrashID)
	require.NoError(t, err)
	require.NotNil(t, crash.StacktraceDecoded)
	assert.Contains(t, *crash.StacktraceDecoded, "com.example.real.Widget")

	groupAfter, err := st.GetGroup(context.Background(), appID, res.GroupID)
	require.NoError(t, err)
	// Display signature refreshed, fingerprint untouched.
	assert.Equal(t, groupBefore.Fingerprint, groupAfter.Fingerprint)
}

func TestRedecode_NoMapping(t *testing.T) {
	svc, _ := newService(t, mock.NewMockClient())
	appID := uuid.New()
	now := time.Now().UTC()

	res, err := svc.Ingest(context.Background(), appID, report(now))
	require.NoError(t, err)

	_, err = svc.Redecode(context.Background(), appID, res.CrashID)
	assert.ErrorIs(t, err, ingest.ErrNoMapping)
}

func TestRedecode_ClientFailureSurfacedAndRecorded(t *testing.T) {
	svc, st := newService(t, mock.NewFailingClient(retrace.ErrRetraceUnavailable))
	appID := uuid.New()
	now := time.Now().UTC()

	code := int64(9)
	r := report(now)
	r.VersionCode = &code
	res, err := svc.Ingest(context.Background(), appID, r)
	require.NoError(t, err)

	require.NoError(t, st.PutVersionMapping(context.Background(), appID, 9, "", []byte("mapping")))

	_, err = svc.Redecode(context.Background(), appID, res.CrashID)
	assert.ErrorIs(t, err, retrace.ErrRetraceUnavailable)

	// The failure is still persisted on the crash record.
	crash, err := st.GetCrash(context.Background(), appID, res.CrashID)
	require.NoError(t, err)
	require.NotNil(t, crash.DecodeError)
	assert.Nil(t, crash.StacktraceDecoded)
}

func TestRedecode_CrashNotFound(t *testing.T) {
	svc, _ := newService(t, nil)

	_, err := svc.Redecode(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIngest_MessageTruncated(t *testing.T) {
	svc, st := newService(t, nil)
	appID := uuid.New()
	now := time.Now().UTC()

	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'x'
	}
	r := report(now)
	r.Stacktrace = "java.lang.RuntimeException: " + string(long) + "\n\tat com.example.Foo.bar(Foo.java:1)"

	res, err := svc.Ingest(context.Background(), appID, r)
	require.NoError(t, err)

	group, err := st.GetGroup(context.Background(), appID, res.GroupID)
	require.NoError(t, err)
	require.NotNil(t, group.ExceptionMessage)
	assert.LessOrEqual(t, len(*group.ExceptionMessage), 1000)
}
