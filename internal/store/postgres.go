package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sreeram-v/crashdeck/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Applications ---

func (s *PostgresStore) CreateApplication(ctx context.Context, app *models.Application) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO applications (id, name, package_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		app.ID, app.Name, app.PackageName, app.CreatedAt, app.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetApplication(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	var a models.Application
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, package_name, created_at, updated_at FROM applications WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.PackageName, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return &a, nil
}

// --- API Keys ---

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, app_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.AppID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, app_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api keys by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.AppID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

// --- App Versions ---

func (s *PostgresStore) GetAppVersion(ctx context.Context, appID uuid.UUID, versionCode int64) (*models.AppVersion, error) {
	var v models.AppVersion
	err := s.pool.QueryRow(ctx,
		`SELECT id, app_id, version_code, version_name, mapping_file, mute_crashes, created_at, updated_at
		 FROM app_versions WHERE app_id = $1 AND version_code = $2`, appID, versionCode,
	).Scan(&v.ID, &v.AppID, &v.VersionCode, &v.VersionName, &v.MappingFile, &v.MuteCrashes,
		&v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get app version: %w", err)
	}
	return &v, nil
}

func (s *PostgresStore) PutVersionMapping(ctx context.Context, appID uuid.UUID, versionCode int64, versionName string, mapping []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO app_versions (id, app_id, version_code, version_name, mapping_file, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 ON CONFLICT (app_id, version_code) DO UPDATE SET
		   mapping_file = EXCLUDED.mapping_file,
		   version_name = CASE WHEN EXCLUDED.version_name <> '' THEN EXCLUDED.version_name ELSE app_versions.version_name END,
		   updated_at = NOW()`,
		uuid.New(), appID, versionCode, versionName, mapping)
	if err != nil {
		return fmt.Errorf("put version mapping: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetVersionMuted(ctx context.Context, appID uuid.UUID, versionCode int64, muted bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO app_versions (id, app_id, version_code, mute_crashes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 ON CONFLICT (app_id, version_code) DO UPDATE SET
		   mute_crashes = EXCLUDED.mute_crashes,
		   updated_at = NOW()`,
		uuid.New(), appID, versionCode, muted)
	if err != nil {
		return fmt.Errorf("set version muted: %w", err)
	}
	return nil
}

// --- Crash Groups ---

const groupCols = `id, app_id, fingerprint, exception_class, exception_message, first_seen, last_seen, occurrences, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (*models.CrashGroup, error) {
	var g models.CrashGroup
	var status string
	err := row.Scan(&g.ID, &g.AppID, &g.Fingerprint, &g.ExceptionClass, &g.ExceptionMessage,
		&g.FirstSeen, &g.LastSeen, &g.Occurrences, &status, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	g.Status = models.GroupStatus(status)
	return &g, nil
}

// IngestCrash resolves the group for (app_id, fingerprint) and inserts
// the crash record in one transaction. A concurrent insert for the same
// new fingerprint lands on the unique index and falls into the update
// path, so exactly one group survives and no occurrence is lost.
func (s *PostgresStore) IngestCrash(ctx context.Context, group *models.CrashGroup, crash *models.Crash) (*models.CrashGroup, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback(ctx)

	resolved, err := scanGroup(tx.QueryRow(ctx,
		`INSERT INTO crash_groups (id, app_id, fingerprint, exception_class, exception_message, first_seen, last_seen, occurrences, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, NOW(), NOW())
		 ON CONFLICT (app_id, fingerprint) DO UPDATE SET
		   occurrences = crash_groups.occurrences + 1,
		   last_seen = GREATEST(crash_groups.last_seen, EXCLUDED.last_seen),
		   updated_at = NOW()
		 RETURNING `+groupCols,
		group.ID, group.AppID, group.Fingerprint, group.ExceptionClass, group.ExceptionMessage,
		group.FirstSeen, group.LastSeen, string(group.Status)))
	if err != nil {
		return nil, fmt.Errorf("resolve crash group: %w", err)
	}

	crash.GroupID = resolved.ID

	contextJSON, err := marshalNullable(crash.Context == nil, crash.Context)
	if err != nil {
		return nil, fmt.Errorf("encode crash context: %w", err)
	}
	crumbsJSON, err := marshalNullable(crash.Breadcrumbs == nil, crash.Breadcrumbs)
	if err != nil {
		return nil, fmt.Errorf("encode breadcrumbs: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO crashes (id, app_id, group_id, version_code, version_name, stacktrace_raw, stacktrace_decoded, decoded_at, decode_error, thread, is_fatal, context, breadcrumbs, device_info, occurred_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())`,
		crash.ID, crash.AppID, crash.GroupID, crash.VersionCode, crash.VersionName,
		crash.StacktraceRaw, crash.StacktraceDecoded, crash.DecodedAt, crash.DecodeError,
		crash.Thread, crash.IsFatal, contextJSON, crumbsJSON, []byte(crash.DeviceInfo),
		crash.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("insert crash: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ingest: %w", err)
	}
	return resolved, nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, appID, id uuid.UUID) (*models.CrashGroup, error) {
	g, err := scanGroup(s.pool.QueryRow(ctx,
		`SELECT `+groupCols+` FROM crash_groups WHERE id = $1 AND app_id = $2`, id, appID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get crash group: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) ListGroups(ctx context.Context, filter GroupFilter) ([]*models.CrashGroup, int, error) {
	conditions := []string{"app_id = $1"}
	args := []any{filter.AppID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM crash_groups WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count crash groups: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT `+groupCols+` FROM crash_groups WHERE %s ORDER BY last_seen DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list crash groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.CrashGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan crash group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, total, rows.Err()
}

func (s *PostgresStore) UpdateGroupStatus(ctx context.Context, appID, id uuid.UUID, status models.GroupStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crash_groups SET status = $3, updated_at = NOW() WHERE id = $1 AND app_id = $2`,
		id, appID, string(status))
	if err != nil {
		return fmt.Errorf("update group status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateGroupSignature(ctx context.Context, id uuid.UUID, class, message *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crash_groups SET exception_class = $2, exception_message = $3, updated_at = NOW() WHERE id = $1`,
		id, class, message)
	if err != nil {
		return fmt.Errorf("update group signature: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteGroup(ctx context.Context, appID, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM crash_groups WHERE id = $1 AND app_id = $2`, id, appID)
	if err != nil {
		return fmt.Errorf("delete crash group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Crashes ---

const crashCols = `id, app_id, group_id, version_code, version_name, stacktrace_raw, stacktrace_decoded, decoded_at, decode_error, thread, is_fatal, context, breadcrumbs, device_info, occurred_at, created_at`

func scanCrash(row rowScanner) (*models.Crash, error) {
	var c models.Crash
	var contextJSON, crumbsJSON, deviceJSON []byte
	err := row.Scan(&c.ID, &c.AppID, &c.GroupID, &c.VersionCode, &c.VersionName,
		&c.StacktraceRaw, &c.StacktraceDecoded, &c.DecodedAt, &c.DecodeError,
		&c.Thread, &c.IsFatal, &contextJSON, &crumbsJSON, &deviceJSON,
		&c.OccurredAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &c.Context); err != nil {
			return nil, fmt.Errorf("decode crash context: %w", err)
		}
	}
	if len(crumbsJSON) > 0 {
		if err := json.Unmarshal(crumbsJSON, &c.Breadcrumbs); err != nil {
			return nil, fmt.Errorf("decode breadcrumbs: %w", err)
		}
	}
	c.DeviceInfo = deviceJSON
	return &c, nil
}

func (s *PostgresStore) GetCrash(ctx context.Context, appID, id uuid.UUID) (*models.Crash, error) {
	c, err := scanCrash(s.pool.QueryRow(ctx,
		`SELECT `+crashCols+` FROM crashes WHERE id = $1 AND app_id = $2`, id, appID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get crash: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListGroupCrashes(ctx context.Context, appID, groupID uuid.UUID, page, limit int) ([]*models.Crash, int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM crashes WHERE group_id = $1 AND app_id = $2`, groupID, appID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count crashes: %w", err)
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	rows, err := s.pool.Query(ctx,
		`SELECT `+crashCols+` FROM crashes WHERE group_id = $1 AND app_id = $2
		 ORDER BY occurred_at DESC LIMIT $3 OFFSET $4`, groupID, appID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list crashes: %w", err)
	}
	defer rows.Close()

	var crashes []*models.Crash
	for rows.Next() {
		c, err := scanCrash(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan crash: %w", err)
		}
		crashes = append(crashes, c)
	}
	return crashes, total, rows.Err()
}

func (s *PostgresStore) UpdateCrashDecode(ctx context.Context, id uuid.UUID, decoded *string, decodedAt *time.Time, decodeError *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crashes SET stacktrace_decoded = $2, decoded_at = $3, decode_error = $4 WHERE id = $1`,
		id, decoded, decodedAt, decodeError)
	if err != nil {
		return fmt.Errorf("update crash decode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Reconciliation ---

func (s *PostgresStore) ListAppGroups(ctx context.Context, appID uuid.UUID) ([]*models.CrashGroup, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+groupCols+` FROM crash_groups WHERE app_id = $1 ORDER BY first_seen ASC`, appID)
	if err != nil {
		return nil, fmt.Errorf("list app groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.CrashGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crash group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *PostgresStore) GetRepresentativeCrash(ctx context.Context, groupID uuid.UUID) (*models.Crash, error) {
	c, err := scanCrash(s.pool.QueryRow(ctx,
		`SELECT `+crashCols+` FROM crashes WHERE group_id = $1 ORDER BY occurred_at DESC LIMIT 1`, groupID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get representative crash: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) RebucketGroup(ctx context.Context, id uuid.UUID, fingerprint string, class, message *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crash_groups SET fingerprint = $2, exception_class = $3, exception_message = $4, updated_at = NOW()
		 WHERE id = $1`,
		id, fingerprint, class, message)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("rebucket group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MergeGroups applies one collision partition as a single transaction:
// the target absorbs the merged aggregates, every crash of a duplicate
// is reassigned, and the now-empty duplicates are deleted. A crash is
// never left pointing at a deleted group.
//
// The target row is updated last. When a late mapping re-decodes an old
// group, a duplicate often still holds the partition's fingerprint, and
// the unique (app_id, fingerprint) index is checked per statement: the
// duplicates have to be gone before the target can take it over.
func (s *PostgresStore) MergeGroups(ctx context.Context, merge Merge) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback(ctx)

	var one int
	err = tx.QueryRow(ctx,
		`SELECT 1 FROM crash_groups WHERE id = $1 FOR UPDATE`, merge.TargetID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lock merge target: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE crashes SET group_id = $1 WHERE group_id = ANY($2)`,
		merge.TargetID, merge.DuplicateIDs)
	if err != nil {
		return 0, fmt.Errorf("reassign crashes: %w", err)
	}
	reassigned := tag.RowsAffected()

	_, err = tx.Exec(ctx,
		`DELETE FROM crash_groups WHERE id = ANY($1)`, merge.DuplicateIDs)
	if err != nil {
		return 0, fmt.Errorf("delete merged groups: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE crash_groups SET fingerprint = $2, exception_class = $3, exception_message = $4,
		   first_seen = $5, last_seen = $6, occurrences = $7, status = $8, updated_at = NOW()
		 WHERE id = $1`,
		merge.TargetID, merge.Fingerprint, merge.ExceptionClass, merge.ExceptionMessage,
		merge.FirstSeen, merge.LastSeen, merge.Occurrences, string(merge.Status))
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, ErrDuplicateKey
		}
		return 0, fmt.Errorf("update merge target: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit merge: %w", err)
	}
	return reassigned, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, app_id, type, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.AppID, job.Type, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var j models.Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, app_id, type, status, error_message, groups_processed, groups_merged, crashes_reassigned, started_at, completed_at, created_at, updated_at
		 FROM jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.AppID, &j.Type, &j.Status, &j.ErrorMessage,
		&j.GroupsProcessed, &j.GroupsMerged, &j.CrashesReassigned,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

var validTransitions = map[string][]string{
	models.JobStatusPending: {models.JobStatusRunning},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed},
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	allowed := validTransitions[currentStatus]
	valid := false
	for _, a := range allowed {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid job status transition: %s -> %s", currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.JobStatusRunning {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.Summary != nil {
		query += fmt.Sprintf(", groups_processed = $%d, groups_merged = $%d, crashes_reassigned = $%d",
			argIdx, argIdx+1, argIdx+2)
		args = append(args, params.Summary.GroupsProcessed, params.Summary.GroupsMerged, params.Summary.CrashesReassigned)
		argIdx += 3
	}

	query += " WHERE id = $1"

	_, err = s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// marshalNullable writes NULL for a nil collection instead of the JSON
// literal "null".
func marshalNullable(isNil bool, v any) ([]byte, error) {
	if isNil {
		return nil, nil
	}
	return json.Marshal(v)
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
