package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sreeram-v/crashdeck/pkg/models"
)

// MemoryStore is an in-process Store implementation. It backs unit
// tests and local development without Postgres.
//
// The group hot path lives in a concurrent map with per-key atomic
// compute, so the find-or-create contract of IngestCrash holds under
// concurrent ingestion without a store-wide lock: callers for different
// (app, fingerprint) pairs never block each other. Group values are
// replaced copy-on-write inside the compute callback; all other tables
// sit behind a single mutex since nothing else is hot.
type MemoryStore struct {
	groups   *xsync.MapOf[string, *models.CrashGroup]
	groupKey *xsync.MapOf[uuid.UUID, string]

	mu       sync.RWMutex
	apps     map[uuid.UUID]*models.Application
	apiKeys  map[string][]*models.APIKey
	versions map[string]*models.AppVersion
	crashes  map[uuid.UUID]*models.Crash
	byGroup  map[uuid.UUID][]uuid.UUID
	jobs     map[uuid.UUID]*models.Job
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		groups:   xsync.NewMapOf[string, *models.CrashGroup](),
		groupKey: xsync.NewMapOf[uuid.UUID, string](),
		apps:     make(map[uuid.UUID]*models.Application),
		apiKeys:  make(map[string][]*models.APIKey),
		versions: make(map[string]*models.AppVersion),
		crashes:  make(map[uuid.UUID]*models.Crash),
		byGroup:  make(map[uuid.UUID][]uuid.UUID),
		jobs:     make(map[uuid.UUID]*models.Job),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func resolveKey(appID uuid.UUID, fingerprint string) string {
	return appID.String() + "|" + fingerprint
}

func versionKey(appID uuid.UUID, versionCode int64) string {
	return fmt.Sprintf("%s|%d", appID, versionCode)
}

// --- Applications ---

func (s *MemoryStore) CreateApplication(_ context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.apps {
		if existing.PackageName == app.PackageName {
			return ErrDuplicateKey
		}
	}
	cp := *app
	s.apps[app.ID] = &cp
	return nil
}

func (s *MemoryStore) GetApplication(_ context.Context, id uuid.UUID) (*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *app
	return &cp, nil
}

// --- API Keys ---

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.apiKeys[key.KeyPrefix] = append(s.apiKeys[key.KeyPrefix], &cp)
	return nil
}

func (s *MemoryStore) GetAPIKeysByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []*models.APIKey
	for _, k := range s.apiKeys[prefix] {
		if k.DeletedAt != nil {
			continue
		}
		cp := *k
		keys = append(keys, &cp)
	}
	return keys, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, keys := range s.apiKeys {
		for _, k := range keys {
			if k.ID == id {
				k.LastUsedAt = &now
				k.UpdatedAt = now
				return nil
			}
		}
	}
	return ErrNotFound
}

// --- App Versions ---

func (s *MemoryStore) GetAppVersion(_ context.Context, appID uuid.UUID, versionCode int64) (*models.AppVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[versionKey(appID, versionCode)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *MemoryStore) PutVersionMapping(_ context.Context, appID uuid.UUID, versionCode int64, versionName string, mapping []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	key := versionKey(appID, versionCode)
	v, ok := s.versions[key]
	if !ok {
		v = &models.AppVersion{
			ID:          uuid.New(),
			AppID:       appID,
			VersionCode: versionCode,
			CreatedAt:   now,
		}
		s.versions[key] = v
	}
	v.MappingFile = mapping
	if versionName != "" {
		v.VersionName = versionName
	}
	v.UpdatedAt = now
	return nil
}

func (s *MemoryStore) SetVersionMuted(_ context.Context, appID uuid.UUID, versionCode int64, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	key := versionKey(appID, versionCode)
	v, ok := s.versions[key]
	if !ok {
		v = &models.AppVersion{
			ID:          uuid.New(),
			AppID:       appID,
			VersionCode: versionCode,
			CreatedAt:   now,
		}
		s.versions[key] = v
	}
	v.MuteCrashes = muted
	v.UpdatedAt = now
	return nil
}

// --- Crash Groups ---

func (s *MemoryStore) IngestCrash(_ context.Context, group *models.CrashGroup, crash *models.Crash) (*models.CrashGroup, error) {
	now := time.Now().UTC()
	key := resolveKey(group.AppID, group.Fingerprint)

	resolved, _ := s.groups.Compute(key, func(old *models.CrashGroup, loaded bool) (*models.CrashGroup, bool) {
		if !loaded {
			g := *group
			if g.ID == uuid.Nil {
				g.ID = uuid.New()
			}
			g.Occurrences = 1
			if g.Status == "" {
				g.Status = models.GroupStatusOpen
			}
			g.CreatedAt = now
			g.UpdatedAt = now
			return &g, false
		}
		g := *old
		g.Occurrences++
		if group.LastSeen.After(g.LastSeen) {
			g.LastSeen = group.LastSeen
		}
		g.UpdatedAt = now
		return &g, false
	})
	s.groupKey.Store(resolved.ID, key)

	cp := *crash
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.GroupID = resolved.ID
	cp.CreatedAt = now
	crash.ID = cp.ID
	crash.GroupID = resolved.ID

	s.mu.Lock()
	s.crashes[cp.ID] = &cp
	s.byGroup[resolved.ID] = append(s.byGroup[resolved.ID], cp.ID)
	s.mu.Unlock()

	out := *resolved
	return &out, nil
}

func (s *MemoryStore) loadGroup(id uuid.UUID) (*models.CrashGroup, bool) {
	key, ok := s.groupKey.Load(id)
	if !ok {
		return nil, false
	}
	g, ok := s.groups.Load(key)
	if !ok || g.ID != id {
		return nil, false
	}
	return g, true
}

func (s *MemoryStore) GetGroup(_ context.Context, appID, id uuid.UUID) (*models.CrashGroup, error) {
	g, ok := s.loadGroup(id)
	if !ok || g.AppID != appID {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryStore) ListGroups(_ context.Context, filter GroupFilter) ([]*models.CrashGroup, int, error) {
	var groups []*models.CrashGroup
	s.groups.Range(func(_ string, g *models.CrashGroup) bool {
		if g.AppID == filter.AppID && (filter.Status == "" || g.Status == filter.Status) {
			cp := *g
			groups = append(groups, &cp)
		}
		return true
	})
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].LastSeen.After(groups[j].LastSeen)
	})

	total := len(groups)
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
	start := (page - 1) * limit
	if start >= total {
		return []*models.CrashGroup{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return groups[start:end], total, nil
}

func (s *MemoryStore) UpdateGroupStatus(_ context.Context, appID, id uuid.UUID, status models.GroupStatus) error {
	g, ok := s.loadGroup(id)
	if !ok || g.AppID != appID {
		return ErrNotFound
	}
	key := resolveKey(g.AppID, g.Fingerprint)
	s.groups.Compute(key, func(old *models.CrashGroup, loaded bool) (*models.CrashGroup, bool) {
		if !loaded {
			return old, true
		}
		cp := *old
		cp.Status = status
		cp.UpdatedAt = time.Now().UTC()
		return &cp, false
	})
	return nil
}

func (s *MemoryStore) UpdateGroupSignature(_ context.Context, id uuid.UUID, class, message *string) error {
	g, ok := s.loadGroup(id)
	if !ok {
		return ErrNotFound
	}
	key := resolveKey(g.AppID, g.Fingerprint)
	s.groups.Compute(key, func(old *models.CrashGroup, loaded bool) (*models.CrashGroup, bool) {
		if !loaded {
			return old, true
		}
		cp := *old
		cp.ExceptionClass = class
		cp.ExceptionMessage = message
		cp.UpdatedAt = time.Now().UTC()
		return &cp, false
	})
	return nil
}

func (s *MemoryStore) DeleteGroup(_ context.Context, appID, id uuid.UUID) error {
	g, ok := s.loadGroup(id)
	if !ok || g.AppID != appID {
		return ErrNotFound
	}
	s.groups.Delete(resolveKey(g.AppID, g.Fingerprint))
	s.groupKey.Delete(id)

	s.mu.Lock()
	for _, crashID := range s.byGroup[id] {
		delete(s.crashes, crashID)
	}
	delete(s.byGroup, id)
	s.mu.Unlock()
	return nil
}

// --- Crashes ---

func (s *MemoryStore) GetCrash(_ context.Context, appID, id uuid.UUID) (*models.Crash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.crashes[id]
	if !ok || c.AppID != appID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListGroupCrashes(_ context.Context, appID, groupID uuid.UUID, page, limit int) ([]*models.Crash, int, error) {
	s.mu.RLock()
	var crashes []*models.Crash
	for _, id := range s.byGroup[groupID] {
		c := s.crashes[id]
		if c != nil && c.AppID == appID {
			cp := *c
			crashes = append(crashes, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(crashes, func(i, j int) bool {
		return crashes[i].OccurredAt.After(crashes[j].OccurredAt)
	})

	total := len(crashes)
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= total {
		return []*models.Crash{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return crashes[start:end], total, nil
}

func (s *MemoryStore) UpdateCrashDecode(_ context.Context, id uuid.UUID, decoded *string, decodedAt *time.Time, decodeError *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.crashes[id]
	if !ok {
		return ErrNotFound
	}
	c.StacktraceDecoded = decoded
	c.DecodedAt = decodedAt
	c.DecodeError = decodeError
	return nil
}

// --- Reconciliation ---

func (s *MemoryStore) ListAppGroups(_ context.Context, appID uuid.UUID) ([]*models.CrashGroup, error) {
	var groups []*models.CrashGroup
	s.groups.Range(func(_ string, g *models.CrashGroup) bool {
		if g.AppID == appID {
			cp := *g
			groups = append(groups, &cp)
		}
		return true
	})
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].FirstSeen.Before(groups[j].FirstSeen)
	})
	return groups, nil
}

func (s *MemoryStore) GetRepresentativeCrash(_ context.Context, groupID uuid.UUID) (*models.Crash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.Crash
	for _, id := range s.byGroup[groupID] {
		c := s.crashes[id]
		if c == nil {
			continue
		}
		if best == nil || c.OccurredAt.After(best.OccurredAt) {
			best = c
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) RebucketGroup(_ context.Context, id uuid.UUID, fingerprint string, class, message *string) error {
	g, ok := s.loadGroup(id)
	if !ok {
		return ErrNotFound
	}
	oldKey := resolveKey(g.AppID, g.Fingerprint)
	newKey := resolveKey(g.AppID, fingerprint)
	if newKey != oldKey {
		if _, exists := s.groups.Load(newKey); exists {
			return ErrDuplicateKey
		}
	}

	cp := *g
	cp.Fingerprint = fingerprint
	cp.ExceptionClass = class
	cp.ExceptionMessage = message
	cp.UpdatedAt = time.Now().UTC()

	if newKey != oldKey {
		s.groups.Delete(oldKey)
	}
	s.groups.Store(newKey, &cp)
	s.groupKey.Store(id, newKey)
	return nil
}

func (s *MemoryStore) MergeGroups(_ context.Context, merge Merge) (int64, error) {
	target, ok := s.loadGroup(merge.TargetID)
	if !ok {
		return 0, ErrNotFound
	}

	oldKey := resolveKey(target.AppID, target.Fingerprint)
	newKey := resolveKey(target.AppID, merge.Fingerprint)

	cp := *target
	cp.Fingerprint = merge.Fingerprint
	cp.ExceptionClass = merge.ExceptionClass
	cp.ExceptionMessage = merge.ExceptionMessage
	cp.FirstSeen = merge.FirstSeen
	cp.LastSeen = merge.LastSeen
	cp.Occurrences = merge.Occurrences
	cp.Status = merge.Status
	cp.UpdatedAt = time.Now().UTC()

	if newKey != oldKey {
		s.groups.Delete(oldKey)
	}
	s.groups.Store(newKey, &cp)
	s.groupKey.Store(merge.TargetID, newKey)

	var reassigned int64
	s.mu.Lock()
	for _, dupID := range merge.DuplicateIDs {
		for _, crashID := range s.byGroup[dupID] {
			if c := s.crashes[crashID]; c != nil {
				c.GroupID = merge.TargetID
				s.byGroup[merge.TargetID] = append(s.byGroup[merge.TargetID], crashID)
				reassigned++
			}
		}
		delete(s.byGroup, dupID)
	}
	s.mu.Unlock()

	for _, dupID := range merge.DuplicateIDs {
		if g, ok := s.loadGroup(dupID); ok {
			s.groups.Delete(resolveKey(g.AppID, g.Fingerprint))
		}
		s.groupKey.Delete(dupID)
	}
	return reassigned, nil
}

// --- Jobs ---

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}

	valid := false
	for _, a := range validTransitions[j.Status] {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid job status transition: %s -> %s", j.Status, status)
	}

	now := time.Now().UTC()
	j.Status = status
	j.UpdatedAt = now
	if status == models.JobStatusRunning {
		j.StartedAt = &now
	}
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		j.CompletedAt = &now
	}
	if params.ErrorMessage != nil {
		j.ErrorMessage = params.ErrorMessage
	}
	if params.Summary != nil {
		processed, merged, reassigned := params.Summary.GroupsProcessed, params.Summary.GroupsMerged, params.Summary.CrashesReassigned
		j.GroupsProcessed = &processed
		j.GroupsMerged = &merged
		j.CrashesReassigned = &reassigned
	}
	return nil
}
