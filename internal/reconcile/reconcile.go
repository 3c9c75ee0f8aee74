package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"
	"github.com/sreeram-v/crashdeck/internal/fingerprint"
	"github.com/sreeram-v/crashdeck/internal/store"
	"github.com/sreeram-v/crashdeck/pkg/models"
)

// Summary reports what one reconciliation run did.
type Summary struct {
	GroupsProcessed   int
	GroupsMerged      int
	CrashesReassigned int
}

// Reconciler recomputes every group's fingerprint from its most recent
// crash and repairs the grouping: groups whose fingerprint drifted are
// rebucketed, and groups that now collide are merged. Drift happens
// when a mapping file arrives after crashes were grouped on obfuscated
// frames, or when the fingerprint rules change between releases.
type Reconciler struct {
	store           store.Store
	policy          Policy
	scanConcurrency int
	logger          *slog.Logger
}

// NewReconciler creates a Reconciler. scanConcurrency bounds how many
// representative crashes are fetched and fingerprinted in parallel.
func NewReconciler(st store.Store, policy Policy, scanConcurrency int, logger *slog.Logger) *Reconciler {
	if scanConcurrency < 1 {
		scanConcurrency = 1
	}
	return &Reconciler{
		store:           st,
		policy:          policy,
		scanConcurrency: scanConcurrency,
		logger:          logger,
	}
}

// scanResult pairs a group with its recomputed identity.
type scanResult struct {
	group *models.CrashGroup
	fp    string
	sig   fingerprint.Signature
}

// Run reconciles all groups of one application. Each fingerprint
// partition is applied in its own transaction, so a run aborted by ctx
// between partitions leaves every touched partition fully consistent;
// re-running completes the rest. The whole operation is idempotent.
func (r *Reconciler) Run(ctx context.Context, appID uuid.UUID) (Summary, error) {
	var summary Summary

	groups, err := r.store.ListAppGroups(ctx, appID)
	if err != nil {
		return summary, fmt.Errorf("listing groups: %w", err)
	}
	if len(groups) == 0 {
		return summary, nil
	}

	results, err := r.scan(ctx, groups)
	if err != nil {
		return summary, err
	}

	// Partition by recomputed fingerprint, walked in sorted key order
	// so reruns apply the same sequence.
	partitions := make(map[string][]scanResult)
	for _, res := range results {
		partitions[res.fp] = append(partitions[res.fp], res)
	}
	keys := make([]string, 0, len(partitions))
	for fp := range partitions {
		keys = append(keys, fp)
	}
	sort.Strings(keys)

	// A partition can be blocked by a stored fingerprint that another
	// partition is about to vacate: rebucketing A onto X fails while B
	// still sits on X, even though B itself is drifting elsewhere this
	// run. Such partitions are deferred and retried after the rest; the
	// loop stops once a full pass makes no progress.
	var errs []error
	pending := keys
	for len(pending) > 0 {
		var deferred []string
		deferredErrs := make(map[string]error)
		progressed := false

		for _, fp := range pending {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			merged, reassigned, err := r.apply(ctx, fp, partitions[fp])
			if errors.Is(err, store.ErrDuplicateKey) {
				deferred = append(deferred, fp)
				deferredErrs[fp] = err
				continue
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			progressed = true
			summary.GroupsProcessed += len(partitions[fp])
			summary.GroupsMerged += merged
			summary.CrashesReassigned += reassigned
		}

		if !progressed {
			for _, fp := range deferred {
				errs = append(errs, deferredErrs[fp])
			}
			break
		}
		pending = deferred
	}

	return summary, errors.Join(errs...)
}

// scan recomputes each group's fingerprint from its representative
// crash, in parallel. Groups with no crashes left keep their stored
// fingerprint so an interrupted merge cannot strand them.
func (r *Reconciler) scan(ctx context.Context, groups []*models.CrashGroup) ([]scanResult, error) {
	results := make([]scanResult, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.scanConcurrency)

	for i, group := range groups {
		g.Go(func() error {
			crash, err := r.store.GetRepresentativeCrash(gctx, group.ID)
			if errors.Is(err, store.ErrNotFound) {
				results[i] = scanResult{
					group: group,
					fp:    group.Fingerprint,
					sig:   fingerprint.Signature{Class: group.ExceptionClass, Message: group.ExceptionMessage},
				}
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetching representative crash for group %s: %w", group.ID, err)
			}

			trace := crash.BestTrace()
			sig := fingerprint.Extract(trace)
			if sig.Message != nil {
				truncated := fingerprint.TruncateMessage(*sig.Message)
				sig.Message = &truncated
			}
			results[i] = scanResult{group: group, fp: fingerprint.Compute(trace), sig: sig}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// apply repairs one fingerprint partition: a lone group is rebucketed
// if its fingerprint drifted; colliding groups are merged into the
// earliest-seen one.
func (r *Reconciler) apply(ctx context.Context, fp string, members []scanResult) (merged int, reassigned int, err error) {
	if len(members) == 1 {
		m := members[0]
		if m.fp == m.group.Fingerprint {
			return 0, 0, nil
		}
		if err := r.store.RebucketGroup(ctx, m.group.ID, m.fp, m.sig.Class, m.sig.Message); err != nil {
			return 0, 0, fmt.Errorf("rebucketing group %s: %w", m.group.ID, err)
		}
		r.logger.Info("group rebucketed",
			"group_id", m.group.ID,
			"old_fingerprint", m.group.Fingerprint,
			"new_fingerprint", m.fp)
		return 0, 0, nil
	}

	// Deterministic target: earliest first seen, id as tie-break.
	sort.Slice(members, func(i, j int) bool {
		if !members[i].group.FirstSeen.Equal(members[j].group.FirstSeen) {
			return members[i].group.FirstSeen.Before(members[j].group.FirstSeen)
		}
		return members[i].group.ID.String() < members[j].group.ID.String()
	})
	target := members[0]

	mergeReq := store.Merge{
		TargetID:         target.group.ID,
		Fingerprint:      fp,
		ExceptionClass:   target.sig.Class,
		ExceptionMessage: target.sig.Message,
		FirstSeen:        target.group.FirstSeen,
		LastSeen:         target.group.LastSeen,
		Occurrences:      target.group.Occurrences,
	}
	statuses := []models.GroupStatus{target.group.Status}
	for _, m := range members[1:] {
		mergeReq.DuplicateIDs = append(mergeReq.DuplicateIDs, m.group.ID)
		if m.group.FirstSeen.Before(mergeReq.FirstSeen) {
			mergeReq.FirstSeen = m.group.FirstSeen
		}
		if m.group.LastSeen.After(mergeReq.LastSeen) {
			mergeReq.LastSeen = m.group.LastSeen
		}
		mergeReq.Occurrences += m.group.Occurrences
		statuses = append(statuses, m.group.Status)
	}
	mergeReq.Status = r.policy.MergedStatus(statuses)

	moved, err := r.store.MergeGroups(ctx, mergeReq)
	if err != nil {
		return 0, 0, fmt.Errorf("merging into group %s: %w", target.group.ID, err)
	}

	r.logger.Info("groups merged",
		"target_id", target.group.ID,
		"merged", len(mergeReq.DuplicateIDs),
		"crashes_reassigned", moved,
		"fingerprint", fp)
	return len(mergeReq.DuplicateIDs), int(moved), nil
}
