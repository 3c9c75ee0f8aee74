package reconcile

import "github.com/sreeram-v/crashdeck/pkg/models"

// Policy controls how colliding groups are merged when reconciliation
// finds several groups sharing the same recomputed fingerprint.
type Policy struct {
	// StatusPriority ranks group statuses; the highest-ranked status
	// among the merged groups survives. An open group must never be
	// hidden by merging into a resolved or ignored one.
	StatusPriority map[models.GroupStatus]int
}

// DefaultPolicy ranks open above resolved above ignored.
func DefaultPolicy() Policy {
	return Policy{
		StatusPriority: map[models.GroupStatus]int{
			models.GroupStatusOpen:     3,
			models.GroupStatusResolved: 2,
			models.GroupStatusIgnored:  1,
		},
	}
}

// MergedStatus picks the surviving status for a set of merged groups.
func (p Policy) MergedStatus(statuses []models.GroupStatus) models.GroupStatus {
	best := models.GroupStatusOpen
	bestRank := -1
	for _, st := range statuses {
		if rank := p.StatusPriority[st]; rank > bestRank {
			best = st
			bestRank = rank
		}
	}
	return best
}
