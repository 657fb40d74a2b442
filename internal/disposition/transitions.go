// Package disposition is the per-business state machine: it decides, for
// each candidate website, whether the business has a valid site, a broken
// one, or none at all, and schedules the follow-up work for each answer.
package disposition

import (
	"fmt"

	"prospector/internal/model"
)

// transitions is the complete edge set. Anything not listed is rejected.
var transitions = map[model.WebsiteStatus][]model.WebsiteStatus{
	model.StatusPending: {
		model.StatusNeedsDiscovery,
		model.StatusValidating,
	},
	model.StatusValidating: {
		model.StatusValidFromProvider,
		model.StatusValidFromSearch,
		model.StatusInvalidTechnical,
		model.StatusNeedsDiscovery,
		model.StatusError,
	},
	model.StatusNeedsDiscovery: {
		model.StatusDiscoveryInProgress,
	},
	model.StatusDiscoveryInProgress: {
		model.StatusValidating,
		model.StatusConfirmedNoWebsite,
		model.StatusError,
	},
	// Manual re-entry lane: revalidation treats this exactly like validating.
	model.StatusNeedsVerification: {
		model.StatusValidFromProvider,
		model.StatusValidFromSearch,
		model.StatusInvalidTechnical,
		model.StatusNeedsDiscovery,
		model.StatusError,
	},
	// Only the manual revalidate operation takes these edges.
	model.StatusInvalidTechnical: {
		model.StatusNeedsVerification,
	},
	model.StatusError: {
		model.StatusNeedsVerification,
	},
}

// InvalidTransitionError reports an edge outside the state machine.
type InvalidTransitionError struct {
	From model.WebsiteStatus
	To   model.WebsiteStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid disposition transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to model.WebsiteStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition moves the business to the new state or rejects the edge.
func Transition(b *model.Business, to model.WebsiteStatus) error {
	if !CanTransition(b.Status, to) {
		return &InvalidTransitionError{From: b.Status, To: to}
	}
	b.Status = to
	return nil
}
