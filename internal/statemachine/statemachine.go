// Package statemachine encodes the domain lifecycle's legal transitions.
package statemachine

import (
	"github.com/north-cloud/crawlcoord/internal/domain"
)

// validTransitions enumerates every allowed (from, to) pair. Anything not
// listed here is illegal and must be refused by the repository under the
// same optimistic-lock guard used for the rest of a mutation.
var validTransitions = map[domain.Status][]domain.Status{
	domain.StatusPending: {
		domain.StatusActive,
		domain.StatusUnreachable,
	},
	domain.StatusActive: {
		domain.StatusActive,
		domain.StatusExhausted,
		domain.StatusBlocked,
		domain.StatusUnreachable,
	},
	domain.StatusExhausted: {
		domain.StatusPending,
		domain.StatusActive,
	},
	domain.StatusBlocked: {
		domain.StatusPending,
		domain.StatusActive,
	},
	domain.StatusUnreachable: {
		domain.StatusPending,
		domain.StatusActive,
	},
}

// Validate checks whether a transition from one status to another is legal.
// Returns domain.ErrIllegalTransition (wrapped with the offending states) if not.
func Validate(from, to domain.Status) error {
	allowed, known := validTransitions[from]
	if !known {
		return domain.Wrapf(domain.ErrIllegalTransition, "unknown source state %q", from)
	}

	for _, candidate := range allowed {
		if candidate == to {
			return nil
		}
	}

	return domain.Wrapf(domain.ErrIllegalTransition, "%s -> %s", from, to)
}

// IsTerminal reports whether a status admits no further priority recomputation.
func IsTerminal(status domain.Status) bool {
	return status.Terminal()
}
