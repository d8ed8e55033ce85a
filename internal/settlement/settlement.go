// Package settlement allocates a debtor payment across open obligations,
// oldest first. The planner is pure so both stores apply the same allocation
// inside their own transactions.
package settlement

import (
	"fmt"
	"slices"
	"strings"

	"kasirponsel/backend/internal/domain"
	"kasirponsel/backend/internal/store"
)

// SortObligations orders open obligations for allocation: by occurrence time,
// ties broken by ID so the order is stable across runs and stores.
func SortObligations(obligations []domain.Obligation) {
	slices.SortFunc(obligations, func(a, b domain.Obligation) int {
		if c := a.OccurredAt.Compare(b.OccurredAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// Plan distributes amountCents across the given open obligations oldest first,
// paying each one off entirely before touching the next. The plan is all or
// nothing: an amount exceeding the total due fails without partial effect, and
// the caller's obligations slice is never mutated.
func Plan(obligations []domain.Obligation, amountCents int64) ([]domain.PaymentAllocation, error) {
	if amountCents < 1 {
		return nil, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
	}
	open := make([]domain.Obligation, 0, len(obligations))
	for _, o := range obligations {
		if o.DueCents() > 0 {
			open = append(open, o)
		}
	}
	if len(open) == 0 {
		return nil, store.ErrNoOutstandingObligations
	}
	SortObligations(open)

	totalDue := int64(0)
	for _, o := range open {
		totalDue += o.DueCents()
	}
	if amountCents > totalDue {
		return nil, fmt.Errorf("%w: payment %d exceeds outstanding %d", store.ErrOverAllocation, amountCents, totalDue)
	}

	remaining := amountCents
	allocations := make([]domain.PaymentAllocation, 0, len(open))
	for _, o := range open {
		if remaining == 0 {
			break
		}
		applied := min(remaining, o.DueCents())
		newPaid := o.PaidCents + applied
		allocations = append(allocations, domain.PaymentAllocation{
			ObligationID: o.ID,
			Kind:         o.Kind,
			AppliedCents: applied,
			NewPaidCents: newPaid,
			NewStatus:    domain.PaymentStatusFor(newPaid, o.PrincipalCents),
		})
		remaining -= applied
	}
	return allocations, nil
}

// Outstanding sums what the debtor still owes across open obligations.
func Outstanding(obligations []domain.Obligation) int64 {
	total := int64(0)
	for _, o := range obligations {
		total += o.DueCents()
	}
	return total
}
