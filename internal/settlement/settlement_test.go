package settlement

import (
	"errors"
	"testing"
	"time"

	"kasirponsel/backend/internal/domain"
	"kasirponsel/backend/internal/store"
)

func obligation(id string, occurred time.Time, principal, paid int64) domain.Obligation {
	return domain.Obligation{
		ID:             id,
		Kind:           domain.ObligationSale,
		PrincipalCents: principal,
		PaidCents:      paid,
		PaymentStatus:  domain.PaymentStatusFor(paid, principal),
		OccurredAt:     occurred,
	}
}

func TestPlanPaysOldestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	obligations := []domain.Obligation{
		obligation("sle-new", base.Add(48*time.Hour), 135000, 0),
		obligation("sle-old", base, 135000, 80000),
	}

	allocations, err := Plan(obligations, 90000)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocations))
	}

	first := allocations[0]
	if first.ObligationID != "sle-old" || first.AppliedCents != 55000 {
		t.Fatalf("expected sle-old to take 55000, got %s/%d", first.ObligationID, first.AppliedCents)
	}
	if first.NewStatus != domain.PaymentPaid {
		t.Fatalf("oldest obligation should be fully paid, got %s", first.NewStatus)
	}

	second := allocations[1]
	if second.ObligationID != "sle-new" || second.AppliedCents != 35000 {
		t.Fatalf("expected sle-new to take 35000, got %s/%d", second.ObligationID, second.AppliedCents)
	}
	if second.NewStatus != domain.PaymentPartial || second.NewPaidCents != 35000 {
		t.Fatalf("newest obligation: got status=%s paid=%d", second.NewStatus, second.NewPaidCents)
	}
}

func TestPlanTieBreaksOnID(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	obligations := []domain.Obligation{
		obligation("sle-b", at, 10000, 0),
		obligation("sle-a", at, 10000, 0),
	}
	allocations, err := Plan(obligations, 10000)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if allocations[0].ObligationID != "sle-a" {
		t.Fatalf("expected sle-a first on equal timestamps, got %s", allocations[0].ObligationID)
	}
}

func TestPlanOverAllocation(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	obligations := []domain.Obligation{
		obligation("sle-old", base, 135000, 80000),
		obligation("sle-new", base.Add(time.Hour), 135000, 0),
	}

	// 55000 + 135000 due; one cent more must fail with no allocations.
	_, err := Plan(obligations, 190001)
	if !errors.Is(err, store.ErrOverAllocation) {
		t.Fatalf("expected over-allocation, got %v", err)
	}

	allocations, err := Plan(obligations, 190000)
	if err != nil {
		t.Fatalf("exact payoff failed: %v", err)
	}
	for _, a := range allocations {
		if a.NewStatus != domain.PaymentPaid {
			t.Fatalf("exact payoff should close %s, got %s", a.ObligationID, a.NewStatus)
		}
	}
}

func TestPlanNoOutstandingObligations(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	settled := []domain.Obligation{obligation("sle-1", base, 10000, 10000)}

	_, err := Plan(settled, 5000)
	if !errors.Is(err, store.ErrNoOutstandingObligations) {
		t.Fatalf("expected no outstanding obligations, got %v", err)
	}
	_, err = Plan(nil, 5000)
	if !errors.Is(err, store.ErrNoOutstandingObligations) {
		t.Fatalf("expected no outstanding obligations on empty set, got %v", err)
	}
}

func TestPlanRejectsNonPositiveAmount(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	obligations := []domain.Obligation{obligation("sle-1", base, 10000, 0)}
	for _, amount := range []int64{0, -500} {
		if _, err := Plan(obligations, amount); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("amount %d: expected validation error, got %v", amount, err)
		}
	}
}

func TestOutstanding(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	obligations := []domain.Obligation{
		obligation("sle-1", base, 135000, 80000),
		obligation("sle-2", base, 135000, 0),
	}
	if got := Outstanding(obligations); got != 190000 {
		t.Fatalf("expected outstanding 190000, got %d", got)
	}
}
