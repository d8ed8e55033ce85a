// Package lifecycle holds the stock-unit state machine and the cost
// accumulation rule. Every function here is pure: the stores call them inside
// their own transactions so both implementations enforce identical guards.
package lifecycle

import (
	"fmt"

	"kasirponsel/backend/internal/domain"
	"kasirponsel/backend/internal/store"
)

// EnsureCanStartRepair rejects repair creation on a unit that already left the
// shop. A sold unit's cost is settled and must not change.
func EnsureCanStartRepair(phone domain.Phone) error {
	if phone.Status == domain.PhoneSold {
		return fmt.Errorf("%w: phone %s is sold", store.ErrInvalidTransition, phone.ID)
	}
	if phone.Status == domain.PhoneReturned {
		return fmt.Errorf("%w: phone %s is returned", store.ErrInvalidTransition, phone.ID)
	}
	return nil
}

// EnsureCanSell enforces the one hard business rule protecting the cost
// invariant: a unit cannot be sold while a repair is open, because its final
// cost is not yet settled.
func EnsureCanSell(phone domain.Phone) error {
	switch phone.Status {
	case domain.PhoneSold:
		return fmt.Errorf("%w: phone %s is already sold", store.ErrInvalidTransition, phone.ID)
	case domain.PhoneInRepair:
		return fmt.Errorf("%w: phone %s is in repair", store.ErrInvalidTransition, phone.ID)
	case domain.PhoneReturned:
		return fmt.Errorf("%w: phone %s is returned", store.ErrInvalidTransition, phone.ID)
	}
	return nil
}

// IsActiveRepair reports whether a job still holds its phone in repair.
func IsActiveRepair(status domain.RepairStatus) bool {
	return status == domain.RepairPending || status == domain.RepairInProgress
}

// EnsureRepairOpen rejects completing or cancelling a job twice. Forbidding
// re-entry into a terminal repair state is what keeps cost accumulation
// idempotent: a job's cost can land on the phone exactly once.
func EnsureRepairOpen(job domain.RepairJob) error {
	if !IsActiveRepair(job.Status) {
		return fmt.Errorf("%w: repair %s is already %s", store.ErrInvalidTransition, job.ID, job.Status)
	}
	return nil
}

// EnsureRepairPending guards the pending -> in_progress transition.
func EnsureRepairPending(job domain.RepairJob) error {
	if job.Status != domain.RepairPending {
		return fmt.Errorf("%w: repair %s is %s", store.ErrInvalidTransition, job.ID, job.Status)
	}
	return nil
}

// CompleteRepair applies a completed job to its phone: the job's cost is added
// to the accumulated cost and the unit becomes ready for sale. Repairs stack;
// the accumulated cost only ever grows.
func CompleteRepair(phone domain.Phone, job domain.RepairJob) domain.Phone {
	phone.AccumulatedCostCents += job.CostCents
	phone.Status = domain.PhoneReadyForSale
	return phone
}

// CancelRepair reverts the phone to in_stock only when the cancelled job was
// the last active one. Cost never changes on cancellation.
func CancelRepair(phone domain.Phone, otherActiveJobs int) domain.Phone {
	if otherActiveJobs == 0 && phone.Status == domain.PhoneInRepair {
		phone.Status = domain.PhoneInStock
	}
	return phone
}

// ValidateSale checks the creation rules of the sale obligation: a credit sale
// needs a known debtor, and the initial paid amount may not exceed the price.
func ValidateSale(sale domain.Sale) error {
	if sale.PriceCents < 1 {
		return fmt.Errorf("%w: sale price must be positive", store.ErrValidation)
	}
	if sale.PaidCents < 0 || sale.PaidCents > sale.PriceCents {
		return fmt.Errorf("%w: paid amount outside [0, price]", store.ErrValidation)
	}
	if sale.Credit && (sale.CustomerID == nil || *sale.CustomerID == "") {
		return fmt.Errorf("%w: credit sale requires a customer", store.ErrValidation)
	}
	return nil
}

// NormalizeSale derives the stored payment fields at creation time. A pay-now
// sale is born fully paid; a credit sale keeps whatever deposit was given.
func NormalizeSale(sale domain.Sale) domain.Sale {
	if !sale.Credit {
		sale.PaidCents = sale.PriceCents
	}
	sale.PaymentStatus = domain.PaymentStatusFor(sale.PaidCents, sale.PriceCents)
	return sale
}

// ValidateAcquisition checks the purchase obligation's creation rules.
func ValidateAcquisition(purchase domain.Purchase) error {
	if purchase.SupplierID == "" {
		return fmt.Errorf("%w: acquisition requires a supplier", store.ErrValidation)
	}
	if len(purchase.Items) == 0 {
		return fmt.Errorf("%w: acquisition requires at least one item", store.ErrValidation)
	}
	total := int64(0)
	for _, item := range purchase.Items {
		if item.CostCents < 1 {
			return fmt.Errorf("%w: item cost must be positive", store.ErrValidation)
		}
		total += item.CostCents
	}
	if purchase.PaidCents < 0 || purchase.PaidCents > total {
		return fmt.Errorf("%w: paid amount outside [0, total]", store.ErrValidation)
	}
	return nil
}

// NormalizeAcquisition fills the derived purchase fields from its items.
func NormalizeAcquisition(purchase domain.Purchase) domain.Purchase {
	total := int64(0)
	for _, item := range purchase.Items {
		total += item.CostCents
	}
	purchase.TotalCents = total
	if !purchase.Credit {
		purchase.PaidCents = total
	}
	purchase.PaymentStatus = domain.PaymentStatusFor(purchase.PaidCents, purchase.TotalCents)
	return purchase
}

// CanDeletePhone allows soft deletion only for units with no history attached.
func CanDeletePhone(phone domain.Phone, repairCount int, hasSale bool) error {
	if repairCount > 0 || hasSale {
		return fmt.Errorf("%w: phone %s has repair or sale history", store.ErrInvalidTransition, phone.ID)
	}
	return nil
}
