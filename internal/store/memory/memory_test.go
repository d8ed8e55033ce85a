package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"kasirponsel/backend/internal/domain"
	"kasirponsel/backend/internal/store"
)

func seedAcquisition(t *testing.T, s *Store, ctx context.Context, imeis ...string) (*domain.Purchase, []domain.Phone) {
	t.Helper()
	supplier, err := s.CreateSupplier(ctx, domain.Supplier{Name: "Grosir Test"})
	if err != nil {
		t.Fatalf("create supplier: %v", err)
	}
	items := make([]domain.PurchaseItem, 0, len(imeis))
	for _, imei := range imeis {
		items = append(items, domain.PurchaseItem{Brand: "Samsung", Model: "A54", IMEI: imei, CostCents: 80000})
	}
	purchase, phones, err := s.CreateAcquisition(ctx, domain.Purchase{
		SupplierID: supplier.ID,
		Items:      items,
	})
	if err != nil {
		t.Fatalf("create acquisition: %v", err)
	}
	return purchase, phones
}

func TestCreateAcquisitionRejectsDuplicateIMEI(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, phones := seedAcquisition(t, s, ctx, "356938035643809")
	if phones[0].Status != domain.PhoneInStock {
		t.Fatalf("expected in_stock, got %s", phones[0].Status)
	}

	supplier, err := s.CreateSupplier(ctx, domain.Supplier{Name: "Grosir Lain"})
	if err != nil {
		t.Fatalf("create supplier: %v", err)
	}
	_, _, err = s.CreateAcquisition(ctx, domain.Purchase{
		SupplierID: supplier.ID,
		Items:      []domain.PurchaseItem{{Brand: "Samsung", Model: "A54", IMEI: "356938035643809", CostCents: 70000}},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on duplicate imei, got %v", err)
	}
}

func TestCreateAcquisitionRejectsRepeatedIMEIWithinRequest(t *testing.T) {
	ctx := context.Background()
	s := New()
	supplier, err := s.CreateSupplier(ctx, domain.Supplier{Name: "Grosir Test"})
	if err != nil {
		t.Fatalf("create supplier: %v", err)
	}

	_, _, err = s.CreateAcquisition(ctx, domain.Purchase{
		SupplierID: supplier.ID,
		Items: []domain.PurchaseItem{
			{Brand: "Samsung", Model: "A54", IMEI: "356938035643809", CostCents: 80000},
			{Brand: "Samsung", Model: "A54", IMEI: "356938035643809", CostCents: 70000},
		},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on repeated imei within one acquisition, got %v", err)
	}

	// Nothing from the rejected request may be visible afterwards.
	phones, err := s.ListPhones(ctx, "", 0)
	if err != nil {
		t.Fatalf("list phones: %v", err)
	}
	if len(phones) != 0 {
		t.Fatalf("expected no phones after rejected acquisition, got %d", len(phones))
	}
}

func TestRepairFlowAccumulatesCost(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, phones := seedAcquisition(t, s, ctx, "356938035643809")
	phoneID := phones[0].ID

	job, phone, err := s.CreateRepairJob(ctx, domain.RepairJob{PhoneID: phoneID, CostCents: 15000, Description: "ganti layar"})
	if err != nil {
		t.Fatalf("create repair: %v", err)
	}
	if phone.Status != domain.PhoneInRepair {
		t.Fatalf("expected in_repair, got %s", phone.Status)
	}

	// Sale is blocked while the repair is open.
	_, _, err = s.CreateSale(ctx, domain.Sale{PhoneID: phoneID, PriceCents: 120000})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for sale in repair, got %v", err)
	}

	if _, err := s.MarkRepairInProgress(ctx, job.ID); err != nil {
		t.Fatalf("mark in progress: %v", err)
	}
	_, phone, err = s.CompleteRepair(ctx, job.ID, "layar baru", time.Now().UTC())
	if err != nil {
		t.Fatalf("complete repair: %v", err)
	}
	if phone.AccumulatedCostCents != 95000 {
		t.Fatalf("expected accumulated cost 95000, got %d", phone.AccumulatedCostCents)
	}
	if phone.Status != domain.PhoneReadyForSale {
		t.Fatalf("expected ready_for_sale, got %s", phone.Status)
	}

	// Completing twice must not double the cost.
	_, _, err = s.CompleteRepair(ctx, job.ID, "again", time.Now().UTC())
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on double complete, got %v", err)
	}
}

func TestCancelRepairRevertsStatusOnlyWhenLastActive(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, phones := seedAcquisition(t, s, ctx, "356938035643809")
	phoneID := phones[0].ID

	first, _, err := s.CreateRepairJob(ctx, domain.RepairJob{PhoneID: phoneID, CostCents: 15000})
	if err != nil {
		t.Fatalf("create first repair: %v", err)
	}
	second, _, err := s.CreateRepairJob(ctx, domain.RepairJob{PhoneID: phoneID, CostCents: 5000})
	if err != nil {
		t.Fatalf("create second repair: %v", err)
	}

	_, phone, err := s.CancelRepair(ctx, first.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("cancel first: %v", err)
	}
	if phone.Status != domain.PhoneInRepair {
		t.Fatalf("second repair still open, expected in_repair, got %s", phone.Status)
	}

	_, phone, err = s.CancelRepair(ctx, second.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("cancel second: %v", err)
	}
	if phone.Status != domain.PhoneInStock {
		t.Fatalf("expected in_stock after last cancel, got %s", phone.Status)
	}
	if phone.AccumulatedCostCents != 80000 {
		t.Fatalf("cancellation must not change cost, got %d", phone.AccumulatedCostCents)
	}
}

func TestApplySettlementAcrossSalesAndPurchases(t *testing.T) {
	ctx := context.Background()
	s := New()
	purchase, phones := seedAcquisition(t, s, ctx, "356938035643809", "490154203237518")

	customer, err := s.CreateCustomer(ctx, domain.Customer{Name: "Budi"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}

	older, _, err := s.CreateSale(ctx, domain.Sale{
		PhoneID:    phones[0].ID,
		CustomerID: &customer.ID,
		PriceCents: 135000,
		PaidCents:  80000,
		Credit:     true,
		OccurredAt: time.Now().Add(-48 * time.Hour).UTC(),
	})
	if err != nil {
		t.Fatalf("create older sale: %v", err)
	}
	newer, _, err := s.CreateSale(ctx, domain.Sale{
		PhoneID:    phones[1].ID,
		CustomerID: &customer.ID,
		PriceCents: 135000,
		Credit:     true,
	})
	if err != nil {
		t.Fatalf("create newer sale: %v", err)
	}

	// Overpay fails with no state change.
	_, _, err = s.ApplySettlement(ctx, domain.Payment{
		DebtorType:  domain.DebtorCustomer,
		DebtorID:    customer.ID,
		AmountCents: 200000,
	})
	if !errors.Is(err, store.ErrOverAllocation) {
		t.Fatalf("expected over-allocation, got %v", err)
	}
	got, err := s.GetSaleByID(ctx, older.ID)
	if err != nil || got.PaidCents != 80000 {
		t.Fatalf("failed settlement must not mutate sale: %v %+v", err, got)
	}

	payment, remaining, err := s.ApplySettlement(ctx, domain.Payment{
		DebtorType:  domain.DebtorCustomer,
		DebtorID:    customer.ID,
		AmountCents: 90000,
		Method:      "cash",
	})
	if err != nil {
		t.Fatalf("apply settlement: %v", err)
	}
	if payment.Allocations[0].ObligationID != older.ID || payment.Allocations[0].AppliedCents != 55000 {
		t.Fatalf("oldest first violated: %+v", payment.Allocations[0])
	}
	if len(remaining) != 1 || remaining[0].ID != newer.ID || remaining[0].DueCents() != 100000 {
		t.Fatalf("unexpected remaining obligations: %+v", remaining)
	}

	// Settled customer cannot absorb another payment.
	if _, _, err := s.ApplySettlement(ctx, domain.Payment{
		DebtorType:  domain.DebtorCustomer,
		DebtorID:    customer.ID,
		AmountCents: 100000,
	}); err != nil {
		t.Fatalf("final payoff: %v", err)
	}
	_, _, err = s.ApplySettlement(ctx, domain.Payment{
		DebtorType:  domain.DebtorCustomer,
		DebtorID:    customer.ID,
		AmountCents: 1000,
	})
	if !errors.Is(err, store.ErrNoOutstandingObligations) {
		t.Fatalf("expected no outstanding obligations, got %v", err)
	}

	// The supplier side of the same engine; the cash acquisition left no debt.
	_, _, err = s.ApplySettlement(ctx, domain.Payment{
		DebtorType:  domain.DebtorSupplier,
		DebtorID:    purchase.SupplierID,
		AmountCents: 1000,
	})
	if !errors.Is(err, store.ErrNoOutstandingObligations) {
		t.Fatalf("expected no outstanding supplier obligations, got %v", err)
	}
}

func TestDeletePhoneGuards(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, phones := seedAcquisition(t, s, ctx, "356938035643809", "490154203237518")

	if _, _, err := s.CreateRepairJob(ctx, domain.RepairJob{PhoneID: phones[0].ID, CostCents: 5000}); err != nil {
		t.Fatalf("create repair: %v", err)
	}
	if err := s.DeletePhone(ctx, phones[0].ID, time.Now().UTC()); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("phone with repair history must not delete, got %v", err)
	}

	if err := s.DeletePhone(ctx, phones[1].ID, time.Now().UTC()); err != nil {
		t.Fatalf("delete clean phone: %v", err)
	}
	if _, err := s.GetPhoneByID(ctx, phones[1].ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("deleted phone should be gone, got %v", err)
	}
}

func TestGetSalesReportWindow(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, phones := seedAcquisition(t, s, ctx, "356938035643809", "490154203237518")

	now := time.Now().UTC()
	if _, _, err := s.CreateSale(ctx, domain.Sale{PhoneID: phones[0].ID, PriceCents: 120000, OccurredAt: now}); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, _, err := s.CreateSale(ctx, domain.Sale{PhoneID: phones[1].ID, PriceCents: 100000, OccurredAt: now.Add(-72 * time.Hour)}); err != nil {
		t.Fatalf("create old sale: %v", err)
	}

	report, err := s.GetSalesReport(ctx, now.Add(-24*time.Hour), now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("sales report: %v", err)
	}
	if report.UnitsSold != 1 {
		t.Fatalf("expected 1 unit in window, got %d", report.UnitsSold)
	}
	if report.ProfitCents != 40000 {
		t.Fatalf("expected profit 40000, got %d", report.ProfitCents)
	}
}
