package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kasirponsel/backend/internal/cache"
	"kasirponsel/backend/internal/domain"
	"kasirponsel/backend/internal/store"
	"kasirponsel/backend/internal/store/memory"
)

// trackingCache records invalidations so tests can assert the service evicts
// stale statements on writes.
type trackingCache struct {
	mu          sync.Mutex
	entries     map[string]domain.DebtorStatement
	invalidated []string
}

func newTrackingCache() *trackingCache {
	return &trackingCache{entries: map[string]domain.DebtorStatement{}}
}

func (c *trackingCache) Get(_ context.Context, key string) (*domain.DebtorStatement, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if statement, ok := c.entries[key]; ok {
		copyStatement := statement
		return &copyStatement, true, nil
	}
	return nil, false, nil
}

func (c *trackingCache) Set(_ context.Context, key string, value *domain.DebtorStatement, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = *value
	return nil
}

func (c *trackingCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.invalidated = append(c.invalidated, key)
	return nil
}

func newTestService() *Service {
	return New(memory.New(), cache.NoopStatementCache{}, 30*time.Second)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func seedSupplier(t *testing.T, svc *Service, ctx context.Context) domain.Supplier {
	t.Helper()
	supplier, err := svc.CreateSupplier(ctx, domain.SupplierCreateRequest{Name: "Grosir HP Roxy"})
	if err != nil {
		t.Fatalf("create supplier: %v", err)
	}
	return supplier
}

func TestAcquisitionCreatesStockUnits(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()
	supplier := seedSupplier(t, svc, ctx)

	resp, err := svc.CreateAcquisition(ctx, domain.AcquisitionCreateRequest{
		SupplierID: supplier.ID,
		Credit:     true,
		PaidCents:  20000,
		Items: []domain.AcquisitionItemRequest{
			{Brand: "Samsung", Model: "A54", IMEI: "356938035643809", Condition: "used", CostCents: 80000},
			{Brand: "Xiaomi", Model: "Note 12", IMEI: "490154203237518", Condition: "used", CostCents: 55000},
		},
	})
	if err != nil {
		t.Fatalf("create acquisition: %v", err)
	}
	if resp.Purchase.TotalCents != 135000 {
		t.Fatalf("expected total 135000, got %d", resp.Purchase.TotalCents)
	}
	if resp.Purchase.PaymentStatus != domain.PaymentPartial {
		t.Fatalf("expected partial purchase, got %s", resp.Purchase.PaymentStatus)
	}
	if len(resp.Phones) != 2 {
		t.Fatalf("expected 2 phones, got %d", len(resp.Phones))
	}
	for _, phone := range resp.Phones {
		if phone.Status != domain.PhoneInStock {
			t.Fatalf("expected in_stock, got %s", phone.Status)
		}
		if phone.AccumulatedCostCents != phone.AcquisitionCostCents {
			t.Fatalf("accumulated cost should start at acquisition cost")
		}
	}
}

func TestRepairThenSaleComputesProfit(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()
	supplier := seedSupplier(t, svc, ctx)

	acq, err := svc.CreateAcquisition(ctx, domain.AcquisitionCreateRequest{
		SupplierID: supplier.ID,
		Items: []domain.AcquisitionItemRequest{
			{Brand: "Samsung", Model: "A54", IMEI: "356938035643809", CostCents: 80000},
		},
	})
	if err != nil {
		t.Fatalf("create acquisition: %v", err)
	}
	phoneID := acq.Phones[0].ID

	repair, err := svc.StartRepair(ctx, domain.RepairStartRequest{PhoneID: phoneID, CostCents: 15000, Description: "ganti layar"})
	if err != nil {
		t.Fatalf("start repair: %v", err)
	}

	// Selling mid-repair is rejected; the unit's cost is not settled yet.
	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{PhoneID: phoneID, PriceCents: 120000})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	done, err := svc.CompleteRepair(ctx, repair.RepairJob.ID, domain.RepairCompleteRequest{CompletionNote: "layar baru"})
	if err != nil {
		t.Fatalf("complete repair: %v", err)
	}
	if done.Phone.AccumulatedCostCents != 95000 {
		t.Fatalf("expected accumulated cost 95000, got %d", done.Phone.AccumulatedCostCents)
	}

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{PhoneID: phoneID, PriceCents: 120000})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.ProfitCents != 25000 {
		t.Fatalf("expected profit 25000, got %d", sale.ProfitCents)
	}
	if sale.Sale.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("cash sale should be settled, got %s", sale.Sale.PaymentStatus)
	}

	// Selling the same unit twice is rejected.
	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{PhoneID: phoneID, PriceCents: 110000})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on double sale, got %v", err)
	}
}

func TestCreditSaleRequiresCustomer(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()
	supplier := seedSupplier(t, svc, ctx)

	acq, err := svc.CreateAcquisition(ctx, domain.AcquisitionCreateRequest{
		SupplierID: supplier.ID,
		Items: []domain.AcquisitionItemRequest{
			{Brand: "Samsung", Model: "A54", IMEI: "356938035643809", CostCents: 80000},
		},
	})
	if err != nil {
		t.Fatalf("create acquisition: %v", err)
	}

	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{
		PhoneID:    acq.Phones[0].ID,
		PriceCents: 120000,
		Credit:     true,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for anonymous credit sale, got %v", err)
	}
}

func TestSettlementFlowAndStatementCache(t *testing.T) {
	repo := memory.New()
	statements := newTrackingCache()
	svc := New(repo, statements, 30*time.Second)
	ctx := adminCtx()

	supplier := seedSupplier(t, svc, ctx)
	customer, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Budi Santoso"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}

	acq, err := svc.CreateAcquisition(ctx, domain.AcquisitionCreateRequest{
		SupplierID: supplier.ID,
		Items: []domain.AcquisitionItemRequest{
			{Brand: "Samsung", Model: "A54", IMEI: "356938035643809", CostCents: 80000},
			{Brand: "Xiaomi", Model: "Note 12", IMEI: "490154203237518", CostCents: 80000},
		},
	})
	if err != nil {
		t.Fatalf("create acquisition: %v", err)
	}

	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PhoneID:    acq.Phones[0].ID,
		CustomerID: &customer.ID,
		PriceCents: 135000,
		PaidCents:  80000,
		Credit:     true,
	}); err != nil {
		t.Fatalf("create first sale: %v", err)
	}
	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		PhoneID:    acq.Phones[1].ID,
		CustomerID: &customer.ID,
		PriceCents: 135000,
		Credit:     true,
	}); err != nil {
		t.Fatalf("create second sale: %v", err)
	}

	statement, err := svc.GetDebtorStatement(ctx, domain.DebtorCustomer, customer.ID)
	if err != nil {
		t.Fatalf("get statement: %v", err)
	}
	if statement.OutstandingCents != 190000 {
		t.Fatalf("expected outstanding 190000, got %d", statement.OutstandingCents)
	}
	if len(statements.entries) != 1 {
		t.Fatalf("statement should be cached")
	}

	// Overpay rejects whole, leaves the ledger untouched.
	_, err = svc.ApplySettlement(ctx, domain.SettlementRequest{
		DebtorType:  domain.DebtorCustomer,
		DebtorID:    customer.ID,
		AmountCents: 200000,
	})
	if !errors.Is(err, store.ErrOverAllocation) {
		t.Fatalf("expected over-allocation, got %v", err)
	}

	resp, err := svc.ApplySettlement(ctx, domain.SettlementRequest{
		DebtorType:  domain.DebtorCustomer,
		DebtorID:    customer.ID,
		AmountCents: 90000,
		Method:      "cash",
	})
	if err != nil {
		t.Fatalf("apply settlement: %v", err)
	}
	if len(resp.Payment.Allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(resp.Payment.Allocations))
	}
	if resp.Payment.Allocations[0].NewStatus != domain.PaymentPaid {
		t.Fatalf("oldest sale should be closed first, got %s", resp.Payment.Allocations[0].NewStatus)
	}
	if len(resp.Obligations) != 1 || resp.Obligations[0].DueCents() != 100000 {
		t.Fatalf("unexpected remaining obligations: %+v", resp.Obligations)
	}

	if len(statements.invalidated) == 0 {
		t.Fatalf("settlement should invalidate the cached statement")
	}
	statement, err = svc.GetDebtorStatement(ctx, domain.DebtorCustomer, customer.ID)
	if err != nil {
		t.Fatalf("get statement after settlement: %v", err)
	}
	if statement.OutstandingCents != 100000 {
		t.Fatalf("expected outstanding 100000 after settlement, got %d", statement.OutstandingCents)
	}
}

func TestDeletePhoneRequiresAdmin(t *testing.T) {
	svc := newTestService()
	adminCtx := adminCtx()
	supplier := seedSupplier(t, svc, adminCtx)

	acq, err := svc.CreateAcquisition(adminCtx, domain.AcquisitionCreateRequest{
		SupplierID: supplier.ID,
		Items: []domain.AcquisitionItemRequest{
			{Brand: "Samsung", Model: "A54", IMEI: "356938035643809", CostCents: 80000},
		},
	})
	if err != nil {
		t.Fatalf("create acquisition: %v", err)
	}

	staffCtx := WithActor(context.Background(), domain.Actor{Username: "staff", Role: "staff"})
	if err := svc.DeletePhone(staffCtx, acq.Phones[0].ID); err == nil {
		t.Fatalf("expected staff delete to be rejected")
	}
	if err := svc.DeletePhone(adminCtx, acq.Phones[0].ID); err != nil {
		t.Fatalf("admin delete failed: %v", err)
	}
}

func TestSalesReportAggregatesDay(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()
	supplier := seedSupplier(t, svc, ctx)

	acq, err := svc.CreateAcquisition(ctx, domain.AcquisitionCreateRequest{
		SupplierID: supplier.ID,
		Items: []domain.AcquisitionItemRequest{
			{Brand: "Samsung", Model: "A54", IMEI: "356938035643809", CostCents: 80000},
		},
	})
	if err != nil {
		t.Fatalf("create acquisition: %v", err)
	}
	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{PhoneID: acq.Phones[0].ID, PriceCents: 120000}); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	report, err := svc.SalesReport(ctx, time.Now().UTC().Format("2006-01-02"))
	if err != nil {
		t.Fatalf("sales report: %v", err)
	}
	if report.UnitsSold != 1 || report.RevenueCents != 120000 || report.ProfitCents != 40000 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestReportRejectsMalformedDate(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	if _, err := svc.SalesReport(ctx, "not-a-date"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for malformed report date, got %v", err)
	}
	if _, err := svc.ListAuditLogs(ctx, "2026-13-40", 10); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for malformed audit date, got %v", err)
	}

	// Empty still means today.
	if _, err := svc.SalesReport(ctx, ""); err != nil {
		t.Fatalf("expected empty date to default to today, got %v", err)
	}
}
