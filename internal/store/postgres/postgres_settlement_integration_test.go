package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"kasirponsel/backend/internal/domain"
)

func TestSettlementFlowAgainstPostgres(t *testing.T) {
	databaseURL := os.Getenv("KASIRPONSEL_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KASIRPONSEL_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	supplierID := fmt.Sprintf("sup-it-%d", stamp)
	customerID := fmt.Sprintf("cst-it-%d", stamp)
	imeiOld := fmt.Sprintf("35693803%07d", stamp%10000000)
	imeiNew := fmt.Sprintf("49015420%07d", stamp%10000000)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM payment_allocations WHERE payment_id IN (SELECT id FROM payments WHERE debtor_id = $1)`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM payments WHERE debtor_id = $1`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE customer_id = $1`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM purchase_items WHERE purchase_id IN (SELECT id FROM purchases WHERE supplier_id = $1)`, supplierID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM phones WHERE purchase_id IN (SELECT id FROM purchases WHERE supplier_id = $1)`, supplierID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM purchases WHERE supplier_id = $1`, supplierID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM suppliers WHERE id = $1`, supplierID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, created_at, updated_at)
		VALUES ($1, 'Supplier IT', null, now(), now())
	`, supplierID); err != nil {
		t.Fatalf("insert supplier: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, created_at, updated_at)
		VALUES ($1, 'Customer IT', null, now(), now())
	`, customerID); err != nil {
		t.Fatalf("insert customer: %v", err)
	}

	purchase, phones, err := s.CreateAcquisition(ctx, domain.Purchase{
		SupplierID: supplierID,
		Credit:     false,
		Items: []domain.PurchaseItem{
			{Brand: "Samsung", Model: "A54", IMEI: imeiOld, CostCents: 80000},
			{Brand: "Xiaomi", Model: "Note 12", IMEI: imeiNew, CostCents: 80000},
		},
	})
	if err != nil {
		t.Fatalf("create acquisition: %v", err)
	}
	if purchase.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("cash acquisition should be settled, got %s", purchase.PaymentStatus)
	}
	if len(phones) != 2 {
		t.Fatalf("expected 2 phones, got %d", len(phones))
	}

	// Two credit sales to the same customer, the older one partially paid.
	saleOld, _, err := s.CreateSale(ctx, domain.Sale{
		PhoneID:    phones[0].ID,
		CustomerID: &customerID,
		PriceCents: 135000,
		PaidCents:  80000,
		Credit:     true,
		OccurredAt: time.Now().Add(-48 * time.Hour).UTC(),
	})
	if err != nil {
		t.Fatalf("create old sale: %v", err)
	}
	saleNew, _, err := s.CreateSale(ctx, domain.Sale{
		PhoneID:    phones[1].ID,
		CustomerID: &customerID,
		PriceCents: 135000,
		Credit:     true,
	})
	if err != nil {
		t.Fatalf("create new sale: %v", err)
	}

	payment, remaining, err := s.ApplySettlement(ctx, domain.Payment{
		DebtorType:  domain.DebtorCustomer,
		DebtorID:    customerID,
		AmountCents: 90000,
		Method:      "cash",
	})
	if err != nil {
		t.Fatalf("apply settlement: %v", err)
	}
	if len(payment.Allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(payment.Allocations))
	}
	if payment.Allocations[0].ObligationID != saleOld.ID || payment.Allocations[0].AppliedCents != 55000 {
		t.Fatalf("oldest sale should absorb 55000 first, got %+v", payment.Allocations[0])
	}
	if payment.Allocations[1].ObligationID != saleNew.ID || payment.Allocations[1].AppliedCents != 35000 {
		t.Fatalf("newest sale should take the remainder, got %+v", payment.Allocations[1])
	}
	if len(remaining) != 1 || remaining[0].ID != saleNew.ID || remaining[0].DueCents() != 100000 {
		t.Fatalf("unexpected remaining obligations: %+v", remaining)
	}

	got, err := s.GetSaleByID(ctx, saleOld.ID)
	if err != nil {
		t.Fatalf("get old sale: %v", err)
	}
	if got.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("old sale should be paid, got %s", got.PaymentStatus)
	}
}
