package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirponsel/backend/internal/domain"
	"kasirponsel/backend/internal/lifecycle"
	"kasirponsel/backend/internal/settlement"
	"kasirponsel/backend/internal/store"
	"kasirponsel/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	phonesByID      map[string]domain.Phone
	phoneIDByIMEI   map[string]string
	purchasesByID   map[string]*domain.Purchase
	repairJobsByID  map[string]domain.RepairJob
	salesByID       map[string]*domain.Sale
	saleIDByPhoneID map[string]string
	paymentsByID    map[string]*domain.Payment
	customersByID   map[string]domain.Customer
	suppliersByID   map[string]domain.Supplier
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; hardcoded
// dev defaults with a warning otherwise. The memory backend is never used in
// production (PostgreSQL takes over when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		phonesByID:      make(map[string]domain.Phone),
		phoneIDByIMEI:   make(map[string]string),
		purchasesByID:   make(map[string]*domain.Purchase),
		repairJobsByID:  make(map[string]domain.RepairJob),
		salesByID:       make(map[string]*domain.Sale),
		saleIDByPhoneID: make(map[string]string),
		paymentsByID:    make(map[string]*domain.Payment),
		customersByID:   make(map[string]domain.Customer),
		suppliersByID:   make(map[string]domain.Supplier),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

// NewSeeded returns a store preloaded with a supplier and a customer so the
// dev server is usable immediately after boot.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	supplier := domain.Supplier{
		AuditFields: domain.AuditFields{ID: "sup-seed-01", CreatedAt: now, UpdatedAt: now},
		Name:        "Grosir HP Roxy",
		Phone:       "+62-813-1111-2222",
	}
	customer := domain.Customer{
		AuditFields: domain.AuditFields{ID: "cst-seed-01", CreatedAt: now, UpdatedAt: now},
		Name:        "Budi Santoso",
		Phone:       "+62-812-3333-4444",
	}
	s.suppliersByID[supplier.ID] = supplier
	s.customersByID[customer.ID] = customer
	return s
}

func (s *Store) CreateAcquisition(_ context.Context, purchase domain.Purchase) (*domain.Purchase, []domain.Phone, error) {
	if err := lifecycle.ValidateAcquisition(purchase); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.suppliersByID[purchase.SupplierID]; !exists {
		return nil, nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, purchase.SupplierID)
	}
	seen := make(map[string]bool, len(purchase.Items))
	for _, item := range purchase.Items {
		imei := strings.TrimSpace(item.IMEI)
		if imei == "" {
			return nil, nil, fmt.Errorf("%w: item missing imei", store.ErrValidation)
		}
		if _, exists := s.phoneIDByIMEI[imei]; exists {
			return nil, nil, fmt.Errorf("%w: imei %s already in stock", store.ErrConflict, imei)
		}
		if seen[imei] {
			return nil, nil, fmt.Errorf("%w: imei %s repeated in acquisition", store.ErrConflict, imei)
		}
		seen[imei] = true
	}

	now := time.Now().UTC()
	purchase = lifecycle.NormalizeAcquisition(purchase)
	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.OccurredAt.IsZero() {
		purchase.OccurredAt = now
	}
	purchase.CreatedAt = now
	purchase.UpdatedAt = now

	phones := make([]domain.Phone, 0, len(purchase.Items))
	for i := range purchase.Items {
		item := &purchase.Items[i]
		item.IMEI = strings.TrimSpace(item.IMEI)
		item.PhoneID = xid.New("phn")
		phone := domain.Phone{
			AuditFields:          domain.AuditFields{ID: item.PhoneID, CreatedAt: now, UpdatedAt: now},
			PurchaseID:           purchase.ID,
			Brand:                item.Brand,
			Model:                item.Model,
			IMEI:                 item.IMEI,
			Condition:            item.Condition,
			AcquisitionCostCents: item.CostCents,
			AccumulatedCostCents: item.CostCents,
			Status:               domain.PhoneInStock,
		}
		s.phonesByID[phone.ID] = phone
		s.phoneIDByIMEI[phone.IMEI] = phone.ID
		phones = append(phones, phone)
	}

	s.purchasesByID[purchase.ID] = clonePurchase(&purchase)
	return clonePurchase(s.purchasesByID[purchase.ID]), phones, nil
}

func (s *Store) GetPurchaseByID(_ context.Context, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchase, exists := s.purchasesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return clonePurchase(purchase), nil
}

func (s *Store) ListPurchases(_ context.Context, supplierID string, limit int) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Purchase, 0, len(s.purchasesByID))
	for _, purchase := range s.purchasesByID {
		if supplierID != "" && purchase.SupplierID != supplierID {
			continue
		}
		result = append(result, *clonePurchase(purchase))
	}
	slices.SortFunc(result, func(a, b domain.Purchase) int {
		if a.OccurredAt.Equal(b.OccurredAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.OccurredAt.After(b.OccurredAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetPhoneByID(_ context.Context, id string) (*domain.Phone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	phone, exists := s.phonesByID[id]
	if !exists || phone.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	copyPhone := phone
	return &copyPhone, nil
}

func (s *Store) ListPhones(_ context.Context, status domain.PhoneStatus, limit int) ([]domain.Phone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Phone, 0, len(s.phonesByID))
	for _, phone := range s.phonesByID {
		if phone.DeletedAt != nil {
			continue
		}
		if status != "" && phone.Status != status {
			continue
		}
		result = append(result, phone)
	}
	slices.SortFunc(result, func(a, b domain.Phone) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) DeletePhone(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	phone, exists := s.phonesByID[id]
	if !exists || phone.DeletedAt != nil {
		return store.ErrNotFound
	}

	repairCount := 0
	for _, job := range s.repairJobsByID {
		if job.PhoneID == id {
			repairCount++
		}
	}
	_, hasSale := s.saleIDByPhoneID[id]
	if err := lifecycle.CanDeletePhone(phone, repairCount, hasSale); err != nil {
		return err
	}

	phone.DeletedAt = &at
	phone.UpdatedAt = at
	s.phonesByID[id] = phone
	delete(s.phoneIDByIMEI, phone.IMEI)
	return nil
}

func (s *Store) CreateRepairJob(_ context.Context, job domain.RepairJob) (*domain.RepairJob, *domain.Phone, error) {
	if job.CostCents < 1 {
		return nil, nil, fmt.Errorf("%w: repair cost must be positive", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	phone, exists := s.phonesByID[job.PhoneID]
	if !exists || phone.DeletedAt != nil {
		return nil, nil, store.ErrNotFound
	}
	if err := lifecycle.EnsureCanStartRepair(phone); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = xid.New("rep")
	}
	job.Status = domain.RepairPending
	job.CompletionNote = ""
	job.CompletedAt = nil
	job.CreatedAt = now
	job.UpdatedAt = now

	phone.Status = domain.PhoneInRepair
	phone.UpdatedAt = now
	s.phonesByID[phone.ID] = phone
	s.repairJobsByID[job.ID] = job

	copyJob := job
	copyPhone := phone
	return &copyJob, &copyPhone, nil
}

func (s *Store) GetRepairJobByID(_ context.Context, id string) (*domain.RepairJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.repairJobsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyJob := job
	return &copyJob, nil
}

func (s *Store) ListRepairJobs(_ context.Context, phoneID string, limit int) ([]domain.RepairJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.RepairJob, 0, 16)
	for _, job := range s.repairJobsByID {
		if phoneID != "" && job.PhoneID != phoneID {
			continue
		}
		result = append(result, job)
	}
	slices.SortFunc(result, func(a, b domain.RepairJob) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) MarkRepairInProgress(_ context.Context, jobID string) (*domain.RepairJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.repairJobsByID[jobID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if err := lifecycle.EnsureRepairPending(job); err != nil {
		return nil, err
	}
	job.Status = domain.RepairInProgress
	job.UpdatedAt = time.Now().UTC()
	s.repairJobsByID[jobID] = job
	copyJob := job
	return &copyJob, nil
}

func (s *Store) CompleteRepair(_ context.Context, jobID string, note string, at time.Time) (*domain.RepairJob, *domain.Phone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.repairJobsByID[jobID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}
	if err := lifecycle.EnsureRepairOpen(job); err != nil {
		return nil, nil, err
	}
	phone, exists := s.phonesByID[job.PhoneID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}

	job.Status = domain.RepairCompleted
	job.CompletionNote = note
	job.CompletedAt = &at
	job.UpdatedAt = at
	s.repairJobsByID[jobID] = job

	phone = lifecycle.CompleteRepair(phone, job)
	phone.UpdatedAt = at
	s.phonesByID[phone.ID] = phone

	copyJob := job
	copyPhone := phone
	return &copyJob, &copyPhone, nil
}

func (s *Store) CancelRepair(_ context.Context, jobID string, at time.Time) (*domain.RepairJob, *domain.Phone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.repairJobsByID[jobID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}
	if err := lifecycle.EnsureRepairOpen(job); err != nil {
		return nil, nil, err
	}
	phone, exists := s.phonesByID[job.PhoneID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}

	job.Status = domain.RepairCancelled
	job.UpdatedAt = at
	s.repairJobsByID[jobID] = job

	otherActive := 0
	for _, other := range s.repairJobsByID {
		if other.PhoneID == phone.ID && other.ID != job.ID && lifecycle.IsActiveRepair(other.Status) {
			otherActive++
		}
	}
	phone = lifecycle.CancelRepair(phone, otherActive)
	phone.UpdatedAt = at
	s.phonesByID[phone.ID] = phone

	copyJob := job
	copyPhone := phone
	return &copyJob, &copyPhone, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, *domain.Phone, error) {
	if err := lifecycle.ValidateSale(sale); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	phone, exists := s.phonesByID[sale.PhoneID]
	if !exists || phone.DeletedAt != nil {
		return nil, nil, store.ErrNotFound
	}
	if err := lifecycle.EnsureCanSell(phone); err != nil {
		return nil, nil, err
	}
	if sale.CustomerID != nil && *sale.CustomerID != "" {
		if _, exists := s.customersByID[*sale.CustomerID]; !exists {
			return nil, nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, *sale.CustomerID)
		}
	}

	now := time.Now().UTC()
	sale = lifecycle.NormalizeSale(sale)
	if sale.ID == "" {
		sale.ID = xid.New("sle")
	}
	if sale.OccurredAt.IsZero() {
		sale.OccurredAt = now
	}
	sale.CreatedAt = now
	sale.UpdatedAt = now

	phone.Status = domain.PhoneSold
	phone.UpdatedAt = now
	s.phonesByID[phone.ID] = phone
	s.salesByID[sale.ID] = cloneSale(&sale)
	s.saleIDByPhoneID[sale.PhoneID] = sale.ID

	copyPhone := phone
	return cloneSale(s.salesByID[sale.ID]), &copyPhone, nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) GetSaleByPhoneID(_ context.Context, phoneID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saleID, exists := s.saleIDByPhoneID[phoneID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.salesByID[saleID]), nil
}

func (s *Store) ListSales(_ context.Context, customerID string, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if customerID != "" && (sale.CustomerID == nil || *sale.CustomerID != customerID) {
			continue
		}
		result = append(result, *cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.OccurredAt.Equal(b.OccurredAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.OccurredAt.After(b.OccurredAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ApplySettlement(_ context.Context, payment domain.Payment) (*domain.Payment, []domain.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch payment.DebtorType {
	case domain.DebtorCustomer:
		if _, exists := s.customersByID[payment.DebtorID]; !exists {
			return nil, nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, payment.DebtorID)
		}
	case domain.DebtorSupplier:
		if _, exists := s.suppliersByID[payment.DebtorID]; !exists {
			return nil, nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, payment.DebtorID)
		}
	default:
		return nil, nil, fmt.Errorf("%w: unknown debtor type %q", store.ErrValidation, payment.DebtorType)
	}

	open := s.openObligationsLocked(payment.DebtorType, payment.DebtorID)
	allocations, err := settlement.Plan(open, payment.AmountCents)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	for _, alloc := range allocations {
		switch alloc.Kind {
		case domain.ObligationSale:
			sale := s.salesByID[alloc.ObligationID]
			sale.PaidCents = alloc.NewPaidCents
			sale.PaymentStatus = alloc.NewStatus
			sale.UpdatedAt = now
		case domain.ObligationPurchase:
			purchase := s.purchasesByID[alloc.ObligationID]
			purchase.PaidCents = alloc.NewPaidCents
			purchase.PaymentStatus = alloc.NewStatus
			purchase.UpdatedAt = now
		}
	}

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.OccurredAt.IsZero() {
		payment.OccurredAt = now
	}
	payment.CreatedAt = now
	payment.UpdatedAt = now
	payment.Allocations = allocations
	s.paymentsByID[payment.ID] = clonePayment(&payment)

	remaining := s.openObligationsLocked(payment.DebtorType, payment.DebtorID)
	settlement.SortObligations(remaining)
	return clonePayment(s.paymentsByID[payment.ID]), remaining, nil
}

func (s *Store) GetOpenObligations(_ context.Context, debtorType domain.DebtorType, debtorID string) ([]domain.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	open := s.openObligationsLocked(debtorType, debtorID)
	settlement.SortObligations(open)
	return open, nil
}

// openObligationsLocked projects the debtor's unsettled sales or purchases.
// Callers must hold at least the read lock.
func (s *Store) openObligationsLocked(debtorType domain.DebtorType, debtorID string) []domain.Obligation {
	open := make([]domain.Obligation, 0, 8)
	switch debtorType {
	case domain.DebtorCustomer:
		for _, sale := range s.salesByID {
			if sale.CustomerID == nil || *sale.CustomerID != debtorID {
				continue
			}
			if sale.OutstandingCents() < 1 {
				continue
			}
			open = append(open, domain.Obligation{
				ID:             sale.ID,
				Kind:           domain.ObligationSale,
				PrincipalCents: sale.PriceCents,
				PaidCents:      sale.PaidCents,
				PaymentStatus:  sale.PaymentStatus,
				OccurredAt:     sale.OccurredAt,
			})
		}
	case domain.DebtorSupplier:
		for _, purchase := range s.purchasesByID {
			if purchase.SupplierID != debtorID || purchase.OutstandingCents() < 1 {
				continue
			}
			open = append(open, domain.Obligation{
				ID:             purchase.ID,
				Kind:           domain.ObligationPurchase,
				PrincipalCents: purchase.TotalCents,
				PaidCents:      purchase.PaidCents,
				PaymentStatus:  purchase.PaymentStatus,
				OccurredAt:     purchase.OccurredAt,
			})
		}
	}
	return open
}

func (s *Store) ListPayments(_ context.Context, debtorType domain.DebtorType, debtorID string, limit int) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Payment, 0, len(s.paymentsByID))
	for _, payment := range s.paymentsByID {
		if debtorType != "" && payment.DebtorType != debtorType {
			continue
		}
		if debtorID != "" && payment.DebtorID != debtorID {
			continue
		}
		result = append(result, *clonePayment(payment))
	}
	slices.SortFunc(result, func(a, b domain.Payment) int {
		if a.OccurredAt.Equal(b.OccurredAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.OccurredAt.After(b.OccurredAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetSalesReport(_ context.Context, from time.Time, to time.Time) (domain.SalesReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.SalesReport{
		From: from.UTC().Format(time.RFC3339),
		To:   to.UTC().Format(time.RFC3339),
	}
	for _, sale := range s.salesByID {
		if sale.OccurredAt.Before(from) || !sale.OccurredAt.Before(to) {
			continue
		}
		phone, exists := s.phonesByID[sale.PhoneID]
		if !exists {
			continue
		}
		report.UnitsSold++
		report.RevenueCents += sale.PriceCents
		report.CostCents += phone.AccumulatedCostCents
	}
	report.ProfitCents = report.RevenueCents - report.CostCents
	return report, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" {
		return nil, fmt.Errorf("%w: customer name required", store.ErrValidation)
	}
	now := time.Now().UTC()
	if customer.ID == "" {
		customer.ID = xid.New("cst")
	}
	customer.CreatedAt = now
	customer.UpdatedAt = now

	s.customersByID[customer.ID] = customer
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, customer := range s.customersByID {
		customers = append(customers, customer)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.Name, b.Name)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return customers, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return nil, fmt.Errorf("%w: supplier name required", store.ErrValidation)
	}
	now := time.Now().UTC()
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	supplier.CreatedAt = now
	supplier.UpdatedAt = now

	s.suppliersByID[supplier.ID] = supplier
	copySupplier := supplier
	return &copySupplier, nil
}

func (s *Store) GetSupplierByID(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, exists := s.suppliersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySupplier := supplier
	return &copySupplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, supplier := range s.suppliersByID {
		suppliers = append(suppliers, supplier)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.Name, b.Name)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return suppliers, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "staff"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func clonePurchase(src *domain.Purchase) *domain.Purchase {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.PurchaseItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return &dup
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	if src.CustomerID != nil {
		customerID := *src.CustomerID
		dup.CustomerID = &customerID
	}
	return &dup
}

func clonePayment(src *domain.Payment) *domain.Payment {
	if src == nil {
		return nil
	}
	dup := *src
	allocations := make([]domain.PaymentAllocation, len(src.Allocations))
	copy(allocations, src.Allocations)
	dup.Allocations = allocations
	return &dup
}
