package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"kasirponsel/backend/internal/cache"
	"kasirponsel/backend/internal/domain"
	"kasirponsel/backend/internal/settlement"
	"kasirponsel/backend/internal/store"
	"kasirponsel/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service coordinates the stores behind the business operations. Atomicity
// lives in the repository; the service owns request shaping, authorization,
// audit logging, and the statement cache.
type Service struct {
	repo         store.Repository
	statements   cache.StatementCache
	statementTTL time.Duration
}

func New(repo store.Repository, statements cache.StatementCache, statementTTL time.Duration) *Service {
	if statements == nil {
		statements = cache.NoopStatementCache{}
	}
	if statementTTL < time.Second {
		statementTTL = 30 * time.Second
	}

	return &Service{
		repo:         repo,
		statements:   statements,
		statementTTL: statementTTL,
	}
}

func (s *Service) CreateAcquisition(ctx context.Context, req domain.AcquisitionCreateRequest) (domain.AcquisitionResponse, error) {
	if len(req.Items) == 0 {
		return domain.AcquisitionResponse{}, fmt.Errorf("%w: acquisition requires at least one item", store.ErrValidation)
	}

	items := make([]domain.PurchaseItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.PurchaseItem{
			Brand:     strings.TrimSpace(item.Brand),
			Model:     strings.TrimSpace(item.Model),
			IMEI:      strings.TrimSpace(item.IMEI),
			Condition: strings.TrimSpace(item.Condition),
			CostCents: item.CostCents,
		})
	}
	for _, item := range items {
		if item.Brand == "" || item.Model == "" || item.IMEI == "" {
			return domain.AcquisitionResponse{}, fmt.Errorf("%w: item requires brand, model and imei", store.ErrValidation)
		}
	}

	purchase, phones, err := s.repo.CreateAcquisition(ctx, domain.Purchase{
		SupplierID: strings.TrimSpace(req.SupplierID),
		PaidCents:  req.PaidCents,
		Credit:     req.Credit,
		Items:      items,
	})
	if err != nil {
		return domain.AcquisitionResponse{}, err
	}

	s.logAudit(ctx, "acquisition_create", "purchase", purchase.ID,
		fmt.Sprintf("supplier=%s,total=%d,paid=%d,units=%d", purchase.SupplierID, purchase.TotalCents, purchase.PaidCents, len(phones)))
	s.invalidateStatement(ctx, domain.DebtorSupplier, purchase.SupplierID)

	return domain.AcquisitionResponse{Purchase: *purchase, Phones: phones}, nil
}

func (s *Service) ListPurchases(ctx context.Context, supplierID string, limit int) ([]domain.Purchase, error) {
	return s.repo.ListPurchases(ctx, strings.TrimSpace(supplierID), limit)
}

func (s *Service) GetPurchase(ctx context.Context, id string) (domain.Purchase, error) {
	purchase, err := s.repo.GetPurchaseByID(ctx, id)
	if err != nil {
		return domain.Purchase{}, err
	}
	return *purchase, nil
}

func (s *Service) ListPhones(ctx context.Context, status string, limit int) ([]domain.Phone, error) {
	return s.repo.ListPhones(ctx, domain.PhoneStatus(strings.TrimSpace(status)), limit)
}

func (s *Service) GetPhoneDetail(ctx context.Context, phoneID string) (domain.PhoneDetailResponse, error) {
	phone, err := s.repo.GetPhoneByID(ctx, phoneID)
	if err != nil {
		return domain.PhoneDetailResponse{}, err
	}
	jobs, err := s.repo.ListRepairJobs(ctx, phoneID, 0)
	if err != nil {
		return domain.PhoneDetailResponse{}, err
	}

	detail := domain.PhoneDetailResponse{Phone: *phone, RepairJobs: jobs}
	sale, err := s.repo.GetSaleByPhoneID(ctx, phoneID)
	switch {
	case err == nil:
		profit := sale.ProfitCents(*phone)
		detail.Sale = sale
		detail.ProfitCents = &profit
	case errors.Is(err, store.ErrNotFound):
		// Unsold unit, nothing to attach.
	default:
		return domain.PhoneDetailResponse{}, err
	}
	return detail, nil
}

func (s *Service) DeletePhone(ctx context.Context, phoneID string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	if err := s.repo.DeletePhone(ctx, phoneID, time.Now().UTC()); err != nil {
		return err
	}
	s.logAudit(ctx, "phone_delete", "phone", phoneID, "")
	return nil
}

func (s *Service) StartRepair(ctx context.Context, req domain.RepairStartRequest) (domain.RepairJobResponse, error) {
	job, phone, err := s.repo.CreateRepairJob(ctx, domain.RepairJob{
		PhoneID:     strings.TrimSpace(req.PhoneID),
		CostCents:   req.CostCents,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		return domain.RepairJobResponse{}, err
	}

	s.logAudit(ctx, "repair_start", "repair_job", job.ID,
		fmt.Sprintf("phone=%s,cost=%d", job.PhoneID, job.CostCents))
	return domain.RepairJobResponse{RepairJob: *job, Phone: *phone}, nil
}

func (s *Service) MarkRepairInProgress(ctx context.Context, jobID string) (domain.RepairJob, error) {
	job, err := s.repo.MarkRepairInProgress(ctx, jobID)
	if err != nil {
		return domain.RepairJob{}, err
	}
	s.logAudit(ctx, "repair_in_progress", "repair_job", job.ID, "")
	return *job, nil
}

func (s *Service) CompleteRepair(ctx context.Context, jobID string, req domain.RepairCompleteRequest) (domain.RepairJobResponse, error) {
	job, phone, err := s.repo.CompleteRepair(ctx, jobID, strings.TrimSpace(req.CompletionNote), time.Now().UTC())
	if err != nil {
		return domain.RepairJobResponse{}, err
	}

	s.logAudit(ctx, "repair_complete", "repair_job", job.ID,
		fmt.Sprintf("phone=%s,cost=%d,accumulated=%d", job.PhoneID, job.CostCents, phone.AccumulatedCostCents))
	return domain.RepairJobResponse{RepairJob: *job, Phone: *phone}, nil
}

func (s *Service) CancelRepair(ctx context.Context, jobID string) (domain.RepairJobResponse, error) {
	job, phone, err := s.repo.CancelRepair(ctx, jobID, time.Now().UTC())
	if err != nil {
		return domain.RepairJobResponse{}, err
	}

	s.logAudit(ctx, "repair_cancel", "repair_job", job.ID, fmt.Sprintf("phone=%s", job.PhoneID))
	return domain.RepairJobResponse{RepairJob: *job, Phone: *phone}, nil
}

func (s *Service) ListRepairJobs(ctx context.Context, phoneID string, limit int) ([]domain.RepairJob, error) {
	return s.repo.ListRepairJobs(ctx, strings.TrimSpace(phoneID), limit)
}

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	sale := domain.Sale{
		PhoneID:    strings.TrimSpace(req.PhoneID),
		CustomerID: req.CustomerID,
		PriceCents: req.PriceCents,
		PaidCents:  req.PaidCents,
		Credit:     req.Credit,
	}
	created, phone, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, "sale_create", "sale", created.ID,
		fmt.Sprintf("phone=%s,price=%d,paid=%d,credit=%t", created.PhoneID, created.PriceCents, created.PaidCents, created.Credit))
	if created.CustomerID != nil {
		s.invalidateStatement(ctx, domain.DebtorCustomer, *created.CustomerID)
	}

	return domain.SaleResponse{
		Sale:        *created,
		Phone:       *phone,
		ProfitCents: created.ProfitCents(*phone),
	}, nil
}

func (s *Service) ListSales(ctx context.Context, customerID string, limit int) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, strings.TrimSpace(customerID), limit)
}

func (s *Service) ApplySettlement(ctx context.Context, req domain.SettlementRequest) (domain.SettlementResponse, error) {
	payment, remaining, err := s.repo.ApplySettlement(ctx, domain.Payment{
		DebtorType:  req.DebtorType,
		DebtorID:    strings.TrimSpace(req.DebtorID),
		AmountCents: req.AmountCents,
		Method:      strings.TrimSpace(req.Method),
	})
	if err != nil {
		return domain.SettlementResponse{}, err
	}

	s.logAudit(ctx, "settlement_apply", "payment", payment.ID,
		fmt.Sprintf("debtor=%s/%s,amount=%d,allocations=%d", payment.DebtorType, payment.DebtorID, payment.AmountCents, len(payment.Allocations)))
	s.invalidateStatement(ctx, payment.DebtorType, payment.DebtorID)

	return domain.SettlementResponse{Payment: *payment, Obligations: remaining}, nil
}

func (s *Service) ListPayments(ctx context.Context, debtorType string, debtorID string, limit int) ([]domain.Payment, error) {
	return s.repo.ListPayments(ctx, domain.DebtorType(strings.TrimSpace(debtorType)), strings.TrimSpace(debtorID), limit)
}

// GetDebtorStatement serves from the statement cache when possible. Writes
// invalidate eagerly, so a hit is at worst statementTTL stale after an
// out-of-band database change.
func (s *Service) GetDebtorStatement(ctx context.Context, debtorType domain.DebtorType, debtorID string) (domain.DebtorStatement, error) {
	debtorID = strings.TrimSpace(debtorID)
	if debtorID == "" {
		return domain.DebtorStatement{}, fmt.Errorf("%w: debtor id required", store.ErrValidation)
	}
	if debtorType != domain.DebtorCustomer && debtorType != domain.DebtorSupplier {
		return domain.DebtorStatement{}, fmt.Errorf("%w: unknown debtor type %q", store.ErrValidation, debtorType)
	}

	key := statementCacheKey(debtorType, debtorID)
	if cached, ok, err := s.statements.Get(ctx, key); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: statement cache read failed key=%s: %v", key, err)
	}

	open, err := s.repo.GetOpenObligations(ctx, debtorType, debtorID)
	if err != nil {
		return domain.DebtorStatement{}, err
	}

	statement := domain.DebtorStatement{
		DebtorType:       debtorType,
		DebtorID:         debtorID,
		Open:             open,
		OutstandingCents: settlement.Outstanding(open),
		GeneratedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.statements.Set(ctx, key, &statement, s.statementTTL); err != nil {
		log.Printf("[service] WARN: statement cache write failed key=%s: %v", key, err)
	}
	return statement, nil
}

func (s *Service) SalesReport(ctx context.Context, date string) (domain.SalesReport, error) {
	from, to, err := dayWindow(date)
	if err != nil {
		return domain.SalesReport{}, err
	}
	return s.repo.GetSalesReport(ctx, from, to)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	customer, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:  strings.TrimSpace(req.Name),
		Phone: strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", customer.ID, fmt.Sprintf("name=%s", customer.Name))
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	supplier, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		Name:  strings.TrimSpace(req.Name),
		Phone: strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, "supplier_create", "supplier", supplier.ID, fmt.Sprintf("name=%s", supplier.Name))
	return *supplier, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}

	from, to, err := dayWindow(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// dayWindow resolves a YYYY-MM-DD parameter into a half-open UTC day range.
// Empty means today; anything else must parse.
func dayWindow(date string) (time.Time, time.Time, error) {
	day := time.Now().UTC()
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid date %q", store.ErrValidation, date)
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.Add(24 * time.Hour), nil
}

func statementCacheKey(debtorType domain.DebtorType, debtorID string) string {
	return fmt.Sprintf("statement:%s:%s", debtorType, debtorID)
}

func (s *Service) invalidateStatement(ctx context.Context, debtorType domain.DebtorType, debtorID string) {
	if debtorID == "" {
		return
	}
	key := statementCacheKey(debtorType, debtorID)
	if err := s.statements.Invalidate(ctx, key); err != nil {
		log.Printf("[service] WARN: statement cache invalidate failed key=%s: %v", key, err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s: %v", action, err)
	}
}
