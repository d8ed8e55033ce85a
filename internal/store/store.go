package store

import (
	"context"
	"errors"
	"time"

	"kasirponsel/backend/internal/domain"
)

// Sentinel errors form the stable failure taxonomy of the core. Callers branch
// on these with errors.Is, never on message text.
var (
	ErrNotFound                 = errors.New("not found")
	ErrInvalidTransition        = errors.New("invalid lifecycle transition")
	ErrValidation               = errors.New("validation failed")
	ErrNoOutstandingObligations = errors.New("no outstanding obligations")
	ErrOverAllocation           = errors.New("payment exceeds outstanding debt")
	ErrConflict                 = errors.New("concurrent write conflict")
)

// Repository is the unit-of-work boundary of the core. Every mutating method
// runs as one atomic transaction: it loads the affected entities, applies the
// lifecycle/settlement rules, and either persists all resulting writes or none.
type Repository interface {
	CreateAcquisition(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, []domain.Phone, error)
	GetPurchaseByID(ctx context.Context, id string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, supplierID string, limit int) ([]domain.Purchase, error)

	GetPhoneByID(ctx context.Context, id string) (*domain.Phone, error)
	ListPhones(ctx context.Context, status domain.PhoneStatus, limit int) ([]domain.Phone, error)
	DeletePhone(ctx context.Context, id string, at time.Time) error

	CreateRepairJob(ctx context.Context, job domain.RepairJob) (*domain.RepairJob, *domain.Phone, error)
	GetRepairJobByID(ctx context.Context, id string) (*domain.RepairJob, error)
	ListRepairJobs(ctx context.Context, phoneID string, limit int) ([]domain.RepairJob, error)
	MarkRepairInProgress(ctx context.Context, jobID string) (*domain.RepairJob, error)
	CompleteRepair(ctx context.Context, jobID string, note string, at time.Time) (*domain.RepairJob, *domain.Phone, error)
	CancelRepair(ctx context.Context, jobID string, at time.Time) (*domain.RepairJob, *domain.Phone, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, *domain.Phone, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	GetSaleByPhoneID(ctx context.Context, phoneID string) (*domain.Sale, error)
	ListSales(ctx context.Context, customerID string, limit int) ([]domain.Sale, error)

	ApplySettlement(ctx context.Context, payment domain.Payment) (*domain.Payment, []domain.Obligation, error)
	GetOpenObligations(ctx context.Context, debtorType domain.DebtorType, debtorID string) ([]domain.Obligation, error)
	ListPayments(ctx context.Context, debtorType domain.DebtorType, debtorID string, limit int) ([]domain.Payment, error)

	GetSalesReport(ctx context.Context, from time.Time, to time.Time) (domain.SalesReport, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplierByID(ctx context.Context, id string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
