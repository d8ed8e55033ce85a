package domain

import "time"

// AuditFields carries the identity and bookkeeping columns shared by every
// persisted entity. Soft delete is expressed by a non-nil DeletedAt.
type AuditFields struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

type PhoneStatus string

const (
	PhoneInStock      PhoneStatus = "in_stock"
	PhoneInRepair     PhoneStatus = "in_repair"
	PhoneReadyForSale PhoneStatus = "ready_for_sale"
	PhoneSold         PhoneStatus = "sold"
	PhoneReturned     PhoneStatus = "returned"
)

type RepairStatus string

const (
	RepairPending    RepairStatus = "pending"
	RepairInProgress RepairStatus = "in_progress"
	RepairCompleted  RepairStatus = "completed"
	RepairCancelled  RepairStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// PaymentStatusFor is the single derivation point for an obligation's payment
// state. It is a pure function of the paid amount against the principal and is
// never stored independently of that relationship.
func PaymentStatusFor(paidCents int64, principalCents int64) PaymentStatus {
	switch {
	case paidCents >= principalCents:
		return PaymentPaid
	case paidCents == 0:
		return PaymentUnpaid
	default:
		return PaymentPartial
	}
}

type DebtorType string

const (
	DebtorCustomer DebtorType = "customer"
	DebtorSupplier DebtorType = "supplier"
)

// Phone is one unit of resale stock. AcquisitionCostCents is fixed at purchase;
// AccumulatedCostCents grows by the cost of each completed repair and never
// decreases.
type Phone struct {
	AuditFields
	PurchaseID           string      `json:"purchase_id"`
	Brand                string      `json:"brand"`
	Model                string      `json:"model"`
	IMEI                 string      `json:"imei"`
	Condition            string      `json:"condition"`
	AcquisitionCostCents int64       `json:"acquisition_cost_cents"`
	AccumulatedCostCents int64       `json:"accumulated_cost_cents"`
	Status               PhoneStatus `json:"status"`
}

type RepairJob struct {
	AuditFields
	PhoneID        string       `json:"phone_id"`
	CostCents      int64        `json:"cost_cents"`
	Description    string       `json:"description"`
	Status         RepairStatus `json:"status"`
	CompletionNote string       `json:"completion_note,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// PurchaseItem describes one phone bought in an acquisition.
type PurchaseItem struct {
	PhoneID   string `json:"phone_id"`
	Brand     string `json:"brand"`
	Model     string `json:"model"`
	IMEI      string `json:"imei"`
	Condition string `json:"condition"`
	CostCents int64  `json:"cost_cents"`
}

// Purchase is the money side of an acquisition: an obligation owed to a
// supplier with principal TotalCents and running PaidCents.
type Purchase struct {
	AuditFields
	SupplierID    string         `json:"supplier_id"`
	TotalCents    int64          `json:"total_cents"`
	PaidCents     int64          `json:"paid_cents"`
	PaymentStatus PaymentStatus  `json:"payment_status"`
	Credit        bool           `json:"credit"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Items         []PurchaseItem `json:"items"`
}

// OutstandingCents is the amount still owed to the supplier.
func (p Purchase) OutstandingCents() int64 {
	return p.TotalCents - p.PaidCents
}

// Sale is an obligation owed by a customer. CustomerID is nil for anonymous
// pay-now sales; a credit sale always has a customer.
type Sale struct {
	AuditFields
	PhoneID       string        `json:"phone_id"`
	CustomerID    *string       `json:"customer_id,omitempty"`
	PriceCents    int64         `json:"price_cents"`
	PaidCents     int64         `json:"paid_cents"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Credit        bool          `json:"credit"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// OutstandingCents is the amount still owed on the sale. Derived, never stored.
func (s Sale) OutstandingCents() int64 {
	return s.PriceCents - s.PaidCents
}

// ProfitCents is the margin realized against the unit's accumulated cost.
// Derived, never stored.
func (s Sale) ProfitCents(phone Phone) int64 {
	return s.PriceCents - phone.AccumulatedCostCents
}

type ObligationKind string

const (
	ObligationSale     ObligationKind = "sale"
	ObligationPurchase ObligationKind = "purchase"
)

// Obligation is the shared projection of a Sale or Purchase consumed by the
// settlement engine: principal, paid so far, and the chronological ordering key.
type Obligation struct {
	ID             string         `json:"id"`
	Kind           ObligationKind `json:"kind"`
	PrincipalCents int64          `json:"principal_cents"`
	PaidCents      int64          `json:"paid_cents"`
	PaymentStatus  PaymentStatus  `json:"payment_status"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

func (o Obligation) DueCents() int64 {
	return o.PrincipalCents - o.PaidCents
}

// PaymentAllocation records how much of a payment landed on one obligation.
type PaymentAllocation struct {
	ObligationID string         `json:"obligation_id"`
	Kind         ObligationKind `json:"kind"`
	AppliedCents int64          `json:"applied_cents"`
	NewPaidCents int64          `json:"new_paid_cents"`
	NewStatus    PaymentStatus  `json:"new_status"`
}

// Payment is the append-only audit record of one settlement run. It is never
// mutated after creation.
type Payment struct {
	AuditFields
	DebtorType  DebtorType          `json:"debtor_type"`
	DebtorID    string              `json:"debtor_id"`
	AmountCents int64               `json:"amount_cents"`
	Method      string              `json:"method"`
	OccurredAt  time.Time           `json:"occurred_at"`
	Allocations []PaymentAllocation `json:"allocations"`
}

type Customer struct {
	AuditFields
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Supplier struct {
	AuditFields
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type AcquisitionItemRequest struct {
	Brand     string `json:"brand"`
	Model     string `json:"model"`
	IMEI      string `json:"imei"`
	Condition string `json:"condition"`
	CostCents int64  `json:"cost_cents"`
}

type AcquisitionCreateRequest struct {
	SupplierID string                   `json:"supplier_id"`
	PaidCents  int64                    `json:"paid_cents"`
	Credit     bool                     `json:"credit"`
	Items      []AcquisitionItemRequest `json:"items"`
}

type AcquisitionResponse struct {
	Purchase Purchase `json:"purchase"`
	Phones   []Phone  `json:"phones"`
}

type RepairStartRequest struct {
	PhoneID     string `json:"phone_id"`
	CostCents   int64  `json:"cost_cents"`
	Description string `json:"description"`
}

type RepairCompleteRequest struct {
	CompletionNote string `json:"completion_note"`
}

type RepairJobResponse struct {
	RepairJob RepairJob `json:"repair_job"`
	Phone     Phone     `json:"phone"`
}

type SaleCreateRequest struct {
	PhoneID    string  `json:"phone_id"`
	CustomerID *string `json:"customer_id,omitempty"`
	PriceCents int64   `json:"price_cents"`
	PaidCents  int64   `json:"paid_cents"`
	Credit     bool    `json:"credit"`
}

type SaleResponse struct {
	Sale        Sale  `json:"sale"`
	Phone       Phone `json:"phone"`
	ProfitCents int64 `json:"profit_cents"`
}

type SettlementRequest struct {
	DebtorType  DebtorType `json:"debtor_type"`
	DebtorID    string     `json:"debtor_id"`
	AmountCents int64      `json:"amount_cents"`
	Method      string     `json:"method"`
}

type SettlementResponse struct {
	Payment     Payment      `json:"payment"`
	Obligations []Obligation `json:"obligations"`
}

type PhoneDetailResponse struct {
	Phone       Phone       `json:"phone"`
	RepairJobs  []RepairJob `json:"repair_jobs"`
	Sale        *Sale       `json:"sale,omitempty"`
	ProfitCents *int64      `json:"profit_cents,omitempty"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// DebtorStatement is the read-side projection of a debtor's open obligations.
type DebtorStatement struct {
	DebtorType       DebtorType   `json:"debtor_type"`
	DebtorID         string       `json:"debtor_id"`
	Open             []Obligation `json:"open"`
	OutstandingCents int64        `json:"outstanding_cents"`
	GeneratedAt      string       `json:"generated_at"`
}

type SalesReport struct {
	From         string `json:"from"`
	To           string `json:"to"`
	UnitsSold    int64  `json:"units_sold"`
	RevenueCents int64  `json:"revenue_cents"`
	CostCents    int64  `json:"cost_cents"`
	ProfitCents  int64  `json:"profit_cents"`
}
