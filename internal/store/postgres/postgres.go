package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirponsel/backend/internal/domain"
	"kasirponsel/backend/internal/lifecycle"
	"kasirponsel/backend/internal/settlement"
	"kasirponsel/backend/internal/store"
	"kasirponsel/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateAcquisition(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, []domain.Phone, error) {
	if err := lifecycle.ValidateAcquisition(purchase); err != nil {
		return nil, nil, err
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var supplierID string
	err = pgTx.QueryRowContext(ctx, `
		SELECT id FROM suppliers WHERE id = $1
	`, purchase.SupplierID).Scan(&supplierID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, purchase.SupplierID)
		}
		return nil, nil, err
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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO purchases (id, supplier_id, total_cents, paid_cents, payment_status, credit, occurred_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, purchase.ID, purchase.SupplierID, purchase.TotalCents, purchase.PaidCents,
		purchase.PaymentStatus, purchase.Credit, purchase.OccurredAt, purchase.CreatedAt, purchase.UpdatedAt)
	if err != nil {
		return nil, nil, err
	}

	phones := make([]domain.Phone, 0, len(purchase.Items))
	for i := range purchase.Items {
		item := &purchase.Items[i]
		item.IMEI = strings.TrimSpace(item.IMEI)
		if item.IMEI == "" {
			return nil, nil, fmt.Errorf("%w: item missing imei", store.ErrValidation)
		}
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
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO phones (id, purchase_id, brand, model, imei, condition, acquisition_cost_cents, accumulated_cost_cents, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, phone.ID, phone.PurchaseID, phone.Brand, phone.Model, phone.IMEI, nullIfEmpty(phone.Condition),
			phone.AcquisitionCostCents, phone.AccumulatedCostCents, phone.Status, phone.CreatedAt, phone.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, nil, fmt.Errorf("%w: imei %s already in stock", store.ErrConflict, phone.IMEI)
			}
			return nil, nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO purchase_items (purchase_id, phone_id, brand, model, imei, condition, cost_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, purchase.ID, item.PhoneID, item.Brand, item.Model, item.IMEI, nullIfEmpty(item.Condition), item.CostCents)
		if err != nil {
			return nil, nil, err
		}
		phones = append(phones, phone)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}
	return &purchase, phones, nil
}

func (s *Store) GetPurchaseByID(ctx context.Context, id string) (*domain.Purchase, error) {
	purchase, err := scanPurchase(s.db.QueryRowContext(ctx, `
		SELECT id, supplier_id, total_cents, paid_cents, payment_status, credit, occurred_at, created_at, updated_at
		FROM purchases
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, err
	}
	items, err := s.listPurchaseItems(ctx, id)
	if err != nil {
		return nil, err
	}
	purchase.Items = items
	return purchase, nil
}

func (s *Store) ListPurchases(ctx context.Context, supplierID string, limit int) ([]domain.Purchase, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, supplier_id, total_cents, paid_cents, payment_status, credit, occurred_at, created_at, updated_at
		FROM purchases
		WHERE ($1 = '' OR supplier_id = $1)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`, supplierID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := make([]domain.Purchase, 0, limit)
	for rows.Next() {
		purchase, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, *purchase)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range purchases {
		items, err := s.listPurchaseItems(ctx, purchases[i].ID)
		if err != nil {
			return nil, err
		}
		purchases[i].Items = items
	}
	return purchases, nil
}

func (s *Store) listPurchaseItems(ctx context.Context, purchaseID string) ([]domain.PurchaseItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phone_id, brand, model, imei, condition, cost_cents
		FROM purchase_items
		WHERE purchase_id = $1
		ORDER BY phone_id
	`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.PurchaseItem, 0, 4)
	for rows.Next() {
		var item domain.PurchaseItem
		var condition sql.NullString
		if err := rows.Scan(&item.PhoneID, &item.Brand, &item.Model, &item.IMEI, &condition, &item.CostCents); err != nil {
			return nil, err
		}
		item.Condition = condition.String
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) GetPhoneByID(ctx context.Context, id string) (*domain.Phone, error) {
	return scanPhone(s.db.QueryRowContext(ctx, `
		SELECT id, purchase_id, brand, model, imei, condition, acquisition_cost_cents, accumulated_cost_cents, status, created_at, updated_at, deleted_at
		FROM phones
		WHERE id = $1 AND deleted_at IS NULL
	`, id))
}

func (s *Store) ListPhones(ctx context.Context, status domain.PhoneStatus, limit int) ([]domain.Phone, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, purchase_id, brand, model, imei, condition, acquisition_cost_cents, accumulated_cost_cents, status, created_at, updated_at, deleted_at
		FROM phones
		WHERE deleted_at IS NULL AND ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	phones := make([]domain.Phone, 0, limit)
	for rows.Next() {
		phone, err := scanPhone(rows)
		if err != nil {
			return nil, err
		}
		phones = append(phones, *phone)
	}
	return phones, rows.Err()
}

func (s *Store) DeletePhone(ctx context.Context, id string, at time.Time) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	phone, err := scanPhone(pgTx.QueryRowContext(ctx, `
		SELECT id, purchase_id, brand, model, imei, condition, acquisition_cost_cents, accumulated_cost_cents, status, created_at, updated_at, deleted_at
		FROM phones
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id))
	if err != nil {
		return err
	}

	var repairCount int
	if err := pgTx.QueryRowContext(ctx, `
		SELECT count(*) FROM repair_jobs WHERE phone_id = $1
	`, id).Scan(&repairCount); err != nil {
		return err
	}
	var saleCount int
	if err := pgTx.QueryRowContext(ctx, `
		SELECT count(*) FROM sales WHERE phone_id = $1
	`, id).Scan(&saleCount); err != nil {
		return err
	}
	if err := lifecycle.CanDeletePhone(*phone, repairCount, saleCount > 0); err != nil {
		return err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE phones SET deleted_at = $2, updated_at = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	return pgTx.Commit()
}

func (s *Store) CreateRepairJob(ctx context.Context, job domain.RepairJob) (*domain.RepairJob, *domain.Phone, error) {
	if job.CostCents < 1 {
		return nil, nil, fmt.Errorf("%w: repair cost must be positive", store.ErrValidation)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	phone, err := lockPhone(ctx, pgTx, job.PhoneID)
	if err != nil {
		return nil, nil, err
	}
	if err := lifecycle.EnsureCanStartRepair(*phone); err != nil {
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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO repair_jobs (id, phone_id, cost_cents, description, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, job.ID, job.PhoneID, job.CostCents, job.Description, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return nil, nil, err
	}

	phone.Status = domain.PhoneInRepair
	phone.UpdatedAt = now
	if err := updatePhone(ctx, pgTx, *phone); err != nil {
		return nil, nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}
	return &job, phone, nil
}

func (s *Store) GetRepairJobByID(ctx context.Context, id string) (*domain.RepairJob, error) {
	return scanRepairJob(s.db.QueryRowContext(ctx, `
		SELECT id, phone_id, cost_cents, description, status, completion_note, completed_at, created_at, updated_at
		FROM repair_jobs
		WHERE id = $1
	`, id))
}

func (s *Store) ListRepairJobs(ctx context.Context, phoneID string, limit int) ([]domain.RepairJob, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phone_id, cost_cents, description, status, completion_note, completed_at, created_at, updated_at
		FROM repair_jobs
		WHERE ($1 = '' OR phone_id = $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, phoneID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]domain.RepairJob, 0, limit)
	for rows.Next() {
		job, err := scanRepairJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *Store) MarkRepairInProgress(ctx context.Context, jobID string) (*domain.RepairJob, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	job, err := lockRepairJob(ctx, pgTx, jobID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.EnsureRepairPending(*job); err != nil {
		return nil, err
	}

	job.Status = domain.RepairInProgress
	job.UpdatedAt = time.Now().UTC()
	_, err = pgTx.ExecContext(ctx, `
		UPDATE repair_jobs SET status = $2, updated_at = $3 WHERE id = $1
	`, job.ID, job.Status, job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Store) CompleteRepair(ctx context.Context, jobID string, note string, at time.Time) (*domain.RepairJob, *domain.Phone, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	job, err := lockRepairJob(ctx, pgTx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if err := lifecycle.EnsureRepairOpen(*job); err != nil {
		return nil, nil, err
	}
	phone, err := lockPhone(ctx, pgTx, job.PhoneID)
	if err != nil {
		return nil, nil, err
	}

	job.Status = domain.RepairCompleted
	job.CompletionNote = note
	job.CompletedAt = &at
	job.UpdatedAt = at
	_, err = pgTx.ExecContext(ctx, `
		UPDATE repair_jobs SET status = $2, completion_note = $3, completed_at = $4, updated_at = $4 WHERE id = $1
	`, job.ID, job.Status, nullIfEmpty(job.CompletionNote), at)
	if err != nil {
		return nil, nil, err
	}

	updated := lifecycle.CompleteRepair(*phone, *job)
	updated.UpdatedAt = at
	if err := updatePhone(ctx, pgTx, updated); err != nil {
		return nil, nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}
	return job, &updated, nil
}

func (s *Store) CancelRepair(ctx context.Context, jobID string, at time.Time) (*domain.RepairJob, *domain.Phone, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	job, err := lockRepairJob(ctx, pgTx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if err := lifecycle.EnsureRepairOpen(*job); err != nil {
		return nil, nil, err
	}
	phone, err := lockPhone(ctx, pgTx, job.PhoneID)
	if err != nil {
		return nil, nil, err
	}

	job.Status = domain.RepairCancelled
	job.UpdatedAt = at
	_, err = pgTx.ExecContext(ctx, `
		UPDATE repair_jobs SET status = $2, updated_at = $3 WHERE id = $1
	`, job.ID, job.Status, at)
	if err != nil {
		return nil, nil, err
	}

	var otherActive int
	err = pgTx.QueryRowContext(ctx, `
		SELECT count(*)
		FROM repair_jobs
		WHERE phone_id = $1 AND id <> $2 AND status IN ('pending', 'in_progress')
	`, phone.ID, job.ID).Scan(&otherActive)
	if err != nil {
		return nil, nil, err
	}

	updated := lifecycle.CancelRepair(*phone, otherActive)
	updated.UpdatedAt = at
	if err := updatePhone(ctx, pgTx, updated); err != nil {
		return nil, nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}
	return job, &updated, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, *domain.Phone, error) {
	if err := lifecycle.ValidateSale(sale); err != nil {
		return nil, nil, err
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	phone, err := lockPhone(ctx, pgTx, sale.PhoneID)
	if err != nil {
		return nil, nil, err
	}
	if err := lifecycle.EnsureCanSell(*phone); err != nil {
		return nil, nil, err
	}
	if sale.CustomerID != nil && *sale.CustomerID != "" {
		var customerID string
		err = pgTx.QueryRowContext(ctx, `
			SELECT id FROM customers WHERE id = $1
		`, *sale.CustomerID).Scan(&customerID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, *sale.CustomerID)
			}
			return nil, nil, err
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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, phone_id, customer_id, price_cents, paid_cents, payment_status, credit, occurred_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sale.ID, sale.PhoneID, nullIfEmptyPtr(sale.CustomerID), sale.PriceCents, sale.PaidCents,
		sale.PaymentStatus, sale.Credit, sale.OccurredAt, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, fmt.Errorf("%w: phone %s already has a sale", store.ErrConflict, sale.PhoneID)
		}
		return nil, nil, err
	}

	phone.Status = domain.PhoneSold
	phone.UpdatedAt = now
	if err := updatePhone(ctx, pgTx, *phone); err != nil {
		return nil, nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}
	return &sale, phone, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return scanSale(s.db.QueryRowContext(ctx, `
		SELECT id, phone_id, customer_id, price_cents, paid_cents, payment_status, credit, occurred_at, created_at, updated_at
		FROM sales
		WHERE id = $1
	`, id))
}

func (s *Store) GetSaleByPhoneID(ctx context.Context, phoneID string) (*domain.Sale, error) {
	return scanSale(s.db.QueryRowContext(ctx, `
		SELECT id, phone_id, customer_id, price_cents, paid_cents, payment_status, credit, occurred_at, created_at, updated_at
		FROM sales
		WHERE phone_id = $1
	`, phoneID))
}

func (s *Store) ListSales(ctx context.Context, customerID string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phone_id, customer_id, price_cents, paid_cents, payment_status, credit, occurred_at, created_at, updated_at
		FROM sales
		WHERE ($1 = '' OR customer_id = $1)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, rows.Err()
}

func (s *Store) ApplySettlement(ctx context.Context, payment domain.Payment) (*domain.Payment, []domain.Obligation, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	switch payment.DebtorType {
	case domain.DebtorCustomer:
		var id string
		err = pgTx.QueryRowContext(ctx, `SELECT id FROM customers WHERE id = $1`, payment.DebtorID).Scan(&id)
	case domain.DebtorSupplier:
		var id string
		err = pgTx.QueryRowContext(ctx, `SELECT id FROM suppliers WHERE id = $1`, payment.DebtorID).Scan(&id)
	default:
		return nil, nil, fmt.Errorf("%w: unknown debtor type %q", store.ErrValidation, payment.DebtorType)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: %s %s", store.ErrNotFound, payment.DebtorType, payment.DebtorID)
		}
		return nil, nil, err
	}

	// Row locks on the debtor's open obligations serialize concurrent
	// settlements against the same debtor.
	open, err := lockOpenObligations(ctx, pgTx, payment.DebtorType, payment.DebtorID)
	if err != nil {
		return nil, nil, err
	}

	allocations, err := settlement.Plan(open, payment.AmountCents)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	for _, alloc := range allocations {
		switch alloc.Kind {
		case domain.ObligationSale:
			_, err = pgTx.ExecContext(ctx, `
				UPDATE sales SET paid_cents = $2, payment_status = $3, updated_at = $4 WHERE id = $1
			`, alloc.ObligationID, alloc.NewPaidCents, alloc.NewStatus, now)
		case domain.ObligationPurchase:
			_, err = pgTx.ExecContext(ctx, `
				UPDATE purchases SET paid_cents = $2, payment_status = $3, updated_at = $4 WHERE id = $1
			`, alloc.ObligationID, alloc.NewPaidCents, alloc.NewStatus, now)
		}
		if err != nil {
			return nil, nil, err
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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO payments (id, debtor_type, debtor_id, amount_cents, method, occurred_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, payment.ID, payment.DebtorType, payment.DebtorID, payment.AmountCents,
		nullIfEmpty(payment.Method), payment.OccurredAt, payment.CreatedAt)
	if err != nil {
		return nil, nil, err
	}
	for _, alloc := range allocations {
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO payment_allocations (payment_id, obligation_id, kind, applied_cents, new_paid_cents, new_status)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, payment.ID, alloc.ObligationID, alloc.Kind, alloc.AppliedCents, alloc.NewPaidCents, alloc.NewStatus)
		if err != nil {
			return nil, nil, err
		}
	}

	remaining := applyAllocations(open, allocations)
	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}
	return &payment, remaining, nil
}

// applyAllocations projects the post-settlement obligation set without another
// round trip: the rows were locked, so the in-memory view is authoritative.
func applyAllocations(open []domain.Obligation, allocations []domain.PaymentAllocation) []domain.Obligation {
	byID := make(map[string]domain.PaymentAllocation, len(allocations))
	for _, alloc := range allocations {
		byID[alloc.ObligationID] = alloc
	}
	remaining := make([]domain.Obligation, 0, len(open))
	for _, o := range open {
		if alloc, ok := byID[o.ID]; ok {
			o.PaidCents = alloc.NewPaidCents
			o.PaymentStatus = alloc.NewStatus
		}
		if o.DueCents() < 1 {
			continue
		}
		remaining = append(remaining, o)
	}
	settlement.SortObligations(remaining)
	return remaining
}

func lockOpenObligations(ctx context.Context, pgTx *sql.Tx, debtorType domain.DebtorType, debtorID string) ([]domain.Obligation, error) {
	var query string
	var kind domain.ObligationKind
	switch debtorType {
	case domain.DebtorCustomer:
		kind = domain.ObligationSale
		query = `
			SELECT id, price_cents, paid_cents, payment_status, occurred_at
			FROM sales
			WHERE customer_id = $1 AND paid_cents < price_cents
			ORDER BY occurred_at ASC, id ASC
			FOR UPDATE
		`
	case domain.DebtorSupplier:
		kind = domain.ObligationPurchase
		query = `
			SELECT id, total_cents, paid_cents, payment_status, occurred_at
			FROM purchases
			WHERE supplier_id = $1 AND paid_cents < total_cents
			ORDER BY occurred_at ASC, id ASC
			FOR UPDATE
		`
	default:
		return nil, fmt.Errorf("%w: unknown debtor type %q", store.ErrValidation, debtorType)
	}

	rows, err := pgTx.QueryContext(ctx, query, debtorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	open := make([]domain.Obligation, 0, 8)
	for rows.Next() {
		o := domain.Obligation{Kind: kind}
		if err := rows.Scan(&o.ID, &o.PrincipalCents, &o.PaidCents, &o.PaymentStatus, &o.OccurredAt); err != nil {
			return nil, err
		}
		open = append(open, o)
	}
	return open, rows.Err()
}

func (s *Store) GetOpenObligations(ctx context.Context, debtorType domain.DebtorType, debtorID string) ([]domain.Obligation, error) {
	var query string
	var kind domain.ObligationKind
	switch debtorType {
	case domain.DebtorCustomer:
		kind = domain.ObligationSale
		query = `
			SELECT id, price_cents, paid_cents, payment_status, occurred_at
			FROM sales
			WHERE customer_id = $1 AND paid_cents < price_cents
			ORDER BY occurred_at ASC, id ASC
		`
	case domain.DebtorSupplier:
		kind = domain.ObligationPurchase
		query = `
			SELECT id, total_cents, paid_cents, payment_status, occurred_at
			FROM purchases
			WHERE supplier_id = $1 AND paid_cents < total_cents
			ORDER BY occurred_at ASC, id ASC
		`
	default:
		return nil, fmt.Errorf("%w: unknown debtor type %q", store.ErrValidation, debtorType)
	}

	rows, err := s.db.QueryContext(ctx, query, debtorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	open := make([]domain.Obligation, 0, 8)
	for rows.Next() {
		o := domain.Obligation{Kind: kind}
		if err := rows.Scan(&o.ID, &o.PrincipalCents, &o.PaidCents, &o.PaymentStatus, &o.OccurredAt); err != nil {
			return nil, err
		}
		open = append(open, o)
	}
	return open, rows.Err()
}

func (s *Store) ListPayments(ctx context.Context, debtorType domain.DebtorType, debtorID string, limit int) ([]domain.Payment, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, debtor_type, debtor_id, amount_cents, method, occurred_at, created_at
		FROM payments
		WHERE ($1 = '' OR debtor_type = $1) AND ($2 = '' OR debtor_id = $2)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $3
	`, string(debtorType), debtorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, limit)
	for rows.Next() {
		var p domain.Payment
		var method sql.NullString
		if err := rows.Scan(&p.ID, &p.DebtorType, &p.DebtorID, &p.AmountCents, &method, &p.OccurredAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Method = method.String
		p.UpdatedAt = p.CreatedAt
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range payments {
		allocations, err := s.listAllocations(ctx, payments[i].ID)
		if err != nil {
			return nil, err
		}
		payments[i].Allocations = allocations
	}
	return payments, nil
}

func (s *Store) listAllocations(ctx context.Context, paymentID string) ([]domain.PaymentAllocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT obligation_id, kind, applied_cents, new_paid_cents, new_status
		FROM payment_allocations
		WHERE payment_id = $1
		ORDER BY obligation_id
	`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	allocations := make([]domain.PaymentAllocation, 0, 4)
	for rows.Next() {
		var a domain.PaymentAllocation
		if err := rows.Scan(&a.ObligationID, &a.Kind, &a.AppliedCents, &a.NewPaidCents, &a.NewStatus); err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

func (s *Store) GetSalesReport(ctx context.Context, from time.Time, to time.Time) (domain.SalesReport, error) {
	report := domain.SalesReport{
		From: from.UTC().Format(time.RFC3339),
		To:   to.UTC().Format(time.RFC3339),
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*), COALESCE(SUM(s.price_cents), 0), COALESCE(SUM(p.accumulated_cost_cents), 0)
		FROM sales s
		JOIN phones p ON p.id = s.phone_id
		WHERE s.occurred_at >= $1 AND s.occurred_at < $2
	`, from, to).Scan(&report.UnitsSold, &report.RevenueCents, &report.CostCents)
	if err != nil {
		return domain.SalesReport{}, err
	}
	report.ProfitCents = report.RevenueCents - report.CostCents
	return report, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), customer.CreatedAt, customer.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	var phone sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, created_at, updated_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &phone, &customer.CreatedAt, &customer.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.Phone = phone.String
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, created_at, updated_at
		FROM customers
		ORDER BY created_at ASC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var customer domain.Customer
		var phone sql.NullString
		if err := rows.Scan(&customer.ID, &customer.Name, &phone, &customer.CreatedAt, &customer.UpdatedAt); err != nil {
			return nil, err
		}
		customer.Phone = phone.String
		customers = append(customers, customer)
	}
	return customers, rows.Err()
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
	`, supplier.ID, supplier.Name, nullIfEmpty(supplier.Phone), supplier.CreatedAt, supplier.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &supplier, nil
}

func (s *Store) GetSupplierByID(ctx context.Context, id string) (*domain.Supplier, error) {
	var supplier domain.Supplier
	var phone sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, created_at, updated_at
		FROM suppliers
		WHERE id = $1
	`, id).Scan(&supplier.ID, &supplier.Name, &phone, &supplier.CreatedAt, &supplier.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	supplier.Phone = phone.String
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, created_at, updated_at
		FROM suppliers
		ORDER BY created_at ASC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 64)
	for rows.Next() {
		var supplier domain.Supplier
		var phone sql.NullString
		if err := rows.Scan(&supplier.ID, &supplier.Name, &phone, &supplier.CreatedAt, &supplier.UpdatedAt); err != nil {
			return nil, err
		}
		supplier.Phone = phone.String
		suppliers = append(suppliers, supplier)
	}
	return suppliers, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, nullIfEmpty(entry.ActorUsername), nullIfEmpty(entry.ActorRole), entry.Action,
		entry.EntityType, nullIfEmpty(entry.EntityID), nullIfEmpty(entry.Detail), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		var actorUsername, actorRole, entityID, detail sql.NullString
		if err := rows.Scan(&entry.ID, &actorUsername, &actorRole, &entry.Action, &entry.EntityType, &entityID, &detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.ActorUsername = actorUsername.String
		entry.ActorRole = actorRole.String
		entry.EntityID = entityID.String
		entry.Detail = detail.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = "staff"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET password_hash = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhone(row rowScanner) (*domain.Phone, error) {
	var phone domain.Phone
	var condition sql.NullString
	var deletedAt sql.NullTime
	err := row.Scan(&phone.ID, &phone.PurchaseID, &phone.Brand, &phone.Model, &phone.IMEI, &condition,
		&phone.AcquisitionCostCents, &phone.AccumulatedCostCents, &phone.Status,
		&phone.CreatedAt, &phone.UpdatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	phone.Condition = condition.String
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		phone.DeletedAt = &t
	}
	return &phone, nil
}

func scanPurchase(row rowScanner) (*domain.Purchase, error) {
	var purchase domain.Purchase
	err := row.Scan(&purchase.ID, &purchase.SupplierID, &purchase.TotalCents, &purchase.PaidCents,
		&purchase.PaymentStatus, &purchase.Credit, &purchase.OccurredAt, &purchase.CreatedAt, &purchase.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &purchase, nil
}

func scanRepairJob(row rowScanner) (*domain.RepairJob, error) {
	var job domain.RepairJob
	var note sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.PhoneID, &job.CostCents, &job.Description, &job.Status,
		&note, &completedAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	job.CompletionNote = note.String
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		job.CompletedAt = &t
	}
	return &job, nil
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var customerID sql.NullString
	err := row.Scan(&sale.ID, &sale.PhoneID, &customerID, &sale.PriceCents, &sale.PaidCents,
		&sale.PaymentStatus, &sale.Credit, &sale.OccurredAt, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		id := customerID.String
		sale.CustomerID = &id
	}
	return &sale, nil
}

func lockPhone(ctx context.Context, pgTx *sql.Tx, id string) (*domain.Phone, error) {
	return scanPhone(pgTx.QueryRowContext(ctx, `
		SELECT id, purchase_id, brand, model, imei, condition, acquisition_cost_cents, accumulated_cost_cents, status, created_at, updated_at, deleted_at
		FROM phones
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id))
}

func lockRepairJob(ctx context.Context, pgTx *sql.Tx, id string) (*domain.RepairJob, error) {
	return scanRepairJob(pgTx.QueryRowContext(ctx, `
		SELECT id, phone_id, cost_cents, description, status, completion_note, completed_at, created_at, updated_at
		FROM repair_jobs
		WHERE id = $1
		FOR UPDATE
	`, id))
}

func updatePhone(ctx context.Context, pgTx *sql.Tx, phone domain.Phone) error {
	res, err := pgTx.ExecContext(ctx, `
		UPDATE phones
		SET accumulated_cost_cents = $2, status = $3, updated_at = $4
		WHERE id = $1
	`, phone.ID, phone.AccumulatedCostCents, phone.Status, phone.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}

func nullIfEmptyPtr(val *string) any {
	if val == nil || strings.TrimSpace(*val) == "" {
		return nil
	}
	return *val
}
