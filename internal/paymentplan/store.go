package paymentplan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the plan store dependency is not configured.
var ErrStoreUnavailable = errors.New("paymentplan: store unavailable")

// ListFilter narrows plan listings.
type ListFilter struct {
	Statuses    []Status
	CustomerID  string
	OverdueOnly bool
	Limit       int
	Offset      int
}

// Store persists payment plans. Update must only succeed when the stored
// version equals expectedVersion and must bump the version by one. An empty
// storeID passed to List matches plans of every store.
type Store interface {
	Insert(ctx context.Context, plan Plan) (Plan, error)
	Get(ctx context.Context, storeID, id string) (Plan, error)
	GetByDelivery(ctx context.Context, storeID, deliveryID string) (Plan, error)
	List(ctx context.Context, storeID string, filter ListFilter) ([]Plan, error)
	Update(ctx context.Context, plan Plan, expectedVersion int64) (Plan, error)
	Delete(ctx context.Context, storeID, id string) error
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const planColumns = `id, store_id, delivery_id, customer_id, customer_name, total_amount, number_of_payments,
amount_per_payment, payment_frequency, start_date, early_payment_bonus, bonus_deadline, bonus_applied,
bonus_amount, schedule, transactions, total_paid, remaining_amount, payments_completed, last_payment_date,
expected_completion_date, actual_completion_date, status, has_overdue_payments, overdue_amount,
days_overdue, version, created_at, updated_at`

func (s *pgStore) Insert(ctx context.Context, plan Plan) (Plan, error) {
	if s == nil || s.pool == nil {
		return Plan{}, ErrStoreUnavailable
	}
	schedule, transactions, err := encodeCollections(plan)
	if err != nil {
		return Plan{}, err
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO payment_plans (
	id, store_id, delivery_id, customer_id, customer_name, total_amount, number_of_payments,
	amount_per_payment, payment_frequency, start_date, early_payment_bonus, bonus_deadline, bonus_applied,
	bonus_amount, schedule, transactions, total_paid, remaining_amount, payments_completed, last_payment_date,
	expected_completion_date, actual_completion_date, status, has_overdue_payments, overdue_amount,
	days_overdue, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,1,$27,$27)
RETURNING `+planColumns,
		plan.ID, plan.StoreID, plan.DeliveryID, nullable(plan.CustomerID), nullable(plan.CustomerName), plan.TotalAmount, plan.NumberOfPayments,
		plan.AmountPerPayment, string(plan.Frequency), plan.StartDate, plan.EarlyPaymentBonus, plan.BonusDeadline, plan.BonusApplied,
		plan.BonusAmount, schedule, transactions, plan.TotalPaid, plan.RemainingAmount, plan.PaymentsCompleted, plan.LastPaymentDate,
		plan.ExpectedCompletionDate, plan.ActualCompletionDate, string(plan.Status), plan.HasOverduePayments, plan.OverdueAmount,
		plan.DaysOverdue, plan.CreatedAt)
	saved, err := scanPlan(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Plan{}, ErrPlanExists
		}
		return Plan{}, err
	}
	return saved, nil
}

func (s *pgStore) Get(ctx context.Context, storeID, id string) (Plan, error) {
	if s == nil || s.pool == nil {
		return Plan{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM payment_plans WHERE store_id = $1 AND id = $2`, storeID, id)
	return notFound(scanPlan(row))
}

func (s *pgStore) GetByDelivery(ctx context.Context, storeID, deliveryID string) (Plan, error) {
	if s == nil || s.pool == nil {
		return Plan{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM payment_plans WHERE store_id = $1 AND delivery_id = $2`, storeID, deliveryID)
	return notFound(scanPlan(row))
}

func (s *pgStore) List(ctx context.Context, storeID string, filter ListFilter) ([]Plan, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	var (
		where []string
		args  []any
	)
	if storeID != "" {
		args = append(args, storeID)
		where = append(where, fmt.Sprintf("store_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("(customer_id = $%d OR customer_name = $%d)", len(args), len(args)))
	}
	order := "created_at DESC"
	if filter.OverdueOnly {
		where = append(where, "has_overdue_payments")
		order = "days_overdue DESC, created_at DESC"
	}
	query := `SELECT ` + planColumns + ` FROM payment_plans`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ` + order
	if filter.Limit > 0 {
		args = append(args, filter.Limit, max(filter.Offset, 0))
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	plans := make([]Plan, 0)
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (s *pgStore) Update(ctx context.Context, plan Plan, expectedVersion int64) (Plan, error) {
	if s == nil || s.pool == nil {
		return Plan{}, ErrStoreUnavailable
	}
	schedule, transactions, err := encodeCollections(plan)
	if err != nil {
		return Plan{}, err
	}
	row := s.pool.QueryRow(ctx, `UPDATE payment_plans SET
	customer_id = $3, customer_name = $4, bonus_applied = $5, bonus_amount = $6,
	schedule = $7, transactions = $8, total_paid = $9, remaining_amount = $10, payments_completed = $11,
	last_payment_date = $12, actual_completion_date = $13, status = $14, has_overdue_payments = $15,
	overdue_amount = $16, days_overdue = $17, version = version + 1, updated_at = $18
WHERE id = $1 AND version = $2
RETURNING `+planColumns,
		plan.ID, expectedVersion, nullable(plan.CustomerID), nullable(plan.CustomerName), plan.BonusApplied, plan.BonusAmount,
		schedule, transactions, plan.TotalPaid, plan.RemainingAmount, plan.PaymentsCompleted,
		plan.LastPaymentDate, plan.ActualCompletionDate, string(plan.Status), plan.HasOverduePayments,
		plan.OverdueAmount, plan.DaysOverdue, plan.UpdatedAt)
	saved, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Plan{}, ErrVersionConflict
	}
	return saved, err
}

func (s *pgStore) Delete(ctx context.Context, storeID, id string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM payment_plans WHERE store_id = $1 AND id = $2`, storeID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPlanNotFound
	}
	return nil
}

func scanPlan(row pgx.Row) (Plan, error) {
	var (
		plan                     Plan
		customerID, customerName *string
		frequency, status        string
		schedule, transactions   []byte
		bonusDeadline            *time.Time
		lastPayment, completedAt *time.Time
	)
	err := row.Scan(
		&plan.ID, &plan.StoreID, &plan.DeliveryID, &customerID, &customerName, &plan.TotalAmount, &plan.NumberOfPayments,
		&plan.AmountPerPayment, &frequency, &plan.StartDate, &plan.EarlyPaymentBonus, &bonusDeadline, &plan.BonusApplied,
		&plan.BonusAmount, &schedule, &transactions, &plan.TotalPaid, &plan.RemainingAmount, &plan.PaymentsCompleted, &lastPayment,
		&plan.ExpectedCompletionDate, &completedAt, &status, &plan.HasOverduePayments, &plan.OverdueAmount,
		&plan.DaysOverdue, &plan.Version, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		return Plan{}, err
	}
	if customerID != nil {
		plan.CustomerID = *customerID
	}
	if customerName != nil {
		plan.CustomerName = *customerName
	}
	plan.Frequency = Frequency(frequency)
	plan.Status = Status(status)
	plan.BonusDeadline = bonusDeadline
	plan.LastPaymentDate = lastPayment
	plan.ActualCompletionDate = completedAt
	if err := json.Unmarshal(schedule, &plan.Schedule); err != nil {
		return Plan{}, fmt.Errorf("decode schedule: %w", err)
	}
	if len(transactions) > 0 {
		if err := json.Unmarshal(transactions, &plan.Transactions); err != nil {
			return Plan{}, fmt.Errorf("decode transactions: %w", err)
		}
	}
	if plan.Transactions == nil {
		plan.Transactions = []Transaction{}
	}
	return plan, nil
}

func encodeCollections(plan Plan) ([]byte, []byte, error) {
	schedule, err := json.Marshal(plan.Schedule)
	if err != nil {
		return nil, nil, fmt.Errorf("encode schedule: %w", err)
	}
	txs := plan.Transactions
	if txs == nil {
		txs = []Transaction{}
	}
	transactions, err := json.Marshal(txs)
	if err != nil {
		return nil, nil, fmt.Errorf("encode transactions: %w", err)
	}
	return schedule, transactions, nil
}

func notFound(plan Plan, err error) (Plan, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return Plan{}, ErrPlanNotFound
	}
	return plan, err
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
