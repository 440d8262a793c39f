package delivery

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/presale-api/internal/pricing"
)

// Store reads and updates deliveries and derives their pre-sale totals from
// the assignments recorded on pre-sale items.
type Store interface {
	Get(ctx context.Context, storeID, id string) (Delivery, error)
	SetHasPresaleItems(ctx context.Context, storeID, id string, has bool) error
	LinkPaymentPlan(ctx context.Context, storeID, id, planID string) error
	SetPresaleStatus(ctx context.Context, storeID, id, status string) error
	Lines(ctx context.Context, storeID, id string) ([]Line, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

var errPoolMissing = errors.New("delivery: database pool not configured")

func (s *pgStore) Get(ctx context.Context, storeID, id string) (Delivery, error) {
	if s == nil || s.pool == nil {
		return Delivery{}, errPoolMissing
	}
	var (
		d                                      Delivery
		customerID, customerName, status, plan *string
	)
	err := s.pool.QueryRow(ctx, `SELECT id, store_id, customer_id, customer_name, has_presale_items,
	presale_status, payment_plan_id, created_at, updated_at
FROM deliveries WHERE store_id = $1 AND id = $2`, storeID, id).Scan(
		&d.ID, &d.StoreID, &customerID, &customerName, &d.HasPresaleItems,
		&status, &plan, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, ErrDeliveryNotFound
	}
	if err != nil {
		return Delivery{}, err
	}
	d.CustomerID = deref(customerID)
	d.CustomerName = deref(customerName)
	d.PresaleStatus = deref(status)
	d.PaymentPlanID = deref(plan)
	return d, nil
}

func (s *pgStore) SetHasPresaleItems(ctx context.Context, storeID, id string, has bool) error {
	return s.exec(ctx, `UPDATE deliveries SET has_presale_items = $3, updated_at = now() WHERE store_id = $1 AND id = $2`, storeID, id, has)
}

func (s *pgStore) LinkPaymentPlan(ctx context.Context, storeID, id, planID string) error {
	var plan *string
	if planID != "" {
		plan = &planID
	}
	return s.exec(ctx, `UPDATE deliveries SET payment_plan_id = $3, updated_at = now() WHERE store_id = $1 AND id = $2`, storeID, id, plan)
}

func (s *pgStore) SetPresaleStatus(ctx context.Context, storeID, id, status string) error {
	return s.exec(ctx, `UPDATE deliveries SET presale_status = $3, updated_at = now() WHERE store_id = $1 AND id = $2`, storeID, id, status)
}

func (s *pgStore) Lines(ctx context.Context, storeID, id string) ([]Line, error) {
	if s == nil || s.pool == nil {
		return nil, errPoolMissing
	}
	rows, err := s.pool.Query(ctx, `SELECT pi.id, pi.car_id, pi.car_model, pi.final_price_per_unit,
	COALESCE(jsonb_agg(u.unit_id ORDER BY u.unit_id), '[]'::jsonb)
FROM presale_items pi
CROSS JOIN LATERAL jsonb_array_elements(pi.assignments) a
CROSS JOIN LATERAL jsonb_array_elements_text(a->'unitIds') AS u(unit_id)
WHERE pi.store_id = $1 AND a->>'deliveryId' = $2 AND pi.status <> 'cancelled'
GROUP BY pi.id, pi.car_id, pi.car_model, pi.final_price_per_unit
ORDER BY pi.car_id`, storeID, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := make([]Line, 0)
	for rows.Next() {
		var (
			line  Line
			price pricing.Money
		)
		if err := rows.Scan(&line.ItemID, &line.CarID, &line.CarModel, &price, &line.UnitIDs); err != nil {
			return nil, err
		}
		line.FinalPricePerUnit = price
		line.Quantity = len(line.UnitIDs)
		line.Subtotal = price * pricing.Money(line.Quantity)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *pgStore) exec(ctx context.Context, sql string, args ...any) error {
	if s == nil || s.pool == nil {
		return errPoolMissing
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
