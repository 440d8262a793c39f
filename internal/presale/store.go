package presale

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

// ErrStoreUnavailable indicates the item store dependency is not configured.
var ErrStoreUnavailable = errors.New("presale: store unavailable")

// ErrDuplicateItem is returned when an active item already exists for the car.
var ErrDuplicateItem = errors.New("presale: active item already exists for car")

// ListFilter narrows item listings. A zero Limit returns every match.
type ListFilter struct {
	Status     Status
	CarID      string
	OnlyActive bool
	Limit      int
	Offset     int
}

// Store persists pre-sale items. Update must only succeed when the stored
// version equals expectedVersion and must bump the version by one.
type Store interface {
	Insert(ctx context.Context, item Item) (Item, error)
	Get(ctx context.Context, storeID, id string) (Item, error)
	FindActiveByCar(ctx context.Context, storeID, carID string) (Item, error)
	List(ctx context.Context, storeID string, filter ListFilter) ([]Item, int, error)
	Update(ctx context.Context, item Item, expectedVersion int64) (Item, error)
	CountUnitsForDelivery(ctx context.Context, storeID, deliveryID string) (int, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const itemColumns = `id, store_id, car_id, car_model, brand, piece_type, condition, purchase_ids,
unit_price, markup_percentage, final_price_per_unit, quantity, assigned_quantity, available_quantity,
total_sale_amount, total_cost_amount, total_profit, status, notes, assignments,
start_date, end_date, version, created_at, updated_at`

func (s *pgStore) Insert(ctx context.Context, item Item) (Item, error) {
	if s == nil || s.pool == nil {
		return Item{}, ErrStoreUnavailable
	}
	assignments, err := json.Marshal(nonNilAssignments(item.Assignments))
	if err != nil {
		return Item{}, fmt.Errorf("encode assignments: %w", err)
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO presale_items (
	id, store_id, car_id, car_model, brand, piece_type, condition, purchase_ids,
	unit_price, markup_percentage, final_price_per_unit, quantity, assigned_quantity, available_quantity,
	total_sale_amount, total_cost_amount, total_profit, status, notes, assignments,
	start_date, end_date, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,1,$23,$23)
RETURNING `+itemColumns,
		item.ID, item.StoreID, item.CarID, item.CarModel, item.Brand, item.PieceType, item.Condition, nonNilStrings(item.PurchaseIDs),
		item.UnitPrice, item.MarkupPercentage, item.FinalPricePerUnit, item.Quantity, item.AssignedQuantity, item.AvailableQuantity,
		item.TotalSaleAmount, item.TotalCostAmount, item.TotalProfit, string(item.Status), item.Notes, assignments,
		item.StartDate, item.EndDate, item.CreatedAt)
	saved, err := scanItem(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Item{}, ErrDuplicateItem
		}
		return Item{}, err
	}
	return saved, nil
}

func (s *pgStore) Get(ctx context.Context, storeID, id string) (Item, error) {
	if s == nil || s.pool == nil {
		return Item{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM presale_items WHERE store_id = $1 AND id = $2`, storeID, id)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return item, err
}

func (s *pgStore) FindActiveByCar(ctx context.Context, storeID, carID string) (Item, error) {
	if s == nil || s.pool == nil {
		return Item{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM presale_items
WHERE store_id = $1 AND car_id = $2 AND status <> 'cancelled'
ORDER BY created_at DESC LIMIT 1`, storeID, carID)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return item, err
}

func (s *pgStore) List(ctx context.Context, storeID string, filter ListFilter) ([]Item, int, error) {
	if s == nil || s.pool == nil {
		return nil, 0, ErrStoreUnavailable
	}
	where := []string{"store_id = $1"}
	args := []any{storeID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CarID != "" {
		args = append(args, filter.CarID)
		where = append(where, fmt.Sprintf("car_id = $%d", len(args)))
	}
	if filter.OnlyActive {
		where = append(where, "status NOT IN ('cancelled', 'delivered')")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM presale_items WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + itemColumns + ` FROM presale_items WHERE ` + clause + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit, max(filter.Offset, 0))
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func (s *pgStore) Update(ctx context.Context, item Item, expectedVersion int64) (Item, error) {
	if s == nil || s.pool == nil {
		return Item{}, ErrStoreUnavailable
	}
	assignments, err := json.Marshal(nonNilAssignments(item.Assignments))
	if err != nil {
		return Item{}, fmt.Errorf("encode assignments: %w", err)
	}
	row := s.pool.QueryRow(ctx, `UPDATE presale_items SET
	car_model = $3, brand = $4, piece_type = $5, condition = $6, purchase_ids = $7,
	unit_price = $8, markup_percentage = $9, final_price_per_unit = $10,
	quantity = $11, assigned_quantity = $12, available_quantity = $13,
	total_sale_amount = $14, total_cost_amount = $15, total_profit = $16,
	status = $17, notes = $18, assignments = $19, end_date = $20,
	version = version + 1, updated_at = $21
WHERE id = $1 AND version = $2
RETURNING `+itemColumns,
		item.ID, expectedVersion, item.CarModel, item.Brand, item.PieceType, item.Condition, nonNilStrings(item.PurchaseIDs),
		item.UnitPrice, item.MarkupPercentage, item.FinalPricePerUnit,
		item.Quantity, item.AssignedQuantity, item.AvailableQuantity,
		item.TotalSaleAmount, item.TotalCostAmount, item.TotalProfit,
		string(item.Status), item.Notes, assignments, item.EndDate, item.UpdatedAt)
	saved, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrVersionConflict
	}
	return saved, err
}

func (s *pgStore) CountUnitsForDelivery(ctx context.Context, storeID, deliveryID string) (int, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(jsonb_array_length(a->'unitIds')), 0)::int
FROM presale_items pi, jsonb_array_elements(pi.assignments) a
WHERE pi.store_id = $1 AND a->>'deliveryId' = $2`, storeID, deliveryID).Scan(&count)
	return count, err
}

func scanItem(row pgx.Row) (Item, error) {
	var (
		item        Item
		status      string
		assignments []byte
		endDate     *time.Time
	)
	err := row.Scan(
		&item.ID, &item.StoreID, &item.CarID, &item.CarModel, &item.Brand, &item.PieceType, &item.Condition, &item.PurchaseIDs,
		&item.UnitPrice, &item.MarkupPercentage, &item.FinalPricePerUnit, &item.Quantity, &item.AssignedQuantity, &item.AvailableQuantity,
		&item.TotalSaleAmount, &item.TotalCostAmount, &item.TotalProfit, &status, &item.Notes, &assignments,
		&item.StartDate, &endDate, &item.Version, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Item{}, err
	}
	item.Status = Status(status)
	item.EndDate = endDate
	if len(assignments) > 0 {
		if err := json.Unmarshal(assignments, &item.Assignments); err != nil {
			return Item{}, fmt.Errorf("decode assignments: %w", err)
		}
	}
	return item, nil
}

func nonNilAssignments(in []Assignment) []Assignment {
	if in == nil {
		return []Assignment{}
	}
	return in
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
