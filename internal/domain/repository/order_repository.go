package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/teacurran/village-calendar-sub007/internal/common"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
)

type OrderFilter struct {
	Status        string
	CustomerEmail string
	Limit         int
	Offset        int
}

type OrderRepository interface {
	Create(ctx context.Context, tx *sql.Tx, order *model.Order) error
	GetByID(ctx context.Context, id string) (*model.Order, error)
	GetByPaymentRef(ctx context.Context, paymentRef string) (*model.Order, error)
	GetByChargeRef(ctx context.Context, chargeRef string) (*model.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]model.Order, int, error)

	// Update persists a mutated snapshot guarded by its version. A stale
	// version returns common.ErrVersionConflict; on success the snapshot's
	// Version is bumped in place.
	Update(ctx context.Context, tx *sql.Tx, order *model.Order) error

	// CreateRefund inserts a refund row keyed by refund reference and
	// reports whether the row was new. A duplicate reference is not an
	// error; it means the refund was already recorded.
	CreateRefund(ctx context.Context, tx *sql.Tx, refund *model.OrderRefund) (bool, error)
	ListRefunds(ctx context.Context, orderID string) ([]model.OrderRefund, error)
}

const orderColumns = `id, customer_email, product_title, asset_ref, status, payment_reference,
	       charge_reference, paid_at, cancelled_at, notes, version, created_at, updated_at`

type pgOrderRepository struct {
	db *sql.DB
}

func NewPgOrderRepository(db *sql.DB) OrderRepository {
	return &pgOrderRepository{db: db}
}

func (r *pgOrderRepository) Create(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	query := `INSERT INTO orders (id, customer_email, product_title, asset_ref, status, notes, version)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, o.ID, o.CustomerEmail, o.ProductTitle, o.AssetRef, o.Status, o.Notes, o.Version)
	} else {
		_, err = r.db.ExecContext(ctx, query, o.ID, o.CustomerEmail, o.ProductTitle, o.AssetRef, o.Status, o.Notes, o.Version)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("order %s already exists: %w", o.ID, common.ErrConflict)
		}
		return fmt.Errorf("pgOrderRepository.Create: %w", err)
	}
	return nil
}

func (r *pgOrderRepository) GetByID(ctx context.Context, id string) (*model.Order, error) {
	return r.getBy(ctx, "id", id)
}

func (r *pgOrderRepository) GetByPaymentRef(ctx context.Context, paymentRef string) (*model.Order, error) {
	return r.getBy(ctx, "payment_reference", paymentRef)
}

func (r *pgOrderRepository) GetByChargeRef(ctx context.Context, chargeRef string) (*model.Order, error) {
	return r.getBy(ctx, "charge_reference", chargeRef)
}

func (r *pgOrderRepository) getBy(ctx context.Context, column, value string) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + column + ` = $1`
	order := &model.Order{}
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&order.ID, &order.CustomerEmail, &order.ProductTitle, &order.AssetRef, &order.Status,
		&order.PaymentReference, &order.ChargeReference, &order.PaidAt, &order.CancelledAt,
		&order.Notes, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgOrderRepository.getBy %s: %w", column, err)
	}
	return order, nil
}

func (r *pgOrderRepository) List(ctx context.Context, filter OrderFilter) ([]model.Order, int, error) {
	conditions := []string{}
	args := []interface{}{}
	argID := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argID))
		args = append(args, filter.Status)
		argID++
	}
	if filter.CustomerEmail != "" {
		conditions = append(conditions, fmt.Sprintf("customer_email = $%d", argID))
		args = append(args, filter.CustomerEmail)
		argID++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgOrderRepository.List count: %w", err)
	}

	query := fmt.Sprintf(`SELECT `+orderColumns+` FROM orders`+where+
		` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, argID, argID+1)
	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgOrderRepository.List query: %w", err)
	}
	defer rows.Close()

	orders := []model.Order{}
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(
			&o.ID, &o.CustomerEmail, &o.ProductTitle, &o.AssetRef, &o.Status,
			&o.PaymentReference, &o.ChargeReference, &o.PaidAt, &o.CancelledAt,
			&o.Notes, &o.Version, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("pgOrderRepository.List scan: %w", err)
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgOrderRepository.List rows.Err: %w", err)
	}
	return orders, total, nil
}

func (r *pgOrderRepository) Update(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	query := `UPDATE orders SET
	              customer_email = $1, product_title = $2, asset_ref = $3, status = $4,
	              payment_reference = $5, charge_reference = $6, paid_at = $7, cancelled_at = $8,
	              notes = $9, version = version + 1, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $10 AND version = $11`

	var res sql.Result
	var err error
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, o.CustomerEmail, o.ProductTitle, o.AssetRef, o.Status,
			o.PaymentReference, o.ChargeReference, o.PaidAt, o.CancelledAt, o.Notes, o.ID, o.Version)
	} else {
		res, err = r.db.ExecContext(ctx, query, o.CustomerEmail, o.ProductTitle, o.AssetRef, o.Status,
			o.PaymentReference, o.ChargeReference, o.PaidAt, o.CancelledAt, o.Notes, o.ID, o.Version)
	}
	if err != nil {
		return fmt.Errorf("pgOrderRepository.Update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pgOrderRepository.Update rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("order %s at version %d: %w", o.ID, o.Version, common.ErrVersionConflict)
	}
	o.Version++
	return nil
}

func (r *pgOrderRepository) CreateRefund(ctx context.Context, tx *sql.Tx, refund *model.OrderRefund) (bool, error) {
	query := `INSERT INTO order_refunds (id, order_id, refund_ref, charge_ref, amount_cents, currency)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (refund_ref) DO NOTHING`

	var res sql.Result
	var err error
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, refund.ID, refund.OrderID, refund.RefundRef, refund.ChargeRef, refund.AmountCents, refund.Currency)
	} else {
		res, err = r.db.ExecContext(ctx, query, refund.ID, refund.OrderID, refund.RefundRef, refund.ChargeRef, refund.AmountCents, refund.Currency)
	}
	if err != nil {
		return false, fmt.Errorf("pgOrderRepository.CreateRefund: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgOrderRepository.CreateRefund rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *pgOrderRepository) ListRefunds(ctx context.Context, orderID string) ([]model.OrderRefund, error) {
	query := `SELECT id, order_id, refund_ref, charge_ref, amount_cents, currency, created_at
	          FROM order_refunds WHERE order_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("pgOrderRepository.ListRefunds query: %w", err)
	}
	defer rows.Close()

	refunds := []model.OrderRefund{}
	for rows.Next() {
		var ref model.OrderRefund
		if err := rows.Scan(&ref.ID, &ref.OrderID, &ref.RefundRef, &ref.ChargeRef, &ref.AmountCents, &ref.Currency, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgOrderRepository.ListRefunds scan: %w", err)
		}
		refunds = append(refunds, ref)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgOrderRepository.ListRefunds rows.Err: %w", err)
	}
	return refunds, nil
}
