package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
)

// CreateOrder inserts an order and its items.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders
			(user_id, checkout_id, shipping_address, payment_method, payment_status,
			 total_price, is_paid, paid_at, status, payment_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	row := tx.QueryRowxContext(ctx, query,
		order.UserID, order.CheckoutID, order.ShippingAddress, order.PaymentMethod,
		order.PaymentStatus, order.TotalPrice, order.IsPaid, order.PaidAt,
		order.Status, order.PaymentDetails)
	if err := row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := tx.GetContext(ctx, &item.ID, `
			INSERT INTO order_items (order_id, product_id, name, size, color, quantity, price, discount_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			item.OrderID, item.ProductID, item.Name, item.Size, item.Color,
			item.Quantity, item.Price, item.DiscountPrice)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order with its items.
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("order %d not found", id)
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", id); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves orders for a user, newest first.
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// UpdateOrderStatus swaps the status only while it still matches the one
// the caller observed, reporting whether the swap applied. The guard keeps
// concurrent admin transitions from stomping each other or a terminal
// state.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, fromStatus, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		status, orderID, fromStatus)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// MarkOrderDelivered stamps delivery and forces the paid flags, matching
// the collection-on-delivery assumption for COD orders. It is guarded the
// same way as UpdateOrderStatus; exactly one of two concurrent delivery
// requests applies, so per-order side effects run at most once.
func (s *Store) MarkOrderDelivered(ctx context.Context, orderID int64, fromStatus string, deliveredAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, is_delivered = TRUE, delivered_at = $2,
		    is_paid = TRUE, payment_status = $3,
		    paid_at = COALESCE(paid_at, $2), updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		models.OrderStatusDelivered, deliveredAt, models.PaymentStatusPaid, orderID, fromStatus)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
