package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
)

// CreateCheckout inserts a checkout session and its line item snapshots.
func (s *Store) CreateCheckout(ctx context.Context, checkout *models.CheckoutSession) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO checkout_sessions
			(user_id, shipping_address, payment_method, payment_status, is_paid, paid_at, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	row := tx.QueryRowxContext(ctx, query,
		checkout.UserID, checkout.ShippingAddress, checkout.PaymentMethod,
		checkout.PaymentStatus, checkout.IsPaid, checkout.PaidAt, checkout.TotalPrice)
	if err := row.Scan(&checkout.ID, &checkout.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert checkout session: %w", err)
	}

	for i := range checkout.Items {
		item := &checkout.Items[i]
		item.CheckoutID = checkout.ID
		err := tx.GetContext(ctx, &item.ID, `
			INSERT INTO checkout_items (checkout_id, product_id, name, size, color, quantity, price, discount_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			item.CheckoutID, item.ProductID, item.Name, item.Size, item.Color,
			item.Quantity, item.Price, item.DiscountPrice)
		if err != nil {
			return fmt.Errorf("failed to insert checkout item: %w", err)
		}
	}

	return tx.Commit()
}

// GetCheckoutByID retrieves a checkout session with its items.
func (s *Store) GetCheckoutByID(ctx context.Context, id int64) (*models.CheckoutSession, error) {
	var checkout models.CheckoutSession
	err := s.db.GetContext(ctx, &checkout, "SELECT * FROM checkout_sessions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("checkout %d not found", id)
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &checkout.Items,
		"SELECT * FROM checkout_items WHERE checkout_id = $1 ORDER BY id", id); err != nil {
		return nil, err
	}
	return &checkout, nil
}

// MarkCheckoutPaid stamps the session paid. Re-invocation re-stamps
// paid_at; finalized sessions are immutable and are rejected.
func (s *Store) MarkCheckoutPaid(ctx context.Context, id int64, paidAt time.Time, details types.JSONText) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE checkout_sessions
		SET is_paid = TRUE, payment_status = $1, paid_at = $2, payment_details = $3
		WHERE id = $4 AND is_finalized = FALSE`,
		models.PaymentStatusPaid, paidAt, details, id)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		checkout, err := s.GetCheckoutByID(ctx, id)
		if err != nil {
			return err
		}
		if checkout.IsFinalized {
			return apperr.AlreadyFinalizedf("checkout %d is already finalized", id)
		}
		return apperr.NotFoundf("checkout %d not found", id)
	}
	return nil
}

// ClaimFinalize flips is_finalized false->true in a single conditional
// update. Exactly one concurrent caller observes true; this is the
// at-most-one-order guard.
func (s *Store) ClaimFinalize(ctx context.Context, id int64, finalizedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE checkout_sessions SET is_finalized = TRUE, finalized_at = $1 WHERE id = $2 AND is_finalized = FALSE",
		finalizedAt, id)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ReleaseFinalize gives the claim back after a failed finalize so the
// session can be retried once the blocking condition clears.
func (s *Store) ReleaseFinalize(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE checkout_sessions SET is_finalized = FALSE, finalized_at = NULL WHERE id = $1",
		id)
	return err
}
