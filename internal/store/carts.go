package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-service/internal/models"
)

// GetCartByUserID retrieves a user's cart with its items, or (nil, nil)
// when the user has no cart.
func (s *Store) GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	return s.getCart(ctx, "SELECT * FROM carts WHERE user_id = $1", userID)
}

// GetCartByGuestID retrieves a guest's cart with its items, or (nil, nil).
func (s *Store) GetCartByGuestID(ctx context.Context, guestID string) (*models.Cart, error) {
	return s.getCart(ctx, "SELECT * FROM carts WHERE guest_id = $1", guestID)
}

func (s *Store) getCart(ctx context.Context, query string, arg interface{}) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &cart.Items,
		"SELECT * FROM cart_items WHERE cart_id = $1 ORDER BY id", cart.ID); err != nil {
		return nil, err
	}
	return &cart, nil
}

// CreateCart inserts an empty cart for the given identity.
func (s *Store) CreateCart(ctx context.Context, cart *models.Cart) error {
	query := `
		INSERT INTO carts (user_id, guest_id, total_price)
		VALUES ($1, $2, $3)
		RETURNING id, version, created_at, updated_at`

	return s.db.GetContext(ctx, cart, query,
		cart.UserID, cart.GuestID, cart.TotalPrice)
}

// SaveCart persists the cart's total and line items, guarded by the
// version the caller loaded. Returns ErrVersionConflict when a concurrent
// save won; callers reload and retry.
func (s *Store) SaveCart(ctx context.Context, cart *models.Cart) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE carts SET total_price = $1, version = version + 1, updated_at = NOW() WHERE id = $2 AND version = $3",
		cart.TotalPrice, cart.ID, cart.Version)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cart.ID); err != nil {
		return err
	}

	for i := range cart.Items {
		item := &cart.Items[i]
		item.CartID = cart.ID
		err := tx.GetContext(ctx, &item.ID, `
			INSERT INTO cart_items (cart_id, product_id, name, size, color, quantity, price, discount_price, count_in_stock)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`,
			item.CartID, item.ProductID, item.Name, item.Size, item.Color,
			item.Quantity, item.Price, item.DiscountPrice, item.CountInStock)
		if err != nil {
			return fmt.Errorf("failed to save cart item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	cart.Version++
	return nil
}

// DeleteCart removes a cart and, via cascade, its items.
func (s *Store) DeleteCart(ctx context.Context, cartID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM carts WHERE id = $1", cartID)
	return err
}

// DeleteCartByUserID removes the cart owned by a user. Missing carts are
// not an error; finalize cleanup is best-effort.
func (s *Store) DeleteCartByUserID(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM carts WHERE user_id = $1", userID)
	return err
}
