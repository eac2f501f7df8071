package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx/types"

	"storefront-service/internal/models"
)

// Store seams consumed by the services. *store.Store satisfies all of
// them; tests substitute in-memory fakes.

// ProductReader reads catalog products.
type ProductReader interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
}

// StockStore mutates product stock with atomic conditional operations.
type StockStore interface {
	ProductReader
	// DecrementStock subtracts quantity only when the current stock
	// covers it, reporting whether the decrement applied.
	DecrementStock(ctx context.Context, productID int64, quantity int) (bool, error)
	IncrementTotalSold(ctx context.Context, productID int64, quantity int) error
}

// CartStore persists carts with an optimistic version guard.
type CartStore interface {
	GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error)
	GetCartByGuestID(ctx context.Context, guestID string) (*models.Cart, error)
	CreateCart(ctx context.Context, cart *models.Cart) error
	// SaveCart returns store.ErrVersionConflict when a concurrent save won.
	SaveCart(ctx context.Context, cart *models.Cart) error
	DeleteCart(ctx context.Context, cartID int64) error
	DeleteCartByUserID(ctx context.Context, userID int64) error
}

// CheckoutStore persists checkout sessions.
type CheckoutStore interface {
	CreateCheckout(ctx context.Context, checkout *models.CheckoutSession) error
	GetCheckoutByID(ctx context.Context, id int64) (*models.CheckoutSession, error)
	MarkCheckoutPaid(ctx context.Context, id int64, paidAt time.Time, details types.JSONText) error
	// ClaimFinalize atomically flips is_finalized false->true; exactly one
	// concurrent caller observes true.
	ClaimFinalize(ctx context.Context, id int64, finalizedAt time.Time) (bool, error)
	ReleaseFinalize(ctx context.Context, id int64) error
}

// OrderStore persists orders.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	// UpdateOrderStatus and MarkOrderDelivered swap the status only while
	// it still matches fromStatus, reporting whether the swap applied.
	UpdateOrderStatus(ctx context.Context, orderID int64, fromStatus, status string) (bool, error)
	MarkOrderDelivered(ctx context.Context, orderID int64, fromStatus string, deliveredAt time.Time) (bool, error)
}

// Locker serializes multi-step mutations across instances.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// CacheInvalidator drops cached products after stock mutations.
type CacheInvalidator interface {
	InvalidateProducts(ctx context.Context, productIDs ...int64) error
}

// EventPublisher publishes domain events; a nil publisher disables events.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPaymentReconciled(ctx context.Context, event *models.PaymentReconciledEvent) error
}
