package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePaymentReconciled  = "PAYMENT_RECONCILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent is published when finalize materializes an order.
type OrderCreatedEvent struct {
	BaseEvent
	OrderID    int64           `json:"order_id"`
	CheckoutID int64           `json:"checkout_id"`
	UserID     int64           `json:"user_id"`
	TotalPrice float64         `json:"total_price"`
	IsPaid     bool            `json:"is_paid"`
	Items      []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent is published on admin status transitions.
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	UserID    int64  `json:"user_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// PaymentReconciledEvent is published when a gateway callback is accepted.
type PaymentReconciledEvent struct {
	BaseEvent
	CheckoutID    int64  `json:"checkout_id"`
	Gateway       string `json:"gateway"`
	TransactionID string `json:"transaction_id"`
	Success       bool   `json:"success"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}
