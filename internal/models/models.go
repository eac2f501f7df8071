package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// Product represents a catalog product. The catalog itself is owned by an
// external service; this service only reads products and mutates
// count_in_stock / total_sold.
type Product struct {
	ID            int64          `db:"id" json:"id"`
	SKU           string         `db:"sku" json:"sku"`
	Name          string         `db:"name" json:"name"`
	Price         float64        `db:"price" json:"price"`
	DiscountPrice *float64       `db:"discount_price" json:"discount_price,omitempty"`
	CountInStock  int            `db:"count_in_stock" json:"count_in_stock"`
	TotalSold     int            `db:"total_sold" json:"total_sold"`
	Sizes         pq.StringArray `db:"sizes" json:"sizes"`
	Colors        pq.StringArray `db:"colors" json:"colors"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// EffectivePrice returns the discount price when present, the list price
// otherwise.
func (p *Product) EffectivePrice() float64 {
	if p.DiscountPrice != nil {
		return *p.DiscountPrice
	}
	return p.Price
}

// HasSize reports whether size is one of the product's declared sizes.
func (p *Product) HasSize(size string) bool {
	for _, s := range p.Sizes {
		if s == size {
			return true
		}
	}
	return false
}

// HasColor reports whether color is one of the product's declared colors.
func (p *Product) HasColor(color string) bool {
	for _, c := range p.Colors {
		if c == color {
			return true
		}
	}
	return false
}

// Cart is owned by exactly one identity: a registered user or a guest.
// Version guards read-modify-write cycles; every save bumps it.
type Cart struct {
	ID         int64      `db:"id" json:"id"`
	UserID     *int64     `db:"user_id" json:"user_id,omitempty"`
	GuestID    *string    `db:"guest_id" json:"guest_id,omitempty"`
	TotalPrice float64    `db:"total_price" json:"total_price"`
	Version    int64      `db:"version" json:"-"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	Items      []CartItem `db:"-" json:"items"`
}

// CartItem is a cart line item keyed by (product_id, size, color) within
// its cart. Price and stock fields are snapshots, refreshed on read.
type CartItem struct {
	ID            int64    `db:"id" json:"id"`
	CartID        int64    `db:"cart_id" json:"-"`
	ProductID     int64    `db:"product_id" json:"product_id"`
	Name          string   `db:"name" json:"name"`
	Size          string   `db:"size" json:"size"`
	Color         string   `db:"color" json:"color"`
	Quantity      int      `db:"quantity" json:"quantity"`
	Price         float64  `db:"price" json:"price"`
	DiscountPrice *float64 `db:"discount_price" json:"discount_price,omitempty"`
	CountInStock  int      `db:"count_in_stock" json:"count_in_stock"`
}

// EffectivePrice returns the snapshot discount price when present.
func (ci *CartItem) EffectivePrice() float64 {
	if ci.DiscountPrice != nil {
		return *ci.DiscountPrice
	}
	return ci.Price
}

// RecomputeTotal recomputes the derived total from the line items.
func (c *Cart) RecomputeTotal() {
	var total float64
	for i := range c.Items {
		total += c.Items[i].EffectivePrice() * float64(c.Items[i].Quantity)
	}
	c.TotalPrice = total
}

// FindItem returns the line item with the given composite key, or nil.
func (c *Cart) FindItem(productID int64, size, color string) *CartItem {
	for i := range c.Items {
		it := &c.Items[i]
		if it.ProductID == productID && it.Size == size && it.Color == color {
			return it
		}
	}
	return nil
}

// RemoveItemAt drops the line item at index i.
func (c *Cart) RemoveItemAt(i int) {
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
}

// Address is a shipping address stored as JSONB.
type Address struct {
	FullName   string `json:"full_name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Value implements driver.Valuer for JSONB columns.
func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner for JSONB columns.
func (a *Address) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported address scan type %T", src)
	}
}

// Payment statuses of a checkout session or order.
const (
	PaymentStatusUnpaid = "unpaid"
	PaymentStatusPaid   = "paid"
)

// CheckoutSession is a snapshot of cart contents plus shipping/payment
// intent. is_finalized transitions false->true exactly once; after that
// the session is immutable.
type CheckoutSession struct {
	ID              int64          `db:"id" json:"id"`
	UserID          int64          `db:"user_id" json:"user_id"`
	ShippingAddress Address        `db:"shipping_address" json:"shipping_address"`
	PaymentMethod   string         `db:"payment_method" json:"payment_method"`
	PaymentStatus   string         `db:"payment_status" json:"payment_status"`
	IsPaid          bool           `db:"is_paid" json:"is_paid"`
	PaidAt          *time.Time     `db:"paid_at" json:"paid_at,omitempty"`
	PaymentDetails  types.JSONText `db:"payment_details" json:"payment_details,omitempty"`
	IsFinalized     bool           `db:"is_finalized" json:"is_finalized"`
	FinalizedAt     *time.Time     `db:"finalized_at" json:"finalized_at,omitempty"`
	TotalPrice      float64        `db:"total_price" json:"total_price"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	Items           []CheckoutItem `db:"-" json:"checkout_items"`
}

// CheckoutItem is a line item snapshot copied, not linked, from the cart.
type CheckoutItem struct {
	ID            int64    `db:"id" json:"id"`
	CheckoutID    int64    `db:"checkout_id" json:"-"`
	ProductID     int64    `db:"product_id" json:"product_id"`
	Name          string   `db:"name" json:"name"`
	Size          string   `db:"size" json:"size"`
	Color         string   `db:"color" json:"color"`
	Quantity      int      `db:"quantity" json:"quantity"`
	Price         float64  `db:"price" json:"price"`
	DiscountPrice *float64 `db:"discount_price" json:"discount_price,omitempty"`
}

// Order statuses. Processing -> {Shipped, Delivered, Cancelled},
// Shipped -> {Delivered, Cancelled}; Delivered and Cancelled are terminal.
const (
	OrderStatusProcessing = "Processing"
	OrderStatusShipped    = "Shipped"
	OrderStatusDelivered  = "Delivered"
	OrderStatusCancelled  = "Cancelled"
)

// Order is an immutable-after-creation record materialized from a
// finalized checkout session. Only status (and the delivery stamps it
// implies) is admin-mutable.
type Order struct {
	ID              int64          `db:"id" json:"id"`
	UserID          int64          `db:"user_id" json:"user_id"`
	CheckoutID      int64          `db:"checkout_id" json:"checkout_id"`
	ShippingAddress Address        `db:"shipping_address" json:"shipping_address"`
	PaymentMethod   string         `db:"payment_method" json:"payment_method"`
	PaymentStatus   string         `db:"payment_status" json:"payment_status"`
	TotalPrice      float64        `db:"total_price" json:"total_price"`
	IsPaid          bool           `db:"is_paid" json:"is_paid"`
	PaidAt          *time.Time     `db:"paid_at" json:"paid_at,omitempty"`
	IsDelivered     bool           `db:"is_delivered" json:"is_delivered"`
	DeliveredAt     *time.Time     `db:"delivered_at" json:"delivered_at,omitempty"`
	Status          string         `db:"status" json:"status"`
	PaymentDetails  types.JSONText `db:"payment_details" json:"payment_details,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
	Items           []OrderItem    `db:"-" json:"order_items"`
}

// OrderItem carries the resolved discount price at finalize time.
type OrderItem struct {
	ID            int64   `db:"id" json:"id"`
	OrderID       int64   `db:"order_id" json:"-"`
	ProductID     int64   `db:"product_id" json:"product_id"`
	Name          string  `db:"name" json:"name"`
	Size          string  `db:"size" json:"size"`
	Color         string  `db:"color" json:"color"`
	Quantity      int     `db:"quantity" json:"quantity"`
	Price         float64 `db:"price" json:"price"`
	DiscountPrice float64 `db:"discount_price" json:"discount_price"`
}

// ProcessedEvent records consumed event ids for idempotent handling.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
