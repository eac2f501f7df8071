package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
	"storefront-service/internal/util"
)

// allowedTransitions is the admin order status machine. Delivered and
// Cancelled are terminal.
var allowedTransitions = map[string][]string{
	models.OrderStatusProcessing: {models.OrderStatusShipped, models.OrderStatusDelivered, models.OrderStatusCancelled},
	models.OrderStatusShipped:    {models.OrderStatusDelivered, models.OrderStatusCancelled},
	models.OrderStatusDelivered:  {},
	models.OrderStatusCancelled:  {},
}

// OrderService handles order queries and the admin status machine.
type OrderService struct {
	orders    OrderStore
	stock     StockStore
	publisher EventPublisher
	cache     CacheInvalidator
	logger    *zap.Logger
}

// NewOrderService creates a new order service. publisher and cache may be
// nil.
func NewOrderService(orders OrderStore, stock StockStore, publisher EventPublisher, cache CacheInvalidator) *OrderService {
	return &OrderService{
		orders:    orders,
		stock:     stock,
		publisher: publisher,
		cache:     cache,
		logger:    util.GetLogger(),
	}
}

// GetOrderFor returns an order visible to the requester: its owner or an
// admin.
func (s *OrderService) GetOrderFor(ctx context.Context, orderID, userID int64, isAdmin bool) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID && !isAdmin {
		return nil, apperr.NotFoundf("order %d not found", orderID)
	}
	return order, nil
}

// ListOrders returns the user's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.orders.GetOrdersByUserID(ctx, userID)
}

// SetStatusRequest is the admin transition request.
type SetStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// SetStatus applies an admin status transition. Delivered additionally
// stamps delivery, forces the paid flags (collection on delivery) and
// bumps each product's monotonic total_sold counter; cancellation never
// reverses that counter.
func (s *OrderService) SetStatus(ctx context.Context, orderID int64, newStatus string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.SetStatus")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !transitionAllowed(order.Status, newStatus) {
		return nil, apperr.Validationf("cannot transition order from %q to %q", order.Status, newStatus)
	}

	// The store swaps the status only while it still matches the one read
	// above, so a concurrent transition makes the swap a no-op instead of
	// double-applying; total_sold is bumped only by the applying caller.
	if newStatus == models.OrderStatusDelivered {
		applied, err := s.orders.MarkOrderDelivered(ctx, orderID, order.Status, time.Now())
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, apperr.Conflictf("order %d was updated concurrently, please retry", orderID)
		}
		ids := make([]int64, 0, len(order.Items))
		for i := range order.Items {
			item := &order.Items[i]
			ids = append(ids, item.ProductID)
			if err := s.stock.IncrementTotalSold(ctx, item.ProductID, item.Quantity); err != nil {
				s.logger.Error("Failed to increment total_sold",
					zap.Int64("order_id", orderID),
					zap.Int64("product_id", item.ProductID),
					zap.Error(err))
			}
		}
		if s.cache != nil {
			if err := s.cache.InvalidateProducts(ctx, ids...); err != nil {
				s.logger.Warn("Failed to invalidate product cache", zap.Error(err))
			}
		}
	} else {
		applied, err := s.orders.UpdateOrderStatus(ctx, orderID, order.Status, newStatus)
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, apperr.Conflictf("order %d was updated concurrently, please retry", orderID)
		}
	}

	util.OrderStatusTransitionsTotal.WithLabelValues(newStatus).Inc()
	if s.publisher != nil {
		event := &models.OrderStatusChangedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderStatusChanged,
				Timestamp: time.Now(),
			},
			OrderID:   orderID,
			UserID:    order.UserID,
			OldStatus: order.Status,
			NewStatus: newStatus,
		}
		if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
		}
	}

	s.logger.Info("Order status changed",
		zap.Int64("order_id", orderID),
		zap.String("old_status", order.Status),
		zap.String("new_status", newStatus))
	return s.orders.GetOrderByID(ctx, orderID)
}

func transitionAllowed(from, to string) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
