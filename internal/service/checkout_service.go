package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"storefront-service/internal/apperr"
	"storefront-service/internal/gateway"
	"storefront-service/internal/models"
	"storefront-service/internal/util"
)

// CheckoutService implements checkout creation, payment marking, finalize
// and gateway callback reconciliation.
type CheckoutService struct {
	checkouts CheckoutStore
	orders    OrderStore
	stock     StockStore
	carts     CartStore
	publisher EventPublisher
	cache     CacheInvalidator
	logger    *zap.Logger
}

// NewCheckoutService creates a new checkout service. publisher and cache
// may be nil.
func NewCheckoutService(
	checkouts CheckoutStore,
	orders OrderStore,
	stock StockStore,
	carts CartStore,
	publisher EventPublisher,
	cache CacheInvalidator,
) *CheckoutService {
	return &CheckoutService{
		checkouts: checkouts,
		orders:    orders,
		stock:     stock,
		carts:     carts,
		publisher: publisher,
		cache:     cache,
		logger:    util.GetLogger(),
	}
}

// CheckoutItemRequest is one line item snapshot in a checkout request.
type CheckoutItemRequest struct {
	ProductID     int64    `json:"product_id" binding:"required"`
	Name          string   `json:"name" binding:"required"`
	Size          string   `json:"size" binding:"required"`
	Color         string   `json:"color" binding:"required"`
	Quantity      int      `json:"quantity" binding:"required,min=1"`
	Price         float64  `json:"price" binding:"required"`
	DiscountPrice *float64 `json:"discount_price"`
}

// CreateCheckoutRequest creates a checkout session from a cart snapshot.
type CreateCheckoutRequest struct {
	Items           []CheckoutItemRequest `json:"checkout_items" binding:"required,min=1,dive"`
	ShippingAddress models.Address        `json:"shipping_address" binding:"required"`
	PaymentMethod   string                `json:"payment_method" binding:"required"`
	PaymentStatus   string                `json:"payment_status"`
	TotalPrice      float64               `json:"total_price" binding:"required"`
}

// CreateCheckout persists a new checkout session. It does not touch stock
// or the cart; the session holds copies of the cart lines.
func (s *CheckoutService) CreateCheckout(ctx context.Context, userID int64, req CreateCheckoutRequest) (*models.CheckoutSession, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateCheckout")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, apperr.Validationf("checkout_items must not be empty")
	}
	if req.PaymentStatus == "" {
		req.PaymentStatus = models.PaymentStatusUnpaid
	}
	if req.PaymentStatus != models.PaymentStatusPaid && req.PaymentStatus != models.PaymentStatusUnpaid {
		return nil, apperr.Validationf("payment_status must be %q or %q",
			models.PaymentStatusPaid, models.PaymentStatusUnpaid)
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, apperr.Validationf("quantity for product %d must be a positive integer", item.ProductID)
		}
	}

	checkout := &models.CheckoutSession{
		UserID:          userID,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   req.PaymentStatus,
		IsPaid:          req.PaymentStatus == models.PaymentStatusPaid,
		TotalPrice:      req.TotalPrice,
		Items:           make([]models.CheckoutItem, 0, len(req.Items)),
	}
	if checkout.IsPaid {
		now := time.Now()
		checkout.PaidAt = &now
	}
	for _, item := range req.Items {
		checkout.Items = append(checkout.Items, models.CheckoutItem{
			ProductID:     item.ProductID,
			Name:          item.Name,
			Size:          item.Size,
			Color:         item.Color,
			Quantity:      item.Quantity,
			Price:         item.Price,
			DiscountPrice: item.DiscountPrice,
		})
	}

	if err := s.checkouts.CreateCheckout(ctx, checkout); err != nil {
		return nil, fmt.Errorf("failed to create checkout: %w", err)
	}

	util.CheckoutsCreatedTotal.Inc()
	s.logger.Info("Checkout created",
		zap.Int64("checkout_id", checkout.ID),
		zap.Int64("user_id", userID))
	return checkout, nil
}

// MarkPaid stamps the session paid and stores the payment details. It is
// idempotent in effect and never creates an order; that is Finalize's job.
func (s *CheckoutService) MarkPaid(ctx context.Context, checkoutID, userID int64, isAdmin bool, details json.RawMessage) (*models.CheckoutSession, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.MarkPaid")
	defer span.End()

	if err := s.authorize(ctx, checkoutID, userID, isAdmin); err != nil {
		return nil, err
	}
	if err := s.checkouts.MarkCheckoutPaid(ctx, checkoutID, time.Now(), types.JSONText(details)); err != nil {
		return nil, err
	}
	return s.checkouts.GetCheckoutByID(ctx, checkoutID)
}

// Finalize converts a checkout session into an order, decrementing stock.
// The client-facing path is strict: any line item without stock aborts
// with no order created.
func (s *CheckoutService) Finalize(ctx context.Context, checkoutID, userID int64, isAdmin bool) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Finalize")
	defer span.End()

	if err := s.authorize(ctx, checkoutID, userID, isAdmin); err != nil {
		return nil, err
	}
	return s.finalize(ctx, checkoutID, false)
}

// authorize hides checkout sessions from everyone but their owner or an
// admin, the same way order reads do.
func (s *CheckoutService) authorize(ctx context.Context, checkoutID, userID int64, isAdmin bool) error {
	checkout, err := s.checkouts.GetCheckoutByID(ctx, checkoutID)
	if err != nil {
		return err
	}
	if checkout.UserID != userID && !isAdmin {
		return apperr.NotFoundf("checkout %d not found", checkoutID)
	}
	return nil
}

// finalize runs the finalize state machine. With oversell true (gateway
// callback path) failed stock decrements are logged and the paid order is
// still recorded.
func (s *CheckoutService) finalize(ctx context.Context, checkoutID int64, oversell bool) (*models.Order, error) {
	checkout, err := s.checkouts.GetCheckoutByID(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	if checkout.IsFinalized {
		util.FinalizeRejectedTotal.WithLabelValues("already_finalized").Inc()
		return nil, apperr.AlreadyFinalizedf("checkout %d is already finalized", checkoutID)
	}
	if checkout.PaymentStatus != models.PaymentStatusPaid && checkout.PaymentStatus != models.PaymentStatusUnpaid {
		util.FinalizeRejectedTotal.WithLabelValues("invalid_state").Inc()
		return nil, apperr.InvalidStatef("checkout %d has invalid payment status %q",
			checkoutID, checkout.PaymentStatus)
	}

	// The single atomic conditional update below is what guarantees
	// at-most-one order per session when a client call and a gateway
	// callback race.
	now := time.Now()
	claimed, err := s.checkouts.ClaimFinalize(ctx, checkoutID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim finalize: %w", err)
	}
	if !claimed {
		util.FinalizeRejectedTotal.WithLabelValues("already_finalized").Inc()
		return nil, apperr.AlreadyFinalizedf("checkout %d is already finalized", checkoutID)
	}

	order, err := s.commitClaimed(ctx, checkout, oversell)
	if err != nil {
		if releaseErr := s.checkouts.ReleaseFinalize(ctx, checkoutID); releaseErr != nil {
			s.logger.Error("Failed to release finalize claim",
				zap.Int64("checkout_id", checkoutID),
				zap.Error(releaseErr))
		}
		return nil, err
	}
	return order, nil
}

// commitClaimed performs steps 4-9 for the caller holding the finalize
// claim. Decrements committed before a failing item stay committed.
func (s *CheckoutService) commitClaimed(ctx context.Context, checkout *models.CheckoutSession, oversell bool) (*models.Order, error) {
	ids := make([]int64, 0, len(checkout.Items))
	for i := range checkout.Items {
		ids = append(ids, checkout.Items[i].ProductID)
	}
	products, err := s.stock.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products for finalize: %w", err)
	}
	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	start := time.Now()
	for i := range checkout.Items {
		item := &checkout.Items[i]

		ok, err := s.stock.DecrementStock(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return nil, fmt.Errorf("failed to decrement stock for product %d: %w", item.ProductID, err)
		}
		if !ok {
			if !oversell {
				util.FinalizeRejectedTotal.WithLabelValues("insufficient_stock").Inc()
				return nil, apperr.InsufficientStockf("insufficient stock for product %q (id %d)",
					item.Name, item.ProductID)
			}
			// Customer already paid; record the order and flag the
			// oversold line instead of failing the callback.
			util.OversoldItemsTotal.Inc()
			s.logger.Warn("Finalizing past available stock",
				zap.Int64("checkout_id", checkout.ID),
				zap.Int64("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity))
		}
	}
	util.StockDecrementLatency.Observe(time.Since(start).Seconds())

	order := &models.Order{
		UserID:          checkout.UserID,
		CheckoutID:      checkout.ID,
		ShippingAddress: checkout.ShippingAddress,
		PaymentMethod:   checkout.PaymentMethod,
		PaymentStatus:   checkout.PaymentStatus,
		TotalPrice:      checkout.TotalPrice,
		IsPaid:          checkout.IsPaid,
		PaidAt:          checkout.PaidAt,
		Status:          models.OrderStatusProcessing,
		PaymentDetails:  checkout.PaymentDetails,
		Items:           make([]models.OrderItem, 0, len(checkout.Items)),
	}
	for i := range checkout.Items {
		item := &checkout.Items[i]
		order.Items = append(order.Items, models.OrderItem{
			ProductID:     item.ProductID,
			Name:          item.Name,
			Size:          item.Size,
			Color:         item.Color,
			Quantity:      item.Quantity,
			Price:         item.Price,
			DiscountPrice: resolveDiscount(item, byID[item.ProductID]),
		})
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	// Cart cleanup is best-effort; its failure must not undo the order.
	if err := s.carts.DeleteCartByUserID(ctx, checkout.UserID); err != nil {
		s.logger.Warn("Failed to delete cart after finalize",
			zap.Int64("user_id", checkout.UserID),
			zap.Error(err))
	}

	if s.cache != nil {
		if err := s.cache.InvalidateProducts(ctx, ids...); err != nil {
			s.logger.Warn("Failed to invalidate product cache", zap.Error(err))
		}
	}

	if s.publisher != nil {
		event := &models.OrderCreatedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderCreated,
				Timestamp: time.Now(),
			},
			OrderID:    order.ID,
			CheckoutID: checkout.ID,
			UserID:     order.UserID,
			TotalPrice: order.TotalPrice,
			IsPaid:     order.IsPaid,
			Items:      orderItemData(order.Items),
		}
		if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
		}
	}

	util.CheckoutsFinalizedTotal.Inc()
	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Checkout finalized",
		zap.Int64("checkout_id", checkout.ID),
		zap.Int64("order_id", order.ID))
	return order, nil
}

// HandleGatewayCallback reconciles an asynchronous, signed gateway
// callback. Gateways retry on failure acks, so an already finalized
// session acknowledges success without reprocessing.
func (s *CheckoutService) HandleGatewayCallback(ctx context.Context, gw gateway.Gateway, payload []byte) error {
	ctx, span := util.StartSpan(ctx, "CheckoutService.HandleGatewayCallback")
	defer span.End()

	result, err := gw.VerifyCallback(payload)
	if err != nil {
		util.GatewayCallbacksTotal.WithLabelValues(gw.Name(), "rejected").Inc()
		s.logger.Warn("Rejected gateway callback",
			zap.String("gateway", gw.Name()),
			zap.Error(err))
		return err
	}

	checkout, err := s.checkouts.GetCheckoutByID(ctx, result.CheckoutID)
	if err != nil {
		util.GatewayCallbacksTotal.WithLabelValues(gw.Name(), "unknown_checkout").Inc()
		return err
	}
	if checkout.IsFinalized {
		util.GatewayCallbacksTotal.WithLabelValues(gw.Name(), "duplicate").Inc()
		s.logger.Info("Ignoring redelivered callback for finalized checkout",
			zap.String("gateway", gw.Name()),
			zap.Int64("checkout_id", result.CheckoutID))
		return nil
	}

	if result.Success {
		if err := s.checkouts.MarkCheckoutPaid(ctx, result.CheckoutID, time.Now(), types.JSONText(result.Details)); err != nil {
			return err
		}
		if _, err := s.finalize(ctx, result.CheckoutID, true); err != nil {
			if apperr.IsKind(err, apperr.KindAlreadyFinalized) {
				// A concurrent finalize held the claim when we tried. Ack
				// success only once the session is confirmed finalized; a
				// racer that claimed and then released leaves a paid,
				// unfinalized session that needs the gateway's redelivery.
				current, readErr := s.checkouts.GetCheckoutByID(ctx, result.CheckoutID)
				if readErr == nil && current.IsFinalized {
					util.GatewayCallbacksTotal.WithLabelValues(gw.Name(), "duplicate").Inc()
					return nil
				}
				return err
			}
			return err
		}
	} else {
		s.logger.Info("Gateway reported unsuccessful payment",
			zap.String("gateway", gw.Name()),
			zap.Int64("checkout_id", result.CheckoutID),
			zap.String("transaction_id", result.TransactionID))
	}

	util.GatewayCallbacksTotal.WithLabelValues(gw.Name(), "accepted").Inc()
	if s.publisher != nil {
		event := &models.PaymentReconciledEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentReconciled,
				Timestamp: time.Now(),
			},
			CheckoutID:    result.CheckoutID,
			Gateway:       gw.Name(),
			TransactionID: result.TransactionID,
			Success:       result.Success,
		}
		if err := s.publisher.PublishPaymentReconciled(ctx, event); err != nil {
			s.logger.Error("Failed to publish PaymentReconciled event", zap.Error(err))
		}
	}
	return nil
}

// CreatePaymentURL asks a gateway for the redirect URL paying a checkout.
func (s *CheckoutService) CreatePaymentURL(ctx context.Context, gw gateway.Gateway, checkoutID, userID int64, isAdmin bool, clientIP string) (string, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreatePaymentURL")
	defer span.End()

	checkout, err := s.checkouts.GetCheckoutByID(ctx, checkoutID)
	if err != nil {
		return "", err
	}
	if checkout.UserID != userID && !isAdmin {
		return "", apperr.NotFoundf("checkout %d not found", checkoutID)
	}
	if checkout.IsFinalized {
		return "", apperr.AlreadyFinalizedf("checkout %d is already finalized", checkoutID)
	}

	return gw.CreatePayment(ctx, gateway.PaymentRequest{
		CheckoutID: checkout.ID,
		Amount:     checkout.TotalPrice,
		OrderInfo:  fmt.Sprintf("Thanh toan don hang #%d", checkout.ID),
		ClientIP:   clientIP,
	})
}

// resolveDiscount applies item.discountPrice, then product.discountPrice,
// then zero.
func resolveDiscount(item *models.CheckoutItem, product *models.Product) float64 {
	if item.DiscountPrice != nil {
		return *item.DiscountPrice
	}
	if product != nil && product.DiscountPrice != nil {
		return *product.DiscountPrice
	}
	return 0
}

func orderItemData(items []models.OrderItem) []models.OrderItemData {
	data := make([]models.OrderItemData, 0, len(items))
	for i := range items {
		data = append(data, models.OrderItemData{
			ProductID: items[i].ProductID,
			Quantity:  items[i].Quantity,
			UnitPrice: items[i].Price,
		})
	}
	return data
}
