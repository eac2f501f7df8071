package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storefront-service/internal/apperr"
	"storefront-service/internal/auth"
	"storefront-service/internal/gateway"
	"storefront-service/internal/service"
)

// Handler contains HTTP handlers
type Handler struct {
	carts     *service.CartService
	checkouts *service.CheckoutService
	orders    *service.OrderService
	resolver  auth.Resolver
	gateways  map[string]gateway.Gateway
}

// NewHandler creates a new HTTP handler
func NewHandler(
	carts *service.CartService,
	checkouts *service.CheckoutService,
	orders *service.OrderService,
	resolver auth.Resolver,
	gateways map[string]gateway.Gateway,
) *Handler {
	return &Handler{
		carts:     carts,
		checkouts: checkouts,
		orders:    orders,
		resolver:  resolver,
		gateways:  gateways,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		cart := v1.Group("/cart", cartIdentity(h.resolver))
		{
			cart.GET("", h.getCart)
			cart.POST("", h.addCartItem)
			cart.PUT("", h.updateCartItem)
			cart.DELETE("", h.removeCartItem)
		}
		v1.POST("/cart/merge", requireUser(h.resolver), h.mergeCart)

		checkout := v1.Group("/checkout", requireUser(h.resolver))
		{
			checkout.POST("", h.createCheckout)
			checkout.PUT("/:id/pay", h.markPaid)
			checkout.POST("/:id/finalize", h.finalizeCheckout)
			checkout.POST("/:id/payment-url", h.createPaymentURL)
		}

		// Gateway callbacks authenticate by signature, not bearer token.
		v1.GET("/checkout/vnpay/callback", h.gatewayCallback("vnpay"))
		v1.POST("/checkout/zalopay/callback", h.gatewayCallback("zalopay"))

		orders := v1.Group("/orders", requireUser(h.resolver))
		{
			orders.GET("", h.listOrders)
			orders.GET("/:id", h.getOrder)
		}

		admin := v1.Group("/admin", requireAdmin(h.resolver))
		{
			admin.PUT("/orders/:id/status", h.setOrderStatus)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) getCart(c *gin.Context) {
	view, err := h.carts.GetCart(c.Request.Context(), ownerIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req service.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	cart, err := h.carts.AddItem(c.Request.Context(), ownerIdentity(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) updateCartItem(c *gin.Context) {
	var req service.UpdateQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	cart, err := h.carts.UpdateQuantity(c.Request.Context(), ownerIdentity(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	var req service.RemoveItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	cart, err := h.carts.RemoveItem(c.Request.Context(), ownerIdentity(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

type mergeCartRequest struct {
	GuestID string `json:"guest_id" binding:"required"`
}

func (h *Handler) mergeCart(c *gin.Context) {
	var req mergeCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	cart, err := h.carts.Merge(c.Request.Context(), req.GuestID, userIdentity(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) createCheckout(c *gin.Context) {
	var req service.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	checkout, err := h.checkouts.CreateCheckout(c.Request.Context(), userIdentity(c).UserID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, checkout)
}

func (h *Handler) markPaid(c *gin.Context) {
	checkoutID, ok := pathID(c)
	if !ok {
		return
	}

	var details json.RawMessage
	if err := c.ShouldBindJSON(&details); err != nil {
		respondBindError(c, err)
		return
	}

	identity := userIdentity(c)
	checkout, err := h.checkouts.MarkPaid(c.Request.Context(), checkoutID, identity.UserID, identity.IsAdmin, details)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, checkout)
}

func (h *Handler) finalizeCheckout(c *gin.Context) {
	checkoutID, ok := pathID(c)
	if !ok {
		return
	}

	identity := userIdentity(c)
	order, err := h.checkouts.Finalize(c.Request.Context(), checkoutID, identity.UserID, identity.IsAdmin)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

type paymentURLRequest struct {
	Gateway string `json:"gateway" binding:"required"`
}

func (h *Handler) createPaymentURL(c *gin.Context) {
	checkoutID, ok := pathID(c)
	if !ok {
		return
	}

	var req paymentURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	gw, ok := h.gateways[req.Gateway]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported gateway " + req.Gateway})
		return
	}

	identity := userIdentity(c)
	url, err := h.checkouts.CreatePaymentURL(c.Request.Context(), gw, checkoutID, identity.UserID, identity.IsAdmin, c.ClientIP())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_url": url})
}

// gatewayCallback reconciles asynchronous gateway callbacks. The response
// body always uses the gateway's documented acknowledgment shape; the
// gateway redelivers on anything else.
func (h *Handler) gatewayCallback(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		gw, ok := h.gateways[name]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown gateway"})
			return
		}

		var payload []byte
		if c.Request.Method == http.MethodGet {
			payload = []byte(c.Request.URL.RawQuery)
		} else {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				c.JSON(http.StatusOK, gw.AckFailure(err))
				return
			}
			payload = body
		}

		if err := h.checkouts.HandleGatewayCallback(c.Request.Context(), gw, payload); err != nil {
			c.JSON(http.StatusOK, gw.AckFailure(err))
			return
		}
		c.JSON(http.StatusOK, gw.AckSuccess())
	}
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), userIdentity(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	identity := userIdentity(c)
	order, err := h.orders.GetOrderFor(c.Request.Context(), orderID, identity.UserID, identity.IsAdmin)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) setOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var req service.SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	order, err := h.orders.SetStatus(c.Request.Context(), orderID, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func respondBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid request body",
		"details": err.Error(),
	})
}

func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
