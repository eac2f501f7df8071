package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-service/config"
	"storefront-service/internal/apperr"
	"storefront-service/internal/auth"
	"storefront-service/internal/gateway"
	"storefront-service/internal/models"
	"storefront-service/internal/service"
)

type staticResolver struct {
	tokens map[string]*auth.Identity
}

func (r *staticResolver) Resolve(_ context.Context, token string) (*auth.Identity, error) {
	identity, ok := r.tokens[token]
	if !ok {
		return nil, apperr.Authf("invalid token")
	}
	return identity, nil
}

// Minimal in-memory stores backing the services under httptest. The
// handler tests only cover routing, auth and response shapes; the service
// tests own the business rules.

type memProducts struct {
	products map[int64]*models.Product
}

func (m *memProducts) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, apperr.NotFoundf("product %d not found", id)
	}
	return p, nil
}

func (m *memProducts) GetProductsByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	out := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memProducts) DecrementStock(_ context.Context, productID int64, quantity int) (bool, error) {
	p, ok := m.products[productID]
	if !ok || p.CountInStock < quantity {
		return false, nil
	}
	p.CountInStock -= quantity
	return true, nil
}

func (m *memProducts) IncrementTotalSold(_ context.Context, productID int64, quantity int) error {
	if p, ok := m.products[productID]; ok {
		p.TotalSold += quantity
	}
	return nil
}

type memCarts struct {
	seq   int64
	carts map[int64]*models.Cart
}

func (m *memCarts) GetCartByUserID(_ context.Context, userID int64) (*models.Cart, error) {
	for _, c := range m.carts {
		if c.UserID != nil && *c.UserID == userID {
			return c, nil
		}
	}
	return nil, nil
}

func (m *memCarts) GetCartByGuestID(_ context.Context, guestID string) (*models.Cart, error) {
	for _, c := range m.carts {
		if c.GuestID != nil && *c.GuestID == guestID {
			return c, nil
		}
	}
	return nil, nil
}

func (m *memCarts) CreateCart(_ context.Context, cart *models.Cart) error {
	m.seq++
	cart.ID = m.seq
	cart.Version = 1
	m.carts[cart.ID] = cart
	return nil
}

func (m *memCarts) SaveCart(_ context.Context, cart *models.Cart) error {
	m.carts[cart.ID] = cart
	return nil
}

func (m *memCarts) DeleteCart(_ context.Context, cartID int64) error {
	delete(m.carts, cartID)
	return nil
}

func (m *memCarts) DeleteCartByUserID(_ context.Context, userID int64) error {
	for id, c := range m.carts {
		if c.UserID != nil && *c.UserID == userID {
			delete(m.carts, id)
		}
	}
	return nil
}

type memCheckouts struct {
	seq       int64
	checkouts map[int64]*models.CheckoutSession
}

func (m *memCheckouts) CreateCheckout(_ context.Context, checkout *models.CheckoutSession) error {
	m.seq++
	checkout.ID = m.seq
	m.checkouts[checkout.ID] = checkout
	return nil
}

func (m *memCheckouts) GetCheckoutByID(_ context.Context, id int64) (*models.CheckoutSession, error) {
	c, ok := m.checkouts[id]
	if !ok {
		return nil, apperr.NotFoundf("checkout %d not found", id)
	}
	return c, nil
}

func (m *memCheckouts) MarkCheckoutPaid(_ context.Context, id int64, paidAt time.Time, details types.JSONText) error {
	c, ok := m.checkouts[id]
	if !ok {
		return apperr.NotFoundf("checkout %d not found", id)
	}
	if c.IsFinalized {
		return apperr.AlreadyFinalizedf("checkout %d is already finalized", id)
	}
	c.IsPaid = true
	c.PaymentStatus = models.PaymentStatusPaid
	c.PaidAt = &paidAt
	c.PaymentDetails = details
	return nil
}

func (m *memCheckouts) ClaimFinalize(_ context.Context, id int64, finalizedAt time.Time) (bool, error) {
	c, ok := m.checkouts[id]
	if !ok || c.IsFinalized {
		return false, nil
	}
	c.IsFinalized = true
	c.FinalizedAt = &finalizedAt
	return true, nil
}

func (m *memCheckouts) ReleaseFinalize(_ context.Context, id int64) error {
	if c, ok := m.checkouts[id]; ok {
		c.IsFinalized = false
		c.FinalizedAt = nil
	}
	return nil
}

type memOrders struct {
	seq    int64
	orders map[int64]*models.Order
}

func (m *memOrders) CreateOrder(_ context.Context, order *models.Order) error {
	m.seq++
	order.ID = m.seq
	m.orders[order.ID] = order
	return nil
}

func (m *memOrders) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, apperr.NotFoundf("order %d not found", id)
	}
	return o, nil
}

func (m *memOrders) GetOrdersByUserID(_ context.Context, userID int64) ([]models.Order, error) {
	var out []models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrders) UpdateOrderStatus(_ context.Context, orderID int64, fromStatus, status string) (bool, error) {
	o, ok := m.orders[orderID]
	if !ok || o.Status != fromStatus {
		return false, nil
	}
	o.Status = status
	return true, nil
}

func (m *memOrders) MarkOrderDelivered(_ context.Context, orderID int64, fromStatus string, deliveredAt time.Time) (bool, error) {
	o, ok := m.orders[orderID]
	if !ok || o.Status != fromStatus {
		return false, nil
	}
	o.Status = models.OrderStatusDelivered
	o.IsDelivered = true
	o.DeliveredAt = &deliveredAt
	o.IsPaid = true
	o.PaymentStatus = models.PaymentStatusPaid
	return true, nil
}

type testEnv struct {
	router   *gin.Engine
	products *memProducts
	orders   *memOrders
	vnpay    *gateway.VNPay
}

func newTestEnv() *testEnv {
	gin.SetMode(gin.TestMode)

	products := &memProducts{products: map[int64]*models.Product{
		1: {ID: 1, SKU: "SHIRT", Name: "shirt", Price: 50, CountInStock: 10,
			Sizes: []string{"S", "M", "L"}, Colors: []string{"black"}},
	}}
	carts := &memCarts{carts: map[int64]*models.Cart{}}
	checkouts := &memCheckouts{checkouts: map[int64]*models.CheckoutSession{}}
	orders := &memOrders{orders: map[int64]*models.Order{}}

	resolver := &staticResolver{tokens: map[string]*auth.Identity{
		"user-token":  {UserID: 7},
		"other-token": {UserID: 8},
		"admin-token": {UserID: 1, IsAdmin: true},
	}}

	vnpay := gateway.NewVNPay(config.VNPayConfig{
		TmnCode:    "TEST01",
		HashSecret: "test-hash-secret",
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://shop.example/checkout/return",
	})

	cartService := service.NewCartService(carts, products, nil)
	checkoutService := service.NewCheckoutService(checkouts, orders, products, carts, nil, nil)
	orderService := service.NewOrderService(orders, products, nil, nil)

	router := gin.New()
	handler := NewHandler(cartService, checkoutService, orderService, resolver,
		map[string]gateway.Gateway{"vnpay": vnpay})
	handler.SetupRoutes(router)

	return &testEnv{router: router, products: products, orders: orders, vnpay: vnpay}
}

func (env *testEnv) do(method, path, token, guestID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if guestID != "" {
		req.Header.Set("X-Guest-Id", guestID)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestCartRequiresIdentity(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodGet, "/api/v1/cart", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/cart", "bogus-token", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGuestCartFlow(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/api/v1/cart", "", "guest-1",
		`{"product_id":1,"size":"M","color":"black","quantity":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/v1/cart", "", "guest-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Cart models.Cart `json:"cart"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Cart.Items, 1)
	assert.Equal(t, 2, view.Cart.Items[0].Quantity)
	assert.Equal(t, 100.0, view.Cart.TotalPrice)
}

func TestCheckoutRejectsGuests(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/api/v1/checkout", "", "guest-1", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutAndFinalizeFlow(t *testing.T) {
	env := newTestEnv()

	body := `{
		"checkout_items":[{"product_id":1,"name":"shirt","size":"M","color":"black","quantity":2,"price":50}],
		"shipping_address":{"full_name":"Nguyen Van A","street":"1 Le Loi","city":"Da Nang","postal_code":"550000","country":"VN"},
		"payment_method":"cod",
		"total_price":100
	}`
	rec := env.do(http.MethodPost, "/api/v1/checkout", "user-token", "", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var checkout models.CheckoutSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checkout))
	assert.Equal(t, models.PaymentStatusUnpaid, checkout.PaymentStatus)

	rec = env.do(http.MethodPost, "/api/v1/checkout/1/finalize", "user-token", "", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 8, env.products.products[1].CountInStock)

	// A second finalize maps AlreadyFinalized to a 400.
	rec = env.do(http.MethodPost, "/api/v1/checkout/1/finalize", "user-token", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutHiddenFromOtherUsers(t *testing.T) {
	env := newTestEnv()

	body := `{
		"checkout_items":[{"product_id":1,"name":"shirt","size":"M","color":"black","quantity":2,"price":50}],
		"shipping_address":{"full_name":"Nguyen Van A","street":"1 Le Loi","city":"Da Nang","postal_code":"550000","country":"VN"},
		"payment_method":"cod",
		"total_price":100
	}`
	rec := env.do(http.MethodPost, "/api/v1/checkout", "user-token", "", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, "/api/v1/checkout/1/finalize", "other-token", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPut, "/api/v1/checkout/1/pay", "other-token", "", `{"source":"manual"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 10, env.products.products[1].CountInStock)

	rec = env.do(http.MethodPost, "/api/v1/checkout/1/finalize", "user-token", "", "")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestAdminStatusEndpointAuthorization(t *testing.T) {
	env := newTestEnv()
	env.orders.orders[1] = &models.Order{ID: 1, UserID: 7, Status: models.OrderStatusProcessing}
	env.orders.seq = 1

	rec := env.do(http.MethodPut, "/api/v1/admin/orders/1/status", "user-token", "", `{"status":"Shipped"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPut, "/api/v1/admin/orders/1/status", "admin-token", "", `{"status":"Shipped"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var order models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, models.OrderStatusShipped, order.Status)
}

func TestOrderVisibility(t *testing.T) {
	env := newTestEnv()
	env.orders.orders[1] = &models.Order{ID: 1, UserID: 99, Status: models.OrderStatusProcessing}
	env.orders.seq = 1

	rec := env.do(http.MethodGet, "/api/v1/orders/1", "user-token", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/orders/1", "admin-token", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVNPayCallbackBadSignatureAck(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodGet,
		"/api/v1/checkout/vnpay/callback?vnp_TxnRef=1&vnp_Amount=10000&vnp_SecureHash=deadbeef", "", "", "")

	// Gateways expect HTTP 200 with their documented error code.
	require.Equal(t, http.StatusOK, rec.Code)
	var ack map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "97", ack["RspCode"])
}

func TestPathIDValidation(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodGet, "/api/v1/orders/abc", "user-token", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
