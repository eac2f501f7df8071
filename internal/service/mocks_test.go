package service

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx/types"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
	"storefront-service/internal/store"
)

// In-memory store fakes. They mirror the real store's conditional-update
// semantics (version guard, stock guard, finalize claim) under a mutex so
// the concurrency tests exercise the same guarantees.

type fakeProducts struct {
	mu       sync.Mutex
	products map[int64]*models.Product
}

func newFakeProducts(products ...*models.Product) *fakeProducts {
	f := &fakeProducts{products: make(map[int64]*models.Product)}
	for _, p := range products {
		cp := *p
		f.products[p.ID] = &cp
	}
	return f
}

func (f *fakeProducts) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, apperr.NotFoundf("product %d not found", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProducts) GetProductsByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Product, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if p, ok := f.products[id]; ok && !seen[id] {
			out = append(out, *p)
			seen[id] = true
		}
	}
	return out, nil
}

func (f *fakeProducts) DecrementStock(_ context.Context, productID int64, quantity int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok || p.CountInStock < quantity {
		return false, nil
	}
	p.CountInStock -= quantity
	return true, nil
}

func (f *fakeProducts) IncrementTotalSold(_ context.Context, productID int64, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.products[productID]; ok {
		p.TotalSold += quantity
	}
	return nil
}

func (f *fakeProducts) stock(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[id].CountInStock
}

func (f *fakeProducts) totalSold(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[id].TotalSold
}

type fakeCarts struct {
	mu    sync.Mutex
	seq   int64
	carts map[int64]*models.Cart
	// failSaves forces the next N saves to report a version conflict.
	failSaves int
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{carts: make(map[int64]*models.Cart)}
}

func copyCart(c *models.Cart) *models.Cart {
	cp := *c
	cp.Items = append([]models.CartItem(nil), c.Items...)
	return &cp
}

func (f *fakeCarts) GetCartByUserID(_ context.Context, userID int64) (*models.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.carts {
		if c.UserID != nil && *c.UserID == userID {
			return copyCart(c), nil
		}
	}
	return nil, nil
}

func (f *fakeCarts) GetCartByGuestID(_ context.Context, guestID string) (*models.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.carts {
		if c.GuestID != nil && *c.GuestID == guestID {
			return copyCart(c), nil
		}
	}
	return nil, nil
}

func (f *fakeCarts) CreateCart(_ context.Context, cart *models.Cart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	cart.ID = f.seq
	cart.Version = 1
	cart.CreatedAt = time.Now()
	cart.UpdatedAt = cart.CreatedAt
	f.carts[cart.ID] = copyCart(cart)
	return nil
}

func (f *fakeCarts) SaveCart(_ context.Context, cart *models.Cart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaves > 0 {
		f.failSaves--
		return store.ErrVersionConflict
	}
	stored, ok := f.carts[cart.ID]
	if !ok || stored.Version != cart.Version {
		return store.ErrVersionConflict
	}
	cart.Version++
	cart.UpdatedAt = time.Now()
	f.carts[cart.ID] = copyCart(cart)
	return nil
}

func (f *fakeCarts) DeleteCart(_ context.Context, cartID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.carts, cartID)
	return nil
}

func (f *fakeCarts) DeleteCartByUserID(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.carts {
		if c.UserID != nil && *c.UserID == userID {
			delete(f.carts, id)
		}
	}
	return nil
}

type fakeCheckouts struct {
	mu        sync.Mutex
	seq       int64
	checkouts map[int64]*models.CheckoutSession
}

func newFakeCheckouts() *fakeCheckouts {
	return &fakeCheckouts{checkouts: make(map[int64]*models.CheckoutSession)}
}

func copyCheckout(c *models.CheckoutSession) *models.CheckoutSession {
	cp := *c
	cp.Items = append([]models.CheckoutItem(nil), c.Items...)
	return &cp
}

func (f *fakeCheckouts) CreateCheckout(_ context.Context, checkout *models.CheckoutSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	checkout.ID = f.seq
	checkout.CreatedAt = time.Now()
	f.checkouts[checkout.ID] = copyCheckout(checkout)
	return nil
}

func (f *fakeCheckouts) GetCheckoutByID(_ context.Context, id int64) (*models.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.checkouts[id]
	if !ok {
		return nil, apperr.NotFoundf("checkout %d not found", id)
	}
	return copyCheckout(c), nil
}

func (f *fakeCheckouts) MarkCheckoutPaid(_ context.Context, id int64, paidAt time.Time, details types.JSONText) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.checkouts[id]
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

func (f *fakeCheckouts) ClaimFinalize(_ context.Context, id int64, finalizedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.checkouts[id]
	if !ok || c.IsFinalized {
		return false, nil
	}
	c.IsFinalized = true
	c.FinalizedAt = &finalizedAt
	return true, nil
}

func (f *fakeCheckouts) ReleaseFinalize(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.checkouts[id]; ok {
		c.IsFinalized = false
		c.FinalizedAt = nil
	}
	return nil
}

type fakeOrders struct {
	mu     sync.Mutex
	seq    int64
	orders map[int64]*models.Order
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: make(map[int64]*models.Order)}
}

func copyOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	return &cp
}

func (f *fakeOrders) CreateOrder(_ context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	order.ID = f.seq
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	f.orders[order.ID] = copyOrder(order)
	return nil
}

func (f *fakeOrders) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, apperr.NotFoundf("order %d not found", id)
	}
	return copyOrder(o), nil
}

func (f *fakeOrders) GetOrdersByUserID(_ context.Context, userID int64) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *copyOrder(o))
		}
	}
	return out, nil
}

func (f *fakeOrders) UpdateOrderStatus(_ context.Context, orderID int64, fromStatus, status string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.Status != fromStatus {
		return false, nil
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeOrders) MarkOrderDelivered(_ context.Context, orderID int64, fromStatus string, deliveredAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.Status != fromStatus {
		return false, nil
	}
	o.Status = models.OrderStatusDelivered
	o.IsDelivered = true
	o.DeliveredAt = &deliveredAt
	o.IsPaid = true
	o.PaymentStatus = models.PaymentStatusPaid
	if o.PaidAt == nil {
		o.PaidAt = &deliveredAt
	}
	o.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (f *fakeLocker) AcquireLock(_ context.Context, lockKey string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[lockKey] {
		return false, nil
	}
	f.held[lockKey] = true
	return true, nil
}

func (f *fakeLocker) ReleaseLock(_ context.Context, lockKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, lockKey)
	return nil
}

type fakePublisher struct {
	mu         sync.Mutex
	created    []*models.OrderCreatedEvent
	statuses   []*models.OrderStatusChangedEvent
	reconciled []*models.PaymentReconciledEvent
}

func (f *fakePublisher) PublishOrderCreated(_ context.Context, event *models.OrderCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, event)
	return nil
}

func (f *fakePublisher) PublishOrderStatusChanged(_ context.Context, event *models.OrderStatusChangedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, event)
	return nil
}

func (f *fakePublisher) PublishPaymentReconciled(_ context.Context, event *models.PaymentReconciledEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled = append(f.reconciled, event)
	return nil
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated []int64
}

func (f *fakeCache) InvalidateProducts(_ context.Context, productIDs ...int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, productIDs...)
	return nil
}
