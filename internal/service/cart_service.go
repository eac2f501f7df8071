package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"
)

const (
	cartSaveAttempts = 3
	mergeLockTTL     = 10 * time.Second
)

// Identity is the owner of a cart: a registered user or a guest, never
// both.
type Identity struct {
	UserID  *int64
	GuestID *string
}

// Valid reports whether exactly one owner is set.
func (id Identity) Valid() bool {
	return (id.UserID != nil) != (id.GuestID != nil)
}

// UserIdentity builds a user-owned identity.
func UserIdentity(userID int64) Identity {
	return Identity{UserID: &userID}
}

// GuestIdentity builds a guest-owned identity.
func GuestIdentity(guestID string) Identity {
	return Identity{GuestID: &guestID}
}

// CartService handles cart mutations and read-time stock reconciliation.
type CartService struct {
	carts    CartStore
	products ProductReader
	locks    Locker
	logger   *zap.Logger
}

// NewCartService creates a new cart service. locks may be nil when no
// distributed lock backend is available.
func NewCartService(carts CartStore, products ProductReader, locks Locker) *CartService {
	return &CartService{
		carts:    carts,
		products: products,
		locks:    locks,
		logger:   util.GetLogger(),
	}
}

// AddItemRequest adds quantity of a product variant to a cart.
type AddItemRequest struct {
	ProductID int64  `json:"product_id" binding:"required"`
	Size      string `json:"size" binding:"required"`
	Color     string `json:"color" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// UpdateQuantityRequest sets the quantity of an existing line item;
// quantity 0 removes it.
type UpdateQuantityRequest struct {
	ProductID int64  `json:"product_id" binding:"required"`
	Size      string `json:"size" binding:"required"`
	Color     string `json:"color" binding:"required"`
	Quantity  int    `json:"quantity" binding:"min=0"`
}

// RemoveItemRequest removes a line item by its composite key.
type RemoveItemRequest struct {
	ProductID int64  `json:"product_id" binding:"required"`
	Size      string `json:"size" binding:"required"`
	Color     string `json:"color" binding:"required"`
}

// RemovedItem reports a line item dropped during reconciliation.
type RemovedItem struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Reason    string `json:"reason"`
}

// AdjustedItem reports a line item clamped to current stock.
type AdjustedItem struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	OldQty    int    `json:"old_qty"`
	NewQty    int    `json:"new_qty"`
}

// CartView is a reconciled cart plus what reconciliation changed.
type CartView struct {
	Cart     *models.Cart   `json:"cart"`
	Removed  []RemovedItem  `json:"removed,omitempty"`
	Adjusted []AdjustedItem `json:"adjusted,omitempty"`
}

// GetOrCreate returns the identity's cart, creating an empty one when
// none exists.
func (s *CartService) GetOrCreate(ctx context.Context, identity Identity) (*models.Cart, error) {
	if !identity.Valid() {
		return nil, apperr.Validationf("cart owner must be exactly one of user or guest")
	}

	cart, err := s.loadCart(ctx, identity)
	if err != nil {
		return nil, err
	}
	if cart != nil {
		return cart, nil
	}

	cart = &models.Cart{
		UserID:  identity.UserID,
		GuestID: identity.GuestID,
		Items:   []models.CartItem{},
	}
	if err := s.carts.CreateCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return cart, nil
}

func (s *CartService) loadCart(ctx context.Context, identity Identity) (*models.Cart, error) {
	if identity.UserID != nil {
		return s.carts.GetCartByUserID(ctx, *identity.UserID)
	}
	return s.carts.GetCartByGuestID(ctx, *identity.GuestID)
}

// mutate runs fn against a freshly loaded cart, recomputes the total and
// saves under the version guard, retrying on concurrent-save conflicts.
func (s *CartService) mutate(ctx context.Context, identity Identity, fn func(cart *models.Cart) error) (*models.Cart, error) {
	for attempt := 0; attempt < cartSaveAttempts; attempt++ {
		cart, err := s.GetOrCreate(ctx, identity)
		if err != nil {
			return nil, err
		}

		if err := fn(cart); err != nil {
			return nil, err
		}
		cart.RecomputeTotal()

		err = s.carts.SaveCart(ctx, cart)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to save cart: %w", err)
		}
		util.CartVersionConflictsTotal.Inc()
	}
	return nil, apperr.Conflictf("cart was modified concurrently, please retry")
}

// AddItem appends a line item or increments an existing one, carrying a
// fresh price/stock snapshot.
func (s *CartService) AddItem(ctx context.Context, identity Identity, req AddItemRequest) (*models.Cart, error) {
	if req.Quantity <= 0 {
		return nil, apperr.Validationf("quantity must be a positive integer")
	}

	product, err := s.products.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if err := validateVariant(product, req.Size, req.Color); err != nil {
		return nil, err
	}

	cart, err := s.mutate(ctx, identity, func(cart *models.Cart) error {
		quantity := req.Quantity
		if existing := cart.FindItem(req.ProductID, req.Size, req.Color); existing != nil {
			quantity += existing.Quantity
		}
		if quantity > product.CountInStock {
			return apperr.Validationf("requested quantity %d exceeds available stock %d for product %q",
				quantity, product.CountInStock, product.Name)
		}

		if existing := cart.FindItem(req.ProductID, req.Size, req.Color); existing != nil {
			existing.Quantity = quantity
			refreshSnapshot(existing, product)
			return nil
		}

		item := models.CartItem{
			ProductID: req.ProductID,
			Size:      req.Size,
			Color:     req.Color,
			Quantity:  quantity,
		}
		refreshSnapshot(&item, product)
		cart.Items = append(cart.Items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.CartMutationsTotal.WithLabelValues("add").Inc()
	return cart, nil
}

// UpdateQuantity sets a line item's quantity; zero removes the item.
func (s *CartService) UpdateQuantity(ctx context.Context, identity Identity, req UpdateQuantityRequest) (*models.Cart, error) {
	if req.Quantity < 0 {
		return nil, apperr.Validationf("quantity must not be negative")
	}

	cart, err := s.mutate(ctx, identity, func(cart *models.Cart) error {
		idx := -1
		for i := range cart.Items {
			it := &cart.Items[i]
			if it.ProductID == req.ProductID && it.Size == req.Size && it.Color == req.Color {
				idx = i
				break
			}
		}
		if idx == -1 {
			return apperr.NotFoundf("item (product %d, size %q, color %q) not in cart",
				req.ProductID, req.Size, req.Color)
		}

		if req.Quantity == 0 {
			cart.RemoveItemAt(idx)
			return nil
		}

		product, err := s.products.GetProductByID(ctx, req.ProductID)
		if err != nil {
			return err
		}
		if req.Quantity > product.CountInStock {
			return apperr.Validationf("requested quantity %d exceeds available stock %d for product %q",
				req.Quantity, product.CountInStock, product.Name)
		}

		item := &cart.Items[idx]
		item.Quantity = req.Quantity
		refreshSnapshot(item, product)
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.CartMutationsTotal.WithLabelValues("update").Inc()
	return cart, nil
}

// RemoveItem removes a line item; a missing key is an error.
func (s *CartService) RemoveItem(ctx context.Context, identity Identity, req RemoveItemRequest) (*models.Cart, error) {
	cart, err := s.mutate(ctx, identity, func(cart *models.Cart) error {
		for i := range cart.Items {
			it := &cart.Items[i]
			if it.ProductID == req.ProductID && it.Size == req.Size && it.Color == req.Color {
				cart.RemoveItemAt(i)
				return nil
			}
		}
		return apperr.NotFoundf("item (product %d, size %q, color %q) not in cart",
			req.ProductID, req.Size, req.Color)
	})
	if err != nil {
		return nil, err
	}

	util.CartMutationsTotal.WithLabelValues("remove").Inc()
	return cart, nil
}

// GetCart returns the cart after reconciling every line item against
// current stock. This is a side-effecting read: dropped and clamped items
// are persisted, so a returned cart never holds a quantity above stock.
func (s *CartService) GetCart(ctx context.Context, identity Identity) (*CartView, error) {
	if !identity.Valid() {
		return nil, apperr.Validationf("cart owner must be exactly one of user or guest")
	}

	cart, err := s.loadCart(ctx, identity)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return &CartView{Cart: &models.Cart{Items: []models.CartItem{}}}, nil
	}

	view := &CartView{Cart: cart}
	if len(cart.Items) == 0 {
		return view, nil
	}

	ids := make([]int64, 0, len(cart.Items))
	for i := range cart.Items {
		ids = append(ids, cart.Items[i].ProductID)
	}
	products, err := s.products.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products for reconciliation: %w", err)
	}
	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	changed := false
	kept := cart.Items[:0]
	for i := range cart.Items {
		item := cart.Items[i]
		product, ok := byID[item.ProductID]

		if !ok || product.CountInStock == 0 {
			reason := "product no longer available"
			if ok {
				reason = "out of stock"
			}
			view.Removed = append(view.Removed, RemovedItem{
				ProductID: item.ProductID,
				Size:      item.Size,
				Color:     item.Color,
				Reason:    reason,
			})
			util.CartItemsAdjustedTotal.WithLabelValues("removed").Inc()
			changed = true
			continue
		}

		if item.Quantity > product.CountInStock {
			view.Adjusted = append(view.Adjusted, AdjustedItem{
				ProductID: item.ProductID,
				Size:      item.Size,
				Color:     item.Color,
				OldQty:    item.Quantity,
				NewQty:    product.CountInStock,
			})
			util.CartItemsAdjustedTotal.WithLabelValues("clamped").Inc()
			item.Quantity = product.CountInStock
			changed = true
		}

		if item.Price != product.Price || item.CountInStock != product.CountInStock ||
			!equalDiscount(item.DiscountPrice, product.DiscountPrice) {
			refreshSnapshot(&item, product)
			changed = true
		}
		kept = append(kept, item)
	}
	cart.Items = kept

	if changed {
		cart.RecomputeTotal()
		if err := s.carts.SaveCart(ctx, cart); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				// A concurrent mutation won; the next read reconciles again.
				s.logger.Info("Skipped persisting cart reconciliation after concurrent update",
					zap.Int64("cart_id", cart.ID))
				return view, nil
			}
			return nil, fmt.Errorf("failed to persist cart reconciliation: %w", err)
		}
	}
	return view, nil
}

// Merge folds a guest cart into a user cart, then deletes the guest cart.
// Retrying after the guest cart is gone is a no-op. The merge lock keeps
// concurrent merges and mutations of the same user cart from interleaving.
func (s *CartService) Merge(ctx context.Context, guestID string, userID int64) (*models.Cart, error) {
	if guestID == "" {
		return nil, apperr.Validationf("guest id is required")
	}

	if s.locks != nil {
		lockKey := fmt.Sprintf("cart-merge:user:%d", userID)
		ok, err := s.locks.AcquireLock(ctx, lockKey, mergeLockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire merge lock: %w", err)
		}
		if !ok {
			return nil, apperr.Conflictf("cart merge already in progress")
		}
		defer func() {
			if err := s.locks.ReleaseLock(ctx, lockKey); err != nil {
				s.logger.Warn("Failed to release merge lock",
					zap.Int64("user_id", userID),
					zap.Error(err))
			}
		}()
	}

	guestCart, err := s.carts.GetCartByGuestID(ctx, guestID)
	if err != nil {
		return nil, err
	}
	if guestCart == nil || len(guestCart.Items) == 0 {
		if guestCart != nil {
			if err := s.carts.DeleteCart(ctx, guestCart.ID); err != nil {
				s.logger.Warn("Failed to delete empty guest cart", zap.Error(err))
			}
		}
		return s.GetOrCreate(ctx, UserIdentity(userID))
	}

	ids := make([]int64, 0, len(guestCart.Items))
	for i := range guestCart.Items {
		ids = append(ids, guestCart.Items[i].ProductID)
	}
	products, err := s.products.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products for merge: %w", err)
	}
	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	userCart, err := s.mutate(ctx, UserIdentity(userID), func(cart *models.Cart) error {
		for i := range guestCart.Items {
			guestItem := guestCart.Items[i]
			product, ok := byID[guestItem.ProductID]
			if !ok {
				return apperr.NotFoundf("product %d from guest cart no longer exists", guestItem.ProductID)
			}

			quantity := guestItem.Quantity
			if existing := cart.FindItem(guestItem.ProductID, guestItem.Size, guestItem.Color); existing != nil {
				quantity += existing.Quantity
			}
			if quantity > product.CountInStock {
				return apperr.InsufficientStockf("insufficient stock for product %q: requested %d, available %d",
					product.Name, quantity, product.CountInStock)
			}

			if existing := cart.FindItem(guestItem.ProductID, guestItem.Size, guestItem.Color); existing != nil {
				existing.Quantity = quantity
				refreshSnapshot(existing, product)
				continue
			}

			item := models.CartItem{
				ProductID: guestItem.ProductID,
				Size:      guestItem.Size,
				Color:     guestItem.Color,
				Quantity:  quantity,
			}
			refreshSnapshot(&item, product)
			cart.Items = append(cart.Items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.carts.DeleteCart(ctx, guestCart.ID); err != nil {
		// The merge is committed; a retry sees no guest cart and no-ops.
		s.logger.Warn("Failed to delete guest cart after merge",
			zap.Int64("guest_cart_id", guestCart.ID),
			zap.Error(err))
	}

	util.CartMergesTotal.Inc()
	return userCart, nil
}

func validateVariant(product *models.Product, size, color string) error {
	if !product.HasSize(size) {
		return apperr.Validationf("size %q is not available for product %q", size, product.Name)
	}
	if !product.HasColor(color) {
		return apperr.Validationf("color %q is not available for product %q", color, product.Name)
	}
	return nil
}

func refreshSnapshot(item *models.CartItem, product *models.Product) {
	item.Name = product.Name
	item.Price = product.Price
	item.DiscountPrice = product.DiscountPrice
	item.CountInStock = product.CountInStock
}

func equalDiscount(a, b *float64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}
