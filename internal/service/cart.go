package service

import (
	"context"
	"errors"
	"fmt"

	"flowerbelle/backend/internal/domain"
	"flowerbelle/backend/internal/store"
)

func cartUserID(ctx context.Context) (int64, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID < 1 {
		return 0, fmt.Errorf("%w: cart requires a signed-in user", ErrForbidden)
	}
	return actor.UserID, nil
}

// GetCart returns the user's active cart, creating an empty one when none
// exists.
func (s *Service) GetCart(ctx context.Context) (domain.CartResponse, error) {
	userID, err := cartUserID(ctx)
	if err != nil {
		return domain.CartResponse{}, err
	}

	var cart domain.Cart
	err = s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		active, err := s.lockOrCreateCart(ctx, tx, userID)
		if err != nil {
			return err
		}
		cart = *active
		return nil
	})
	if err != nil {
		return domain.CartResponse{}, err
	}
	return toCartResponse(cart), nil
}

// AddToCart adds qty of a product, merging with an existing line. The price
// snapshot of an existing line is kept.
func (s *Service) AddToCart(ctx context.Context, req domain.CartAddRequest) (domain.CartResponse, error) {
	userID, err := cartUserID(ctx)
	if err != nil {
		return domain.CartResponse{}, err
	}
	if req.Quantity < 1 {
		return domain.CartResponse{}, fmt.Errorf("%w: quantity must be at least 1", store.ErrValidation)
	}

	return s.mutateCart(ctx, userID, func(ctx context.Context, tx store.Tx, cart *domain.Cart) error {
		product, err := getProduct(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		if !product.IsActive {
			return fmt.Errorf("%w: %s is not available for sale", store.ErrValidation, product.Name)
		}

		quantity := req.Quantity
		unitPrice := product.UnitPrice
		for _, item := range cart.Items {
			if item.ProductID == product.ID {
				quantity += item.Quantity
				unitPrice = item.UnitPrice
				break
			}
		}
		if quantity > product.CurrentStock {
			return store.InsufficientStock(product.Name, product.CurrentStock, quantity)
		}

		_, err = tx.UpsertCartItem(ctx, domain.CartItem{
			CartID:    cart.ID,
			ProductID: product.ID,
			Quantity:  quantity,
			UnitPrice: unitPrice,
			AddedAt:   s.now().UTC(),
		})
		return err
	})
}

func (s *Service) UpdateCartItem(ctx context.Context, itemID int64, req domain.CartUpdateRequest) (domain.CartResponse, error) {
	userID, err := cartUserID(ctx)
	if err != nil {
		return domain.CartResponse{}, err
	}
	if req.Quantity < 1 {
		return domain.CartResponse{}, fmt.Errorf("%w: quantity must be at least 1", store.ErrValidation)
	}

	return s.mutateCart(ctx, userID, func(ctx context.Context, tx store.Tx, cart *domain.Cart) error {
		item, err := findCartItem(cart, itemID)
		if err != nil {
			return err
		}
		product, err := getProduct(ctx, tx, item.ProductID)
		if err != nil {
			return err
		}
		if req.Quantity > product.CurrentStock {
			return store.InsufficientStock(product.Name, product.CurrentStock, req.Quantity)
		}
		return tx.UpdateCartItemQuantity(ctx, cart.ID, item.ID, req.Quantity)
	})
}

func (s *Service) RemoveCartItem(ctx context.Context, itemID int64) (domain.CartResponse, error) {
	userID, err := cartUserID(ctx)
	if err != nil {
		return domain.CartResponse{}, err
	}

	return s.mutateCart(ctx, userID, func(ctx context.Context, tx store.Tx, cart *domain.Cart) error {
		item, err := findCartItem(cart, itemID)
		if err != nil {
			return err
		}
		return tx.DeleteCartItem(ctx, cart.ID, item.ID)
	})
}

func (s *Service) ClearCart(ctx context.Context) (domain.CartResponse, error) {
	userID, err := cartUserID(ctx)
	if err != nil {
		return domain.CartResponse{}, err
	}

	return s.mutateCart(ctx, userID, func(ctx context.Context, tx store.Tx, cart *domain.Cart) error {
		return tx.ClearCart(ctx, cart.ID)
	})
}

// mutateCart runs apply against the locked active cart and returns the cart
// as it stands afterwards.
func (s *Service) mutateCart(ctx context.Context, userID int64, apply func(ctx context.Context, tx store.Tx, cart *domain.Cart) error) (domain.CartResponse, error) {
	var cart domain.Cart
	err := s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		active, err := s.lockOrCreateCart(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := apply(ctx, tx, active); err != nil {
			return err
		}
		refreshed, err := tx.LockActiveCart(ctx, userID)
		if err != nil {
			return err
		}
		cart = *refreshed
		return nil
	})
	if err != nil {
		return domain.CartResponse{}, err
	}
	return toCartResponse(cart), nil
}

func (s *Service) lockOrCreateCart(ctx context.Context, tx store.Tx, userID int64) (*domain.Cart, error) {
	cart, err := tx.LockActiveCart(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return tx.InsertCart(ctx, domain.Cart{
		UserID:    userID,
		SessionID: fmt.Sprintf("CART-%d-%d", userID, s.now().Unix()),
		IsActive:  true,
	})
}

func findCartItem(cart *domain.Cart, itemID int64) (domain.CartItem, error) {
	for _, item := range cart.Items {
		if item.ID == itemID {
			return item, nil
		}
	}
	return domain.CartItem{}, fmt.Errorf("%w: cart item %d", store.ErrNotFound, itemID)
}

func toCartResponse(cart domain.Cart) domain.CartResponse {
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return domain.CartResponse{
		Cart:      cart,
		ItemCount: cart.ItemCount(),
		Subtotal:  cart.Subtotal(),
	}
}
