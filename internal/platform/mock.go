package platform

import (
	"context"

	"cartsync/internal/model"
)

// Mock implements Platform for testing.
// Each method can be configured via function fields.
type Mock struct {
	CartFunc            func(ctx context.Context) (*model.CartSnapshot, error)
	SetQuantityFunc     func(ctx context.Context, key string, quantity int) (*model.QuantityResult, error)
	RemoveItemFunc      func(ctx context.Context, key string) (*model.QuantityResult, error)
	ApplyCouponFunc     func(ctx context.Context, code string) (*model.CouponResult, error)
	RemoveCouponFunc    func(ctx context.Context, code string) (*model.CouponResult, error)
	SelectShippingFunc  func(ctx context.Context, methodID string) error
	AddToCartFunc       func(ctx context.Context, req *model.AddToCart) error
	ProductFunc         func(ctx context.Context, id int) (*model.Product, error)
	ProductsFunc        func(ctx context.Context, q model.ProductQuery) ([]model.Product, error)
	VariableProductFunc func(ctx context.Context, id int) (*model.VariableProduct, error)
	SaveAddressFunc     func(ctx context.Context, form *model.CheckoutForm) error
	PlaceOrderFunc      func(ctx context.Context, form *model.CheckoutForm) (*model.OrderResult, error)
	RefreshTokenFunc    func(ctx context.Context) (*Bootstrap, error)
}

// Cart calls the configured CartFunc or returns an empty cart.
func (m *Mock) Cart(ctx context.Context) (*model.CartSnapshot, error) {
	if m.CartFunc != nil {
		return m.CartFunc(ctx)
	}
	return &model.CartSnapshot{}, nil
}

// SetQuantity calls the configured SetQuantityFunc or returns an error.
func (m *Mock) SetQuantity(ctx context.Context, key string, quantity int) (*model.QuantityResult, error) {
	if m.SetQuantityFunc != nil {
		return m.SetQuantityFunc(ctx, key, quantity)
	}
	return nil, model.NewApplicationError("Invalid cart item")
}

// RemoveItem calls the configured RemoveItemFunc or returns an error.
func (m *Mock) RemoveItem(ctx context.Context, key string) (*model.QuantityResult, error) {
	if m.RemoveItemFunc != nil {
		return m.RemoveItemFunc(ctx, key)
	}
	return nil, model.NewApplicationError("Invalid cart item")
}

// ApplyCoupon calls the configured ApplyCouponFunc or returns an error.
func (m *Mock) ApplyCoupon(ctx context.Context, code string) (*model.CouponResult, error) {
	if m.ApplyCouponFunc != nil {
		return m.ApplyCouponFunc(ctx, code)
	}
	return nil, model.NewApplicationError("Invalid coupon code")
}

// RemoveCoupon calls the configured RemoveCouponFunc or returns an error.
func (m *Mock) RemoveCoupon(ctx context.Context, code string) (*model.CouponResult, error) {
	if m.RemoveCouponFunc != nil {
		return m.RemoveCouponFunc(ctx, code)
	}
	return nil, model.NewApplicationError("Failed to remove coupon")
}

// SelectShipping calls the configured SelectShippingFunc or succeeds.
func (m *Mock) SelectShipping(ctx context.Context, methodID string) error {
	if m.SelectShippingFunc != nil {
		return m.SelectShippingFunc(ctx, methodID)
	}
	return nil
}

// AddToCart calls the configured AddToCartFunc or returns an error.
func (m *Mock) AddToCart(ctx context.Context, req *model.AddToCart) error {
	if m.AddToCartFunc != nil {
		return m.AddToCartFunc(ctx, req)
	}
	return model.NewApplicationError("Failed to add to cart")
}

// Product calls the configured ProductFunc or returns not found.
func (m *Mock) Product(ctx context.Context, id int) (*model.Product, error) {
	if m.ProductFunc != nil {
		return m.ProductFunc(ctx, id)
	}
	return nil, model.NewNotFoundError("product")
}

// Products calls the configured ProductsFunc or returns an empty list.
func (m *Mock) Products(ctx context.Context, q model.ProductQuery) ([]model.Product, error) {
	if m.ProductsFunc != nil {
		return m.ProductsFunc(ctx, q)
	}
	return []model.Product{}, nil
}

// VariableProduct calls the configured VariableProductFunc or returns not found.
func (m *Mock) VariableProduct(ctx context.Context, id int) (*model.VariableProduct, error) {
	if m.VariableProductFunc != nil {
		return m.VariableProductFunc(ctx, id)
	}
	return nil, model.NewApplicationError("Product not found or not variable")
}

// SaveAddress calls the configured SaveAddressFunc or succeeds.
func (m *Mock) SaveAddress(ctx context.Context, form *model.CheckoutForm) error {
	if m.SaveAddressFunc != nil {
		return m.SaveAddressFunc(ctx, form)
	}
	return nil
}

// PlaceOrder calls the configured PlaceOrderFunc or returns an error.
func (m *Mock) PlaceOrder(ctx context.Context, form *model.CheckoutForm) (*model.OrderResult, error) {
	if m.PlaceOrderFunc != nil {
		return m.PlaceOrderFunc(ctx, form)
	}
	return nil, model.NewApplicationError("Payment processing failed")
}

// RefreshToken calls the configured RefreshTokenFunc or returns default settings.
func (m *Mock) RefreshToken(ctx context.Context) (*Bootstrap, error) {
	if m.RefreshTokenFunc != nil {
		return m.RefreshTokenFunc(ctx)
	}
	return &Bootstrap{Settings: model.DefaultStorefrontSettings(), PluginVersion: "1.1.0"}, nil
}

// Verify Mock implements Platform interface at compile time.
var _ Platform = (*Mock)(nil)
