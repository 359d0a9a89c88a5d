package coordinator

import (
	"context"

	"cartsync/internal/model"
)

// Product reads one catalog product.
func (c *Coordinator) Product(ctx context.Context, id int) (*model.Product, error) {
	if id <= 0 {
		return nil, model.NewValidationError("product_id", "Invalid product")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.MutationTimeout)
	defer cancel()
	p, err := c.platform.Product(ctx, id)
	return p, c.observe("product", err)
}

// Products lists catalog products.
func (c *Coordinator) Products(ctx context.Context, q model.ProductQuery) ([]model.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.MutationTimeout)
	defer cancel()
	list, err := c.platform.Products(ctx, q)
	return list, c.observe("products", err)
}

// VariableProduct reads a product with its attributes and variations.
func (c *Coordinator) VariableProduct(ctx context.Context, id int) (*model.VariableProduct, error) {
	if id <= 0 {
		return nil, model.NewValidationError("product_id", "Invalid product")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.MutationTimeout)
	defer cancel()
	p, err := c.platform.VariableProduct(ctx, id)
	return p, c.observe("variable_product", err)
}

// SaveAddress stores the checkout address and refreshes the cart so the
// shipping rates for the new destination show up.
func (c *Coordinator) SaveAddress(form *model.CheckoutForm) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := form.Validate(); err != nil {
		return err
	}
	release, err := c.guard("address")
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := c.callContext()
	defer cancel()
	if err := c.observe("address", c.platform.SaveAddress(ctx, form)); err != nil {
		c.logger.Warn("saving checkout address failed", "error", err)
		return err
	}
	c.refreshInBackground()
	return nil
}

// PlaceOrder submits the order. A second submit while one is in flight is
// rejected with a busy error.
func (c *Coordinator) PlaceOrder(form *model.CheckoutForm) (*model.OrderResult, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := form.Validate(); err != nil {
		return nil, err
	}
	release, err := c.guard("checkout")
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := c.callContext()
	defer cancel()
	res, err := c.platform.PlaceOrder(ctx, form)
	if err := c.observe("checkout", err); err != nil {
		c.logger.Warn("order failed", "error", err, "error_kind", model.KindOf(err))
		if model.KindOf(err) != model.KindSession {
			c.sink.Notify(Notice{
				Level:   LevelError,
				Code:    CodeMutationFailed,
				Message: failureMessage(err, "Payment processing failed"),
			})
		}
		return nil, err
	}

	msg := res.Message
	if msg == "" {
		msg = "Order placed successfully"
	}
	c.logger.Info("order placed", "order_id", res.OrderID)
	c.sink.Notify(Notice{Level: LevelInfo, Code: CodeOrderPlaced, Message: msg})
	c.refreshInBackground()
	return res, nil
}
