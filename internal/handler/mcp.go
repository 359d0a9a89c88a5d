// MCP transport for the cart service using the official MCP Go SDK.
// Exposes the cart intents as MCP tools over the same sessions as REST.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"cartsync/internal/model"
	"cartsync/internal/negotiation"
	"cartsync/internal/reconcile"
	"cartsync/internal/session"
)

// === MCP Tool Input/Output Types ===

// SessionInput addresses a session created by create_session.
type SessionInput struct {
	SessionID string `json:"session_id" jsonschema:"session ID returned by create_session"`
}

// QuantityInput is the input schema for change_quantity.
type QuantityInput struct {
	SessionID string `json:"session_id" jsonschema:"session ID"`
	Key       string `json:"key" jsonschema:"cart line key"`
	Delta     int    `json:"delta" jsonschema:"quantity change, e.g. 1 or -1"`
}

// ItemInput is the input schema for remove_item.
type ItemInput struct {
	SessionID string `json:"session_id" jsonschema:"session ID"`
	Key       string `json:"key" jsonschema:"cart line key"`
}

// CouponInput is the input schema for apply_coupon and remove_coupon.
type CouponInput struct {
	SessionID string `json:"session_id" jsonschema:"session ID"`
	Code      string `json:"code" jsonschema:"coupon code"`
}

// ShippingInput is the input schema for select_shipping.
type ShippingInput struct {
	SessionID string `json:"session_id" jsonschema:"session ID"`
	MethodID  string `json:"method_id" jsonschema:"shipping rate ID from the cart's shipping_methods"`
}

// AddToCartInput is the input schema for add_to_cart.
type AddToCartInput struct {
	SessionID   string            `json:"session_id" jsonschema:"session ID"`
	ProductID   int               `json:"product_id" jsonschema:"product ID"`
	VariationID int               `json:"variation_id,omitempty" jsonschema:"variation ID for variable products"`
	Quantity    int               `json:"quantity,omitempty" jsonschema:"quantity to add, default 1"`
	Attributes  map[string]string `json:"attributes,omitempty" jsonschema:"selected variation attributes"`
}

// SetCartInput is the input schema for set_cart.
type SetCartInput struct {
	SessionID      string                  `json:"session_id" jsonschema:"session ID"`
	Items          []reconcile.DesiredItem `json:"items,omitempty" jsonschema:"the lines the cart should hold; omit to leave lines unchanged"`
	Coupons        []string                `json:"coupons,omitempty" jsonschema:"the coupon codes that should be applied; omit to leave coupons unchanged"`
	ShippingMethod string                  `json:"shipping_method,omitempty" jsonschema:"shipping rate ID to select"`
}

// ProductsInput is the input schema for list_products.
type ProductsInput struct {
	SessionID string `json:"session_id" jsonschema:"session ID"`
	Search    string `json:"search,omitempty" jsonschema:"search term"`
	Page      int    `json:"page,omitempty" jsonschema:"page number, from 1"`
	PerPage   int    `json:"per_page,omitempty" jsonschema:"page size"`
}

// ReorderInput is the input schema for reorder_items.
type ReorderInput struct {
	SessionID string `json:"session_id" jsonschema:"session ID"`
	Dragged   string `json:"dragged" jsonschema:"key of the line being moved"`
	Target    string `json:"target" jsonschema:"key of the line it is dropped on"`
}

// CartOutput is returned by every cart tool.
type CartOutput struct {
	SessionID string              `json:"session_id"`
	Snapshot  *model.CartSnapshot `json:"snapshot"`
	CartState string              `json:"cart_state"`
}

// ProductsOutput is returned by list_products.
type ProductsOutput struct {
	Products []model.Product `json:"products"`
}

// NewMCPServer creates an MCP server with the cart tools registered.
// The server exposes the same operations as the REST API but via MCP protocol.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "cartsync",
			Version: h.version,
		},
		&mcp.ServerOptions{
			Instructions: "Quick Cart storefront sessions. Call create_session first, " +
				"then pass its session_id to the cart tools.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_session",
		Description: "Open a storefront session and read its cart.",
	}, h.mcpCreateSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "close_session",
		Description: "Close a storefront session.",
	}, h.mcpCloseSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the cart as displayed, including changes still awaiting the store.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "refresh_cart",
		Description: "Re-read the cart from the store.",
	}, h.mcpRefreshCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "change_quantity",
		Description: "Change a cart line's quantity by delta. Reaching zero removes the line.",
	}, h.mcpChangeQuantity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_item",
		Description: "Remove a cart line.",
	}, h.mcpRemoveItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "apply_coupon",
		Description: "Apply a coupon code to the cart.",
	}, h.mcpApplyCoupon)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_coupon",
		Description: "Remove an applied coupon.",
	}, h.mcpRemoveCoupon)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "select_shipping",
		Description: "Select a shipping rate.",
	}, h.mcpSelectShipping)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_to_cart",
		Description: "Add a product, or a variation of a variable product, to the cart.",
	}, h.mcpAddToCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_products",
		Description: "List catalog products.",
	}, h.mcpListProducts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reorder_items",
		Description: "Move a cart line next to another in the display order.",
	}, h.mcpReorderItems)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_cart",
		Description: "Make the cart match the given lines, coupons and shipping rate, running only the changes needed.",
	}, h.mcpSetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reauthenticate",
		Description: "Fetch a fresh security token after the store rejected the session.",
	}, h.mcpReauthenticate)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpCreateSession(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	sess, err := h.sessions.Create(ctx)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.cartOutput(sess), nil
}

func (h *Handler) mcpCloseSession(ctx context.Context, req *mcp.CallToolRequest, input SessionInput) (*mcp.CallToolResult, any, error) {
	if err := h.sessions.Delete(input.SessionID); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, SessionInput{SessionID: input.SessionID}, nil
}

func (h *Handler) mcpGetCart(ctx context.Context, req *mcp.CallToolRequest, input SessionInput) (*mcp.CallToolResult, any, error) {
	return h.mcpCart(input.SessionID, func(*session.Session) error { return nil })
}

func (h *Handler) mcpRefreshCart(ctx context.Context, req *mcp.CallToolRequest, input SessionInput) (*mcp.CallToolResult, any, error) {
	return h.mcpCart(input.SessionID, func(sess *session.Session) error {
		_, err := sess.Coordinator.Refresh(ctx)
		return err
	})
}

func (h *Handler) mcpChangeQuantity(ctx context.Context, req *mcp.CallToolRequest, input QuantityInput) (*mcp.CallToolResult, any, error) {
	return h.mcpCart(input.SessionID, func(sess *session.Session) error {
		return sess.Coordinator.RequestQuantityChange(input.Key, input.Delta)
	})
}

func (h *Handler) mcpRemoveItem(ctx context.Context, req *mcp.CallToolRequest, input ItemInput) (*mcp.CallToolResult, any, error) {
	return h.mcpCart(input.SessionID, func(sess *session.Session) error {
		return sess.Surfaces.Panel.Remove(input.Key)
	})
}

func (h *Handler) mcpApplyCoupon(ctx context.Context, req *mcp.CallToolRequest, input CouponInput) (*mcp.CallToolResult, any, error) {
	return h.mcpCart(input.SessionID, func(sess *session.Session) error {
		sess.Surfaces.Panel.SetCouponInput(input.Code)
		return sess.Surfaces.Panel.ApplyCoupon()
	})
}

func (h *Handler) mcpRemoveCoupon(ctx context.Context, req *mcp.CallToolRequest, input CouponInput) (*mcp.CallToolResult, any, error) {
	return h.mcpCart(input.SessionID, func(sess *session.Session) error {
		return sess.Surfaces.Panel.RemoveCoupon(input.Code)
	})
}

func (h *Handler) mcpSelectShipping(ctx context.Context, req *mcp.CallToolRequest, input ShippingInput) (*mcp.CallToolResult, any, error) {
	return h.mcpCart(input.SessionID, func(sess *session.Session) error {
		return sess.Surfaces.Panel.SelectShipping(input.MethodID)
	})
}

func (h *Handler) mcpAddToCart(ctx context.Context, req *mcp.CallToolRequest, input AddToCartInput) (*mcp.CallToolResult, any, error) {
	return h.mcpCart(input.SessionID, func(sess *session.Session) error {
		return sess.Coordinator.RequestAddToCart(model.AddToCart{
			ProductID:   input.ProductID,
			VariationID: input.VariationID,
			Quantity:    input.Quantity,
			Attributes:  input.Attributes,
		})
	})
}

func (h *Handler) mcpReorderItems(ctx context.Context, req *mcp.CallToolRequest, input ReorderInput) (*mcp.CallToolResult, any, error) {
	return h.mcpCart(input.SessionID, func(sess *session.Session) error {
		return sess.Surfaces.Panel.Reorder(input.Dragged, input.Target)
	})
}

func (h *Handler) mcpSetCart(ctx context.Context, req *mcp.CallToolRequest, input SetCartInput) (*mcp.CallToolResult, any, error) {
	return h.mcpCart(input.SessionID, func(sess *session.Session) error {
		_, err := h.applyDesired(ctx, sess, reconcile.Desired{
			Items:          input.Items,
			Coupons:        input.Coupons,
			ShippingMethod: input.ShippingMethod,
		})
		return err
	})
}

func (h *Handler) mcpReauthenticate(ctx context.Context, req *mcp.CallToolRequest, input SessionInput) (*mcp.CallToolResult, any, error) {
	return h.mcpCart(input.SessionID, func(sess *session.Session) error {
		_, err := sess.Coordinator.Reauthenticate(ctx)
		return err
	})
}

func (h *Handler) mcpListProducts(ctx context.Context, req *mcp.CallToolRequest, input ProductsInput) (*mcp.CallToolResult, any, error) {
	sess, err := h.mcpSession(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	products, err := sess.Coordinator.Products(ctx, model.ProductQuery{
		Search:  input.Search,
		Page:    input.Page,
		PerPage: input.PerPage,
	})
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	if products == nil {
		products = []model.Product{}
	}
	return nil, ProductsOutput{Products: products}, nil
}

// mcpCart runs do against the session and returns the resulting cart.
func (h *Handler) mcpCart(id string, do func(*session.Session) error) (*mcp.CallToolResult, any, error) {
	sess, err := h.mcpSession(id)
	if err != nil {
		return nil, nil, err
	}
	if err := do(sess); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.cartOutput(sess), nil
}

func (h *Handler) mcpSession(id string) (*session.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	sess, err := h.sessions.Get(id)
	if err != nil {
		return nil, h.mcpError(err)
	}
	return sess, nil
}

func (h *Handler) cartOutput(sess *session.Session) CartOutput {
	state, _ := negotiation.FormatCartState(cartState(sess))
	return CartOutput{
		SessionID: sess.ID,
		Snapshot:  sess.Store().Snapshot(),
		CartState: state,
	}
}

// mcpError converts engine errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
