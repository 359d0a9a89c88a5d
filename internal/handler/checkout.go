package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"cartsync/internal/model"
	"cartsync/internal/session"
)

// checkoutResponse carries the checkout view. Order is set once an order
// has been placed.
type checkoutResponse struct {
	Checkout map[string]any     `json:"checkout"`
	Order    *model.OrderResult `json:"order,omitempty"`
}

func (h *Handler) writeCheckout(w http.ResponseWriter, sess *session.Session, order *model.OrderResult) {
	h.setCartState(w, sess)
	h.writeJSON(w, http.StatusOK, checkoutResponse{
		Checkout: sess.Surfaces.Checkout.View().Fields,
		Order:    order,
	})
}

// handleGetCheckout returns the checkout state.
// GET /sessions/{id}/checkout
func (h *Handler) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeCheckout(w, sess, nil)
}

// handleShowCheckout opens the checkout at its first enabled step.
// POST /sessions/{id}/checkout
func (h *Handler) handleShowCheckout(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Surfaces.Checkout.Show(); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCheckout(w, sess, nil)
}

// handleHideCheckout returns to the cart, keeping entered fields.
// DELETE /sessions/{id}/checkout
func (h *Handler) handleHideCheckout(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	sess.Surfaces.Checkout.Hide()
	h.writeCheckout(w, sess, nil)
}

// handleCheckoutNext validates the current step and advances. Leaving the
// billing step saves the address.
// POST /sessions/{id}/checkout/next
func (h *Handler) handleCheckoutNext(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Surfaces.Checkout.Next(); err != nil {
		h.writeSessionError(w, sess, err)
		return
	}
	h.writeCheckout(w, sess, nil)
}

// handleCheckoutPrev goes back one step.
// POST /sessions/{id}/checkout/prev
func (h *Handler) handleCheckoutPrev(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	sess.Surfaces.Checkout.Prev()
	h.writeCheckout(w, sess, nil)
}

// handleCheckoutGoto jumps to a step by index.
// POST /sessions/{id}/checkout/steps/{n}
func (h *Handler) handleCheckoutGoto(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		h.writeError(w, model.NewValidationError("step", "Invalid checkout step"))
		return
	}
	if err := sess.Surfaces.Checkout.Goto(n); err != nil {
		h.writeSessionError(w, sess, err)
		return
	}
	h.writeCheckout(w, sess, nil)
}

// handleCheckoutFields stores entered fields by their platform names.
// PUT /sessions/{id}/checkout/fields
func (h *Handler) handleCheckoutFields(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var fields map[string]string
	if err := decodeJSON(w, r, &fields); err != nil {
		h.writeError(w, err)
		return
	}
	if err := sess.Surfaces.Checkout.SetFields(fields); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCheckout(w, sess, nil)
}

// handleCheckoutSubmit places the order.
// POST /sessions/{id}/checkout/submit
func (h *Handler) handleCheckoutSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	h.logger.InfoContext(r.Context(), "placing order", slog.String("session_id", sess.ID))

	order, err := sess.Surfaces.Checkout.Submit()
	if err != nil {
		h.writeSessionError(w, sess, err)
		return
	}

	h.logger.InfoContext(r.Context(), "order placed",
		slog.String("session_id", sess.ID),
		slog.Int("order_id", order.OrderID),
	)
	h.writeCheckout(w, sess, order)
}
