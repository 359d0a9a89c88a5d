package handler

import (
	"context"
	"log/slog"
	"net/http"

	"cartsync/internal/model"
	"cartsync/internal/reconcile"
	"cartsync/internal/session"
)

// createSessionResponse is returned by POST /sessions.
type createSessionResponse struct {
	ID       string                   `json:"id"`
	Snapshot *model.CartSnapshot      `json:"snapshot"`
	Settings model.StorefrontSettings `json:"settings"`
}

// handleCreateSession opens a storefront session and reads its first cart.
// POST /sessions
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Create(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.setCartState(w, sess)
	h.writeJSON(w, http.StatusCreated, createSessionResponse{
		ID:       sess.ID,
		Snapshot: sess.Store().Snapshot(),
		Settings: sess.Coordinator.Settings(),
	})
}

// handleDeleteSession closes a session and its event streams.
// DELETE /sessions/{id}
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReauthenticate fetches a fresh security token, lifting the
// degraded state after a session failure.
// POST /sessions/{id}/reauthenticate
func (h *Handler) handleReauthenticate(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	h.logger.InfoContext(r.Context(), "reauthenticating session", slog.String("session_id", sess.ID))

	if _, err := sess.Coordinator.Reauthenticate(r.Context()); err != nil {
		h.writeSessionError(w, sess, err)
		return
	}
	h.writeCart(w, sess)
}

// handleGetCart returns the displayed snapshot, predictions included.
// GET /sessions/{id}/cart
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeCart(w, sess)
}

// handleRefreshCart reads the authoritative cart from the store.
// POST /sessions/{id}/cart/refresh
func (h *Handler) handleRefreshCart(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if _, err := sess.Coordinator.Refresh(r.Context()); err != nil {
		h.writeSessionError(w, sess, err)
		return
	}
	h.writeCart(w, sess)
}

// handleAddToCart adds a product. The line appears after the follow-up
// refresh, so the response is 202 with the snapshot as it stands.
// POST /sessions/{id}/cart/add
func (h *Handler) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req model.AddToCart
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "adding to cart",
		slog.String("session_id", sess.ID),
		slog.Int("product_id", req.ProductID),
		slog.Int("variation_id", req.VariationID),
	)

	if err := sess.Coordinator.RequestAddToCart(req); err != nil {
		h.writeSessionError(w, sess, err)
		return
	}
	h.setCartState(w, sess)
	h.writeJSON(w, http.StatusAccepted, sess.Store().Snapshot())
}

// handleIncrement raises a line's quantity by one.
// POST /sessions/{id}/items/{key}/increment
func (h *Handler) handleIncrement(w http.ResponseWriter, r *http.Request) {
	h.itemIntent(w, r, func(sess sessionIntents, key string) error {
		return sess.Increment(key)
	})
}

// handleDecrement lowers a line's quantity by one, removing it at one.
// POST /sessions/{id}/items/{key}/decrement
func (h *Handler) handleDecrement(w http.ResponseWriter, r *http.Request) {
	h.itemIntent(w, r, func(sess sessionIntents, key string) error {
		return sess.Decrement(key)
	})
}

// handleRemoveItem removes a line.
// DELETE /sessions/{id}/items/{key}
func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	h.itemIntent(w, r, func(sess sessionIntents, key string) error {
		return sess.Remove(key)
	})
}

// sessionIntents is the part of the panel the item routes drive.
type sessionIntents interface {
	Increment(key string) error
	Decrement(key string) error
	Remove(key string) error
}

func (h *Handler) itemIntent(w http.ResponseWriter, r *http.Request, do func(sessionIntents, string) error) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := do(sess.Surfaces.Panel, r.PathValue("key")); err != nil {
		h.writeSessionError(w, sess, err)
		return
	}
	h.writeCart(w, sess)
}

type reorderRequest struct {
	Dragged string `json:"dragged"`
	Target  string `json:"target"`
}

// handleReorder drops one line next to another in the display order.
// POST /sessions/{id}/items/reorder
func (h *Handler) handleReorder(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req reorderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := sess.Surfaces.Panel.Reorder(req.Dragged, req.Target); err != nil {
		h.writeSessionError(w, sess, err)
		return
	}
	h.writeCart(w, sess)
}

type couponRequest struct {
	Code string `json:"code"`
}

// handleApplyCoupon applies a coupon code.
// POST /sessions/{id}/coupons
func (h *Handler) handleApplyCoupon(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req couponRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "applying coupon",
		slog.String("session_id", sess.ID),
		slog.String("code", req.Code),
	)

	panel := sess.Surfaces.Panel
	panel.SetCouponInput(req.Code)
	if err := panel.ApplyCoupon(); err != nil {
		h.writeSessionError(w, sess, err)
		return
	}
	h.writeCart(w, sess)
}

// handleRemoveCoupon removes an applied coupon.
// DELETE /sessions/{id}/coupons/{code}
func (h *Handler) handleRemoveCoupon(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Surfaces.Panel.RemoveCoupon(r.PathValue("code")); err != nil {
		h.writeSessionError(w, sess, err)
		return
	}
	h.writeCart(w, sess)
}

type shippingRequest struct {
	MethodID string `json:"method_id"`
}

// handleSelectShipping selects a shipping rate.
// PUT /sessions/{id}/shipping
func (h *Handler) handleSelectShipping(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req shippingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := sess.Surfaces.Panel.SelectShipping(req.MethodID); err != nil {
		h.writeSessionError(w, sess, err)
		return
	}
	h.writeCart(w, sess)
}

// handleSetCart moves the cart to the requested state, running only the
// mutations needed. When the plan adds products the response is 202: new
// lines arrive with the follow-up refresh.
// PUT /sessions/{id}/cart
func (h *Handler) handleSetCart(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var want reconcile.Desired
	if err := decodeJSON(w, r, &want); err != nil {
		h.writeError(w, err)
		return
	}

	plan, err := h.applyDesired(r.Context(), sess, want)
	if err != nil {
		h.writeSessionError(w, sess, err)
		return
	}
	status := http.StatusOK
	if len(plan.Add) > 0 {
		status = http.StatusAccepted
	}
	h.setCartState(w, sess)
	h.writeJSON(w, status, sess.Store().Snapshot())
}

func (h *Handler) applyDesired(ctx context.Context, sess *session.Session, want reconcile.Desired) (*reconcile.Plan, error) {
	plan, err := reconcile.Diff(sess.Store().Snapshot(), want)
	if err != nil {
		return nil, err
	}
	h.logger.InfoContext(ctx, "reconciling cart",
		slog.String("session_id", sess.ID),
		slog.Int("steps", plan.Steps()),
	)
	if err := reconcile.Apply(sess.Coordinator, plan); err != nil {
		if se, ok := reconcile.Failed(err); ok {
			h.logger.WarnContext(ctx, "cart reconcile stopped",
				slog.String("session_id", sess.ID),
				slog.String("action", se.Action),
				slog.String("target", se.Target),
				slog.Int("applied", se.Applied),
			)
		}
		return nil, err
	}
	return plan, nil
}
