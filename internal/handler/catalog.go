package handler

import (
	"maps"
	"net/http"
	"slices"
	"strconv"

	"cartsync/internal/model"
	"cartsync/internal/surface"
)

// handleListProducts lists catalog products.
// GET /sessions/{id}/products?search=&page=&per_page=
func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	query := model.ProductQuery{Search: q.Get("search")}
	var err error
	if query.Page, err = intParam(q.Get("page"), "page"); err != nil {
		h.writeError(w, err)
		return
	}
	if query.PerPage, err = intParam(q.Get("per_page"), "per_page"); err != nil {
		h.writeError(w, err)
		return
	}

	products, err := sess.Coordinator.Products(r.Context(), query)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if products == nil {
		products = []model.Product{}
	}
	h.writeJSON(w, http.StatusOK, products)
}

// handleGetProduct returns one product. Variable products come with their
// attributes and variations.
// GET /sessions/{id}/products/{pid}
func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	pid, err := productID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	prod, err := sess.Coordinator.Product(r.Context(), pid)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !prod.IsVariable() {
		h.writeJSON(w, http.StatusOK, prod)
		return
	}

	vp, err := sess.Coordinator.VariableProduct(r.Context(), pid)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, vp)
}

// popupResponse carries the popup view and the cart it adds to.
type popupResponse struct {
	Popup map[string]any      `json:"popup"`
	Cart  *model.CartSnapshot `json:"cart"`
}

func (h *Handler) writePopup(w http.ResponseWriter, status int, popup *surface.Popup, cart *model.CartSnapshot) {
	h.writeJSON(w, status, popupResponse{Popup: popup.View().Fields, Cart: cart})
}

// handleGetPopup returns the popup state.
// GET /sessions/{id}/popup
func (h *Handler) handleGetPopup(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.setCartState(w, sess)
	h.writePopup(w, http.StatusOK, sess.Surfaces.Popup, sess.Store().Snapshot())
}

// handleOpenPopup handles a product dropped on the cart. Simple products
// are added directly; variable products open the popup, or add their
// first in-stock variation when the popup is disabled.
// POST /sessions/{id}/popup/{pid}
func (h *Handler) handleOpenPopup(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	pid, err := productID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := sess.Surfaces.Popup.DropProduct(r.Context(), pid); err != nil {
		h.writeSessionError(w, sess, err)
		return
	}
	h.setCartState(w, sess)
	h.writePopup(w, http.StatusOK, sess.Surfaces.Popup, sess.Store().Snapshot())
}

type attributesRequest struct {
	Attributes map[string]string `json:"attributes"`
	Quantity   int               `json:"quantity,omitempty"`
}

// handleSelectAttributes picks popup options and the quantity to add.
// PUT /sessions/{id}/popup/attributes
func (h *Handler) handleSelectAttributes(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req attributesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	popup := sess.Surfaces.Popup
	// Sorted so a rejected option always fails at the same point.
	for _, name := range slices.Sorted(maps.Keys(req.Attributes)) {
		if err := popup.Select(name, req.Attributes[name]); err != nil {
			h.writeError(w, err)
			return
		}
	}
	if req.Quantity > 0 {
		popup.SetQuantity(req.Quantity)
	}
	h.writePopup(w, http.StatusOK, popup, sess.Store().Snapshot())
}

// handleSubmitPopup adds the selected variation to the cart.
// POST /sessions/{id}/popup/submit
func (h *Handler) handleSubmitPopup(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Surfaces.Popup.Submit(); err != nil {
		h.writeSessionError(w, sess, err)
		return
	}
	h.setCartState(w, sess)
	h.writePopup(w, http.StatusAccepted, sess.Surfaces.Popup, sess.Store().Snapshot())
}

// handleClosePopup dismisses the popup.
// DELETE /sessions/{id}/popup
func (h *Handler) handleClosePopup(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	sess.Surfaces.Popup.Close()
	w.WriteHeader(http.StatusNoContent)
}

func productID(r *http.Request) (int, error) {
	pid, err := strconv.Atoi(r.PathValue("pid"))
	if err != nil || pid <= 0 {
		return 0, model.NewValidationError("product_id", "Invalid product")
	}
	return pid, nil
}

func intParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, model.NewValidationError(name, name+" must be a non-negative integer")
	}
	return n, nil
}
