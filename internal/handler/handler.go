// Package handler provides the HTTP surface of the cart service: REST
// intents over shopper sessions, the surface event stream and the MCP tools.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"

	"cartsync/internal/model"
	"cartsync/internal/negotiation"
	"cartsync/internal/session"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	sessions *session.Registry
	logger   *slog.Logger
	version  string
}

// New creates a Handler over the session registry. version is reported by
// the health check and the MCP server.
func New(sessions *session.Registry, logger *slog.Logger, version string) *Handler {
	if version == "" {
		version = "dev"
	}
	return &Handler{
		sessions: sessions,
		logger:   logger,
		version:  version,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Sessions
	mux.HandleFunc("POST /sessions", h.handleCreateSession)
	mux.HandleFunc("DELETE /sessions/{id}", h.handleDeleteSession)
	mux.HandleFunc("POST /sessions/{id}/reauthenticate", h.handleReauthenticate)

	// Cart intents
	mux.HandleFunc("GET /sessions/{id}/cart", h.handleGetCart)
	mux.HandleFunc("PUT /sessions/{id}/cart", h.handleSetCart)
	mux.HandleFunc("POST /sessions/{id}/cart/refresh", h.handleRefreshCart)
	mux.HandleFunc("POST /sessions/{id}/cart/add", h.handleAddToCart)
	mux.HandleFunc("POST /sessions/{id}/items/{key}/increment", h.handleIncrement)
	mux.HandleFunc("POST /sessions/{id}/items/{key}/decrement", h.handleDecrement)
	mux.HandleFunc("DELETE /sessions/{id}/items/{key}", h.handleRemoveItem)
	mux.HandleFunc("POST /sessions/{id}/items/reorder", h.handleReorder)
	mux.HandleFunc("POST /sessions/{id}/coupons", h.handleApplyCoupon)
	mux.HandleFunc("DELETE /sessions/{id}/coupons/{code}", h.handleRemoveCoupon)
	mux.HandleFunc("PUT /sessions/{id}/shipping", h.handleSelectShipping)

	// Catalog and variation popup
	mux.HandleFunc("GET /sessions/{id}/products", h.handleListProducts)
	mux.HandleFunc("GET /sessions/{id}/products/{pid}", h.handleGetProduct)
	mux.HandleFunc("GET /sessions/{id}/popup", h.handleGetPopup)
	mux.HandleFunc("POST /sessions/{id}/popup/{pid}", h.handleOpenPopup)
	mux.HandleFunc("PUT /sessions/{id}/popup/attributes", h.handleSelectAttributes)
	mux.HandleFunc("POST /sessions/{id}/popup/submit", h.handleSubmitPopup)
	mux.HandleFunc("DELETE /sessions/{id}/popup", h.handleClosePopup)

	// Checkout flow
	mux.HandleFunc("GET /sessions/{id}/checkout", h.handleGetCheckout)
	mux.HandleFunc("POST /sessions/{id}/checkout", h.handleShowCheckout)
	mux.HandleFunc("DELETE /sessions/{id}/checkout", h.handleHideCheckout)
	mux.HandleFunc("POST /sessions/{id}/checkout/next", h.handleCheckoutNext)
	mux.HandleFunc("POST /sessions/{id}/checkout/prev", h.handleCheckoutPrev)
	mux.HandleFunc("POST /sessions/{id}/checkout/steps/{n}", h.handleCheckoutGoto)
	mux.HandleFunc("PUT /sessions/{id}/checkout/fields", h.handleCheckoutFields)
	mux.HandleFunc("POST /sessions/{id}/checkout/submit", h.handleCheckoutSubmit)

	// Surface event stream
	mux.HandleFunc("GET /sessions/{id}/events", h.handleEvents)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// handleHealth returns a simple health check response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Version:  h.version,
		Sessions: h.sessions.Len(),
	})
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
}

// === Session Helpers ===

// lookup resolves the {id} path value, writing 404 when the session is gone.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return sess, true
}

// cartState summarizes the session for the Cart-State header.
func cartState(sess *session.Session) negotiation.CartState {
	snap := sess.Store().Snapshot()
	return negotiation.CartState{
		Revision: snap.Revision,
		Count:    snap.Count,
		Pending:  sess.Store().Pending(),
		Degraded: sess.Coordinator.Degraded(),
	}
}

// setCartState adds the Cart-State header. Must run before WriteHeader.
func (h *Handler) setCartState(w http.ResponseWriter, sess *session.Session) {
	v, err := negotiation.FormatCartState(cartState(sess))
	if err != nil {
		h.logger.Error("failed to format Cart-State", slog.String("error", err.Error()))
		return
	}
	w.Header().Set(negotiation.CartStateHeader, v)
}

// writeCart sends the current snapshot with its Cart-State header.
func (h *Handler) writeCart(w http.ResponseWriter, sess *session.Session) {
	h.setCartState(w, sess)
	h.writeJSON(w, http.StatusOK, sess.Store().Snapshot())
}

// writeSessionError sends an error from a session-scoped operation. The
// Cart-State header still describes the snapshot after any rollback.
func (h *Handler) writeSessionError(w http.ResponseWriter, sess *session.Session, err error) {
	h.setCartState(w, sess)
	h.writeError(w, err)
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
// Uses errors.As() to unwrap error chains (e.g., fmt.Errorf wrapping).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError

	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= http.StatusInternalServerError {
			h.logger.Error("request failed", slog.String("code", apiErr.Code), slog.String("error", apiErr.Error()))
		}
	} else {
		// Wrap unexpected errors
		apiErr = &model.APIError{
			Code:       "INTERNAL_ERROR",
			Message:    "an internal error occurred",
			StatusCode: http.StatusInternalServerError,
		}
		h.logger.Error("internal error", slog.String("error", err.Error()))
	}

	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB.
const MaxRequestBodySize = 1 << 20

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize.
// Returns an APIError if decoding fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}
