// Package negotiation handles the structured headers exchanged with cart
// clients: Cart-Client identifies the caller and its version, Cart-State
// summarizes the session snapshot on every cart response. Both are RFC 8941
// dictionaries.
package negotiation

// Header names.
const (
	CartClientHeader = "Cart-Client"
	CartStateHeader  = "Cart-State"
)

// Error codes written in the error envelope.
const (
	InvalidClientHeader      = "invalid_cart_client"
	ClientVersionUnsupported = "client_version_unsupported"
)

// ClientInfo is what a caller declares in Cart-Client.
// Format: version="v1.2.0", name="cartctl"
type ClientInfo struct {
	Name    string
	Version string
}

// CartState summarizes a session snapshot for clients that only need to
// know whether to re-read the cart.
type CartState struct {
	Revision uint64
	Count    int
	// Pending lists the resources with a mutation in flight.
	Pending  []string
	Degraded bool
}

// contextKey is the type for context values to avoid collisions
type contextKey string

// clientContextKey stores the parsed ClientInfo on the request context.
const clientContextKey contextKey = "cart.client"
