package coordinator

// Level is the severity of a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice codes.
const (
	CodeMutationFailed      = "mutation_failed"
	CodeSessionExpired      = "session_expired"
	CodeSessionRestored     = "session_restored"
	CodeShippingUnconfirmed = "shipping_unconfirmed"
	CodeCouponApplied       = "coupon_applied"
	CodeCouponRemoved       = "coupon_removed"
	CodeAddedToCart         = "added_to_cart"
	CodeOrderPlaced         = "order_placed"
)

// Notice is a transient message for the shopper.
type Notice struct {
	Level    Level  `json:"level"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Resource string `json:"resource,omitempty"`
}

// Sink receives notices. Notify must not block.
type Sink interface {
	Notify(Notice)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notice)

// Notify calls f(n).
func (f SinkFunc) Notify(n Notice) { f(n) }

type discardSink struct{}

func (discardSink) Notify(Notice) {}
