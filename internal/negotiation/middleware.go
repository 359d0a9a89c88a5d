package negotiation

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"
)

// Middleware checks the Cart-Client header against minVersion and stores
// the parsed ClientInfo on the request context.
//
// Requests without the header pass through: browsers and curl do not send
// it. A malformed header or a client below minVersion is rejected with 400.
func Middleware(minVersion string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(CartClientHeader)
			if isExemptPath(r.URL.Path) || header == "" {
				next.ServeHTTP(w, r)
				return
			}

			info, err := ParseCartClientHeader(header)
			if err != nil {
				logger.Warn("invalid Cart-Client header",
					slog.String("header", header),
					slog.String("error", err.Error()))
				writeNegotiationError(w, http.StatusBadRequest, InvalidClientHeader,
					"Invalid Cart-Client header: "+err.Error())
				return
			}

			if err := CheckVersion(info.Version, minVersion); err != nil {
				var verErr *VersionError
				if errors.As(err, &verErr) {
					logger.Info("client version rejected",
						slog.String("client", info.Name),
						slog.String("version", info.Version))
					writeNegotiationError(w, http.StatusBadRequest, verErr.Code, verErr.Message)
					return
				}
			}

			ctx := WithClient(r.Context(), info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// isExemptPath returns true for health checks, which are probed by
// infrastructure without a client header.
func isExemptPath(path string) bool {
	return path == "/health" || path == "/healthz"
}

// writeNegotiationError writes the standard error envelope.
func writeNegotiationError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{}
	resp.Error.Code = code
	resp.Error.Message = message

	_ = json.NewEncoder(w).Encode(resp)
}

// WithClient returns ctx carrying info.
func WithClient(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientContextKey, info)
}

// GetClient returns the caller declared in Cart-Client, if any.
func GetClient(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(clientContextKey).(ClientInfo)
	return info, ok
}
