package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestLogging(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		write  func(w http.ResponseWriter)
		want   []string
		absent bool
	}{
		{
			name:   "explicit status",
			method: "POST",
			path:   "/sessions/abc/coupons",
			write: func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusAccepted)
				w.Write([]byte("{}"))
			},
			want: []string{"method=POST", "path=/sessions/abc/coupons", "status=202", "user_agent=cartctl"},
		},
		{
			name:   "implicit status",
			method: "GET",
			path:   "/sessions/abc/cart",
			write:  func(w http.ResponseWriter) { w.Write([]byte("{}")) },
			want:   []string{"status=200"},
		},
		{
			name:   "health checks log at debug",
			method: "GET",
			path:   "/healthz",
			write:  func(w http.ResponseWriter) { w.Write([]byte("ok")) },
			absent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.write(w)
			}))

			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("User-Agent", "cartctl")
			handler.ServeHTTP(httptest.NewRecorder(), req)

			logged := buf.String()
			if tt.absent {
				if logged != "" {
					t.Errorf("logged at info: %s", logged)
				}
				return
			}
			for _, check := range tt.want {
				if !strings.Contains(logged, check) {
					t.Errorf("Log missing %q: %s", check, logged)
				}
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil snapshot")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/sessions/abc/cart", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body %q is not the error envelope: %v", w.Body.String(), err)
	}
	if body.Error.Code != "INTERNAL_ERROR" {
		t.Errorf("error code = %q, want INTERNAL_ERROR", body.Error.Code)
	}
	if strings.Contains(body.Error.Message, "nil snapshot") {
		t.Errorf("panic value leaked to the client: %q", body.Error.Message)
	}

	logged := buf.String()
	if !strings.Contains(logged, "panic recovered") || !strings.Contains(logged, "nil snapshot") {
		t.Errorf("Log missing panic details: %s", logged)
	}
}

func TestRecoveryAfterHeadersSent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("partial"))
		panic("late")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusOK || w.Body.String() != "partial" {
		t.Errorf("response = %d %q, want the original 200 partial body", w.Code, w.Body.String())
	}
}

func TestChain(t *testing.T) {
	var order []string
	named := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name+"-before")
				next.ServeHTTP(w, r)
				order = append(order, name+"-after")
			})
		}
	}

	handler := Chain(named("outer"), named("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	want := []string{"outer-before", "inner-before", "handler", "inner-after", "outer-after"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions/{id}/cart", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := Metrics(mp.Meter("test"), slog.New(slog.NewTextHandler(io.Discard, nil)))(mux)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/sessions/abc/cart", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nowhere", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	routes := map[string]int64{}
	var histograms int
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					route, _ := dp.Attributes.Value("http.route")
					routes[route.AsString()] += dp.Value
				}
			case metricdata.Histogram[float64]:
				histograms += len(data.DataPoints)
			}
		}
	}
	if routes["GET /sessions/{id}/cart"] != 1 || routes["unmatched"] != 1 {
		t.Errorf("requests by route = %v, want one matched and one unmatched", routes)
	}
	if histograms != 2 {
		t.Errorf("duration series = %d, want 2", histograms)
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(1, 2)
	l.now = func() time.Time { return now }

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/sessions/abc/items/a/increment", nil)
		req.RemoteAddr = remote + ":5123"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := do("10.0.0.1"); w.Code != http.StatusNoContent {
			t.Fatalf("request %d status = %d, want 204 within the burst", i, w.Code)
		}
	}
	w := do("10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 over the burst", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", w.Header().Get("Retry-After"))
	}
	if !strings.Contains(w.Body.String(), "RATE_LIMITED") {
		t.Errorf("body = %s, want RATE_LIMITED envelope", w.Body.String())
	}

	if w := do("10.0.0.2"); w.Code != http.StatusNoContent {
		t.Errorf("other client status = %d, want its own bucket", w.Code)
	}

	now = now.Add(time.Second)
	if w := do("10.0.0.1"); w.Code != http.StatusNoContent {
		t.Errorf("status after refill = %d, want 204", w.Code)
	}
}

func TestRateLimiterPrunesIdleClients(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(10, 1)
	l.now = func() time.Time { return now }

	l.Allow("10.0.0.1")
	now = now.Add(time.Hour)
	l.Allow("10.0.0.2")

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.clients["10.0.0.1"]; ok {
		t.Error("idle client bucket not pruned")
	}
	if len(l.clients) != 1 {
		t.Errorf("clients = %d, want 1", len(l.clients))
	}
}

func TestRemoteIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"remote addr", "192.0.2.7:4431", "", "192.0.2.7"},
		{"forwarded", "10.0.0.1:80", "203.0.113.9, 10.0.0.1", "203.0.113.9"},
		{"no port", "192.0.2.7", "", "192.0.2.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := remoteIP(req); got != tt.want {
				t.Errorf("remoteIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResponseWriterKeepsFirstStatus(t *testing.T) {
	w := httptest.NewRecorder()
	rw := wrap(w)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusNotFound)

	if rw.status != http.StatusCreated || w.Code != http.StatusCreated {
		t.Errorf("status = %d (underlying %d), want %d", rw.status, w.Code, http.StatusCreated)
	}
	if wrap(rw) != rw {
		t.Error("wrap() re-wrapped an already wrapped writer")
	}
}

func TestResponseWriterHijack(t *testing.T) {
	rw := wrap(httptest.NewRecorder())
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("Hijack() on a recorder error = nil, want unsupported")
	}
	if http.NewResponseController(rw).Flush() != nil {
		t.Error("Flush() through ResponseController failed")
	}
}
