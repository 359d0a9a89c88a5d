package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestStripScheme(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:4318", "localhost:4318"},
		{"https://otel.example.com", "otel.example.com"},
		{"collector:4318", "collector:4318"},
	}
	for _, tt := range tests {
		if got := stripScheme(tt.in); got != tt.want {
			t.Errorf("stripScheme(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.Meter("test") == nil {
		t.Error("Meter() = nil")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewProvider_Enabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.OTLPEndpoint = srv.URL
	cfg.Environment = "Test"

	p, err := NewProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	counter, err := p.Meter("test").Int64Counter("cart.mutations")
	if err != nil {
		t.Fatalf("Int64Counter() error = %v", err)
	}
	counter.Add(context.Background(), 1)

	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestHistogramViews(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithView(histogramViews()...),
	)
	defer func() { _ = mp.Shutdown(context.Background()) }()

	h, err := mp.Meter("test").Float64Histogram("cart.mutation.duration")
	if err != nil {
		t.Fatalf("Float64Histogram() error = %v", err)
	}
	h.Record(context.Background(), 120)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(rm.ScopeMetrics) != 1 || len(rm.ScopeMetrics[0].Metrics) != 1 {
		t.Fatalf("collected %+v, want one metric", rm.ScopeMetrics)
	}
	hist, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data = %T, want histogram", rm.ScopeMetrics[0].Metrics[0].Data)
	}
	if got := hist.DataPoints[0].Bounds; !slices.Equal(got, mutationBuckets) {
		t.Errorf("Bounds = %v, want %v", got, mutationBuckets)
	}
}

func TestReportInstrumentErrors(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	if err := ReportInstrumentErrors(logger, "cartsync/test", nil, nil); err != nil {
		t.Errorf("ReportInstrumentErrors(nil) = %v, want nil", err)
	}
	if logs.Len() != 0 {
		t.Errorf("logged %q for no errors", logs.String())
	}

	bad := errors.New("invalid instrument name")
	err := ReportInstrumentErrors(logger, "cartsync/test", nil, bad)
	if !errors.Is(err, bad) {
		t.Errorf("ReportInstrumentErrors() = %v, want %v", err, bad)
	}
	if out := logs.String(); !strings.Contains(out, "metric instruments unavailable") || !strings.Contains(out, "meter=cartsync/test") {
		t.Errorf("log = %q", out)
	}
}
