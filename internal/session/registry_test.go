package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"cartsync/internal/model"
	"cartsync/internal/platform"
	"cartsync/internal/surface"
)

var usd = model.DefaultCurrency()

func money(amount string) model.Money {
	return usd.Money(decimal.RequireFromString(amount))
}

func sampleCart() *model.CartSnapshot {
	return &model.CartSnapshot{
		Items: []model.LineItem{
			{Key: "a", ProductID: 1, Name: "Tee", UnitPrice: money("10"), Quantity: 1, LineSubtotal: money("10")},
		},
		Totals: model.Totals{Subtotal: money("10"), Total: money("10")},
		Count:  1,
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRegistry(t *testing.T, p *platform.Mock, cfg Config) *Registry {
	t.Helper()
	cfg.NewPlatform = func(*slog.Logger) (platform.Platform, error) {
		return p, nil
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = time.Nanosecond
	}
	r := NewRegistry(cfg)
	t.Cleanup(r.Close)
	return r
}

func cartPlatform() *platform.Mock {
	return &platform.Mock{
		CartFunc: func(ctx context.Context) (*model.CartSnapshot, error) {
			return sampleCart(), nil
		},
	}
}

func TestRegistry_CreateBootstraps(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := newRegistry(t, cartPlatform(), Config{Logger: logger})

	sess, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.ID == "" {
		t.Fatal("session ID is empty")
	}
	snap := sess.Store().Snapshot()
	if snap.Count != 1 || snap.Revision != 1 {
		t.Errorf("snapshot count %d revision %d, want 1 and 1", snap.Count, snap.Revision)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	got, err := r.Get(sess.ID)
	if err != nil || got != sess {
		t.Errorf("Get() = %v, %v; want the created session", got, err)
	}
	if !strings.Contains(logs.String(), "session created") || !strings.Contains(logs.String(), sess.ID) {
		t.Errorf("log output missing session creation:\n%s", logs.String())
	}
}

func TestRegistry_CreateBootstrapFailure(t *testing.T) {
	p := &platform.Mock{
		RefreshTokenFunc: func(ctx context.Context) (*platform.Bootstrap, error) {
			return nil, model.NewSessionError("Security check failed")
		},
	}
	r := newRegistry(t, p, Config{})

	if _, err := r.Create(context.Background()); !errors.Is(err, model.ErrSession) {
		t.Errorf("Create() error = %v, want session error", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_FactoryFailure(t *testing.T) {
	r := NewRegistry(Config{NewPlatform: func(*slog.Logger) (platform.Platform, error) {
		return nil, errors.New("store URL is required")
	}})
	defer r.Close()

	_, err := r.Create(context.Background())
	if model.KindOf(err) != model.KindInternal {
		t.Errorf("Create() error = %v, want internal error", err)
	}
}

func TestRegistry_MaxSessions(t *testing.T) {
	r := newRegistry(t, cartPlatform(), Config{MaxSessions: 1})

	if _, err := r.Create(context.Background()); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}
	if _, err := r.Create(context.Background()); !errors.Is(err, model.ErrCapacity) {
		t.Errorf("second Create() error = %v, want %v", err, model.ErrCapacity)
	}
}

func TestRegistry_Delete(t *testing.T) {
	r := newRegistry(t, cartPlatform(), Config{})
	sess, _ := r.Create(context.Background())

	if err := r.Delete(sess.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := r.Get(sess.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want not found", err)
	}
	if err := r.Delete(sess.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want not found", err)
	}
	if err := sess.Coordinator.RequestRemove("a"); err == nil {
		t.Error("intent accepted on a deleted session")
	}
}

func TestRegistry_Sweep(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := newRegistry(t, cartPlatform(), Config{TTL: time.Minute, Now: clk.Now})

	idle, _ := r.Create(context.Background())
	streaming, _ := r.Create(context.Background())
	_, events := streaming.Hub.Subscribe(context.Background())

	clk.Advance(30 * time.Second)
	if n := r.Sweep(clk.Now()); n != 0 {
		t.Fatalf("Sweep() before TTL = %d, want 0", n)
	}

	clk.Advance(31 * time.Second)
	if n := r.Sweep(clk.Now()); n != 1 {
		t.Fatalf("Sweep() after TTL = %d, want 1", n)
	}
	if _, err := r.Get(idle.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("idle session still live: %v", err)
	}
	if _, err := r.Get(streaming.ID); err != nil {
		t.Errorf("streaming session expired: %v", err)
	}

	if err := r.Delete(streaming.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	var last Event
	for evt := range events {
		last = evt
	}
	if last.Type != EventClosed {
		t.Errorf("last event = %+v, want closed", last)
	}
}

func TestRegistry_GetRefreshesLastSeen(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := newRegistry(t, cartPlatform(), Config{TTL: time.Minute, Now: clk.Now})
	sess, _ := r.Create(context.Background())

	clk.Advance(50 * time.Second)
	_, _ = r.Get(sess.ID)
	clk.Advance(50 * time.Second)

	if n := r.Sweep(clk.Now()); n != 0 {
		t.Errorf("Sweep() = %d, want 0 for a recently used session", n)
	}
}

func TestSession_StreamCarriesDiffsAndNotices(t *testing.T) {
	p := cartPlatform()
	p.SetQuantityFunc = func(ctx context.Context, key string, quantity int) (*model.QuantityResult, error) {
		return nil, model.NewApplicationError("Sorry, we do not have enough stock")
	}
	r := newRegistry(t, p, Config{})
	sess, _ := r.Create(context.Background())

	_, events := sess.Hub.Subscribe(context.Background())
	if err := sess.Surfaces.Panel.Increment("a"); err == nil {
		t.Fatal("Increment() error = nil, want failure")
	}

	var diffs int
	var notice *Event
	timeout := time.After(time.Second)
	for notice == nil {
		select {
		case evt := <-events:
			switch evt.Type {
			case EventDiff:
				diffs++
			case EventNotice:
				notice = &evt
			}
		case <-timeout:
			t.Fatalf("no notice event after %d diffs", diffs)
		}
	}
	// predict and rollback reach the badge and the panel, the notice reaches the panel.
	if diffs < 3 {
		t.Errorf("diff events = %d, want at least 3", diffs)
	}
	if notice.Notice.Message != "Sorry, we do not have enough stock" {
		t.Errorf("notice = %+v", notice.Notice)
	}
	if notice.Revision != sess.Store().Revision() {
		t.Errorf("notice revision = %d, want %d", notice.Revision, sess.Store().Revision())
	}
}

func TestRegistry_LoadsUpsell(t *testing.T) {
	p := cartPlatform()
	p.RefreshTokenFunc = func(ctx context.Context) (*platform.Bootstrap, error) {
		s := model.DefaultStorefrontSettings()
		s.Upsell = model.UpsellSettings{ShowUpsellProducts: true, UpsellProducts: []int{9}}
		return &platform.Bootstrap{Settings: s}, nil
	}
	loaded := make(chan struct{})
	p.ProductFunc = func(ctx context.Context, id int) (*model.Product, error) {
		defer close(loaded)
		return &model.Product{ID: id, Name: "Socks", Type: "simple", Price: money("3")}, nil
	}
	r := newRegistry(t, p, Config{})
	sess, _ := r.Create(context.Background())

	select {
	case <-loaded:
	case <-time.After(time.Second):
		t.Fatal("upsell products never requested")
	}
	r.wg.Wait()

	upsell, _ := sess.Surfaces.Panel.View().Fields["upsell"].([]surface.UpsellView)
	if len(upsell) != 1 || upsell[0].ID != 9 {
		t.Errorf("upsell = %+v, want product 9", upsell)
	}
}

func TestRegistry_CloseRejectsCreate(t *testing.T) {
	r := newRegistry(t, cartPlatform(), Config{})
	sess, _ := r.Create(context.Background())
	r.Close()

	if r.Len() != 0 {
		t.Errorf("Len() = %d after Close, want 0", r.Len())
	}
	if _, err := r.Create(context.Background()); !errors.Is(err, model.ErrCapacity) {
		t.Errorf("Create() after Close error = %v, want %v", err, model.ErrCapacity)
	}
	if err := sess.Coordinator.RequestRemove("a"); err == nil {
		t.Error("intent accepted after registry Close")
	}
}

// brokenMeter rejects every counter it is asked for.
type brokenMeter struct{ noop.Meter }

func (brokenMeter) Int64Counter(name string, _ ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return noop.Int64Counter{}, fmt.Errorf("instrument %s rejected", name)
}

func (brokenMeter) Int64UpDownCounter(name string, _ ...metric.Int64UpDownCounterOption) (metric.Int64UpDownCounter, error) {
	return noop.Int64UpDownCounter{}, fmt.Errorf("instrument %s rejected", name)
}

func TestRegistry_ReportsInstrumentErrors(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	r := newRegistry(t, cartPlatform(), Config{Logger: logger, Meter: brokenMeter{}})

	out := logs.String()
	if n := strings.Count(out, "meter=cartsync/session"); n != 1 {
		t.Errorf("session instrument warnings = %d, want 1\n%s", n, out)
	}
	for _, name := range []string{"session.active", "session.stream.subscribers", "session.stream.blocked"} {
		if !strings.Contains(out, name) {
			t.Errorf("warning does not name %s:\n%s", name, out)
		}
	}

	sess, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, events := sess.Hub.Subscribe(context.Background())
	sess.Hub.Publish(Event{Type: EventDiff, Revision: 1})
	if evt, ok := receive(t, events); !ok || evt.Revision != 1 {
		t.Errorf("event = %+v, %v; want delivery despite broken instruments", evt, ok)
	}
	if n := strings.Count(logs.String(), "meter=cartsync/session"); n != 1 {
		t.Errorf("session instrument warnings after Create = %d, want 1", n)
	}
}
