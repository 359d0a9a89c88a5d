// Package session keeps one state engine per shopper: the storefront
// client, the snapshot store, the coordinator, the surfaces and the event
// stream that carries their diffs.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"cartsync/internal/cart"
	"cartsync/internal/coordinator"
	"cartsync/internal/model"
	"cartsync/internal/platform"
	"cartsync/internal/surface"
	"cartsync/internal/telemetry"
)

// PlatformFactory opens a storefront connection for a new session. Each
// call must return an independent client with its own cookie jar.
type PlatformFactory func(logger *slog.Logger) (platform.Platform, error)

// Config tunes the registry and the engines it creates.
type Config struct {
	NewPlatform     PlatformFactory
	Cooldown        time.Duration
	MutationTimeout time.Duration
	// TTL expires sessions idle for longer; zero disables expiry.
	TTL          time.Duration
	MaxSessions  int
	Currency     model.Currency
	StreamBuffer int
	Logger       *slog.Logger
	Meter        metric.Meter
	Now          func() time.Time
}

// Session is one shopper's engine.
type Session struct {
	ID          string
	Created     time.Time
	Coordinator *coordinator.Coordinator
	Surfaces    *surface.Set
	Hub         *Hub

	lastSeen  atomic.Int64
	closeOnce sync.Once
}

// Store returns the session's snapshot store.
func (s *Session) Store() *cart.Store {
	return s.Coordinator.Store()
}

// LastSeen returns the last time the session was used.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// Close stops the engine and detaches stream clients.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.Coordinator.Close()
		s.Surfaces.Close()
		s.Hub.Close()
	})
}

func (s *Session) emit(d surface.Diff) {
	s.Hub.Publish(Event{Type: EventDiff, Revision: s.Store().Revision(), Diff: &d})
}

func (s *Session) notify(n coordinator.Notice) {
	s.Surfaces.Notify(n)
	s.Hub.Publish(Event{Type: EventNotice, Revision: s.Store().Revision(), Notice: &n})
}

// Registry owns the live sessions.
type Registry struct {
	cfg        Config
	logger     *slog.Logger
	active     metric.Int64UpDownCounter
	hubMetrics *hubMetrics

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	wg conc.WaitGroup
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	active, activeErr := meter.Int64UpDownCounter("session.active",
		metric.WithDescription("Number of live shopper sessions"),
		metric.WithUnit("{session}"))
	hubs, hubErr := newHubMetrics(meter)
	_ = telemetry.ReportInstrumentErrors(cfg.Logger, meterName, activeErr, hubErr)
	return &Registry{
		cfg:        cfg,
		logger:     cfg.Logger,
		active:     active,
		hubMetrics: hubs,
		sessions:   make(map[string]*Session),
	}
}

// Create opens a storefront session, fetches the security token and
// settings, and reads the first cart.
func (r *Registry) Create(ctx context.Context) (*Session, error) {
	r.mu.RLock()
	closed, full := r.closed, r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions
	r.mu.RUnlock()
	if closed {
		return nil, model.NewCapacityError()
	}
	if full {
		r.logger.Warn("session limit reached", "max_sessions", r.cfg.MaxSessions)
		return nil, model.NewCapacityError()
	}
	if r.cfg.NewPlatform == nil {
		return nil, model.NewInternalError(errors.New("no platform factory configured"))
	}

	id := uuid.NewString()
	logger := r.logger.With("session_id", id)

	p, err := r.cfg.NewPlatform(logger)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("opening storefront client: %w", err))
	}

	now := r.cfg.Now()
	sess := &Session{ID: id, Created: now, Hub: newHub(r.cfg.StreamBuffer, r.hubMetrics)}
	sess.touch(now)

	store := cart.NewStore(r.cfg.Currency)
	sess.Coordinator = coordinator.New(p, store, nil, coordinator.SinkFunc(sess.notify), coordinator.Config{
		Cooldown:        r.cfg.Cooldown,
		MutationTimeout: r.cfg.MutationTimeout,
		Currency:        r.cfg.Currency,
		SessionID:       id,
		Logger:          r.logger,
		Meter:           r.cfg.Meter,
	})
	sess.Surfaces = surface.NewSet(sess.Coordinator, surface.SinkFunc(sess.emit), logger)

	if _, err := sess.Coordinator.Reauthenticate(ctx); err != nil {
		sess.Close()
		logger.Warn("session bootstrap failed", "error", err)
		return nil, err
	}

	r.mu.Lock()
	if r.closed || (r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions) {
		r.mu.Unlock()
		sess.Close()
		return nil, model.NewCapacityError()
	}
	r.sessions[id] = sess
	r.mu.Unlock()
	r.active.Add(context.Background(), 1)

	if s := sess.Coordinator.Settings(); s.Upsell.ShowUpsellProducts && len(s.Upsell.UpsellProducts) > 0 {
		r.wg.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), r.mutationTimeout())
			defer cancel()
			sess.Surfaces.Panel.LoadUpsell(ctx)
		})
	}

	logger.Info("session created", "revision", sess.Store().Revision())
	return sess, nil
}

func (r *Registry) mutationTimeout() time.Duration {
	if r.cfg.MutationTimeout > 0 {
		return r.cfg.MutationTimeout
	}
	return coordinator.DefaultMutationTimeout
}

// Get returns a live session and marks it used.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, model.NewNotFoundError("session")
	}
	sess.touch(r.cfg.Now())
	return sess, nil
}

// Delete closes and forgets a session.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return model.NewNotFoundError("session")
	}
	sess.Close()
	r.active.Add(context.Background(), -1)
	r.logger.Info("session deleted", "session_id", id)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep closes sessions idle since before now minus the TTL and returns
// how many it closed. Sessions with an attached stream client never expire.
func (r *Registry) Sweep(now time.Time) int {
	if r.cfg.TTL <= 0 {
		return 0
	}
	cutoff := now.Add(-r.cfg.TTL)

	r.mu.Lock()
	var expired []*Session
	for id, sess := range r.sessions {
		if sess.Hub.Len() == 0 && sess.LastSeen().Before(cutoff) {
			expired = append(expired, sess)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, sess := range expired {
		sess.Close()
		r.logger.Debug("session expired", "session_id", sess.ID, "last_seen", sess.LastSeen())
	}
	if n := len(expired); n > 0 {
		r.active.Add(context.Background(), -int64(n))
	}
	return len(expired)
}

// Run sweeps expired sessions every interval until ctx ends.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(r.cfg.Now()); n > 0 {
				r.logger.Info("expired idle sessions", "count", n, "active", r.Len())
			}
		}
	}
}

// Close closes every session and rejects new ones.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var wg conc.WaitGroup
	for _, sess := range sessions {
		wg.Go(sess.Close)
	}
	wg.Wait()
	r.wg.Wait()
	r.active.Add(context.Background(), -int64(len(sessions)))
}
