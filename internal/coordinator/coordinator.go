// Package coordinator turns shopper intents into optimistic cart mutations:
// predict locally, call the platform, then confirm or roll back.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"cartsync/internal/cart"
	"cartsync/internal/model"
	"cartsync/internal/platform"
	"cartsync/internal/reorder"
)

// =============================================================================
// MUTATION LIFECYCLE
// =============================================================================
//
// Every mutation owns one resource key ("item:<key>", "coupons", "shipping")
// and runs:
//
//   1. fail fast when the session is degraded
//   2. reserve the resource (rejected when it is busy)
//   3. publish the prediction
//   4. call the platform with a fresh context bounded by MutationTimeout
//   5. on success fold the platform's answer into the snapshot
//   6. on failure restore the previous slice and emit a notice
//   7. release the resource, or hand it to the next queued intent
//
// The reservation is the flight: a late answer from a call whose flight
// was superseded is a no-op. A SessionError degrades the coordinator until
// Reauthenticate succeeds.
//
// Cart reads are checked against the store's mutation epoch. A read that
// a mutation overtook is discarded and sent again.
//
// The platform call is not tied to the caller's context: a shopper closing
// the page does not abandon a request the platform may already be applying.
//
// =============================================================================

// Config tunes the coordinator.
type Config struct {
	// Cooldown is the minimum spacing of quantity intents on one line.
	Cooldown time.Duration
	// MutationTimeout bounds every platform call.
	MutationTimeout time.Duration
	Currency        model.Currency
	SessionID       string
	Logger          *slog.Logger
	Meter           metric.Meter
	// OnState observes per-resource state transitions.
	OnState func(resource string, s State)
}

// DefaultCooldown matches the storefront widget's debounce.
const DefaultCooldown = 300 * time.Millisecond

// DefaultMutationTimeout bounds platform calls when Config leaves it zero.
const DefaultMutationTimeout = 30 * time.Second

// Mutation describes one optimistic change.
type Mutation struct {
	Resource string
	// Kind labels metrics and logs ("quantity", "coupon_apply", ...).
	Kind string
	// Predict edits a copy of the snapshot.
	Predict func(*model.CartSnapshot)
	// Call performs the platform request and returns the merge to apply on
	// success; a nil merge keeps the prediction as is.
	Call func(ctx context.Context) (func(*model.CartSnapshot), error)
	// FailureMessage is shown when the platform gave no message.
	FailureMessage string
	// KeepOnFailure resolves without rolling back; a warning notice is
	// emitted instead.
	KeepOnFailure bool
	// FollowUp refreshes the cart in the background after a confirmation.
	FollowUp bool
}

// inflight reserves a resource for one mutation. pending is set, and ready
// closed, once the prediction is published or has failed.
type inflight struct {
	resource string
	ctx      context.Context
	cancel   context.CancelFunc
	ready    chan struct{}
	pending  *cart.PendingMutation
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	platform platform.Platform
	store    *cart.Store
	reorder  *reorder.Controller
	sink     Sink
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         conc.WaitGroup

	mu          sync.Mutex
	degraded    bool
	settings    model.StorefrontSettings
	limiters    map[string]*rate.Limiter
	queues      map[string][]int
	inflight    map[string]*inflight
	guards      map[string]bool
	states      map[string]State
	refreshGen  uint64
	refreshStop context.CancelFunc
	closed      bool
}

// New wires a coordinator to a platform session and its store. The
// reorder controller becomes the store's display order hook.
func New(p platform.Platform, store *cart.Store, ro *reorder.Controller, sink Sink, cfg Config) *Coordinator {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.MutationTimeout <= 0 {
		cfg.MutationTimeout = DefaultMutationTimeout
	}
	if cfg.Currency.DecimalSeparator == "" && cfg.Currency.Symbol == "" {
		cfg.Currency = model.DefaultCurrency()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if sink == nil {
		sink = discardSink{}
	}
	if ro == nil {
		ro = reorder.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		platform:   p,
		store:      store,
		reorder:    ro,
		sink:       sink,
		cfg:        cfg,
		logger:     cfg.Logger.With("session_id", cfg.SessionID),
		metrics:    newMetrics(cfg.Meter, cfg.Logger),
		baseCtx:    ctx,
		cancelBase: cancel,
		settings:   model.DefaultStorefrontSettings(),
		limiters:   make(map[string]*rate.Limiter),
		queues:     make(map[string][]int),
		inflight:   make(map[string]*inflight),
		guards:     make(map[string]bool),
		states:     make(map[string]State),
	}
	store.SetReorderHook(ro.Apply)
	return c
}

// Store returns the snapshot store the coordinator mutates.
func (c *Coordinator) Store() *cart.Store {
	return c.store
}

// Settings returns the storefront settings from the last bootstrap.
func (c *Coordinator) Settings() model.StorefrontSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// SetSettings replaces the storefront settings.
func (c *Coordinator) SetSettings(s model.StorefrontSettings) {
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
}

// Degraded reports whether mutations are suspended until Reauthenticate.
func (c *Coordinator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Wait blocks until background work (queued intents, follow-up refreshes)
// has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels in-flight calls and waits for background work.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancelBase()
	c.wg.Wait()
}

// Mutate runs m to completion and returns the platform failure, if any.
func (c *Coordinator) Mutate(m Mutation) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	f, err := c.reserve(m.Resource)
	if err != nil {
		return err
	}
	return c.run(m, f)
}

// reserve claims resource for one mutation.
func (c *Coordinator) reserve(resource string) (*inflight, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[resource]; busy {
		return nil, model.NewBusyError(resource)
	}
	return c.reserveLocked(resource), nil
}

func (c *Coordinator) reserveLocked(resource string) *inflight {
	ctx, cancel := context.WithTimeout(c.baseCtx, c.cfg.MutationTimeout)
	f := &inflight{resource: resource, ctx: ctx, cancel: cancel, ready: make(chan struct{})}
	c.inflight[resource] = f
	return f
}

// owns reports whether f still holds its resource.
func (c *Coordinator) owns(f *inflight) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[f.resource] == f
}

// run executes m under the reservation f.
func (c *Coordinator) run(m Mutation, f *inflight) error {
	defer f.cancel()

	p, err := c.store.ApplyPrediction(m.Resource, m.Predict)
	c.mu.Lock()
	f.pending = p
	current := c.inflight[m.Resource] == f
	c.mu.Unlock()
	close(f.ready)
	if err != nil {
		c.finish(f)
		return err
	}

	started := time.Now()
	log := c.logger.With("resource", m.Resource, "mutation_id", p.ID, "kind", m.Kind)
	if !current {
		// Superseded before the call went out; supersede rolls p back.
		c.metrics.record(m.Kind, outcomeSuperseded, nil, started)
		return model.NewSupersededError(m.Resource)
	}
	c.setState(m.Resource, StatePredicting)
	c.setState(m.Resource, StateAwaitingServer)
	log.Debug("mutation predicted")

	merge, callErr := m.Call(f.ctx)

	if !c.owns(f) || (callErr == nil && !c.store.Confirm(p, merge)) {
		log.Debug("discarding superseded response", "error", callErr)
		c.metrics.record(m.Kind, outcomeSuperseded, callErr, started)
		return model.NewSupersededError(m.Resource)
	}

	if callErr == nil {
		c.setState(m.Resource, StateConfirmed)
		c.setState(m.Resource, StateIdle)
		c.metrics.record(m.Kind, outcomeConfirmed, nil, started)
		log.Debug("mutation confirmed", "duration_ms", time.Since(started).Milliseconds())
		if m.FollowUp {
			c.refreshInBackground()
		}
		c.finish(f)
		return nil
	}

	if errors.Is(callErr, model.ErrSession) {
		c.degrade(m.Resource)
	}

	if m.KeepOnFailure {
		c.store.Confirm(p, nil)
		c.setState(m.Resource, StateIdle)
		c.metrics.record(m.Kind, outcomeKept, callErr, started)
		log.Warn("mutation unconfirmed, keeping local selection", "error", callErr)
		c.sink.Notify(Notice{
			Level:    LevelWarning,
			Code:     CodeShippingUnconfirmed,
			Message:  failureMessage(callErr, m.FailureMessage),
			Resource: m.Resource,
		})
		c.finish(f)
		return callErr
	}

	c.store.Rollback(p)
	c.setState(m.Resource, StateRolledBack)
	c.setState(m.Resource, StateIdle)
	c.metrics.record(m.Kind, outcomeRolledBack, callErr, started)
	log.Warn("mutation rolled back", "error", callErr, "error_kind", model.KindOf(callErr))
	if !errors.Is(callErr, model.ErrSession) {
		c.sink.Notify(Notice{
			Level:    LevelError,
			Code:     CodeMutationFailed,
			Message:  failureMessage(callErr, m.FailureMessage),
			Resource: m.Resource,
		})
	}
	c.finish(f)
	return callErr
}

// finish releases f's resource. A queued quantity intent for the same line
// inherits the reservation, so no new intent can slip in ahead of it.
func (c *Coordinator) finish(f *inflight) {
	c.mu.Lock()
	if c.inflight[f.resource] != f {
		c.mu.Unlock()
		return
	}
	delete(c.inflight, f.resource)
	key, isItem := cart.ItemKey(f.resource)
	q := c.queues[f.resource]
	if !isItem || len(q) == 0 || c.closed {
		c.mu.Unlock()
		return
	}
	delta := q[0]
	if len(q) == 1 {
		delete(c.queues, f.resource)
	} else {
		c.queues[f.resource] = q[1:]
	}
	next := c.reserveLocked(f.resource)
	c.mu.Unlock()

	c.wg.Go(func() { c.drain(next, key, delta) })
}

// failureMessage prefers the platform's own text for application and
// validation failures; transport failures get fallback.
func failureMessage(err error, fallback string) string {
	switch model.KindOf(err) {
	case model.KindApplication, model.KindValidation:
		if msg := model.MessageOf(err); msg != "" {
			return msg
		}
	}
	if fallback == "" {
		return "Something went wrong, please try again"
	}
	return fallback
}

func (c *Coordinator) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return model.NewInternalError(errors.New("coordinator closed"))
	}
	if c.degraded {
		return model.NewDegradedError()
	}
	return nil
}

func (c *Coordinator) degrade(resource string) {
	c.mu.Lock()
	already := c.degraded
	c.degraded = true
	c.mu.Unlock()
	if already {
		return
	}
	c.logger.Warn("security token rejected, suspending mutations", "resource", resource)
	c.sink.Notify(Notice{
		Level:    LevelError,
		Code:     CodeSessionExpired,
		Message:  model.NewDegradedError().Message,
		Resource: resource,
	})
}

// busy reports whether resource is reserved by a mutation.
func (c *Coordinator) busy(resource string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[resource]
	return ok
}

// supersede cancels the call in flight for resource and rolls back its
// prediction. Its eventual answer is discarded. Reports whether there was
// one.
func (c *Coordinator) supersede(resource string) bool {
	c.mu.Lock()
	f, ok := c.inflight[resource]
	if ok {
		delete(c.inflight, resource)
	}
	delete(c.queues, resource)
	c.mu.Unlock()
	if !ok {
		return false
	}

	f.cancel()
	<-f.ready
	if f.pending == nil || !c.store.Rollback(f.pending) {
		return true
	}
	c.setState(resource, StateRolledBack)
	c.setState(resource, StateIdle)
	c.logger.Debug("mutation superseded", "resource", resource, "mutation_id", f.pending.ID)
	return true
}

// guard marks a non-optimistic operation in flight. The returned release
// must be called when it finishes.
func (c *Coordinator) guard(key string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.guards[key] {
		return nil, model.NewBusyError(key)
	}
	c.guards[key] = true
	return func() {
		c.mu.Lock()
		delete(c.guards, key)
		c.mu.Unlock()
	}, nil
}

// callContext bounds a non-optimistic platform call.
func (c *Coordinator) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.baseCtx, c.cfg.MutationTimeout)
}

// observe degrades on session failures of non-optimistic calls.
func (c *Coordinator) observe(resource string, err error) error {
	if errors.Is(err, model.ErrSession) {
		c.degrade(resource)
	}
	return err
}

func (c *Coordinator) refreshInBackground() {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.wg.Go(func() {
		if _, err := c.Refresh(c.baseCtx); err != nil && !errors.Is(err, model.ErrSuperseded) {
			c.logger.Debug("follow-up refresh failed", "error", err)
		}
	})
}

// refreshAttempts bounds the cart reads one Refresh sends while mutations
// keep overtaking them.
const refreshAttempts = 3

// Refresh reads the authoritative cart and absorbs it. A newer Refresh
// cancels an older one still in flight. A read that a mutation overtook is
// discarded and sent again; when every attempt was overtaken the local
// snapshot is returned and the mutations' own follow-up reads catch up.
func (c *Coordinator) Refresh(ctx context.Context) (*model.CartSnapshot, error) {
	refreshCtx, cancel := context.WithTimeout(ctx, c.cfg.MutationTimeout)
	defer cancel()

	c.mu.Lock()
	if c.refreshStop != nil {
		c.refreshStop()
	}
	c.refreshGen++
	gen := c.refreshGen
	c.refreshStop = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.refreshGen == gen {
			c.refreshStop = nil
		}
		c.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		epoch := c.store.Epoch()
		snap, err := c.platform.Cart(refreshCtx)

		c.mu.Lock()
		current := c.refreshGen == gen
		c.mu.Unlock()
		if !current {
			c.metrics.stale.Add(context.Background(), 1)
			return nil, model.NewSupersededError("cart")
		}
		if err != nil {
			return nil, c.observe("cart", err)
		}

		if absorbed, ok := c.store.AbsorbAt(snap, epoch); ok {
			return absorbed, nil
		}
		c.metrics.stale.Add(context.Background(), 1)
		if attempt == refreshAttempts {
			c.logger.Debug("cart reads kept being overtaken, keeping local snapshot", "attempts", attempt)
			return c.store.Snapshot(), nil
		}
		c.logger.Debug("discarding cart read overtaken by a mutation", "attempt", attempt)
	}
}

// Reauthenticate obtains a fresh security token, lifts the degraded state
// and refreshes the cart.
func (c *Coordinator) Reauthenticate(ctx context.Context) (*platform.Bootstrap, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.MutationTimeout)
	defer cancel()

	boot, err := c.platform.RefreshToken(callCtx)
	if err != nil {
		c.logger.Warn("reauthentication failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	wasDegraded := c.degraded
	c.degraded = false
	c.settings = boot.Settings
	c.mu.Unlock()

	if wasDegraded {
		c.logger.Info("session restored")
		c.sink.Notify(Notice{Level: LevelInfo, Code: CodeSessionRestored, Message: "Your session was restored"})
	}
	if _, err := c.Refresh(ctx); err != nil && !errors.Is(err, model.ErrSuperseded) {
		return boot, err
	}
	return boot, nil
}
