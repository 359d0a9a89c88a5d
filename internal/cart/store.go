// Package cart holds the per-session cart snapshot: the last authoritative
// cart from the platform overlaid with the predictions of mutations that
// are still in flight.
package cart

import (
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cartsync/internal/model"
)

// Resource keys name the slice of the snapshot a mutation owns.
const (
	ResourceCoupons  = "coupons"
	ResourceShipping = "shipping"
	itemPrefix       = "item:"
)

// ItemResource returns the resource key of one cart line.
func ItemResource(key string) string {
	return itemPrefix + key
}

// ItemKey returns the line key of an item resource.
func ItemKey(resource string) (string, bool) {
	return strings.CutPrefix(resource, itemPrefix)
}

// Cause tells subscribers why the snapshot changed.
type Cause string

const (
	CausePredict  Cause = "predict"
	CauseConfirm  Cause = "confirm"
	CauseRollback Cause = "rollback"
	CauseAbsorb   Cause = "absorb"
	CauseReorder  Cause = "reorder"
)

// Change is delivered to subscribers after every state transition.
// Snapshot is a private copy.
type Change struct {
	Cause    Cause
	Resource string
	Snapshot *model.CartSnapshot
	Pending  []string
}

// PendingMutation records an optimistic change awaiting the platform.
type PendingMutation struct {
	ID              string
	Resource        string
	Previous        *model.CartSnapshot
	Predicted       *model.CartSnapshot
	StartedRevision uint64
}

// Store is safe for concurrent use. Notifications are delivered
// synchronously, in operation order, before the mutating call returns;
// subscribers may read the store but must not mutate it from the callback.
type Store struct {
	currency model.Currency

	// notifyMu serializes mutation plus notification so subscribers see
	// changes in call order.
	notifyMu sync.Mutex

	mu      sync.RWMutex
	current *model.CartSnapshot
	pending map[string]*PendingMutation
	// epoch advances on every prediction, confirmation and rollback.
	epoch   uint64
	subs    map[int]func(Change)
	nextSub int
	reorder func([]model.LineItem) []model.LineItem
}

// NewStore returns an empty store. currency formats rolled-back totals
// that no longer match a recorded value.
func NewStore(currency model.Currency) *Store {
	return &Store{
		currency: currency,
		current:  emptySnapshot(),
		pending:  make(map[string]*PendingMutation),
		subs:     make(map[int]func(Change)),
	}
}

func emptySnapshot() *model.CartSnapshot {
	return &model.CartSnapshot{
		Items:           []model.LineItem{},
		Coupons:         []model.Coupon{},
		ShippingMethods: []model.ShippingMethod{},
	}
}

// Subscribe registers fn for every change and returns its cancel function.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// SetReorderHook installs the display order applied to every absorbed
// snapshot and re-applies it to the current one.
func (s *Store) SetReorderHook(fn func([]model.LineItem) []model.LineItem) {
	s.mu.Lock()
	s.reorder = fn
	s.mu.Unlock()
}

// Snapshot returns a deep copy of the current snapshot.
func (s *Store) Snapshot() *model.CartSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Revision returns the revision of the current snapshot.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Revision
}

// Epoch returns the mutation epoch. A cart read taken at one epoch is
// stale once the epoch has moved.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Pending returns the resource keys with a mutation in flight, sorted.
func (s *Store) Pending() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingKeys()
}

// IsPending reports whether resource has a mutation in flight.
func (s *Store) IsPending(resource string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pending[resource]
	return ok
}

func (s *Store) pendingKeys() []string {
	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ApplyPrediction publishes the snapshot predict produces from a copy of
// the current one. It fails with a busy error when resource already has a
// mutation in flight. predict must only touch resource's slice plus the
// count and totals.
func (s *Store) ApplyPrediction(resource string, predict func(*model.CartSnapshot)) (*PendingMutation, error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if _, busy := s.pending[resource]; busy {
		s.mu.Unlock()
		return nil, model.NewBusyError(resource)
	}

	previous := s.current.Clone()
	next := s.current.Clone()
	predict(next)

	p := &PendingMutation{
		ID:              uuid.NewString(),
		Resource:        resource,
		Previous:        previous,
		Predicted:       next.Clone(),
		StartedRevision: previous.Revision,
	}
	s.pending[resource] = p
	s.current = next
	s.epoch++
	change, subs := s.changeLocked(CausePredict, resource)
	s.mu.Unlock()

	notify(subs, change)
	return p, nil
}

// Confirm resolves p and folds the platform's answer into the snapshot
// through merge, which may be nil. It reports false, without notifying,
// when p is no longer the mutation in flight for its resource.
func (s *Store) Confirm(p *PendingMutation, merge func(*model.CartSnapshot)) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.pending[p.Resource] != p {
		s.mu.Unlock()
		return false
	}
	delete(s.pending, p.Resource)
	if merge != nil {
		next := s.current.Clone()
		merge(next)
		s.current = next
	}
	s.epoch++
	change, subs := s.changeLocked(CauseConfirm, p.Resource)
	s.mu.Unlock()

	notify(subs, change)
	return true
}

// Rollback restores the resource's slice from p.Previous and reverts the
// count and totals change p predicted. It reports false, without
// notifying, when p is no longer the mutation in flight for its resource.
func (s *Store) Rollback(p *PendingMutation) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.pending[p.Resource] != p {
		s.mu.Unlock()
		return false
	}
	delete(s.pending, p.Resource)

	next := s.current.Clone()
	restoreSlice(next, p.Previous, p.Resource)
	next.Count -= p.Predicted.Count - p.Previous.Count
	if next.Count < 0 {
		next.Count = 0
	}
	next.Totals = s.revertTotals(next.Totals, p.Previous.Totals, p.Predicted.Totals)
	s.current = next
	s.epoch++

	change, subs := s.changeLocked(CauseRollback, p.Resource)
	s.mu.Unlock()

	notify(subs, change)
	return true
}

// Absorb replaces the snapshot with an authoritative one and increments
// the revision. Slices owned by pending mutations keep their predicted
// values, as do the count and totals while anything is pending. Absorbing
// the same snapshot twice yields the same state apart from the revision.
func (s *Store) Absorb(incoming *model.CartSnapshot) *model.CartSnapshot {
	snap, _ := s.absorb(incoming, 0, false)
	return snap
}

// AbsorbAt absorbs incoming only if the epoch is still epoch, the value
// Epoch returned before the read was sent. It reports false, without
// notifying, when a mutation resolved or started in between.
func (s *Store) AbsorbAt(incoming *model.CartSnapshot, epoch uint64) (*model.CartSnapshot, bool) {
	return s.absorb(incoming, epoch, true)
}

func (s *Store) absorb(incoming *model.CartSnapshot, epoch uint64, checkEpoch bool) (*model.CartSnapshot, bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if checkEpoch && s.epoch != epoch {
		s.mu.Unlock()
		return nil, false
	}
	next := incoming.Clone()
	if next.Items == nil {
		next.Items = []model.LineItem{}
	}
	if next.Coupons == nil {
		next.Coupons = []model.Coupon{}
	}
	if next.ShippingMethods == nil {
		next.ShippingMethods = []model.ShippingMethod{}
	}

	for resource := range s.pending {
		restoreSlice(next, s.current, resource)
	}
	if len(s.pending) > 0 {
		next.Count = s.current.Count
		next.Totals = s.current.Totals
	}
	if s.reorder != nil {
		next.Items = s.reorder(next.Items)
	}
	next.Revision = s.current.Revision + 1
	s.current = next

	change, subs := s.changeLocked(CauseAbsorb, "")
	s.mu.Unlock()

	notify(subs, change)
	return change.Snapshot.Clone(), true
}

// Rearrange applies order to the current line items and publishes the
// result. Used by drag reorder, which changes no platform state.
func (s *Store) Rearrange(order func([]model.LineItem) []model.LineItem) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	next := s.current.Clone()
	next.Items = order(next.Items)
	s.current = next
	change, subs := s.changeLocked(CauseReorder, "")
	s.mu.Unlock()

	notify(subs, change)
}

func (s *Store) changeLocked(cause Cause, resource string) (Change, []func(Change)) {
	subs := make([]func(Change), 0, len(s.subs))
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	return Change{
		Cause:    cause,
		Resource: resource,
		Snapshot: s.current.Clone(),
		Pending:  s.pendingKeys(),
	}, subs
}

func notify(subs []func(Change), c Change) {
	for _, fn := range subs {
		// Each subscriber gets its own copy.
		fn(Change{Cause: c.Cause, Resource: c.Resource, Snapshot: c.Snapshot.Clone(), Pending: slices.Clone(c.Pending)})
	}
}

// restoreSlice copies resource's slice from src into dst.
func restoreSlice(dst, src *model.CartSnapshot, resource string) {
	switch resource {
	case ResourceCoupons:
		dst.Coupons = slices.Clone(src.Coupons)
		return
	case ResourceShipping:
		dst.ShippingMethods = slices.Clone(src.ShippingMethods)
		return
	}

	key, ok := ItemKey(resource)
	if !ok {
		return
	}
	srcItem, srcIdx := src.Item(key)
	_, dstIdx := dst.Item(key)
	switch {
	case srcIdx < 0 && dstIdx >= 0:
		dst.Items = slices.Delete(dst.Items, dstIdx, dstIdx+1)
	case srcIdx >= 0 && dstIdx >= 0:
		dst.Items[dstIdx] = srcItem
	case srcIdx >= 0 && dstIdx < 0:
		dst.Items = slices.Insert(dst.Items, min(srcIdx, len(dst.Items)), srcItem)
	}
}

// revertTotals undoes the predicted change to each total. Fields nobody
// touched since the prediction get their previous value back exactly;
// others have the predicted delta subtracted.
func (s *Store) revertTotals(cur, prev, pred model.Totals) model.Totals {
	revert := func(c, p, d model.Money) model.Money {
		if moneyEqual(c, d) {
			return p
		}
		delta := d.Amount.Sub(p.Amount)
		if delta.IsZero() {
			return c
		}
		return s.currency.Money(c.Amount.Sub(delta))
	}
	return model.Totals{
		Subtotal:      revert(cur.Subtotal, prev.Subtotal, pred.Subtotal),
		DiscountTotal: revert(cur.DiscountTotal, prev.DiscountTotal, pred.DiscountTotal),
		DiscountTax:   revert(cur.DiscountTax, prev.DiscountTax, pred.DiscountTax),
		ShippingTotal: revert(cur.ShippingTotal, prev.ShippingTotal, pred.ShippingTotal),
		ShippingTax:   revert(cur.ShippingTax, prev.ShippingTax, pred.ShippingTax),
		ContentsTax:   revert(cur.ContentsTax, prev.ContentsTax, pred.ContentsTax),
		FeeTotal:      revert(cur.FeeTotal, prev.FeeTotal, pred.FeeTotal),
		FeeTax:        revert(cur.FeeTax, prev.FeeTax, pred.FeeTax),
		TotalTax:      revert(cur.TotalTax, prev.TotalTax, pred.TotalTax),
		Total:         revert(cur.Total, prev.Total, pred.Total),
	}
}

func moneyEqual(a, b model.Money) bool {
	return a.Display == b.Display && a.Amount.Equal(b.Amount)
}

// EstimateLine returns unit × qty formatted with currency.
func EstimateLine(currency model.Currency, unit model.Money, qty int) model.Money {
	return currency.Money(unit.Amount.Mul(decimal.NewFromInt(int64(qty))))
}
