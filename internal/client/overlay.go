package client

import (
	"sync"
	"time"

	"github.com/vitrina-retail/api/internal/history"
)

// Action is the locally recorded optimistic state for one order: what the
// user just did, what the server view looked like at that moment, and the
// temporary steps to splice into the timeline until the server confirms.
type Action struct {
	Taken     bool
	Completed bool

	// Snapshot of the server view at the moment of the action. Reconcile
	// compares fresh fetches against these to decide when the overlay has
	// served its purpose.
	StatusAtAction     string
	HistoryLenAtAction int

	TempSteps []history.Step
	CreatedAt time.Time
}

// Overlay tracks optimistic local actions per order with a TTL. Entries
// expire lazily: an expired entry is dropped on the next read, so a stuck
// confirmation can never pin the UI in its optimistic state forever.
type Overlay struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	actions map[string]Action
}

// DefaultOverlayTTL bounds how long an unconfirmed optimistic action
// suppresses buttons before the server view wins by default.
const DefaultOverlayTTL = 12 * time.Second

// NewOverlay creates an overlay with the given TTL. A non-positive TTL
// selects the default.
func NewOverlay(ttl time.Duration) *Overlay {
	if ttl <= 0 {
		ttl = DefaultOverlayTTL
	}
	return &Overlay{
		ttl:     ttl,
		now:     time.Now,
		actions: make(map[string]Action),
	}
}

// SetTaken records an optimistic take.
func (o *Overlay) SetTaken(orderID, statusAtAction string, historyLen int, step history.Step) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a := o.actions[orderID]
	a.Taken = true
	a.StatusAtAction = statusAtAction
	a.HistoryLenAtAction = historyLen
	a.TempSteps = append(a.TempSteps, step)
	a.CreatedAt = o.now()
	o.actions[orderID] = a
}

// SetCompleted records an optimistic stage completion.
func (o *Overlay) SetCompleted(orderID, statusAtAction string, historyLen int, step history.Step) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a := o.actions[orderID]
	a.Completed = true
	a.StatusAtAction = statusAtAction
	a.HistoryLenAtAction = historyLen
	a.TempSteps = append(a.TempSteps, step)
	a.CreatedAt = o.now()
	o.actions[orderID] = a
}

// Get returns the pending action for an order. Expired entries are removed
// and reported as absent.
func (o *Overlay) Get(orderID string) (Action, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.actions[orderID]
	if !ok {
		return Action{}, false
	}
	if o.now().Sub(a.CreatedAt) > o.ttl {
		delete(o.actions, orderID)
		return Action{}, false
	}
	return a, true
}

// TempSteps returns the temporary steps for an order, or nil when no action
// is pending.
func (o *Overlay) TempSteps(orderID string) []history.Step {
	a, ok := o.Get(orderID)
	if !ok {
		return nil
	}
	return a.TempSteps
}

// Clear drops the pending action for an order.
func (o *Overlay) Clear(orderID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.actions, orderID)
}

// Sweep drops all expired entries. Useful on app foreground; reads expire
// lazily anyway.
func (o *Overlay) Sweep() {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	for id, a := range o.actions {
		if now.Sub(a.CreatedAt) > o.ttl {
			delete(o.actions, id)
		}
	}
}
