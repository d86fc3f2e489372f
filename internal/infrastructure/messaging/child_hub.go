package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

// DefaultDedupeWindow is how many recent event IDs each subscription remembers.
const DefaultDedupeWindow = 256

// ChildHandler receives events for one child. Delivery is at-least-once
// upstream; the hub drops repeats of an event ID it has already delivered
// to the same subscription.
type ChildHandler func(event shared.Event)

// ChildHub routes child-scoped events to the sessions subscribed to that
// child. Events are keyed by AggregateID, which for ledger, progress and
// engagement events is the child ID.
type ChildHub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*childSubscription
	nextID uint64
	window int
	logger *slog.Logger
}

type childSubscription struct {
	handler ChildHandler
	seen    *recentIDs
}

// Subscription is a live child subscription.
type Subscription struct {
	hub     *ChildHub
	childID string
	id      uint64
	once    sync.Once
}

// Unsubscribe stops delivery. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.hub.remove(s.childID, s.id) })
}

// NewChildHub attaches a hub to bus. window <= 0 uses DefaultDedupeWindow.
func NewChildHub(bus shared.EventSubscriber, window int, logger *slog.Logger) (*ChildHub, error) {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	if logger == nil {
		logger = slog.Default()
	}

	hub := &ChildHub{
		subs:   make(map[string]map[uint64]*childSubscription),
		window: window,
		logger: logger.With("component", "child_hub"),
	}
	if err := bus.SubscribeAll(hub.Dispatch); err != nil {
		return nil, fmt.Errorf("attach child hub: %w", err)
	}
	return hub, nil
}

// SubscribeChild registers handler for every event about childID.
func (h *ChildHub) SubscribeChild(childID string, handler ChildHandler) (*Subscription, error) {
	childID = strings.TrimSpace(childID)
	if childID == "" {
		return nil, shared.ErrEmptyChildID
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	if h.subs[childID] == nil {
		h.subs[childID] = make(map[uint64]*childSubscription)
	}
	h.subs[childID][id] = &childSubscription{handler: handler, seen: newRecentIDs(h.window)}

	return &Subscription{hub: h, childID: childID, id: id}, nil
}

// Subscribers returns the number of live subscriptions for childID.
func (h *ChildHub) Subscribers(childID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[childID])
}

// Dispatch delivers event to the subscriptions of its aggregate. It is the
// bus handler and never fails the bus.
func (h *ChildHub) Dispatch(event shared.Event) error {
	if event == nil {
		return nil
	}

	h.mu.RLock()
	targets := make([]*childSubscription, 0, len(h.subs[event.AggregateID()]))
	for _, sub := range h.subs[event.AggregateID()] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	var errs []error
	for _, sub := range targets {
		if !sub.seen.add(event.EventID()) {
			continue
		}
		if err := h.deliver(sub, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *ChildHub) deliver(sub *childSubscription, event shared.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("child handler panic recovered",
				"event_type", event.EventType(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("child handler panic: %v", r)
		}
	}()
	sub.handler(event)
	return nil
}

func (h *ChildHub) remove(childID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs[childID], id)
	if len(h.subs[childID]) == 0 {
		delete(h.subs, childID)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEDUPE WINDOW
// ══════════════════════════════════════════════════════════════════════════════

// recentIDs is a bounded FIFO set of event IDs.
type recentIDs struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	next  int
}

func newRecentIDs(capacity int) *recentIDs {
	return &recentIDs{
		ids:   make(map[string]struct{}, capacity),
		order: make([]string, capacity),
	}
}

// add records id and reports whether it was new. Empty IDs are never deduped.
func (r *recentIDs) add(id string) bool {
	if id == "" {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ids[id]; ok {
		return false
	}
	if old := r.order[r.next]; old != "" {
		delete(r.ids, old)
	}
	r.order[r.next] = id
	r.ids[id] = struct{}{}
	r.next = (r.next + 1) % len(r.order)
	return true
}
