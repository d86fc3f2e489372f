package achievement

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum gap between two celebrations for one child.
const DefaultCooldown = 5 * time.Second

// Celebration is one visible celebration covering one or more badges.
type Celebration struct {
	ChildID      string
	Achievements []Status
	At           time.Time
}

// Debouncer coalesces newly earned badges per child. The first badge after a
// quiet period celebrates immediately; badges arriving inside the cooldown
// wait and are released together by Due once the cooldown has passed.
type Debouncer struct {
	mu       sync.Mutex
	cooldown time.Duration
	now      func() time.Time
	last     map[string]time.Time
	pending  map[string][]Status
}

// NewDebouncer creates a Debouncer. A nil clock means time.Now.
func NewDebouncer(cooldown time.Duration, now func() time.Time) *Debouncer {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Debouncer{
		cooldown: cooldown,
		now:      now,
		last:     make(map[string]time.Time),
		pending:  make(map[string][]Status),
	}
}

// Offer queues earned badges and returns a celebration if one may fire now.
func (d *Debouncer) Offer(childID string, earned []Status) (Celebration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending[childID] = mergeStatuses(d.pending[childID], earned)
	return d.fireLocked(childID, d.now())
}

// Due releases every child whose cooldown has elapsed and who has pending
// badges. Children idle past the cooldown are forgotten.
func (d *Debouncer) Due() []Celebration {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var out []Celebration
	for childID := range d.pending {
		if c, ok := d.fireLocked(childID, now); ok {
			out = append(out, c)
		}
	}
	for childID, last := range d.last {
		if _, waiting := d.pending[childID]; !waiting && now.Sub(last) >= d.cooldown {
			delete(d.last, childID)
		}
	}
	return out
}

// Pending reports how many children have queued badges.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Tracked reports how many children are still inside a cooldown window.
func (d *Debouncer) Tracked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.last)
}

func (d *Debouncer) fireLocked(childID string, now time.Time) (Celebration, bool) {
	queued := d.pending[childID]
	if len(queued) == 0 {
		delete(d.pending, childID)
		return Celebration{}, false
	}
	if last, ok := d.last[childID]; ok && now.Sub(last) < d.cooldown {
		return Celebration{}, false
	}

	d.last[childID] = now
	delete(d.pending, childID)
	return Celebration{ChildID: childID, Achievements: queued, At: now}, true
}

func mergeStatuses(into, add []Status) []Status {
	for _, a := range add {
		dup := false
		for _, existing := range into {
			if existing.ID == a.ID {
				dup = true
				break
			}
		}
		if !dup {
			into = append(into, a)
		}
	}
	return into
}
