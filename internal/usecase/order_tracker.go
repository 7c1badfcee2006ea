package usecase

import (
	"sort"
	"sync"
	"time"

	"github.com/vitos/crypto_rebalancer/internal/domain"
)

// OrderTracker links a resting venue order to the trade that created it.
// Trackers are values; every change stores a new one.
type OrderTracker struct {
	Order     domain.Order
	Trade     domain.Trade
	CreatedAt time.Time
	Complete  bool
}

type applyResult int

const (
	applyUnknown applyResult = iota
	applyIgnored
	applyUpdated
	applyTerminal
)

// trackerTable holds the live trackers of one coordination run. Callbacks
// passed to its methods run under the table lock, which is what orders the
// updates of a single order.
type trackerTable struct {
	mu       sync.Mutex
	trackers map[string]OrderTracker
	placed   bool
}

func newTrackerTable() *trackerTable {
	return &trackerTable{trackers: make(map[string]OrderTracker)}
}

// Track inserts tr and runs emit before any other update for the order can
// be applied.
func (t *trackerTable) Track(tr OrderTracker, emit func(OrderTracker)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trackers[tr.Order.ID] = tr
	emit(tr)
}

// Apply stores the pushed status and fill of a tracked order. Terminal
// updates remove the tracker; drained reports that placement is over and
// nothing is left to track.
func (t *trackerTable) Apply(pushed domain.Order, emit func(OrderTracker, domain.OrderUpdateType)) (res applyResult, drained bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.trackers[pushed.ID]
	if !ok {
		return applyUnknown, false
	}
	if tr.Complete {
		return applyIgnored, false
	}

	tr.Order = tr.Order.WithFill(pushed.Status, pushed.Filled)
	kind := domain.ClassifyOrder(tr.Order)
	emit(tr, kind)

	if kind.IsTerminal() {
		delete(t.trackers, pushed.ID)
		return applyTerminal, t.placed && len(t.trackers) == 0
	}
	t.trackers[pushed.ID] = tr
	return applyUpdated, false
}

// Expire marks every incomplete tracker older than timeout as complete and
// returns the marked snapshots, oldest first.
func (t *trackerTable) Expire(now time.Time, timeout time.Duration) []OrderTracker {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []OrderTracker
	for id, tr := range t.trackers {
		if tr.Complete || now.Sub(tr.CreatedAt) <= timeout {
			continue
		}
		tr.Complete = true
		t.trackers[id] = tr
		expired = append(expired, tr)
	}
	sortTrackers(expired)
	return expired
}

// Remove drops a tracker and reports whether the run is drained.
func (t *trackerTable) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.trackers, id)
	return t.placed && len(t.trackers) == 0
}

// MarkPlaced records that no further trackers will be added.
func (t *trackerTable) MarkPlaced() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.placed = true
	return len(t.trackers) == 0
}

func (t *trackerTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.trackers)
}

func (t *trackerTable) Get(id string) (OrderTracker, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.trackers[id]
	return tr, ok
}

func sortTrackers(trs []OrderTracker) {
	sort.Slice(trs, func(i, j int) bool {
		if !trs[i].CreatedAt.Equal(trs[j].CreatedAt) {
			return trs[i].CreatedAt.Before(trs[j].CreatedAt)
		}
		return trs[i].Order.ID < trs[j].Order.ID
	})
}
