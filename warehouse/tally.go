// Package warehouse consumes order events and keeps running totals of
// units shipped per product.
package warehouse

import (
	"maps"
	"sync"

	"marketplace/events"
)

// Tally counts orders and units per product. Queues deliver at least once,
// so an order ID is only counted the first time it is seen.
type Tally struct {
	mu        sync.Mutex
	orders    int64
	byProduct map[string]int64
	seen      map[string]struct{}
}

// Snapshot is a point-in-time copy of a Tally.
type Snapshot struct {
	Orders    int64            `json:"orders"`
	ByProduct map[string]int64 `json:"by_product"`
}

func NewTally() *Tally {
	return &Tally{
		byProduct: make(map[string]int64),
		seen:      make(map[string]struct{}),
	}
}

// Record adds e to the totals and reports whether it was new.
func (t *Tally) Record(e events.OrderPlaced) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.seen[e.OrderID]; dup {
		return false
	}
	t.seen[e.OrderID] = struct{}{}
	t.orders++
	for _, it := range e.Items {
		t.byProduct[it.ProductID] += int64(it.Quantity)
	}
	return true
}

func (t *Tally) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Orders: t.orders, ByProduct: maps.Clone(t.byProduct)}
}
