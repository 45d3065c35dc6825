package queue

import (
	"github.com/maltedev/shop-price-scraper/internal/models"
)

// TargetQueue keeps targets in insertion order and drops any url that was
// already pushed. It is used by a single goroutine and is not synchronized.
type TargetQueue struct {
	targets []models.Target
	seen    map[string]struct{}
}

func NewTargetQueue() *TargetQueue {
	return &TargetQueue{
		targets: make([]models.Target, 0),
		seen:    make(map[string]struct{}),
	}
}

// Push appends t unless its url is already queued. It reports whether t was
// added.
func (q *TargetQueue) Push(t models.Target) bool {
	if _, dup := q.seen[t.URL]; dup {
		return false
	}
	q.seen[t.URL] = struct{}{}
	q.targets = append(q.targets, t)
	return true
}

func (q *TargetQueue) Size() int {
	return len(q.targets)
}

// Targets returns a copy of the queued targets in insertion order.
func (q *TargetQueue) Targets() []models.Target {
	out := make([]models.Target, len(q.targets))
	copy(out, q.targets)
	return out
}
