// ABOUTME: TTL guard against replayed chat request ids.
// ABOUTME: Scoped per session, size-limited, O(1) eviction via linked list.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Guard tracks request ids that have already been accepted, so a retried
// request can be rejected instead of running the turn twice. Entries expire
// after the TTL; the oldest entry is evicted when the guard is full.
type Guard struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewGuard creates a guard and starts its expiry sweeper.
func NewGuard(ttl time.Duration, maxSize int) *Guard {
	g := &Guard{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go g.sweep()
	return g
}

// Seen atomically checks whether the request id was already accepted for the
// session, marking it if not. Returns true for a duplicate.
func (g *Guard) Seen(sessionID, requestID string) bool {
	key := sessionID + "\x00" + requestID

	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.seen[key]; ok && time.Since(e.seenAt) < g.ttl {
		return true
	}

	if e, ok := g.seen[key]; ok {
		// Expired entry: refresh in place.
		e.seenAt = time.Now()
		g.order.MoveToBack(e.element)
		return false
	}

	if len(g.seen) >= g.maxSize {
		if front := g.order.Front(); front != nil {
			delete(g.seen, front.Value.(string))
			g.order.Remove(front)
		}
	}

	g.seen[key] = &entry{seenAt: time.Now(), element: g.order.PushBack(key)}
	return false
}

func (g *Guard) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.expire()
		case <-g.done:
			return
		}
	}
}

func (g *Guard) expire() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for key, e := range g.seen {
		if now.Sub(e.seenAt) > g.ttl {
			g.order.Remove(e.element)
			delete(g.seen, key)
		}
	}
}

// Close stops the sweeper. Safe to call multiple times.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
