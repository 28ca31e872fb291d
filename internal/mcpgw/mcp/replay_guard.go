package mcp

import (
	"sync"
	"time"
)

// defaultReplayEntries bounds memory when traffic outpaces expiry.
const defaultReplayEntries = 65536

// replayGuard remembers (agent, nonce) pairs of accepted requests until they
// expire. Expiry is kept in arrival order, so pruning only looks at the head.
type replayGuard struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	seen  map[string]struct{}
	queue []replayEntry
}

type replayEntry struct {
	key string
	exp time.Time
}

func newReplayGuard(ttl time.Duration) *replayGuard {
	if ttl <= 0 {
		ttl = 2 * signatureWindow
	}
	return &replayGuard{
		ttl:  ttl,
		max:  defaultReplayEntries,
		seen: map[string]struct{}{},
	}
}

// allow records the pair and reports whether it was unseen. A nil guard or an
// empty nonce always passes.
func (g *replayGuard) allow(agentID, nonce string, now time.Time) bool {
	if g == nil || nonce == "" {
		return true
	}
	key := agentID + "\x00" + nonce

	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked(now)
	if _, ok := g.seen[key]; ok {
		return false
	}
	if len(g.queue) >= g.max {
		delete(g.seen, g.queue[0].key)
		g.queue = g.queue[1:]
	}
	g.seen[key] = struct{}{}
	g.queue = append(g.queue, replayEntry{key: key, exp: now.Add(g.ttl)})
	return true
}

func (g *replayGuard) expireLocked(now time.Time) {
	n := 0
	for n < len(g.queue) && !g.queue[n].exp.After(now) {
		delete(g.seen, g.queue[n].key)
		n++
	}
	if n == 0 {
		return
	}
	// Copy down so the backing array does not grow without bound.
	g.queue = append(g.queue[:0], g.queue[n:]...)
}

func (g *replayGuard) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
