package dingtalk

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// dedupTTL is how long a processed message id is remembered. A retransmit
// arriving after the window is accepted again; the window only has to
// outlive the platform's redelivery horizon.
const dedupTTL = 5 * time.Minute

// ledger remembers recently processed message ids. Expired entries are
// evicted lazily on lookup; no janitor goroutine runs.
type ledger struct {
	entries *gocache.Cache
}

func newLedger(ttl time.Duration) *ledger {
	if ttl <= 0 {
		ttl = dedupTTL
	}
	return &ledger{entries: gocache.New(ttl, 0)}
}

// IsDuplicate records the id and reports whether it was already present.
// Add is the atomic check-and-insert, so concurrent callers with the same
// id agree on exactly one first delivery.
func (l *ledger) IsDuplicate(id string) bool {
	if id == "" {
		return false
	}
	l.entries.DeleteExpired()
	return l.entries.Add(id, struct{}{}, gocache.DefaultExpiration) != nil
}
