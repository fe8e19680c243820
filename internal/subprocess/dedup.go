package subprocess

import (
	"container/list"
	"sync"
	"time"
)

// deltaDedupTTL is the window within which an identical delta (by its
// first 100 characters) is treated as a duplicate (spec §4.2, §8).
const deltaDedupTTL = 100 * time.Millisecond

// deltaKeyLen is the prefix length used for delta identity.
const deltaKeyLen = 100

type deltaDedup struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = oldest
}

type dedupEntry struct {
	key    string
	expiry time.Time
}

func newDeltaDedup() *deltaDedup {
	return &deltaDedup{
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// seen reports whether content's key was already recorded within the TTL
// window; if not, it records it. now is passed in so tests can control
// time deterministically instead of relying on the wall clock.
func (d *deltaDedup) seen(content string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictExpired(now)

	key := deltaKey(content)
	if _, ok := d.entries[key]; ok {
		return true
	}

	el := d.order.PushBack(&dedupEntry{key: key, expiry: now.Add(deltaDedupTTL)})
	d.entries[key] = el
	return false
}

func (d *deltaDedup) evictExpired(now time.Time) {
	for {
		front := d.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(*dedupEntry)
		if entry.expiry.After(now) {
			return
		}
		d.order.Remove(front)
		delete(d.entries, entry.key)
	}
}

func deltaKey(content string) string {
	if len(content) <= deltaKeyLen {
		return content
	}
	return content[:deltaKeyLen]
}
