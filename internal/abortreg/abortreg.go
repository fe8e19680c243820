// Package abortreg implements AbortRegistry (spec §4.8): a tiny
// conversation-key -> aborted-flag map, cleared at the end of every turn
// so a subsequent turn never inherits a stale abort. Modelled after the
// teacher's small process-wide owned components (spec §9 "Global
// singletons ... treat each as a small process-wide owned component with
// an explicit lifecycle").
package abortreg

import (
	"sync"

	"github.com/igoryan-dao/turnbridge/internal/convkey"
)

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	aborted map[convkey.Key]bool
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{aborted: make(map[convkey.Key]bool)}
}

// MarkAborted records that key's in-flight turn should be treated as
// aborted regardless of what status the subprocess later reports.
func (r *Registry) MarkAborted(key convkey.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted[key] = true
}

// IsAborted reports the current flag for key.
func (r *Registry) IsAborted(key convkey.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted[key]
}

// Clear removes key's flag. Must be called at the end of every turn
// (spec §8: "∀ ConversationKey k after turn:completed: isAborted(k)=false").
func (r *Registry) Clear(key convkey.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.aborted, key)
}
