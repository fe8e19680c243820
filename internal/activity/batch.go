package activity

import (
	"time"

	"github.com/igoryan-dao/turnbridge/internal/chatclient"
	"golang.org/x/time/rate"
)

// DefaultMinGap is the minimum spacing between non-forced flushes of a
// single conversation's activity batch (spec §4.4).
const DefaultMinGap = 2 * time.Second

// Batch is the per-conversation ordered activity log plus posting state
// (spec §4.4 ActivityBatch): which entries have been turned into chat
// messages, and which message each tracked id currently maps to.
type Batch struct {
	entries []*Entry

	postedCount int

	toolIDToPosted     map[string]chatclient.Posted
	thinkingIDToPosted map[string]chatclient.Posted

	lastPostTime time.Time
	limiter      *rate.Limiter
}

func newBatch(minGap time.Duration) *Batch {
	if minGap <= 0 {
		minGap = DefaultMinGap
	}
	return &Batch{
		toolIDToPosted:     make(map[string]chatclient.Posted),
		thinkingIDToPosted: make(map[string]chatclient.Posted),
		limiter:            rate.NewLimiter(rate.Every(minGap), 1),
	}
}

// Entries returns a read-only snapshot of the batch's entries in order.
func (b *Batch) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	for i, e := range b.entries {
		out[i] = *e
	}
	return out
}

// Clear drops all entries and posting state, used by /clear (spec §4.6).
func (b *Batch) Clear() {
	b.entries = nil
	b.postedCount = 0
	b.toolIDToPosted = make(map[string]chatclient.Posted)
	b.thinkingIDToPosted = make(map[string]chatclient.Posted)
	b.lastPostTime = time.Time{}
}
