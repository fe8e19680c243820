// Package convkey implements ConversationKey and the fork-algebra pure
// functions from spec §3/§4.2/§6: the channel[:threadTs] key, the
// rollback-turn-count derivation, and chat-channel-name normalisation for
// fork-to-channel. New territory for the teacher (its forking is
// session-level, not turn-level) — built in the style of the teacher's
// other small pure-function helpers (internal/sessions's FormatTimeAgo).
package convkey

import (
	"strconv"
	"strings"
)

// Key is channelId[":"+threadTs] — the unit of per-conversation state and
// serialisation (spec glossary).
type Key string

// New builds a Key from a channel id and an optional thread timestamp.
func New(channelID, threadTs string) Key {
	if threadTs == "" {
		return Key(channelID)
	}
	return Key(channelID + ":" + threadTs)
}

// Split decomposes a Key back into its channel id and thread timestamp
// (empty if the key was channel-scoped).
func Split(k Key) (channelID, threadTs string) {
	s := string(k)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// Rollback computes the numTurns argument to thread/rollback for forking
// at turnIndex out of totalTurns (spec §4.2 fork-at-turn step 4).
func Rollback(totalTurns, turnIndex int) int {
	return totalTurns - (turnIndex + 1)
}

// NormalizeChannelName applies spec §6's chat-channel-naming rule:
// lowercase, any non [a-z0-9-] becomes '-', runs of '-' collapse to one,
// leading/trailing '-' are trimmed.
func NormalizeChannelName(name string) string {
	lower := strings.ToLower(name)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	collapsed := collapseDashes(b.String())
	return strings.Trim(collapsed, "-")
}

func collapseDashes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevDash := false
	for _, r := range s {
		if r == '-' {
			if prevDash {
				continue
			}
			prevDash = true
		} else {
			prevDash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SuggestForkName returns "<sourceName>-fork", or the first free
// "<sourceName>-fork-<k>" (k=1,2,…) if that name (or earlier numbered
// variants) are already taken, gap-filling rather than always appending
// at the end (spec §6).
func SuggestForkName(sourceName string, exists func(candidate string) bool) string {
	base := NormalizeChannelName(sourceName) + "-fork"
	if !exists(base) {
		return base
	}
	for k := 1; ; k++ {
		candidate := base + "-" + strconv.Itoa(k)
		if !exists(candidate) {
			return candidate
		}
	}
}
