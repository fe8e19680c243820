package activity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTextToolStartIncludesInProgressMarker(t *testing.T) {
	e := &Entry{Kind: KindToolStart, Tool: "Grep", ToolInput: "search"}
	assert.Contains(t, renderText(e), "[in progress]")
}

func TestRenderTextToolCompleteHasNoInProgressMarker(t *testing.T) {
	e := &Entry{Kind: KindToolComplete, Tool: "Grep", MatchCount: 3}
	assert.NotContains(t, renderText(e), "[in progress]")
}

func TestRenderRollingWindowKeepsOnlyMostRecentN(t *testing.T) {
	entries := make([]Entry, 25)
	for i := range entries {
		entries[i] = Entry{Kind: KindGenerating, Text: itoa(i)}
	}

	out := RenderRollingWindow(entries, 20, DefaultRollingWindowChars)

	assert.NotContains(t, out, "\n"+itoa(4)+"\n", "entries before the N=20 window must not appear")
	assert.Contains(t, out, itoa(24), "the most recent entry must be present")
}

func TestRenderRollingWindowDropsFromFrontWhenOverCharLimit(t *testing.T) {
	entries := []Entry{
		{Kind: KindGenerating, Text: strings.Repeat("a", 40)},
		{Kind: KindGenerating, Text: strings.Repeat("b", 40)},
		{Kind: KindGenerating, Text: strings.Repeat("c", 40)},
	}

	out := RenderRollingWindow(entries, 20, 50)

	require.Contains(t, out, "earlier entries")
	assert.NotContains(t, out, "aaa", "dropped entries must not appear at all")
	assert.Contains(t, out, "ccc", "the most recent entry must survive truncation")
}

func TestRenderRollingWindowEmptyReturnsEmptyString(t *testing.T) {
	assert.Equal(t, "", RenderRollingWindow(nil, 20, 1000))
}
