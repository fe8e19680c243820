package convkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyRoundTrip(t *testing.T) {
	k := New("C123", "1700000000.000100")
	channel, threadTs := Split(k)
	assert.Equal(t, "C123", channel)
	assert.Equal(t, "1700000000.000100", threadTs)
	assert.Equal(t, Key("C123:1700000000.000100"), k)
}

func TestKeyChannelScopeOnly(t *testing.T) {
	k := New("C123", "")
	channel, threadTs := Split(k)
	assert.Equal(t, "C123", channel)
	assert.Empty(t, threadTs)
	assert.Equal(t, Key("C123"), k)
}

func TestRollbackAtLastTurnIsZero(t *testing.T) {
	assert.Equal(t, 0, Rollback(3, 2))
}

func TestRollbackAtFirstTurnOfThree(t *testing.T) {
	assert.Equal(t, 2, Rollback(3, 0))
}

func TestNormalizeChannelName(t *testing.T) {
	cases := map[string]string{
		"My Cool Channel!!":  "my-cool-channel",
		"  leading-trailing ": "leading-trailing",
		"a___b---c":           "a-b-c",
		"ALLCAPS":              "allcaps",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeChannelName(in), in)
	}
}

func TestSuggestForkNameGapFills(t *testing.T) {
	taken := map[string]bool{
		"proj-fork":   true,
		"proj-fork-1": true,
	}
	exists := func(candidate string) bool { return taken[candidate] }

	assert.Equal(t, "proj-fork-2", SuggestForkName("proj", exists))
}

func TestSuggestForkNameBaseCaseWhenFree(t *testing.T) {
	exists := func(candidate string) bool { return false }
	assert.Equal(t, "proj-fork", SuggestForkName("proj", exists))
}
