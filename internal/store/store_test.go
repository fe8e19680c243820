package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "sessions.json")
}

func TestOpenMissingFileYieldsEmptyStore(t *testing.T) {
	s := Open(tempStorePath(t), nil)
	assert.Nil(t, s.GetSession("C1"))
}

func TestOpenCorruptFileYieldsEmptyStoreNoThrow(t *testing.T) {
	path := tempStorePath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := Open(path, nil)
	assert.Nil(t, s.GetSession("C1"))
}

func TestSaveSessionThenReloadRoundTrips(t *testing.T) {
	path := tempStorePath(t)
	s := Open(path, nil)

	require.NoError(t, s.SaveSession("C1", "", "thread-abc"))

	reloaded := Open(path, nil)
	session := reloaded.GetSession("C1")
	require.NotNil(t, session)
	assert.Equal(t, "thread-abc", session.SubprocessThreadID)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var asMap map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &asMap), "persisted file must be valid JSON")
}

func TestEffectiveThreadIDFallsBackToChannelScope(t *testing.T) {
	s := Open(tempStorePath(t), nil)
	require.NoError(t, s.SaveSession("C1", "", "channel-thread"))

	assert.Equal(t, "channel-thread", s.GetEffectiveThreadID("C1", "T1"))

	require.NoError(t, s.SaveSession("C1", "T1", "thread-specific"))
	assert.Equal(t, "thread-specific", s.GetEffectiveThreadID("C1", "T1"))
}

func TestClearSessionArchivesOldThreadAndLocksPath(t *testing.T) {
	s := Open(tempStorePath(t), nil)
	require.NoError(t, s.SaveSession("C1", "", "old-thread"))
	require.NoError(t, s.SaveThreadSession("C1", "", func(ts *ThreadSession) {
		ts.WorkingDir = "/workspace/proj"
	}))

	require.NoError(t, s.ClearSession("C1", ""))

	session := s.GetSession("C1")
	require.NotNil(t, session)
	assert.Empty(t, session.SubprocessThreadID)
	assert.Equal(t, []string{"old-thread"}, session.PreviousThreadIDs)
	assert.True(t, session.PathConfigured)
	assert.Equal(t, "/workspace/proj", session.ConfiguredPath)
}

func TestClearSessionDoesNotRelockAlreadyLockedPath(t *testing.T) {
	s := Open(tempStorePath(t), nil)
	require.NoError(t, s.SaveThreadSession("C1", "", func(ts *ThreadSession) {
		ts.WorkingDir = "/workspace/proj"
		ts.PathConfigured = true
		ts.ConfiguredPath = "/workspace/locked"
	}))

	require.NoError(t, s.ClearSession("C1", ""))

	session := s.GetSession("C1")
	assert.Equal(t, "/workspace/locked", session.ConfiguredPath)
}

func TestDeleteChannelSessionNoOpOnMissingChannel(t *testing.T) {
	s := Open(tempStorePath(t), nil)
	require.NoError(t, s.DeleteChannelSession("does-not-exist"))
}

func TestDeleteChannelSessionRemovesEntryButNotSubprocessThreads(t *testing.T) {
	s := Open(tempStorePath(t), nil)
	require.NoError(t, s.SaveSession("C1", "", "thread-1"))

	require.NoError(t, s.DeleteChannelSession("C1"))
	assert.Nil(t, s.GetSession("C1"))
}

func TestSaveThreadCharLimitClampsToRange(t *testing.T) {
	s := Open(tempStorePath(t), nil)

	require.NoError(t, s.SaveThreadCharLimit("C1", "", 1))
	assert.Equal(t, MinThreadCharLimit, s.GetSession("C1").ThreadCharLimit)

	require.NoError(t, s.SaveThreadCharLimit("C1", "", 1_000_000))
	assert.Equal(t, MaxThreadCharLimit, s.GetSession("C1").ThreadCharLimit)
}

func TestRecordTurnIsChannelScopeEvenWhenCalledFromThread(t *testing.T) {
	s := Open(tempStorePath(t), nil)
	require.NoError(t, s.RecordTurn("C1", TurnRecord{TurnID: "0", TurnIndex: 0, SlackTs: "100.1"}))

	session := s.GetSession("C1")
	require.Len(t, session.Turns, 1)
	assert.Equal(t, "0", session.Turns[0].TurnID)
}
