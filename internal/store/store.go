package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store owns a single JSON document of channel/thread session mappings.
// Every mutating call is serialised by mu (spec §4.6: "process-wide write
// mutex"); readers tolerate a missing or malformed file by returning an
// empty store, never panicking.
type Store struct {
	path string
	log  *logrus.Entry

	mu   sync.Mutex
	data *document
}

// Open loads path if it exists, or starts from an empty document. A
// corrupt file is logged and treated as empty (spec §8: "a corrupt file
// on read yields an empty store (no throw)").
func Open(path string, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Store{
		path: path,
		log:  log.WithField("component", "store.Store"),
		data: newDocument(),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithError(err).Warn("failed to read session store; starting empty")
		}
		return s
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.log.WithError(err).Warn("session store file is corrupt; starting empty")
		return s
	}
	if doc.Channels == nil {
		doc.Channels = make(map[string]*ChannelSession)
	}
	s.data = &doc
	return s
}

// save persists the document to disk. Caller must hold mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write session store: %w", err)
	}
	return nil
}

func (s *Store) channel(channelID string, create bool) *ChannelSession {
	ch, ok := s.data.Channels[channelID]
	if ok {
		return ch
	}
	if !create {
		return nil
	}
	now := time.Now().Unix()
	ch = &ChannelSession{
		ThreadSession: ThreadSession{
			ApprovalPolicy: PolicyOnRequest,
			CreatedAt:      now,
			LastActiveAt:   now,
		},
		Threads: make(map[string]*ThreadSession),
	}
	s.data.Channels[channelID] = ch
	return ch
}

func (s *Store) thread(channelID, threadTs string, create bool) (*ChannelSession, *ThreadSession) {
	ch := s.channel(channelID, create)
	if ch == nil {
		return nil, nil
	}
	if threadTs == "" {
		return ch, &ch.ThreadSession
	}
	ts, ok := ch.Threads[threadTs]
	if !ok {
		if !create {
			return ch, nil
		}
		now := time.Now().Unix()
		ts = &ThreadSession{
			ApprovalPolicy: PolicyOnRequest,
			CreatedAt:      now,
			LastActiveAt:   now,
		}
		ch.Threads[threadTs] = ts
	}
	return ch, ts
}

func cloneThreadSession(ts *ThreadSession) *ThreadSession {
	if ts == nil {
		return nil
	}
	cp := *ts
	cp.PreviousThreadIDs = append([]string(nil), ts.PreviousThreadIDs...)
	cp.Turns = append([]TurnRecord(nil), ts.Turns...)
	if ts.LastUsage != nil {
		u := *ts.LastUsage
		cp.LastUsage = &u
	}
	if ts.ForkedAtTurnIndex != nil {
		v := *ts.ForkedAtTurnIndex
		cp.ForkedAtTurnIndex = &v
	}
	return &cp
}

// --- Reads ---

// GetSession returns a copy of the channel-scope session, or nil if the
// channel has no record.
func (s *Store) GetSession(channelID string) *ThreadSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.channel(channelID, false)
	if ch == nil {
		return nil
	}
	return cloneThreadSession(&ch.ThreadSession)
}

// GetThreadSession returns a copy of the thread-scope override, or nil if
// none exists.
func (s *Store) GetThreadSession(channelID, threadTs string) *ThreadSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if threadTs == "" {
		return nil
	}
	_, ts := s.thread(channelID, threadTs, false)
	return cloneThreadSession(ts)
}

// GetEffectiveWorkingDir resolves thread-scope first, falling back to
// channel-scope (spec §4.6 "Fallback resolution").
func (s *Store) GetEffectiveWorkingDir(channelID, threadTs string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if threadTs != "" {
		_, ts := s.thread(channelID, threadTs, false)
		if ts != nil && ts.WorkingDir != "" {
			return ts.WorkingDir
		}
	}
	ch := s.channel(channelID, false)
	if ch == nil {
		return ""
	}
	return ch.WorkingDir
}

// GetEffectiveApprovalPolicy resolves thread-scope first, falling back to
// channel-scope.
func (s *Store) GetEffectiveApprovalPolicy(channelID, threadTs string) ApprovalPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	if threadTs != "" {
		_, ts := s.thread(channelID, threadTs, false)
		if ts != nil && ts.ApprovalPolicy != "" {
			return ts.ApprovalPolicy
		}
	}
	ch := s.channel(channelID, false)
	if ch == nil {
		return PolicyOnRequest
	}
	return ch.ApprovalPolicy
}

// GetEffectiveThreadID resolves thread-scope first, falling back to
// channel-scope.
func (s *Store) GetEffectiveThreadID(channelID, threadTs string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if threadTs != "" {
		_, ts := s.thread(channelID, threadTs, false)
		if ts != nil && ts.SubprocessThreadID != "" {
			return ts.SubprocessThreadID
		}
	}
	ch := s.channel(channelID, false)
	if ch == nil {
		return ""
	}
	return ch.SubprocessThreadID
}

// --- Writes ---

// SaveSession sets the subprocess thread id for a channel- or
// thread-scoped session, creating the record if needed. The transition
// null->id only happens here, after a successful thread/start or
// thread/resume (spec §3 invariant); the caller is responsible for only
// calling this on success.
func (s *Store) SaveSession(channelID, threadTs, subprocessThreadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ts := s.thread(channelID, threadTs, true)
	ts.SubprocessThreadID = subprocessThreadID
	ts.LastActiveAt = time.Now().Unix()
	return s.save()
}

// SaveThreadSession persists thread-scope fields (working dir, path lock)
// wholesale, used when forking or first configuring a thread.
func (s *Store) SaveThreadSession(channelID, threadTs string, mutate func(*ThreadSession)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ts := s.thread(channelID, threadTs, true)
	mutate(ts)
	ts.LastActiveAt = time.Now().Unix()
	return s.save()
}

func (s *Store) SaveApprovalPolicy(channelID, threadTs string, policy ApprovalPolicy) error {
	return s.SaveThreadSession(channelID, threadTs, func(ts *ThreadSession) {
		ts.ApprovalPolicy = policy
	})
}

func (s *Store) SaveModelSettings(channelID, threadTs, model string, reasoning ReasoningEffort) error {
	return s.SaveThreadSession(channelID, threadTs, func(ts *ThreadSession) {
		ts.Model = model
		ts.ReasoningEffort = reasoning
	})
}

// SaveThreadCharLimit clamps to [MinThreadCharLimit, MaxThreadCharLimit]
// per spec §3.
func (s *Store) SaveThreadCharLimit(channelID, threadTs string, limit int) error {
	if limit < MinThreadCharLimit {
		limit = MinThreadCharLimit
	}
	if limit > MaxThreadCharLimit {
		limit = MaxThreadCharLimit
	}
	return s.SaveThreadSession(channelID, threadTs, func(ts *ThreadSession) {
		ts.ThreadCharLimit = limit
	})
}

// RecordTurn appends to the channel-scope turns list (spec §3: turns is
// channel-scope only, regardless of which thread the turn ran in).
func (s *Store) RecordTurn(channelID string, rec TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.channel(channelID, true)
	ch.Turns = append(ch.Turns, rec)
	ch.LastActiveAt = time.Now().Unix()
	return s.save()
}

// ClearSession implements spec §4.6's clearSession: if a current
// subprocessThreadId exists it is archived into previousThreadIds and
// nulled, lastUsage and channel-scope turns are cleared, and — the
// "/clear implies /set-current-path" rule — if the directory was not yet
// locked, it is locked to the pre-clear effective working directory.
func (s *Store) ClearSession(channelID, threadTs string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ts := s.thread(channelID, threadTs, true)
	effectiveDir := s.effectiveWorkingDirLocked(channelID, threadTs)

	if ts.SubprocessThreadID != "" {
		ts.PreviousThreadIDs = append(ts.PreviousThreadIDs, ts.SubprocessThreadID)
		ts.SubprocessThreadID = ""
	}
	ts.LastUsage = nil
	if threadTs == "" {
		ts.Turns = nil
	}
	if !ts.PathConfigured && effectiveDir != "" {
		ts.PathConfigured = true
		ts.ConfiguredPath = effectiveDir
		ts.ConfiguredAt = time.Now().Unix()
	}
	ts.LastActiveAt = time.Now().Unix()
	return s.save()
}

func (s *Store) effectiveWorkingDirLocked(channelID, threadTs string) string {
	if threadTs != "" {
		_, ts := s.thread(channelID, threadTs, false)
		if ts != nil && ts.WorkingDir != "" {
			return ts.WorkingDir
		}
	}
	ch := s.channel(channelID, false)
	if ch == nil {
		return ""
	}
	return ch.WorkingDir
}

// DeleteChannelSession removes channelID's entire entry on a platform
// channel_deleted event. Subprocess-side threads are NOT deleted (users
// can still /resume them elsewhere); every id that becomes unreachable
// through this store is logged so it isn't silently lost (spec §4.6).
// A no-op on a non-existent channel, logged as such (spec §8).
func (s *Store) DeleteChannelSession(channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.data.Channels[channelID]
	if !ok {
		s.log.WithField("channel_id", channelID).Info("deleteChannelSession: no session for channel, nothing to do")
		return nil
	}

	for _, id := range orphanedThreadIDs(ch) {
		s.log.WithFields(logrus.Fields{
			"channel_id":  channelID,
			"thread_id":   id,
		}).Info("orphaning subprocess thread id on channel deletion")
	}

	delete(s.data.Channels, channelID)
	return s.save()
}

func orphanedThreadIDs(ch *ChannelSession) []string {
	var ids []string
	if ch.SubprocessThreadID != "" {
		ids = append(ids, ch.SubprocessThreadID)
	}
	ids = append(ids, ch.PreviousThreadIDs...)
	for _, ts := range ch.Threads {
		if ts.SubprocessThreadID != "" {
			ids = append(ids, ts.SubprocessThreadID)
		}
		ids = append(ids, ts.PreviousThreadIDs...)
	}
	return ids
}

// PruneInactiveChannels removes channel entries whose LastActiveAt is
// older than maxAge, logging each pruned channel's orphaned thread ids the
// same way DeleteChannelSession does. Scheduled by internal/procsup's
// cron job (domain stack: github.com/robfig/cron/v3), not called
// directly from chat-platform events.
func (s *Store) PruneInactiveChannels(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge).Unix()
	pruned := 0
	for channelID, ch := range s.data.Channels {
		if ch.LastActiveAt >= cutoff {
			continue
		}
		for _, id := range orphanedThreadIDs(ch) {
			s.log.WithFields(logrus.Fields{
				"channel_id": channelID,
				"thread_id":  id,
			}).Info("pruning inactive channel session")
		}
		delete(s.data.Channels, channelID)
		pruned++
	}
	if pruned > 0 {
		if err := s.save(); err != nil {
			s.log.WithError(err).Warn("failed to persist store after pruning inactive channels")
		}
	}
	return pruned
}
