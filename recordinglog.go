package election

import "sync"

// TermEntry is one row of the recording log's per-term index: which
// recording holds the term, the log position it started at, and when.
type TermEntry struct {
	RecordingID       int64
	TermID            int64
	TermBaseLogPosition int64
	TimestampNs       int64
	// PositionCommitted distinguishes an entry appended speculatively (e.g.
	// seeded by appendMissingTerms with a placeholder base position) from
	// one whose base position is authoritative (e.g. learned from a replay
	// event); onReplayNewLeadershipTermEvent commits a known-but-incomplete
	// entry's log position.
	PositionCommitted bool
}

// RecordingLog is the durable per-term index: it maps leadership terms to
// the recording and base log position where that term's entries begin. The
// election invokes exactly the operations below; the storage format is the
// production consensus agent's concern.
type RecordingLog interface {
	GetTermEntry(termID int64) (TermEntry, bool)
	FindTermEntry(termID int64) (TermEntry, bool)
	IsUnknown(termID int64) bool
	AppendTerm(recordingID, termID, basePosition, timestampNs int64, positionCommitted bool) error
	CommitLogPosition(termID, basePosition int64) error
	GetTermTimestamp(termID int64) (int64, bool)
	Force(level FsyncLevel) error
}

// MemoryRecordingLog is an in-memory RecordingLog guarded by a single
// mutex. It is the reference implementation used by this module's tests
// and demo binary.
type MemoryRecordingLog struct {
	mu      sync.Mutex
	entries map[int64]TermEntry
}

// NewMemoryRecordingLog returns an empty recording log.
func NewMemoryRecordingLog() *MemoryRecordingLog {
	return &MemoryRecordingLog{entries: make(map[int64]TermEntry)}
}

func (l *MemoryRecordingLog) GetTermEntry(termID int64) (TermEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[termID]
	return e, ok
}

func (l *MemoryRecordingLog) FindTermEntry(termID int64) (TermEntry, bool) {
	return l.GetTermEntry(termID)
}

func (l *MemoryRecordingLog) IsUnknown(termID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[termID]
	return !ok
}

func (l *MemoryRecordingLog) AppendTerm(recordingID, termID, basePosition, timestampNs int64, positionCommitted bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[termID] = TermEntry{
		RecordingID:         recordingID,
		TermID:              termID,
		TermBaseLogPosition: basePosition,
		TimestampNs:         timestampNs,
		PositionCommitted:   positionCommitted,
	}
	return nil
}

func (l *MemoryRecordingLog) CommitLogPosition(termID, basePosition int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[termID]
	if !ok {
		return nil
	}
	e.TermBaseLogPosition = basePosition
	e.PositionCommitted = true
	l.entries[termID] = e
	return nil
}

func (l *MemoryRecordingLog) GetTermTimestamp(termID int64) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[termID]
	if !ok {
		return 0, false
	}
	return e.TimestampNs, true
}

func (l *MemoryRecordingLog) Force(level FsyncLevel) error {
	// In-memory: nothing to flush. A disk-backed RecordingLog would fsync
	// here, mirroring MarkFile.Force.
	return nil
}

// appendMissingTerms implements the repeated "append missing term entries
// (logLeadershipTermId, leadershipTermId]" step shared by LEADER_TRANSITION
// and FOLLOWER_TRANSITION. The entries it creates use the current
// logPosition as a placeholder base position, not yet known to be
// authoritative, so they are appended uncommitted; a later
// onReplayNewLeadershipTermEvent corrects the placeholder via
// CommitLogPosition once the real term-base position is known.
func appendMissingTerms(log RecordingLog, recordingID, fromExclusive, toInclusive, logPosition, timestampNs int64) error {
	for termID := fromExclusive + 1; termID <= toInclusive; termID++ {
		if log.IsUnknown(termID) {
			if err := log.AppendTerm(recordingID, termID, logPosition, timestampNs, false); err != nil {
				return err
			}
		}
	}
	return nil
}
