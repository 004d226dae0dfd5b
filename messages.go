package election

// Message is the common interface satisfied by every election wire message.
// Modeling the inbound poll as a function returning a bounded batch of
// these, drained once per tick, keeps the state machine input-driven and
// trivially testable with scripted inputs.
type Message interface {
	isElectionMessage()
}

// CanvassPositionMsg is `canvassPosition(termId, logPosition, fromId)`.
type CanvassPositionMsg struct {
	LeadershipTermID int64
	LogPosition      int64
	FromID           int64
}

// RequestVoteMsg is `requestVote(logLeadershipTermId, logPosition,
// candidateTermId, candidateId)`.
type RequestVoteMsg struct {
	LogLeadershipTermID int64
	LogPosition         int64
	CandidateTermID     int64
	CandidateID         int64
}

// VoteMsg is `vote(candidateTermId, logLeadershipTermId, logPosition,
// candidateId, followerId, granted)`.
type VoteMsg struct {
	CandidateTermID     int64
	LogLeadershipTermID int64
	LogPosition         int64
	CandidateID         int64
	FollowerID          int64
	Granted             bool
}

// NewLeadershipTermMsg is `newLeadershipTerm(logLeadershipTermId,
// logTruncatePosition, leadershipTermId, logPosition, timestamp, leaderId,
// logSessionId, isStartup)`.
type NewLeadershipTermMsg struct {
	LogLeadershipTermID  int64
	LogTruncatePosition  int64
	LeadershipTermID     int64
	LogPosition          int64
	TimestampNs          int64
	LeaderID             int64
	LogSessionID         int64
	IsStartup            bool
}

// AppendPositionMsg is `appendPosition(leadershipTermId, logPosition,
// followerId)`.
type AppendPositionMsg struct {
	LeadershipTermID int64
	LogPosition      int64
	FollowerID       int64
}

// CatchupPositionMsg is `catchupPosition(leadershipTermId, logPosition,
// followerId)`.
type CatchupPositionMsg struct {
	LeadershipTermID int64
	LogPosition      int64
	FollowerID       int64
}

// CommitPositionMsg is `commitPosition(leadershipTermId, logPosition,
// leaderId)`.
type CommitPositionMsg struct {
	LeadershipTermID int64
	LogPosition      int64
	LeaderID         int64
}

// ReplayNewLeadershipTermEventMsg carries a term-boundary event surfaced by
// the follower's own replay of the leader's archive while catching up.
type ReplayNewLeadershipTermEventMsg struct {
	RecordingID         int64
	LeadershipTermID    int64
	LogPosition         int64
	TimestampNs         int64
	TermBaseLogPosition int64
}

func (CanvassPositionMsg) isElectionMessage()              {}
func (RequestVoteMsg) isElectionMessage()                  {}
func (VoteMsg) isElectionMessage()                         {}
func (NewLeadershipTermMsg) isElectionMessage()            {}
func (AppendPositionMsg) isElectionMessage()               {}
func (CatchupPositionMsg) isElectionMessage()              {}
func (CommitPositionMsg) isElectionMessage()               {}
func (ReplayNewLeadershipTermEventMsg) isElectionMessage() {}

// Inbox is the polled message adapter the host feeds into doWork. A single
// Poll call returns a bounded batch so one slow peer can never starve the
// tick loop.
type Inbox interface {
	Poll(max int) []Message
}
