package election

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOnRequestVote_GrantsWhenCandidateLogAtLeastAsUpToDate(t *testing.T) {
	e, fakes, _ := newTestElection(t, 1, []int64{1, 2, 3})
	e.state = StateCanvass
	e.appendPosition = 100
	e.logLeadershipTermID = 1
	e.leadershipTermID = 1
	e.candidateTermID = 1

	e.onRequestVote(1000, RequestVoteMsg{LogLeadershipTermID: 1, LogPosition: 100, CandidateTermID: 2, CandidateID: 2})

	require.Equal(t, StateFollowerBallot, e.state)
	require.Equal(t, int64(2), e.candidateTermID)
	require.Len(t, fakes[2].votes, 1)
	require.True(t, fakes[2].votes[0].Granted)
}

// Scenario 4: candidate loses on log staleness.
func TestOnRequestVote_DeniesOnStaleCandidateLog(t *testing.T) {
	e, fakes, _ := newTestElection(t, 1, []int64{1, 2})
	e.state = StateFollowerBallot
	e.leadershipTermID = 3
	e.candidateTermID = 3
	e.logLeadershipTermID = 4
	e.appendPosition = 200

	e.onRequestVote(1000, RequestVoteMsg{LogLeadershipTermID: 4, LogPosition: 100, CandidateTermID: 4, CandidateID: 2})

	require.Equal(t, StateCanvass, e.state)
	require.Len(t, fakes[2].votes, 1)
	require.False(t, fakes[2].votes[0].Granted)
	require.Equal(t, int64(4), e.candidateTermID, "candidateTermId is adopted even on a denied vote")
}

func TestOnRequestVote_DeniesStaleTerm(t *testing.T) {
	e, fakes, _ := newTestElection(t, 1, []int64{1, 2})
	e.leadershipTermID = 5
	e.candidateTermID = 5

	e.onRequestVote(0, RequestVoteMsg{CandidateTermID: 5, CandidateID: 2})

	require.Len(t, fakes[2].votes, 1)
	require.False(t, fakes[2].votes[0].Granted)
	require.Equal(t, StateInit, e.state, "no state change on stale-term denial")
}

func TestOnRequestVote_IgnoresSelfRequestAndPassiveMember(t *testing.T) {
	e, _, _ := newTestElection(t, 1, []int64{1, 2})
	before := e.candidateTermID
	e.onRequestVote(0, RequestVoteMsg{CandidateTermID: 99, CandidateID: 1})
	require.Equal(t, before, e.candidateTermID, "self-request ignored")

	e.members.Self().IsPassive = true
	e.onRequestVote(0, RequestVoteMsg{CandidateTermID: 99, CandidateID: 2})
	require.Equal(t, before, e.candidateTermID, "passive member never votes")
}

func TestOnVote_RecordsGrantedVoteForCurrentTerm(t *testing.T) {
	e, _, _ := newTestElection(t, 1, []int64{1, 2, 3})
	e.state = StateCandidateBallot
	e.candidateTermID = 7
	e.members.resetForBallot(7)

	e.onVote(0, VoteMsg{CandidateTermID: 7, FollowerID: 2, Granted: true})

	m, ok := e.members.ByID(2)
	require.True(t, ok)
	require.Equal(t, VoteGranted, m.Vote)
	require.True(t, e.members.HasMajorityVote(7))
}

func TestOnVote_IgnoredOutsideCandidateBallotOrWrongTerm(t *testing.T) {
	e, _, _ := newTestElection(t, 1, []int64{1, 2})
	e.state = StateCanvass
	e.onVote(0, VoteMsg{CandidateTermID: 1, FollowerID: 2, Granted: true})
	m, _ := e.members.ByID(2)
	require.Equal(t, VoteUnset, m.Vote)

	e.state = StateCandidateBallot
	e.candidateTermID = 9
	e.onVote(0, VoteMsg{CandidateTermID: 8, FollowerID: 2, Granted: true})
	require.Equal(t, VoteUnset, m.Vote, "stale term vote ignored")
}

// Scenario 3: divergent follower truncation, case 1.
func TestOnNewLeadershipTerm_Case1Truncates(t *testing.T) {
	e, _, _ := newTestElection(t, 1, []int64{1, 2})
	e.leadershipTermID = 2
	e.logLeadershipTermID = 2
	e.appendPosition = 200
	e.catchupPosition = NullPosition

	e.onNewLeadershipTerm(0, NewLeadershipTermMsg{
		LogLeadershipTermID: 2,
		LogTruncatePosition: 150,
		LeadershipTermID:    3,
		LogPosition:         300,
		LeaderID:            2,
	})

	require.Equal(t, StateFollowerReplay, e.state)
	require.Equal(t, int64(150), e.appendPosition)
	require.Equal(t, int64(300), e.catchupPosition)
	require.Equal(t, int64(3), e.leadershipTermID)
	require.Equal(t, int64(2), e.leaderMemberID)
}

func TestOnNewLeadershipTerm_Case2AdoptsBallotOutcome(t *testing.T) {
	e, _, _ := newTestElection(t, 1, []int64{1, 2, 3})
	e.state = StateFollowerBallot
	e.candidateTermID = 5
	e.logLeadershipTermID = 4
	e.appendPosition = 100

	e.onNewLeadershipTerm(0, NewLeadershipTermMsg{
		LogLeadershipTermID: 4,
		LogTruncatePosition: 100,
		LeadershipTermID:    5,
		LogPosition:         100,
		LeaderID:            3,
	})

	require.Equal(t, StateFollowerReplay, e.state)
	require.Equal(t, int64(5), e.leadershipTermID)
	require.Equal(t, int64(NullPosition), e.catchupPosition, "leader position not ahead of ours: no catch-up needed")
}

func TestOnNewLeadershipTerm_Case3AdoptsWhenGuardHolds(t *testing.T) {
	e, _, _ := newTestElection(t, 1, []int64{1, 2})
	e.state = StateCanvass
	e.leadershipTermID = 1
	e.candidateTermID = 2
	e.logLeadershipTermID = 1
	e.appendPosition = 50
	e.catchupPosition = NullPosition

	e.onNewLeadershipTerm(0, NewLeadershipTermMsg{
		LogLeadershipTermID: 9,
		LeadershipTermID:    9,
		LogPosition:         60,
		LeaderID:            2,
	})

	require.Equal(t, StateFollowerReplay, e.state)
	require.Equal(t, int64(9), e.leadershipTermID)
}

func TestOnNewLeadershipTerm_Case3DropsWhenGuardFails(t *testing.T) {
	e, _, _ := newTestElection(t, 1, []int64{1, 2})
	e.state = StateCanvass
	e.leadershipTermID = 1
	e.candidateTermID = 5
	e.logLeadershipTermID = 1
	e.appendPosition = 500
	e.catchupPosition = NullPosition

	e.onNewLeadershipTerm(0, NewLeadershipTermMsg{
		LogLeadershipTermID: 9,
		LeadershipTermID:    2,
		LogPosition:         10,
		LeaderID:            2,
	})

	require.Equal(t, StateCanvass, e.state, "guard failed, no transition, message surfaced via log instead of applied")
}

func TestOnAppendPosition_UpdatesMemberTable(t *testing.T) {
	e, _, _ := newTestElection(t, 1, []int64{1, 2})
	e.onAppendPosition(1234, AppendPositionMsg{LeadershipTermID: 5, LogPosition: 77, FollowerID: 2})

	m, ok := e.members.ByID(2)
	require.True(t, ok)
	require.Equal(t, int64(5), m.LeadershipTermID)
	require.Equal(t, int64(77), m.LogPosition)
	require.Equal(t, int64(1234), m.TimeOfLastAppendPositionNs)
}

func TestOnCommitPosition_AdvancesCatchupAndRevertsOnNewerTerm(t *testing.T) {
	e, _, _ := newTestElection(t, 1, []int64{1, 2})
	e.state = StateFollowerCatchup
	e.leaderMemberID = 2
	e.catchupPosition = 100
	e.leadershipTermID = 3

	e.onCommitPosition(0, CommitPositionMsg{LeadershipTermID: 3, LogPosition: 150, LeaderID: 2})
	require.Equal(t, int64(150), e.catchupPosition)
	require.Equal(t, StateFollowerCatchup, e.state)

	e.onCommitPosition(0, CommitPositionMsg{LeadershipTermID: 4, LogPosition: 160, LeaderID: 2})
	require.Equal(t, StateInit, e.state)
}

func TestOnReplayNewLeadershipTermEvent_AppendsAndAdvances(t *testing.T) {
	e, _, _ := newTestElection(t, 1, []int64{1, 2})
	e.state = StateFollowerCatchup
	e.logLeadershipTermID = 1
	e.logPosition = 0

	e.onReplayNewLeadershipTermEvent(0, ReplayNewLeadershipTermEventMsg{
		RecordingID:         9,
		LeadershipTermID:    2,
		LogPosition:         500,
		TimestampNs:         0,
		TermBaseLogPosition: 400,
	})

	require.Equal(t, int64(2), e.logLeadershipTermID)
	require.Equal(t, int64(500), e.logPosition)

	entry, ok := e.recordingLog.GetTermEntry(2)
	require.True(t, ok)
	require.Equal(t, int64(400), entry.TermBaseLogPosition)
	require.True(t, entry.PositionCommitted)
}

// A term entry seeded by appendMissingTerms (placeholder base position,
// uncommitted) must be corrected, not left alone, once the follower's own
// replay surfaces the authoritative term-base position.
func TestOnReplayNewLeadershipTermEvent_CommitsPlaceholderEntry(t *testing.T) {
	e, _, _ := newTestElection(t, 1, []int64{1, 2})
	e.state = StateFollowerCatchup
	e.logLeadershipTermID = 1
	e.logPosition = 0

	require.NoError(t, appendMissingTerms(e.recordingLog, e.recordingID, 1, 2, 50, 0))
	seeded, ok := e.recordingLog.GetTermEntry(2)
	require.True(t, ok)
	require.False(t, seeded.PositionCommitted)
	require.Equal(t, int64(50), seeded.TermBaseLogPosition)

	e.onReplayNewLeadershipTermEvent(0, ReplayNewLeadershipTermEventMsg{
		RecordingID:         9,
		LeadershipTermID:    2,
		LogPosition:         500,
		TimestampNs:         0,
		TermBaseLogPosition: 400,
	})

	entry, ok := e.recordingLog.GetTermEntry(2)
	require.True(t, ok)
	require.True(t, entry.PositionCommitted, "placeholder must be corrected to committed")
	require.Equal(t, int64(400), entry.TermBaseLogPosition, "placeholder base position must be overwritten with the authoritative one")
}

func TestOnCanvassPosition_LeaderDiscoversNewerTermRevertsToCanvass(t *testing.T) {
	e, _, _ := newTestElection(t, 1, []int64{1, 2, 3})
	e.state = StateLeaderReady
	e.leadershipTermID = 5

	e.onCanvassPosition(0, CanvassPositionMsg{LeadershipTermID: 6, LogPosition: 0, FromID: 2})

	require.Equal(t, StateCanvass, e.state)
}

func TestOnCanvassPosition_LeaderReadySendsSynthesizedTerm(t *testing.T) {
	e, fakes, _ := newTestElection(t, 1, []int64{1, 2})
	e.state = StateLeaderReady
	e.leadershipTermID = 5
	e.logLeadershipTermID = 5
	e.logPosition = 300
	e.logSessionID = 999

	e.onCanvassPosition(42, CanvassPositionMsg{LeadershipTermID: 3, LogPosition: 0, FromID: 2})

	require.Equal(t, StateLeaderReady, e.state)
	require.Len(t, fakes[2].newTerms, 1)
	require.Equal(t, int64(5), fakes[2].newTerms[0].LeadershipTermID)
	require.Equal(t, int64(999), fakes[2].newTerms[0].LogSessionID)
}

func TestOnCanvassPosition_LeaderReplaySendsBestEffortTerm(t *testing.T) {
	e, fakes, _ := newTestElection(t, 1, []int64{1, 2})
	e.state = StateLeaderReplay
	e.leadershipTermID = 5
	e.logLeadershipTermID = 4
	e.logPosition = 10
	e.appendPosition = 20
	require.NoError(t, e.recordingLog.AppendTerm(e.recordingID, 4, 1, 0, true))

	e.onCanvassPosition(0, CanvassPositionMsg{LeadershipTermID: 3, LogPosition: 0, FromID: 2})

	require.Equal(t, StateLeaderReplay, e.state)
	require.Len(t, fakes[2].newTerms, 1)
}
