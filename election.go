package election

import (
	"math/rand"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Election is the single-threaded state machine driving leader election: a
// cooperatively-scheduled object whose doWork(nowNs) is called once per host
// tick, dispatching to one of fourteen per-state handlers and draining its
// Inbox first, the same shape as a select-driven loop dispatching to
// per-role handlers, generalized here to an externally-driven tick instead
// of an internally owned goroutine, since the host (not this package) owns
// the run loop.
type Election struct {
	cfg Config

	members *Members
	inbox   Inbox

	agent        ClusterAgent
	markFile     MarkFile
	recordingLog RecordingLog

	log     *logrus.Entry
	counter *StateCounter

	recordingID int64

	transferEndpoint string
	logEndpoint      string
	logChannel       string

	state State

	leadershipTermID    int64
	logLeadershipTermID int64
	candidateTermID     int64

	logPosition    int64
	appendPosition int64
	catchupPosition int64

	leaderMemberID int64

	isNodeStartup   bool
	isLeaderStartup bool
	isExtendedCanvass bool

	logSessionID int64

	timeOfLastStateChangeNs int64
	timeOfLastUpdateNs      int64

	nominationDeadlineNs int64
	lastBroadcastNs      int64
	lastHeartbeatNs      int64

	timeOfLastAppendSuccessNs int64

	replay       LogReplay
	subscription LogSubscription

	liveDestinationAdded bool

	history []HistoryEntry
}

// Params bundles everything NewElection needs to wire up an Election: the
// fixed member table, this node's collaborators, and the starting position
// this node recovered at. Modeled as a parameter struct rather than a long
// positional signature because the collaborator set is wide and most
// callers only override a handful of fields from zero/default values.
type Params struct {
	SelfID         int64
	MemberIDs      []int64
	PassiveMembers map[int64]bool
	// Transports maps each non-self member id to this node's send handle for
	// it. A member id present in MemberIDs but absent here is treated as
	// unreachable until the caller updates the member table directly (not
	// currently exposed; every member configured up front has a transport in
	// this module's tests and demo binary).
	Transports map[int64]MemberTransport

	Inbox        Inbox
	Agent        ClusterAgent
	MarkFile     MarkFile
	RecordingLog RecordingLog
	Logger       *logrus.Logger

	IsNodeStartup bool

	LeadershipTermID    int64
	LogLeadershipTermID int64
	LogPosition         int64
	AppendPosition      int64

	TransferEndpoint string
	LogEndpoint      string
	LogChannel       string
}

// NewElection builds an Election ready to run from INIT. It panics on a
// malformed Params (missing self id, nil required collaborator) the same
// way Members.Self panics on a missing self id: these are wiring bugs, not
// runtime conditions doWork should recover from.
func NewElection(cfg Config, p Params) *Election {
	if p.Inbox == nil || p.Agent == nil || p.MarkFile == nil || p.RecordingLog == nil {
		panic("election: NewElection requires Inbox, Agent, MarkFile, and RecordingLog")
	}

	members := NewMembers(p.SelfID, p.MemberIDs, p.PassiveMembers)
	if _, ok := members.ByID(p.SelfID); !ok {
		panic("election: NewElection requires SelfID to be one of MemberIDs")
	}
	for id, transport := range p.Transports {
		if m, ok := members.ByID(id); ok {
			m.Transport = transport
		}
	}

	e := &Election{
		cfg:                 cfg,
		members:             members,
		inbox:               p.Inbox,
		agent:               p.Agent,
		markFile:            p.MarkFile,
		recordingLog:        p.RecordingLog,
		log:                 newElectionLogger(p.Logger, p.SelfID),
		counter:             &StateCounter{},
		recordingID:         newSessionID(),
		transferEndpoint:    p.TransferEndpoint,
		logEndpoint:         p.LogEndpoint,
		logChannel:          p.LogChannel,
		state:               StateInit,
		leadershipTermID:    p.LeadershipTermID,
		logLeadershipTermID: p.LogLeadershipTermID,
		candidateTermID:     p.MarkFile.CandidateTermID(),
		logPosition:         p.LogPosition,
		appendPosition:      p.AppendPosition,
		catchupPosition:     NullPosition,
		leaderMemberID:      NullMemberID,
		isNodeStartup:       p.IsNodeStartup,
		isExtendedCanvass:   p.IsNodeStartup,
	}
	e.counter.Store(StateInit)
	return e
}

func (e *Election) selfID() int64 { return e.members.Self().ID }

// State returns the election's current phase.
func (e *Election) State() State { return e.state }

// Counter returns the external, process-visible state counter this
// election publishes every transition to.
func (e *Election) Counter() *StateCounter { return e.counter }

// History returns the sequence of transitions observed so far, oldest
// first, for tests and operational tooling that want to assert on the
// transition path without polling the external counter on a timer.
func (e *Election) History() []HistoryEntry {
	out := make([]HistoryEntry, len(e.history))
	copy(out, e.history)
	return out
}

// Close releases the follower-side log subscription, if one is open.
// Idempotent; safe to call after CLOSED or at host shutdown regardless of
// state.
func (e *Election) Close() error {
	if e.subscription == nil {
		return nil
	}
	err := e.subscription.Close()
	e.subscription = nil
	e.liveDestinationAdded = false
	return err
}

func (e *Election) transitionTo(nowNs int64, s State) {
	e.withState().WithField("to_state", s.String()).Debug("election: state transition")
	e.state = s
	e.timeOfLastStateChangeNs = nowNs
	e.counter.Store(s)
	e.history = append(e.history, HistoryEntry{State: s, TimestampNs: nowNs})

	if s == StateCanvass {
		e.members.resetForCanvass()
		e.lastBroadcastNs = 0
	}
}

func (e *Election) persistCandidateTermID() error {
	if err := e.markFile.WriteCandidateTermID(e.candidateTermID); err != nil {
		return errors.Wrap(err, "election: write candidate term id")
	}
	if err := e.markFile.Force(e.cfg.FsyncLevel); err != nil {
		return errors.Wrap(err, "election: force mark file")
	}
	return nil
}

func (e *Election) broadcastNewLeadershipTerm(nowNs int64) int {
	msg := NewLeadershipTermMsg{
		LogLeadershipTermID: e.logLeadershipTermID,
		LogTruncatePosition: e.appendPosition,
		LeadershipTermID:    e.leadershipTermID,
		LogPosition:         e.appendPosition,
		TimestampNs:         nowNs,
		LeaderID:            e.selfID(),
		LogSessionID:        e.logSessionID,
		IsStartup:           e.isLeaderStartup,
	}
	sent := 0
	for _, m := range e.members.Others() {
		if m.IsPassive {
			continue
		}
		if m.Transport.SendNewLeadershipTerm(msg) {
			sent++
		}
	}
	return sent
}

// DoWork is the host's per-tick entry point: drain the inbox, then dispatch
// to the current state's handler. A non-terminal error from the handler is
// logged and converts into a restart from INIT rather than propagating, the
// same log-and-recover shape as a server loop swallowing a stale
// append-entries response instead of crashing the server; ErrTerminated is
// the one error that does propagate, signaling the host to tear the node
// down.
func (e *Election) DoWork(nowNs int64) (int, error) {
	e.timeOfLastUpdateNs = nowNs
	msgWork := e.pollMessages(nowNs)

	work, err := e.dispatch(nowNs)
	if err != nil {
		if IsTerminated(err) {
			return msgWork + work, err
		}
		e.withState().WithError(err).Warn("election: state handler failed, restarting from INIT")
		e.logPosition = e.agent.CommittedPosition()
		e.transitionTo(nowNs, StateInit)
		return msgWork, nil
	}
	return msgWork + work, nil
}

func (e *Election) dispatch(nowNs int64) (int, error) {
	if !e.state.IsValid() {
		panic("election: state counter holds an unknown state code")
	}
	switch e.state {
	case StateInit:
		return e.handleInit(nowNs)
	case StateCanvass:
		return e.handleCanvass(nowNs)
	case StateNominate:
		return e.handleNominate(nowNs)
	case StateCandidateBallot:
		return e.handleCandidateBallot(nowNs)
	case StateFollowerBallot:
		return e.handleFollowerBallot(nowNs)
	case StateLeaderReplay:
		return e.handleLeaderReplay(nowNs)
	case StateLeaderTransition:
		return e.handleLeaderTransition(nowNs)
	case StateLeaderReady:
		return e.handleLeaderReady(nowNs)
	case StateFollowerReplay:
		return e.handleFollowerReplay(nowNs)
	case StateFollowerCatchupTransition:
		return e.handleFollowerCatchupTransition(nowNs)
	case StateFollowerCatchup:
		return e.handleFollowerCatchup(nowNs)
	case StateFollowerTransition:
		return e.handleFollowerTransition(nowNs)
	case StateFollowerReady:
		return e.handleFollowerReady(nowNs)
	case StateClosed:
		return 0, nil
	default:
		panic("election: unhandled state in dispatch")
	}
}

func (e *Election) handleInit(nowNs int64) (int, error) {
	e.catchupPosition = NullPosition
	e.replay = nil
	if e.subscription != nil {
		_ = e.subscription.Close()
		e.subscription = nil
		e.liveDestinationAdded = false
	}

	appendPosition, err := e.agent.PrepareForNewLeadership()
	if err != nil {
		return 0, errors.Wrap(err, "election: prepare for new leadership")
	}
	e.appendPosition = appendPosition

	e.candidateTermID = maxInt64(e.markFile.CandidateTermID(), e.leadershipTermID)

	if e.members.Count() == 1 {
		e.candidateTermID++
		e.leadershipTermID = e.candidateTermID
		e.leaderMemberID = e.selfID()
		e.isLeaderStartup = e.isNodeStartup
		e.logSessionID = newSessionID()
		if err := e.persistCandidateTermID(); err != nil {
			return 0, err
		}
		e.transitionTo(nowNs, StateLeaderReplay)
		return 0, nil
	}

	e.members.resetForCanvass()
	e.lastBroadcastNs = 0
	e.transitionTo(nowNs, StateCanvass)
	return 0, nil
}

func (e *Election) handleCanvass(nowNs int64) (int, error) {
	self := e.members.Self()
	self.LeadershipTermID = e.leadershipTermID
	self.LogPosition = e.appendPosition

	if self.IsPassive || (e.cfg.AppointedLeaderID != 0 && e.cfg.AppointedLeaderID != e.selfID()) {
		return 0, nil
	}

	work := 0
	if nowNs-e.lastBroadcastNs >= e.cfg.ElectionStatusInterval.Nanoseconds() {
		msg := CanvassPositionMsg{
			LeadershipTermID: e.leadershipTermID,
			LogPosition:      e.appendPosition,
			FromID:           e.selfID(),
		}
		for _, m := range e.members.Others() {
			if m.IsPassive {
				continue
			}
			if m.Transport.SendCanvassPosition(msg) {
				work++
			}
		}
		e.lastBroadcastNs = nowNs
	}

	timeout := e.cfg.ElectionTimeout
	if e.isExtendedCanvass {
		timeout = e.cfg.StartupCanvassTimeout
	}
	deadline := e.timeOfLastStateChangeNs + timeout.Nanoseconds()

	if e.members.IsUnanimousCandidate(self) || (nowNs >= deadline && e.members.IsQuorumCandidate(self)) {
		e.isExtendedCanvass = false
		jitterRange := e.cfg.ElectionTimeout.Nanoseconds() / 2
		var jitter int64
		if jitterRange > 0 {
			jitter = rand.Int63n(jitterRange)
		}
		e.nominationDeadlineNs = nowNs + jitter
		e.transitionTo(nowNs, StateNominate)
	}
	return work, nil
}

func (e *Election) handleNominate(nowNs int64) (int, error) {
	if nowNs < e.nominationDeadlineNs {
		return 0, nil
	}

	e.candidateTermID = maxInt64(e.leadershipTermID+1, e.candidateTermID+1)
	e.members.resetForBallot(e.candidateTermID)
	self := e.members.Self()
	self.Vote = VoteGranted
	self.CandidateTermID = e.candidateTermID

	if err := e.persistCandidateTermID(); err != nil {
		return 0, err
	}
	e.transitionTo(nowNs, StateCandidateBallot)
	return 1, nil
}

func (e *Election) handleCandidateBallot(nowNs int64) (int, error) {
	if e.members.HasWonVoteOnFullCount(e.candidateTermID) || e.members.HasMajorityVoteWithCanvassMembers(e.candidateTermID) {
		e.leadershipTermID = e.candidateTermID
		e.leaderMemberID = e.selfID()
		e.logSessionID = newSessionID()
		e.transitionTo(nowNs, StateLeaderReplay)
		return 0, nil
	}

	deadline := e.timeOfLastStateChangeNs + e.cfg.ElectionTimeout.Nanoseconds()
	if nowNs >= deadline {
		if e.members.HasMajorityVote(e.candidateTermID) {
			e.leadershipTermID = e.candidateTermID
			e.leaderMemberID = e.selfID()
			e.logSessionID = newSessionID()
			e.transitionTo(nowNs, StateLeaderReplay)
		} else {
			e.transitionTo(nowNs, StateCanvass)
		}
		return 0, nil
	}

	work := 0
	msg := RequestVoteMsg{
		LogLeadershipTermID: e.logLeadershipTermID,
		LogPosition:         e.appendPosition,
		CandidateTermID:     e.candidateTermID,
		CandidateID:         e.selfID(),
	}
	for _, m := range e.members.Others() {
		if m.IsPassive || m.IsBallotSent {
			continue
		}
		if m.Transport.SendRequestVote(msg) {
			m.IsBallotSent = true
			work++
		}
	}
	return work, nil
}

func (e *Election) handleFollowerBallot(nowNs int64) (int, error) {
	deadline := e.timeOfLastStateChangeNs + e.cfg.ElectionTimeout.Nanoseconds()
	if nowNs >= deadline {
		e.transitionTo(nowNs, StateCanvass)
	}
	return 0, nil
}

func (e *Election) handleLeaderReplay(nowNs int64) (int, error) {
	if e.replay == nil {
		for _, m := range e.members.Others() {
			m.LogPosition = 0
			m.TimeOfLastAppendPositionNs = 0
		}
		e.isLeaderStartup = e.isNodeStartup
		e.replay = newLogReplay(e.logPosition, e.appendPosition, e.cfg.ReplayChunkSize)
		e.lastHeartbeatNs = 0
	}

	work, err := e.replay.DoWork()
	if err != nil {
		return work, errors.Wrap(err, "election: leader replay")
	}

	if e.replay.IsDone() {
		e.logPosition = e.appendPosition
		e.replay = nil
		e.transitionTo(nowNs, StateLeaderTransition)
		return work, nil
	}

	if nowNs-e.lastHeartbeatNs >= e.cfg.LeaderHeartbeatInterval.Nanoseconds() {
		work += e.broadcastNewLeadershipTerm(nowNs)
		e.lastHeartbeatNs = nowNs
	}
	return work, nil
}

func (e *Election) handleLeaderTransition(nowNs int64) (int, error) {
	e.isLeaderStartup = e.isNodeStartup

	if err := e.agent.BecomeLeader(e.leadershipTermID, e.logPosition, e.logSessionID); err != nil {
		return 0, errors.Wrap(err, "election: become leader")
	}
	if err := appendMissingTerms(e.recordingLog, e.recordingID, e.logLeadershipTermID, e.leadershipTermID, e.logPosition, nowNs); err != nil {
		return 0, errors.Wrap(err, "election: append term entries")
	}
	if err := e.recordingLog.Force(e.cfg.FsyncLevel); err != nil {
		return 0, errors.Wrap(err, "election: force recording log")
	}
	e.logLeadershipTermID = e.leadershipTermID
	e.lastHeartbeatNs = 0
	e.transitionTo(nowNs, StateLeaderReady)
	return 1, nil
}

func (e *Election) handleLeaderReady(nowNs int64) (int, error) {
	work := 0
	if nowNs-e.lastHeartbeatNs >= e.cfg.LeaderHeartbeatInterval.Nanoseconds() {
		work += e.broadcastNewLeadershipTerm(nowNs)
		e.lastHeartbeatNs = nowNs
	}

	if e.members.HaveVotersReachedPosition(e.logPosition, e.leadershipTermID) && e.agent.IsElectionComplete() {
		if err := e.agent.UpdateMemberDetails(e.selfID()); err != nil {
			return work, errors.Wrap(err, "election: update member details")
		}
		e.transitionTo(nowNs, StateClosed)
	}
	return work, nil
}

func (e *Election) handleFollowerReplay(nowNs int64) (int, error) {
	if e.replay == nil {
		e.replay = newLogReplay(e.logPosition, e.appendPosition, e.cfg.ReplayChunkSize)
	}

	work, err := e.replay.DoWork()
	if err != nil {
		return work, errors.Wrap(err, "election: follower replay")
	}

	if e.replay.IsDone() {
		e.replay = nil
		if e.catchupPosition != NullPosition {
			e.transitionTo(nowNs, StateFollowerCatchupTransition)
		} else {
			e.transitionTo(nowNs, StateFollowerTransition)
		}
	}
	return work, nil
}

func (e *Election) handleFollowerCatchupTransition(nowNs int64) (int, error) {
	self := e.members.Self()
	if e.subscription == nil {
		sub, err := e.agent.CreateLogSubscription(self)
		if err != nil {
			return 0, errors.Wrap(err, "election: create log subscription")
		}
		e.subscription = sub
		if err := e.subscription.AddReplayDestination(e.transferEndpoint); err != nil {
			return 0, errors.Wrap(err, "election: add replay destination")
		}
	}

	leader, ok := e.members.ByID(e.leaderMemberID)
	if !ok {
		e.withState().WithError(ErrUnknownMember).Error("election: leader member missing from table, terminating")
		return 0, errors.Wrap(ErrTerminated, "election: leader member unknown")
	}

	msg := CatchupPositionMsg{
		LeadershipTermID: e.leadershipTermID,
		LogPosition:      e.catchupPosition,
		FollowerID:       e.selfID(),
	}
	if leader.Transport.SendCatchupPosition(msg) {
		e.lastHeartbeatNs = nowNs
		e.transitionTo(nowNs, StateFollowerCatchup)
		return 1, nil
	}
	return 0, nil
}

func (e *Election) handleFollowerCatchup(nowNs int64) (int, error) {
	work, nearLive, err := e.agent.PollCatchup(e.subscription, e.logSessionID, e.catchupPosition)
	if err != nil {
		return work, errors.Wrap(err, "election: poll catchup")
	}

	if nearLive && !e.liveDestinationAdded {
		if err := e.subscription.AddLiveDestination(e.logEndpoint); err != nil {
			return work, errors.Wrap(err, "election: add live destination")
		}
		e.liveDestinationAdded = true
	}

	if e.agent.CommittedPosition() >= e.catchupPosition {
		e.logPosition = e.catchupPosition
		e.appendPosition = e.catchupPosition
		e.transitionTo(nowNs, StateFollowerTransition)
		return work, nil
	}

	if nowNs-e.lastHeartbeatNs >= e.cfg.LeaderHeartbeatInterval.Nanoseconds() {
		if e.subscription.IsReplayActive() {
			if leader, ok := e.members.ByID(e.leaderMemberID); ok {
				msg := CatchupPositionMsg{
					LeadershipTermID: e.leadershipTermID,
					LogPosition:      e.catchupPosition,
					FollowerID:       e.selfID(),
				}
				if leader.Transport.SendCatchupPosition(msg) {
					work++
				}
			}
		}
		e.lastHeartbeatNs = nowNs
	}
	return work, nil
}

func (e *Election) handleFollowerTransition(nowNs int64) (int, error) {
	self := e.members.Self()
	if e.subscription == nil {
		sub, err := e.agent.CreateLogSubscription(self)
		if err != nil {
			return 0, errors.Wrap(err, "election: create log subscription")
		}
		e.subscription = sub
	}
	if !e.liveDestinationAdded {
		if err := e.subscription.AddLiveDestination(e.logEndpoint); err != nil {
			return 0, errors.Wrap(err, "election: add live destination")
		}
		e.liveDestinationAdded = true
	}

	if !e.agent.IsServiceReady() {
		return 0, nil
	}

	if err := appendMissingTerms(e.recordingLog, e.recordingID, e.logLeadershipTermID, e.leadershipTermID, e.logPosition, nowNs); err != nil {
		return 0, errors.Wrap(err, "election: append term entries")
	}
	if err := e.recordingLog.Force(e.cfg.FsyncLevel); err != nil {
		return 0, errors.Wrap(err, "election: force recording log")
	}
	e.logLeadershipTermID = e.leadershipTermID
	e.timeOfLastAppendSuccessNs = nowNs
	e.transitionTo(nowNs, StateFollowerReady)
	return 1, nil
}

func (e *Election) handleFollowerReady(nowNs int64) (int, error) {
	leader, ok := e.members.ByID(e.leaderMemberID)
	if !ok {
		e.withState().WithError(ErrUnknownMember).Error("election: leader member missing from table, terminating")
		return 0, errors.Wrap(ErrTerminated, "election: leader member unknown")
	}

	msg := AppendPositionMsg{
		LeadershipTermID: e.leadershipTermID,
		LogPosition:      e.logPosition,
		FollowerID:       e.selfID(),
	}
	if leader.Transport.SendAppendPosition(msg) {
		e.timeOfLastAppendSuccessNs = nowNs
		if e.agent.IsElectionComplete() {
			if err := e.agent.UpdateMemberDetails(e.leaderMemberID); err != nil {
				return 1, errors.Wrap(err, "election: update member details")
			}
			e.transitionTo(nowNs, StateClosed)
		}
		return 1, nil
	}

	if nowNs-e.timeOfLastAppendSuccessNs >= e.cfg.LeaderHeartbeatTimeout.Nanoseconds() {
		if e.subscription != nil {
			_ = e.subscription.RemoveLiveDestination()
			e.liveDestinationAdded = false
		}
		e.transitionTo(nowNs, StateCanvass)
	}
	return 0, nil
}

func (e *Election) pollMessages(nowNs int64) int {
	msgs := e.inbox.Poll(e.cfg.InboxBatchSize)
	for _, raw := range msgs {
		switch msg := raw.(type) {
		case CanvassPositionMsg:
			e.onCanvassPosition(nowNs, msg)
		case RequestVoteMsg:
			e.onRequestVote(nowNs, msg)
		case VoteMsg:
			e.onVote(nowNs, msg)
		case NewLeadershipTermMsg:
			e.onNewLeadershipTerm(nowNs, msg)
		case AppendPositionMsg:
			e.onAppendPosition(nowNs, msg)
		case CatchupPositionMsg:
			e.onCatchupPosition(nowNs, msg)
		case CommitPositionMsg:
			e.onCommitPosition(nowNs, msg)
		case ReplayNewLeadershipTermEventMsg:
			e.onReplayNewLeadershipTermEvent(nowNs, msg)
		default:
			e.withState().WithField("type", "unknown").Warn("election: dropping unrecognized message")
		}
	}
	return len(msgs)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
