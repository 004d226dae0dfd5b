package election

// This file implements the inbound message handlers, including
// onCatchupPosition: leader-side bookkeeping for it is symmetric with
// onAppendPosition, so a catching-up follower's progress reports are never
// silently dropped; see DESIGN.md.

func (e *Election) sendVote(to *ClusterMember, candidateTermID int64, granted bool) {
	to.Transport.SendVote(VoteMsg{
		CandidateTermID:     candidateTermID,
		LogLeadershipTermID: e.logLeadershipTermID,
		LogPosition:         e.appendPosition,
		CandidateID:         to.ID,
		FollowerID:          e.selfID(),
		Granted:             granted,
	})
}

// sendSynthesizedLeadershipTerm answers a stale canvass seen in LEADER_READY
// from the recording log's entry for the term just past the sender's,
// falling back to the current logLeadershipTermID/logPosition when that term
// has no entry.
func (e *Election) sendSynthesizedLeadershipTerm(nowNs int64, to *ClusterMember, senderTermID int64) {
	logLeadershipTermID := e.logLeadershipTermID
	logTruncatePosition := e.logPosition
	if entry, ok := e.recordingLog.GetTermEntry(senderTermID + 1); ok {
		logLeadershipTermID = entry.TermID
		logTruncatePosition = entry.TermBaseLogPosition
	}
	to.Transport.SendNewLeadershipTerm(NewLeadershipTermMsg{
		LogLeadershipTermID: logLeadershipTermID,
		LogTruncatePosition: logTruncatePosition,
		LeadershipTermID:    e.leadershipTermID,
		LogPosition:         e.logPosition,
		TimestampNs:         nowNs,
		LeaderID:            e.selfID(),
		LogSessionID:        e.logSessionID,
		IsStartup:           e.isLeaderStartup,
	})
}

// sendBestEffortLeadershipTerm answers a stale canvass seen while still
// replaying/transitioning into leadership, using the recording log's entry
// for the term just past the sender's if one has already been recorded,
// falling back to the in-flight logLeadershipTermID/logPosition otherwise.
func (e *Election) sendBestEffortLeadershipTerm(nowNs int64, to *ClusterMember, senderTermID int64) {
	logLeadershipTermID := e.logLeadershipTermID
	logTruncatePosition := e.logPosition
	if entry, ok := e.recordingLog.GetTermEntry(senderTermID + 1); ok {
		logLeadershipTermID = entry.TermID
		logTruncatePosition = entry.TermBaseLogPosition
	}
	to.Transport.SendNewLeadershipTerm(NewLeadershipTermMsg{
		LogLeadershipTermID: logLeadershipTermID,
		LogTruncatePosition: logTruncatePosition,
		LeadershipTermID:    e.leadershipTermID,
		LogPosition:         e.appendPosition,
		TimestampNs:         nowNs,
		LeaderID:            e.selfID(),
		LogSessionID:        e.logSessionID,
		IsStartup:           e.isLeaderStartup,
	})
}

func (e *Election) onCanvassPosition(nowNs int64, msg CanvassPositionMsg) {
	sender, ok := e.members.ByID(msg.FromID)
	if !ok {
		return
	}
	sender.LeadershipTermID = msg.LeadershipTermID
	sender.LogPosition = msg.LogPosition
	sender.CanvassResponded = true

	switch {
	case e.state == StateLeaderReady && msg.LeadershipTermID < e.leadershipTermID:
		e.sendSynthesizedLeadershipTerm(nowNs, sender, msg.LeadershipTermID)
	case e.state.IsLeader() && e.state != StateLeaderReady && msg.LeadershipTermID < e.leadershipTermID:
		e.sendBestEffortLeadershipTerm(nowNs, sender, msg.LeadershipTermID)
	case msg.LeadershipTermID > e.leadershipTermID:
		e.transitionTo(nowNs, StateCanvass)
	}
}

func (e *Election) onRequestVote(nowNs int64, msg RequestVoteMsg) {
	if e.members.Self().IsPassive {
		e.withState().WithError(ErrPassiveMember).Debug("election: ignoring request vote")
		return
	}
	if msg.CandidateID == e.selfID() {
		return
	}
	candidate, ok := e.members.ByID(msg.CandidateID)
	if !ok {
		return
	}

	if msg.CandidateTermID <= e.leadershipTermID || msg.CandidateTermID <= e.candidateTermID {
		e.withState().WithError(ErrStaleTerm).WithField("candidate_term_id", msg.CandidateTermID).Debug("election: denying vote")
		e.sendVote(candidate, msg.CandidateTermID, false)
		return
	}

	ownMoreUpToDate := ComparePosition(e.logLeadershipTermID, e.appendPosition, msg.LogLeadershipTermID, msg.LogPosition) > 0

	e.candidateTermID = msg.CandidateTermID
	if err := e.persistCandidateTermID(); err != nil {
		e.withState().WithError(err).Warn("election: persist candidate term id failed, denying vote")
		e.sendVote(candidate, msg.CandidateTermID, false)
		return
	}

	if ownMoreUpToDate {
		e.transitionTo(nowNs, StateCanvass)
		e.sendVote(candidate, msg.CandidateTermID, false)
		return
	}

	self := e.members.Self()
	self.Vote = VoteGranted
	self.CandidateTermID = msg.CandidateTermID
	e.transitionTo(nowNs, StateFollowerBallot)
	e.sendVote(candidate, msg.CandidateTermID, true)
}

func (e *Election) onVote(nowNs int64, msg VoteMsg) {
	if e.state != StateCandidateBallot || msg.CandidateTermID != e.candidateTermID {
		return
	}
	m, ok := e.members.ByID(msg.FollowerID)
	if !ok {
		return
	}
	m.CandidateTermID = msg.CandidateTermID
	m.LeadershipTermID = msg.LogLeadershipTermID
	m.LogPosition = msg.LogPosition
	if msg.Granted {
		m.Vote = VoteGranted
	} else {
		m.Vote = VoteDenied
	}
}

func (e *Election) onNewLeadershipTerm(nowNs int64, msg NewLeadershipTermMsg) {
	// Case 1: the leader truncated past what we've appended; follow it.
	if msg.LeadershipTermID > e.leadershipTermID &&
		msg.LogLeadershipTermID == e.logLeadershipTermID &&
		msg.LogTruncatePosition < e.appendPosition {
		appendPosition, err := e.agent.TruncateLog(msg.LogTruncatePosition)
		if err != nil {
			e.withState().WithError(err).Warn("election: truncate log failed")
			return
		}
		e.appendPosition = appendPosition
		e.leaderMemberID = msg.LeaderID
		e.leadershipTermID = msg.LeadershipTermID
		e.logSessionID = msg.LogSessionID
		e.catchupPosition = msg.LogPosition
		e.transitionTo(nowNs, StateFollowerReplay)
		return
	}

	// Case 2: this is the outcome of the ballot we just cast or ran.
	if msg.LogLeadershipTermID == e.logLeadershipTermID &&
		msg.LeadershipTermID == e.candidateTermID &&
		(e.state == StateFollowerBallot || e.state == StateCandidateBallot || e.state == StateCanvass) {
		e.leaderMemberID = msg.LeaderID
		e.leadershipTermID = msg.LeadershipTermID
		e.logSessionID = msg.LogSessionID
		if msg.LogPosition > e.appendPosition {
			e.catchupPosition = msg.LogPosition
		} else {
			e.catchupPosition = NullPosition
		}
		e.transitionTo(nowNs, StateFollowerReplay)
		return
	}

	// Case 3: divergent logs, no catch-up already in flight.
	logsDiffer := ComparePosition(msg.LogLeadershipTermID, msg.LogPosition, e.logLeadershipTermID, e.appendPosition) != 0
	if logsDiffer && e.catchupPosition == NullPosition {
		if msg.LogPosition >= e.appendPosition && msg.LeadershipTermID >= e.candidateTermID {
			e.leaderMemberID = msg.LeaderID
			e.leadershipTermID = msg.LeadershipTermID
			e.logSessionID = msg.LogSessionID
			e.transitionTo(nowNs, StateFollowerReplay)
			return
		}
		// Guard failed: the original design left this case a silent drop,
		// which can starve a follower whose log is ahead. Surfaced instead.
		e.withState().WithFields(map[string]interface{}{
			"sender_leadership_term_id": msg.LeadershipTermID,
			"sender_log_position":       msg.LogPosition,
		}).Warn("election: ignoring newLeadershipTerm, guard failed on divergent logs")
	}
}

func (e *Election) onAppendPosition(nowNs int64, msg AppendPositionMsg) {
	m, ok := e.members.ByID(msg.FollowerID)
	if !ok {
		return
	}
	m.LeadershipTermID = msg.LeadershipTermID
	m.LogPosition = msg.LogPosition
	m.TimeOfLastAppendPositionNs = nowNs
	e.agent.TrackCatchupCompletion(m)
}

// onCatchupPosition mirrors onAppendPosition's leader-side bookkeeping for a
// follower still in its replay-from-archive phase: a node in FOLLOWER_CATCHUP
// sends catchupPosition instead of appendPosition until it reaches the live
// stream.
func (e *Election) onCatchupPosition(nowNs int64, msg CatchupPositionMsg) {
	m, ok := e.members.ByID(msg.FollowerID)
	if !ok {
		return
	}
	m.LeadershipTermID = msg.LeadershipTermID
	m.LogPosition = msg.LogPosition
	m.TimeOfLastAppendPositionNs = nowNs
	e.agent.TrackCatchupCompletion(m)
}

func (e *Election) onCommitPosition(nowNs int64, msg CommitPositionMsg) {
	if e.state == StateFollowerCatchup && msg.LeaderID == e.leaderMemberID && msg.LogPosition > e.catchupPosition {
		e.catchupPosition = msg.LogPosition
	}
	if msg.LeadershipTermID > e.leadershipTermID {
		e.transitionTo(nowNs, StateInit)
	}
}

func (e *Election) onReplayNewLeadershipTermEvent(nowNs int64, msg ReplayNewLeadershipTermEventMsg) {
	if e.state != StateFollowerCatchup {
		return
	}

	if e.recordingLog.IsUnknown(msg.LeadershipTermID) {
		if err := e.recordingLog.AppendTerm(msg.RecordingID, msg.LeadershipTermID, msg.TermBaseLogPosition, msg.TimestampNs, true); err != nil {
			e.withState().WithError(err).Warn("election: append term entry from replay event failed")
			return
		}
	} else if entry, ok := e.recordingLog.GetTermEntry(msg.LeadershipTermID); ok && !entry.PositionCommitted {
		if err := e.recordingLog.CommitLogPosition(msg.LeadershipTermID, msg.TermBaseLogPosition); err != nil {
			e.withState().WithError(err).Warn("election: commit term log position from replay event failed")
			return
		}
	}

	if err := e.recordingLog.Force(e.cfg.FsyncLevel); err != nil {
		e.withState().WithError(err).Warn("election: force recording log from replay event failed")
		return
	}

	e.logLeadershipTermID = msg.LeadershipTermID
	e.logPosition = msg.LogPosition
}
