package election

import "sync"

// ClusterAgent is the non-owning handle to the host's consensus agent: the
// agent owns the global run loop and cluster-wide state (role changes, log
// publications, catch-up polling), and the election calls back into it
// rather than owning it. This resolves the cyclic reference between the
// state machine and its host without giving either side ownership of the
// other.
type ClusterAgent interface {
	// PrepareForNewLeadership is called on INIT entry; it gives the agent a
	// chance to reconcile on-disk state and returns the node's current
	// appendPosition.
	PrepareForNewLeadership() (appendPosition int64, err error)

	// TruncateLog discards local log entries at and beyond position, per
	// onNewLeadershipTerm case 1, and returns the resulting appendPosition.
	TruncateLog(position int64) (appendPosition int64, err error)

	// BecomeLeader notifies the agent that this node has been elected for
	// leadershipTermID, entering LEADER_TRANSITION.
	BecomeLeader(leadershipTermID, logPosition, logSessionID int64) error

	// CreateLogSubscription lazily creates the follower-side subscription
	// used in FOLLOWER_CATCHUP_TRANSITION.
	CreateLogSubscription(self *ClusterMember) (LogSubscription, error)

	// PollCatchup polls the agent for catch-up progress against the given
	// subscription/session/target, returning a work-count and whether the
	// follower is now close enough to the live stream to attach a live
	// destination, for use while in FOLLOWER_CATCHUP.
	PollCatchup(sub LogSubscription, logSessionID, catchupPosition int64) (workCount int, nearLive bool, err error)

	// IsServiceReady reports whether the agent's downstream services are
	// ready to resume normal operation, gating FOLLOWER_TRANSITION's "await
	// service readiness".
	IsServiceReady() bool

	// IsElectionComplete reports whether the agent considers the election
	// fully settled, gating the LEADER_READY/FOLLOWER_READY -> CLOSED
	// transitions.
	IsElectionComplete() bool

	// UpdateMemberDetails is the final agent notification before CLOSED,
	// publishing the settled member/leader details.
	UpdateMemberDetails(leaderID int64) error

	// CommittedPosition returns the agent's committed-position counter,
	// used to reset logPosition when doWork restarts from INIT after an
	// error.
	CommittedPosition() int64

	// TrackCatchupCompletion is the leader-side bookkeeping hook invoked
	// from onAppendPosition so the agent can tell when a catching-up
	// follower has rejoined the live stream.
	TrackCatchupCompletion(member *ClusterMember)
}

// standaloneAgent is a minimal reference ClusterAgent used by this
// module's tests. It has no real downstream services: it is "ready"
// immediately, reports the election complete once SetElectionComplete(true)
// has been called, and reports every catch-up poll as close enough to the
// live stream, whatever the target position.
type standaloneAgent struct {
	mu                sync.Mutex
	appendPosition    int64
	committedPosition int64
	electionComplete  bool
}

// newStandaloneAgent returns a ClusterAgent seeded with the node's starting
// append position.
func newStandaloneAgent(appendPosition int64) *standaloneAgent {
	return &standaloneAgent{appendPosition: appendPosition, committedPosition: appendPosition}
}

func (a *standaloneAgent) PrepareForNewLeadership() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appendPosition, nil
}

func (a *standaloneAgent) BecomeLeader(leadershipTermID, logPosition, logSessionID int64) error {
	return nil
}

func (a *standaloneAgent) TruncateLog(position int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.appendPosition = position
	return a.appendPosition, nil
}

func (a *standaloneAgent) CreateLogSubscription(self *ClusterMember) (LogSubscription, error) {
	return newMemorySubscription(), nil
}

func (a *standaloneAgent) PollCatchup(sub LogSubscription, logSessionID, catchupPosition int64) (int, bool, error) {
	// The reference agent has no real archive to replay from, so it treats
	// every poll as having made one unit of progress and immediately
	// considers the follower close enough to cut over to the live stream.
	return 1, true, nil
}

func (a *standaloneAgent) IsServiceReady() bool { return true }

func (a *standaloneAgent) IsElectionComplete() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.electionComplete
}

// SetElectionComplete lets tests/the demo binary control when the agent
// considers the election settled.
func (a *standaloneAgent) SetElectionComplete(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.electionComplete = v
}

func (a *standaloneAgent) UpdateMemberDetails(leaderID int64) error { return nil }

func (a *standaloneAgent) CommittedPosition() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committedPosition
}

// SetCommittedPosition lets tests drive the value CommittedPosition
// returns, simulating progress reported by the (out of scope) replication
// layer.
func (a *standaloneAgent) SetCommittedPosition(p int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.committedPosition = p
}

func (a *standaloneAgent) TrackCatchupCompletion(member *ClusterMember) {}

// memorySubscription is a reference LogSubscription with no real transport
// underneath, tracking only whether each destination has been added.
type memorySubscription struct {
	mu            sync.Mutex
	replayAdded   bool
	liveAdded     bool
	closed        bool
}

func newMemorySubscription() *memorySubscription {
	return &memorySubscription{}
}

func (s *memorySubscription) AddReplayDestination(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replayAdded = true
	return nil
}

func (s *memorySubscription) AddLiveDestination(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveAdded = true
	return nil
}

func (s *memorySubscription) RemoveLiveDestination() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveAdded = false
	return nil
}

func (s *memorySubscription) IsReplayActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replayAdded && !s.closed
}

func (s *memorySubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
