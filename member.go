package election

// VoteState is the tri-state result of a ballot this node has requested
// from a peer (or that a peer has requested from this node, mirrored back
// into the member table for bookkeeping on the candidate side).
type VoteState int8

const (
	VoteUnset VoteState = iota
	VoteGranted
	VoteDenied
)

// ClusterMember is the per-peer mutable election state. One
// exists per configured member of the fixed cluster, including a member
// representing this node itself (so quorum math never needs a special case
// for "plus one, for me").
type ClusterMember struct {
	ID        int64
	IsPassive bool

	LeadershipTermID int64
	LogPosition      int64
	CandidateTermID  int64
	Vote             VoteState
	IsBallotSent     bool

	// CanvassResponded is set the first time this member's position is
	// learned in the current canvass round, distinguishing "reported a
	// non-greater position" from "hasn't answered yet".
	CanvassResponded bool

	TimeOfLastAppendPositionNs int64

	// Transport is this node's handle to the peer's control publication.
	// Nil for the member representing this node itself.
	Transport MemberTransport
}

func newClusterMember(id int64, passive bool) *ClusterMember {
	return &ClusterMember{ID: id, IsPassive: passive}
}

// resetForCanvass clears the bookkeeping a new canvass round needs to
// recompute from scratch.
func (m *ClusterMember) resetForCanvass() {
	m.CanvassResponded = false
}

// resetForBallot marks this member as a fresh candidate target for termID,
// per NOMINATE's "mark each member's bookkeeping as a candidate for this
// term".
func (m *ClusterMember) resetForBallot(termID int64) {
	m.CandidateTermID = termID
	m.Vote = VoteUnset
	m.IsBallotSent = false
}

// Members is a dense, stable-id-indexed member table: a slice for cache-friendly iteration in the hot quorum predicates, with an
// auxiliary id→slot map for the sparse lookups message handlers need.
type Members struct {
	slots  []*ClusterMember
	byID   map[int64]int
	selfID int64
}

// NewMembers builds the member table for a fixed cluster. ids must include
// selfID. passive names the subset of ids that are passive (non-voting)
// observers.
func NewMembers(selfID int64, ids []int64, passive map[int64]bool) *Members {
	m := &Members{
		byID:   make(map[int64]int, len(ids)),
		selfID: selfID,
	}
	for _, id := range ids {
		m.byID[id] = len(m.slots)
		m.slots = append(m.slots, newClusterMember(id, passive[id]))
	}
	return m
}

// ByID looks up a member by its stable id.
func (m *Members) ByID(id int64) (*ClusterMember, bool) {
	idx, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return m.slots[idx], true
}

// Self returns the member representing this node.
func (m *Members) Self() *ClusterMember {
	self, ok := m.ByID(m.selfID)
	if !ok {
		panic("election: self id not present in member table")
	}
	return self
}

// All returns every configured member, including self.
func (m *Members) All() []*ClusterMember {
	return m.slots
}

// Others returns every configured member except self, in table order.
func (m *Members) Others() []*ClusterMember {
	out := make([]*ClusterMember, 0, len(m.slots)-1)
	for _, mem := range m.slots {
		if mem.ID != m.selfID {
			out = append(out, mem)
		}
	}
	return out
}

// Count returns the total number of configured members.
func (m *Members) Count() int {
	return len(m.slots)
}

// VotingMembers returns the non-passive subset of the member table.
func (m *Members) VotingMembers() []*ClusterMember {
	out := make([]*ClusterMember, 0, len(m.slots))
	for _, mem := range m.slots {
		if !mem.IsPassive {
			out = append(out, mem)
		}
	}
	return out
}

// Quorum returns floor(N/2)+1 over the voting subset, the majority
// threshold every vote-counting predicate below uses.
func (m *Members) Quorum() int {
	n := len(m.VotingMembers())
	return n/2 + 1
}

func (m *Members) resetForCanvass() {
	for _, mem := range m.slots {
		mem.resetForCanvass()
	}
}

func (m *Members) resetForBallot(termID int64) {
	for _, mem := range m.slots {
		mem.resetForBallot(termID)
	}
}

// IsUnanimousCandidate reports whether every
// other voting member has reported a leadershipTermId and logPosition no
// greater than self's, and has answered at least once in this canvass
// round.
func (m *Members) IsUnanimousCandidate(self *ClusterMember) bool {
	for _, mem := range m.VotingMembers() {
		if mem.ID == self.ID {
			continue
		}
		if !mem.CanvassResponded {
			return false
		}
		if mem.LeadershipTermID > self.LeadershipTermID || mem.LogPosition > self.LogPosition {
			return false
		}
	}
	return true
}

// IsQuorumCandidate reports whether a majority
// (including self) have responded with non-greater positions. Members that
// haven't responded yet simply don't count toward the majority.
func (m *Members) IsQuorumCandidate(self *ClusterMember) bool {
	have := 1 // self
	for _, mem := range m.VotingMembers() {
		if mem.ID == self.ID {
			continue
		}
		if mem.CanvassResponded &&
			mem.LeadershipTermID <= self.LeadershipTermID &&
			mem.LogPosition <= self.LogPosition {
			have++
		}
	}
	return have >= m.Quorum()
}

// HasMajorityVote reports whether at least a majority
// of voting members (self implicitly counted as a "yes" for its own
// candidacy) have CandidateTermID == T and Vote == granted.
func (m *Members) HasMajorityVote(termID int64) bool {
	have := 0
	for _, mem := range m.VotingMembers() {
		if mem.ID == m.selfID {
			have++ // a candidate always votes for itself
			continue
		}
		if mem.CandidateTermID == termID && mem.Vote == VoteGranted {
			have++
		}
	}
	return have >= m.Quorum()
}

// HasWonVoteOnFullCount reports whether every
// voting member has a recorded vote at T, and a majority granted.
func (m *Members) HasWonVoteOnFullCount(termID int64) bool {
	granted := 0
	for _, mem := range m.VotingMembers() {
		if mem.ID == m.selfID {
			granted++
			continue
		}
		if mem.CandidateTermID != termID || mem.Vote == VoteUnset {
			return false
		}
		if mem.Vote == VoteGranted {
			granted++
		}
	}
	return granted >= m.Quorum()
}

// HasMajorityVoteWithCanvassMembers reports a majority among the subset of
// members that responded to the canvass that preceded this ballot.
func (m *Members) HasMajorityVoteWithCanvassMembers(termID int64) bool {
	responded, granted := 1, 1 // self always "responded" and voted for itself
	for _, mem := range m.VotingMembers() {
		if mem.ID == m.selfID || !mem.CanvassResponded {
			continue
		}
		responded++
		if mem.CandidateTermID == termID && mem.Vote == VoteGranted {
			granted++
		}
	}
	return granted >= responded/2+1
}

// HaveVotersReachedPosition reports whether every non-passive member other
// than self reports (leadershipTermId >= T) AND (logPosition >= P).
func (m *Members) HaveVotersReachedPosition(position, termID int64) bool {
	for _, mem := range m.VotingMembers() {
		if mem.ID == m.selfID {
			continue
		}
		if mem.LeadershipTermID < termID || mem.LogPosition < position {
			return false
		}
	}
	return true
}
