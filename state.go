package election

// State is one of the fourteen phases an Election object passes through on
// its way from INIT to CLOSED. Values are stable and published verbatim to
// the external election-state counter (type id 207), so the ordering below
// must never change.
type State int32

const (
	StateInit State = iota
	StateCanvass
	StateNominate
	StateCandidateBallot
	StateFollowerBallot
	StateLeaderReplay
	StateLeaderTransition
	StateLeaderReady
	StateFollowerReplay
	StateFollowerCatchupTransition
	StateFollowerCatchup
	StateFollowerTransition
	StateFollowerReady
	StateClosed

	stateCount = StateClosed + 1
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateCanvass:
		return "CANVASS"
	case StateNominate:
		return "NOMINATE"
	case StateCandidateBallot:
		return "CANDIDATE_BALLOT"
	case StateFollowerBallot:
		return "FOLLOWER_BALLOT"
	case StateLeaderReplay:
		return "LEADER_REPLAY"
	case StateLeaderTransition:
		return "LEADER_TRANSITION"
	case StateLeaderReady:
		return "LEADER_READY"
	case StateFollowerReplay:
		return "FOLLOWER_REPLAY"
	case StateFollowerCatchupTransition:
		return "FOLLOWER_CATCHUP_TRANSITION"
	case StateFollowerCatchup:
		return "FOLLOWER_CATCHUP"
	case StateFollowerTransition:
		return "FOLLOWER_TRANSITION"
	case StateFollowerReady:
		return "FOLLOWER_READY"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether s is a state this module knows how to decode. A
// counter holding anything else is a programmer error upstream (a peer
// running an incompatible protocol version, or memory corruption) and is
// handled by failing fast rather than guessing, per the "invalid state
// code" error kind.
func (s State) IsValid() bool {
	return s >= StateInit && s < stateCount
}

// IsLeader reports whether s is one of the three leader-path states.
func (s State) IsLeader() bool {
	switch s {
	case StateLeaderReplay, StateLeaderTransition, StateLeaderReady:
		return true
	default:
		return false
	}
}

// IsFollower reports whether s is one of the follower-path states.
func (s State) IsFollower() bool {
	switch s {
	case StateFollowerReplay, StateFollowerCatchupTransition, StateFollowerCatchup,
		StateFollowerTransition, StateFollowerReady:
		return true
	default:
		return false
	}
}

// HistoryEntry records one observed state transition, used by Election.History
// to support P7 (the external state-counter sequence is a valid transition
// path) directly in tests without needing to poll an external counter.
type HistoryEntry struct {
	State       State
	TimestampNs int64
}
