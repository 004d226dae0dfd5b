package election

// MemberTransport is this node's handle to a single peer's control
// publication. Every send is try-send: it returns false instead of
// blocking, and a failed send is the calling state handler's
// responsibility to retry on a later tick.
//
// The production implementation of this interface lives outside this
// module: it would publish onto the cluster's Aeron control stream.
// ChannelTransport below is the in-process reference implementation used
// by this module's own tests and demo binary.
type MemberTransport interface {
	SendCanvassPosition(CanvassPositionMsg) bool
	SendRequestVote(RequestVoteMsg) bool
	SendVote(VoteMsg) bool
	SendNewLeadershipTerm(NewLeadershipTermMsg) bool
	SendAppendPosition(AppendPositionMsg) bool
	SendCatchupPosition(CatchupPositionMsg) bool
	SendCommitPosition(CommitPositionMsg) bool
}

// LogSubscription is the follower-side transport resource opened in
// FOLLOWER_CATCHUP_TRANSITION: a multi-destination subscription that can
// have a replay destination (reading the leader's archive) and later a live
// destination (joining the leader's live log) attached.
type LogSubscription interface {
	AddReplayDestination(endpoint string) error
	AddLiveDestination(endpoint string) error
	RemoveLiveDestination() error
	IsReplayActive() bool
	Close() error
}

// ChannelTransport is a MemberTransport backed by a buffered Go channel,
// the direct generalization of the in-process LocalPeer/
// Peers.Except(id).RequestVotes(...) pattern to all seven election message
// kinds instead of just AppendEntries/RequestVote.
type ChannelTransport struct {
	ch chan Message
}

func newChannelTransport(ch chan Message) *ChannelTransport {
	return &ChannelTransport{ch: ch}
}

func (t *ChannelTransport) trySend(m Message) bool {
	select {
	case t.ch <- m:
		return true
	default:
		return false
	}
}

func (t *ChannelTransport) SendCanvassPosition(m CanvassPositionMsg) bool       { return t.trySend(m) }
func (t *ChannelTransport) SendRequestVote(m RequestVoteMsg) bool               { return t.trySend(m) }
func (t *ChannelTransport) SendVote(m VoteMsg) bool                             { return t.trySend(m) }
func (t *ChannelTransport) SendNewLeadershipTerm(m NewLeadershipTermMsg) bool   { return t.trySend(m) }
func (t *ChannelTransport) SendAppendPosition(m AppendPositionMsg) bool         { return t.trySend(m) }
func (t *ChannelTransport) SendCatchupPosition(m CatchupPositionMsg) bool       { return t.trySend(m) }
func (t *ChannelTransport) SendCommitPosition(m CommitPositionMsg) bool        { return t.trySend(m) }

// channelInbox adapts a receive channel to the Inbox interface, draining up
// to max messages without blocking.
type channelInbox struct {
	ch chan Message
}

func (in *channelInbox) Poll(max int) []Message {
	out := make([]Message, 0, max)
	for i := 0; i < max; i++ {
		select {
		case m := <-in.ch:
			out = append(out, m)
		default:
			return out
		}
	}
	return out
}

// ChannelNetwork wires a fixed set of member ids to per-member buffered
// channels, so any member's ChannelTransport to peer X delivers into X's
// own inbox. This is the in-process "cluster control stream" used by tests
// and the demo binary; it is not part of the specified protocol surface.
type ChannelNetwork struct {
	channels map[int64]chan Message
	buffer   int
}

// NewChannelNetwork creates the shared channel set for the given member
// ids. buffer bounds each member's inbox; a full inbox causes sends to that
// member to report failure, exercising the retry-next-tick behavior every
// state handler already implements.
func NewChannelNetwork(ids []int64, buffer int) *ChannelNetwork {
	n := &ChannelNetwork{channels: make(map[int64]chan Message, len(ids)), buffer: buffer}
	for _, id := range ids {
		n.channels[id] = make(chan Message, buffer)
	}
	return n
}

// TransportTo returns a MemberTransport that delivers into toID's inbox.
func (n *ChannelNetwork) TransportTo(toID int64) MemberTransport {
	ch, ok := n.channels[toID]
	if !ok {
		panic("election: unknown member id in channel network")
	}
	return newChannelTransport(ch)
}

// InboxFor returns the Inbox a member with the given id should poll.
func (n *ChannelNetwork) InboxFor(id int64) Inbox {
	ch, ok := n.channels[id]
	if !ok {
		panic("election: unknown member id in channel network")
	}
	return &channelInbox{ch: ch}
}
