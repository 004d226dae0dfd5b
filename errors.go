package election

import "github.com/pkg/errors"

// Sentinel errors, kept flat and few, extended with causal wrapping at
// call sites (via github.com/pkg/errors.Wrap/Wrapf) so a doWork failure
// keeps a stack trace and cause chain back to the host error handler.
var (
	// ErrStaleTerm marks a logged denial in onRequestVote when the
	// candidate's term is no better than one this node has already settled
	// on or is already a candidate for.
	ErrStaleTerm = errors.New("election: stale term")

	// ErrPassiveMember marks a logged ignore in onRequestVote when a
	// passive (non-voting) member is asked to cast a ballot.
	ErrPassiveMember = errors.New("election: passive member cannot vote")

	// ErrUnknownMember is logged when the leader member id is not present in
	// the configured cluster, just before the state handler returns
	// ErrTerminated. Messages naming an unknown member id are ignored.
	ErrUnknownMember = errors.New("election: unknown member")

	// ErrTerminated is the termination signal sentinel: it propagates out of
	// doWork unchanged, instead of being caught and turned into an INIT
	// restart, and tells the host loop to tear down the cluster node.
	ErrTerminated = errors.New("election: terminated")
)

// IsTerminated reports whether err is, or wraps, ErrTerminated.
func IsTerminated(err error) bool {
	return errors.Is(err, ErrTerminated)
}
