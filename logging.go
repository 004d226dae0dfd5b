package election

import "github.com/sirupsen/logrus"

// newElectionLogger builds the structured logger each Election carries,
// pre-populated with the fields that make a multi-member test log (or a
// multi-node cluster's aggregated logs) sortable and greppable: which
// member this is, and which state it's in. Generalizes the
// s.logGeneric prefix ("id=%d term=%d state=%s: ") from a printf prefix
// into structured fields.
func newElectionLogger(base *logrus.Logger, memberID int64) *logrus.Entry {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return base.WithFields(logrus.Fields{
		"member_id": memberID,
	})
}

// withState returns a derived entry carrying the current state and
// leadership and candidate terms, used by the state and message handlers'
// log calls so each such log line is self-describing without re-deriving it
// from call order.
func (e *Election) withState() *logrus.Entry {
	return e.log.WithFields(logrus.Fields{
		"state":              e.state.String(),
		"leadership_term_id": e.leadershipTermID,
		"candidate_term_id":  e.candidateTermID,
	})
}
