package election

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// newSessionID mints an identifier for a log publication/recording the way
// a production transport would assign a session id. This reference module
// has no real transport, so it derives one from a random UUID instead of a
// bare incrementing counter.
func newSessionID() int64 {
	id := uuid.New()
	return int64(binary.BigEndian.Uint64(id[:8]))
}
