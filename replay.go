package election

// LogReplay is an embedded sub-task: replaying the local log between two
// positions, polled once per tick from inside LEADER_REPLAY/FOLLOWER_REPLAY
// while it is present. It is a non-blocking poller returning a work-count.
type LogReplay interface {
	// DoWork advances the replay by at most one bounded unit of work and
	// returns how much work was done (0 if there is nothing left to do).
	DoWork() (workCount int, err error)
	// IsDone reports whether the replay has reached its target position.
	IsDone() bool
	// Position returns how far the replay has advanced so far.
	Position() int64
}

// memoryLogReplay is the reference LogReplay used by this module's tests
// and demo binary: it simulates replaying a local log by advancing a
// cursor from "from" to "to" in fixed-size chunks, the way a
// Log.EntriesAfter/AppendEntry pair moves a follower's log forward one
// batch at a time in server.go's Flush.
type memoryLogReplay struct {
	cursor int64
	to     int64
	chunk  int64
}

// newLogReplay creates a replay task that will advance from "from" to "to"
// in increments of at most chunk units of work per DoWork call.
func newLogReplay(from, to, chunk int64) LogReplay {
	if chunk <= 0 {
		chunk = 1
	}
	if to < from {
		to = from
	}
	return &memoryLogReplay{cursor: from, to: to, chunk: chunk}
}

func (r *memoryLogReplay) DoWork() (int, error) {
	if r.cursor >= r.to {
		return 0, nil
	}
	step := r.chunk
	if r.cursor+step > r.to {
		step = r.to - r.cursor
	}
	r.cursor += step
	return int(step), nil
}

func (r *memoryLogReplay) IsDone() bool {
	return r.cursor >= r.to
}

func (r *memoryLogReplay) Position() int64 {
	return r.cursor
}
