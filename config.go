package election

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the election's timers and policy knobs. It is loadable from
// YAML rather than wired as compile-time constants the way a package-level
// MinimumElectionTimeoutMs variable would be.
type Config struct {
	// ElectionTimeout is the baseline timeout governing CANVASS exit,
	// CANDIDATE_BALLOT/FOLLOWER_BALLOT expiry, and nomination jitter range.
	ElectionTimeout time.Duration `yaml:"election_timeout"`

	// StartupCanvassTimeout is the extended canvass window used while
	// isExtendedCanvass is set (typically node startup).
	StartupCanvassTimeout time.Duration `yaml:"startup_canvass_timeout"`

	// ElectionStatusInterval is how often CANVASS rebroadcasts
	// canvassPosition to peers.
	ElectionStatusInterval time.Duration `yaml:"election_status_interval"`

	// LeaderHeartbeatInterval is how often the leader path
	// (LEADER_REPLAY/LEADER_READY) re-announces newLeadershipTerm, and how
	// often FOLLOWER_CATCHUP resends its catch-up request.
	LeaderHeartbeatInterval time.Duration `yaml:"leader_heartbeat_interval"`

	// LeaderHeartbeatTimeout bounds how long FOLLOWER_READY will wait for a
	// successful append-position send before falling back to CANVASS.
	LeaderHeartbeatTimeout time.Duration `yaml:"leader_heartbeat_timeout"`

	// FsyncLevel controls how hard the mark file and recording log are
	// forced to disk.
	FsyncLevel FsyncLevel `yaml:"fsync_level"`

	// AppointedLeaderID pins the cluster to a specific leader candidate;
	// zero means no appointment.
	AppointedLeaderID int64 `yaml:"appointed_leader_id"`

	// InboxBatchSize bounds how many messages doWork drains from the Inbox
	// per tick.
	InboxBatchSize int `yaml:"inbox_batch_size"`

	// ReplayChunkSize bounds how many log positions a single LogReplay.DoWork
	// call advances.
	ReplayChunkSize int64 `yaml:"replay_chunk_size"`
}

// DefaultConfig returns the default timer ratios, mirroring the
// BroadcastInterval = MinimumElectionTimeoutMs/10 relationship
// (BroadcastInterval << ElectionTimeout << MTBF).
func DefaultConfig() Config {
	electionTimeout := time.Second
	return Config{
		ElectionTimeout:         electionTimeout,
		StartupCanvassTimeout:   3 * electionTimeout,
		ElectionStatusInterval:  electionTimeout / 10,
		LeaderHeartbeatInterval: electionTimeout / 10,
		LeaderHeartbeatTimeout:  2 * electionTimeout,
		FsyncLevel:              FsyncNormal,
		AppointedLeaderID:       0,
		InboxBatchSize:          64,
		ReplayChunkSize:         1024,
	}
}

// LoadConfig reads a YAML file at path, applying it over DefaultConfig so
// an operator only needs to specify overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "election: read config %q", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "election: parse config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants this module's timers and batch sizes
// depend on: every duration must be positive, and batch/chunk sizes must be
// usable.
func (c Config) Validate() error {
	switch {
	case c.ElectionTimeout <= 0:
		return errors.New("election: election_timeout must be positive")
	case c.StartupCanvassTimeout <= 0:
		return errors.New("election: startup_canvass_timeout must be positive")
	case c.ElectionStatusInterval <= 0:
		return errors.New("election: election_status_interval must be positive")
	case c.LeaderHeartbeatInterval <= 0:
		return errors.New("election: leader_heartbeat_interval must be positive")
	case c.LeaderHeartbeatTimeout <= 0:
		return errors.New("election: leader_heartbeat_timeout must be positive")
	case c.InboxBatchSize <= 0:
		return errors.New("election: inbox_batch_size must be positive")
	case c.ReplayChunkSize <= 0:
		return errors.New("election: replay_chunk_size must be positive")
	}
	return nil
}
