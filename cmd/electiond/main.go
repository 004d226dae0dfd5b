// Command electiond runs an in-process cluster of election state machines
// wired over in-memory channel transports, so the fourteen-state leader
// election protocol (see SPEC_FULL.md) can be watched end to end without a
// real network or a real Aeron cluster underneath it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	election "github.com/clustermind/electiond"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config overriding the defaults")
		memberCSV  = flag.String("members", "1,2,3", "comma-separated member ids")
		dataDir    = flag.String("data-dir", "", "directory for mark files (defaults to a temp dir)")
		tick       = flag.Duration("tick", 20*time.Millisecond, "host loop tick interval")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := election.DefaultConfig()
	if *configPath != "" {
		loaded, err := election.LoadConfig(*configPath)
		if err != nil {
			logger.WithError(err).Fatal("electiond: load config")
		}
		cfg = loaded
	}

	ids, err := parseMemberIDs(*memberCSV)
	if err != nil {
		logger.WithError(err).Fatal("electiond: parse members")
	}

	dir := *dataDir
	if dir == "" {
		dir, err = os.MkdirTemp("", "electiond-")
		if err != nil {
			logger.WithError(err).Fatal("electiond: create data dir")
		}
		logger.WithField("dir", dir).Info("electiond: using temporary data dir")
	}

	cluster, err := newCluster(cfg, ids, dir, logger)
	if err != nil {
		logger.WithError(err).Fatal("electiond: build cluster")
	}
	defer cluster.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ticker := time.NewTicker(*tick)
	defer ticker.Stop()

	var nowNs int64
	for {
		select {
		case <-ctx.Done():
			logger.Info("electiond: shutting down")
			return
		case t := <-ticker.C:
			nowNs = t.UnixNano()
			cluster.tick(nowNs)
		}
	}
}

func parseMemberIDs(csv string) ([]int64, error) {
	var ids []int64
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				var id int64
				if _, err := fmt.Sscanf(csv[start:i], "%d", &id); err != nil {
					return nil, fmt.Errorf("electiond: invalid member id %q: %w", csv[start:i], err)
				}
				ids = append(ids, id)
			}
			start = i + 1
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("electiond: no member ids given")
	}
	return ids, nil
}

// cluster wires one Election per member id over a shared ChannelNetwork, the
// demo-binary generalization of an in-process LocalPeer set.
type cluster struct {
	elections []*election.Election
	markFiles []*election.FileMarkFile
	logger    *logrus.Logger
}

func newCluster(cfg election.Config, ids []int64, dataDir string, logger *logrus.Logger) (*cluster, error) {
	net := election.NewChannelNetwork(ids, 256)
	c := &cluster{logger: logger}

	for _, id := range ids {
		mf, err := election.NewFileMarkFile(filepath.Join(dataDir, fmt.Sprintf("member-%d.mark", id)))
		if err != nil {
			return nil, err
		}
		c.markFiles = append(c.markFiles, mf)

		transports := map[int64]election.MemberTransport{}
		for _, peer := range ids {
			if peer != id {
				transports[peer] = net.TransportTo(peer)
			}
		}

		agent := newLoggingAgent(id, logger)
		e := election.NewElection(cfg, election.Params{
			SelfID:        id,
			MemberIDs:     ids,
			Transports:    transports,
			Inbox:         net.InboxFor(id),
			Agent:         agent,
			MarkFile:      mf,
			RecordingLog:  election.NewMemoryRecordingLog(),
			IsNodeStartup: true,
		})
		c.elections = append(c.elections, e)
	}
	return c, nil
}

func (c *cluster) tick(nowNs int64) {
	for _, e := range c.elections {
		if _, err := e.DoWork(nowNs); err != nil {
			c.logger.WithError(err).Warn("electiond: election terminated")
		}
	}
}

// loggingAgent is the demo binary's ClusterAgent: it behaves like the
// library's standalone reference agent (always ready, completes elections
// immediately) but logs every callback, so running electiond shows the
// state machine's interaction with its host at each step.
type loggingAgent struct {
	mu                sync.Mutex
	memberID          int64
	log               *logrus.Entry
	appendPosition    int64
	committedPosition int64
}

func newLoggingAgent(memberID int64, base *logrus.Logger) *loggingAgent {
	return &loggingAgent{memberID: memberID, log: base.WithField("member_id", memberID)}
}

func (a *loggingAgent) PrepareForNewLeadership() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.log.Debug("agent: prepare for new leadership")
	return a.appendPosition, nil
}

func (a *loggingAgent) TruncateLog(position int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.log.WithField("position", position).Info("agent: truncate log")
	a.appendPosition = position
	return a.appendPosition, nil
}

func (a *loggingAgent) BecomeLeader(leadershipTermID, logPosition, logSessionID int64) error {
	a.log.WithFields(logrus.Fields{
		"leadership_term_id": leadershipTermID,
		"log_position":       logPosition,
		"log_session_id":     logSessionID,
	}).Info("agent: become leader")
	return nil
}

func (a *loggingAgent) CreateLogSubscription(self *election.ClusterMember) (election.LogSubscription, error) {
	a.log.Info("agent: create log subscription")
	return &loggingSubscription{log: a.log}, nil
}

func (a *loggingAgent) PollCatchup(sub election.LogSubscription, logSessionID, catchupPosition int64) (int, bool, error) {
	return 1, true, nil
}

func (a *loggingAgent) IsServiceReady() bool { return true }

func (a *loggingAgent) IsElectionComplete() bool { return true }

func (a *loggingAgent) UpdateMemberDetails(leaderID int64) error {
	a.log.WithField("leader_id", leaderID).Info("agent: update member details")
	return nil
}

func (a *loggingAgent) CommittedPosition() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committedPosition
}

func (a *loggingAgent) TrackCatchupCompletion(member *election.ClusterMember) {}

type loggingSubscription struct {
	log *logrus.Entry
}

func (s *loggingSubscription) AddReplayDestination(endpoint string) error {
	s.log.WithField("endpoint", endpoint).Debug("subscription: add replay destination")
	return nil
}

func (s *loggingSubscription) AddLiveDestination(endpoint string) error {
	s.log.WithField("endpoint", endpoint).Debug("subscription: add live destination")
	return nil
}

func (s *loggingSubscription) RemoveLiveDestination() error {
	s.log.Debug("subscription: remove live destination")
	return nil
}

func (s *loggingSubscription) IsReplayActive() bool { return true }

func (s *loggingSubscription) Close() error { return nil }

func (c *cluster) Close() {
	for _, e := range c.elections {
		_ = e.Close()
	}
	for _, mf := range c.markFiles {
		_ = mf.Close()
	}
}
