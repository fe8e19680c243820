package procsup

import (
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CleanupTasks are the periodic sweeps scheduler wires up declaratively
// instead of a bare time.Ticker: approval.Handler.CleanupStaleApprovals
// and store.Store.PruneInactiveChannels (spec §4.5/§3). There is no
// in-pack call site to copy this usage from — robfig/cron/v3 appears
// only in go.mod's require block — so the wiring below follows the
// library's own documented API rather than an example file; see
// DESIGN.md for the full note.
type CleanupTasks struct {
	// ApprovalSweepSpec is the cron expression for the stale-approval
	// sweep, e.g. "@every 1m".
	ApprovalSweepSpec string
	ApprovalSweep     func()

	// ChannelPruneSpec is the cron expression for the inactive-channel
	// prune, e.g. "@every 1h".
	ChannelPruneSpec string
	ChannelPrune     func()
}

// Scheduler wraps a cron.Cron, starting/stopping it alongside the
// supervised subprocess.
type Scheduler struct {
	c   *cron.Cron
	log *logrus.Entry
}

// NewScheduler builds a Scheduler and registers tasks, but does not start
// it — call Start.
func NewScheduler(tasks CleanupTasks, log *logrus.Entry) (*Scheduler, error) {
	c := cron.New()

	if tasks.ApprovalSweep != nil {
		if _, err := c.AddFunc(tasks.ApprovalSweepSpec, tasks.ApprovalSweep); err != nil {
			return nil, err
		}
	}
	if tasks.ChannelPrune != nil {
		if _, err := c.AddFunc(tasks.ChannelPruneSpec, tasks.ChannelPrune); err != nil {
			return nil, err
		}
	}

	return &Scheduler{c: c, log: log}, nil
}

// Start runs the scheduler in its own goroutine (cron.Cron.Start already
// does this internally; Start here just makes the call site explicit).
func (s *Scheduler) Start() {
	s.log.Info("procsup: cleanup scheduler started")
	s.c.Start()
}

// Stop drains running jobs and stops scheduling new ones.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}
