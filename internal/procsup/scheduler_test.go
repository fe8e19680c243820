package procsup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsRegisteredTasks(t *testing.T) {
	approvalRuns := make(chan struct{}, 10)
	pruneRuns := make(chan struct{}, 10)

	sched, err := NewScheduler(CleanupTasks{
		ApprovalSweepSpec: "@every 20ms",
		ApprovalSweep:     func() { approvalRuns <- struct{}{} },
		ChannelPruneSpec:  "@every 20ms",
		ChannelPrune:      func() { pruneRuns <- struct{}{} },
	}, testLog())
	require.NoError(t, err)

	sched.Start()
	defer sched.Stop()

	select {
	case <-approvalRuns:
	case <-time.After(2 * time.Second):
		t.Fatal("approval sweep never ran")
	}
	select {
	case <-pruneRuns:
	case <-time.After(2 * time.Second):
		t.Fatal("channel prune never ran")
	}
}

func TestSchedulerRejectsInvalidSpec(t *testing.T) {
	_, err := NewScheduler(CleanupTasks{
		ApprovalSweepSpec: "not-a-cron-spec",
		ApprovalSweep:     func() {},
	}, testLog())
	assert.Error(t, err)
}
