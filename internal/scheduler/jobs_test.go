package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/croupier/internal/domain"
	"github.com/aristath/croupier/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reachabilityClient struct {
	domain.PredictorClient
	reachable bool
}

func (c *reachabilityClient) IsReachable(context.Context) bool { return c.reachable }

func TestHealthMonitorPublishesOnlyTransitions(t *testing.T) {
	client := &reachabilityClient{reachable: true}
	bus := events.NewBus(zerolog.Nop())
	monitor := NewHealthMonitor(client, bus, zerolog.Nop())

	ch, unsub := bus.Subscribe(8)
	defer unsub()

	// First poll always publishes the initial state.
	require.NoError(t, monitor.Run(context.Background()))
	event := <-ch
	data, ok := event.Data.(*events.BackendStatusChangedData)
	require.True(t, ok)
	assert.True(t, data.Reachable)
	assert.True(t, monitor.Reachable())

	// Same state again: nothing published.
	require.NoError(t, monitor.Run(context.Background()))
	assert.Len(t, ch, 0)

	// Backend goes down: one transition event.
	client.reachable = false
	require.NoError(t, monitor.Run(context.Background()))
	event = <-ch
	data, ok = event.Data.(*events.BackendStatusChangedData)
	require.True(t, ok)
	assert.False(t, data.Reachable)
	assert.False(t, monitor.Reachable())
}

type fakePruner struct {
	cutoff time.Time
	calls  int
}

func (f *fakePruner) PruneClosedBefore(cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	f.calls++
	return 2, nil
}

func TestJanitorJobUsesRetentionWindow(t *testing.T) {
	pruner := &fakePruner{}
	job := NewJanitorJob(pruner, 30, zerolog.Nop())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, pruner.calls)

	expected := time.Now().AddDate(0, 0, -30)
	assert.WithinDuration(t, expected, pruner.cutoff, time.Minute)
}

func TestJanitorJobDisabledWithZeroRetention(t *testing.T) {
	pruner := &fakePruner{}
	job := NewJanitorJob(pruner, 0, zerolog.Nop())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 0, pruner.calls)
}

func TestSchedulerRunsJobs(t *testing.T) {
	sched := New(zerolog.Nop())

	ran := make(chan struct{}, 1)
	err := sched.AddJob("tick", "@every 1s", func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})
	require.NoError(t, err)

	sched.Start()
	defer sched.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job never ran")
	}
}

func TestAddJobRejectsBadSpec(t *testing.T) {
	sched := New(zerolog.Nop())
	err := sched.AddJob("broken", "not a cron spec", func(context.Context) error { return nil })
	assert.Error(t, err)
}
