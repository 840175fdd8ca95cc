package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrdeck/arrdeck/pkg/eventbus"
	"github.com/arrdeck/arrdeck/pkg/tasks"
)

func newScheduler(t *testing.T) (*Scheduler, *eventbus.Bus, *tasks.Runner) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	bus := eventbus.New(log)
	runner := tasks.NewRunner(2, 16, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		runner.Stop(ctx)
	})

	return New(bus, runner, log), bus, runner
}

func collectChanges(bus *eventbus.Bus) (<-chan StatusChange, func()) {
	ch := make(chan StatusChange, 16)
	sub := bus.Subscribe(TopicServiceStatus, "test", func(e eventbus.Event) error {
		ch <- e.Payload.(StatusChange)
		return nil
	})
	return ch, func() { bus.Unsubscribe(sub) }
}

func waitChange(t *testing.T, ch <-chan StatusChange) StatusChange {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for status change")
		return StatusChange{}
	}
}

func TestProbePublishesOnTransitionOnly(t *testing.T) {
	sched, bus, _ := newScheduler(t)
	changes, stop := collectChanges(bus)
	defer stop()

	var mu sync.Mutex
	fail := false

	probe := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return errors.New("connection refused")
		}
		return nil
	}

	// Drive fire directly; cron timing is not what's under test.
	sched.fire("sonarr", probe)
	change := waitChange(t, changes)
	assert.Equal(t, "sonarr", change.Service)
	assert.True(t, change.Healthy)

	// Same health again: no event.
	sched.fire("sonarr", probe)
	select {
	case c := <-changes:
		t.Fatalf("unexpected status change: %+v", c)
	case <-time.After(200 * time.Millisecond):
	}

	mu.Lock()
	fail = true
	mu.Unlock()

	sched.fire("sonarr", probe)
	change = waitChange(t, changes)
	assert.False(t, change.Healthy)
	assert.Equal(t, "connection refused", change.Reason)

	healthy, seen := sched.Healthy("sonarr")
	assert.True(t, seen)
	assert.False(t, healthy)
}

func TestScheduledProbeFires(t *testing.T) {
	sched, bus, _ := newScheduler(t)
	changes, stop := collectChanges(bus)
	defer stop()

	_, err := sched.AddProbe("radarr", time.Second, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)

	sched.Start()
	defer sched.Stop()

	change := waitChange(t, changes)
	assert.Equal(t, "radarr", change.Service)
	assert.True(t, change.Healthy)
}

func TestAddProbeValidation(t *testing.T) {
	sched, _, _ := newScheduler(t)

	_, err := sched.AddProbe("bad", 0, func(context.Context) error { return nil })
	assert.Error(t, err)

	_, err = sched.AddCronProbe("bad", "not a cron spec", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestRemoveProbe(t *testing.T) {
	sched, bus, _ := newScheduler(t)
	changes, stop := collectChanges(bus)
	defer stop()

	id, err := sched.AddProbe("lidarr", time.Second, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
	sched.RemoveProbe(id)

	sched.Start()
	defer sched.Stop()

	select {
	case c := <-changes:
		t.Fatalf("removed probe still fired: %+v", c)
	case <-time.After(1500 * time.Millisecond):
	}
}
