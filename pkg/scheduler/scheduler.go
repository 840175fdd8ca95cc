// Package scheduler runs periodic service health probes on the task
// runner and publishes status transitions on the event bus.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/arrdeck/arrdeck/pkg/eventbus"
	"github.com/arrdeck/arrdeck/pkg/tasks"
)

// TopicServiceStatus carries a StatusChange payload whenever a probed
// service flips between healthy and unhealthy.
const TopicServiceStatus = "service.status.changed"

// Owner is the task owner name used for all probe submissions, so probe
// tasks can be cancelled in bulk like any plugin's.
const Owner = "scheduler"

// StatusChange is the payload published on TopicServiceStatus.
type StatusChange struct {
	Service   string
	Healthy   bool
	Reason    string
	CheckedAt time.Time
}

// Probe checks one service. A nil return means healthy.
type Probe func(ctx context.Context) error

// Scheduler fires probes on cron schedules. Probes run as tasks on the
// shared runner, so they get the runner's retry and isolation semantics
// and never block the cron loop.
type Scheduler struct {
	cron  *cron.Cron
	bus   *eventbus.Bus
	tasks *tasks.Runner
	log   *logrus.Logger

	mu     sync.Mutex
	health map[string]bool // last observed health per service
}

// New creates a stopped scheduler; call Start to begin firing.
func New(bus *eventbus.Bus, runner *tasks.Runner, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		bus:    bus,
		tasks:  runner,
		log:    log,
		health: make(map[string]bool),
	}
}

// AddProbe schedules probe for service at the given interval. The first
// run happens one interval after Start.
func (s *Scheduler) AddProbe(service string, every time.Duration, probe Probe) (cron.EntryID, error) {
	if every <= 0 {
		return 0, fmt.Errorf("probe interval for %s must be positive", service)
	}
	return s.cron.Schedule(cron.Every(every), cron.FuncJob(func() {
		s.fire(service, probe)
	})), nil
}

// AddCronProbe schedules probe for service using a cron expression
// ("*/5 * * * *" or "@hourly").
func (s *Scheduler) AddCronProbe(service, spec string, probe Probe) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() {
		s.fire(service, probe)
	})
}

// RemoveProbe unschedules a probe. In-flight runs finish normally.
func (s *Scheduler) RemoveProbe(id cron.EntryID) {
	s.cron.Remove(id)
}

// Start begins firing scheduled probes.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and cancels in-flight probe tasks. Blocks until
// running cron jobs return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.tasks.CancelOwned(Owner)
}

// fire submits one probe execution to the runner. The wrapped action
// publishes a status event only when the observed health changed.
func (s *Scheduler) fire(service string, probe Probe) {
	action := func(ctx context.Context) (any, error) {
		err := probe(ctx)
		s.record(service, err)
		return nil, err
	}

	policy := tasks.DefaultPolicy()
	policy.MaxAttempts = 1 // the schedule itself is the retry loop

	if _, err := s.tasks.Submit(action, policy, Owner); err != nil {
		s.log.WithError(err).WithField("service", service).Warn("Could not submit status probe")
	}
}

func (s *Scheduler) record(service string, probeErr error) {
	healthy := probeErr == nil

	s.mu.Lock()
	last, seen := s.health[service]
	s.health[service] = healthy
	s.mu.Unlock()

	if seen && last == healthy {
		return
	}

	change := StatusChange{
		Service:   service,
		Healthy:   healthy,
		CheckedAt: time.Now().UTC(),
	}
	if probeErr != nil {
		change.Reason = probeErr.Error()
	}

	s.log.WithFields(logrus.Fields{
		"service": service,
		"healthy": healthy,
	}).Info("Service status changed")

	s.bus.Publish(TopicServiceStatus, Owner, change)
}

// Healthy reports the last observed health for service. The second return
// is false until the first probe completes.
func (s *Scheduler) Healthy(service string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.health[service]
	return h, ok
}
