package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/arrdeck/arrdeck/pkg/apiclient"
	"github.com/arrdeck/arrdeck/pkg/config"
	"github.com/arrdeck/arrdeck/pkg/eventbus"
	"github.com/arrdeck/arrdeck/pkg/observability"
	"github.com/arrdeck/arrdeck/pkg/plugins"
	"github.com/arrdeck/arrdeck/pkg/plugins/builtin"
	"github.com/arrdeck/arrdeck/pkg/scheduler"
	"github.com/arrdeck/arrdeck/pkg/secrets"
	"github.com/arrdeck/arrdeck/pkg/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	log := observability.NewLogger(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("arrdeck exited with error")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	store, err := config.Open(cfg.SettingsPath, log)
	if err != nil {
		return err
	}

	secretStore := secrets.NewStore(secrets.ServiceName, log)
	client := apiclient.NewClient(30*time.Second, log)
	bus := eventbus.New(log)
	runner := tasks.NewRunner(cfg.TaskWorkers, cfg.TaskQueueSize, log)

	registry := plugins.NewRegistry(plugins.Deps{
		Log:      log,
		Bus:      bus,
		Tasks:    runner,
		Settings: store,
		Secrets:  secretStore,
		Client:   client,
	})

	// Built-ins discover first so their tabs lead; directory plugins
	// follow in walk order.
	builtins, err := builtin.Register()
	if err != nil {
		return err
	}
	if _, err := registry.Discover(builtins); err != nil {
		return err
	}

	source := plugins.NewDirectorySource(cfg.PluginDirs, log)
	discovered, err := registry.Discover(source)
	if err != nil {
		return err
	}
	log.WithField("count", discovered).Info("Plugin discovery complete")

	if err := registry.LoadAll(); err != nil {
		// Failed plugins stay visible in the listing; the host keeps
		// running with whatever loaded.
		log.WithError(err).Warn("Some plugins failed to load")
	}

	var tabs []string
	for _, status := range registry.List(plugins.FilterActive) {
		tabs = append(tabs, status.Descriptor.TabLabel)
	}
	log.WithField("tabs", strings.Join(tabs, ", ")).Info("Tab order")

	sched := scheduler.New(bus, runner, log)
	registerProbes(sched, registry, store, secretStore, client, cfg.StatusInterval, log)
	sched.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Completions drain outside the errgroup: the channel closes only
	// after runner.Stop, which runs after the group is done.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for c := range runner.Completions() {
			logCompletion(log, c)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runWatcher(gctx, cfg.PluginDirs, bus, registry, log)
	})

	if cfg.DebugAddr != "" {
		metrics := observability.NewMetrics(bus, runner, client, registry)
		debug := observability.NewDebugServer(cfg.DebugAddr, metrics, registry, log)
		g.Go(func() error {
			return debug.Run(gctx)
		})
	}

	log.Info("arrdeck started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Component failed")
	}

	log.Info("Shutting down")
	sched.Stop()
	registry.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runner.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("Task runner did not drain in time")
	}
	<-drained

	log.Info("Shutdown complete")
	return nil
}

// runWatcher reacts to manifest edits by reloading the affected plugin.
// Reloads run here, on the same goroutine that handles every lifecycle
// mutation after startup.
func runWatcher(ctx context.Context, dirs []string, bus *eventbus.Bus, registry *plugins.Registry, log *logrus.Logger) error {
	watcher, err := plugins.NewWatcher(dirs, bus, log)
	if err != nil {
		log.WithError(err).Warn("Manifest watching disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	reloads := make(chan string, 16)
	sub := bus.Subscribe(plugins.TopicManifestChanged, "host", func(e eventbus.Event) error {
		change := e.Payload.(plugins.ManifestChange)
		for _, status := range registry.List(plugins.FilterAll) {
			if status.Descriptor.Source == change.Path {
				select {
				case reloads <- status.Descriptor.Name:
				default:
				}
				break
			}
		}
		return nil
	})
	defer bus.Unsubscribe(sub)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case name := <-reloads:
				if err := registry.Reload(name); err != nil {
					log.WithError(err).WithField("plugin", name).Warn("Reload failed")
				}
			}
		}
	}()

	return watcher.Run(ctx)
}

// registerProbes schedules a status probe for every active plugin that has
// a service URL configured.
func registerProbes(sched *scheduler.Scheduler, registry *plugins.Registry, store *config.Store,
	secretStore *secrets.Store, client *apiclient.Client, interval time.Duration, log *logrus.Logger) {

	for _, status := range registry.List(plugins.FilterActive) {
		name := status.Descriptor.Name
		scope := store.Scope(name)

		url := scope.GetString("url", "")
		if url == "" {
			continue
		}

		apiKey, err := secretStore.Get(name)
		if err != nil && !errors.Is(err, secrets.ErrNotFound) {
			log.WithError(err).WithField("plugin", name).Warn("Could not read API key")
		}

		probe := func(ctx context.Context) error {
			_, err := client.Do(ctx, apiclient.Request{
				Method:  http.MethodGet,
				URL:     url,
				Service: name,
				APIKey:  apiKey,
				NoCache: true,
			})
			return err
		}

		if _, err := sched.AddProbe(name, interval, probe); err != nil {
			log.WithError(err).WithField("plugin", name).Warn("Could not schedule status probe")
			continue
		}
		log.WithFields(logrus.Fields{
			"plugin":   name,
			"interval": interval,
		}).Debug("Status probe scheduled")
	}
}

func logCompletion(log *logrus.Logger, c tasks.Completion) {
	fields := logrus.Fields{
		"task":     c.TaskID,
		"owner":    c.Owner,
		"attempts": c.Attempts,
	}
	switch c.Outcome {
	case tasks.Succeeded:
		log.WithFields(fields).Debug("Task completed")
	case tasks.Cancelled:
		log.WithFields(fields).Debug("Task cancelled")
	default:
		log.WithError(c.Err).WithFields(fields).Warn("Task failed")
	}
}
