package integration

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/arrdeck/arrdeck/pkg/apiclient"
	"github.com/arrdeck/arrdeck/pkg/config"
	"github.com/arrdeck/arrdeck/pkg/eventbus"
	"github.com/arrdeck/arrdeck/pkg/plugins"
	"github.com/arrdeck/arrdeck/pkg/secrets"
	"github.com/arrdeck/arrdeck/pkg/tasks"
)

// queuePlugin is a realistic plugin: it subscribes to events, polls a
// service through the shared client and keeps its own settings.
type queuePlugin struct {
	name     string
	received int
}

func (p *queuePlugin) Name() string        { return p.name }
func (p *queuePlugin) Version() string     { return "1.0.0" }
func (p *queuePlugin) Description() string { return "download queue" }
func (p *queuePlugin) TabLabel() string    { return "Queue" }
func (p *queuePlugin) Icon() string        { return "" }
func (p *queuePlugin) Enabled() bool       { return true }

func (p *queuePlugin) OnLoad(c plugins.Collaborators) error {
	url := c.Settings.GetString("url", "")
	if url == "" {
		return errors.New("url not configured")
	}

	c.Bus.Subscribe("library.updated", p.name, func(eventbus.Event) error {
		p.received++
		return nil
	})

	policy := tasks.DefaultPolicy()
	policy.Retryable = apiclient.IsRetryable

	_, err := c.Tasks.Submit(func(ctx context.Context) (any, error) {
		return c.Client.Get(ctx, apiclient.Request{
			URL:     url + "/api/v3/queue",
			Service: p.name,
		})
	}, policy, p.name)
	return err
}

func (p *queuePlugin) CreateView(plugins.Collaborators) (plugins.View, error) {
	return staticView("Queue"), nil
}

type staticView string

func (v staticView) Title() string  { return string(v) }
func (v staticView) Render() string { return string(v) }

// TestHostLifecycle runs the whole substrate together: manifest discovery,
// load with collaborator injection, a task hitting a fake service, event
// delivery, then unload with full cleanup.
func TestHostLifecycle(t *testing.T) {
	plugins.ClearFactories()
	defer plugins.ClearFactories()
	keyring.MockInit()

	log := logrus.New()
	log.SetOutput(io.Discard)

	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"totalRecords": 3}`))
	}))
	defer service.Close()

	// One plugin on disk, one registered in-process.
	pluginRoot := t.TempDir()
	onDisk := filepath.Join(pluginRoot, "queue")
	require.NoError(t, os.MkdirAll(onDisk, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(onDisk, "plugin.yaml"), []byte(
		"name: queue\nversion: 1.0.0\ntab_label: Queue\n"), 0644))

	queue := &queuePlugin{name: "queue"}
	require.NoError(t, plugins.RegisterFactory("queue", func() (plugins.Plugin, error) {
		return queue, nil
	}))

	store, err := config.Open(filepath.Join(t.TempDir(), "settings.json"), log)
	require.NoError(t, err)
	require.NoError(t, store.Scope("queue").Set("url", service.URL))

	bus := eventbus.New(log)
	runner := tasks.NewRunner(2, 16, log)
	registry := plugins.NewRegistry(plugins.Deps{
		Log:      log,
		Bus:      bus,
		Tasks:    runner,
		Settings: store,
		Secrets:  secrets.NewStore("arrdeck-integration", log),
		Client:   apiclient.NewClient(2*time.Second, log),
	})

	_, err = registry.Discover(plugins.NewDirectorySource([]string{pluginRoot}, log))
	require.NoError(t, err)
	require.NoError(t, registry.LoadAll())

	// The queue fetch task completes through the single completion
	// channel.
	select {
	case c := <-runner.Completions():
		require.Equal(t, tasks.Succeeded, c.Outcome, "queue fetch failed: %v", c.Err)
		assert.Equal(t, "queue", c.Owner)
	case <-time.After(5 * time.Second):
		t.Fatal("queue fetch never completed")
	}

	bus.Publish("library.updated", "test", nil)
	assert.Equal(t, 1, queue.received)

	// Unload severs the subscription.
	require.NoError(t, registry.Unload("queue"))
	bus.Publish("library.updated", "test", nil)
	assert.Equal(t, 1, queue.received)

	// Reload brings it back with the same descriptor.
	require.NoError(t, registry.Load("queue"))
	state, _ := registry.StateFor("queue")
	assert.Equal(t, plugins.StateActive, state)

	select {
	case c := <-runner.Completions():
		assert.Equal(t, tasks.Succeeded, c.Outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("reload fetch never completed")
	}

	registry.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, runner.Stop(ctx))
}

// TestHostFailureVisibility checks that a plugin whose service is down
// loads into Failed without disturbing the rest.
func TestHostFailureVisibility(t *testing.T) {
	plugins.ClearFactories()
	defer plugins.ClearFactories()
	keyring.MockInit()

	log := logrus.New()
	log.SetOutput(io.Discard)

	store, err := config.Open(filepath.Join(t.TempDir(), "settings.json"), log)
	require.NoError(t, err)

	bus := eventbus.New(log)
	runner := tasks.NewRunner(2, 16, log)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		runner.Stop(ctx)
	}()

	registry := plugins.NewRegistry(plugins.Deps{
		Log:      log,
		Bus:      bus,
		Tasks:    runner,
		Settings: store,
		Secrets:  secrets.NewStore("arrdeck-integration", log),
		Client:   apiclient.NewClient(2*time.Second, log),
	})

	// No url in settings makes queue's OnLoad fail.
	require.NoError(t, plugins.RegisterFactory("queue", func() (plugins.Plugin, error) {
		return &queuePlugin{name: "queue"}, nil
	}))

	_, err = registry.Discover(plugins.StaticSource{{
		Name: "queue", Version: "1.0.0", TabLabel: "Queue", Enabled: true,
	}})
	require.NoError(t, err)

	require.Error(t, registry.LoadAll())

	failed := registry.List(plugins.FilterFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Err.Error(), "url not configured")
}
