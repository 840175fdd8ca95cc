package builtin

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
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
	"github.com/arrdeck/arrdeck/pkg/scheduler"
	"github.com/arrdeck/arrdeck/pkg/secrets"
	"github.com/arrdeck/arrdeck/pkg/tasks"
)

func newHost(t *testing.T) (*plugins.Registry, *eventbus.Bus, *config.Store) {
	t.Helper()
	plugins.ClearFactories()
	t.Cleanup(plugins.ClearFactories)
	keyring.MockInit()

	log := logrus.New()
	log.SetOutput(io.Discard)

	store, err := config.Open(filepath.Join(t.TempDir(), "settings.json"), log)
	require.NoError(t, err)

	bus := eventbus.New(log)
	runner := tasks.NewRunner(2, 16, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		runner.Stop(ctx)
	})

	registry := plugins.NewRegistry(plugins.Deps{
		Log:      log,
		Bus:      bus,
		Tasks:    runner,
		Settings: store,
		Secrets:  secrets.NewStore("arrdeck-test", log),
		Client:   apiclient.NewClient(2*time.Second, log),
	})
	return registry, bus, store
}

func TestRegisterBuiltins(t *testing.T) {
	registry, _, _ := newHost(t)

	source, err := Register()
	require.NoError(t, err)

	added, err := registry.Discover(source)
	require.NoError(t, err)
	assert.Equal(t, 8, added)

	all := registry.List(plugins.FilterAll)
	require.Len(t, all, 8)
	assert.Equal(t, "system", all[0].Descriptor.Name, "system tab comes first")

	jellyfin, ok := registry.DescriptorFor("jellyfin")
	require.True(t, ok)
	assert.Equal(t, "Jellyfin", jellyfin.TabLabel)
}

func TestJellyfinPluginUsesEmbyAuthHeader(t *testing.T) {
	registry, _, store := newHost(t)

	headers := make(chan http.Header, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Version":"10.9.0"}`))
	}))
	defer server.Close()

	require.NoError(t, store.Scope("jellyfin").Set("url", server.URL))
	require.NoError(t, keyring.Set("arrdeck-test", "jellyfin", "tok-123"))

	source, err := Register()
	require.NoError(t, err)
	_, err = registry.Discover(source)
	require.NoError(t, err)

	require.NoError(t, registry.Load("jellyfin"))

	select {
	case h := <-headers:
		assert.Equal(t, "tok-123", h.Get("X-Emby-Token"))
		assert.Empty(t, h.Get("X-Api-Key"))
	case <-time.After(5 * time.Second):
		t.Fatal("jellyfin status fetch never reached the service")
	}
}

func TestSystemPluginTracksLifecycle(t *testing.T) {
	registry, bus, _ := newHost(t)

	source, err := Register()
	require.NoError(t, err)
	_, err = registry.Discover(source)
	require.NoError(t, err)

	require.NoError(t, registry.Load("system"))
	require.NoError(t, registry.Load("sonarr"))

	bus.Publish(scheduler.TopicServiceStatus, "scheduler", scheduler.StatusChange{
		Service: "sonarr",
		Healthy: true,
	})

	instance, ok := registry.InstanceFor("system")
	require.True(t, ok)

	rendered := instance.View().Render()
	assert.Contains(t, rendered, "sonarr: active")
	assert.Contains(t, rendered, "(up)")
}

func TestServicePluginUnconfigured(t *testing.T) {
	registry, _, _ := newHost(t)

	source, err := Register()
	require.NoError(t, err)
	_, err = registry.Discover(source)
	require.NoError(t, err)

	require.NoError(t, registry.Load("radarr"))

	instance, ok := registry.InstanceFor("radarr")
	require.True(t, ok)
	assert.Contains(t, instance.View().Render(), "not configured")
}

func TestServicePluginFetchesStatus(t *testing.T) {
	registry, bus, store := newHost(t)

	hits := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version":"4.0.0"}`))
	}))
	defer server.Close()

	require.NoError(t, store.Scope("sonarr").Set("url", server.URL))

	source, err := Register()
	require.NoError(t, err)
	_, err = registry.Discover(source)
	require.NoError(t, err)

	require.NoError(t, registry.Load("sonarr"))

	select {
	case path := <-hits:
		assert.Equal(t, "/api/v3/system/status", path)
	case <-time.After(5 * time.Second):
		t.Fatal("status fetch never reached the service")
	}

	bus.Publish(scheduler.TopicServiceStatus, "scheduler", scheduler.StatusChange{
		Service: "sonarr",
		Healthy: true,
	})

	instance, ok := registry.InstanceFor("sonarr")
	require.True(t, ok)
	assert.Contains(t, instance.View().Render(), "up")
}
