package plugins

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrdeck/arrdeck/pkg/eventbus"
)

func TestWatcherPublishesManifestChanges(t *testing.T) {
	dir := t.TempDir()
	pluginDir := filepath.Join(dir, "sonarr")
	require.NoError(t, os.MkdirAll(pluginDir, 0755))

	log := testLogger()
	bus := eventbus.New(log)

	changes := make(chan ManifestChange, 8)
	bus.Subscribe(TopicManifestChanged, "test", func(e eventbus.Event) error {
		changes <- e.Payload.(ManifestChange)
		return nil
	})

	watcher, err := NewWatcher([]string{pluginDir}, bus, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		watcher.Run(ctx)
	}()

	manifestPath := filepath.Join(pluginDir, ManifestFile)
	require.NoError(t, os.WriteFile(manifestPath, []byte("name: sonarr\n"), 0644))

	select {
	case change := <-changes:
		assert.Equal(t, pluginDir, change.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for manifest change event")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on context cancellation")
	}
}

func TestWatcherCoversNewDottedDirectories(t *testing.T) {
	root := t.TempDir()
	log := testLogger()
	bus := eventbus.New(log)

	changes := make(chan ManifestChange, 8)
	bus.Subscribe(TopicManifestChanged, "test", func(e eventbus.Event) error {
		changes <- e.Payload.(ManifestChange)
		return nil
	})

	watcher, err := NewWatcher([]string{root}, bus, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Run(ctx)

	// Directory names can legitimately contain dots.
	pluginDir := filepath.Join(root, "sonarr.v2")
	require.NoError(t, os.Mkdir(pluginDir, 0755))

	// Give the watcher a moment to pick up the new directory before the
	// manifest lands in it.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, ManifestFile), []byte("name: sonarr\n"), 0644))

	select {
	case change := <-changes:
		assert.Equal(t, pluginDir, change.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("manifest change in dotted directory was not observed")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	log := testLogger()
	bus := eventbus.New(log)

	changes := make(chan ManifestChange, 8)
	bus.Subscribe(TopicManifestChanged, "test", func(e eventbus.Event) error {
		changes <- e.Payload.(ManifestChange)
		return nil
	})

	watcher, err := NewWatcher([]string{dir}, bus, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	select {
	case change := <-changes:
		t.Fatalf("unexpected manifest change event: %+v", change)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherAllDirsMissing(t *testing.T) {
	log := testLogger()
	bus := eventbus.New(log)

	_, err := NewWatcher([]string{filepath.Join(t.TempDir(), "nope")}, bus, log)
	assert.Error(t, err)
}

func TestWatcherNoDirs(t *testing.T) {
	log := testLogger()
	bus := eventbus.New(log)

	watcher, err := NewWatcher(nil, bus, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, watcher.Run(ctx), context.Canceled)
}
