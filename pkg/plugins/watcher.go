package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/arrdeck/arrdeck/pkg/eventbus"
)

// ManifestChange is published on TopicManifestChanged when a plugin.yaml
// under a watched directory is written, created or removed.
type ManifestChange struct {
	Path string
	Op   string
}

// Watcher observes plugin directories for manifest edits and publishes
// change notifications on the event bus. It never reloads plugins itself;
// the host decides how to react.
type Watcher struct {
	bus     *eventbus.Bus
	log     *logrus.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching each directory in dirs. Directories that do
// not exist are skipped with a warning so a fresh install with no plugin
// dirs still starts cleanly.
func NewWatcher(dirs []string, bus *eventbus.Bus, log *logrus.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	watched := 0
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			log.WithError(err).WithField("dir", dir).Warn("Cannot watch plugin directory")
			continue
		}
		watched++
	}
	if watched == 0 && len(dirs) > 0 {
		fsw.Close()
		return nil, fmt.Errorf("no plugin directories could be watched")
	}

	return &Watcher{bus: bus, log: log, watcher: fsw}, nil
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("Filesystem watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if filepath.Base(event.Name) != ManifestFile {
		// New plugin directories show up as Create events on the parent;
		// start watching them so their manifests are covered too.
		if event.Op.Has(fsnotify.Create) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.watcher.Add(event.Name); err == nil {
					w.log.WithField("dir", event.Name).Debug("Watching new plugin directory")
				}
			}
		}
		return
	}

	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Remove) {
		return
	}

	w.log.WithFields(logrus.Fields{
		"path": event.Name,
		"op":   event.Op.String(),
	}).Debug("Plugin manifest changed")

	w.bus.Publish(TopicManifestChanged, "watcher", ManifestChange{
		Path: filepath.Dir(event.Name),
		Op:   event.Op.String(),
	})
}
