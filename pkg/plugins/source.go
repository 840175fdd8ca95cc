package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// factories is the package-level registry of plugin constructors,
	// keyed by implementation name. Manifests reference an entry via
	// their impl field; built-ins register at startup.
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory adds a plugin constructor under name. Registering the
// same name twice is an error.
func RegisterFactory(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("cannot register factory with empty name")
	}
	if factory == nil {
		return fmt.Errorf("cannot register nil factory for %s", name)
	}

	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if _, exists := factories[name]; exists {
		return fmt.Errorf("factory already registered: %s", name)
	}
	factories[name] = factory
	return nil
}

// FactoryFor returns the registered constructor for an implementation
// name.
func FactoryFor(name string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// ClearFactories removes all registered factories.
func ClearFactories() {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories = make(map[string]Factory)
}

// Source yields candidate plugin descriptors. Discovery never
// instantiates.
type Source interface {
	Discover() ([]Descriptor, error)
}

// DirectorySource scans directories for plugin subdirectories carrying a
// plugin.yaml manifest.
type DirectorySource struct {
	dirs []string
	log  *logrus.Logger
}

// NewDirectorySource creates a source scanning dirs in order.
func NewDirectorySource(dirs []string, log *logrus.Logger) *DirectorySource {
	if log == nil {
		log = logrus.New()
	}
	return &DirectorySource{dirs: dirs, log: log}
}

// Discover returns a descriptor per readable manifest, in directory walk
// order. Unreadable or unparseable manifests are logged and skipped;
// structural validation happens at load time.
func (s *DirectorySource) Discover() ([]Descriptor, error) {
	var descriptors []Descriptor

	for _, dir := range s.dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			s.log.WithField("dir", dir).Debug("Plugin directory does not exist")
			continue
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			s.log.WithError(err).WithField("dir", dir).Warn("Failed to read plugin directory")
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			pluginDir := filepath.Join(dir, entry.Name())
			manifest, err := LoadManifestFromDir(pluginDir)
			if err != nil {
				s.log.WithError(err).WithField("dir", pluginDir).Warn("Failed to load plugin manifest")
				continue
			}

			descriptors = append(descriptors, manifest.Descriptor(pluginDir))
		}
	}

	return descriptors, nil
}

// StaticSource yields an explicit descriptor list, used for built-in
// registrations.
type StaticSource []Descriptor

// Discover returns the descriptors as given.
func (s StaticSource) Discover() ([]Descriptor, error) {
	out := make([]Descriptor, len(s))
	copy(out, s)
	for i := range out {
		if out[i].Impl == "" {
			out[i].Impl = out[i].Name
		}
		if out[i].Source == "" {
			out[i].Source = "registration"
		}
	}
	return out, nil
}
