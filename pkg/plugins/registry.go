package plugins

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/arrdeck/arrdeck/pkg/apiclient"
	"github.com/arrdeck/arrdeck/pkg/config"
	"github.com/arrdeck/arrdeck/pkg/eventbus"
	"github.com/arrdeck/arrdeck/pkg/secrets"
	"github.com/arrdeck/arrdeck/pkg/tasks"
)

// Filter selects which plugins List returns.
type Filter int

const (
	FilterAll Filter = iota
	FilterActive
	FilterFailed
)

// Status is one plugin's registry entry as seen by the host.
type Status struct {
	Descriptor Descriptor
	State      State
	Err        error // the load diagnostic when State == StateFailed
}

// Deps are the shared collaborators the registry injects into plugins.
type Deps struct {
	Log      *logrus.Logger
	Bus      *eventbus.Bus
	Tasks    *tasks.Runner
	Settings *config.Store
	Secrets  *secrets.Store
	Client   *apiclient.Client
}

// entry tracks one descriptor through its lifecycle.
type entry struct {
	descriptor Descriptor
	state      State
	instance   *Instance
	loadErr    error
}

// Registry owns the full plugin set and is the single authority for
// lifecycle transitions. Lifecycle mutation must come from one control
// goroutine; the read methods are safe to call concurrently.
type Registry struct {
	deps Deps
	log  *logrus.Logger

	mu      sync.RWMutex
	order   []string // discovery order, determines presentation order
	entries map[string]*entry

	duplicates int
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps) *Registry {
	if deps.Log == nil {
		deps.Log = logrus.New()
	}
	return &Registry{
		deps:    deps,
		log:     deps.Log,
		entries: make(map[string]*entry),
	}
}

// Discover scans a source and records candidate descriptors without
// instantiating. Duplicate names across sources resolve first-discovered-
// wins; each collision is logged as a DuplicatePlugin diagnostic and
// counted, but never fails discovery.
func (r *Registry) Discover(source Source) (int, error) {
	descriptors, err := source.Discover()
	if err != nil {
		return 0, fmt.Errorf("discovery failed: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, d := range descriptors {
		if existing, ok := r.entries[d.Name]; ok {
			r.duplicates++
			r.log.WithFields(logrus.Fields{
				"plugin": d.Name,
				"kept":   existing.descriptor.Source,
				"source": d.Source,
			}).Warnf("%v: %s", ErrDuplicatePlugin, d.Name)
			continue
		}

		r.entries[d.Name] = &entry{descriptor: d, state: StateDiscovered}
		r.order = append(r.order, d.Name)
		added++

		r.log.WithFields(logrus.Fields{
			"plugin":  d.Name,
			"version": d.Version,
			"source":  d.Source,
		}).Debug("Discovered plugin")
	}

	return added, nil
}

// DuplicateCount returns how many name collisions discovery has seen.
func (r *Registry) DuplicateCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.duplicates
}

// Load validates the named descriptor, instantiates the plugin with
// injected collaborators, runs its OnLoad hook and builds its view. On any
// failure the plugin transitions to Failed with a structured diagnostic
// and the error is returned; other plugins are unaffected.
func (r *Registry) Load(name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if e.instance != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, name)
	}
	descriptor := e.descriptor
	r.mu.Unlock()

	if !descriptor.Enabled {
		r.setState(e, StateDisabled, nil)
		return fmt.Errorf("plugin %s is disabled", name)
	}

	// Validation phase: structural checks on the descriptor plus factory
	// resolution.
	if errs := validateDescriptor(descriptor); len(errs) > 0 {
		return r.fail(e, PhaseValidate, fmt.Errorf("%w: %v", ErrMalformedPlugin, errs))
	}
	factory, ok := FactoryFor(descriptor.Impl)
	if !ok {
		return r.fail(e, PhaseValidate,
			fmt.Errorf("%w: no factory registered for impl %q", ErrMalformedPlugin, descriptor.Impl))
	}
	r.setState(e, StateValidated, nil)

	// Construction phase: instantiate and verify the reported identity.
	plugin, err := safeConstruct(factory)
	if err != nil {
		return r.fail(e, PhaseConstruct, err)
	}
	if plugin.Name() != descriptor.Name {
		return r.fail(e, PhaseConstruct,
			fmt.Errorf("%w: factory %q built plugin %q, descriptor says %q",
				ErrMalformedPlugin, descriptor.Impl, plugin.Name(), descriptor.Name))
	}

	instance := &Instance{
		plugin: plugin,
		collab: Collaborators{
			Settings: r.deps.Settings.Scope(name),
			Secrets:  r.deps.Secrets,
			Client:   r.deps.Client,
			Bus:      r.deps.Bus,
			Tasks:    r.deps.Tasks,
			Log:      r.log.WithField("plugin", name),
		},
	}
	r.setState(e, StateInitialized, nil)

	if err := safeOnLoad(plugin, instance.collab); err != nil {
		r.cleanupCollaborators(name)
		return r.fail(e, PhaseOnLoad, err)
	}

	if err := instance.createView(); err != nil {
		r.cleanupCollaborators(name)
		return r.fail(e, PhaseView, err)
	}

	r.mu.Lock()
	e.instance = instance
	e.loadErr = nil
	r.mu.Unlock()
	r.setState(e, StateActive, nil)

	r.log.WithFields(logrus.Fields{
		"plugin":  name,
		"version": descriptor.Version,
	}).Info("Plugin loaded")

	return nil
}

// LoadAll loads every enabled discovered plugin in discovery order. One
// plugin's failure never aborts the batch; the returned error aggregates
// the diagnostics.
func (r *Registry) LoadAll() error {
	r.mu.RLock()
	loadable := make([]string, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		if e.descriptor.Enabled && e.instance == nil {
			loadable = append(loadable, name)
		}
	}
	r.mu.RUnlock()

	var failures []error
	for _, name := range loadable {
		if err := r.Load(name); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("failed to load %d plugins: %v", len(failures), failures)
	}
	return nil
}

// Unload tears the named plugin down: best-effort OnUnload, bulk event
// unsubscription, cancellation of its in-flight tasks, then release of the
// instance. The descriptor stays registered in its discovery position.
func (r *Registry) Unload(name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	instance := e.instance
	state := e.state
	e.instance = nil
	r.mu.Unlock()

	if instance == nil {
		if state == StateFailed {
			// Nothing live to tear down; clear the failure.
			r.setState(e, StateDisabled, nil)
			return nil
		}
		return fmt.Errorf("plugin %s is not loaded", name)
	}

	safeOnUnload(instance.plugin, r.log)
	r.cleanupCollaborators(name)

	instance.destroy()
	r.setState(e, StateDisabled, nil)

	r.log.WithField("plugin", name).Info("Plugin unloaded")
	return nil
}

// Reload unloads (if loaded) and loads again using the original
// descriptor. Works from Active, Disabled and Failed states.
func (r *Registry) Reload(name string) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	var loaded, failed bool
	if ok {
		loaded = e.instance != nil
		failed = e.state == StateFailed
	}
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if loaded {
		if err := r.Unload(name); err != nil {
			return fmt.Errorf("reload of %s failed during unload: %w", name, err)
		}
	} else if failed {
		r.setState(e, StateDisabled, nil)
	}

	return r.Load(name)
}

// Shutdown unloads every live plugin in reverse discovery order and marks
// all entries destroyed.
func (r *Registry) Shutdown() {
	names := r.names()
	for i := len(names) - 1; i >= 0; i-- {
		r.mu.RLock()
		e, ok := r.entries[names[i]]
		live := ok && e.instance != nil
		r.mu.RUnlock()
		if !ok {
			continue
		}
		if live {
			if err := r.Unload(names[i]); err != nil {
				r.log.WithError(err).WithField("plugin", names[i]).Error("Error unloading plugin during shutdown")
			}
		}
		r.setState(e, StateDestroyed, nil)
	}
}

// SetEnabled toggles a descriptor's enabled flag. It does not load or
// unload; the host decides when to act on the new flag.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	e.descriptor.Enabled = enabled
	return nil
}

// List returns plugin statuses matching filter, in discovery order.
// Disabling and re-enabling a plugin never changes its position. Failed
// plugins remain visible under FilterAll and FilterFailed so the host can
// render an error tab.
func (r *Registry) List(filter Filter) []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Status
	for _, name := range r.order {
		e := r.entries[name]
		switch filter {
		case FilterActive:
			if e.state != StateActive {
				continue
			}
		case FilterFailed:
			if e.state != StateFailed {
				continue
			}
		}
		out = append(out, Status{
			Descriptor: e.descriptor,
			State:      e.state,
			Err:        e.loadErr,
		})
	}
	return out
}

// DescriptorFor returns the named descriptor.
func (r *Registry) DescriptorFor(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.descriptor, true
}

// InstanceFor returns the live instance for name, if any.
func (r *Registry) InstanceFor(name string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok || e.instance == nil {
		return nil, false
	}
	return e.instance, true
}

// StateFor returns the lifecycle state for name.
func (r *Registry) StateFor(name string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// fail records a load diagnostic, transitions to Failed and returns the
// structured error.
func (r *Registry) fail(e *entry, phase string, cause error) error {
	r.mu.Lock()
	loadErr := &LoadError{Plugin: e.descriptor.Name, Phase: phase, Cause: cause}
	e.loadErr = loadErr
	r.mu.Unlock()

	r.setState(e, StateFailed, cause)

	r.log.WithError(cause).WithFields(logrus.Fields{
		"plugin": loadErr.Plugin,
		"phase":  phase,
	}).Error("Plugin failed to load")

	return loadErr
}

// setState transitions an entry under the write lock, then publishes the
// change on the reserved lifecycle topic. Publication happens after the
// lock is released so a handler calling back into the registry cannot
// deadlock.
func (r *Registry) setState(e *entry, next State, cause error) {
	r.mu.Lock()
	old := e.state
	if old == next {
		r.mu.Unlock()
		return
	}
	e.state = next
	name := e.descriptor.Name
	r.mu.Unlock()

	if r.deps.Bus != nil {
		r.deps.Bus.Publish(TopicLifecycle, "registry", LifecycleChange{
			Name:     name,
			OldState: old,
			NewState: next,
			Cause:    cause,
		})
	}
}

// cleanupCollaborators severs everything a plugin registered against the
// shared services: bus subscriptions and in-flight tasks.
func (r *Registry) cleanupCollaborators(name string) {
	if r.deps.Bus != nil {
		r.deps.Bus.UnsubscribeAll(name)
	}
	if r.deps.Tasks != nil {
		r.deps.Tasks.CancelOwned(name)
	}
}

func (r *Registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// validateDescriptor applies the manifest's structural rules to any
// descriptor, whatever source produced it.
func validateDescriptor(d Descriptor) []ValidationError {
	enabled := d.Enabled
	m := Manifest{
		Name:        d.Name,
		Version:     d.Version,
		Description: d.Description,
		TabLabel:    d.TabLabel,
		Icon:        d.Icon,
		Enabled:     &enabled,
		Impl:        d.Impl,
	}
	return ValidateManifest(&m)
}

// safeConstruct runs a factory with panic isolation.
func safeConstruct(factory Factory) (plugin Plugin, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin constructor panicked: %v", rec)
		}
	}()
	return factory()
}

// safeOnLoad runs the optional OnLoad hook with panic isolation.
func safeOnLoad(plugin Plugin, collab Collaborators) (err error) {
	loader, ok := plugin.(Loader)
	if !ok {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("OnLoad panicked: %v", rec)
		}
	}()
	return loader.OnLoad(collab)
}

// safeOnUnload runs the optional OnUnload hook. Errors and panics are
// logged, never propagated.
func safeOnUnload(plugin Plugin, log *logrus.Logger) {
	unloader, ok := plugin.(Unloader)
	if !ok {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.WithFields(logrus.Fields{
				"plugin": plugin.Name(),
				"panic":  rec,
			}).Error("OnUnload panicked")
		}
	}()
	if err := unloader.OnUnload(); err != nil {
		log.WithError(err).WithField("plugin", plugin.Name()).Warn("OnUnload failed")
	}
}
