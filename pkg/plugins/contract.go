package plugins

import (
	"github.com/sirupsen/logrus"

	"github.com/arrdeck/arrdeck/pkg/apiclient"
	"github.com/arrdeck/arrdeck/pkg/config"
	"github.com/arrdeck/arrdeck/pkg/eventbus"
	"github.com/arrdeck/arrdeck/pkg/secrets"
	"github.com/arrdeck/arrdeck/pkg/tasks"
)

// Plugin is the capability surface every service module must expose.
type Plugin interface {
	// Name returns the unique plugin name (e.g. "sonarr").
	Name() string

	// Version returns the plugin's semantic version string.
	Version() string

	// Description returns a short human description.
	Description() string

	// TabLabel returns the text shown on the plugin's tab.
	TabLabel() string

	// Icon returns an optional icon glyph for the tab. May be empty.
	Icon() string

	// Enabled reports whether the plugin wants to be loaded.
	Enabled() bool

	// CreateView builds the plugin's presentation surface. The registry
	// calls it at most once per instance; a second call is a contract
	// violation.
	CreateView(Collaborators) (View, error)
}

// Loader is the optional hook invoked after collaborators are injected and
// before the plugin becomes active.
type Loader interface {
	OnLoad(Collaborators) error
}

// Unloader is the optional hook invoked before teardown. Errors are logged,
// never propagated.
type Unloader interface {
	OnUnload() error
}

// View is a plugin's presentation surface. The real widget tree lives in
// the host's UI layer; the core only needs an addressable surface to hand
// over.
type View interface {
	// Title returns the view's display title.
	Title() string

	// Render returns the view's current textual representation.
	Render() string
}

// Collaborators are the shared services injected into every plugin
// instance. Settings is scoped to the plugin's own namespace.
type Collaborators struct {
	Settings *config.Scope
	Secrets  *secrets.Store
	Client   *apiclient.Client
	Bus      *eventbus.Bus
	Tasks    *tasks.Runner
	Log      *logrus.Entry
}

// Factory constructs a plugin instance. Registered factories are looked up
// by implementation name during Load.
type Factory func() (Plugin, error)
