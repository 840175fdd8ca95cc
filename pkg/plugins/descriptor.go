package plugins

import "fmt"

// State is a plugin instance's lifecycle state. Transitions are monotonic
// except Disabled/Failed -> Initialized on an explicit reload.
type State int

const (
	StateDiscovered State = iota
	StateValidated
	StateInitialized
	StateActive
	StateDisabled
	StateFailed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateValidated:
		return "validated"
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	case StateDisabled:
		return "disabled"
	case StateFailed:
		return "failed"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Descriptor is the identity metadata of a discovered plugin. Immutable
// after discovery except the Enabled flag, which the registry toggles on
// user request.
type Descriptor struct {
	Name        string
	Version     string
	Description string
	TabLabel    string
	Icon        string
	Enabled     bool

	// Impl names the registered factory backing this descriptor.
	Impl string

	// Source records where the descriptor was discovered (directory path
	// or "registration").
	Source string
}

// Reserved event topics emitted by the registry and the watcher.
const (
	// TopicLifecycle carries a LifecycleChange payload for every state
	// transition.
	TopicLifecycle = "plugin.lifecycle"

	// TopicManifestChanged carries the plugin directory that changed on
	// disk, so the host can trigger a reload.
	TopicManifestChanged = "plugin.manifest.changed"
)

// LifecycleChange is the payload published on TopicLifecycle.
type LifecycleChange struct {
	Name     string
	OldState State
	NewState State
	Cause    error
}
