package plugins

import "fmt"

// Instance is a live plugin bound to its injected collaborators. Exactly
// one instance exists per enabled descriptor at any time; the registry
// destroys it on unload, reload and shutdown.
type Instance struct {
	plugin    Plugin
	collab    Collaborators
	view      View
	viewBuilt bool
	destroyed bool
}

// Plugin returns the live plugin.
func (i *Instance) Plugin() Plugin { return i.plugin }

// View returns the presentation surface built during load.
func (i *Instance) View() View { return i.view }

// createView enforces the at-most-once CreateView contract.
func (i *Instance) createView() error {
	if i.destroyed {
		return fmt.Errorf("%w: CreateView on destroyed instance of %s",
			ErrContractViolation, i.plugin.Name())
	}
	if i.viewBuilt {
		return fmt.Errorf("%w: CreateView called twice on %s",
			ErrContractViolation, i.plugin.Name())
	}
	i.viewBuilt = true

	view, err := i.plugin.CreateView(i.collab)
	if err != nil {
		return err
	}
	i.view = view
	return nil
}

// destroy marks the instance dead. Further contract calls fail.
func (i *Instance) destroy() {
	i.destroyed = true
	i.view = nil
}
