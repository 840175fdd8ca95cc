// Package builtin ships the plugins compiled into the host binary:
// a system overview tab and one tab per supported *arr service.
package builtin

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/arrdeck/arrdeck/pkg/apiclient"
	"github.com/arrdeck/arrdeck/pkg/eventbus"
	"github.com/arrdeck/arrdeck/pkg/plugins"
	"github.com/arrdeck/arrdeck/pkg/scheduler"
	"github.com/arrdeck/arrdeck/pkg/tasks"
)

// Register adds every built-in factory and returns the descriptors for
// registry discovery. Built-ins are discovered before directory plugins
// so their tabs come first.
func Register() (plugins.StaticSource, error) {
	specs := []struct {
		name    string
		label   string
		icon    string
		factory plugins.Factory
	}{
		{"system", "System", "activity", func() (plugins.Plugin, error) {
			return newSystemPlugin(), nil
		}},
		{"sonarr", "Sonarr", "tv", func() (plugins.Plugin, error) {
			return newServicePlugin("sonarr", "Sonarr", "tv", "/api/v3/system/status"), nil
		}},
		{"radarr", "Radarr", "film", func() (plugins.Plugin, error) {
			return newServicePlugin("radarr", "Radarr", "film", "/api/v3/system/status"), nil
		}},
		{"lidarr", "Lidarr", "music", func() (plugins.Plugin, error) {
			return newServicePlugin("lidarr", "Lidarr", "music", "/api/v1/system/status"), nil
		}},
		{"readarr", "Readarr", "book", func() (plugins.Plugin, error) {
			return newServicePlugin("readarr", "Readarr", "book", "/api/v1/system/status"), nil
		}},
		{"prowlarr", "Prowlarr", "search", func() (plugins.Plugin, error) {
			return newServicePlugin("prowlarr", "Prowlarr", "search", "/api/v1/system/status"), nil
		}},
		{"bazarr", "Bazarr", "captions", func() (plugins.Plugin, error) {
			return newServicePlugin("bazarr", "Bazarr", "captions", "/api/system/status"), nil
		}},
		{"jellyfin", "Jellyfin", "play", func() (plugins.Plugin, error) {
			return newServicePlugin("jellyfin", "Jellyfin", "play", "/System/Info"), nil
		}},
	}

	source := make(plugins.StaticSource, 0, len(specs))
	for _, s := range specs {
		if err := plugins.RegisterFactory(s.name, s.factory); err != nil {
			return nil, err
		}
		source = append(source, plugins.Descriptor{
			Name:     s.name,
			Version:  "1.0.0",
			TabLabel: s.label,
			Icon:     s.icon,
			Enabled:  true,
		})
	}
	return source, nil
}

// systemPlugin renders an overview of plugin lifecycle and service health
// driven entirely by bus subscriptions.
type systemPlugin struct {
	mu       sync.Mutex
	statuses map[string]string
	health   map[string]bool
}

func newSystemPlugin() *systemPlugin {
	return &systemPlugin{
		statuses: make(map[string]string),
		health:   make(map[string]bool),
	}
}

func (p *systemPlugin) Name() string        { return "system" }
func (p *systemPlugin) Version() string     { return "1.0.0" }
func (p *systemPlugin) Description() string { return "Host and service overview" }
func (p *systemPlugin) TabLabel() string    { return "System" }
func (p *systemPlugin) Icon() string        { return "activity" }
func (p *systemPlugin) Enabled() bool       { return true }

func (p *systemPlugin) OnLoad(c plugins.Collaborators) error {
	c.Bus.Subscribe(plugins.TopicLifecycle, p.Name(), func(e eventbus.Event) error {
		change, ok := e.Payload.(plugins.LifecycleChange)
		if !ok {
			return fmt.Errorf("unexpected lifecycle payload %T", e.Payload)
		}
		p.mu.Lock()
		p.statuses[change.Name] = change.NewState.String()
		p.mu.Unlock()
		return nil
	})
	c.Bus.Subscribe(scheduler.TopicServiceStatus, p.Name(), func(e eventbus.Event) error {
		change, ok := e.Payload.(scheduler.StatusChange)
		if !ok {
			return fmt.Errorf("unexpected status payload %T", e.Payload)
		}
		p.mu.Lock()
		p.health[change.Service] = change.Healthy
		p.mu.Unlock()
		return nil
	})
	return nil
}

func (p *systemPlugin) CreateView(plugins.Collaborators) (plugins.View, error) {
	return &textView{title: "System", render: p.render}, nil
}

func (p *systemPlugin) render() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.statuses))
	for name := range p.statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		line := fmt.Sprintf("%s: %s", name, p.statuses[name])
		if healthy, ok := p.health[name]; ok {
			if healthy {
				line += " (up)"
			} else {
				line += " (down)"
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// servicePlugin is the shared implementation behind the *arr tabs. It
// polls its service's status endpoint through the shared client, as a
// retried task.
type servicePlugin struct {
	name       string
	label      string
	icon       string
	statusPath string

	mu       sync.Mutex
	lastSeen string
}

func newServicePlugin(name, label, icon, statusPath string) *servicePlugin {
	return &servicePlugin{name: name, label: label, icon: icon, statusPath: statusPath}
}

func (p *servicePlugin) Name() string        { return p.name }
func (p *servicePlugin) Version() string     { return "1.0.0" }
func (p *servicePlugin) Description() string { return p.label + " status and activity" }
func (p *servicePlugin) TabLabel() string    { return p.label }
func (p *servicePlugin) Icon() string        { return p.icon }
func (p *servicePlugin) Enabled() bool       { return true }

func (p *servicePlugin) OnLoad(c plugins.Collaborators) error {
	url := c.Settings.GetString("url", "")
	if url == "" {
		// Not configured yet; the tab renders a setup hint.
		c.Log.Debug("No service URL configured")
		return nil
	}

	apiKey, err := c.Secrets.Get(p.name)
	if err != nil {
		c.Log.WithError(err).Debug("No API key stored")
	}

	action := func(ctx context.Context) (any, error) {
		return c.Client.Do(ctx, apiclient.Request{
			Method:  http.MethodGet,
			URL:     url + p.statusPath,
			Service: p.name,
			APIKey:  apiKey,
		})
	}

	policy := tasks.DefaultPolicy()
	policy.Retryable = apiclient.IsRetryable

	if _, err := c.Tasks.Submit(action, policy, p.name); err != nil {
		return fmt.Errorf("could not submit initial status fetch: %w", err)
	}

	c.Bus.Subscribe(scheduler.TopicServiceStatus, p.name, func(e eventbus.Event) error {
		change, ok := e.Payload.(scheduler.StatusChange)
		if !ok || change.Service != p.name {
			return nil
		}
		p.mu.Lock()
		if change.Healthy {
			p.lastSeen = "up"
		} else {
			p.lastSeen = "down: " + change.Reason
		}
		p.mu.Unlock()
		return nil
	})

	return nil
}

func (p *servicePlugin) OnUnload() error {
	return nil
}

func (p *servicePlugin) CreateView(c plugins.Collaborators) (plugins.View, error) {
	return &textView{title: p.label, render: func() string {
		if c.Settings.GetString("url", "") == "" {
			return p.label + " is not configured. Set its URL in settings."
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.lastSeen == "" {
			return p.label + ": waiting for first status probe"
		}
		return p.label + ": " + p.lastSeen
	}}, nil
}

// textView is the minimal presentation surface built-ins use.
type textView struct {
	title  string
	render func() string
}

func (v *textView) Title() string  { return v.title }
func (v *textView) Render() string { return v.render() }
