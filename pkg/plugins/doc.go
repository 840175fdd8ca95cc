// Package plugins provides the plugin contract, discovery and lifecycle
// management for the dashboard's service modules.
//
// # Overview
//
// Every media service (Sonarr, Radarr, Jellyfin, ...) is a self-contained
// plugin satisfying the Plugin interface. The Registry discovers candidate
// plugins from manifest directories and explicit registrations, validates
// them, instantiates them with injected collaborators (scoped settings,
// secret store, REST client, event bus, task runner) and owns every
// lifecycle transition.
//
// # Lifecycle
//
// Discovered -> Validated -> Initialized -> Active -> (Disabled | Failed)
// -> Destroyed. Disabled and Failed plugins return to Initialized on an
// explicit Reload. Every transition is published on the reserved
// TopicLifecycle event topic.
//
// # Fault Isolation
//
// A plugin failing validation or OnLoad transitions to Failed with a
// structured diagnostic and never aborts loading of the other plugins.
// Failed plugins stay visible in List so the host can render an error tab.
//
// # Concurrency
//
// Lifecycle operations (Load, Unload, Reload) are designed for a single
// control goroutine; callers must serialize them. List and the lookup
// methods are safe to call concurrently with each other.
package plugins
