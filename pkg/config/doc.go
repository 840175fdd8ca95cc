// Package config provides host configuration and the persistent settings
// store injected into plugins.
//
// # Host Configuration
//
// Config is loaded from ARRDECK_* environment variables with sensible
// defaults:
//
//	ARRDECK_PLUGIN_DIRS="~/.arrdeck/plugins:/etc/arrdeck/plugins"
//	ARRDECK_SETTINGS_PATH="~/.arrdeck/settings.json"
//	ARRDECK_TASK_WORKERS="4"
//	ARRDECK_TASK_QUEUE_SIZE="64"
//	ARRDECK_STATUS_INTERVAL="30s"
//	ARRDECK_DEBUG_ADDR="127.0.0.1:9090"
//	ARRDECK_LOG_LEVEL="info"
//
// # Settings Store
//
// Store persists a single JSON document of plugin-scoped key/value settings.
// Plugins read and write through a Scope bound to their own namespace;
// addressing another namespace fails with ErrAccessDenied. Values round-trip
// through JSON, so numbers come back as float64 and objects as
// map[string]any.
package config
