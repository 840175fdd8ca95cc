// Package observability provides structured logging, Prometheus metrics
// and the debug HTTP endpoint.
//
// # Structured Logging
//
// Create a logger:
//
//	log := observability.NewLogger("info")
//	log.WithField("plugin", "sonarr").Info("Plugin loaded")
//
// # Prometheus Metrics
//
// The core packages expose cheap atomic Stats snapshots; this package
// turns them into Prometheus collectors so the cores never import
// client_golang:
//
//	metrics := observability.NewMetrics(bus, runner, client, registry)
//	http.Handle("/metrics", metrics.Handler())
//
// # Debug Server
//
// DebugServer serves /metrics, /healthz and a JSON plugin status listing
// on a local port for troubleshooting.
package observability
