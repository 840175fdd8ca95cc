// Package apiclient is the shared REST helper plugins use to talk to their
// backing services (Sonarr, Radarr, Jellyfin, ...).
//
// # Overview
//
// The client handles per-service authentication headers, JSON decoding and
// failure classification. Plugins run calls inside task runner actions, so
// the client never does its own retrying — it classifies instead:
// IsRetryable reports whether a failure is transient (network error, 5xx,
// 429) or terminal (other 4xx), which feeds the task policy's classifier.
//
// # Authentication
//
// Jellyfin authenticates with the X-Emby-Token header; every *arr service
// uses X-Api-Key.
//
// # Caching
//
// GET responses are cached in a small expirable LRU keyed by the full
// request URL, so dashboard refreshes do not hammer the services.
package apiclient
