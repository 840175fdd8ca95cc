package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/arrdeck/arrdeck/pkg/plugins"
)

// DebugServer serves metrics, health and plugin status over HTTP on a
// local port. It carries no authentication and must only bind loopback.
type DebugServer struct {
	server *http.Server
	log    *logrus.Logger
}

// pluginStatus is the wire shape of one registry entry.
type pluginStatus struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	State   string `json:"state"`
	Error   string `json:"error,omitempty"`
}

// NewDebugServer wires the debug routes.
func NewDebugServer(addr string, metrics *Metrics, registry *plugins.Registry, log *logrus.Logger) *DebugServer {
	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler()).Methods("GET")
	router.HandleFunc("/healthz", handleHealthz).Methods("GET")
	router.HandleFunc("/api/v1/plugins", handlePlugins(registry)).Methods("GET")

	return &DebugServer{
		server: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *DebugServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.server.Addr).Info("Debug server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func handlePlugins(registry *plugins.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := plugins.FilterAll
		switch r.URL.Query().Get("filter") {
		case "active":
			filter = plugins.FilterActive
		case "failed":
			filter = plugins.FilterFailed
		}

		statuses := registry.List(filter)
		out := make([]pluginStatus, 0, len(statuses))
		for _, s := range statuses {
			item := pluginStatus{
				Name:    s.Descriptor.Name,
				Version: s.Descriptor.Version,
				State:   s.State.String(),
			}
			if s.Err != nil {
				item.Error = s.Err.Error()
			}
			out = append(out, item)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}
