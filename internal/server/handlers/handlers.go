// Package handlers implements the JSON API over the job-instance engine.
//
// Handlers are thin: they translate HTTP requests into engine calls and
// engine errors into the stable error contract. All engine state lives in the
// catalog, the instance store, and the runner passed in at construction.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/matiasb/jaime/pkg/catalog"
	"github.com/matiasb/jaime/pkg/instance"
	"github.com/matiasb/jaime/pkg/runner"
)

// Version is the reported build version, overridable at link time.
var Version = "dev"

// Handlers serves the API endpoints.
type Handlers struct {
	catalog    *catalog.Catalog
	store      *instance.Store
	runner     *runner.Runner
	runTimeout time.Duration
	logger     *zap.Logger
}

// New wires the API handlers over the engine components.
func New(cat *catalog.Catalog, store *instance.Store, run *runner.Runner, runTimeout time.Duration, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		catalog:    cat,
		store:      store,
		runner:     run,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetVersion reports the build version.
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
