package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/realtime-resource-server/infrastructure/httputil"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
	"github.com/R3E-Network/realtime-resource-server/internal/channel"
)

// WelcomeInfo is the body of GET / (spec.md §6's "welcome metadata").
type WelcomeInfo struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Kinds        []string          `json:"kinds"`
	Descriptions map[string]string `json:"kind_descriptions,omitempty"`
}

// RegisterRootRoutes binds GET / and GET /health, the two routes that exist
// outside any kind or subsystem.
func RegisterRootRoutes(r *mux.Router, info WelcomeInfo) {
	r.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, info)
	}).Methods(http.MethodGet)

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
}

// NewRouter constructs the application's gorilla/mux router with every
// subsystem's routes wired in. logger is threaded through for per-request
// error logging; the caller layers infrastructure/middleware on top.
func NewRouter(logger *logging.Logger, fabric *channel.Fabric, info WelcomeInfo) *mux.Router {
	r := mux.NewRouter()
	RegisterRootRoutes(r, info)
	RegisterChannelRoutes(r, fabric)
	return r
}
