package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/realtime-resource-server/infrastructure/httputil"
	"github.com/R3E-Network/realtime-resource-server/internal/channel"
)

// RegisterChannelRoutes binds the WebSocket upgrade endpoint and the fabric
// stats endpoint (spec.md §6).
func RegisterChannelRoutes(r *mux.Router, fabric *channel.Fabric) {
	// /ws/stats must be registered before the /ws/{channel} wildcard so it
	// is matched as a literal path rather than a channel name.
	r.HandleFunc("/ws/stats", func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, fabric.Stats())
	}).Methods(http.MethodGet)

	r.HandleFunc("/ws/{channel}", func(w http.ResponseWriter, req *http.Request) {
		kind := mux.Vars(req)["channel"]
		fabric.ServeWS(w, req, kind)
	})
}
