package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	svcerrors "github.com/R3E-Network/realtime-resource-server/infrastructure/errors"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/httputil"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
	"github.com/R3E-Network/realtime-resource-server/internal/kinds"
)

// RegisterPostRoutes adds the one added domain method spec.md §4.1 calls
// out by name (get_posts_by_user) on top of the seven standard routes
// RegisterResourceRoutes already binds for "posts".
func RegisterPostRoutes(r *mux.Router, logger *logging.Logger, svc *kinds.PostService) {
	r.HandleFunc("/posts/by-author/{author_id}", func(w http.ResponseWriter, req *http.Request) {
		authorID, err := strconv.ParseInt(mux.Vars(req)["author_id"], 10, 64)
		if err != nil {
			writeServiceError(w, req, logger, svcerrors.InvalidInput("author_id", "must be an integer"))
			return
		}
		limit := httputil.QueryInt(req, "limit", 100)
		offset := httputil.QueryInt(req, "offset", 0)

		page, err := svc.GetByAuthor(req.Context(), authorID, limit, offset)
		if err != nil {
			writeServiceError(w, req, logger, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, page)
	}).Methods(http.MethodGet)
}
