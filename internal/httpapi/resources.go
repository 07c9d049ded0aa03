// Package httpapi wires the generic resource engine, channel fabric, webhook
// dispatcher, job queue and rate limiter behind spec.md §6's HTTP surface.
// No kind-specific route logic lives here beyond the adapter methods each
// kind's engine already encapsulates (spec.md §4.1's "no duplication of CRUD
// code" rule extends to the transport layer too).
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	svcerrors "github.com/R3E-Network/realtime-resource-server/infrastructure/errors"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/httputil"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
	"github.com/R3E-Network/realtime-resource-server/internal/filter"
	"github.com/R3E-Network/realtime-resource-server/internal/resource"
)

// RegisterResourceRoutes binds the seven standard spec.md §6 routes for one
// kind — GET /{kind}/, GET /{kind}/{id}, POST /{kind}/, PATCH /{kind}/{id},
// DELETE /{kind}/{id}, POST /{kind}/filter, POST /{kind}/filter/paginated —
// to engine. Called once per registered kind; the generic Engine type
// parameter means this function, not copy-pasted handlers, is what varies
// per kind.
func RegisterResourceRoutes[Input any, Output any](r *mux.Router, logger *logging.Logger, kind string, engine *resource.Engine[Input, Output]) {
	base := "/" + kind
	sub := r.PathPrefix(base).Subrouter()

	sub.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		listResources(w, req, logger, engine)
	}).Methods(http.MethodGet)

	sub.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		createResource(w, req, logger, engine)
	}).Methods(http.MethodPost)

	sub.HandleFunc("/filter", func(w http.ResponseWriter, req *http.Request) {
		filterResources(w, req, logger, engine)
	}).Methods(http.MethodPost)

	sub.HandleFunc("/filter/paginated", func(w http.ResponseWriter, req *http.Request) {
		filterResourcesPaginated(w, req, logger, engine)
	}).Methods(http.MethodPost)

	sub.HandleFunc("/{id}", func(w http.ResponseWriter, req *http.Request) {
		getResource(w, req, logger, engine)
	}).Methods(http.MethodGet)

	sub.HandleFunc("/{id}", func(w http.ResponseWriter, req *http.Request) {
		updateResource(w, req, logger, engine)
	}).Methods(http.MethodPatch)

	sub.HandleFunc("/{id}", func(w http.ResponseWriter, req *http.Request) {
		deleteResource(w, req, logger, engine)
	}).Methods(http.MethodDelete)
}

func pathID(r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

func listResources[Input any, Output any](w http.ResponseWriter, r *http.Request, logger *logging.Logger, engine *resource.Engine[Input, Output]) {
	skip := httputil.QueryInt(r, "skip", 0)
	limit := httputil.QueryInt(r, "limit", 100)
	if limit > 1000 {
		writeServiceError(w, r, logger, svcerrors.OutOfRange("limit", 1, 1000))
		return
	}
	out, err := engine.GetAll(r.Context(), skip, limit)
	if err != nil {
		writeServiceError(w, r, logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func getResource[Input any, Output any](w http.ResponseWriter, r *http.Request, logger *logging.Logger, engine *resource.Engine[Input, Output]) {
	id, ok := pathID(r)
	if !ok {
		writeServiceError(w, r, logger, svcerrors.InvalidInput("id", "must be an integer"))
		return
	}
	out, found, err := engine.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, logger, err)
		return
	}
	if !found {
		writeServiceError(w, r, logger, svcerrors.NotFound(engine.Kind(), strconv.FormatInt(id, 10)))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func createResource[Input any, Output any](w http.ResponseWriter, r *http.Request, logger *logging.Logger, engine *resource.Engine[Input, Output]) {
	var input Input
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	out, err := engine.Create(r.Context(), input, originOption(r)...)
	if err != nil {
		writeServiceError(w, r, logger, err)
		return
	}
	httputil.RespondCreated(w, out)
}

func updateResource[Input any, Output any](w http.ResponseWriter, r *http.Request, logger *logging.Logger, engine *resource.Engine[Input, Output]) {
	id, ok := pathID(r)
	if !ok {
		writeServiceError(w, r, logger, svcerrors.InvalidInput("id", "must be an integer"))
		return
	}
	var partial map[string]interface{}
	if !httputil.DecodeJSON(w, r, &partial) {
		return
	}
	out, found, err := engine.Update(r.Context(), id, partial, originOption(r)...)
	if err != nil {
		writeServiceError(w, r, logger, err)
		return
	}
	if !found {
		writeServiceError(w, r, logger, svcerrors.NotFound(engine.Kind(), strconv.FormatInt(id, 10)))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func deleteResource[Input any, Output any](w http.ResponseWriter, r *http.Request, logger *logging.Logger, engine *resource.Engine[Input, Output]) {
	id, ok := pathID(r)
	if !ok {
		writeServiceError(w, r, logger, svcerrors.InvalidInput("id", "must be an integer"))
		return
	}
	found, err := engine.Delete(r.Context(), id, originOption(r)...)
	if err != nil {
		writeServiceError(w, r, logger, err)
		return
	}
	if !found {
		writeServiceError(w, r, logger, svcerrors.NotFound(engine.Kind(), strconv.FormatInt(id, 10)))
		return
	}
	httputil.RespondNoContent(w)
}

func filterResources[Input any, Output any](w http.ResponseWriter, r *http.Request, logger *logging.Logger, engine *resource.Engine[Input, Output]) {
	var q filter.Query
	if !httputil.DecodeJSON(w, r, &q) {
		return
	}
	out, err := engine.Filter(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func filterResourcesPaginated[Input any, Output any](w http.ResponseWriter, r *http.Request, logger *logging.Logger, engine *resource.Engine[Input, Output]) {
	var q filter.Query
	if !httputil.DecodeJSON(w, r, &q) {
		return
	}
	page, err := engine.FilterPaginated(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// originOption forwards an X-Client-ID header as the mutation's origin
// client id, letting callers that also hold a WebSocket connection suppress
// their own echo (spec.md §4.2's "origin suppression"). Absent header means
// no suppression.
func originOption(r *http.Request) []resource.MutationOption {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return []resource.MutationOption{resource.OriginClientID(id)}
	}
	return nil
}

func writeServiceError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	if logger != nil {
		logger.WithContext(r.Context()).WithError(err).Warn("resource request failed")
	}
	if svcErr := svcerrors.GetServiceError(err); svcErr != nil {
		httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
		return
	}
	httputil.InternalError(w, "internal server error")
}
