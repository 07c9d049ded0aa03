package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	svcerrors "github.com/R3E-Network/realtime-resource-server/infrastructure/errors"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/httputil"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
	"github.com/R3E-Network/realtime-resource-server/internal/queue"
)

// taskEnqueueRequest is the common envelope every built-in job family
// accepts: the function-specific args plus the optional delay/key knobs
// spec.md §4.3's Enqueue signature exposes to callers.
type taskEnqueueRequest struct {
	Args         interface{} `json:"args"`
	DelaySeconds int         `json:"delay_seconds,omitempty"`
	Key          string      `json:"key,omitempty"`
}

type taskEnqueueResponse struct {
	TaskID string `json:"task_id"`
}

// RegisterTaskRoutes binds POST /tasks/{family}/... for each built-in job
// family (spec.md §4.3's "no special path" families) and GET
// /tasks/{id}/status for polling.
func RegisterTaskRoutes(r *mux.Router, logger *logging.Logger, q *queue.Queue) {
	families := map[string]string{
		"media/thumbnail": queue.FuncMediaThumbnail,
		"media/optimize":  queue.FuncMediaOptimize,
		"email/send":      queue.FuncEmailSend,
		"email/bulk":      queue.FuncEmailBulkSend,
	}

	for path, function := range families {
		function := function // capture
		r.HandleFunc("/tasks/"+path, func(w http.ResponseWriter, req *http.Request) {
			enqueueTask(w, req, logger, q, function)
		}).Methods(http.MethodPost)
	}

	r.HandleFunc("/tasks/{id}/status", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		job, found, err := q.Status(req.Context(), id)
		if err != nil {
			writeServiceError(w, req, logger, err)
			return
		}
		if !found {
			writeServiceError(w, req, logger, svcerrors.NotFound("task", id))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, job)
	}).Methods(http.MethodGet)
}

func enqueueTask(w http.ResponseWriter, r *http.Request, logger *logging.Logger, q *queue.Queue, function string) {
	var req taskEnqueueRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	opts := queue.EnqueueOptions{Key: req.Key}
	if req.DelaySeconds > 0 {
		opts.Delay = time.Duration(req.DelaySeconds) * time.Second
	}

	taskID, err := q.Enqueue(r.Context(), function, req.Args, opts)
	if err != nil {
		writeServiceError(w, r, logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, taskEnqueueResponse{TaskID: taskID})
}
