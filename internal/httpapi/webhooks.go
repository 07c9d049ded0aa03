package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	svcerrors "github.com/R3E-Network/realtime-resource-server/infrastructure/errors"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/httputil"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
	"github.com/R3E-Network/realtime-resource-server/internal/webhook"
)

const defaultTestTimeout = 10 * time.Second

// RegisterWebhookRoutes binds the webhook subscription/delivery/test
// surface of spec.md §6.
func RegisterWebhookRoutes(r *mux.Router, logger *logging.Logger, dispatcher *webhook.Dispatcher) {
	sub := r.PathPrefix("/webhooks").Subrouter()

	sub.HandleFunc("/subscriptions", func(w http.ResponseWriter, req *http.Request) {
		var input webhook.SubscriptionInput
		if !httputil.DecodeJSON(w, req, &input) {
			return
		}
		created, err := dispatcher.CreateSubscription(req.Context(), input)
		if err != nil {
			writeServiceError(w, req, logger, err)
			return
		}
		httputil.RespondCreated(w, created)
	}).Methods(http.MethodPost)

	sub.HandleFunc("/subscriptions", func(w http.ResponseWriter, req *http.Request) {
		limit := httputil.QueryInt(req, "limit", 100)
		offset := httputil.QueryInt(req, "offset", 0)
		subs, err := dispatcher.ListSubscriptions(req.Context(), limit, offset)
		if err != nil {
			writeServiceError(w, req, logger, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, subs)
	}).Methods(http.MethodGet)

	sub.HandleFunc("/subscriptions/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		var input webhook.SubscriptionInput
		if !httputil.DecodeJSON(w, req, &input) {
			return
		}
		updated, err := dispatcher.UpdateSubscription(req.Context(), id, input)
		if err != nil {
			writeWebhookError(w, req, logger, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, updated)
	}).Methods(http.MethodPatch)

	sub.HandleFunc("/subscriptions/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		found, err := dispatcher.DeleteSubscription(req.Context(), id)
		if err != nil {
			writeWebhookError(w, req, logger, err)
			return
		}
		if !found {
			writeServiceError(w, req, logger, svcerrors.NotFound("webhook_subscription", id))
			return
		}
		httputil.RespondNoContent(w)
	}).Methods(http.MethodDelete)

	sub.HandleFunc("/subscriptions/{id}/stats", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		stats, err := dispatcher.Stats(req.Context(), id)
		if err != nil {
			writeWebhookError(w, req, logger, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, stats)
	}).Methods(http.MethodGet)

	sub.HandleFunc("/deliveries", func(w http.ResponseWriter, req *http.Request) {
		limit := httputil.QueryInt(req, "limit", 100)
		offset := httputil.QueryInt(req, "offset", 0)
		subscriptionID := httputil.QueryString(req, "subscription_id", "")

		var (
			deliveries []webhook.Delivery
			err        error
		)
		if subscriptionID != "" {
			deliveries, err = dispatcher.ListDeliveries(req.Context(), subscriptionID, limit, offset)
		} else {
			deliveries, err = dispatcher.ListAllDeliveries(req.Context(), limit, offset)
		}
		if err != nil {
			writeServiceError(w, req, logger, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, deliveries)
	}).Methods(http.MethodGet)

	sub.HandleFunc("/test", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			URL            string            `json:"url"`
			Headers        map[string]string `json:"headers"`
			TimeoutSeconds int               `json:"timeout_seconds"`
		}
		if !httputil.DecodeJSON(w, req, &body) {
			return
		}
		if body.URL == "" {
			writeServiceError(w, req, logger, svcerrors.InvalidInput("url", "required"))
			return
		}
		timeout := defaultTestTimeout
		if body.TimeoutSeconds > 0 {
			timeout = time.Duration(body.TimeoutSeconds) * time.Second
		}
		result := dispatcher.Test(req.Context(), body.URL, body.Headers, timeout)
		httputil.WriteJSON(w, http.StatusOK, result)
	}).Methods(http.MethodPost)
}

func writeWebhookError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	if errors.Is(err, webhook.ErrSubscriptionNotFound) {
		writeServiceError(w, r, logger, svcerrors.NotFound("webhook_subscription", mux.Vars(r)["id"]))
		return
	}
	writeServiceError(w, r, logger, err)
}
