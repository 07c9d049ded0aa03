package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
	"github.com/R3E-Network/realtime-resource-server/internal/queue"
	"github.com/R3E-Network/realtime-resource-server/internal/webhook"
)

type fakeEnqueuer struct{}

func (fakeEnqueuer) Register(name string, fn queue.Func) {}
func (fakeEnqueuer) Enqueue(ctx context.Context, function string, args interface{}, opts queue.EnqueueOptions) (string, error) {
	return "job_1", nil
}
func (fakeEnqueuer) NextBackoff(base time.Duration, attempt int) time.Duration {
	return base
}

func newTestWebhookRouter(t *testing.T) (*mux.Router, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	dispatcher := webhook.New(webhook.Config{DB: sqlxDB, Queue: fakeEnqueuer{}, Logger: logging.New("httpapi-test", "error", "text")})

	r := mux.NewRouter()
	RegisterWebhookRoutes(r, logging.New("httpapi-test", "error", "text"), dispatcher)
	return r, mock
}

func TestCreateSubscription_RejectsEmptyURL(t *testing.T) {
	r, _ := newTestWebhookRouter(t)

	body, _ := json.Marshal(webhook.SubscriptionInput{Events: []string{"user.created"}, Secret: "shh"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/subscriptions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.NotEqual(t, http.StatusCreated, rec.Code)
}

func TestCreateSubscription_RejectsUnknownEvent(t *testing.T) {
	r, _ := newTestWebhookRouter(t)

	body, _ := json.Marshal(webhook.SubscriptionInput{URL: "https://example.com/hook", Events: []string{"not.a.real.event"}, Secret: "shh"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/subscriptions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.NotEqual(t, http.StatusCreated, rec.Code)
}

func TestCreateSubscription_ValidInputInsertsAndReturns201(t *testing.T) {
	r, mock := newTestWebhookRouter(t)
	mock.ExpectExec("INSERT INTO webhook_subscriptions").WillReturnResult(sqlmock.NewResult(0, 1))

	body, _ := json.Marshal(webhook.SubscriptionInput{URL: "https://example.com/hook", Events: []string{"user.created"}, Secret: "shh"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/subscriptions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSubscription_NotFoundReturns404(t *testing.T) {
	r, mock := newTestWebhookRouter(t)
	mock.ExpectExec("DELETE FROM webhook_subscriptions").WillReturnResult(sqlmock.NewResult(0, 0))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/webhooks/subscriptions/sub_missing", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookTest_RejectsEmptyURL(t *testing.T) {
	r, _ := newTestWebhookRouter(t)

	body, _ := json.Marshal(map[string]interface{}{"headers": map[string]string{}})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/test", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.NotEqual(t, http.StatusOK, rec.Code)
}
