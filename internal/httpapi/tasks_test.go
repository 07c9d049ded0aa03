package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/store"
	"github.com/R3E-Network/realtime-resource-server/internal/queue"
)

func newTestTaskRouter(t *testing.T) *mux.Router {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewFromClient(client, logging.New("httpapi-test", "error", "text"))
	q := queue.New(queue.Config{Store: s, Logger: logging.New("httpapi-test", "error", "text")})

	r := mux.NewRouter()
	RegisterTaskRoutes(r, logging.New("httpapi-test", "error", "text"), q)
	return r
}

func TestEnqueueTask_AcceptsAndReturnsTaskID(t *testing.T) {
	r := newTestTaskRouter(t)

	body, _ := json.Marshal(map[string]interface{}{"args": map[string]interface{}{"to": "a@example.com", "subject": "hi", "body": "x"}})
	req := httptest.NewRequest(http.MethodPost, "/tasks/email/send", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp taskEnqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.TaskID)
}

func TestTaskStatus_UnknownIDReturns404(t *testing.T) {
	r := newTestTaskRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/job_does-not-exist/status", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskStatus_KnownIDReturnsJob(t *testing.T) {
	r := newTestTaskRouter(t)

	body, _ := json.Marshal(map[string]interface{}{"args": map[string]interface{}{}})
	createReq := httptest.NewRequest(http.MethodPost, "/tasks/media/thumbnail", bytes.NewReader(body))
	createRec := httptest.NewRecorder()
	r.ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusAccepted, createRec.Code)

	var created taskEnqueueResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	statusRec := httptest.NewRecorder()
	r.ServeHTTP(statusRec, httptest.NewRequest(http.MethodGet, "/tasks/"+created.TaskID+"/status", nil))
	require.Equal(t, http.StatusOK, statusRec.Code)
	require.Contains(t, statusRec.Body.String(), `"queued"`)
}
