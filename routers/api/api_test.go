package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ReelStudio-server/credential"
	"ReelStudio-server/models"
	"ReelStudio-server/routers"
	"ReelStudio-server/routers/api"
	"ReelStudio-server/service"
)

type fakeQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *fakeQueue) Enqueue(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, taskID)
	return nil
}

type env struct {
	db      *gorm.DB
	creds   *credential.Static
	queue   *fakeQueue
	handler *api.Handler
	router  *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.Migrate(db))

	e := &env{db: db, creds: credential.NewStatic("key"), queue: &fakeQueue{}}
	e.handler = &api.Handler{
		DB:          db,
		Credentials: e.creds,
		Queue:       e.queue,
		Cancels:     service.NewPollCancelRegistry(),
		Hub:         service.NewProgressHub(8),
		Logger:      zerolog.Nop(),
		WSRefresh:   10 * time.Millisecond,
	}
	e.router = routers.InitRouter(e.handler, zerolog.Nop(), prometheus.NewRegistry())
	return e
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (e *env) createTask(t *testing.T, status string) *models.GenerationTask {
	t.Helper()
	task := &models.GenerationTask{ID: uuid.NewString(), Kind: "video", Prompt: "p", Status: status}
	require.NoError(t, models.CreateTask(e.db, task))
	return task
}

func TestCreateGeneration(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/v1/api/generations", map[string]string{"kind": "video", "prompt": "a cat surfing"})
	require.Equal(t, http.StatusAccepted, w.Code)

	id, _ := decode(t, w)["task_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, []string{id}, e.queue.ids)

	task, err := models.GetTaskByID(e.db, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, "video", task.Kind)
	assert.Equal(t, "Starting video generation...", task.Message)
}

func TestCreateGenerationRejections(t *testing.T) {
	cases := []struct {
		name      string
		body      any
		noKey     bool
		status    int
		errorKind string
	}{
		{"blank prompt", map[string]string{"kind": "image", "prompt": "   "}, false, http.StatusBadRequest, "validation"},
		{"unknown kind", map[string]string{"kind": "podcast", "prompt": "p"}, false, http.StatusBadRequest, "validation"},
		{"missing kind", map[string]string{"prompt": "p"}, false, http.StatusBadRequest, "validation"},
		{"no credential", map[string]string{"kind": "script", "prompt": "p"}, true, http.StatusPreconditionFailed, "credential_missing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			if tc.noKey {
				require.NoError(t, e.creds.Invalidate(context.Background()))
			}
			w := e.do(t, http.MethodPost, "/v1/api/generations", tc.body)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.errorKind, decode(t, w)["errorKind"])
			assert.Empty(t, e.queue.ids)
		})
	}
}

func TestCreateGenerationEnqueueFailure(t *testing.T) {
	e := newEnv(t)
	e.queue.err = errors.New("redis: connection refused")

	w := e.do(t, http.MethodPost, "/v1/api/generations", map[string]string{"kind": "image", "prompt": "p"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var tasks []models.GenerationTask
	require.NoError(t, e.db.Find(&tasks).Error)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusFailed, tasks[0].Status)
	assert.Equal(t, "transport", tasks[0].ErrorKind)
}

func TestGetGeneration(t *testing.T) {
	e := newEnv(t)
	task := e.createTask(t, models.TaskStatusPending)

	w := e.do(t, http.MethodGet, "/v1/api/generations/"+task.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)["task"].(map[string]any)
	assert.Equal(t, task.ID, got["id"])

	w = e.do(t, http.MethodGet, "/v1/api/generations/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelQueuedGeneration(t *testing.T) {
	e := newEnv(t)
	task := e.createTask(t, models.TaskStatusPending)

	w := e.do(t, http.MethodDelete, "/v1/api/generations/"+task.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := models.GetTaskByID(e.db, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, "canceled", got.ErrorKind)

	w = e.do(t, http.MethodDelete, "/v1/api/generations/"+task.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelRunningGeneration(t *testing.T) {
	e := newEnv(t)
	task := e.createTask(t, models.TaskStatusPolling)
	ctx, cancel := context.WithCancel(context.Background())
	e.handler.Cancels.Register(task.ID, cancel)

	w := e.do(t, http.MethodDelete, "/v1/api/generations/"+task.ID, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	// the processor records the outcome, not the handler
	got, err := models.GetTaskByID(e.db, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPolling, got.Status)
}

func TestAssets(t *testing.T) {
	e := newEnv(t)
	now := time.Now()
	require.NoError(t, models.CreateAsset(e.db, &models.Asset{ID: "old", Type: "image", Prompt: "a", CreatedAt: now.Add(-time.Minute)}))
	require.NoError(t, models.CreateAsset(e.db, &models.Asset{ID: "new", Type: "script", Text: "HOOK", Prompt: "b", CreatedAt: now}))

	w := e.do(t, http.MethodGet, "/v1/api/assets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assets := decode(t, w)["assets"].([]any)
	require.Len(t, assets, 2)
	assert.Equal(t, "new", assets[0].(map[string]any)["id"])

	w = e.do(t, http.MethodGet, "/v1/api/assets/new", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HOOK", decode(t, w)["asset"].(map[string]any)["text"])

	w = e.do(t, http.MethodGet, "/v1/api/assets/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCredentialEndpoints(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.creds.Invalidate(context.Background()))

	w := e.do(t, http.MethodGet, "/v1/api/credential", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["present"])

	w = e.do(t, http.MethodPut, "/v1/api/credential", map[string]string{"api_key": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPut, "/v1/api/credential", map[string]string{"api_key": "fresh"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, credential.Present(context.Background(), e.creds))
	assert.NotContains(t, w.Body.String(), "fresh")
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func dialProgress(t *testing.T, e *env, taskID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(e.router)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/api/generations/" + taskID + "/wss"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestProgressWebSocketFinishedTask(t *testing.T) {
	e := newEnv(t)
	task := e.createTask(t, models.TaskStatusPending)
	require.NoError(t, task.MarkSucceeded(e.db, "https://files/v", "asset-1"))

	conn := dialProgress(t, e, task.ID)
	var u service.ProgressUpdate
	require.NoError(t, conn.ReadJSON(&u))
	assert.Equal(t, models.TaskStatusSucceeded, u.Status)
	assert.Equal(t, "asset-1", u.AssetID)

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestProgressWebSocketStreamsHubUpdates(t *testing.T) {
	e := newEnv(t)
	task := e.createTask(t, models.TaskStatusPolling)

	conn := dialProgress(t, e, task.ID)
	var first service.ProgressUpdate
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, models.TaskStatusPolling, first.Status)

	require.Eventually(t, func() bool { return e.handler.Hub.Subscribers(task.ID) == 1 }, 2*time.Second, 5*time.Millisecond)
	e.handler.Hub.Publish(service.ProgressUpdate{TaskID: task.ID, Status: models.TaskStatusPolling, Message: "Processing frames... This usually takes 1-3 minutes.", Iteration: 4})

	var next service.ProgressUpdate
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, 4, next.Iteration)
	assert.Equal(t, "Processing frames... This usually takes 1-3 minutes.", next.Message)

	require.NoError(t, task.MarkFailed(e.db, "timeout", "poll video: generation timed out"))
	var last service.ProgressUpdate
	require.NoError(t, conn.ReadJSON(&last))
	assert.Equal(t, models.TaskStatusFailed, last.Status)
	assert.Equal(t, "timeout", last.ErrorKind)
}
