package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"ReelStudio-server/credential"
	"ReelStudio-server/models"
	"ReelStudio-server/orchestrator"
	"ReelStudio-server/service"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type createGenerationRequest struct {
	Kind   string `json:"kind" binding:"required"`
	Prompt string `json:"prompt"`
}

// CreateGeneration 创建生成任务: POST /v1/api/generations
func (h *Handler) CreateGeneration(c *gin.Context) {
	var req createGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "errorKind": orchestrator.KindValidation})
		return
	}
	kind, err := orchestrator.ParseKind(req.Kind)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if err := (orchestrator.Request{Prompt: req.Prompt, Kind: kind}).Validate(); err != nil {
		abortWithError(c, err)
		return
	}
	if !credential.Present(c.Request.Context(), h.Credentials) {
		abortWithError(c, orchestrator.ErrCredentialMissing)
		return
	}

	task := models.GenerationTask{
		ID:      uuid.NewString(),
		Kind:    string(kind),
		Prompt:  req.Prompt,
		Status:  models.TaskStatusPending,
		Message: fmt.Sprintf("Starting %s generation...", kind),
	}
	if err := models.CreateTask(h.DB, &task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建任务失败: " + err.Error()})
		return
	}
	if err := h.Queue.Enqueue(c.Request.Context(), task.ID); err != nil {
		h.Logger.Error().Err(err).Str("task_id", task.ID).Msg("api: enqueue failed")
		if ferr := task.MarkFailed(h.DB, string(orchestrator.KindTransport), err.Error()); ferr != nil {
			h.Logger.Error().Err(ferr).Str("task_id", task.ID).Msg("api: mark failed")
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "任务入队失败"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": task.ID,
		"task":    task,
	})
}

// GetGeneration 查询任务状态: GET /v1/api/generations/:task_id
func (h *Handler) GetGeneration(c *gin.Context) {
	t, err := models.GetTaskByID(h.DB, c.Param("task_id"))
	if err != nil {
		h.notFound(c, "task", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": t})
}

// CancelGeneration stops local polling of a running task. A task still in the
// queue is failed directly so the worker skips it.
func (h *Handler) CancelGeneration(c *gin.Context) {
	t, err := models.GetTaskByID(h.DB, c.Param("task_id"))
	if err != nil {
		h.notFound(c, "task", err)
		return
	}
	if models.IsTerminalStatus(t.Status) {
		c.JSON(http.StatusConflict, gin.H{"error": "task already finished", "task": t})
		return
	}

	if h.Cancels != nil && h.Cancels.Cancel(t.ID) {
		c.JSON(http.StatusAccepted, gin.H{"task_id": t.ID, "canceled": true})
		return
	}
	err = t.MarkFailed(h.DB, string(orchestrator.KindCanceled), orchestrator.ErrCanceled.Error())
	if errors.Is(err, models.ErrTaskTerminal) {
		c.JSON(http.StatusConflict, gin.H{"error": "task already finished"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": t.ID, "canceled": true, "task": t})
}

// TaskProgressWebSocket 任务进度 WebSocket 推送: GET /v1/api/generations/:task_id/wss
// 先推送 DB 中的当前状态，之后转发处理器的实时进度，并定期回读 DB 兜底。
func (h *Handler) TaskProgressWebSocket(c *gin.Context) {
	taskID := c.Param("task_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("api: websocket upgrade failed")
		return
	}
	defer conn.Close()

	t, err := models.GetTaskByID(h.DB, taskID)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": "task not found: " + err.Error()})
		return
	}
	updates, unsubscribe := h.Hub.Subscribe(taskID)
	defer unsubscribe()

	if err := conn.WriteJSON(updateFromTask(t)); err != nil || models.IsTerminalStatus(t.Status) {
		return
	}

	// 客户端断开时结束推送
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	refresh := h.WSRefresh
	if refresh <= 0 {
		refresh = 2 * time.Second
	}
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	// lastSent 是已推送状态的时间，DB 回读只推送更新的行
	lastSent := t.UpdatedAt
	for {
		select {
		case <-closed:
			return
		case u, ok := <-updates:
			if !ok {
				// 处理器已结束：推送最终状态后关闭
				if cur, err := models.GetTaskByID(h.DB, taskID); err == nil && cur.UpdatedAt.After(lastSent) {
					_ = conn.WriteJSON(updateFromTask(cur))
				}
				return
			}
			if err := conn.WriteJSON(u); err != nil {
				return
			}
			if u.At.After(lastSent) {
				lastSent = u.At
			}
			if models.IsTerminalStatus(u.Status) {
				return
			}
		case <-ticker.C:
			cur, err := models.GetTaskByID(h.DB, taskID)
			if err != nil {
				continue
			}
			if cur.UpdatedAt.After(lastSent) {
				if err := conn.WriteJSON(updateFromTask(cur)); err != nil {
					return
				}
				lastSent = cur.UpdatedAt
			}
			if models.IsTerminalStatus(cur.Status) {
				return
			}
		}
	}
}

func updateFromTask(t *models.GenerationTask) service.ProgressUpdate {
	return service.ProgressUpdate{
		TaskID:    t.ID,
		Status:    t.Status,
		Message:   t.Message,
		Iteration: t.PollCount,
		AssetID:   t.AssetID,
		ErrorKind: t.ErrorKind,
		Error:     t.Error,
		At:        t.UpdatedAt,
	}
}

func (h *Handler) notFound(c *gin.Context, what string, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
