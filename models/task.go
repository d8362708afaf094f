package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// 任务状态, mirrors the orchestrator job lifecycle plus the queued state.
const (
	// pending: accepted and queued, nothing sent to the service yet
	TaskStatusPending   = "pending"
	TaskStatusSubmitted = "submitted"
	TaskStatusPolling   = "polling"
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed"
)

// ErrTaskTerminal is returned when a finished task would be changed again.
var ErrTaskTerminal = errors.New("task already finished")

type GenerationTask struct {
	ID          string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Kind        string     `gorm:"type:varchar(16);index" json:"kind"`
	Prompt      string     `gorm:"type:text" json:"prompt"`
	Status      string     `gorm:"type:varchar(16);index" json:"status"`
	Message     string     `gorm:"type:varchar(255)" json:"message"`
	RemoteJobID string     `gorm:"type:varchar(255)" json:"remoteJobId,omitempty"`
	PollCount   int        `json:"pollCount"`
	ResultURI   string     `gorm:"type:longtext" json:"resultUri,omitempty"`
	AssetID     string     `gorm:"type:varchar(64)" json:"assetId,omitempty"`
	ErrorKind   string     `gorm:"type:varchar(32)" json:"errorKind,omitempty"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (GenerationTask) TableName() string {
	return "generation_task"
}

func IsTerminalStatus(status string) bool {
	return status == TaskStatusSucceeded || status == TaskStatusFailed
}

func CreateTask(db *gorm.DB, t *GenerationTask) error {
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	return db.Create(t).Error
}

func GetTaskByID(db *gorm.DB, id string) (*GenerationTask, error) {
	var t GenerationTask
	if err := db.First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkSubmitted records the remote handle and moves the task out of pending.
func (t *GenerationTask) MarkSubmitted(db *gorm.DB, remoteJobID, message string) error {
	now := time.Now()
	err := t.update(db, map[string]interface{}{
		"status":        TaskStatusSubmitted,
		"remote_job_id": remoteJobID,
		"message":       message,
		"started_at":    now,
	})
	if err != nil {
		return err
	}
	t.Status, t.RemoteJobID, t.Message, t.StartedAt = TaskStatusSubmitted, remoteJobID, message, &now
	return nil
}

// UpdateProgress stores the latest poll message.
func (t *GenerationTask) UpdateProgress(db *gorm.DB, status, message string, pollCount int) error {
	err := t.update(db, map[string]interface{}{
		"status":     status,
		"message":    message,
		"poll_count": pollCount,
	})
	if err != nil {
		return err
	}
	t.Status, t.Message, t.PollCount = status, message, pollCount
	return nil
}

// MarkSucceeded sets the result and clears any error.
func (t *GenerationTask) MarkSucceeded(db *gorm.DB, resultURI, assetID string) error {
	now := time.Now()
	err := t.update(db, map[string]interface{}{
		"status":      TaskStatusSucceeded,
		"message":     "",
		"result_uri":  resultURI,
		"asset_id":    assetID,
		"error_kind":  "",
		"error":       "",
		"finished_at": now,
	})
	if err != nil {
		return err
	}
	t.Status, t.Message, t.ResultURI, t.AssetID, t.ErrorKind, t.Error, t.FinishedAt =
		TaskStatusSucceeded, "", resultURI, assetID, "", "", &now
	return nil
}

// MarkFailed sets the classified error and clears any result.
func (t *GenerationTask) MarkFailed(db *gorm.DB, kind, message string) error {
	now := time.Now()
	err := t.update(db, map[string]interface{}{
		"status":      TaskStatusFailed,
		"message":     "",
		"result_uri":  "",
		"asset_id":    "",
		"error_kind":  kind,
		"error":       message,
		"finished_at": now,
	})
	if err != nil {
		return err
	}
	t.Status, t.Message, t.ResultURI, t.AssetID, t.ErrorKind, t.Error, t.FinishedAt =
		TaskStatusFailed, "", "", "", kind, message, &now
	return nil
}

// update refuses to touch a task that already reached a terminal status.
func (t *GenerationTask) update(db *gorm.DB, updates map[string]interface{}) error {
	if IsTerminalStatus(t.Status) {
		return ErrTaskTerminal
	}
	updates["updated_at"] = time.Now()
	res := db.Model(&GenerationTask{}).
		Where("id = ? AND status NOT IN ?", t.ID, []string{TaskStatusSucceeded, TaskStatusFailed}).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTaskTerminal
	}
	return nil
}
