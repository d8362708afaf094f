package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	TypeGenerateTask = "generation:run"

	// asynq applies its own 30 minute default when no timeout is given, so an
	// unbounded poll still gets a long upper limit here.
	unboundedTaskTimeout = 24 * time.Hour
	taskTimeoutMargin    = 10 * time.Minute
)

type TaskPayload struct {
	TaskID string `json:"task_id"`
}

// Queue enqueues generation tasks for the processor.
type Queue struct {
	client  *asynq.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewQueue connects to redis. pollTimeout is the orchestrator's poll bound.
func NewQueue(opt asynq.RedisClientOpt, pollTimeout time.Duration, logger zerolog.Logger) *Queue {
	return &Queue{
		client:  asynq.NewClient(opt),
		timeout: TaskTimeout(pollTimeout),
		logger:  logger,
	}
}

// TaskTimeout is how long a worker may hold one generation task.
func TaskTimeout(pollTimeout time.Duration) time.Duration {
	if pollTimeout <= 0 {
		return unboundedTaskTimeout
	}
	return pollTimeout + taskTimeoutMargin
}

// NewGenerateTask builds the queue message for taskID. Generation is never
// retried automatically; the user retries the whole request.
func NewGenerateTask(taskID string, timeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(TaskPayload{TaskID: taskID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	return asynq.NewTask(TypeGenerateTask, payload,
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
		asynq.Retention(24*time.Hour),
	), nil
}

// Enqueue pushes taskID onto the default queue.
func (q *Queue) Enqueue(ctx context.Context, taskID string) error {
	task, err := NewGenerateTask(taskID, q.timeout)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	q.logger.Info().Str("task_id", taskID).Str("queue_id", info.ID).Msg("queue: task enqueued")
	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}
