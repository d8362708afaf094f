package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"ReelStudio-server/models"
	"ReelStudio-server/orchestrator"
)

// Processor 处理队列任务: runs one generation task to a terminal state and
// keeps the task row, the asset list and websocket subscribers up to date.
// Hub, Cancels and Metrics are optional.
type Processor struct {
	DB           *gorm.DB
	Orchestrator *orchestrator.Orchestrator
	Storage      ObjectStore
	Hub          *ProgressHub
	Cancels      *PollCancelRegistry
	Metrics      *Metrics
	Logger       zerolog.Logger
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(redisOpt asynq.RedisClientOpt, concurrency int) *asynq.Server {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 1,
		},
		Logger:   asynqLogger{p.Logger},
		LogLevel: asynq.WarnLevel,
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGenerateTask, p.HandleGenerateTask)

	p.Logger.Info().Int("concurrency", concurrency).Msg("processor: starting")
	go func() {
		if err := srv.Run(mux); err != nil {
			p.Logger.Fatal().Err(err).Msg("processor: could not run server")
		}
	}()
	return srv
}

// HandleGenerateTask is the asynq handler for TypeGenerateTask.
func (p *Processor) HandleGenerateTask(ctx context.Context, t *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.Run(ctx, payload.TaskID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("task %s not found: %w", payload.TaskID, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

// Run drives taskID to succeeded or failed. Generation failures are recorded
// on the task and not returned; only storage errors of the task row itself are.
func (p *Processor) Run(ctx context.Context, taskID string) error {
	task, err := models.GetTaskByID(p.DB, taskID)
	if err != nil {
		return err
	}
	if models.IsTerminalStatus(task.Status) {
		p.Logger.Info().Str("task_id", task.ID).Str("status", task.Status).Msg("processor: task already finished, skipping")
		return nil
	}
	defer p.Hub.Close(task.ID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if p.Cancels != nil {
		p.Cancels.Register(task.ID, cancel)
		defer p.Cancels.Unregister(task.ID)
	}

	started := time.Now()
	if p.Metrics != nil {
		p.Metrics.InFlight.Inc()
		defer p.Metrics.InFlight.Dec()
	}

	startMsg := fmt.Sprintf("Starting %s generation...", task.Kind)
	if err := task.UpdateProgress(p.DB, models.TaskStatusPending, startMsg, 0); err != nil {
		return p.settle(task, err)
	}
	p.publish(task, 0)
	p.Logger.Info().Str("task_id", task.ID).Str("kind", task.Kind).Msg("processor: generation started")

	var (
		asset     *models.Asset
		resultURI string
	)
	kind, err := orchestrator.ParseKind(task.Kind)
	if err == nil {
		switch kind {
		case orchestrator.KindVideo:
			asset, resultURI, err = p.runVideo(runCtx, task)
		case orchestrator.KindImage:
			asset, resultURI, err = p.runImage(runCtx, task)
		case orchestrator.KindScript:
			asset, resultURI, err = p.runScript(runCtx, task)
		}
	}

	if err != nil {
		if errors.Is(err, models.ErrTaskTerminal) {
			return p.settle(task, err)
		}
		p.Metrics.observe(task.Kind, models.TaskStatusFailed, started)
		return p.fail(task, err)
	}

	if err := task.MarkSucceeded(p.DB, resultURI, asset.ID); err != nil {
		return p.settle(task, err)
	}
	p.Metrics.observe(task.Kind, models.TaskStatusSucceeded, started)
	p.publish(task, task.PollCount)
	p.Logger.Info().Str("task_id", task.ID).Str("asset_id", asset.ID).Dur("took", time.Since(started)).Msg("processor: task completed")
	return nil
}

func (p *Processor) runVideo(ctx context.Context, task *models.GenerationTask) (*models.Asset, string, error) {
	if err := task.UpdateProgress(p.DB, models.TaskStatusPending, "Initializing video generation engine...", 0); err != nil {
		return nil, "", err
	}
	p.publish(task, 0)

	job, err := p.Orchestrator.SubmitVideo(ctx, task.Prompt)
	if err != nil {
		return nil, "", err
	}
	if err := task.MarkSubmitted(p.DB, job.ID(), "Video job submitted"); err != nil {
		return nil, "", err
	}
	p.publish(task, 0)

	// 任务在别处结束（如其他实例取消）时停止轮询
	pollCtx, stopPoll := context.WithCancel(ctx)
	defer stopPoll()
	var finishedElsewhere bool
	progress := make(chan orchestrator.ProgressEvent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range progress {
			if finishedElsewhere {
				continue
			}
			if p.Metrics != nil {
				p.Metrics.PollIterations.Inc()
			}
			if err := task.UpdateProgress(p.DB, models.TaskStatusPolling, ev.Message, ev.Iteration); err != nil {
				if errors.Is(err, models.ErrTaskTerminal) {
					finishedElsewhere = true
					stopPoll()
					continue
				}
				p.Logger.Warn().Err(err).Str("task_id", task.ID).Msg("processor: record progress failed")
				continue
			}
			p.publish(task, ev.Iteration)
		}
	}()
	err = p.Orchestrator.PollUntilDone(pollCtx, job, progress)
	close(progress)
	<-done
	if finishedElsewhere {
		return nil, "", models.ErrTaskTerminal
	}
	if err != nil {
		return nil, "", err
	}

	handle, err := p.Orchestrator.MaterializeVideo(ctx, job.ResultURI())
	if err != nil {
		return nil, "", err
	}
	if p.Storage == nil {
		return nil, "", errors.New("object storage is not configured")
	}
	objectName := fmt.Sprintf("generations/%s/video.mp4", task.ID)
	url, err := p.Storage.Put(ctx, objectName, bytes.NewReader(handle.Data), handle.Size(), handle.ContentType)
	if err != nil {
		return nil, "", fmt.Errorf("store video: %w", err)
	}

	asset := &models.Asset{
		ID:          uuid.NewString(),
		TaskID:      task.ID,
		Type:        models.AssetTypeVideo,
		URL:         url,
		ObjectKey:   objectName,
		ContentType: handle.ContentType,
		Size:        handle.Size(),
		Prompt:      task.Prompt,
	}
	if err := models.CreateAsset(p.DB, asset); err != nil {
		return nil, "", fmt.Errorf("save asset: %w", err)
	}
	return asset, job.ResultURI(), nil
}

func (p *Processor) runImage(ctx context.Context, task *models.GenerationTask) (*models.Asset, string, error) {
	job, err := p.Orchestrator.SubmitImage(ctx, task.Prompt)
	if err != nil {
		return nil, "", err
	}
	asset := &models.Asset{
		ID:          uuid.NewString(),
		TaskID:      task.ID,
		Type:        models.AssetTypeImage,
		URL:         job.ResultURI(),
		ContentType: dataURIContentType(job.ResultURI()),
		Prompt:      task.Prompt,
	}
	if err := models.CreateAsset(p.DB, asset); err != nil {
		return nil, "", fmt.Errorf("save asset: %w", err)
	}
	return asset, job.ResultURI(), nil
}

func (p *Processor) runScript(ctx context.Context, task *models.GenerationTask) (*models.Asset, string, error) {
	text, err := p.Orchestrator.SubmitScript(ctx, task.Prompt)
	if err != nil {
		return nil, "", err
	}
	asset := &models.Asset{
		ID:          uuid.NewString(),
		TaskID:      task.ID,
		Type:        models.AssetTypeScript,
		ContentType: "text/plain; charset=utf-8",
		Size:        int64(len(text)),
		Text:        text,
		Prompt:      task.Prompt,
	}
	if err := models.CreateAsset(p.DB, asset); err != nil {
		return nil, "", fmt.Errorf("save asset: %w", err)
	}
	return asset, AssetPath(asset.ID), nil
}

// fail records err on the task. The error itself is a business outcome and
// is not handed back to the queue.
func (p *Processor) fail(task *models.GenerationTask, err error) error {
	kind := ErrorKindOf(err)
	if ferr := task.MarkFailed(p.DB, kind, err.Error()); ferr != nil {
		return p.settle(task, ferr)
	}
	p.publish(task, task.PollCount)
	p.Logger.Warn().Err(err).Str("task_id", task.ID).Str("error_kind", kind).Msg("processor: task failed")
	return nil
}

// settle handles a task row that could not be updated. A task finished
// elsewhere (canceled before start) is not an error.
func (p *Processor) settle(task *models.GenerationTask, err error) error {
	if errors.Is(err, models.ErrTaskTerminal) {
		p.Logger.Info().Str("task_id", task.ID).Msg("processor: task finished elsewhere")
		return nil
	}
	p.Logger.Error().Err(err).Str("task_id", task.ID).Msg("processor: update task failed")
	return err
}

func (p *Processor) publish(task *models.GenerationTask, iteration int) {
	p.Hub.Publish(ProgressUpdate{
		TaskID:    task.ID,
		Status:    task.Status,
		Message:   task.Message,
		Iteration: iteration,
		AssetID:   task.AssetID,
		ErrorKind: task.ErrorKind,
		Error:     task.Error,
	})
}

// ErrorKindOf maps err to the error_kind stored on a failed task. Errors
// from outside the orchestrator count as transport failures.
func ErrorKindOf(err error) string {
	if k := orchestrator.KindOf(err); k != "" {
		return string(k)
	}
	return string(orchestrator.KindTransport)
}

// AssetPath is the API path of an asset.
func AssetPath(assetID string) string {
	return "/v1/api/assets/" + assetID
}

func dataURIContentType(uri string) string {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return ""
	}
	mime, _, _ := strings.Cut(rest, ";")
	mime, _, _ = strings.Cut(mime, ",")
	return mime
}

// asynqLogger routes asynq's own logs through zerolog.
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
