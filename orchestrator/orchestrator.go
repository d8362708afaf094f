// Package orchestrator drives one generation request to a terminal outcome:
// submit to the remote generation service, poll long-running video jobs,
// fetch the produced bytes and classify whatever goes wrong on the way.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ReelStudio-server/credential"
	"ReelStudio-server/genai"
)

const (
	DefaultPollInterval = 10 * time.Second

	DefaultResolution  = "720p"
	DefaultAspectRatio = "9:16"

	pollingMessage = "Processing frames... This usually takes 1-3 minutes."
)

// ErrEmptyResponse is wrapped by the NoContent error of a script request that
// came back without text.
var ErrEmptyResponse = errors.New("service returned no text")

// Remote is the generation service as the orchestrator consumes it.
// Every call carries the api key explicitly.
type Remote interface {
	CreateVideoJob(ctx context.Context, apiKey, prompt string, params genai.VideoParams) (string, error)
	GetJobStatus(ctx context.Context, apiKey, jobID string) (*genai.Operation, error)
	GenerateImage(ctx context.Context, apiKey, prompt, aspectRatio string) ([]genai.InlineData, error)
	GenerateText(ctx context.Context, apiKey, prompt string) (string, error)
	FetchBytes(ctx context.Context, apiKey, uri string) (*genai.Blob, error)
}

// Options tunes the orchestrator. Zero values fall back to defaults.
type Options struct {
	PollInterval time.Duration
	// PollTimeout bounds PollUntilDone. Zero means no bound beyond ctx.
	PollTimeout      time.Duration
	Video            genai.VideoParams
	ImageAspectRatio string
	Logger           *zerolog.Logger
}

type Orchestrator struct {
	remote Remote
	creds  credential.Provider
	opts   Options
	logger *zerolog.Logger
}

func New(remote Remote, creds credential.Provider, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Video.Resolution == "" {
		opts.Video.Resolution = DefaultResolution
	}
	if opts.Video.AspectRatio == "" {
		opts.Video.AspectRatio = DefaultAspectRatio
	}
	if opts.Video.NumberOfVideos <= 0 {
		opts.Video.NumberOfVideos = 1
	}
	if opts.ImageAspectRatio == "" {
		opts.ImageAspectRatio = DefaultAspectRatio
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Orchestrator{remote: remote, creds: creds, opts: opts, logger: logger}
}

// PollTimeout returns the configured bound on PollUntilDone.
func (o *Orchestrator) PollTimeout() time.Duration {
	return o.opts.PollTimeout
}

// SubmitVideo starts a long-running video job. The returned job is in the
// Polling state and must be driven with PollUntilDone.
func (o *Orchestrator) SubmitVideo(ctx context.Context, prompt string) (*Job, error) {
	const op = "submit video"
	req := Request{Prompt: prompt, Kind: KindVideo}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	key, err := o.apiKey(ctx, op)
	if err != nil {
		return nil, err
	}

	id, err := o.remote.CreateVideoJob(ctx, key, prompt, o.opts.Video)
	if err != nil {
		return nil, o.classify(ctx, op, err, KindTransport)
	}
	if strings.TrimSpace(id) == "" {
		return nil, newError(KindNoContent, op, errors.New("service returned no job handle"))
	}

	job := newJob(req, id)
	if err := job.advance(StatusPolling); err != nil {
		return nil, err
	}
	o.logger.Info().Str("job_id", id).Str("kind", string(KindVideo)).Msg("orchestrator: video job submitted")
	return job, nil
}

// SubmitImage generates a thumbnail in a single call and returns a terminal
// job whose result is a base64 data URI.
func (o *Orchestrator) SubmitImage(ctx context.Context, prompt string) (*Job, error) {
	const op = "submit image"
	req := Request{Prompt: prompt, Kind: KindImage}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	key, err := o.apiKey(ctx, op)
	if err != nil {
		return nil, err
	}

	job := newJob(req, uuid.NewString())
	images, err := o.remote.GenerateImage(ctx, key, thumbnailPrompt(prompt), o.opts.ImageAspectRatio)
	if err != nil {
		return job, o.failJob(job, o.classify(ctx, op, err, KindTransport))
	}
	if len(images) == 0 || len(images[0].Data) == 0 {
		return job, o.failJob(job, newError(KindNoContent, op, errors.New("no image data found in response")))
	}

	if err := job.succeed(DataURI(images[0].MIMEType, images[0].Data)); err != nil {
		return job, err
	}
	o.logger.Info().Str("job_id", job.ID()).Str("kind", string(KindImage)).Msg("orchestrator: image generated")
	return job, nil
}

// SubmitScript writes a short-form video script about topic.
func (o *Orchestrator) SubmitScript(ctx context.Context, topic string) (string, error) {
	const op = "submit script"
	req := Request{Prompt: topic, Kind: KindScript}
	if err := req.Validate(); err != nil {
		return "", err
	}
	key, err := o.apiKey(ctx, op)
	if err != nil {
		return "", err
	}

	text, err := o.remote.GenerateText(ctx, key, scriptPrompt(topic))
	if err != nil {
		return "", o.classify(ctx, op, err, KindTransport)
	}
	if strings.TrimSpace(text) == "" {
		return "", newError(KindNoContent, op, ErrEmptyResponse)
	}
	return text, nil
}

// PollUntilDone queries the job every poll interval until the service reports
// it done. One ProgressEvent is sent on progress before each wait; progress
// may be nil. The channel is never closed here. Sends block until received or
// ctx ends, so a consumer that stops reading must cancel ctx.
func (o *Orchestrator) PollUntilDone(ctx context.Context, job *Job, progress chan<- ProgressEvent) error {
	const op = "poll video"
	if st := job.Status(); st != StatusPolling {
		return fmt.Errorf("%s: job %s is %s, want %s", op, job.ID(), st, StatusPolling)
	}
	if o.opts.PollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.PollTimeout)
		defer cancel()
	}

	for iteration := 1; ; iteration++ {
		ev := ProgressEvent{JobID: job.ID(), Iteration: iteration, Message: pollingMessage, At: time.Now()}
		if err := emit(ctx, progress, ev); err != nil {
			return o.failJob(job, o.classify(ctx, op, err, KindTransport))
		}

		wait := time.NewTimer(o.opts.PollInterval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return o.failJob(job, o.classify(ctx, op, ctx.Err(), KindTransport))
		case <-wait.C:
		}

		key, err := o.apiKey(ctx, op)
		if err != nil {
			return o.failJob(job, err)
		}
		status, err := o.remote.GetJobStatus(ctx, key, job.ID())
		if err != nil {
			return o.failJob(job, o.classify(ctx, op, err, KindTransport))
		}
		o.logger.Debug().Str("job_id", job.ID()).Int("iteration", iteration).Bool("done", status.Done).Msg("orchestrator: polled job")
		if !status.Done {
			continue
		}

		if status.Err != nil {
			return o.failJob(job, o.classify(ctx, op, status.Err, KindTransport))
		}
		uri := status.FirstVideoURI()
		if uri == "" {
			return o.failJob(job, newError(KindNoContent, op, errors.New("video generation failed - no URI returned")))
		}
		if err := job.succeed(uri); err != nil {
			return err
		}
		o.logger.Info().Str("job_id", job.ID()).Int("iterations", iteration).Msg("orchestrator: video job done")
		return nil
	}
}

// MaterializeVideo downloads the finished video into memory.
func (o *Orchestrator) MaterializeVideo(ctx context.Context, downloadRef string) (*AssetHandle, error) {
	const op = "materialize video"
	if strings.TrimSpace(downloadRef) == "" {
		return nil, newError(KindValidation, op, errors.New("download reference is required"))
	}
	key, err := o.apiKey(ctx, op)
	if err != nil {
		return nil, err
	}

	blob, err := o.remote.FetchBytes(ctx, key, downloadRef)
	if err != nil {
		return nil, o.classify(ctx, op, err, KindFetch)
	}
	contentType := blob.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}
	return &AssetHandle{SourceURI: downloadRef, ContentType: contentType, Data: blob.Data}, nil
}

func (o *Orchestrator) apiKey(ctx context.Context, op string) (string, error) {
	key, err := o.creds.APIKey(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrMissing) {
			return "", newError(KindCredentialMissing, op, nil)
		}
		return "", newError(KindTransport, op, err)
	}
	return key, nil
}

// classify applies the single classification layer: credential expiry.
// Context ends become Timeout or Canceled; everything else keeps fallback.
func (o *Orchestrator) classify(ctx context.Context, op string, err error, fallback ErrorKind) error {
	var oe *Error
	if errors.As(err, &oe) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return newError(KindCanceled, op, err)
	case IsCredentialExpired(err):
		if ierr := o.creds.Invalidate(ctx); ierr != nil {
			o.logger.Warn().Err(ierr).Msg("orchestrator: invalidate credential failed")
		}
		return newError(KindCredentialExpired, op, err)
	}
	return newError(fallback, op, err)
}

func (o *Orchestrator) failJob(job *Job, err error) error {
	if ferr := job.fail(err); ferr != nil {
		o.logger.Error().Err(ferr).Msg("orchestrator: record failure")
	}
	o.logger.Warn().Err(err).Str("job_id", job.ID()).Str("kind", string(job.Request.Kind)).Msg("orchestrator: job failed")
	return err
}

func emit(ctx context.Context, progress chan<- ProgressEvent, ev ProgressEvent) error {
	if progress == nil {
		return nil
	}
	select {
	case progress <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DataURI encodes data as a displayable inline URI.
func DataURI(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func thumbnailPrompt(prompt string) string {
	return fmt.Sprintf("A vibrant, high-contrast YouTube/TikTok style thumbnail for a video about: %s. No text in image.", prompt)
}

func scriptPrompt(topic string) string {
	return fmt.Sprintf("Write a 30-second viral short-form video script about: %s.\n"+
		"Format it with visual descriptions and narrator lines.\n"+
		"Keep it high energy and engaging.", topic)
}
