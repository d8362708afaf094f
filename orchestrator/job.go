package orchestrator

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Kind is the type of asset a request produces.
type Kind string

const (
	KindVideo  Kind = "video"
	KindImage  Kind = "image"
	KindScript Kind = "script"
)

// ParseKind normalizes user input into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindVideo, KindImage, KindScript:
		return k, nil
	default:
		return "", newError(KindValidation, "parse kind", fmt.Errorf("unsupported kind %q", s))
	}
}

// Request is the immutable input of one generation.
type Request struct {
	Prompt string
	Kind   Kind
}

// Validate rejects empty or whitespace-only prompts.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return newError(KindValidation, "submit "+string(r.Kind), fmt.Errorf("prompt is required"))
	}
	return nil
}

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusPolling   Status = "polling"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

func (s Status) rank() int {
	switch s {
	case StatusSubmitted:
		return 1
	case StatusPolling:
		return 2
	case StatusSucceeded, StatusFailed:
		return 3
	}
	return 0
}

// Terminal reports whether s is Succeeded or Failed.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ProgressEvent is a transient status line emitted while polling.
type ProgressEvent struct {
	JobID     string
	Iteration int
	Message   string
	At        time.Time
}

// Job tracks one remote operation from submission to its terminal state.
// Status only moves forward; ResultURI and Err are exclusive once terminal.
type Job struct {
	Request Request

	mu        sync.RWMutex
	id        string
	status    Status
	resultURI string
	lastErr   error
}

func newJob(req Request, id string) *Job {
	return &Job{Request: req, id: id, status: StatusSubmitted}
}

func (j *Job) ID() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.id
}

func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// ResultURI is set only once the job has succeeded.
func (j *Job) ResultURI() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.resultURI
}

// Err is set only once the job has failed.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastErr
}

func (j *Job) advance(next Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.advanceLocked(next)
}

func (j *Job) advanceLocked(next Status) error {
	if j.status.Terminal() || next.rank() <= j.status.rank() {
		return fmt.Errorf("job %s: illegal transition %s -> %s", j.id, j.status, next)
	}
	j.status = next
	return nil
}

func (j *Job) succeed(uri string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.advanceLocked(StatusSucceeded); err != nil {
		return err
	}
	j.resultURI = uri
	return nil
}

func (j *Job) fail(err error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.advanceLocked(StatusFailed); err != nil {
		return err
	}
	j.lastErr = err
	return nil
}

// AssetHandle is a fetched video held in memory, ready to be stored or served.
type AssetHandle struct {
	SourceURI   string
	ContentType string
	Data        []byte
}

func (h *AssetHandle) Size() int64 {
	return int64(len(h.Data))
}
