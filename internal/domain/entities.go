// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrSystemQueueFull   = errors.New("system queue is full")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")
)

// JobState is one of the states a Job may occupy (§3, §4.8).
// JobState is a string constant that represents the lifecycle stage of a job.
type JobState string

// Job state values.
const (
	JobQueued    JobState = "queued"
	JobActive    JobState = "active"
	JobPolling   JobState = "polling"
	JobRetrying  JobState = "retrying"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobDLQ       JobState = "dlq"
)

// Size is the required width/height pair of a StructuredPrompt.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// StructuredPrompt is the validated input to a sprite generation job.
// Required: Type, Style, Size, Description. Options only recognizes a
// closed set of keys, validated at the boundary (§3).
type StructuredPrompt struct {
	Type        string         `json:"type" validate:"required"`
	Style       string         `json:"style" validate:"required"`
	Size        Size           `json:"size" validate:"required"`
	Description string         `json:"description" validate:"required"`
	Action      string         `json:"action,omitempty"`
	Raw         string         `json:"raw,omitempty"`
	Options     map[string]any `json:"options,omitempty"`
}

// Rotation is a single directional render of a generated artifact.
type Rotation struct {
	Direction string `json:"direction"`
	URL       string `json:"url"`
}

// Artifact is the descriptor returned by a completed remote generation job.
type Artifact struct {
	CharacterID    string         `json:"character_id"`
	Name           string         `json:"name,omitempty"`
	Rotations      []Rotation     `json:"rotations,omitempty"`
	DownloadURL    string         `json:"download_url,omitempty"`
	Specifications map[string]any `json:"specifications,omitempty"`
	Style          string         `json:"style,omitempty"`
}

// Job is the domain model for a sprite-generation job (§3).
type Job struct {
	// JobID is the globally unique, opaque id (version-4 random).
	JobID string
	// UserID is the owning user; must be non-empty.
	UserID string
	// Prompt is the validated structured prompt for this job.
	Prompt StructuredPrompt
	// Fingerprint is the hex digest of the canonical prompt serialization.
	Fingerprint string
	// Attempts is a non-negative counter, starts at 0.
	Attempts int
	// State is the current lifecycle state.
	State JobState
	// SubmittedAt is when the job was first admitted.
	SubmittedAt time.Time
	// UpdatedAt is when the job state last changed.
	UpdatedAt time.Time
	// RemoteJobID is assigned after remote submission; required while State==JobPolling.
	RemoteJobID string
	// TimeoutMs is an optional per-job timeout override.
	TimeoutMs int64
	// CorrelationID ties this job to a request chain for logs/metrics.
	CorrelationID string
	// RetriedFromDLQ marks a job re-admitted via DLQ retry().
	RetriedFromDLQ bool
	// LastError is the most recent user-facing failure message, if any.
	LastError string
	// Artifact is populated once State==JobCompleted.
	Artifact *Artifact
}

// IsTerminal reports whether the job has reached an immutable state (§3).
func (j Job) IsTerminal() bool {
	return j.State == JobCompleted || j.State == JobDLQ
}

// ErrorKind is the closed taxonomy a ClassifiedError belongs to (§4.1).
type ErrorKind string

// Error kind values, in the order the classifier evaluates them.
const (
	KindAuthentication  ErrorKind = "authentication"
	KindRateLimit       ErrorKind = "rate_limit"
	KindTimeout         ErrorKind = "timeout"
	KindServerError     ErrorKind = "server_error"
	KindValidationError ErrorKind = "validation_error"
	KindNetworkError    ErrorKind = "network_error"
	KindQuotaExceeded   ErrorKind = "quota_exceeded"
	KindDatabase        ErrorKind = "database"
	KindUnknown         ErrorKind = "unknown"
)

// ClassifiedError is the uniform error shape surfaced to the worker (§3, §4.1).
type ClassifiedError struct {
	Kind              ErrorKind
	Retryable         bool
	UserMessage       string
	TechnicalDetail   string
	RetryAfterSeconds *int
	Origin            string
}

// Error implements the error interface so a *ClassifiedError can be wrapped
// and propagated like any other Go error.
func (e *ClassifiedError) Error() string {
	if e == nil {
		return ""
	}
	return e.UserMessage + ": " + e.TechnicalDetail
}

// RemoteJobStatusKind tags the variants of RemoteJobStatus.
type RemoteJobStatusKind string

// RemoteJobStatus variants.
const (
	RemoteCompleted  RemoteJobStatusKind = "completed"
	RemoteProcessing RemoteJobStatusKind = "processing"
	RemoteFailed     RemoteJobStatusKind = "failed"
)

// RemoteJobStatus is the tagged union produced by the Status Parser (§3, §4.4).
type RemoteJobStatus struct {
	Kind        RemoteJobStatusKind
	Artifact    *Artifact
	RetryAfterS int
	Progress    *int
	FailMessage string
}

// DLQLastError carries the classified error context at time of DLQ move.
type DLQLastError struct {
	Message string
	Kind    ErrorKind
	Stack   string
}

// DLQEntry is an immutable record of a terminally failed job (§3).
type DLQEntry struct {
	JobID               string
	UserID              string
	OriginalJobSnapshot Job
	FailureReason       string
	FailedAt            time.Time
	RetryAttempts       int
	LastError           DLQLastError
	RemoteJobID         string
}

// EnqueuedPayload is what the Admission Controller and Retry Manager hand to
// the Durable Queue.
type EnqueuedPayload struct {
	JobID         string
	UserID        string
	Prompt        StructuredPrompt
	Fingerprint   string
	CorrelationID string
	TimeoutMs     int64
}

// Queue is the port the Admission Controller and Retry Manager enqueue
// through. Implementations are a durable, KV-backed FIFO with delayed
// entries and bounded worker concurrency (§4.8).
type Queue interface {
	// Enqueue places a payload onto the ready FIFO.
	Enqueue(ctx Context, payload EnqueuedPayload) error
	// EnqueueDelayed places a payload to become ready after delay elapses.
	EnqueueDelayed(ctx Context, payload EnqueuedPayload, delay time.Duration) error
	// Depth reports counts used for admission's system-limit check (§4.7).
	Depth(ctx Context) (waiting, active, delayed int, err error)
}

// JobRepository persists Job state; the queue implementation is free to use
// it as its own backing store (§3 ownership notes).
type JobRepository interface {
	Create(ctx Context, j Job) error
	Get(ctx Context, jobID string) (Job, error)
	UpdateState(ctx Context, jobID string, state JobState, mutate func(*Job)) error
	// ListByState pages through jobs in a given state, for the stuck-job sweeper.
	ListByState(ctx Context, state JobState, offset, limit int) ([]Job, error)
	Count(ctx Context) (int64, error)
}

// DLQRepository is the admin-facing port over dead-lettered jobs (§4.10).
type DLQRepository interface {
	Put(ctx Context, entry DLQEntry) error
	List(ctx Context, limit int) ([]DLQEntry, error)
	Get(ctx Context, jobID string) (DLQEntry, error)
	Delete(ctx Context, jobID string) error
}

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context
