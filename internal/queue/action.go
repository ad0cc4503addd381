package queue

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies what a deferred action represents.
type Kind string

const (
	// KindAPICall is a generic REST call.
	KindAPICall Kind = "api_call"

	// KindFormSubmission is a contact or suggestion form post.
	KindFormSubmission Kind = "form_submission"

	// KindFileUpload is a deferred media upload.
	KindFileUpload Kind = "file_upload"

	// KindUserAction is a gamification or profile event.
	KindUserAction Kind = "user_action"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAPICall, KindFormSubmission, KindFileUpload, KindUserAction:
		return true
	}
	return false
}

// Priority orders actions within the queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// rank maps priorities to a sortable weight. Higher drains first.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// DefaultMaxRetries is the retry budget applied when Options doesn't set one.
const DefaultMaxRetries = 3

// Action is one queued mutation, exactly as persisted in the store.
//
// Callbacks are not part of the persisted form: they live in the queue's
// in-memory table and do not survive a restart.
type Action struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Endpoint   string            `json:"endpoint"`
	Method     string            `json:"method"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
	Priority   Priority          `json:"priority"`
}

// Validate checks the fields a caller controls. Programmer errors only;
// everything else in the queue degrades, never panics.
func (a *Action) Validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("invalid action kind %q", a.Kind)
	}
	if a.Endpoint == "" {
		return fmt.Errorf("action endpoint cannot be empty")
	}
	switch a.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
	default:
		return fmt.Errorf("invalid action method %q", a.Method)
	}
	if !a.Priority.Valid() {
		return fmt.Errorf("invalid action priority %q", a.Priority)
	}
	if a.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}
	return nil
}

// SuccessFunc receives the response of a delivered action.
type SuccessFunc func(status int, body json.RawMessage)

// ErrorFunc receives the terminal error of an action that exhausted its
// retry budget.
type ErrorFunc func(err error)

// Options customizes an enqueued action. The zero value is usable: medium
// priority, default retry budget, no headers, no callbacks.
type Options struct {
	Headers    map[string]string
	MaxRetries int
	Priority   Priority
	OnSuccess  SuccessFunc
	OnError    ErrorFunc
}
