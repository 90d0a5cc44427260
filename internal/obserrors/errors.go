// Package obserrors provides the pipeline's error taxonomy and recovery
// directives (spec §4.1, §7). It follows the coded-error shape of a typical
// service-layer ServiceError, re-keyed to the eight error kinds the
// pipeline's stages raise instead of an HTTP-status taxonomy.
package obserrors

import (
	"errors"
	"fmt"
)

// Kind is one of the eight error kinds the pipeline's stages can raise.
type Kind string

const (
	KindNetwork     Kind = "NETWORK"
	KindTimeout     Kind = "TIMEOUT"
	KindRateLimit   Kind = "RATE_LIMIT"
	KindAuth        Kind = "AUTH"
	KindValidation  Kind = "VALIDATION"
	KindCircuitOpen Kind = "CIRCUIT_OPEN"
	KindMemory      Kind = "MEMORY"
	KindInternal    Kind = "INTERNAL"
)

// Directive is the recovery action the orchestrator should take for a Kind.
type Directive string

const (
	DirectiveRetry    Directive = "RETRY"
	DirectiveFallback Directive = "FALLBACK"
	DirectiveSkip     Directive = "SKIP"
	DirectiveFail     Directive = "FAIL"
)

// directives maps each Kind to its default recovery directive per spec §7.
var directives = map[Kind]Directive{
	KindNetwork:     DirectiveRetry,
	KindTimeout:     DirectiveRetry,
	KindRateLimit:   DirectiveRetry,
	KindAuth:        DirectiveFail,
	KindValidation:  DirectiveSkip,
	KindCircuitOpen: DirectiveFail,
	KindMemory:      DirectiveRetry,
	KindInternal:    DirectiveRetry,
}

// DirectiveFor returns the recovery directive associated with a Kind.
func DirectiveFor(k Kind) Directive {
	if d, ok := directives[k]; ok {
		return d
	}
	return DirectiveFail
}

// Retryable reports whether a Kind's default directive permits a retry.
func (k Kind) Retryable() bool {
	return DirectiveFor(k) == DirectiveRetry
}

// PipelineError is a classified error carrying its Kind and an optional
// wrapped cause, plus the stage that raised it.
type PipelineError struct {
	Kind    Kind
	Stage   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Kind, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Directive returns the recovery directive for this error's Kind.
func (e *PipelineError) Directive() Directive {
	return DirectiveFor(e.Kind)
}

// New creates a PipelineError with no wrapped cause.
func New(kind Kind, stage, message string) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Message: message}
}

// Wrap creates a PipelineError wrapping an existing error.
func Wrap(kind Kind, stage, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Message: message, Err: err}
}

// As extracts a *PipelineError from err, if present.
func As(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ClassifyHTTPStatus maps an HTTP status code from the collector or
// streamer into an error Kind, per spec §4.7/§7.
func ClassifyHTTPStatus(status int) Kind {
	switch {
	case status == 429:
		return KindRateLimit
	case status == 401 || status == 403:
		return KindAuth
	case status >= 500:
		return KindNetwork
	case status >= 400:
		return KindValidation
	default:
		return KindInternal
	}
}
