package model

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the history API.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus maps the error code onto a response status. Unknown codes
// are server errors.
func (e *APIError) HTTPStatus() int {
	switch e.Code {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// ErrNoResult is wrapped by ResultUnavailable.
var ErrNoResult = errors.New("no result available")

// ResolutionReason says why a component could not be bound.
type ResolutionReason string

const (
	ReasonMissing   ResolutionReason = "missing"
	ReasonAmbiguous ResolutionReason = "ambiguous"
)

// ResolutionError is returned when a canonical component has no matching
// file or more than one that could not be narrowed down. It is raised
// before anything on disk is touched.
type ResolutionError struct {
	Component  string
	Reason     ResolutionReason
	Candidates []string
	Err        error
}

func (e *ResolutionError) Error() string {
	switch e.Reason {
	case ReasonAmbiguous:
		msg := fmt.Sprintf("component %s: %d candidates (%s)", e.Component, len(e.Candidates), strings.Join(e.Candidates, ", "))
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	default:
		return fmt.Sprintf("component %s: no matching file", e.Component)
	}
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// AssemblyError is an I/O failure while building the case directory.
// The destination is left in whatever state the failing step reached.
type AssemblyError struct {
	Step string // "replace", "copy_template", "place"
	Path string
	Err  error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assemble %s %s: %v", e.Step, e.Path, e.Err)
}

func (e *AssemblyError) Unwrap() error {
	return e.Err
}

// PatchNotFound records a dictionary patch whose target could not be located.
// It never stops assembly.
type PatchNotFound struct {
	File   string
	Target string
	Err    error
}

func (e *PatchNotFound) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("patch %s in %s: %v", e.Target, e.File, e.Err)
	}
	return fmt.Sprintf("patch %s in %s: target not found", e.Target, e.File)
}

func (e *PatchNotFound) Unwrap() error {
	return e.Err
}

// StageFailure is returned when an external tool exits non-zero or cannot
// be started. Later stages are not run.
type StageFailure struct {
	Stage      string
	Invocation string
	ExitCode   int
	Err        error
}

func (e *StageFailure) Error() string {
	name := e.Stage
	if e.Invocation != "" && e.Invocation != e.Stage {
		name = e.Stage + " (" + e.Invocation + ")"
	}
	if e.Err != nil {
		return fmt.Sprintf("stage %s: %v", name, e.Err)
	}
	return fmt.Sprintf("stage %s: exit code %d", name, e.ExitCode)
}

func (e *StageFailure) Unwrap() error {
	return e.Err
}

// ResultUnavailable means the coefficient table was missing, empty or
// malformed. The run still counts as successful, just without a result.
type ResultUnavailable struct {
	Path   string
	Reason string
}

func (e *ResultUnavailable) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrNoResult, e.Path, e.Reason)
}

func (e *ResultUnavailable) Unwrap() error {
	return ErrNoResult
}
