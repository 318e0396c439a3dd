package model

import (
	"fmt"
	"time"
)

// ResponseStatus is "ok" unless the envelope carries an error.
type ResponseStatus string

const (
	StatusOK    ResponseStatus = "ok"
	StatusError ResponseStatus = "error"
)

// Response is the envelope of every history API reply. Build it with
// NewResponse or NewErrorResponse so Status always agrees with Error.
type Response struct {
	Status     ResponseStatus `json:"status"`
	RequestID  string         `json:"request_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       any            `json:"data"`
	Pagination *Pagination    `json:"pagination,omitempty"`
	Error      *APIError      `json:"error"`
}

// NewResponse wraps data, and an optional page, in a success envelope.
func NewResponse(reqID string, data any, pg *Pagination) Response {
	return Response{
		Status:     StatusOK,
		RequestID:  reqID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
		Pagination: pg,
	}
}

// NewErrorResponse wraps apiErr in an error envelope with no data.
func NewErrorResponse(reqID string, apiErr *APIError) Response {
	return Response{
		Status:    StatusError,
		RequestID: reqID,
		Timestamp: time.Now().UTC(),
		Error:     apiErr,
	}
}

// Pagination describes one page of a run listing.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// Run history page bounds.
const (
	DefaultRunLimit = 20
	MaxRunLimit     = 100
)

// ListOptions selects a page of the run history, newest first.
type ListOptions struct {
	Limit  int
	Offset int
	State  RunState // empty matches every state
}

// DefaultListOptions returns the first page with the default size.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: DefaultRunLimit}
}

// Clamp pulls Limit into 1..MaxRunLimit (0 means the default) and a
// negative Offset up to 0.
func (o *ListOptions) Clamp() {
	switch {
	case o.Limit <= 0:
		o.Limit = DefaultRunLimit
	case o.Limit > MaxRunLimit:
		o.Limit = MaxRunLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// Validate rejects a state filter that no run can be in.
func (o ListOptions) Validate() error {
	if o.State != "" && !o.State.Known() {
		return fmt.Errorf("unknown run state %q", o.State)
	}
	return nil
}

// Page returns the pagination block for a listing with total matches.
func (o ListOptions) Page(total int) *Pagination {
	return &Pagination{
		Total:   total,
		Limit:   o.Limit,
		Offset:  o.Offset,
		HasMore: o.Offset+o.Limit < total,
	}
}
