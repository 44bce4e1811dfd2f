package governor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// StatusResourceExhausted is the backend status string signalling quota
// exhaustion.
const StatusResourceExhausted = "RESOURCE_EXHAUSTED"

// ErrClosed is returned by Enqueue after Close has been called.
var ErrClosed = errors.New("governor: closed")

// QuotaExceededError reports that the backend refused a call because the
// model's quota is exhausted.
type QuotaExceededError struct {
	Err     error
	Model   string
	Message string
	Code    int
}

func (e *QuotaExceededError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("quota exceeded for model %s", e.Model)
}

func (e *QuotaExceededError) Unwrap() error { return e.Err }

// ServerError is a server-class (5xx) failure. It is retried.
type ServerError struct {
	Err     error
	Message string
	Code    int
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("server error %d", e.Code)
}

func (e *ServerError) Unwrap() error { return e.Err }

// ClientError is a client-class failure. It is never retried.
type ClientError struct {
	Err     error
	Message string
	Code    int
}

func (e *ClientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("client error %d", e.Code)
}

func (e *ClientError) Unwrap() error { return e.Err }

// UnknownError wraps a failure carrying no status information.
type UnknownError struct {
	Err error
}

func (e *UnknownError) Error() string {
	if e.Err == nil {
		return "an unexpected API error occurred"
	}
	return e.Err.Error()
}

func (e *UnknownError) Unwrap() error { return e.Err }

// CallError is returned by Enqueue when a logical call fails. Its message is
// the last observed attempt error.
type CallError struct {
	Err      error
	RecordID string
	Model    string
	Attempts int
}

func (e *CallError) Error() string {
	if e.Err == nil {
		return "an unexpected API error occurred"
	}
	return e.Err.Error()
}

func (e *CallError) Unwrap() error { return e.Err }

// Failure is stored as the response payload of a failed call record.
type Failure struct {
	Kind    string `json:"kind"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// Failure kinds.
const (
	FailureQuota    = "quota_exceeded"
	FailureServer   = "server"
	FailureClient   = "client"
	FailureCanceled = "canceled"
	FailureUnknown  = "unknown"
)

// DescribeFailure summarizes a terminal call error for records and audit
// entries.
func DescribeFailure(err error) Failure {
	if err == nil {
		return Failure{Kind: FailureUnknown}
	}
	f := Failure{Kind: FailureUnknown, Message: err.Error()}

	var (
		qe *QuotaExceededError
		se *ServerError
		ce *ClientError
	)
	switch {
	case errors.As(err, &qe):
		f.Kind, f.Code, f.Status = FailureQuota, qe.Code, StatusResourceExhausted
	case errors.As(err, &se):
		f.Kind, f.Code = FailureServer, se.Code
	case errors.As(err, &ce):
		f.Kind, f.Code = FailureClient, ce.Code
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		f.Kind = FailureCanceled
	}
	return f
}

type statusCoder interface {
	StatusCode() int
}

type statuser interface {
	Status() string
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Classify maps a raw backend error onto the governor's error taxonomy.
// Errors that are already classified pass through unchanged. Otherwise the
// status code and status string are taken from StatusCode() and Status()
// methods anywhere in the chain, or from a JSON error body in the message.
func Classify(err error, model string) error {
	if err == nil {
		return nil
	}
	if isClassified(err) {
		return err
	}

	var (
		code   int
		status string
		msg    = err.Error()
	)

	var sc statusCoder
	if errors.As(err, &sc) {
		code = sc.StatusCode()
	}
	var st statuser
	if errors.As(err, &st) {
		status = st.Status()
	}

	var body errorBody
	if json.Unmarshal([]byte(msg), &body) == nil {
		if status == "" {
			status = body.Error.Status
		}
		if code == 0 {
			code = body.Error.Code
		}
		if body.Error.Message != "" {
			msg = body.Error.Message
		}
	}

	switch {
	case status == StatusResourceExhausted:
		return &QuotaExceededError{Model: model, Code: code, Message: msg, Err: err}
	case code >= 500 && code < 600:
		return &ServerError{Code: code, Message: msg, Err: err}
	case code > 0:
		return &ClientError{Code: code, Message: msg, Err: err}
	case errors.Is(err, context.Canceled):
		return &ClientError{Code: 499, Message: msg, Err: err}
	default:
		return &UnknownError{Err: err}
	}
}

// IsRetryable reports whether err is server-class.
func IsRetryable(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

// IsQuotaExceeded reports whether err signals quota exhaustion.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

func isClassified(err error) bool {
	var (
		qe *QuotaExceededError
		se *ServerError
		ce *ClientError
		ue *UnknownError
	)
	return errors.As(err, &qe) || errors.As(err, &se) || errors.As(err, &ce) || errors.As(err, &ue)
}
