package harness

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies why an analysis did not succeed.
type ErrorKind int

const (
	// KindValidation is a user-correctable input problem. Never retried.
	KindValidation ErrorKind = iota + 1
	// KindTransport covers connection failures, timeouts and non-2xx answers
	// once the retries are used up.
	KindTransport
	// KindProtocol is a successful answer without the expected text. Never retried.
	KindProtocol
	// KindInterrupted means the caller went away while waiting on the remote call.
	KindInterrupted
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Code is the result code reported for the kind.
func (k ErrorKind) Code() int {
	if k == KindValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Caller-facing messages.
const (
	MsgSuccess           = "analysis succeeded"
	MsgEmptyInput        = "empty input"
	MsgInvalidFormat     = "invalid format"
	MsgInputTooLarge     = "input too large"
	MsgRemoteCallFailed  = "remote call failed"
	MsgRetryInterrupted  = "retry interrupted"
	MsgMalformedResponse = "malformed remote response"
)

// AnalysisError is the tagged failure outcome of Analyze.
type AnalysisError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Code is the result code for the failure.
func (e *AnalysisError) Code() int { return e.Kind.Code() }

func validationError(msg string) *AnalysisError {
	return &AnalysisError{Kind: KindValidation, Message: msg}
}

// Result is what Analyze returns to the request layer.
type Result struct {
	Code           int    `json:"code"`
	Message        string `json:"msg"`
	AnalysisResult string `json:"analysisResult,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`
	TraceID        string `json:"traceId,omitempty"`
}

// OK reports whether the analysis succeeded.
func (r Result) OK() bool { return r.Code == http.StatusOK }

// Success builds a successful result.
func Success(text string) Result {
	return Result{Code: http.StatusOK, Message: MsgSuccess, AnalysisResult: text}
}

// Failure converts err into a failed result. Errors other than
// *AnalysisError are reported as transport failures.
func Failure(err error) Result {
	var ae *AnalysisError
	if !errors.As(err, &ae) {
		ae = &AnalysisError{Kind: KindTransport, Message: MsgRemoteCallFailed, Err: err}
	}
	return Result{Code: ae.Code(), Message: ae.Message}
}
