package gateway

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument marks a malformed call shape detected locally.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrPartialFailure marks a multi-call operation where some calls succeeded and others failed.
	ErrPartialFailure = errors.New("partial failure")
	// ErrGatewayFailure marks a failed or rejected gateway call.
	ErrGatewayFailure = errors.New("gateway failure")
)

// GatewayError is a gateway call that failed in transport (Err set) or was
// rejected with a non-zero ret_code.
type GatewayError struct {
	Op      string
	Code    int
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: ret_code=%d err_msg=%q", e.Op, e.Code, e.Message)
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrGatewayFailure
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Check folds the two failure channels of a gateway call into one error.
func Check(op string, resp *Response, err error) error {
	if err != nil {
		return &GatewayError{Op: op, Code: CodeInternal, Err: err}
	}
	return resp.Err(op)
}

// ChunkFailure records one failed constituent call of a BatchError.
type ChunkFailure struct {
	Index int
	Size  int
	Err   error
}

// BatchError reports the failed constituents of one logical operation.
// Constituents that are not listed succeeded.
type BatchError struct {
	Op       string
	Total    int
	Failures []ChunkFailure
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("chunk %d (%d items): %v", f.Index, f.Size, f.Err))
	}
	return fmt.Sprintf("%s: %d of %d calls failed: %s", e.Op, len(e.Failures), e.Total, strings.Join(parts, "; "))
}

// Partial reports whether at least one constituent call succeeded.
func (e *BatchError) Partial() bool {
	return len(e.Failures) > 0 && len(e.Failures) < e.Total
}

func (e *BatchError) Is(target error) bool {
	return target == ErrPartialFailure && e.Partial()
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
