package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
)

// ActionError reports a failed browser action with a structured code.
type ActionError struct {
	Kind schemas.ActionKind
	Code schemas.ErrorCode
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Kind, e.Code, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// CodeOf returns the executor code carried by err, or ErrCodeExecutionFailure.
func CodeOf(err error) schemas.ErrorCode {
	var aErr *ActionError
	if errors.As(err, &aErr) {
		return aErr.Code
	}
	return schemas.ErrCodeExecutionFailure
}

func actionErr(kind schemas.ActionKind, code schemas.ErrorCode, format string, args ...any) *ActionError {
	return &ActionError{Kind: kind, Code: code, Err: fmt.Errorf(format, args...)}
}

// wrapActionError classifies an engine error. Errors that already carry a
// code keep it.
func wrapActionError(kind schemas.ActionKind, err error) error {
	if err == nil {
		return nil
	}
	var aErr *ActionError
	if errors.As(err, &aErr) {
		return err
	}
	return &ActionError{Kind: kind, Code: classify(err), Err: err}
}

// Engine error texts that identify catastrophic failures. chromedp and
// playwright report these as plain errors.
var (
	crashMarkers  = []string{"target crashed", "page crashed"}
	closedMarkers = []string{"target closed", "browser has been closed", "has been closed", "websocket: close", "session closed", "invalid context"}
)

func classify(err error) schemas.ErrorCode {
	switch {
	case errors.Is(err, ErrClosed):
		return schemas.ErrCodeBrowserClosed
	case errors.Is(err, context.DeadlineExceeded):
		return schemas.ErrCodeTimeoutError
	}
	msg := strings.ToLower(err.Error())
	for _, m := range crashMarkers {
		if strings.Contains(msg, m) {
			return schemas.ErrCodeTargetCrashed
		}
	}
	for _, m := range closedMarkers {
		if strings.Contains(msg, m) {
			return schemas.ErrCodeBrowserClosed
		}
	}
	if strings.Contains(msg, "timeout") {
		return schemas.ErrCodeTimeoutError
	}
	return schemas.ErrCodeExecutionFailure
}
