package manifold

import (
	"errors"
	"fmt"
)

// ErrorCode classifies manifold persistence failures.
type ErrorCode string

const (
	// CodeFileNotFound is absorbed by Store.Load, which returns nil instead.
	CodeFileNotFound ErrorCode = "FILE_NOT_FOUND"
	CodeRead         ErrorCode = "READ_ERROR"
	CodeParse        ErrorCode = "PARSE_ERROR"
	CodeValidation   ErrorCode = "VALIDATION_ERROR"
	CodeWrite        ErrorCode = "WRITE_ERROR"
	CodeMkdir        ErrorCode = "MKDIR_ERROR"
)

// Error is a manifold persistence failure.
type Error struct {
	Code ErrorCode
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("manifold %s: %s", e.Code, e.Path)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of a manifold Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// ErrIssueNotFound is returned by ResolveIssue when no issue matches.
var ErrIssueNotFound = errors.New("issue not found")
