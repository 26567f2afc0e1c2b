package model

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failure reported by the chat platform.
type ErrorCode string

const (
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeCannotMessage    ErrorCode = "CANNOT_MESSAGE_USER"
	CodeUnknown          ErrorCode = "UNKNOWN"
)

// ErrMemberNotFound is returned by a MemberDirectory when the user is not in the guild.
var ErrMemberNotFound = errors.New("member not found")

// PlatformError wraps a collaborator failure with its classified code.
type PlatformError struct {
	Op   string
	Code ErrorCode
	Err  error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Code, e.Err)
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

// CodeOf extracts the platform error code from err, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, ErrMemberNotFound) {
		return CodeNotFound
	}
	return CodeUnknown
}

// IsPermissionDenied reports whether err is an expected permission failure.
func IsPermissionDenied(err error) bool {
	return err != nil && CodeOf(err) == CodePermissionDenied
}
