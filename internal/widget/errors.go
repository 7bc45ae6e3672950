package widget

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrorRateLimited     ErrorCode = "RATE_LIMITED"
	ErrorSessionPending  ErrorCode = "SESSION_PENDING"
	ErrorConnectionLost  ErrorCode = "CONNECTION_LOST"
	ErrorStartFailed     ErrorCode = "START_FAILED"
	ErrorSendFailed      ErrorCode = "SEND_FAILED"
	ErrorSessionClosed   ErrorCode = "SESSION_CLOSED"
	ErrorNoSession       ErrorCode = "NO_SESSION"
	ErrorSharingDisabled ErrorCode = "SHARING_DISABLED"
	ErrorAlreadyStarted  ErrorCode = "ALREADY_STARTED"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("widget: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("widget: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
