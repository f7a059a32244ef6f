package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrorTurnInFlight   ErrorCode = "TURN_IN_FLIGHT"
	ErrorUnknownPersona ErrorCode = "UNKNOWN_PERSONA"
	ErrorInternal       ErrorCode = "INTERNAL_ERROR"
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
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
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

// RejectionError reports a rejected turn as an *Error for transports that
// need a status code. It returns nil for turns that were not rejected.
func (r TurnResult) RejectionError() *Error {
	if r.Status != TurnRejected {
		return nil
	}
	if r.Reason == ReasonTurnInFlight {
		return newError(ErrorTurnInFlight, r.Reason, nil)
	}
	return newError(ErrorInvalidInput, r.Reason, nil)
}
