package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes precondition failures.
type ErrorCode string

const (
	ErrCodeAssessmentNotFound             ErrorCode = "ASSESSMENT_NOT_FOUND"
	ErrCodeSchedulesAlreadyExist          ErrorCode = "SCHEDULES_ALREADY_EXIST"
	ErrCodeInvalidState                   ErrorCode = "INVALID_STATE_FOR_OPERATION"
	ErrCodeEnrolmentNotFound              ErrorCode = "ENROLMENT_NOT_FOUND"
	ErrCodeEnrolmentAlreadyCompleted      ErrorCode = "ENROLMENT_ALREADY_COMPLETED"
	ErrCodeFirstCOENotComplete            ErrorCode = "FIRST_COE_NOT_COMPLETE"
	ErrCodeOutsideApprovalPeriod          ErrorCode = "CONFIRMATION_DATE_NOT_WITHIN_APPROVAL_PERIOD"
	ErrCodeInvalidTuitionRemittanceAmount ErrorCode = "INVALID_TUITION_REMITTANCE_AMOUNT"
	ErrCodeInvalidInput                   ErrorCode = "INVALID_INPUT"
)

// Error is a precondition failure. It is returned before any mutation and
// callers may branch on Code.
type Error struct {
	// Code identifies the failed precondition.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is, or wraps, an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsPrecondition reports whether err is a typed precondition failure.
func IsPrecondition(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

func newError(code ErrorCode, details map[string]string, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: details,
	}
}
