package models

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a missing booking, invitation or room. Wrapped with
// context by callers; checked via errors.Is.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed input (inverted window, bad code
// format). Terminal; reported verbatim to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// ConflictReason is a stable code explaining why a window is not
// bookable.
type ConflictReason string

const (
	ConflictOverlap       ConflictReason = "overlap"
	ConflictBuffer        ConflictReason = "buffer_collision"
	ConflictBlackout      ConflictReason = "blackout"
	ConflictOutsideHours  ConflictReason = "outside_operating_hours"
	ConflictHorizon       ConflictReason = "beyond_advance_horizon"
	ConflictSameDay       ConflictReason = "same_day_disabled"
	ConflictQuotaDaily    ConflictReason = "daily_quota_exceeded"
	ConflictQuotaWeekly   ConflictReason = "weekly_quota_exceeded"
)

// ConflictError reports an unavailable window. An expected,
// non-exceptional outcome of the atomic reserve-if-free insert.
type ConflictError struct {
	Reason ConflictReason
	Detail string
}

func (e *ConflictError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("conflict: %s", e.Reason)
	}
	return fmt.Sprintf("conflict: %s: %s", e.Reason, e.Detail)
}

// GuardCode identifies which state-machine precondition failed.
type GuardCode string

const (
	GuardAlreadyCheckedIn GuardCode = "already_checked_in"
	GuardWindowNotOpenYet GuardCode = "window_not_open_yet"
	GuardWindowExpired    GuardCode = "window_expired"
	GuardNotConfirmed     GuardCode = "not_confirmed"
	GuardNotPending       GuardCode = "not_pending"
	GuardNotCheckedIn     GuardCode = "not_checked_in"
	GuardWindowNotStarted GuardCode = "window_not_started"
	GuardBookingEnded     GuardCode = "booking_ended"
	GuardWrongBooking     GuardCode = "wrong_booking"
	GuardTokenExpired     GuardCode = "token_expired"
	GuardTokenInvalid     GuardCode = "token_invalid"
	GuardCodeMismatch     GuardCode = "code_mismatch"
)

// GuardError reports a state-machine precondition violation with a
// stable code so callers branch without string matching.
type GuardError struct {
	Code   GuardCode
	Detail string
}

func (e *GuardError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("guard violation: %s", e.Code)
	}
	return fmt.Sprintf("guard violation: %s: %s", e.Code, e.Detail)
}

// TimeoutError marks a store or token-service call that missed its
// deadline. The caller decides retry policy.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("upstream timeout: %s: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsGuard reports whether err is a GuardError with the given code. An
// empty code matches any guard violation.
func IsGuard(err error, code GuardCode) bool {
	var ge *GuardError
	if !errors.As(err, &ge) {
		return false
	}
	return code == "" || ge.Code == code
}
