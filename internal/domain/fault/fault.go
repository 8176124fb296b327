// Package fault defines the error taxonomy shared by all aggregates.
//
// ValidationError: malformed input, rejected before any state is touched.
// RuleViolation: a domain guard failed (wrong status, insufficient stock,
// negative adjustment); retrying the same request cannot succeed.
// NotFoundError: a referenced order/item/reservation does not exist.
package fault

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ValidationError reports malformed input. The operation rejects it before
// mutating anything.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Invalid returns a ValidationError with a formatted message.
func Invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// RuleViolation reports a failed domain guard. Guard messages name the
// required prior state so callers can tell a stale retry from a real bug.
type RuleViolation struct {
	Msg string
}

func (e *RuleViolation) Error() string { return e.Msg }

// Rule returns a RuleViolation with a formatted message.
func Rule(format string, args ...any) error {
	return &RuleViolation{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// NotFound returns a NotFoundError for the given entity kind and id.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsRuleViolation reports whether err is (or wraps) a RuleViolation.
func IsRuleViolation(err error) bool {
	var v *RuleViolation
	return errors.As(err, &v)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var v *NotFoundError
	return errors.As(err, &v)
}
